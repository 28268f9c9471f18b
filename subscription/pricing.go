package subscription

import (
	"context"

	"github.com/valoratec/backoffice/plan"

	"github.com/shopspring/decimal"
)

// NetPriceForPlan is the pure pricing rule. The custom plan is priced off the
// Premium base price plus per-seat extras over the included seats; every other
// plan charges its stored base price unless the company's active assignment to
// that plan carries a manual override.
func NetPriceForPlan(p *plan.Plan, premiumBase decimal.Decimal, assignment *PlanAssignment) decimal.Decimal {
	if p.Name == plan.CustomPlanName {
		effectiveCap := plan.CustomCapFloor
		if assignment != nil && assignment.SeatCapOverride != nil {
			effectiveCap = *assignment.SeatCapOverride
		} else if p.SeatCap > 0 {
			effectiveCap = p.SeatCap
		}
		extraSeats := effectiveCap - plan.IncludedSeats
		if extraSeats < 0 {
			extraSeats = 0
		}
		return premiumBase.Add(p.ExtraSeatPrice.Mul(decimal.NewFromInt(int64(extraSeats))))
	}

	if assignment != nil && assignment.Active && assignment.PlanID == p.ID && assignment.NetPriceOverride != nil {
		return *assignment.NetPriceOverride
	}
	return p.BasePrice
}

// ResolveNetPrice returns the net price a company would pay for a plan.
// Returns plan.ErrNotFound when the plan does not exist. No side effects.
func (m *Manager) ResolveNetPrice(ctx context.Context, planID, companyID string) (decimal.Decimal, error) {
	p, err := m.planManager.GetByID(ctx, planID)
	if err != nil {
		return decimal.Zero, err
	}

	assignment, err := m.GetActiveAssignment(ctx, companyID)
	if err != nil {
		return decimal.Zero, err
	}
	// only the assignment to this exact plan influences its price
	if assignment != nil && assignment.PlanID != p.ID {
		assignment = nil
	}

	premiumBase := decimal.Zero
	if p.Name == plan.CustomPlanName {
		premium, err := m.planManager.GetByName(ctx, plan.PremiumPlanName)
		if err != nil {
			return decimal.Zero, err
		}
		premiumBase = premium.BasePrice
	}

	return NetPriceForPlan(p, premiumBase, assignment), nil
}
