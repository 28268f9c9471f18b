package subscription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/valoratec/backoffice/billing"
	"github.com/valoratec/backoffice/broker"
	"github.com/valoratec/backoffice/external"
	"github.com/valoratec/backoffice/plan"

	extErrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNoSubscription is returned when a company has no subscription record to
// schedule a downgrade against
var ErrNoSubscription = errors.New("company has no subscription record")

// SubscriptionStore is the slice of the subscription manager the orchestrator
// drives. Implemented by Manager.
type SubscriptionStore interface {
	GetActiveAssignment(ctx context.Context, companyID string) (*PlanAssignment, error)
	ResolveNetPrice(ctx context.Context, planID, companyID string) (decimal.Decimal, error)
	GetByCompany(ctx context.Context, companyID string) (*Subscription, error)
	ScheduleDowngrade(ctx context.Context, subscriptionID, planID string, effective time.Time) error
	ActivateAssignment(ctx context.Context, opt ActivateOptions) (*PlanAssignment, error)
	MarkActive(ctx context.Context, id string, opt MarkActiveOptions) error
}

// PlanSource resolves catalog entries by id. Implemented by plan.Manager.
type PlanSource interface {
	GetByID(ctx context.Context, id string) (*plan.Plan, error)
}

// MovementStore is the slice of the ledger the orchestrator writes through.
// Implemented by billing.Manager.
type MovementStore interface {
	Create(ctx context.Context, mov *billing.Movement) error
	FindPendingUpgradeAdjustment(ctx context.Context, companyID string, cycleStart, cycleEnd time.Time) (*billing.Movement, error)
	SetState(ctx context.Context, id string, state billing.State) error
	SetExternalReference(ctx context.Context, id, gateway, reference string) error
}

// OrchestratorOptions wires the plan-change orchestrator. Mode is injected
// here once, nothing reads it from the environment at call time.
type OrchestratorOptions struct {
	Mode                billing.Mode
	SubscriptionManager SubscriptionStore
	PlanManager         PlanSource
	MovementManager     MovementStore
	Checkout            external.CheckoutClient
	Broker              broker.Broker
	Logger              *zap.Logger
	TaxRate             decimal.Decimal
	CheckoutSuccessURL  string
	CheckoutCancelURL   string
}

// Orchestrator decides and executes plan changes: upgrades charge a prorated
// delta now, downgrades are scheduled for the cycle end, equal prices no-op.
type Orchestrator struct {
	OrchestratorOptions
}

// NewOrchestrator validates the wiring and returns an Orchestrator
func NewOrchestrator(option OrchestratorOptions) (*Orchestrator, error) {
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.PlanManager == nil {
		return nil, fmt.Errorf("nil PlanManager is invalid")
	}
	if option.MovementManager == nil {
		return nil, fmt.Errorf("nil MovementManager is invalid")
	}
	if option.Mode == billing.ModeLive && option.Checkout == nil {
		return nil, fmt.Errorf("nil Checkout is invalid in live mode")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Orchestrator{
		OrchestratorOptions: option,
	}, nil
}

// ChangePlanOptions names the target of a plan change
type ChangePlanOptions struct {
	CompanyID       string
	NewPlanID       string
	SeatCapOverride *int
}

// ChangePlanResult is returned to the caller; the checkout URL is only set in
// live mode for upgrades
type ChangePlanResult struct {
	Action       Action                   `json:"action"`
	MovementID   string                   `json:"movementId,omitempty"`
	CheckoutURL  string                   `json:"checkoutUrl,omitempty"`
	Proration    *billing.ProrationResult `json:"proration,omitempty"`
	ScheduledFor *time.Time               `json:"scheduledFor,omitempty"`
}

// ChangePlan compares the net prices of the current and target plans and
// follows the upgrade, downgrade or no-op path
func (o *Orchestrator) ChangePlan(ctx context.Context, opt ChangePlanOptions) (*ChangePlanResult, error) {
	current, err := o.SubscriptionManager.GetActiveAssignment(ctx, opt.CompanyID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNoActiveAssignment
	}
	if current.PlanID == opt.NewPlanID {
		return &ChangePlanResult{Action: ActionNoChange}, nil
	}

	currentPrice, err := o.SubscriptionManager.ResolveNetPrice(ctx, current.PlanID, opt.CompanyID)
	if err != nil {
		return nil, err
	}
	newPrice, err := o.SubscriptionManager.ResolveNetPrice(ctx, opt.NewPlanID, opt.CompanyID)
	if err != nil {
		return nil, err
	}

	switch {
	case newPrice.Equal(currentPrice):
		return &ChangePlanResult{Action: ActionNoChange}, nil
	case newPrice.LessThan(currentPrice):
		return o.scheduleDowngrade(ctx, opt, current)
	default:
		return o.executeUpgrade(ctx, opt, current, currentPrice, newPrice)
	}
}

func (o *Orchestrator) scheduleDowngrade(ctx context.Context, opt ChangePlanOptions, current *PlanAssignment) (*ChangePlanResult, error) {
	sub, err := o.SubscriptionManager.GetByCompany(ctx, opt.CompanyID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrNoSubscription
	}

	effective := time.Now()
	if current.CycleEnd != nil {
		effective = *current.CycleEnd
	}
	if err := o.SubscriptionManager.ScheduleDowngrade(ctx, sub.ID, opt.NewPlanID, effective); err != nil {
		return nil, err
	}

	o.publish(&broker.BillingEvent{
		Kind:       broker.EventPlanChanged,
		CompanyID:  opt.CompanyID,
		PlanID:     opt.NewPlanID,
		Status:     string(ActionDowngrade),
		OccurredAt: time.Now(),
	})

	return &ChangePlanResult{
		Action:       ActionDowngrade,
		ScheduledFor: &effective,
	}, nil
}

func (o *Orchestrator) executeUpgrade(ctx context.Context, opt ChangePlanOptions, current *PlanAssignment, currentPrice, newPrice decimal.Decimal) (*ChangePlanResult, error) {
	newPlan, err := o.PlanManager.GetByID(ctx, opt.NewPlanID)
	if err != nil {
		return nil, err
	}

	cycleStart := current.CycleStart
	cycleEnd := cycleStart.AddDate(0, 0, newPlan.CycleDays)
	if current.CycleEnd != nil {
		cycleEnd = *current.CycleEnd
	}

	// a pending proration from a previous call in this cycle is reused, so a
	// double-click cannot charge twice
	movement, err := o.MovementManager.FindPendingUpgradeAdjustment(ctx, opt.CompanyID, cycleStart, cycleEnd)
	if err != nil {
		return nil, err
	}

	var proration billing.ProrationResult
	if movement == nil {
		proration = billing.Prorate(billing.ProrationParams{
			Now:        time.Now(),
			CycleStart: cycleStart,
			CycleEnd:   cycleEnd,
			OldPrice:   currentPrice,
			NewPrice:   newPrice,
			TaxRate:    o.TaxRate,
		})

		meta := billing.Metadata{
			billing.MetaSubtype:    billing.SubtypeUpgradeProration,
			billing.MetaTargetPlan: opt.NewPlanID,
			billing.MetaFactor:     proration.Factor.StringFixed(4),
			billing.MetaDaysCycle:  strconv.Itoa(proration.DaysInCycle),
			billing.MetaDaysLeft:   strconv.Itoa(proration.DaysRemaining),
		}
		if opt.SeatCapOverride != nil {
			meta[billing.MetaSeatCap] = strconv.Itoa(*opt.SeatCapOverride)
		}
		movement = &billing.Movement{
			CompanyID:   opt.CompanyID,
			Date:        time.Now(),
			Type:        billing.TypeAdjustment,
			State:       billing.StatePending,
			NetAmount:   proration.DeltaNet,
			TaxAmount:   proration.Tax,
			TotalAmount: proration.Total,
			Currency:    newPlan.Currency,
			Metadata:    meta,
		}
		if err := o.MovementManager.Create(ctx, movement); err != nil {
			return nil, err
		}
	} else {
		o.Logger.Info("Reusing pending upgrade adjustment",
			zap.String("CompanyID", opt.CompanyID),
			zap.String("MovementID", movement.ID),
		)
		proration = prorationFromMovement(movement)
	}

	result := &ChangePlanResult{
		Action:     ActionUpgrade,
		MovementID: movement.ID,
		Proration:  &proration,
	}

	if o.Mode == billing.ModeSimulated {
		if err := o.MovementManager.SetState(ctx, movement.ID, billing.StatePaid); err != nil {
			return nil, err
		}
		if _, err := o.SubscriptionManager.ActivateAssignment(ctx, ActivateOptions{
			CompanyID:       opt.CompanyID,
			PlanID:          opt.NewPlanID,
			CycleDays:       newPlan.CycleDays,
			SeatCapOverride: opt.SeatCapOverride,
		}); err != nil {
			return nil, err
		}
		sub, err := o.SubscriptionManager.GetByCompany(ctx, opt.CompanyID)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			if err := o.SubscriptionManager.MarkActive(ctx, sub.ID, MarkActiveOptions{
				PlanID: opt.NewPlanID,
			}); err != nil {
				return nil, err
			}
		}
	} else {
		session, err := o.Checkout.CreateSession(ctx, external.SessionOptions{
			Amount:      proration.Total,
			Currency:    newPlan.Currency,
			Reference:   movement.ID,
			Description: fmt.Sprintf("Cambio de plan a %s", newPlan.Name),
			SuccessURL:  o.CheckoutSuccessURL,
			CancelURL:   o.CheckoutCancelURL,
		})
		if err != nil {
			// the pending movement stays behind so a retry can resume the charge
			return nil, extErrors.Wrap(err, "Cannot create checkout session")
		}
		if err := o.MovementManager.SetExternalReference(ctx, movement.ID, "stripe", session.ID); err != nil {
			return nil, err
		}
		result.CheckoutURL = session.URL
	}

	o.publish(&broker.BillingEvent{
		Kind:       broker.EventPlanChanged,
		CompanyID:  opt.CompanyID,
		PlanID:     opt.NewPlanID,
		MovementID: movement.ID,
		Status:     string(ActionUpgrade),
		OccurredAt: time.Now(),
	})

	return result, nil
}

// prorationFromMovement rebuilds the response amounts from a reused movement
func prorationFromMovement(m *billing.Movement) billing.ProrationResult {
	pr := billing.ProrationResult{
		DeltaNet: m.NetAmount,
		Tax:      m.TaxAmount,
		Total:    m.TotalAmount,
	}
	if f, err := decimal.NewFromString(m.Metadata[billing.MetaFactor]); err == nil {
		pr.Factor = f
	}
	if d, err := strconv.Atoi(m.Metadata[billing.MetaDaysCycle]); err == nil {
		pr.DaysInCycle = d
	}
	if d, err := strconv.Atoi(m.Metadata[billing.MetaDaysLeft]); err == nil {
		pr.DaysRemaining = d
	}
	return pr
}

func (o *Orchestrator) publish(e *broker.BillingEvent) {
	if o.Broker == nil {
		return
	}
	if err := o.Broker.PublishBillingEvent(e); err != nil {
		o.Logger.Warn("Unable to publish billing event",
			zap.String("Kind", e.Kind),
			zap.Error(err),
		)
	}
}
