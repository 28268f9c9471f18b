package billing

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ProrationParams are the inputs for a mid-cycle price-change computation.
// Now is passed explicitly so callers and tests control the reference instant.
type ProrationParams struct {
	Now        time.Time
	CycleStart time.Time
	CycleEnd   time.Time
	OldPrice   decimal.Decimal
	NewPrice   decimal.Decimal
	TaxRate    decimal.Decimal
}

// ProrationResult carries the prorated delta for the remainder of the cycle.
// All monetary fields are rounded to 2 decimal places, half up.
type ProrationResult struct {
	DaysInCycle   int             `json:"daysInCycle"`
	DaysRemaining int             `json:"daysRemaining"`
	Factor        decimal.Decimal `json:"factor"`
	DeltaNet      decimal.Decimal `json:"deltaNet"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
}

func ceilDays(d time.Duration) int {
	days := int(math.Ceil(d.Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

// Prorate computes the charge for moving from OldPrice to NewPrice for the days
// left in the cycle. Pure, no side effects. Negative deltas clamp to zero: the
// orchestrator never routes downgrades here, and a direct caller must not be
// able to produce a negative charge either.
func Prorate(p ProrationParams) ProrationResult {
	daysInCycle := ceilDays(p.CycleEnd.Sub(p.CycleStart))
	daysRemaining := ceilDays(p.CycleEnd.Sub(p.Now))
	if daysRemaining > daysInCycle {
		// reference instant before the cycle started, cap at a full cycle
		daysRemaining = daysInCycle
	}

	factor := decimal.Zero
	if daysInCycle > 0 {
		factor = decimal.NewFromInt(int64(daysRemaining)).
			Div(decimal.NewFromInt(int64(daysInCycle)))
	}

	deltaBase := p.NewPrice.Sub(p.OldPrice)
	if deltaBase.IsNegative() {
		deltaBase = decimal.Zero
	}

	deltaNet := deltaBase.Mul(factor).Round(2)
	tax := deltaNet.Mul(p.TaxRate).Round(2)
	total := deltaNet.Add(tax).Round(2)

	return ProrationResult{
		DaysInCycle:   daysInCycle,
		DaysRemaining: daysRemaining,
		Factor:        factor,
		DeltaNet:      deltaNet,
		Tax:           tax,
		Total:         total,
	}
}
