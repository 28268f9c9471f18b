package plan

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plan is a catalog entry a company can subscribe to. Rows are long-lived and
// only change through the admin API.
type Plan struct {
	ID             string          `json:"id" gorm:"primaryKey"`
	Name           string          `json:"name" gorm:"index"`
	BasePrice      decimal.Decimal `json:"basePrice" gorm:"type:numeric"`      // Net monthly price, before tax
	SeatCap        int             `json:"seatCap"`                            // Advisor seats included in BasePrice
	ExtraSeatPrice decimal.Decimal `json:"extraSeatPrice" gorm:"type:numeric"` // Net price per advisor above SeatCap
	CycleDays      int             `json:"cycleDays"`                          // Billing cycle length
	Trial          bool            `json:"trial"`
	Currency       string          `json:"currency"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

const (
	// CustomPlanName is priced dynamically from the Premium base price plus
	// per-seat extras, never from its stored BasePrice.
	CustomPlanName  = "Personalizado"
	PremiumPlanName = "Premium"

	// IncludedSeats is the seat count already covered by the Premium base
	// price when pricing the custom plan.
	IncludedSeats = 20

	// CustomCapFloor is the minimum effective capacity for the custom plan
	// when neither an override nor a stored cap is available.
	CustomCapFloor = 21
)
