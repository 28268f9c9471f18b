package subscription

import (
	"time"

	"github.com/shopspring/decimal"
)

// Subscription is the provider-facing lifecycle record for a company. Status
// transitions are driven by the webhook processor; downgrade scheduling is
// driven by the plan-change orchestrator. Nothing else mutates it.
type Subscription struct {
	ID                     string     `json:"id" gorm:"primaryKey"`
	CompanyID              string     `json:"companyId" gorm:"index"`
	PlanID                 string     `json:"planId" gorm:"index"`
	Status                 Status     `json:"status" gorm:"index"`
	Start                  time.Time  `json:"start"`
	End                    *time.Time `json:"end"`
	ExternalCustomerID     string     `json:"externalCustomerId" gorm:"index"`
	ExternalSubscriptionID string     `json:"externalSubscriptionId" gorm:"index"`
	ScheduledPlanID        *string    `json:"scheduledPlanId"` // Downgrade target, applied by the cycle-rollover job
	ScheduledFor           *time.Time `json:"scheduledFor"`    // End of the current cycle
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

// PlanAssignment binds a company to a plan for one interval. At most one row
// per company is active at a time; superseded rows are deactivated, never
// deleted, so the chain of intervals stays auditable.
type PlanAssignment struct {
	ID               string           `json:"id" gorm:"primaryKey"`
	CompanyID        string           `json:"companyId" gorm:"index:idx_assignment_company"`
	PlanID           string           `json:"planId" gorm:"index"`
	CycleStart       time.Time        `json:"cycleStart"`
	CycleEnd         *time.Time       `json:"cycleEnd"`
	Active           bool             `json:"active" gorm:"index:idx_assignment_company"`
	SeatCapOverride  *int             `json:"seatCapOverride"`                      // Replaces the plan's seat cap for this company
	NetPriceOverride *decimal.Decimal `json:"netPriceOverride" gorm:"type:numeric"` // Manually negotiated net price
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}
