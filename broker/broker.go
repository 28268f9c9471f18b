package broker

import "time"

// BillingEvent is the message fanned out to downstream consumers
// (notifications, audit) whenever the billing state of a company changes.
type BillingEvent struct {
	Kind       string    `json:"kind"`
	CompanyID  string    `json:"companyId,omitempty"`
	PlanID     string    `json:"planId,omitempty"`
	MovementID string    `json:"movementId,omitempty"`
	Status     string    `json:"status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Event kinds published by this service
const (
	EventPlanChanged        = "plan_changed"
	EventSubscriptionStatus = "subscription_status"
	EventPeriodSimulated    = "period_simulated"
)

// Broker defines the interface for publishing billing events via message broker
type Broker interface {
	Close()
	PublishBillingEvent(e *BillingEvent) error
}
