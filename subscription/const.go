package subscription

// Status is the provider-facing lifecycle state of a subscription
type Status string

// Status values kept as the legacy wire strings the provider integrations expect
const (
	StatusPending   Status = "pending"
	StatusActive    Status = "activa"
	StatusSuspended Status = "suspendida"
	StatusCanceled  Status = "cancelada"
)

// Action is the outcome of a plan-change request
type Action string

const (
	ActionUpgrade   Action = "upgrade"
	ActionDowngrade Action = "downgrade"
	ActionNoChange  Action = "no_change"
)
