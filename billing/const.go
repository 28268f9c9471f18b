package billing

// Mode selects how charges are settled. Simulated mode settles movements
// immediately and never talks to the payment gateway; live mode defers
// settlement to gateway webhooks. The mode is injected at construction time.
type Mode string

const (
	ModeSimulated Mode = "simulated"
	ModeLive      Mode = "live"
)

// Type classifies what a financial movement charges for
type Type string

const (
	TypeSubscription Type = "subscription"
	TypeExtraAdvisor Type = "extra_asesor"
	TypeAdjustment   Type = "ajuste"
)

// State is the settlement state of a financial movement
type State string

const (
	StatePending  State = "pending"
	StatePaid     State = "paid"
	StateFailed   State = "failed"
	StateRefunded State = "refunded"
)

// Metadata keys that are load-bearing for idempotency lookups. Everything else
// stored in the map is informational only.
const (
	MetaSubtype    = "subtipo"
	MetaPeriod     = "periodo"
	MetaSource     = "source"
	MetaTargetPlan = "plan_destino"
	MetaSeatCap    = "tope_asesores"
	MetaSeats      = "asesores"
	MetaFactor     = "factor"
	MetaDaysCycle  = "dias_ciclo"
	MetaDaysLeft   = "dias_restantes"
)

const (
	// SubtypeUpgradeProration tags the single pending adjustment a company may
	// carry per cycle while an upgrade awaits payment.
	SubtypeUpgradeProration = "upgrade_proration"

	// SubtypeDowngradeApplied tags the zero-amount ledger entry written when a
	// scheduled downgrade executes, so the swap stays countable after the
	// schedule fields on the subscription are cleared.
	SubtypeDowngradeApplied = "downgrade_applied"

	// SourceSimulation tags movements materialized by the period simulator so
	// an overwrite run can find and remove them.
	SourceSimulation = "simulacion"
)
