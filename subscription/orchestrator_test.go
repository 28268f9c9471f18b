package subscription

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/valoratec/backoffice/billing"
	"github.com/valoratec/backoffice/external"
	"github.com/valoratec/backoffice/plan"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProrationFromMovement(t *testing.T) {
	mov := &billing.Movement{
		ID:          "mov-1",
		NetAmount:   d("600"),
		TaxAmount:   d("126"),
		TotalAmount: d("726"),
		Metadata: billing.Metadata{
			billing.MetaSubtype:   billing.SubtypeUpgradeProration,
			billing.MetaFactor:    "0.5000",
			billing.MetaDaysCycle: "30",
			billing.MetaDaysLeft:  "15",
		},
	}

	pr := prorationFromMovement(mov)

	assert.Equal(t, 30, pr.DaysInCycle)
	assert.Equal(t, 15, pr.DaysRemaining)
	assert.True(t, pr.Factor.Equal(d("0.5")), "Factor: got %s", pr.Factor)
	assert.True(t, pr.DeltaNet.Equal(d("600")))
	assert.True(t, pr.Tax.Equal(d("126")))
	assert.True(t, pr.Total.Equal(d("726")))
}

func TestProrationFromMovementMissingMetadata(t *testing.T) {
	mov := &billing.Movement{
		ID:          "mov-2",
		NetAmount:   d("100"),
		TaxAmount:   d("21"),
		TotalAmount: d("121"),
		Metadata:    billing.Metadata{},
	}

	pr := prorationFromMovement(mov)

	// amounts survive, the day counts simply stay at zero
	assert.Equal(t, 0, pr.DaysInCycle)
	assert.Equal(t, 0, pr.DaysRemaining)
	assert.True(t, pr.Total.Equal(d("121")))
}

type memorySubStore struct {
	assignment *PlanAssignment
	sub        *Subscription
	subErr     error
	prices     map[string]decimal.Decimal

	scheduledPlanID string
	scheduledFor    time.Time
	activated       []ActivateOptions
	marked          []MarkActiveOptions
}

func (s *memorySubStore) GetActiveAssignment(ctx context.Context, companyID string) (*PlanAssignment, error) {
	return s.assignment, nil
}

func (s *memorySubStore) ResolveNetPrice(ctx context.Context, planID, companyID string) (decimal.Decimal, error) {
	price, ok := s.prices[planID]
	if !ok {
		return decimal.Zero, plan.ErrNotFound
	}
	return price, nil
}

func (s *memorySubStore) GetByCompany(ctx context.Context, companyID string) (*Subscription, error) {
	if s.subErr != nil {
		return nil, s.subErr
	}
	return s.sub, nil
}

func (s *memorySubStore) ScheduleDowngrade(ctx context.Context, subscriptionID, planID string, effective time.Time) error {
	s.scheduledPlanID = planID
	s.scheduledFor = effective
	return nil
}

func (s *memorySubStore) ActivateAssignment(ctx context.Context, opt ActivateOptions) (*PlanAssignment, error) {
	s.activated = append(s.activated, opt)
	return &PlanAssignment{
		ID:        fmt.Sprintf("assign-%d", len(s.activated)),
		CompanyID: opt.CompanyID,
		PlanID:    opt.PlanID,
		Active:    true,
	}, nil
}

func (s *memorySubStore) MarkActive(ctx context.Context, id string, opt MarkActiveOptions) error {
	s.marked = append(s.marked, opt)
	return nil
}

type memoryCatalog map[string]*plan.Plan

func (c memoryCatalog) GetByID(ctx context.Context, id string) (*plan.Plan, error) {
	if p, ok := c[id]; ok {
		return p, nil
	}
	return nil, plan.ErrNotFound
}

type memoryLedger struct {
	created []*billing.Movement
}

func (l *memoryLedger) Create(ctx context.Context, mov *billing.Movement) error {
	if len(mov.ID) == 0 {
		mov.ID = fmt.Sprintf("mov-%d", len(l.created)+1)
	}
	l.created = append(l.created, mov)
	return nil
}

func (l *memoryLedger) FindPendingUpgradeAdjustment(ctx context.Context, companyID string, cycleStart, cycleEnd time.Time) (*billing.Movement, error) {
	for _, m := range l.created {
		if m.CompanyID == companyID &&
			m.Type == billing.TypeAdjustment &&
			m.State == billing.StatePending &&
			m.Metadata[billing.MetaSubtype] == billing.SubtypeUpgradeProration {
			return m, nil
		}
	}
	return nil, nil
}

func (l *memoryLedger) SetState(ctx context.Context, id string, state billing.State) error {
	for _, m := range l.created {
		if m.ID == id {
			m.State = state
			return nil
		}
	}
	return fmt.Errorf("movement %s not found", id)
}

func (l *memoryLedger) SetExternalReference(ctx context.Context, id, gateway, reference string) error {
	for _, m := range l.created {
		if m.ID == id {
			m.Gateway = gateway
			m.ExternalReference = reference
			return nil
		}
	}
	return fmt.Errorf("movement %s not found", id)
}

type memoryCheckout struct {
	sessions int
}

func (c *memoryCheckout) CreateSession(ctx context.Context, opt external.SessionOptions) (*external.Session, error) {
	c.sessions++
	return &external.Session{
		ID:  fmt.Sprintf("sess-%d", c.sessions),
		URL: fmt.Sprintf("https://checkout.test/%d", c.sessions),
	}, nil
}

func midCycleAssignment(planID string) *PlanAssignment {
	start := time.Now().AddDate(0, 0, -15)
	end := start.AddDate(0, 0, 30)
	return &PlanAssignment{
		ID:         "assign-current",
		CompanyID:  "company-1",
		PlanID:     planID,
		CycleStart: start,
		CycleEnd:   &end,
		Active:     true,
	}
}

func newTestOrchestrator(t *testing.T, mode billing.Mode, store *memorySubStore, ledger *memoryLedger, checkout external.CheckoutClient) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(OrchestratorOptions{
		Mode:                mode,
		SubscriptionManager: store,
		PlanManager: memoryCatalog{
			"plan-basico": {
				ID:        "plan-basico",
				Name:      "Basico",
				BasePrice: d("1000"),
				CycleDays: 30,
				Currency:  "ARS",
			},
			"plan-premium": {
				ID:        "plan-premium",
				Name:      plan.PremiumPlanName,
				BasePrice: d("2200"),
				CycleDays: 30,
				Currency:  "ARS",
			},
		},
		MovementManager:    ledger,
		Checkout:           checkout,
		Logger:             zap.NewNop(),
		TaxRate:            d("0.21"),
		CheckoutSuccessURL: "https://app.test/ok",
		CheckoutCancelURL:  "https://app.test/ko",
	})
	require.NoError(t, err)
	return o
}

func TestChangePlanNoActiveAssignment(t *testing.T) {
	store := &memorySubStore{}
	o := newTestOrchestrator(t, billing.ModeSimulated, store, &memoryLedger{}, nil)

	_, err := o.ChangePlan(context.Background(), ChangePlanOptions{
		CompanyID: "company-1",
		NewPlanID: "plan-premium",
	})
	assert.ErrorIs(t, err, ErrNoActiveAssignment)
}

func TestChangePlanSamePlanIsNoChange(t *testing.T) {
	store := &memorySubStore{
		assignment: midCycleAssignment("plan-premium"),
	}
	ledger := &memoryLedger{}
	o := newTestOrchestrator(t, billing.ModeSimulated, store, ledger, nil)

	result, err := o.ChangePlan(context.Background(), ChangePlanOptions{
		CompanyID: "company-1",
		NewPlanID: "plan-premium",
	})
	require.NoError(t, err)
	assert.Equal(t, ActionNoChange, result.Action)
	assert.Empty(t, ledger.created)
}

func TestChangePlanEqualPriceIsNoChange(t *testing.T) {
	store := &memorySubStore{
		assignment: midCycleAssignment("plan-basico"),
		prices: map[string]decimal.Decimal{
			"plan-basico":  d("2200"),
			"plan-premium": d("2200"),
		},
	}
	ledger := &memoryLedger{}
	o := newTestOrchestrator(t, billing.ModeSimulated, store, ledger, nil)

	result, err := o.ChangePlan(context.Background(), ChangePlanOptions{
		CompanyID: "company-1",
		NewPlanID: "plan-premium",
	})
	require.NoError(t, err)
	assert.Equal(t, ActionNoChange, result.Action)
	assert.Empty(t, ledger.created)
}

func TestChangePlanSimulatedUpgrade(t *testing.T) {
	store := &memorySubStore{
		assignment: midCycleAssignment("plan-basico"),
		sub:        &Subscription{ID: "sub-1", CompanyID: "company-1", PlanID: "plan-basico"},
		prices: map[string]decimal.Decimal{
			"plan-basico":  d("1000"),
			"plan-premium": d("2200"),
		},
	}
	ledger := &memoryLedger{}
	o := newTestOrchestrator(t, billing.ModeSimulated, store, ledger, nil)

	result, err := o.ChangePlan(context.Background(), ChangePlanOptions{
		CompanyID: "company-1",
		NewPlanID: "plan-premium",
	})
	require.NoError(t, err)

	assert.Equal(t, ActionUpgrade, result.Action)
	require.NotNil(t, result.Proration)
	assert.Equal(t, 30, result.Proration.DaysInCycle)
	assert.Equal(t, 15, result.Proration.DaysRemaining)
	assert.True(t, result.Proration.DeltaNet.Equal(d("600")), "DeltaNet: got %s", result.Proration.DeltaNet)
	assert.True(t, result.Proration.Total.Equal(d("726")), "Total: got %s", result.Proration.Total)

	require.Len(t, ledger.created, 1)
	mov := ledger.created[0]
	assert.Equal(t, billing.StatePaid, mov.State)
	assert.Equal(t, "plan-premium", mov.Metadata[billing.MetaTargetPlan])

	require.Len(t, store.activated, 1)
	assert.Equal(t, "plan-premium", store.activated[0].PlanID)
	assert.Equal(t, 30, store.activated[0].CycleDays)
	require.Len(t, store.marked, 1)
	assert.Equal(t, "plan-premium", store.marked[0].PlanID)
}

func TestChangePlanLiveUpgradeReusesPendingMovement(t *testing.T) {
	store := &memorySubStore{
		assignment: midCycleAssignment("plan-basico"),
		sub:        &Subscription{ID: "sub-1", CompanyID: "company-1", PlanID: "plan-basico"},
		prices: map[string]decimal.Decimal{
			"plan-basico":  d("1000"),
			"plan-premium": d("2200"),
		},
	}
	ledger := &memoryLedger{}
	checkout := &memoryCheckout{}
	o := newTestOrchestrator(t, billing.ModeLive, store, ledger, checkout)

	opt := ChangePlanOptions{
		CompanyID: "company-1",
		NewPlanID: "plan-premium",
	}

	first, err := o.ChangePlan(context.Background(), opt)
	require.NoError(t, err)
	assert.NotEmpty(t, first.CheckoutURL)

	second, err := o.ChangePlan(context.Background(), opt)
	require.NoError(t, err)

	// the retry settles against the same pending charge
	assert.Len(t, ledger.created, 1)
	assert.Equal(t, first.MovementID, second.MovementID)
	assert.Equal(t, billing.StatePending, ledger.created[0].State)
	assert.Empty(t, store.activated)
}

func TestChangePlanSchedulesDowngrade(t *testing.T) {
	assignment := midCycleAssignment("plan-premium")
	store := &memorySubStore{
		assignment: assignment,
		sub:        &Subscription{ID: "sub-1", CompanyID: "company-1", PlanID: "plan-premium"},
		prices: map[string]decimal.Decimal{
			"plan-basico":  d("1000"),
			"plan-premium": d("2200"),
		},
	}
	ledger := &memoryLedger{}
	o := newTestOrchestrator(t, billing.ModeSimulated, store, ledger, nil)

	result, err := o.ChangePlan(context.Background(), ChangePlanOptions{
		CompanyID: "company-1",
		NewPlanID: "plan-basico",
	})
	require.NoError(t, err)

	assert.Equal(t, ActionDowngrade, result.Action)
	require.NotNil(t, result.ScheduledFor)
	assert.True(t, result.ScheduledFor.Equal(*assignment.CycleEnd))
	assert.Equal(t, "plan-basico", store.scheduledPlanID)
	assert.True(t, store.scheduledFor.Equal(*assignment.CycleEnd))
	assert.Empty(t, ledger.created)
}

func TestChangePlanSimulatedUpgradePropagatesLookupError(t *testing.T) {
	lookupErr := fmt.Errorf("connection reset")
	store := &memorySubStore{
		assignment: midCycleAssignment("plan-basico"),
		subErr:     lookupErr,
		prices: map[string]decimal.Decimal{
			"plan-basico":  d("1000"),
			"plan-premium": d("2200"),
		},
	}
	o := newTestOrchestrator(t, billing.ModeSimulated, store, &memoryLedger{}, nil)

	_, err := o.ChangePlan(context.Background(), ChangePlanOptions{
		CompanyID: "company-1",
		NewPlanID: "plan-premium",
	})
	assert.ErrorIs(t, err, lookupErr)

	// the subscription flip never ran against unknown state
	assert.Empty(t, store.marked)
}

func TestChangePlanDowngradeWithoutSubscription(t *testing.T) {
	store := &memorySubStore{
		assignment: midCycleAssignment("plan-premium"),
		prices: map[string]decimal.Decimal{
			"plan-basico":  d("1000"),
			"plan-premium": d("2200"),
		},
	}
	o := newTestOrchestrator(t, billing.ModeSimulated, store, &memoryLedger{}, nil)

	_, err := o.ChangePlan(context.Background(), ChangePlanOptions{
		CompanyID: "company-1",
		NewPlanID: "plan-basico",
	})
	assert.ErrorIs(t, err, ErrNoSubscription)
}
