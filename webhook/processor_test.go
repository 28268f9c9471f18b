package webhook

import (
	"context"
	"testing"

	"github.com/valoratec/backoffice/billing"
	"github.com/valoratec/backoffice/plan"
	"github.com/valoratec/backoffice/subscription"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTransitionFor(t *testing.T) {
	testCases := []struct {
		eventType string
		expected  Transition
	}{
		{"subscription_active", TransitionActivate},
		{"payment_succeeded", TransitionActivate},
		{"subscription_resumed", TransitionActivate},
		{"subscription_paused", TransitionSuspend},
		{"invoice_payment_failed", TransitionSuspend},
		{"subscription_canceled", TransitionCancel},
		{"customer_updated", TransitionNone},
		{"", TransitionNone},
		{"SUBSCRIPTION_ACTIVE", TransitionNone}, // event types are case sensitive
	}

	for _, tc := range testCases {
		t.Run(tc.eventType, func(t *testing.T) {
			assert.Equal(t, tc.expected, transitionFor(tc.eventType))
		})
	}
}

type memoryEvents struct {
	seen      map[string]bool
	processed []string
}

func newMemoryEvents() *memoryEvents {
	return &memoryEvents{
		seen: make(map[string]bool),
	}
}

func (e *memoryEvents) Record(ctx context.Context, event *Event) (bool, error) {
	key := event.Provider + "/" + event.ExternalEventID
	if e.seen[key] {
		return false, nil
	}
	e.seen[key] = true
	return true, nil
}

func (e *memoryEvents) MarkProcessed(ctx context.Context, eventID string) error {
	e.processed = append(e.processed, eventID)
	return nil
}

type deactivation struct {
	companyID string
	stampEnd  bool
}

type memorySubs struct {
	sub *subscription.Subscription

	activated   []subscription.ActivateOptions
	marked      []subscription.MarkActiveOptions
	suspended   []string
	canceled    []string
	deactivated []deactivation
}

func (s *memorySubs) GetByID(ctx context.Context, id string) (*subscription.Subscription, error) {
	if s.sub != nil && s.sub.ID == id {
		return s.sub, nil
	}
	return nil, nil
}

func (s *memorySubs) GetByExternalID(ctx context.Context, externalID string) (*subscription.Subscription, error) {
	if s.sub != nil && s.sub.ExternalSubscriptionID == externalID {
		return s.sub, nil
	}
	return nil, nil
}

func (s *memorySubs) GetByCompanyAndPlan(ctx context.Context, companyID, planID string) (*subscription.Subscription, error) {
	if s.sub != nil && s.sub.CompanyID == companyID && s.sub.PlanID == planID {
		return s.sub, nil
	}
	return nil, nil
}

func (s *memorySubs) GetByCompany(ctx context.Context, companyID string) (*subscription.Subscription, error) {
	if s.sub != nil && s.sub.CompanyID == companyID {
		return s.sub, nil
	}
	return nil, nil
}

func (s *memorySubs) ActivateAssignment(ctx context.Context, opt subscription.ActivateOptions) (*subscription.PlanAssignment, error) {
	s.activated = append(s.activated, opt)
	return &subscription.PlanAssignment{
		ID:        "assign-1",
		CompanyID: opt.CompanyID,
		PlanID:    opt.PlanID,
		Active:    true,
	}, nil
}

func (s *memorySubs) DeactivateActive(ctx context.Context, companyID string, stampEnd bool) error {
	s.deactivated = append(s.deactivated, deactivation{companyID: companyID, stampEnd: stampEnd})
	return nil
}

func (s *memorySubs) MarkActive(ctx context.Context, id string, opt subscription.MarkActiveOptions) error {
	s.marked = append(s.marked, opt)
	return nil
}

func (s *memorySubs) MarkSuspended(ctx context.Context, id string) error {
	s.suspended = append(s.suspended, id)
	return nil
}

func (s *memorySubs) MarkCanceled(ctx context.Context, id string) error {
	s.canceled = append(s.canceled, id)
	return nil
}

type memoryMovements map[string]*billing.Movement

func (m memoryMovements) GetByID(ctx context.Context, id string) (*billing.Movement, error) {
	return m[id], nil
}

func (m memoryMovements) SetState(ctx context.Context, id string, state billing.State) error {
	if mov, ok := m[id]; ok {
		mov.State = state
	}
	return nil
}

type memoryCatalog map[string]*plan.Plan

func (c memoryCatalog) GetByID(ctx context.Context, id string) (*plan.Plan, error) {
	if p, ok := c[id]; ok {
		return p, nil
	}
	return nil, plan.ErrNotFound
}

func newTestProcessor(t *testing.T, events *memoryEvents, subs *memorySubs, movements memoryMovements) *Processor {
	t.Helper()
	p, err := NewProcessor(ProcessorOptions{
		Events:              events,
		SubscriptionManager: subs,
		MovementManager:     movements,
		PlanManager: memoryCatalog{
			"plan-premium": {
				ID:        "plan-premium",
				Name:      "Premium",
				BasePrice: decimal.RequireFromString("2200"),
				CycleDays: 30,
				Currency:  "ARS",
			},
			"plan-basico": {
				ID:        "plan-basico",
				Name:      "Basico",
				BasePrice: decimal.RequireFromString("1000"),
				CycleDays: 30,
				Currency:  "ARS",
			},
		},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	return p
}

func TestHandleEventDuplicateDelivery(t *testing.T) {
	events := newMemoryEvents()
	subs := &memorySubs{
		sub: &subscription.Subscription{ID: "sub-1", CompanyID: "company-1", PlanID: "plan-basico"},
	}
	p := newTestProcessor(t, events, subs, memoryMovements{})

	opt := HandleOptions{
		Provider:        "stripe",
		ExternalEventID: "evt-1",
		Type:            "subscription_paused",
		Payload:         []byte(`{"subscription_id":"sub-1"}`),
	}

	first, err := p.HandleEvent(context.Background(), opt)
	require.NoError(t, err)
	assert.False(t, first.Idempotent)

	second, err := p.HandleEvent(context.Background(), opt)
	require.NoError(t, err)
	assert.True(t, second.Idempotent)

	// the redelivery ran no transition at all
	assert.Len(t, subs.suspended, 1)
	assert.Len(t, subs.deactivated, 1)
}

func TestHandleEventPaymentActivatesTargetPlan(t *testing.T) {
	events := newMemoryEvents()
	subs := &memorySubs{
		sub: &subscription.Subscription{ID: "sub-1", CompanyID: "company-1", PlanID: "plan-basico"},
	}
	movements := memoryMovements{
		"mov-1": {
			ID:        "mov-1",
			CompanyID: "company-1",
			Type:      billing.TypeAdjustment,
			State:     billing.StatePending,
			Metadata: billing.Metadata{
				billing.MetaSubtype:    billing.SubtypeUpgradeProration,
				billing.MetaTargetPlan: "plan-premium",
				billing.MetaSeatCap:    "25",
			},
		},
	}
	p := newTestProcessor(t, events, subs, movements)

	result, err := p.HandleEvent(context.Background(), HandleOptions{
		Provider:        "stripe",
		ExternalEventID: "evt-2",
		Type:            "payment_succeeded",
		Payload:         []byte(`{"subscription_id":"sub-1","movement_id":"mov-1","customer_id":"cus-9"}`),
	})
	require.NoError(t, err)
	assert.False(t, result.Idempotent)

	// the assignment switches onto the plan the pending charge targeted
	require.Len(t, subs.activated, 1)
	assert.Equal(t, "plan-premium", subs.activated[0].PlanID)
	assert.Equal(t, 30, subs.activated[0].CycleDays)
	require.NotNil(t, subs.activated[0].SeatCapOverride)
	assert.Equal(t, 25, *subs.activated[0].SeatCapOverride)

	require.Len(t, subs.marked, 1)
	assert.Equal(t, "plan-premium", subs.marked[0].PlanID)
	assert.Equal(t, "cus-9", subs.marked[0].ExternalCustomerID)

	assert.Equal(t, billing.StatePaid, movements["mov-1"].State)
	assert.Len(t, events.processed, 1)
}

func TestHandleEventActivationWithoutMovement(t *testing.T) {
	events := newMemoryEvents()
	subs := &memorySubs{
		sub: &subscription.Subscription{ID: "sub-1", CompanyID: "company-1", PlanID: "plan-basico"},
	}
	p := newTestProcessor(t, events, subs, memoryMovements{})

	_, err := p.HandleEvent(context.Background(), HandleOptions{
		Provider:        "stripe",
		ExternalEventID: "evt-3",
		Type:            "subscription_active",
		Payload:         []byte(`{"subscription_id":"sub-1"}`),
	})
	require.NoError(t, err)

	// no payload plan and no movement, the subscription's own plan wins
	require.Len(t, subs.activated, 1)
	assert.Equal(t, "plan-basico", subs.activated[0].PlanID)
	require.Len(t, subs.marked, 1)
	assert.Equal(t, "plan-basico", subs.marked[0].PlanID)
}

func TestHandleEventSuspensionKeepsCycleEnd(t *testing.T) {
	events := newMemoryEvents()
	subs := &memorySubs{
		sub: &subscription.Subscription{ID: "sub-1", CompanyID: "company-1", PlanID: "plan-premium"},
	}
	p := newTestProcessor(t, events, subs, memoryMovements{})

	_, err := p.HandleEvent(context.Background(), HandleOptions{
		Provider:        "stripe",
		ExternalEventID: "evt-4",
		Type:            "invoice_payment_failed",
		Payload:         []byte(`{"subscription_id":"sub-1"}`),
	})
	require.NoError(t, err)

	require.Len(t, subs.suspended, 1)
	require.Len(t, subs.deactivated, 1)
	assert.Equal(t, "company-1", subs.deactivated[0].companyID)
	assert.False(t, subs.deactivated[0].stampEnd)
}

func TestHandleEventCancellationStampsEnd(t *testing.T) {
	events := newMemoryEvents()
	subs := &memorySubs{
		sub: &subscription.Subscription{ID: "sub-1", CompanyID: "company-1", PlanID: "plan-premium"},
	}
	p := newTestProcessor(t, events, subs, memoryMovements{})

	_, err := p.HandleEvent(context.Background(), HandleOptions{
		Provider:        "stripe",
		ExternalEventID: "evt-5",
		Type:            "subscription_canceled",
		Payload:         []byte(`{"subscription_id":"sub-1"}`),
	})
	require.NoError(t, err)

	require.Len(t, subs.canceled, 1)
	require.Len(t, subs.deactivated, 1)
	assert.True(t, subs.deactivated[0].stampEnd)
}

func TestHandleEventUnknownTypeRecordsOnly(t *testing.T) {
	events := newMemoryEvents()
	subs := &memorySubs{
		sub: &subscription.Subscription{ID: "sub-1", CompanyID: "company-1", PlanID: "plan-premium"},
	}
	p := newTestProcessor(t, events, subs, memoryMovements{})

	result, err := p.HandleEvent(context.Background(), HandleOptions{
		Provider:        "stripe",
		ExternalEventID: "evt-6",
		Type:            "customer_updated",
		Payload:         []byte(`{"subscription_id":"sub-1"}`),
	})
	require.NoError(t, err)

	assert.False(t, result.Idempotent)
	assert.Empty(t, subs.activated)
	assert.Empty(t, subs.suspended)
	assert.Empty(t, subs.canceled)
	assert.Len(t, events.processed, 1)
}
