package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/valoratec/backoffice/billing"
	"github.com/valoratec/backoffice/broker"
	"github.com/valoratec/backoffice/plan"
	"github.com/valoratec/backoffice/subscription"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transition is what an event type does to the subscription lifecycle
type Transition int

const (
	// TransitionNone records the event without touching the subscription
	TransitionNone Transition = iota
	TransitionActivate
	TransitionSuspend
	TransitionCancel
)

// transitionFor maps gateway event types onto lifecycle transitions. Unknown
// types are recorded and acknowledged, never rejected, so a provider adding
// event types cannot break delivery.
func transitionFor(eventType string) Transition {
	switch eventType {
	case "subscription_active", "payment_succeeded", "subscription_resumed":
		return TransitionActivate
	case "subscription_paused", "invoice_payment_failed":
		return TransitionSuspend
	case "subscription_canceled":
		return TransitionCancel
	default:
		return TransitionNone
	}
}

// EventStore records delivered events. Record reports false when the
// (provider, external event id) pair was already seen. Implemented by Store.
type EventStore interface {
	Record(ctx context.Context, event *Event) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// SubscriptionStore is the slice of the subscription manager the processor
// drives. Implemented by subscription.Manager.
type SubscriptionStore interface {
	GetByID(ctx context.Context, id string) (*subscription.Subscription, error)
	GetByExternalID(ctx context.Context, externalID string) (*subscription.Subscription, error)
	GetByCompanyAndPlan(ctx context.Context, companyID, planID string) (*subscription.Subscription, error)
	GetByCompany(ctx context.Context, companyID string) (*subscription.Subscription, error)
	ActivateAssignment(ctx context.Context, opt subscription.ActivateOptions) (*subscription.PlanAssignment, error)
	DeactivateActive(ctx context.Context, companyID string, stampEnd bool) error
	MarkActive(ctx context.Context, id string, opt subscription.MarkActiveOptions) error
	MarkSuspended(ctx context.Context, id string) error
	MarkCanceled(ctx context.Context, id string) error
}

// MovementStore is the slice of the ledger the processor settles through.
// Implemented by billing.Manager.
type MovementStore interface {
	GetByID(ctx context.Context, id string) (*billing.Movement, error)
	SetState(ctx context.Context, id string, state billing.State) error
}

// PlanSource resolves catalog entries by id. Implemented by plan.Manager.
type PlanSource interface {
	GetByID(ctx context.Context, id string) (*plan.Plan, error)
}

// ProcessorOptions contains the configuration for the webhook Processor
type ProcessorOptions struct {
	Events              EventStore
	SubscriptionManager SubscriptionStore
	MovementManager     MovementStore
	PlanManager         PlanSource
	Broker              broker.Broker
	Logger              *zap.Logger
}

// Processor applies gateway notifications to the local subscription state.
// Processing is idempotent on (provider, external event id).
type Processor struct {
	ProcessorOptions
}

// NewProcessor validates the wiring and returns a Processor
func NewProcessor(option ProcessorOptions) (*Processor, error) {
	if option.Events == nil {
		return nil, fmt.Errorf("nil Events is invalid")
	}
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.MovementManager == nil {
		return nil, fmt.Errorf("nil MovementManager is invalid")
	}
	if option.PlanManager == nil {
		return nil, fmt.Errorf("nil PlanManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Processor{
		ProcessorOptions: option,
	}, nil
}

// eventPayload is the subset of the notification body this service acts on.
// Providers differ in which identifiers they send, so resolution tries them in
// order of specificity.
type eventPayload struct {
	SubscriptionID         string `json:"subscription_id"`
	ExternalSubscriptionID string `json:"external_subscription_id"`
	CompanyID              string `json:"company_id"`
	PlanID                 string `json:"plan_id"`
	CustomerID             string `json:"customer_id"`
	MovementID             string `json:"movement_id"`
}

// HandleOptions identifies one delivered notification
type HandleOptions struct {
	Provider        string
	ExternalEventID string
	Type            string
	Payload         []byte
}

// HandleResult reports whether the delivery did anything
type HandleResult struct {
	Idempotent bool `json:"idempotent"`
}

// HandleEvent records and applies a single gateway notification. The event row
// is inserted first with an on-conflict guard, so a redelivered event returns
// early without re-running any transition.
func (p *Processor) HandleEvent(ctx context.Context, opt HandleOptions) (*HandleResult, error) {
	if len(opt.Provider) == 0 || len(opt.ExternalEventID) == 0 {
		return nil, fmt.Errorf("provider and event id are required")
	}

	event := &Event{
		ID:              uuid.New().String(),
		Provider:        opt.Provider,
		ExternalEventID: opt.ExternalEventID,
		Type:            opt.Type,
		Payload:         string(opt.Payload),
		ReceivedAt:      time.Now(),
	}
	inserted, err := p.Events.Record(ctx, event)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return &HandleResult{Idempotent: true}, nil
	}

	logger := p.Logger.With(
		zap.String("Provider", opt.Provider),
		zap.String("ExternalEventID", opt.ExternalEventID),
		zap.String("Type", opt.Type),
	)

	var payload eventPayload
	if len(opt.Payload) > 0 {
		if err := json.Unmarshal(opt.Payload, &payload); err != nil {
			logger.Warn("Webhook payload is not valid JSON, recording only",
				zap.Error(err),
			)
			return &HandleResult{}, p.Events.MarkProcessed(ctx, event.ID)
		}
	}

	transition := transitionFor(opt.Type)
	if transition == TransitionNone {
		return &HandleResult{}, p.Events.MarkProcessed(ctx, event.ID)
	}

	sub, err := p.resolveSubscription(ctx, payload)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		logger.Warn("Webhook event does not match any subscription, recording only")
		return &HandleResult{}, p.Events.MarkProcessed(ctx, event.ID)
	}

	switch transition {
	case TransitionActivate:
		if err := p.activate(ctx, sub, payload, logger); err != nil {
			return nil, err
		}
	case TransitionSuspend:
		if err := p.SubscriptionManager.MarkSuspended(ctx, sub.ID); err != nil {
			return nil, err
		}
		// the cycle end stays in place so a resume picks the interval back up
		if err := p.SubscriptionManager.DeactivateActive(ctx, sub.CompanyID, false); err != nil {
			return nil, err
		}
	case TransitionCancel:
		if err := p.SubscriptionManager.MarkCanceled(ctx, sub.ID); err != nil {
			return nil, err
		}
		if err := p.SubscriptionManager.DeactivateActive(ctx, sub.CompanyID, true); err != nil {
			return nil, err
		}
	}

	p.publish(sub, transition)

	return &HandleResult{}, p.Events.MarkProcessed(ctx, event.ID)
}

// activate switches the company onto the plan the event confirms: the target
// assignment becomes the single active one, the subscription flips to activa
// and a referenced pending movement settles as paid. The plan is taken from
// the payload, then from the movement's metadata, then from the subscription.
func (p *Processor) activate(ctx context.Context, sub *subscription.Subscription, payload eventPayload, logger *zap.Logger) error {
	mov, err := p.referencedMovement(ctx, payload.MovementID, logger)
	if err != nil {
		return err
	}

	targetPlanID := payload.PlanID
	var seatCap *int
	if mov != nil {
		if len(targetPlanID) == 0 {
			targetPlanID = mov.Metadata[billing.MetaTargetPlan]
		}
		if v, err := strconv.Atoi(mov.Metadata[billing.MetaSeatCap]); err == nil {
			seatCap = &v
		}
	}
	if len(targetPlanID) == 0 {
		targetPlanID = sub.PlanID
	}

	targetPlan, err := p.PlanManager.GetByID(ctx, targetPlanID)
	if err != nil {
		return err
	}

	if _, err := p.SubscriptionManager.ActivateAssignment(ctx, subscription.ActivateOptions{
		CompanyID:       sub.CompanyID,
		PlanID:          targetPlan.ID,
		CycleDays:       targetPlan.CycleDays,
		SeatCapOverride: seatCap,
	}); err != nil {
		return err
	}

	if err := p.SubscriptionManager.MarkActive(ctx, sub.ID, subscription.MarkActiveOptions{
		PlanID:                 targetPlan.ID,
		ExternalCustomerID:     payload.CustomerID,
		ExternalSubscriptionID: payload.ExternalSubscriptionID,
	}); err != nil {
		return err
	}

	if mov != nil && mov.State == billing.StatePending {
		return p.MovementManager.SetState(ctx, mov.ID, billing.StatePaid)
	}
	return nil
}

// resolveSubscription tries the payload identifiers from most to least specific
func (p *Processor) resolveSubscription(ctx context.Context, payload eventPayload) (*subscription.Subscription, error) {
	if len(payload.SubscriptionID) > 0 {
		return p.SubscriptionManager.GetByID(ctx, payload.SubscriptionID)
	}
	if len(payload.ExternalSubscriptionID) > 0 {
		return p.SubscriptionManager.GetByExternalID(ctx, payload.ExternalSubscriptionID)
	}
	if len(payload.CompanyID) > 0 && len(payload.PlanID) > 0 {
		return p.SubscriptionManager.GetByCompanyAndPlan(ctx, payload.CompanyID, payload.PlanID)
	}
	if len(payload.CompanyID) > 0 {
		return p.SubscriptionManager.GetByCompany(ctx, payload.CompanyID)
	}
	return nil, nil
}

// referencedMovement looks up the movement the payload points at. A payload
// without a movement reference is fine, activation alone is a valid event.
func (p *Processor) referencedMovement(ctx context.Context, movementID string, logger *zap.Logger) (*billing.Movement, error) {
	if len(movementID) == 0 {
		return nil, nil
	}
	mov, err := p.MovementManager.GetByID(ctx, movementID)
	if err != nil {
		return nil, err
	}
	if mov == nil {
		logger.Warn("Webhook references a movement that does not exist",
			zap.String("MovementID", movementID),
		)
	}
	return mov, nil
}

func (p *Processor) publish(sub *subscription.Subscription, transition Transition) {
	if p.Broker == nil {
		return
	}
	status := subscription.StatusActive
	switch transition {
	case TransitionSuspend:
		status = subscription.StatusSuspended
	case TransitionCancel:
		status = subscription.StatusCanceled
	}
	if err := p.Broker.PublishBillingEvent(&broker.BillingEvent{
		Kind:       broker.EventSubscriptionStatus,
		CompanyID:  sub.CompanyID,
		PlanID:     sub.PlanID,
		Status:     string(status),
		OccurredAt: time.Now(),
	}); err != nil {
		p.Logger.Warn("Unable to publish subscription status event",
			zap.Error(err),
		)
	}
}
