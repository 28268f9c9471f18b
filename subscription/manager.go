package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valoratec/backoffice/billing"
	"github.com/valoratec/backoffice/plan"

	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNoActiveAssignment is returned when an operation needs a current plan
// binding and the company has none
var ErrNoActiveAssignment = errors.New("company has no active plan assignment")

// Manager handles the database operations relating to Subscriptions and
// company-plan assignments
type Manager struct {
	db          *gorm.DB
	logger      *zap.Logger
	planManager *plan.Manager
}

var _ SubscriptionStore = (*Manager)(nil)

// NewManager returns a new Manager for subscriptions
func NewManager(logger *zap.Logger, db *gorm.DB, planManager *plan.Manager) (*Manager, error) {
	if planManager == nil {
		return nil, fmt.Errorf("nil PlanManager is invalid")
	}
	if err := db.AutoMigrate(&Subscription{}, &PlanAssignment{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize subscription.Manager")
	}
	return &Manager{
		db:          db,
		logger:      logger,
		planManager: planManager,
	}, nil
}

// GetByID returns the subscription with the given id, or nil
func (m *Manager) GetByID(ctx context.Context, id string) (*Subscription, error) {
	var sub Subscription
	result := m.db.WithContext(ctx).First(&sub, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription by id")
	}
	return &sub, nil
}

// GetByCompany returns the company's subscription record, or nil
func (m *Manager) GetByCompany(ctx context.Context, companyID string) (*Subscription, error) {
	var sub Subscription
	result := m.db.WithContext(ctx).
		Order("created_at desc").
		First(&sub, "company_id = ?", companyID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription by company")
	}
	return &sub, nil
}

// GetByExternalID returns the subscription carrying the gateway's id, or nil
func (m *Manager) GetByExternalID(ctx context.Context, externalID string) (*Subscription, error) {
	var sub Subscription
	result := m.db.WithContext(ctx).First(&sub, "external_subscription_id = ?", externalID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription by external id")
	}
	return &sub, nil
}

// GetByCompanyAndPlan is the last-resort subscription lookup for webhook
// payloads that only carry the (company, plan) pair
func (m *Manager) GetByCompanyAndPlan(ctx context.Context, companyID, planID string) (*Subscription, error) {
	var sub Subscription
	result := m.db.WithContext(ctx).
		Order("created_at desc").
		First(&sub, "company_id = ? AND plan_id = ?", companyID, planID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription by company and plan")
	}
	return &sub, nil
}

// GetActiveAssignment returns the company's single active plan binding, or nil
func (m *Manager) GetActiveAssignment(ctx context.Context, companyID string) (*PlanAssignment, error) {
	var assignment PlanAssignment
	result := m.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Where("active = ?", true).
		First(&assignment)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get active assignment")
	}
	return &assignment, nil
}

// ActivateOptions names the plan binding to switch a company onto
type ActivateOptions struct {
	CompanyID       string
	PlanID          string
	CycleDays       int
	SeatCapOverride *int
}

// ActivateAssignment deactivates whatever binding the company currently has
// and reuses (or inserts) the row for the target plan with a fresh cycle.
// Sequenced inside one transaction so the one-active-row invariant holds even
// if the process dies mid-way.
func (m *Manager) ActivateAssignment(ctx context.Context, opt ActivateOptions) (*PlanAssignment, error) {
	if opt.CycleDays <= 0 {
		opt.CycleDays = 30
	}
	now := time.Now()
	cycleEnd := now.AddDate(0, 0, opt.CycleDays)

	var activated PlanAssignment
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&PlanAssignment{}).
			Where("company_id = ?", opt.CompanyID).
			Where("active = ?", true).
			Updates(map[string]interface{}{
				"active":     false,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}

		var existing PlanAssignment
		lookup := tx.
			Where("company_id = ?", opt.CompanyID).
			Where("plan_id = ?", opt.PlanID).
			Order("created_at desc").
			First(&existing)
		if lookup.Error != nil && !errors.Is(lookup.Error, gorm.ErrRecordNotFound) {
			return lookup.Error
		}

		if lookup.Error == nil {
			updates := map[string]interface{}{
				"active":      true,
				"cycle_start": now,
				"cycle_end":   cycleEnd,
				"updated_at":  now,
			}
			if opt.SeatCapOverride != nil {
				updates["seat_cap_override"] = *opt.SeatCapOverride
			}
			if res := tx.Model(&PlanAssignment{}).Where("id = ?", existing.ID).Updates(updates); res.Error != nil {
				return res.Error
			}
			if res := tx.First(&activated, "id = ?", existing.ID); res.Error != nil {
				return res.Error
			}
			return nil
		}

		activated = PlanAssignment{
			ID:              shortuuid.New(),
			CompanyID:       opt.CompanyID,
			PlanID:          opt.PlanID,
			CycleStart:      now,
			CycleEnd:        &cycleEnd,
			Active:          true,
			SeatCapOverride: opt.SeatCapOverride,
			CreatedAt:       now,
		}
		return tx.Create(&activated).Error
	})
	if err != nil {
		m.logger.Error("Unable to activate plan assignment",
			zap.String("CompanyID", opt.CompanyID),
			zap.String("PlanID", opt.PlanID),
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot activate plan assignment")
	}
	return &activated, nil
}

// DeactivateActive turns off the company's active binding. stampEnd closes the
// interval at today (cancellations); suspensions leave the cycle end as is.
func (m *Manager) DeactivateActive(ctx context.Context, companyID string, stampEnd bool) error {
	updates := map[string]interface{}{
		"active":     false,
		"updated_at": time.Now(),
	}
	if stampEnd {
		updates["cycle_end"] = time.Now()
	}
	result := m.db.WithContext(ctx).
		Model(&PlanAssignment{}).
		Where("company_id = ?", companyID).
		Where("active = ?", true).
		Updates(updates)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot deactivate assignment")
	}
	return nil
}

// ScheduleDowngrade records the deferred plan swap on the subscription. The
// swap itself is applied by the cycle-rollover job when effective arrives.
func (m *Manager) ScheduleDowngrade(ctx context.Context, subscriptionID, planID string, effective time.Time) error {
	result := m.db.WithContext(ctx).
		Model(&Subscription{}).
		Where("id = ?", subscriptionID).
		Updates(map[string]interface{}{
			"scheduled_plan_id": planID,
			"scheduled_for":     effective,
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot schedule downgrade")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("subscription %s not found", subscriptionID)
	}
	return nil
}

// MarkActiveOptions carries the provider identifiers arriving on activation
type MarkActiveOptions struct {
	PlanID                 string
	ExternalCustomerID     string
	ExternalSubscriptionID string
}

// MarkActive flips the subscription to activa, records the plan it now runs
// on, clears any end stamp and fills in provider identifiers when present
func (m *Manager) MarkActive(ctx context.Context, id string, opt MarkActiveOptions) error {
	updates := map[string]interface{}{
		"status":     StatusActive,
		"end":        nil,
		"updated_at": time.Now(),
	}
	if len(opt.PlanID) > 0 {
		updates["plan_id"] = opt.PlanID
	}
	if len(opt.ExternalCustomerID) > 0 {
		updates["external_customer_id"] = opt.ExternalCustomerID
	}
	if len(opt.ExternalSubscriptionID) > 0 {
		updates["external_subscription_id"] = opt.ExternalSubscriptionID
	}
	result := m.db.WithContext(ctx).
		Model(&Subscription{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot mark subscription as active")
	}
	return nil
}

// MarkSuspended flips the subscription to suspendida
func (m *Manager) MarkSuspended(ctx context.Context, id string) error {
	result := m.db.WithContext(ctx).
		Model(&Subscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     StatusSuspended,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot mark subscription as suspended")
	}
	return nil
}

// MarkCanceled flips the subscription to cancelada and stamps its end
func (m *Manager) MarkCanceled(ctx context.Context, id string) error {
	now := time.Now()
	result := m.db.WithContext(ctx).
		Model(&Subscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     StatusCanceled,
			"end":        now,
			"updated_at": now,
		})
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot mark subscription as canceled")
	}
	return nil
}

// BootstrapTrial puts a brand-new company on the trial plan: one subscription
// record and one active assignment, no payment involved
func (m *Manager) BootstrapTrial(ctx context.Context, companyID string) (*Subscription, error) {
	existing, err := m.GetByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("company %s already has a subscription", companyID)
	}

	plans, err := m.planManager.List(ctx)
	if err != nil {
		return nil, err
	}
	var trial *plan.Plan
	for i := range plans {
		if plans[i].Trial {
			trial = &plans[i]
			break
		}
	}
	if trial == nil {
		return nil, fmt.Errorf("no trial plan defined in the catalog")
	}

	if _, err := m.ActivateAssignment(ctx, ActivateOptions{
		CompanyID: companyID,
		PlanID:    trial.ID,
		CycleDays: trial.CycleDays,
	}); err != nil {
		return nil, err
	}

	sub := &Subscription{
		ID:        shortuuid.New(),
		CompanyID: companyID,
		PlanID:    trial.ID,
		Status:    StatusActive,
		Start:     time.Now(),
		CreatedAt: time.Now(),
	}
	if result := m.db.WithContext(ctx).Create(sub); result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot create trial subscription")
	}
	return sub, nil
}

// MovementRecorder persists the ledger trace of an applied downgrade.
// Implemented by billing.Manager.
type MovementRecorder interface {
	Create(ctx context.Context, mov *billing.Movement) error
}

// ApplyDueDowngrades executes every deferred plan swap whose effective date has
// arrived: the subscription moves to the scheduled plan, a fresh assignment
// cycle starts, and the schedule fields are cleared. Each swap leaves a
// zero-amount ledger entry behind, the schedule fields alone would stop
// counting once cleared. Returns how many swaps ran.
func (m *Manager) ApplyDueDowngrades(ctx context.Context, now time.Time, ledger MovementRecorder) (int, error) {
	due := make([]Subscription, 0, 4)
	result := m.db.WithContext(ctx).
		Where("scheduled_plan_id IS NOT NULL").
		Where("scheduled_for <= ?", now).
		Find(&due)
	if result.Error != nil {
		return 0, extErrors.Wrap(result.Error, "Cannot list due downgrades")
	}

	applied := 0
	for _, sub := range due {
		targetPlan, err := m.planManager.GetByID(ctx, *sub.ScheduledPlanID)
		if err != nil {
			m.logger.Error("Scheduled plan no longer exists, skipping downgrade",
				zap.String("SubscriptionID", sub.ID),
				zap.String("PlanID", *sub.ScheduledPlanID),
				zap.Error(err),
			)
			continue
		}

		if _, err := m.ActivateAssignment(ctx, ActivateOptions{
			CompanyID: sub.CompanyID,
			PlanID:    targetPlan.ID,
			CycleDays: targetPlan.CycleDays,
		}); err != nil {
			return applied, err
		}

		res := m.db.WithContext(ctx).
			Model(&Subscription{}).
			Where("id = ?", sub.ID).
			Updates(map[string]interface{}{
				"plan_id":           targetPlan.ID,
				"scheduled_plan_id": nil,
				"scheduled_for":     nil,
				"updated_at":        time.Now(),
			})
		if res.Error != nil {
			return applied, extErrors.Wrap(res.Error, "Cannot apply scheduled downgrade")
		}

		if ledger != nil {
			if err := ledger.Create(ctx, &billing.Movement{
				CompanyID:   sub.CompanyID,
				Date:        now,
				Type:        billing.TypeAdjustment,
				State:       billing.StatePaid,
				NetAmount:   decimal.Zero,
				TaxAmount:   decimal.Zero,
				TotalAmount: decimal.Zero,
				Currency:    targetPlan.Currency,
				Metadata: billing.Metadata{
					billing.MetaSubtype:    billing.SubtypeDowngradeApplied,
					billing.MetaTargetPlan: targetPlan.ID,
				},
			}); err != nil {
				return applied, err
			}
		}

		m.logger.Info("Applied scheduled downgrade",
			zap.String("SubscriptionID", sub.ID),
			zap.String("CompanyID", sub.CompanyID),
			zap.String("PlanID", targetPlan.ID),
		)
		applied++
	}
	return applied, nil
}

// ListAssignmentWindows implements billing.AssignmentSource for the period simulator
func (m *Manager) ListAssignmentWindows(ctx context.Context, from, to time.Time, companyID string) ([]billing.AssignmentWindow, error) {
	baseQuery := m.db.WithContext(ctx).
		Model(&PlanAssignment{}).
		Where("cycle_start <= ?", to).
		Where("(cycle_end IS NULL OR cycle_end >= ?)", from)
	if len(companyID) > 0 {
		baseQuery = baseQuery.Where("company_id = ?", companyID)
	}

	assignments := make([]PlanAssignment, 0, 8)
	if result := baseQuery.Find(&assignments); result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}

	windows := make([]billing.AssignmentWindow, 0, len(assignments))
	for _, a := range assignments {
		windows = append(windows, billing.AssignmentWindow{
			CompanyID:       a.CompanyID,
			PlanID:          a.PlanID,
			Start:           a.CycleStart,
			End:             a.CycleEnd,
			SeatCapOverride: a.SeatCapOverride,
		})
	}
	return windows, nil
}
