package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations over the financial-movement ledger
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ MovementStore = (*Manager)(nil)

// NewManager returns a new Manager for the ledger
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Movement{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize billing.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// Create inserts a new ledger entry, assigning an id when the caller left it empty
func (m *Manager) Create(ctx context.Context, mov *Movement) error {
	if len(mov.ID) == 0 {
		mov.ID = uuid.New().String()
	}
	if mov.Metadata == nil {
		mov.Metadata = Metadata{}
	}
	mov.CreatedAt = time.Now()
	result := m.db.WithContext(ctx).Create(mov)
	if result.Error != nil {
		m.logger.Error("Unable to create movement in database",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create movement")
	}
	return nil
}

// GetByID returns a movement, or nil when it does not exist
func (m *Manager) GetByID(ctx context.Context, id string) (*Movement, error) {
	var mov Movement
	result := m.db.WithContext(ctx).First(&mov, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot get movement by id")
	}
	return &mov, nil
}

// FindPendingUpgradeAdjustment returns the pending upgrade-proration adjustment
// for a company within the given cycle bounds, if one exists. This is the
// idempotency lookup that keeps repeated change-plan calls from double-charging.
func (m *Manager) FindPendingUpgradeAdjustment(ctx context.Context, companyID string, cycleStart, cycleEnd time.Time) (*Movement, error) {
	var mov Movement
	result := m.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Where("type = ?", TypeAdjustment).
		Where("state = ?", StatePending).
		Where("date >= ? AND date <= ?", cycleStart, cycleEnd).
		Where("metadata ->> ? = ?", MetaSubtype, SubtypeUpgradeProration).
		First(&mov)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot look up pending adjustment")
	}
	return &mov, nil
}

// HasMovementForPeriod reports whether a (company, period, type) ledger entry
// already exists. The period key lives in metadata.
func (m *Manager) HasMovementForPeriod(ctx context.Context, companyID string, mType Type, period string) (bool, error) {
	var count int64
	result := m.db.WithContext(ctx).
		Model(&Movement{}).
		Where("company_id = ?", companyID).
		Where("type = ?", mType).
		Where("metadata ->> ? = ?", MetaPeriod, period).
		Count(&count)
	if result.Error != nil {
		return false, extErrors.Wrap(result.Error, "Cannot check movement for period")
	}
	return count > 0, nil
}

// SetState transitions a movement's settlement state
func (m *Manager) SetState(ctx context.Context, id string, state State) error {
	result := m.db.WithContext(ctx).
		Model(&Movement{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":      state,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		m.logger.Error("Unable to update movement state",
			zap.String("MovementID", id),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot update movement state")
	}
	return nil
}

// SetExternalReference stores the gateway reference (e.g. checkout session id)
func (m *Manager) SetExternalReference(ctx context.Context, id, gateway, reference string) error {
	result := m.db.WithContext(ctx).
		Model(&Movement{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"gateway":            gateway,
			"external_reference": reference,
			"updated_at":         time.Now(),
		})
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot set movement reference")
	}
	return nil
}

// DeleteSimulated removes simulator-generated movements for the given periods
// so an overwrite run can regenerate them. companyID may be empty for all.
func (m *Manager) DeleteSimulated(ctx context.Context, companyID string, periods []string) (int64, error) {
	if len(periods) == 0 {
		return 0, nil
	}
	baseQuery := m.db.WithContext(ctx).
		Where("metadata ->> ? = ?", MetaSource, SourceSimulation).
		Where("metadata ->> ? IN ?", MetaPeriod, periods)
	if len(companyID) > 0 {
		baseQuery = baseQuery.Where("company_id = ?", companyID)
	}
	result := baseQuery.Delete(&Movement{})
	if result.Error != nil {
		return 0, extErrors.Wrap(result.Error, "Cannot delete simulated movements")
	}
	return result.RowsAffected, nil
}

// ListOption filters the movements returned by List
type ListOption struct {
	CompanyID string
	From      time.Time
	To        time.Time
	State     State
	Limit     int
}

// List returns ledger entries ordered by date, newest first
func (m *Manager) List(ctx context.Context, opt ListOption) ([]Movement, error) {
	baseQuery := m.db.WithContext(ctx).Order("date desc")
	if len(opt.CompanyID) > 0 {
		baseQuery = baseQuery.Where("company_id = ?", opt.CompanyID)
	}
	if !opt.From.IsZero() {
		baseQuery = baseQuery.Where("date >= ?", opt.From)
	}
	if !opt.To.IsZero() {
		baseQuery = baseQuery.Where("date <= ?", opt.To)
	}
	if len(opt.State) > 0 {
		baseQuery = baseQuery.Where("state = ?", opt.State)
	}
	if opt.Limit > 0 {
		baseQuery = baseQuery.Limit(opt.Limit)
	}

	results := make([]Movement, 0, 1)
	result := baseQuery.Find(&results)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}
	return results, nil
}
