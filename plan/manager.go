package plan

import (
	"context"
	"errors"
	"time"

	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound signals that a referenced plan does not exist in the catalog
var ErrNotFound = errors.New("plan not found")

// Manager handles the database operations relating to the plan catalog
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for the plan catalog
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Plan{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize plan.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// Create will insert a new catalog entry
func (m *Manager) Create(ctx context.Context, p *Plan) error {
	if len(p.ID) == 0 {
		p.ID = shortuuid.New()
	}
	p.CreatedAt = time.Now()
	result := m.db.WithContext(ctx).Create(p)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create plan")
	}
	return nil
}

// GetByID returns the plan with the given id, or ErrNotFound
func (m *Manager) GetByID(ctx context.Context, id string) (*Plan, error) {
	var p Plan
	result := m.db.WithContext(ctx).First(&p, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get plan by id")
	}
	return &p, nil
}

// GetByName returns the plan with the given name, or ErrNotFound
func (m *Manager) GetByName(ctx context.Context, name string) (*Plan, error) {
	var p Plan
	result := m.db.WithContext(ctx).First(&p, "name = ?", name)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get plan by name")
	}
	return &p, nil
}

// List returns the whole catalog
func (m *Manager) List(ctx context.Context) ([]Plan, error) {
	plans := make([]Plan, 0, 4)
	result := m.db.WithContext(ctx).Order("base_price asc").Find(&plans)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}
	return plans, nil
}

// Update persists an admin edit to a catalog entry. The edit is logged so
// price changes leave a trace.
func (m *Manager) Update(ctx context.Context, p *Plan) error {
	m.logger.Info("Plan catalog edit",
		zap.String("PlanID", p.ID),
		zap.String("Name", p.Name),
		zap.String("BasePrice", p.BasePrice.String()),
	)
	result := m.db.WithContext(ctx).Model(&Plan{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
		"name":             p.Name,
		"base_price":       p.BasePrice,
		"seat_cap":         p.SeatCap,
		"extra_seat_price": p.ExtraSeatPrice,
		"cycle_days":       p.CycleDays,
		"trial":            p.Trial,
		"currency":         p.Currency,
		"updated_at":       time.Now(),
	})
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot update plan")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
