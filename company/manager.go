package company

import (
	"context"
	"errors"
	"time"

	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations relating to Companies and their Advisors
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for companies
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Company{}, &Advisor{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize company.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// NewCompany will create a new company profile in the database
func (m *Manager) NewCompany(ctx context.Context, name, email, taxID string) (*Company, error) {
	newCompany := &Company{
		ID:        shortuuid.New(),
		Name:      name,
		Email:     email,
		TaxID:     taxID,
		CreatedAt: time.Now(),
	}

	result := m.db.WithContext(ctx).Create(newCompany)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot create a new Company")
	}

	return newCompany, nil
}

// GetByID will try to return the company in the database by id
func (m *Manager) GetByID(ctx context.Context, id string) (*Company, error) {
	var comp Company

	result := m.db.WithContext(ctx).First(&comp, "id = ?", id)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get company by id")
	}

	return &comp, nil
}

// ListOption filters the companies returned by List
type ListOption struct {
	Before time.Time
	Limit  int
}

// List returns companies ordered by creation date
func (m *Manager) List(ctx context.Context, opt ListOption) ([]Company, error) {
	baseQuery := m.db.WithContext(ctx).Order("created_at desc")
	if opt.Limit > 0 {
		baseQuery = baseQuery.Limit(opt.Limit)
	}
	if !opt.Before.IsZero() {
		baseQuery = baseQuery.Where("created_at < ?", opt.Before)
	}

	results := make([]Company, 0, 1)
	result := baseQuery.Find(&results)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}
	return results, nil
}

// AddAdvisor registers a new active advisor under a company
func (m *Manager) AddAdvisor(ctx context.Context, companyID, name, email string) (*Advisor, error) {
	advisor := &Advisor{
		ID:        shortuuid.New(),
		CompanyID: companyID,
		Name:      name,
		Email:     email,
		Active:    true,
		CreatedAt: time.Now(),
	}
	result := m.db.WithContext(ctx).Create(advisor)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot create a new Advisor")
	}
	return advisor, nil
}

// CountActiveAdvisors returns how many seats a company is consuming
func (m *Manager) CountActiveAdvisors(ctx context.Context, companyID string) (int, error) {
	var count int64
	result := m.db.WithContext(ctx).
		Model(&Advisor{}).
		Where("company_id = ?", companyID).
		Where("active = ?", true).
		Count(&count)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return 0, extErrors.Wrap(result.Error, "Cannot count advisors")
	}
	return int(count), nil
}

// CompanyIDByAgentEmail resolves the company an agent email belongs to.
// Company contact emails take precedence over advisor emails.
func (m *Manager) CompanyIDByAgentEmail(ctx context.Context, email string) (string, error) {
	var comp Company
	result := m.db.WithContext(ctx).First(&comp, "email = ?", email)
	if result.Error == nil {
		return comp.ID, nil
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return "", extErrors.Wrap(result.Error, "Cannot look up company by email")
	}

	var advisor Advisor
	result = m.db.WithContext(ctx).First(&advisor, "email = ? AND active = ?", email, true)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if result.Error != nil {
		return "", extErrors.Wrap(result.Error, "Cannot look up advisor by email")
	}
	return advisor.CompanyID, nil
}
