package cashflow

import (
	"context"
	"fmt"
	"time"

	"github.com/valoratec/backoffice/billing"
	"github.com/valoratec/backoffice/company"
	"github.com/valoratec/backoffice/plan"
	"github.com/valoratec/backoffice/subscription"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ManagerOptions wires the cashflow aggregator
type ManagerOptions struct {
	DB                  *gorm.DB
	CompanyManager      *company.Manager
	PlanManager         *plan.Manager
	SubscriptionManager *subscription.Manager
	MovementManager     *billing.Manager
	Logger              *zap.Logger
}

// Manager computes the back-office cashflow view: one row per company with its
// recurring revenue and ledger activity, plus portfolio-level indicators. It
// reads, it never writes.
type Manager struct {
	ManagerOptions
}

// NewManager validates the wiring and returns a cashflow Manager
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.CompanyManager == nil {
		return nil, fmt.Errorf("nil CompanyManager is invalid")
	}
	if option.PlanManager == nil {
		return nil, fmt.Errorf("nil PlanManager is invalid")
	}
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.MovementManager == nil {
		return nil, fmt.Errorf("nil MovementManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// CompanyRow is one company's slice of the cashflow view
type CompanyRow struct {
	CompanyID     string            `json:"companyId"`
	CompanyName   string            `json:"companyName"`
	PlanID        string            `json:"planId,omitempty"`
	PlanName      string            `json:"planName,omitempty"`
	Status        string            `json:"status,omitempty"`
	MRR           decimal.Decimal   `json:"mrr"`
	Overage       decimal.Decimal   `json:"overage"`
	Seats         int               `json:"seats"`
	SeatCap       int               `json:"seatCap"`
	ExcessSeats   int               `json:"excessSeats"`
	MovementCount int               `json:"movementCount"`
	PaidCount     int               `json:"paidCount"`
	PendingCount  int               `json:"pendingCount"`
	NetRevenue    decimal.Decimal   `json:"netRevenue"`
	LastMovement  *billing.Movement `json:"lastMovement,omitempty"`
}

// KPI is the portfolio-level aggregate over the requested window
type KPI struct {
	TotalMRR     decimal.Decimal `json:"totalMrr"`
	GrossRevenue decimal.Decimal `json:"grossRevenue"`
	NetRevenue   decimal.Decimal `json:"netRevenue"`
	ARPU         decimal.Decimal `json:"arpu"`
	Companies    int             `json:"companies"`
	Upgrades     int             `json:"upgrades"`
	Downgrades   int             `json:"downgrades"`
}

// SummarizeOptions bounds, filters and pages a summary request. CompanyID,
// PlanID and State are optional narrowing filters.
type SummarizeOptions struct {
	From      time.Time
	To        time.Time
	CompanyID string
	PlanID    string
	State     billing.State
	Page      int
	PerPage   int
}

// Summary is the full cashflow response
type Summary struct {
	Rows    []CompanyRow `json:"rows"`
	KPIs    KPI          `json:"kpis"`
	Page    int          `json:"page"`
	PerPage int          `json:"perPage"`
	Total   int          `json:"total"`
}

// Summarize builds the cashflow view for the window. KPIs always cover the
// whole portfolio; only the rows are paged.
func (m *Manager) Summarize(ctx context.Context, opt SummarizeOptions) (*Summary, error) {
	if opt.PerPage <= 0 {
		opt.PerPage = 50
	}
	if opt.Page <= 0 {
		opt.Page = 1
	}

	var companies []company.Company
	if len(opt.CompanyID) > 0 {
		comp, err := m.CompanyManager.GetByID(ctx, opt.CompanyID)
		if err != nil {
			return nil, err
		}
		if comp != nil {
			companies = append(companies, *comp)
		}
	} else {
		var err error
		companies, err = m.CompanyManager.List(ctx, company.ListOption{})
		if err != nil {
			return nil, err
		}
	}

	movements, err := m.MovementManager.List(ctx, billing.ListOption{
		CompanyID: opt.CompanyID,
		From:      opt.From,
		To:        opt.To,
		State:     opt.State,
	})
	if err != nil {
		return nil, err
	}
	byCompany := lo.GroupBy(movements, func(mov billing.Movement) string {
		return mov.CompanyID
	})

	rows := make([]CompanyRow, 0, len(companies))
	kpi := KPI{
		TotalMRR:     decimal.Zero,
		GrossRevenue: decimal.Zero,
		NetRevenue:   decimal.Zero,
		ARPU:         decimal.Zero,
	}

	for _, c := range companies {
		row, err := m.companyRow(ctx, &c, byCompany[c.ID])
		if err != nil {
			return nil, err
		}
		if !rowMatchesPlan(row, opt.PlanID) {
			continue
		}
		rows = append(rows, *row)

		kpi.TotalMRR = kpi.TotalMRR.Add(row.MRR).Add(row.Overage)
		kpi.NetRevenue = kpi.NetRevenue.Add(row.NetRevenue)
	}

	paid := lo.Filter(movements, func(mov billing.Movement, _ int) bool {
		return mov.State == billing.StatePaid
	})
	kpi.GrossRevenue = lo.Reduce(paid, func(acc decimal.Decimal, mov billing.Movement, _ int) decimal.Decimal {
		return acc.Add(mov.TotalAmount)
	}, decimal.Zero)

	kpi.Upgrades = countUpgrades(movements)

	// applied downgrades come from their ledger trace, still-scheduled ones
	// from the subscription records
	pending, err := m.countPendingDowngrades(ctx, opt)
	if err != nil {
		return nil, err
	}
	kpi.Downgrades = countAppliedDowngrades(movements) + pending

	kpi.Companies = len(rows)
	if kpi.Companies > 0 {
		kpi.ARPU = kpi.TotalMRR.DivRound(decimal.NewFromInt(int64(kpi.Companies)), 2)
	}

	total := len(rows)
	start := (opt.Page - 1) * opt.PerPage
	if start > total {
		start = total
	}
	end := start + opt.PerPage
	if end > total {
		end = total
	}

	return &Summary{
		Rows:    rows[start:end],
		KPIs:    kpi,
		Page:    opt.Page,
		PerPage: opt.PerPage,
		Total:   total,
	}, nil
}

func (m *Manager) companyRow(ctx context.Context, c *company.Company, movements []billing.Movement) (*CompanyRow, error) {
	row := &CompanyRow{
		CompanyID:   c.ID,
		CompanyName: c.Name,
		MRR:         decimal.Zero,
		Overage:     decimal.Zero,
		NetRevenue:  decimal.Zero,
	}

	sub, err := m.SubscriptionManager.GetByCompany(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		row.Status = string(sub.Status)
	}

	assignment, err := m.SubscriptionManager.GetActiveAssignment(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	seats, err := m.CompanyManager.CountActiveAdvisors(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	row.Seats = seats

	if assignment != nil && (sub == nil || sub.Status == subscription.StatusActive) {
		p, err := m.PlanManager.GetByID(ctx, assignment.PlanID)
		if err != nil {
			return nil, err
		}
		row.PlanID = p.ID
		row.PlanName = p.Name

		mrr, err := m.SubscriptionManager.ResolveNetPrice(ctx, p.ID, c.ID)
		if err != nil {
			return nil, err
		}
		row.MRR = mrr

		seatCap := p.SeatCap
		if assignment.SeatCapOverride != nil {
			seatCap = *assignment.SeatCapOverride
		}
		row.SeatCap = seatCap
		if seatCap > 0 && seats > seatCap {
			row.ExcessSeats = seats - seatCap
			row.Overage = p.ExtraSeatPrice.Mul(decimal.NewFromInt(int64(row.ExcessSeats)))
		}
	}

	row.MovementCount = len(movements)
	for i := range movements {
		mov := &movements[i]
		switch mov.State {
		case billing.StatePaid:
			row.PaidCount++
			row.NetRevenue = row.NetRevenue.Add(mov.NetAmount)
		case billing.StatePending:
			row.PendingCount++
		}
		if row.LastMovement == nil || mov.Date.After(row.LastMovement.Date) {
			row.LastMovement = mov
		}
	}

	return row, nil
}

// rowMatchesPlan reports whether a summary row passes the optional plan filter
func rowMatchesPlan(row *CompanyRow, planID string) bool {
	return len(planID) == 0 || row.PlanID == planID
}

// countUpgrades counts the proration adjustments upgrades leave in the ledger
func countUpgrades(movements []billing.Movement) int {
	return lo.CountBy(movements, func(mov billing.Movement) bool {
		return mov.Type == billing.TypeAdjustment &&
			mov.Metadata[billing.MetaSubtype] == billing.SubtypeUpgradeProration
	})
}

// countAppliedDowngrades counts the zero-amount entries executed downgrades
// leave in the ledger
func countAppliedDowngrades(movements []billing.Movement) int {
	return lo.CountBy(movements, func(mov billing.Movement) bool {
		return mov.Type == billing.TypeAdjustment &&
			mov.Metadata[billing.MetaSubtype] == billing.SubtypeDowngradeApplied
	})
}

// countPendingDowngrades counts subscriptions whose deferred plan swap lands
// inside the window and has not executed yet
func (m *Manager) countPendingDowngrades(ctx context.Context, opt SummarizeOptions) (int, error) {
	baseQuery := m.DB.WithContext(ctx).
		Model(&subscription.Subscription{}).
		Where("scheduled_plan_id IS NOT NULL")
	if len(opt.CompanyID) > 0 {
		baseQuery = baseQuery.Where("company_id = ?", opt.CompanyID)
	}
	if !opt.From.IsZero() {
		baseQuery = baseQuery.Where("scheduled_for >= ?", opt.From)
	}
	if !opt.To.IsZero() {
		baseQuery = baseQuery.Where("scheduled_for <= ?", opt.To)
	}
	var count int64
	if result := baseQuery.Count(&count); result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return 0, result.Error
	}
	return int(count), nil
}
