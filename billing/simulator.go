package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/valoratec/backoffice/broker"
	"github.com/valoratec/backoffice/plan"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrLiveMode is returned when a simulation run is attempted against live billing
var ErrLiveMode = errors.New("period simulation is disabled in live billing mode")

// AssignmentWindow is the slice of a company-plan assignment the simulator
// needs: who, which plan, and the interval the binding was active for.
type AssignmentWindow struct {
	CompanyID       string
	PlanID          string
	Start           time.Time
	End             *time.Time
	SeatCapOverride *int
}

// AssignmentSource enumerates assignments overlapping a date range.
// Implemented by subscription.Manager.
type AssignmentSource interface {
	ListAssignmentWindows(ctx context.Context, from, to time.Time, companyID string) ([]AssignmentWindow, error)
}

// MovementStore is the slice of the ledger the simulator writes through.
// Implemented by Manager.
type MovementStore interface {
	Create(ctx context.Context, mov *Movement) error
	HasMovementForPeriod(ctx context.Context, companyID string, mType Type, period string) (bool, error)
	DeleteSimulated(ctx context.Context, companyID string, periods []string) (int64, error)
}

// PlanSource resolves catalog entries by id. Implemented by plan.Manager.
type PlanSource interface {
	GetByID(ctx context.Context, id string) (*plan.Plan, error)
}

// SeatSource reports how many advisor seats a company consumes.
// Implemented by company.Manager.
type SeatSource interface {
	CountActiveAdvisors(ctx context.Context, companyID string) (int, error)
}

// SimulatorOptions wires the period simulator
type SimulatorOptions struct {
	Mode            Mode
	MovementManager MovementStore
	PlanManager     PlanSource
	CompanyManager  SeatSource
	Assignments     AssignmentSource
	Broker          broker.Broker
	TaxRate         decimal.Decimal
	Logger          *zap.Logger
}

// Simulator materializes subscription and seat-overage charges into the ledger
// for a date range. It is a test-data tool: it refuses to run in live mode and
// writes movements directly in paid state.
type Simulator struct {
	SimulatorOptions
}

// NewSimulator validates the wiring and returns a Simulator
func NewSimulator(option SimulatorOptions) (*Simulator, error) {
	if option.MovementManager == nil {
		return nil, fmt.Errorf("nil MovementManager is invalid")
	}
	if option.PlanManager == nil {
		return nil, fmt.Errorf("nil PlanManager is invalid")
	}
	if option.CompanyManager == nil {
		return nil, fmt.Errorf("nil CompanyManager is invalid")
	}
	if option.Assignments == nil {
		return nil, fmt.Errorf("nil Assignments is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Simulator{
		SimulatorOptions: option,
	}, nil
}

// SimulateOptions bounds one simulation run
type SimulateOptions struct {
	From      time.Time
	To        time.Time
	CompanyID string
	Overwrite bool
}

// SimulateResult summarizes what a run did
type SimulateResult struct {
	Inserted    int      `json:"inserted"`
	Skipped     int      `json:"skipped"`
	Overwritten int      `json:"overwritten"`
	Periods     []string `json:"periods"`
}

// monthsInRange returns the first day of every calendar month overlapping [from, to]
func monthsInRange(from, to time.Time) []time.Time {
	if to.Before(from) {
		return nil
	}
	months := make([]time.Time, 0, 4)
	cursor := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cursor.After(last) {
		months = append(months, cursor)
		cursor = cursor.AddDate(0, 1, 0)
	}
	return months
}

// PeriodKey is the metadata dedup key for a calendar month
func PeriodKey(month time.Time) string {
	return month.Format("2006-01")
}

// overlapsMonth reports whether the assignment was active at any point of the month
func overlapsMonth(w AssignmentWindow, monthStart time.Time) bool {
	monthEnd := monthStart.AddDate(0, 1, 0)
	if !w.Start.Before(monthEnd) {
		return false
	}
	if w.End != nil && w.End.Before(monthStart) {
		return false
	}
	return true
}

// SimulatePeriod generates the ledger rows for every assignment-month pair in
// range, with one subscription charge per (company, month) and an extra_asesor
// charge when the company's active advisors exceed its effective seat cap.
func (s *Simulator) SimulatePeriod(ctx context.Context, opt SimulateOptions) (*SimulateResult, error) {
	if s.Mode == ModeLive {
		return nil, ErrLiveMode
	}
	if opt.To.Before(opt.From) {
		return nil, fmt.Errorf("invalid range: %s is after %s", opt.From.Format("2006-01-02"), opt.To.Format("2006-01-02"))
	}

	months := monthsInRange(opt.From, opt.To)
	periods := make([]string, 0, len(months))
	for _, m := range months {
		periods = append(periods, PeriodKey(m))
	}

	result := &SimulateResult{
		Periods: periods,
	}

	if opt.Overwrite {
		deleted, err := s.MovementManager.DeleteSimulated(ctx, opt.CompanyID, periods)
		if err != nil {
			// best effort: regeneration proceeds, dedup will skip survivors
			s.Logger.Warn("Unable to delete prior simulated movements",
				zap.Error(err),
			)
		}
		result.Overwritten = int(deleted)
	}

	windows, err := s.Assignments.ListAssignmentWindows(ctx, opt.From, opt.To, opt.CompanyID)
	if err != nil {
		return nil, err
	}

	planCache := make(map[string]*plan.Plan)
	seatCache := make(map[string]int)

	for _, w := range windows {
		p, ok := planCache[w.PlanID]
		if !ok {
			p, err = s.PlanManager.GetByID(ctx, w.PlanID)
			if err != nil {
				return nil, err
			}
			planCache[w.PlanID] = p
		}

		seats, ok := seatCache[w.CompanyID]
		if !ok {
			seats, err = s.CompanyManager.CountActiveAdvisors(ctx, w.CompanyID)
			if err != nil {
				return nil, err
			}
			seatCache[w.CompanyID] = seats
		}

		for _, month := range months {
			if !overlapsMonth(w, month) {
				continue
			}
			period := PeriodKey(month)

			inserted, err := s.emit(ctx, w.CompanyID, TypeSubscription, month, period, p.BasePrice, p.Currency, Metadata{
				MetaPeriod: period,
				MetaSource: SourceSimulation,
			})
			if err != nil {
				return nil, err
			}
			if inserted {
				result.Inserted++
			} else {
				result.Skipped++
			}

			seatCap := p.SeatCap
			if w.SeatCapOverride != nil {
				seatCap = *w.SeatCapOverride
			}
			if seatCap <= 0 || seats <= seatCap {
				continue
			}
			excess := seats - seatCap
			amount := p.ExtraSeatPrice.Mul(decimal.NewFromInt(int64(excess)))
			inserted, err = s.emit(ctx, w.CompanyID, TypeExtraAdvisor, month, period, amount, p.Currency, Metadata{
				MetaPeriod:  period,
				MetaSource:  SourceSimulation,
				MetaSeats:   strconv.Itoa(seats),
				MetaSeatCap: strconv.Itoa(seatCap),
			})
			if err != nil {
				return nil, err
			}
			if inserted {
				result.Inserted++
			} else {
				result.Skipped++
			}
		}
	}

	if s.Broker != nil {
		if err := s.Broker.PublishBillingEvent(&broker.BillingEvent{
			Kind:       broker.EventPeriodSimulated,
			CompanyID:  opt.CompanyID,
			Detail:     fmt.Sprintf("%d inserted, %d skipped", result.Inserted, result.Skipped),
			OccurredAt: time.Now(),
		}); err != nil {
			s.Logger.Warn("Unable to publish simulation event",
				zap.Error(err),
			)
		}
	}

	return result, nil
}

// emit writes one settled movement unless the (company, period, type) key is taken
func (s *Simulator) emit(ctx context.Context, companyID string, mType Type, date time.Time, period string, net decimal.Decimal, currency string, meta Metadata) (bool, error) {
	exists, err := s.MovementManager.HasMovementForPeriod(ctx, companyID, mType, period)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	tax := net.Mul(s.TaxRate).Round(2)
	mov := &Movement{
		CompanyID:   companyID,
		Date:        date,
		Type:        mType,
		State:       StatePaid,
		NetAmount:   net.Round(2),
		TaxAmount:   tax,
		TotalAmount: net.Round(2).Add(tax),
		Currency:    currency,
		Gateway:     SourceSimulation,
		Metadata:    meta,
	}
	if err := s.MovementManager.Create(ctx, mov); err != nil {
		return false, err
	}
	return true, nil
}
