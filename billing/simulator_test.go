package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/valoratec/backoffice/plan"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMonthsInRange(t *testing.T) {
	testCases := []struct {
		name     string
		from     time.Time
		to       time.Time
		expected []string
	}{
		{
			name:     "same month",
			from:     time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
			to:       time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC),
			expected: []string{"2026-03"},
		},
		{
			name:     "spanning a quarter",
			from:     time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
			to:       time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
			expected: []string{"2026-01", "2026-02", "2026-03"},
		},
		{
			name:     "crossing a year boundary",
			from:     time.Date(2025, 12, 28, 0, 0, 0, 0, time.UTC),
			to:       time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC),
			expected: []string{"2025-12", "2026-01"},
		},
		{
			name:     "inverted range yields nothing",
			from:     time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC),
			to:       time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
			expected: []string{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			months := monthsInRange(tc.from, tc.to)
			keys := make([]string, 0, len(months))
			for _, m := range months {
				keys = append(keys, PeriodKey(m))
			}
			assert.Equal(t, tc.expected, keys)
		})
	}
}

func TestOverlapsMonth(t *testing.T) {
	march := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	endOfFeb := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	midMarch := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	april := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	testCases := []struct {
		name     string
		window   AssignmentWindow
		month    time.Time
		expected bool
	}{
		{
			name:     "open ended window started earlier",
			window:   AssignmentWindow{Start: endOfFeb},
			month:    march,
			expected: true,
		},
		{
			name:     "window entirely inside the month",
			window:   AssignmentWindow{Start: midMarch, End: &april},
			month:    march,
			expected: true,
		},
		{
			name:     "window closed before the month",
			window:   AssignmentWindow{Start: endOfFeb.AddDate(0, -1, 0), End: &endOfFeb},
			month:    march,
			expected: false,
		},
		{
			name:     "window starting after the month",
			window:   AssignmentWindow{Start: april},
			month:    march,
			expected: false,
		},
		{
			name:     "window ending on the first day still overlaps",
			window:   AssignmentWindow{Start: endOfFeb, End: &march},
			month:    march,
			expected: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, overlapsMonth(tc.window, tc.month))
		})
	}
}

func TestPeriodKey(t *testing.T) {
	assert.Equal(t, "2026-03", PeriodKey(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2025-12", PeriodKey(time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)))
}

type memoryLedger struct {
	movements []*Movement
}

func (l *memoryLedger) Create(ctx context.Context, mov *Movement) error {
	if len(mov.ID) == 0 {
		mov.ID = fmt.Sprintf("mov-%d", len(l.movements)+1)
	}
	l.movements = append(l.movements, mov)
	return nil
}

func (l *memoryLedger) HasMovementForPeriod(ctx context.Context, companyID string, mType Type, period string) (bool, error) {
	for _, m := range l.movements {
		if m.CompanyID == companyID && m.Type == mType && m.Metadata[MetaPeriod] == period {
			return true, nil
		}
	}
	return false, nil
}

func (l *memoryLedger) DeleteSimulated(ctx context.Context, companyID string, periods []string) (int64, error) {
	keep := l.movements[:0]
	var deleted int64
	for _, m := range l.movements {
		match := m.Metadata[MetaSource] == SourceSimulation
		if len(companyID) > 0 && m.CompanyID != companyID {
			match = false
		}
		if match {
			inPeriods := false
			for _, p := range periods {
				if m.Metadata[MetaPeriod] == p {
					inPeriods = true
					break
				}
			}
			match = inPeriods
		}
		if match {
			deleted++
			continue
		}
		keep = append(keep, m)
	}
	l.movements = keep
	return deleted, nil
}

type memoryCatalog map[string]*plan.Plan

func (c memoryCatalog) GetByID(ctx context.Context, id string) (*plan.Plan, error) {
	if p, ok := c[id]; ok {
		return p, nil
	}
	return nil, plan.ErrNotFound
}

type memorySeats map[string]int

func (s memorySeats) CountActiveAdvisors(ctx context.Context, companyID string) (int, error) {
	return s[companyID], nil
}

type memoryWindows []AssignmentWindow

func (w memoryWindows) ListAssignmentWindows(ctx context.Context, from, to time.Time, companyID string) ([]AssignmentWindow, error) {
	return w, nil
}

func newTestSimulator(t *testing.T, ledger *memoryLedger, seats memorySeats, windows memoryWindows) *Simulator {
	t.Helper()
	sim, err := NewSimulator(SimulatorOptions{
		Mode:            ModeSimulated,
		MovementManager: ledger,
		PlanManager: memoryCatalog{
			"plan-premium": {
				ID:             "plan-premium",
				Name:           "Premium",
				BasePrice:      d("2200"),
				SeatCap:        20,
				ExtraSeatPrice: d("50"),
				CycleDays:      30,
				Currency:       "ARS",
			},
		},
		CompanyManager: seats,
		Assignments:    windows,
		TaxRate:        d("0.21"),
		Logger:         zap.NewNop(),
	})
	require.NoError(t, err)
	return sim
}

func TestSimulatePeriodSeatOverage(t *testing.T) {
	ledger := &memoryLedger{}
	march := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sim := newTestSimulator(t, ledger,
		memorySeats{"company-1": 25},
		memoryWindows{{CompanyID: "company-1", PlanID: "plan-premium", Start: march}},
	)

	result, err := sim.SimulatePeriod(context.Background(), SimulateOptions{
		From: march,
		To:   march.AddDate(0, 0, 30),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 0, result.Skipped)
	require.Len(t, ledger.movements, 2)

	var extra *Movement
	for _, m := range ledger.movements {
		assert.Equal(t, StatePaid, m.State)
		assert.Equal(t, "2026-03", m.Metadata[MetaPeriod])
		if m.Type == TypeExtraAdvisor {
			extra = m
		}
	}
	require.NotNil(t, extra)
	// 5 seats over the cap of 20, at 50 each
	assert.True(t, extra.NetAmount.Equal(d("250")), "NetAmount: got %s", extra.NetAmount)
	assert.Equal(t, "25", extra.Metadata[MetaSeats])
	assert.Equal(t, "20", extra.Metadata[MetaSeatCap])
}

func TestSimulatePeriodRerunDeduplicates(t *testing.T) {
	ledger := &memoryLedger{}
	march := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sim := newTestSimulator(t, ledger,
		memorySeats{"company-1": 10},
		memoryWindows{{CompanyID: "company-1", PlanID: "plan-premium", Start: march}},
	)

	opt := SimulateOptions{
		From: march,
		To:   march.AddDate(0, 0, 30),
	}

	first, err := sim.SimulatePeriod(context.Background(), opt)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)

	second, err := sim.SimulatePeriod(context.Background(), opt)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 1, second.Skipped)
	assert.Len(t, ledger.movements, 1)
}

func TestSimulatePeriodOverwriteRegenerates(t *testing.T) {
	ledger := &memoryLedger{}
	march := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sim := newTestSimulator(t, ledger,
		memorySeats{"company-1": 10},
		memoryWindows{{CompanyID: "company-1", PlanID: "plan-premium", Start: march}},
	)

	opt := SimulateOptions{
		From: march,
		To:   march.AddDate(0, 0, 30),
	}

	_, err := sim.SimulatePeriod(context.Background(), opt)
	require.NoError(t, err)

	opt.Overwrite = true
	result, err := sim.SimulatePeriod(context.Background(), opt)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Overwritten)
	assert.Equal(t, 1, result.Inserted)
	assert.Len(t, ledger.movements, 1)
}

func TestSimulatePeriodLiveModeRefused(t *testing.T) {
	sim, err := NewSimulator(SimulatorOptions{
		Mode:            ModeLive,
		MovementManager: &memoryLedger{},
		PlanManager:     memoryCatalog{},
		CompanyManager:  memorySeats{},
		Assignments:     memoryWindows{},
		TaxRate:         d("0.21"),
		Logger:          zap.NewNop(),
	})
	require.NoError(t, err)

	_, err = sim.SimulatePeriod(context.Background(), SimulateOptions{
		From: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, ErrLiveMode)
}
