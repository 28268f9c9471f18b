package subscription

import (
	"testing"

	"github.com/valoratec/backoffice/plan"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func intPtr(v int) *int {
	return &v
}

func TestNetPriceForPlan(t *testing.T) {
	premiumBase := d("2200")

	custom := &plan.Plan{
		ID:             "plan-custom",
		Name:           plan.CustomPlanName,
		ExtraSeatPrice: d("50"),
	}
	premium := &plan.Plan{
		ID:        "plan-premium",
		Name:      plan.PremiumPlanName,
		BasePrice: premiumBase,
	}

	price := d("1800")

	testCases := []struct {
		name       string
		plan       *plan.Plan
		assignment *PlanAssignment
		expected   string
	}{
		{
			name:     "custom plan with no cap falls back to the floor",
			plan:     custom,
			expected: "2250", // 2200 + (21-20)*50
		},
		{
			name: "custom plan priced off the assignment override",
			plan: custom,
			assignment: &PlanAssignment{
				PlanID:          custom.ID,
				Active:          true,
				SeatCapOverride: intPtr(30),
			},
			expected: "2700", // 2200 + 10*50
		},
		{
			name: "custom plan cap below the included seats charges the base",
			plan: custom,
			assignment: &PlanAssignment{
				PlanID:          custom.ID,
				Active:          true,
				SeatCapOverride: intPtr(15),
			},
			expected: "2200",
		},
		{
			name: "custom plan cap on the plan itself",
			plan: &plan.Plan{
				ID:             "plan-custom-2",
				Name:           plan.CustomPlanName,
				SeatCap:        25,
				ExtraSeatPrice: d("50"),
			},
			expected: "2450", // 2200 + 5*50
		},
		{
			name:     "standard plan charges its base price",
			plan:     premium,
			expected: "2200",
		},
		{
			name: "standard plan with a negotiated override",
			plan: premium,
			assignment: &PlanAssignment{
				PlanID:           premium.ID,
				Active:           true,
				NetPriceOverride: &price,
			},
			expected: "1800",
		},
		{
			name: "override on an inactive assignment is ignored",
			plan: premium,
			assignment: &PlanAssignment{
				PlanID:           premium.ID,
				Active:           false,
				NetPriceOverride: &price,
			},
			expected: "2200",
		},
		{
			name: "override bound to a different plan is ignored",
			plan: premium,
			assignment: &PlanAssignment{
				PlanID:           "plan-other",
				Active:           true,
				NetPriceOverride: &price,
			},
			expected: "2200",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := NetPriceForPlan(tc.plan, premiumBase, tc.assignment)
			assert.True(t, got.Equal(d(tc.expected)), "got %s, expected %s", got, tc.expected)
		})
	}
}
