package cashflow

import (
	"testing"

	"github.com/valoratec/backoffice/billing"

	"github.com/stretchr/testify/assert"
)

func TestRowMatchesPlan(t *testing.T) {
	row := &CompanyRow{PlanID: "plan-premium"}

	assert.True(t, rowMatchesPlan(row, ""))
	assert.True(t, rowMatchesPlan(row, "plan-premium"))
	assert.False(t, rowMatchesPlan(row, "plan-basico"))

	// companies without an active plan only pass an empty filter
	bare := &CompanyRow{}
	assert.True(t, rowMatchesPlan(bare, ""))
	assert.False(t, rowMatchesPlan(bare, "plan-premium"))
}

func TestCountUpgradesAndDowngrades(t *testing.T) {
	movements := []billing.Movement{
		{
			Type:     billing.TypeAdjustment,
			Metadata: billing.Metadata{billing.MetaSubtype: billing.SubtypeUpgradeProration},
		},
		{
			Type:     billing.TypeAdjustment,
			Metadata: billing.Metadata{billing.MetaSubtype: billing.SubtypeUpgradeProration},
		},
		{
			Type:     billing.TypeAdjustment,
			Metadata: billing.Metadata{billing.MetaSubtype: billing.SubtypeDowngradeApplied},
		},
		{
			// an adjustment without a subtype counts as neither
			Type:     billing.TypeAdjustment,
			Metadata: billing.Metadata{},
		},
		{
			// subscription charges never count, whatever their metadata says
			Type:     billing.TypeSubscription,
			Metadata: billing.Metadata{billing.MetaSubtype: billing.SubtypeUpgradeProration},
		},
	}

	assert.Equal(t, 2, countUpgrades(movements))
	assert.Equal(t, 1, countAppliedDowngrades(movements))
}

func TestCountersOnEmptyWindow(t *testing.T) {
	assert.Equal(t, 0, countUpgrades(nil))
	assert.Equal(t, 0, countAppliedDowngrades(nil))
}
