package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrdering(t *testing.T) {
	assert.True(t, Premium.IsUpgradeFrom(Standard))
	assert.True(t, Premium.IsUpgradeFrom(Basis))
	assert.True(t, Standard.IsUpgradeFrom(Basis))

	assert.False(t, Standard.IsUpgradeFrom(Premium))
	assert.False(t, Basis.IsUpgradeFrom(Basis))

	assert.True(t, Basis.IsDowngradeFrom(Standard))
	assert.True(t, Standard.IsDowngradeFrom(Premium))
	assert.False(t, Premium.IsDowngradeFrom(Premium))
}

func TestUnknownPlanNeverUpgrades(t *testing.T) {
	bogus := Plan("enterprise")

	assert.False(t, Valid(bogus))
	assert.False(t, bogus.IsUpgradeFrom(Basis))
	assert.False(t, bogus.IsUpgradeFrom(Premium))
	assert.False(t, bogus.IsDowngradeFrom(Basis))
	assert.Equal(t, 0, bogus.Rank())
}

func TestPaid(t *testing.T) {
	assert.False(t, Basis.Paid())
	assert.True(t, Standard.Paid())
	assert.True(t, Premium.Paid())
}

func TestParse(t *testing.T) {
	p, err := Parse("standard")
	require.NoError(t, err)
	assert.Equal(t, Standard, p)

	_, err = Parse("gold")
	assert.Error(t, err)

	_, err = Parse("")
	assert.Error(t, err)
}

func TestCatalogCoversAllPlans(t *testing.T) {
	for _, p := range []Plan{Basis, Standard, Premium} {
		cfg := ConfigFor(p)
		assert.Equal(t, p, cfg.Plan)
		assert.NotEmpty(t, cfg.DisplayName)
	}

	// Unknown plans fall back to the free tier's limits.
	assert.Equal(t, Basis, ConfigFor(Plan("gold")).Plan)
}
