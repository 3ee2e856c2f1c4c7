package plans

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestCatalog() *Catalog {
	return NewCatalog(
		map[string]string{"price_pro": "pro", "price_team": "team", "price_ent": "enterprise"},
		map[string]float64{"price_pack_s": 100, "price_pack_l": 550},
	)
}

func TestGetDefaultsToFree(t *testing.T) {
	c := newTestCatalog()

	assert.Equal(t, PlanPro, c.Get("pro").ID)
	assert.Equal(t, PlanFree, c.Get("").ID)
	assert.Equal(t, PlanFree, c.Get("platinum").ID)
}

func TestPlanForPriceFailsSafe(t *testing.T) {
	c := newTestCatalog()

	assert.Equal(t, PlanTeam, c.PlanForPrice("price_team").ID)
	// An unknown price reference must never grant a paid plan.
	assert.Equal(t, PlanFree, c.PlanForPrice("price_unknown").ID)
}

func TestPriceForPlan(t *testing.T) {
	c := newTestCatalog()

	price, ok := c.PriceForPlan("enterprise")
	assert.True(t, ok)
	assert.Equal(t, "price_ent", price)

	_, ok = c.PriceForPlan("free")
	assert.False(t, ok)
}

func TestTopUpTokens(t *testing.T) {
	c := newTestCatalog()

	tokens, ok := c.TopUpTokens("price_pack_l")
	assert.True(t, ok)
	assert.Equal(t, 550.0, tokens)

	_, ok = c.TopUpTokens("price_pro")
	assert.False(t, ok)
}

func TestLimitSumType(t *testing.T) {
	assert.False(t, Bounded(10).IsUnlimited())
	assert.True(t, Unlimited().IsUnlimited())
	assert.Equal(t, 10.0, Bounded(10).Or(99))
	assert.Equal(t, 99.0, Unlimited().Or(99))
}

func TestTierDefinitions(t *testing.T) {
	free := newTestCatalog().Get(PlanFree)
	assert.True(t, free.TokensAreLifetime)
	assert.False(t, free.Rollover())
	assert.False(t, free.SupportsTeams())

	pro := newTestCatalog().Get(PlanPro)
	assert.Equal(t, 500.0, pro.MonthlyTokens.Value())
	assert.True(t, pro.Rollover())
	assert.Equal(t, 1000.0, pro.RolloverMaxBanked)
	assert.False(t, pro.SupportsTeams())

	team := newTestCatalog().Get(PlanTeam)
	assert.True(t, team.SupportsTeams())

	ent := newTestCatalog().Get(PlanEnterprise)
	assert.True(t, ent.MonthlyTokens.IsUnlimited())
	assert.True(t, ent.RateLimitPerHour.IsUnlimited())
	assert.True(t, ent.SupportsTeams())
	// Unlimited tiers still grant a finite, arithmetic-safe balance.
	assert.Equal(t, float64(unlimitedTokenGrant), ent.GrantTokens())
}
