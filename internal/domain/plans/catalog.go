package plans

import "math"

// Plan ids (single source of truth)
const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanTeam       = "team"
	PlanEnterprise = "enterprise"
)

// Limit is either a bounded amount or unlimited. Keeping this a proper
// sum type avoids accidental arithmetic on an infinity sentinel.
type Limit struct {
	unlimited bool
	value     float64
}

func Bounded(v float64) Limit { return Limit{value: v} }
func Unlimited() Limit        { return Limit{unlimited: true} }

func (l Limit) IsUnlimited() bool { return l.unlimited }

// Value returns the bounded amount. Callers must handle the unlimited
// case first; unlimited limits have no meaningful value.
func (l Limit) Value() float64 {
	if l.unlimited {
		return math.MaxFloat64
	}
	return l.value
}

// Or returns the bounded amount, or ceiling when the limit is unlimited.
// Unlimited plans still get a large-but-finite operational ceiling so no
// arithmetic ever runs on infinity.
func (l Limit) Or(ceiling float64) float64 {
	if l.unlimited {
		return ceiling
	}
	return l.value
}

// Plan is an immutable tier definition. Every tier's fields are statically
// known; a missing field is a compile-time error, not a nil map lookup.
type Plan struct {
	ID                string
	MonthlyTokens     Limit
	TokensAreLifetime bool
	RolloverMonths    int
	RolloverMaxBanked float64
	RateLimitPerHour  Limit
	MaxSeats          Limit
	MaxSavedIcons     Limit
	MaxExportFormats  int
}

// Rollover reports whether unused monthly tokens carry into the next cycle.
func (p *Plan) Rollover() bool { return p.RolloverMonths > 0 }

// GrantTokens is the monthly balance written on upgrade/refresh. Unlimited
// tiers receive a finite operational grant so the ledger stays arithmetic.
func (p *Plan) GrantTokens() float64 { return p.MonthlyTokens.Or(unlimitedTokenGrant) }

// SupportsTeams reports whether the plan backs a shared team pool.
func (p *Plan) SupportsTeams() bool { return p.ID == PlanTeam || p.ID == PlanEnterprise }

const unlimitedTokenGrant = 1_000_000

var (
	free = Plan{
		ID:                PlanFree,
		MonthlyTokens:     Bounded(25),
		TokensAreLifetime: true,
		RateLimitPerHour:  Bounded(20),
		MaxSeats:          Bounded(1),
		MaxSavedIcons:     Bounded(50),
		MaxExportFormats:  1,
	}
	pro = Plan{
		ID:                PlanPro,
		MonthlyTokens:     Bounded(500),
		RolloverMonths:    1,
		RolloverMaxBanked: 1000,
		RateLimitPerHour:  Bounded(150),
		MaxSeats:          Bounded(1),
		MaxSavedIcons:     Bounded(2000),
		MaxExportFormats:  4,
	}
	team = Plan{
		ID:                PlanTeam,
		MonthlyTokens:     Bounded(2000),
		RolloverMonths:    1,
		RolloverMaxBanked: 4000,
		RateLimitPerHour:  Bounded(400),
		MaxSeats:          Bounded(10),
		MaxSavedIcons:     Bounded(10000),
		MaxExportFormats:  4,
	}
	enterprise = Plan{
		ID:               PlanEnterprise,
		MonthlyTokens:    Unlimited(),
		RateLimitPerHour: Unlimited(),
		MaxSeats:         Unlimited(),
		MaxSavedIcons:    Unlimited(),
		MaxExportFormats: 6,
	}
)

// Catalog resolves plan ids and Stripe price references to tier definitions.
type Catalog struct {
	prices map[string]string  // stripe price id -> plan id
	packs  map[string]float64 // stripe price id -> top-up token count
}

func NewCatalog(prices map[string]string, packs map[string]float64) *Catalog {
	return &Catalog{prices: prices, packs: packs}
}

// Get returns the tier definition for a plan id, defaulting to free for
// anything unrecognized. Never silently grants a paid plan.
func (c *Catalog) Get(planID string) *Plan {
	switch planID {
	case PlanPro:
		return &pro
	case PlanTeam:
		return &team
	case PlanEnterprise:
		return &enterprise
	default:
		return &free
	}
}

// PlanForPrice maps a Stripe price reference to a plan. Unknown references
// resolve to free (fail safe).
func (c *Catalog) PlanForPrice(priceID string) *Plan {
	return c.Get(c.prices[priceID])
}

// PriceForPlan is the inverse lookup, used when creating checkout sessions.
func (c *Catalog) PriceForPlan(planID string) (string, bool) {
	for price, id := range c.prices {
		if id == planID {
			return price, true
		}
	}
	return "", false
}

// TopUpTokens returns the token count sold under a one-time price reference.
func (c *Catalog) TopUpTokens(priceID string) (float64, bool) {
	tokens, ok := c.packs[priceID]
	return tokens, ok
}
