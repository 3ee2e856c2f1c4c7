package billing

import (
	"time"
)

// Subscription status values (single source of truth)
const (
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
)

// Subscription is the one-per-account billing record. It owns both token
// buckets: TokensBalance is the monthly allotment (refreshed each cycle,
// subject to rollover caps), TopUpTokens are purchased a la carte and never
// expire. Both buckets are mutated only through the ledger and lifecycle
// services; no other code writes these columns.
type Subscription struct {
	ID        uint `gorm:"primaryKey"`
	AccountID uint `gorm:"not null;uniqueIndex:idx_subscriptions_account_id"`

	// BillingEmail is where confirmations, low-balance warnings and dunning
	// reminders go. Identity lookup is external; we only keep the address.
	BillingEmail string

	StripeCustomerID     *string `gorm:"column:stripe_customer_id;uniqueIndex:idx_subscriptions_stripe_customer_id"`
	StripeSubscriptionID *string `gorm:"column:stripe_subscription_id;uniqueIndex:idx_subscriptions_stripe_subscription_id"`

	PlanID string `gorm:"not null;default:'free'"`
	Status string `gorm:"not null;default:'active'"`

	// Balances are rational, not integral: a refine action costs 0.5.
	TokensBalance float64 `gorm:"not null;default:0"`
	TopUpTokens   float64 `gorm:"not null;default:0"`

	// TokensRefreshDate is the first day of the next cycle's month. Nil for
	// lifetime-token plans, which never refresh.
	TokensRefreshDate *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TotalTokens is the spendable balance across both buckets.
func (s *Subscription) TotalTokens() float64 {
	return s.TokensBalance + s.TopUpTokens
}

// ProcessedEvent records a payment-processor event id that has already been
// handled. Webhook redelivery of a recorded id is acknowledged without
// re-running its handler, so double credits/refreshes cannot happen.
type ProcessedEvent struct {
	EventID   string `gorm:"primaryKey"`
	CreatedAt time.Time
}

// DunningNotice is one scheduled payment-retry reminder (day 3/7/14 after a
// failed payment). The dunning worker sends due notices; a successful retry
// payment cancels the remaining ones.
type DunningNotice struct {
	ID        uint `gorm:"primaryKey"`
	AccountID uint `gorm:"not null;index:idx_dunning_notices_account_id"`
	Stage     int  `gorm:"not null"`
	SendAt    time.Time
	SentAt    *time.Time
	CreatedAt time.Time
}
