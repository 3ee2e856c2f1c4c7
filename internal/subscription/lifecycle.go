package subscription

import (
	"errors"
	"fmt"
	"time"

	"iconforge/internal/domain/billing"
	"iconforge/internal/domain/plans"

	"gorm.io/gorm"
)

var ErrAlreadyExists = errors.New("subscription already exists for account")

// Service is the only writer of an account's plan and status. Feature code
// never touches subscription rows directly; it goes through these
// transitions or through the token ledger.
type Service struct {
	db      *gorm.DB
	catalog *plans.Catalog
}

func NewService(db *gorm.DB, catalog *plans.Catalog) *Service {
	return &Service{db: db, catalog: catalog}
}

// CreateFree provisions the initial subscription at signup: active, free
// plan, the free tier's lifetime token grant, no refresh date.
func (s *Service) CreateFree(accountID uint, billingEmail, stripeCustomerID string) (*billing.Subscription, error) {
	free := s.catalog.Get(plans.PlanFree)
	sub := billing.Subscription{
		AccountID:     accountID,
		BillingEmail:  billingEmail,
		PlanID:        plans.PlanFree,
		Status:        billing.StatusActive,
		TokensBalance: free.GrantTokens(),
	}
	if stripeCustomerID != "" {
		sub.StripeCustomerID = &stripeCustomerID
	}
	if err := s.db.Create(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return &sub, nil
}

// Upgrade moves the account onto a paid plan. The monthly bucket is a fresh
// grant of the new plan's allotment, a full reset rather than an addition.
// Top-up tokens are untouched.
func (s *Service) Upgrade(accountID uint, planID string, stripeSubscriptionID string) error {
	plan := s.catalog.Get(planID)

	updates := map[string]interface{}{
		"plan_id":                plan.ID,
		"status":                 billing.StatusActive,
		"tokens_balance":         plan.GrantTokens(),
		"stripe_subscription_id": stripeSubscriptionID,
	}
	if plan.TokensAreLifetime {
		updates["tokens_refresh_date"] = nil
	} else {
		updates["tokens_refresh_date"] = firstOfNextMonth(time.Now().UTC())
	}

	return s.update(accountID, updates)
}

// MarkPastDue flags a failed payment. Plan and tokens are untouched: the
// account keeps feature access through the grace period until an explicit
// downgrade.
func (s *Service) MarkPastDue(accountID uint) error {
	return s.update(accountID, map[string]interface{}{"status": billing.StatusPastDue})
}

// ClearPastDue restores active status after a successful retry payment,
// without touching plan or tokens.
func (s *Service) ClearPastDue(accountID uint) error {
	return s.update(accountID, map[string]interface{}{"status": billing.StatusActive})
}

// DowngradeToFree returns the account to the free plan after cancellation.
// Both token buckets are zeroed — cancellation forfeits purchased top-up
// credits as well — and the external subscription reference is cleared.
func (s *Service) DowngradeToFree(accountID uint) error {
	return s.update(accountID, map[string]interface{}{
		"plan_id":                plans.PlanFree,
		"status":                 billing.StatusActive,
		"tokens_balance":         0,
		"top_up_tokens":          0,
		"tokens_refresh_date":    nil,
		"stripe_subscription_id": nil,
	})
}

// Cancel closes the account for good. Never a hard delete: the row stays
// with canceled status and empty buckets.
func (s *Service) Cancel(accountID uint) error {
	return s.update(accountID, map[string]interface{}{
		"status":                 billing.StatusCanceled,
		"tokens_balance":         0,
		"top_up_tokens":          0,
		"tokens_refresh_date":    nil,
		"stripe_subscription_id": nil,
	})
}

// Eligibility is the answer to "may this account use a metered feature".
type Eligibility struct {
	Allowed         bool    `json:"allowed"`
	Reason          string  `json:"reason,omitempty"`
	TokensRemaining float64 `json:"tokens_remaining"`
	PlanID          string  `json:"plan_id"`
}

// CanUse checks status and balance without mutating anything. The reason
// string distinguishes a drained lifetime grant from a drained cycle, and
// mentions the refresh date for the latter.
func (s *Service) CanUse(accountID uint) (Eligibility, error) {
	sub, err := s.Get(accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Eligibility{Reason: "No subscription found for this account"}, nil
		}
		return Eligibility{}, err
	}

	elig := Eligibility{
		TokensRemaining: sub.TotalTokens(),
		PlanID:          sub.PlanID,
	}

	if sub.Status == billing.StatusCanceled {
		elig.Reason = "Your subscription has been canceled"
		return elig, nil
	}

	if sub.TotalTokens() < 1 {
		plan := s.catalog.Get(sub.PlanID)
		if plan.TokensAreLifetime {
			elig.Reason = "You've used all of your free tokens. Upgrade to keep generating icons."
		} else if sub.TokensRefreshDate != nil {
			elig.Reason = fmt.Sprintf("You're out of tokens for this billing cycle. Your tokens refresh on %s.",
				sub.TokensRefreshDate.Format("January 2, 2006"))
		} else {
			elig.Reason = "You're out of tokens for this billing cycle."
		}
		return elig, nil
	}

	elig.Allowed = true
	return elig, nil
}

// Get loads the subscription row for an account.
func (s *Service) Get(accountID uint) (*billing.Subscription, error) {
	var sub billing.Subscription
	if err := s.db.Where("account_id = ?", accountID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetByStripeCustomer resolves a subscription from the payment processor's
// customer reference, used by webhook handlers without account metadata.
func (s *Service) GetByStripeCustomer(customerID string) (*billing.Subscription, error) {
	var sub billing.Subscription
	if err := s.db.Where("stripe_customer_id = ?", customerID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetByStripeSubscription resolves a subscription from the external
// subscription reference.
func (s *Service) GetByStripeSubscription(stripeSubID string) (*billing.Subscription, error) {
	var sub billing.Subscription
	if err := s.db.Where("stripe_subscription_id = ?", stripeSubID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// SetStripeCustomer stores the processor customer reference once it exists.
func (s *Service) SetStripeCustomer(accountID uint, customerID string) error {
	return s.update(accountID, map[string]interface{}{"stripe_customer_id": customerID})
}

func (s *Service) update(accountID uint, updates map[string]interface{}) error {
	res := s.db.Model(&billing.Subscription{}).
		Where("account_id = ?", accountID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func firstOfNextMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
