package ledger

import (
	"errors"
	"fmt"
	"math"
	"time"

	"iconforge/internal/domain/billing"
	"iconforge/internal/domain/plans"

	"gorm.io/gorm"
)

var (
	ErrNoSubscription = errors.New("no subscription for account")
	ErrInvalidAmount  = errors.New("amount must be positive")
)

// Ledger owns the two-bucket token balance of an account. Deductions are a
// single guarded UPDATE so two concurrent requests can never both spend the
// same tokens: the funds check and the subtraction happen in one statement
// against the store, never as a read-then-write pair in the application.
type Ledger struct {
	db      *gorm.DB
	catalog *plans.Catalog
}

func New(db *gorm.DB, catalog *plans.Catalog) *Ledger {
	return &Ledger{db: db, catalog: catalog}
}

// DeductResult reports the outcome of a deduction attempt. Remaining is the
// post-deduct total on success, and the untouched total on failure.
type DeductResult struct {
	Success   bool    `json:"success"`
	Remaining float64 `json:"remaining"`
}

// Deduct spends amount tokens, draining the monthly bucket first and any
// remainder from top-up tokens. Fails closed with no mutation when the
// combined balance cannot cover the amount.
//
// Monthly-first order is deliberate: monthly tokens are forfeited at
// refresh while top-up tokens never expire, so draining monthly first
// maximizes the value of purchased credits.
func (l *Ledger) Deduct(accountID uint, amount float64) (DeductResult, error) {
	if amount <= 0 {
		return DeductResult{}, ErrInvalidAmount
	}

	// Both buckets change in one statement; column references on the right
	// hand side see the pre-update row, so the split is computed against a
	// consistent snapshot and the WHERE guard keeps both buckets >= 0.
	res := l.db.Model(&billing.Subscription{}).
		Where("account_id = ? AND tokens_balance + top_up_tokens >= ?", accountID, amount).
		Updates(map[string]interface{}{
			"tokens_balance": gorm.Expr(
				"CASE WHEN tokens_balance >= ? THEN tokens_balance - ? ELSE 0 END",
				amount, amount),
			"top_up_tokens": gorm.Expr(
				"CASE WHEN tokens_balance >= ? THEN top_up_tokens ELSE top_up_tokens - (? - tokens_balance) END",
				amount, amount),
		})
	if res.Error != nil {
		return DeductResult{}, fmt.Errorf("deduct tokens: %w", res.Error)
	}

	sub, err := l.subscription(accountID)
	if err != nil {
		return DeductResult{}, err
	}

	if res.RowsAffected == 0 {
		// Insufficient funds. Possibly a race after a passing eligibility
		// check; treated identically: no partial deduction.
		return DeductResult{Success: false, Remaining: sub.TotalTokens()}, nil
	}
	return DeductResult{Success: true, Remaining: sub.TotalTokens()}, nil
}

// Credit adds purchased tokens to the top-up bucket. Top-up tokens never
// expire and are untouched by monthly refresh.
func (l *Ledger) Credit(accountID uint, amount float64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	res := l.db.Model(&billing.Subscription{}).
		Where("account_id = ?", accountID).
		Update("top_up_tokens", gorm.Expr("top_up_tokens + ?", amount))
	if res.Error != nil {
		return fmt.Errorf("credit tokens: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNoSubscription
	}
	return nil
}

// Refresh resets the monthly bucket for a new billing cycle. Lifetime-token
// plans never refresh. A refresh whose stored refresh date is still in the
// future is a replayed cycle event and is skipped, so webhook redelivery
// cannot double-apply the rollover computation.
func (l *Ledger) Refresh(accountID uint) error {
	sub, err := l.subscription(accountID)
	if err != nil {
		return err
	}

	plan := l.catalog.Get(sub.PlanID)
	if plan.TokensAreLifetime {
		return nil
	}

	allotment := plan.GrantTokens()
	newBalance := allotment
	if plan.Rollover() {
		banked := math.Max(0, math.Min(sub.TokensBalance, plan.RolloverMaxBanked-allotment))
		newBalance = math.Min(allotment+banked, plan.RolloverMaxBanked)
	}

	// The replay guard lives in the WHERE clause so two concurrent cycle
	// events cannot both apply: whichever write lands first advances the
	// refresh date past now, and the loser updates zero rows.
	now := time.Now().UTC()
	res := l.db.Model(&billing.Subscription{}).
		Where("account_id = ? AND (tokens_refresh_date IS NULL OR tokens_refresh_date <= ?)", accountID, now).
		Updates(map[string]interface{}{
			"tokens_balance":      newBalance,
			"tokens_refresh_date": firstOfNextMonth(now),
		})
	if res.Error != nil {
		return fmt.Errorf("refresh tokens: %w", res.Error)
	}
	// Zero rows means the cycle already refreshed; nothing left to do.
	return nil
}

// Balance is a pure read of both buckets.
type Balance struct {
	Monthly float64 `json:"monthly"`
	TopUp   float64 `json:"top_up"`
	Total   float64 `json:"total"`
}

func (l *Ledger) Balance(accountID uint) (Balance, error) {
	sub, err := l.subscription(accountID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		Monthly: sub.TokensBalance,
		TopUp:   sub.TopUpTokens,
		Total:   sub.TotalTokens(),
	}, nil
}

func (l *Ledger) subscription(accountID uint) (*billing.Subscription, error) {
	var sub billing.Subscription
	if err := l.db.Where("account_id = ?", accountID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSubscription
		}
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	return &sub, nil
}

func firstOfNextMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
