package ledger

import (
	"testing"
	"time"

	"iconforge/database"
	"iconforge/internal/domain/billing"
	"iconforge/internal/domain/plans"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func testCatalog() *plans.Catalog {
	return plans.NewCatalog(
		map[string]string{"price_pro": "pro", "price_team": "team", "price_ent": "enterprise"},
		map[string]float64{"price_pack": 100},
	)
}

func seedSubscription(t *testing.T, db *gorm.DB, sub billing.Subscription) {
	t.Helper()
	if sub.Status == "" {
		sub.Status = billing.StatusActive
	}
	if sub.PlanID == "" {
		sub.PlanID = plans.PlanFree
	}
	require.NoError(t, db.Create(&sub).Error)
}

func loadSubscription(t *testing.T, db *gorm.DB, accountID uint) billing.Subscription {
	t.Helper()
	var sub billing.Subscription
	require.NoError(t, db.Where("account_id = ?", accountID).First(&sub).Error)
	return sub
}

func TestDeductMonthlyFirst(t *testing.T) {
	db := newTestDB(t)
	l := New(db, testCatalog())
	seedSubscription(t, db, billing.Subscription{AccountID: 1, PlanID: "pro", TokensBalance: 0.5, TopUpTokens: 10})

	res, err := l.Deduct(1, 1)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 9.5, res.Remaining)

	sub := loadSubscription(t, db, 1)
	assert.Equal(t, 0.0, sub.TokensBalance)
	assert.Equal(t, 9.5, sub.TopUpTokens)
}

func TestDeductFailsClosedOnInsufficientFunds(t *testing.T) {
	db := newTestDB(t)
	l := New(db, testCatalog())
	seedSubscription(t, db, billing.Subscription{AccountID: 1, TokensBalance: 0, TopUpTokens: 0})

	res, err := l.Deduct(1, 1)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 0.0, res.Remaining)

	sub := loadSubscription(t, db, 1)
	assert.Equal(t, 0.0, sub.TokensBalance)
	assert.Equal(t, 0.0, sub.TopUpTokens)
}

func TestDeductPartialFundsFailsClosed(t *testing.T) {
	db := newTestDB(t)
	l := New(db, testCatalog())
	seedSubscription(t, db, billing.Subscription{AccountID: 1, PlanID: "pro", TokensBalance: 0.25, TopUpTokens: 0.25})

	res, err := l.Deduct(1, 1)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 0.5, res.Remaining)

	// No partial deduction happened.
	sub := loadSubscription(t, db, 1)
	assert.Equal(t, 0.25, sub.TokensBalance)
	assert.Equal(t, 0.25, sub.TopUpTokens)
}

func TestDeductOnlyFromMonthlyWhenSufficient(t *testing.T) {
	db := newTestDB(t)
	l := New(db, testCatalog())
	seedSubscription(t, db, billing.Subscription{AccountID: 1, PlanID: "pro", TokensBalance: 5, TopUpTokens: 10})

	res, err := l.Deduct(1, 2.5)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 12.5, res.Remaining)

	sub := loadSubscription(t, db, 1)
	assert.Equal(t, 2.5, sub.TokensBalance)
	assert.Equal(t, 10.0, sub.TopUpTokens)
}

func TestDeductRejectsNonPositiveAmounts(t *testing.T) {
	db := newTestDB(t)
	l := New(db, testCatalog())
	seedSubscription(t, db, billing.Subscription{AccountID: 1, TokensBalance: 10})

	_, err := l.Deduct(1, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = l.Deduct(1, -3)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDeductUnknownAccount(t *testing.T) {
	db := newTestDB(t)
	l := New(db, testCatalog())

	_, err := l.Deduct(42, 1)
	assert.ErrorIs(t, err, ErrNoSubscription)
}

func TestCreditGoesToTopUpBucket(t *testing.T) {
	db := newTestDB(t)
	l := New(db, testCatalog())
	seedSubscription(t, db, billing.Subscription{AccountID: 1, PlanID: "pro", TokensBalance: 5})

	require.NoError(t, l.Credit(1, 100))

	sub := loadSubscription(t, db, 1)
	assert.Equal(t, 5.0, sub.TokensBalance)
	assert.Equal(t, 100.0, sub.TopUpTokens)

	assert.ErrorIs(t, l.Credit(42, 100), ErrNoSubscription)
	assert.ErrorIs(t, l.Credit(1, 0), ErrInvalidAmount)
}

func TestRefreshAppliesRolloverCap(t *testing.T) {
	db := newTestDB(t)
	l := New(db, testCatalog())
	past := time.Now().UTC().Add(-time.Hour)
	seedSubscription(t, db, billing.Subscription{
		AccountID: 1, PlanID: "pro",
		TokensBalance: 900, TopUpTokens: 7,
		TokensRefreshDate: &past,
	})

	require.NoError(t, l.Refresh(1))

	// allotment 500, banked capped at 500 -> 1000, never 1400.
	sub := loadSubscription(t, db, 1)
	assert.Equal(t, 1000.0, sub.TokensBalance)
	assert.Equal(t, 7.0, sub.TopUpTokens)
	require.NotNil(t, sub.TokensRefreshDate)
	assert.True(t, sub.TokensRefreshDate.After(time.Now().UTC()))
	assert.Equal(t, 1, sub.TokensRefreshDate.Day())
}

func TestRefreshSmallRemainderRollsOverWhole(t *testing.T) {
	db := newTestDB(t)
	l := New(db, testCatalog())
	past := time.Now().UTC().Add(-time.Hour)
	seedSubscription(t, db, billing.Subscription{
		AccountID: 1, PlanID: "pro",
		TokensBalance:     120,
		TokensRefreshDate: &past,
	})

	require.NoError(t, l.Refresh(1))

	sub := loadSubscription(t, db, 1)
	assert.Equal(t, 620.0, sub.TokensBalance)
}

func TestRefreshLifetimePlanIsNoOp(t *testing.T) {
	db := newTestDB(t)
	l := New(db, testCatalog())
	seedSubscription(t, db, billing.Subscription{AccountID: 1, PlanID: "free", TokensBalance: 3})

	require.NoError(t, l.Refresh(1))

	sub := loadSubscription(t, db, 1)
	assert.Equal(t, 3.0, sub.TokensBalance)
	assert.Nil(t, sub.TokensRefreshDate)
}

func TestRefreshSkipsWithinCurrentCycle(t *testing.T) {
	db := newTestDB(t)
	l := New(db, testCatalog())
	past := time.Now().UTC().Add(-time.Hour)
	seedSubscription(t, db, billing.Subscription{
		AccountID: 1, PlanID: "pro",
		TokensBalance:     900,
		TokensRefreshDate: &past,
	})

	require.NoError(t, l.Refresh(1))
	first := loadSubscription(t, db, 1)
	assert.Equal(t, 1000.0, first.TokensBalance)

	// A replayed cycle event must not re-apply the rollover computation.
	_, err := l.Deduct(1, 50)
	require.NoError(t, err)
	require.NoError(t, l.Refresh(1))

	second := loadSubscription(t, db, 1)
	assert.Equal(t, 950.0, second.TokensBalance)
	assert.Equal(t, first.TokensRefreshDate.Unix(), second.TokensRefreshDate.Unix())
}

func TestRefreshFutureDateUpdatesNothing(t *testing.T) {
	db := newTestDB(t)
	l := New(db, testCatalog())
	future := time.Now().UTC().Add(24 * time.Hour)
	seedSubscription(t, db, billing.Subscription{
		AccountID: 1, PlanID: "pro",
		TokensBalance:     900,
		TokensRefreshDate: &future,
	})

	// The guard is part of the UPDATE itself, so a refresh racing ahead of
	// its cycle leaves the row byte-for-byte alone.
	require.NoError(t, l.Refresh(1))

	sub := loadSubscription(t, db, 1)
	assert.Equal(t, 900.0, sub.TokensBalance)
	require.NotNil(t, sub.TokensRefreshDate)
	assert.Equal(t, future.Unix(), sub.TokensRefreshDate.Unix())
}

func TestBalancesNeverGoNegative(t *testing.T) {
	db := newTestDB(t)
	l := New(db, testCatalog())
	past := time.Now().UTC().Add(-time.Hour)
	seedSubscription(t, db, billing.Subscription{
		AccountID: 1, PlanID: "pro",
		TokensBalance: 2, TopUpTokens: 1,
		TokensRefreshDate: &past,
	})

	amounts := []float64{0.5, 1, 2, 0.5, 1, 3, 0.5}
	for _, amount := range amounts {
		_, err := l.Deduct(1, amount)
		require.NoError(t, err)

		sub := loadSubscription(t, db, 1)
		assert.GreaterOrEqual(t, sub.TokensBalance, 0.0)
		assert.GreaterOrEqual(t, sub.TopUpTokens, 0.0)
	}
}

func TestBalanceReadsBothBuckets(t *testing.T) {
	db := newTestDB(t)
	l := New(db, testCatalog())
	seedSubscription(t, db, billing.Subscription{AccountID: 1, TokensBalance: 1.5, TopUpTokens: 2})

	bal, err := l.Balance(1)
	require.NoError(t, err)
	assert.Equal(t, Balance{Monthly: 1.5, TopUp: 2, Total: 3.5}, bal)

	_, err = l.Balance(42)
	assert.ErrorIs(t, err, ErrNoSubscription)
}
