package dunning

import (
	"sync"
	"testing"
	"time"

	"iconforge/database"
	"iconforge/internal/domain/billing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) Send(address, subject, template string, data map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, address+":"+data["stage"])
	return nil
}

func (r *recordingSender) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func newTestScheduler(t *testing.T) (*Scheduler, *recordingSender, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	sender := &recordingSender{}
	return New(db, sender), sender, db
}

func seedPastDue(t *testing.T, db *gorm.DB, accountID uint) {
	t.Helper()
	require.NoError(t, db.Create(&billing.Subscription{
		AccountID:    accountID,
		BillingEmail: "owner@example.com",
		PlanID:       "pro",
		Status:       billing.StatusPastDue,
	}).Error)
}

func TestStartSchedulesEscalation(t *testing.T) {
	s, _, db := newTestScheduler(t)

	require.NoError(t, s.Start(1))

	var notices []billing.DunningNotice
	require.NoError(t, db.Where("account_id = ?", 1).Order("stage").Find(&notices).Error)
	require.Len(t, notices, 3)

	now := time.Now().UTC()
	assert.WithinDuration(t, now.Add(3*24*time.Hour), notices[0].SendAt, time.Minute)
	assert.WithinDuration(t, now.Add(7*24*time.Hour), notices[1].SendAt, time.Minute)
	assert.WithinDuration(t, now.Add(14*24*time.Hour), notices[2].SendAt, time.Minute)
}

func TestStartResetsExistingSequence(t *testing.T) {
	s, _, db := newTestScheduler(t)

	require.NoError(t, s.Start(1))
	require.NoError(t, s.Start(1))

	var count int64
	require.NoError(t, db.Model(&billing.DunningNotice{}).Where("account_id = ?", 1).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestCancelDropsUnsentNotices(t *testing.T) {
	s, _, db := newTestScheduler(t)
	require.NoError(t, s.Start(1))

	require.NoError(t, s.Cancel(1))

	var count int64
	require.NoError(t, db.Model(&billing.DunningNotice{}).Where("account_id = ?", 1).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSweepSendsDueNotices(t *testing.T) {
	s, sender, db := newTestScheduler(t)
	seedPastDue(t, db, 1)

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(24 * time.Hour)
	require.NoError(t, db.Create(&billing.DunningNotice{AccountID: 1, Stage: 1, SendAt: past}).Error)
	require.NoError(t, db.Create(&billing.DunningNotice{AccountID: 1, Stage: 2, SendAt: future}).Error)

	s.Sweep()

	assert.Equal(t, []string{"owner@example.com:1"}, sender.calls())

	// The sent notice is marked and not re-sent by the next sweep.
	s.Sweep()
	assert.Equal(t, []string{"owner@example.com:1"}, sender.calls())
}

func TestSweepDropsNoticesForRecoveredAccounts(t *testing.T) {
	s, sender, db := newTestScheduler(t)
	require.NoError(t, db.Create(&billing.Subscription{
		AccountID:    1,
		BillingEmail: "owner@example.com",
		PlanID:       "pro",
		Status:       billing.StatusActive,
	}).Error)

	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Create(&billing.DunningNotice{AccountID: 1, Stage: 1, SendAt: past}).Error)

	s.Sweep()

	assert.Empty(t, sender.calls())
	var count int64
	require.NoError(t, db.Model(&billing.DunningNotice{}).Count(&count).Error)
	assert.Zero(t, count)
}
