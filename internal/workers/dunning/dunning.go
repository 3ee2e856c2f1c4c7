package dunning

import (
	"fmt"
	"log"
	"time"

	"iconforge/internal/domain/billing"
	"iconforge/internal/infra/email"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// Escalation schedule after a failed payment: reminders at day 3, 7 and 14.
var stageDelays = []time.Duration{
	3 * 24 * time.Hour,
	7 * 24 * time.Hour,
	14 * 24 * time.Hour,
}

// Scheduler drives the dunning sequence. A failed payment schedules the
// three reminder notices; a successful retry cancels whatever is still
// pending. A background cron sweep delivers due notices.
type Scheduler struct {
	db     *gorm.DB
	sender email.Sender
	cron   *cron.Cron
}

func New(db *gorm.DB, sender email.Sender) *Scheduler {
	return &Scheduler{db: db, sender: sender, cron: cron.New()}
}

// Run starts the hourly sweep. Call Stop on shutdown.
func (s *Scheduler) Run() error {
	if _, err := s.cron.AddFunc("@hourly", s.Sweep); err != nil {
		return fmt.Errorf("schedule dunning sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// Start schedules the full escalation for an account. Restarting an
// already-running sequence (a second failed payment) resets it.
func (s *Scheduler) Start(accountID uint) error {
	if err := s.Cancel(accountID); err != nil {
		return err
	}
	now := time.Now().UTC()
	for i, delay := range stageDelays {
		notice := billing.DunningNotice{
			AccountID: accountID,
			Stage:     i + 1,
			SendAt:    now.Add(delay),
		}
		if err := s.db.Create(&notice).Error; err != nil {
			return fmt.Errorf("schedule dunning notice: %w", err)
		}
	}
	return nil
}

// Cancel drops all unsent notices for an account.
func (s *Scheduler) Cancel(accountID uint) error {
	err := s.db.
		Where("account_id = ? AND sent_at IS NULL", accountID).
		Delete(&billing.DunningNotice{}).Error
	if err != nil {
		return fmt.Errorf("cancel dunning sequence: %w", err)
	}
	return nil
}

// Sweep sends every due, unsent notice. Notices for accounts that are no
// longer past due are dropped instead of sent; individual email failures
// are logged and retried on the next sweep.
func (s *Scheduler) Sweep() {
	var due []billing.DunningNotice
	err := s.db.
		Where("sent_at IS NULL AND send_at <= ?", time.Now().UTC()).
		Order("send_at ASC").
		Find(&due).Error
	if err != nil {
		log.Println("dunning sweep query failed:", err)
		return
	}

	for _, notice := range due {
		var sub billing.Subscription
		if err := s.db.Where("account_id = ?", notice.AccountID).First(&sub).Error; err != nil {
			log.Printf("dunning sweep: subscription for account %d: %v", notice.AccountID, err)
			continue
		}

		if sub.Status != billing.StatusPastDue {
			if err := s.db.Delete(&billing.DunningNotice{}, notice.ID).Error; err != nil {
				log.Println("dunning sweep: drop stale notice:", err)
			}
			continue
		}

		data := map[string]string{"stage": fmt.Sprint(notice.Stage)}
		if err := s.sender.Send(sub.BillingEmail, "Action needed: payment failed", email.TemplatePaymentRetryWarning, data); err != nil {
			log.Printf("dunning reminder for account %d failed: %v", notice.AccountID, err)
			continue
		}

		now := time.Now().UTC()
		if err := s.db.Model(&billing.DunningNotice{}).
			Where("id = ?", notice.ID).
			Update("sent_at", now).Error; err != nil {
			log.Println("dunning sweep: mark sent:", err)
		}
	}
}
