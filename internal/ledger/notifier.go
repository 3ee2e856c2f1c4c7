package ledger

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"iconforge/internal/domain/billing"
	"iconforge/internal/domain/plans"
	"iconforge/internal/infra/email"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// cooldownTTL bounds low-balance warnings to one per billing cycle.
const cooldownTTL = 30 * 24 * time.Hour

// Notifier sends at most one low-balance warning per billing cycle, keyed
// on a Redis cooldown flag. Sending is best-effort: a failed email is
// logged and swallowed, never surfaced to the deduction that triggered it.
type Notifier struct {
	db      *gorm.DB
	rdb     *redis.Client
	catalog *plans.Catalog
	sender  email.Sender
}

func NewNotifier(db *gorm.DB, rdb *redis.Client, catalog *plans.Catalog, sender email.Sender) *Notifier {
	return &Notifier{db: db, rdb: rdb, catalog: catalog, sender: sender}
}

// AfterDeduct inspects the balance left by a successful deduction and fires
// the warning when it first crosses 10% of the plan's monthly allotment.
func (n *Notifier) AfterDeduct(ctx context.Context, accountID uint, remaining float64) {
	var sub billing.Subscription
	if err := n.db.Where("account_id = ?", accountID).First(&sub).Error; err != nil {
		log.Println("low-balance check: load subscription:", err)
		return
	}

	plan := n.catalog.Get(sub.PlanID)
	if plan.TokensAreLifetime {
		// No cycle to warn about; lifetime tokens never refresh.
		return
	}

	threshold := math.Ceil(plan.GrantTokens() * 0.10)
	if remaining >= threshold {
		return
	}

	set, err := n.rdb.SetNX(ctx, cooldownKey(accountID), 1, cooldownTTL).Result()
	if err != nil {
		log.Println("low-balance check: cooldown flag:", err)
		return
	}
	if !set {
		// Already warned this cycle.
		return
	}

	data := map[string]string{
		"tokens_remaining": fmt.Sprintf("%g", remaining),
		"plan":             sub.PlanID,
	}
	if sub.TokensRefreshDate != nil {
		data["refresh_date"] = sub.TokensRefreshDate.Format("January 2, 2006")
	}
	if err := n.sender.Send(sub.BillingEmail, "You're running low on tokens", email.TemplateLowBalance, data); err != nil {
		log.Println("low-balance warning email failed:", err)
	}
}

func cooldownKey(accountID uint) string {
	return fmt.Sprintf("lowbalance:%d", accountID)
}
