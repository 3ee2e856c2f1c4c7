package stripewebhook

import (
	"errors"
	"fmt"
	"log"

	"iconforge/internal/infra/email"

	"github.com/stripe/stripe-go/v75"
	"gorm.io/gorm"
)

// handleSubscriptionDeleted returns the account to the free plan. Both
// token buckets are forfeited, including purchased top-ups. The
// cancellation notice is best-effort.
func (h *Handler) handleSubscriptionDeleted(stripeSub *stripe.Subscription) error {
	if stripeSub.ID == "" {
		return nil
	}

	sub, err := h.resolveSubscriptionAccount(stripeSub)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	if err := h.lifecycle.DowngradeToFree(sub.AccountID); err != nil {
		return fmt.Errorf("downgrade account %d: %w", sub.AccountID, err)
	}

	if sub.BillingEmail != "" {
		if err := h.sender.Send(sub.BillingEmail, "Your subscription has been canceled", email.TemplateCancellationNotice, nil); err != nil {
			log.Println("cancellation notice email failed:", err)
		}
	}
	return nil
}
