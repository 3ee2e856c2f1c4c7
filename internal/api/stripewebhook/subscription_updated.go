package stripewebhook

import (
	"errors"
	"fmt"

	"iconforge/internal/domain/billing"
	stripestatus "iconforge/internal/infra/stripe"

	"github.com/stripe/stripe-go/v75"
	"gorm.io/gorm"
)

// handleSubscriptionUpdated applies plan/status changes made on the
// processor side. Active subscriptions upgrade to whatever plan the new
// price resolves to; past-due status propagates as a grace-period mark.
// Events may race their causal order, so this is last-write-wins on status.
func (h *Handler) handleSubscriptionUpdated(stripeSub *stripe.Subscription) error {
	if stripeSub.ID == "" {
		return errors.New("subscription event missing id")
	}

	sub, err := h.resolveSubscriptionAccount(stripeSub)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Acknowledge to avoid retries for accounts we no longer track.
			return nil
		}
		return err
	}

	switch stripestatus.NormalizeStatus(string(stripeSub.Status)) {
	case billing.StatusActive:
		if stripeSub.Items == nil || len(stripeSub.Items.Data) == 0 || stripeSub.Items.Data[0].Price == nil {
			return errors.New("subscription event missing items/price")
		}
		plan := h.catalog.PlanForPrice(stripeSub.Items.Data[0].Price.ID)
		if err := h.lifecycle.Upgrade(sub.AccountID, plan.ID, stripeSub.ID); err != nil {
			return fmt.Errorf("apply subscription update for account %d: %w", sub.AccountID, err)
		}
	case billing.StatusPastDue:
		if err := h.lifecycle.MarkPastDue(sub.AccountID); err != nil {
			return fmt.Errorf("mark past due for account %d: %w", sub.AccountID, err)
		}
	}
	return nil
}

func (h *Handler) resolveSubscriptionAccount(stripeSub *stripe.Subscription) (*billing.Subscription, error) {
	if id := accountIDFromMetadata(stripeSub.Metadata); id != 0 {
		return h.lifecycle.Get(id)
	}
	if sub, err := h.lifecycle.GetByStripeSubscription(stripeSub.ID); err == nil {
		return sub, nil
	}
	if stripeSub.Customer != nil && stripeSub.Customer.ID != "" {
		return h.lifecycle.GetByStripeCustomer(stripeSub.Customer.ID)
	}
	return nil, gorm.ErrRecordNotFound
}
