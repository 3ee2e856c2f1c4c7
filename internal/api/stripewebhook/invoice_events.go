package stripewebhook

import (
	"errors"
	"fmt"
	"log"

	"iconforge/internal/domain/billing"

	"github.com/stripe/stripe-go/v75"
	"gorm.io/gorm"
)

// handlePaymentSucceeded refreshes the monthly bucket on cycle renewal and,
// when the payment was a successful retry, clears past-due status and the
// in-flight dunning sequence. Replayed events are harmless: the dedup store
// absorbs exact redelivery and the refresh itself skips within a cycle.
func (h *Handler) handlePaymentSucceeded(invoice *stripe.Invoice) error {
	sub, err := h.resolveInvoiceAccount(invoice)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Account is gone; acknowledge rather than retry forever.
			return nil
		}
		return err
	}

	if invoice.BillingReason == stripe.InvoiceBillingReasonSubscriptionCycle {
		if err := h.tokens.Refresh(sub.AccountID); err != nil {
			return fmt.Errorf("refresh tokens for account %d: %w", sub.AccountID, err)
		}
	}

	if sub.Status == billing.StatusPastDue {
		if err := h.lifecycle.ClearPastDue(sub.AccountID); err != nil {
			return fmt.Errorf("clear past due for account %d: %w", sub.AccountID, err)
		}
		if err := h.dunning.Cancel(sub.AccountID); err != nil {
			// Best-effort side channel; the status change already succeeded.
			log.Printf("cancel dunning for account %d: %v", sub.AccountID, err)
		}
	}
	return nil
}

// handlePaymentFailed marks the account past due and starts the reminder
// escalation. Plan and tokens stay untouched through the grace period.
func (h *Handler) handlePaymentFailed(invoice *stripe.Invoice) error {
	sub, err := h.resolveInvoiceAccount(invoice)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	if err := h.lifecycle.MarkPastDue(sub.AccountID); err != nil {
		return fmt.Errorf("mark past due for account %d: %w", sub.AccountID, err)
	}

	if err := h.dunning.Start(sub.AccountID); err != nil {
		log.Printf("start dunning for account %d: %v", sub.AccountID, err)
	}
	return nil
}

func (h *Handler) resolveInvoiceAccount(invoice *stripe.Invoice) (*billing.Subscription, error) {
	if invoice.Subscription != nil && invoice.Subscription.ID != "" {
		if sub, err := h.lifecycle.GetByStripeSubscription(invoice.Subscription.ID); err == nil {
			return sub, nil
		}
	}
	if invoice.Customer != nil && invoice.Customer.ID != "" {
		return h.lifecycle.GetByStripeCustomer(invoice.Customer.ID)
	}
	return nil, gorm.ErrRecordNotFound
}
