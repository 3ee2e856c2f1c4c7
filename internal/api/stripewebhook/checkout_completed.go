package stripewebhook

import (
	"errors"
	"fmt"
	"log"
	"strconv"

	"iconforge/internal/infra/email"

	"github.com/stripe/stripe-go/v75"
	stripesub "github.com/stripe/stripe-go/v75/subscription"
)

// handleCheckoutCompleted finishes a checkout in either mode: subscription
// checkouts upgrade the plan, one-time payment checkouts credit a top-up
// pack. Confirmation emails are best-effort and never fail the mutation.
func (h *Handler) handleCheckoutCompleted(session *stripe.CheckoutSession) error {
	accountID, err := h.resolveCheckoutAccount(session)
	if err != nil {
		return err
	}

	if session.Customer != nil && session.Customer.ID != "" {
		if err := h.lifecycle.SetStripeCustomer(accountID, session.Customer.ID); err != nil {
			log.Printf("store stripe customer for account %d: %v", accountID, err)
		}
	}

	switch session.Mode {
	case stripe.CheckoutSessionModePayment:
		return h.creditTopUp(accountID, session)
	default:
		return h.upgradeFromCheckout(accountID, session)
	}
}

func (h *Handler) upgradeFromCheckout(accountID uint, session *stripe.CheckoutSession) error {
	if session.Subscription == nil || session.Subscription.ID == "" {
		return errors.New("checkout session missing subscription")
	}
	subscriptionID := session.Subscription.ID

	plan := h.catalog.Get(session.Metadata["plan_id"])
	if plan.ID == "free" && session.Metadata["plan_id"] == "" {
		// Metadata got lost; fall back to the subscription's price.
		subData, err := stripesub.Get(subscriptionID, nil)
		if err != nil || subData.Items == nil || len(subData.Items.Data) == 0 || subData.Items.Data[0].Price == nil {
			return fmt.Errorf("fetch subscription items: %w", err)
		}
		plan = h.catalog.PlanForPrice(subData.Items.Data[0].Price.ID)
	}

	if err := h.lifecycle.Upgrade(accountID, plan.ID, subscriptionID); err != nil {
		return fmt.Errorf("upgrade account %d to %s: %w", accountID, plan.ID, err)
	}

	sub, err := h.lifecycle.Get(accountID)
	if err == nil && sub.BillingEmail != "" {
		data := map[string]string{
			"plan":   plan.ID,
			"tokens": fmt.Sprintf("%g", plan.GrantTokens()),
		}
		if err := h.sender.Send(sub.BillingEmail, "Your plan is active", email.TemplateUpgradeConfirmed, data); err != nil {
			log.Println("upgrade confirmation email failed:", err)
		}
	}
	return nil
}

func (h *Handler) creditTopUp(accountID uint, session *stripe.CheckoutSession) error {
	tokens := topUpTokensFromSession(session, h)
	if tokens <= 0 {
		return fmt.Errorf("checkout session %s has no resolvable top-up token count", session.ID)
	}

	if err := h.tokens.Credit(accountID, tokens); err != nil {
		return fmt.Errorf("credit %g top-up tokens to account %d: %w", tokens, accountID, err)
	}

	sub, err := h.lifecycle.Get(accountID)
	if err == nil && sub.BillingEmail != "" {
		data := map[string]string{"tokens": fmt.Sprintf("%g", tokens)}
		if err := h.sender.Send(sub.BillingEmail, "Tokens added to your account", email.TemplateTopUpReceipt, data); err != nil {
			log.Println("top-up receipt email failed:", err)
		}
	}
	return nil
}

func topUpTokensFromSession(session *stripe.CheckoutSession, h *Handler) float64 {
	if s := session.Metadata["topup_tokens"]; s != "" {
		if tokens, err := strconv.ParseFloat(s, 64); err == nil {
			return tokens
		}
	}
	if priceID := session.Metadata["price_id"]; priceID != "" {
		if tokens, ok := h.catalog.TopUpTokens(priceID); ok {
			return tokens
		}
	}
	return 0
}

// resolveCheckoutAccount identifies the account: metadata first, then the
// client reference id, then the stored customer mapping.
func (h *Handler) resolveCheckoutAccount(session *stripe.CheckoutSession) (uint, error) {
	if id := accountIDFromMetadata(session.Metadata); id != 0 {
		return id, nil
	}
	if session.ClientReferenceID != "" {
		if id, err := strconv.ParseUint(session.ClientReferenceID, 10, 64); err == nil {
			return uint(id), nil
		}
	}
	if session.Customer != nil && session.Customer.ID != "" {
		if sub, err := h.lifecycle.GetByStripeCustomer(session.Customer.ID); err == nil {
			return sub.AccountID, nil
		}
	}
	return 0, errors.New("checkout session has no resolvable account")
}
