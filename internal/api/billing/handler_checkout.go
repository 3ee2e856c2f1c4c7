package billing

import (
	"fmt"
	"net/http"

	"iconforge/internal/domain/plans"
	"iconforge/internal/subscription"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v75"
	portalsession "github.com/stripe/stripe-go/v75/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v75/checkout/session"
	"github.com/stripe/stripe-go/v75/customer"
)

// Handler creates checkout/portal sessions against the payment processor.
// Webhook delivery, not these handlers, is what mutates plan and tokens.
type Handler struct {
	lifecycle *subscription.Service
	catalog   *plans.Catalog
	appURL    string
}

func NewHandler(lifecycle *subscription.Service, catalog *plans.Catalog, appURL string) *Handler {
	return &Handler{lifecycle: lifecycle, catalog: catalog, appURL: appURL}
}

// CreateCheckoutSession starts a subscription checkout for a paid plan.
func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	var body struct {
		PlanID string `json:"plan_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.PlanID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid plan_id"})
		return
	}

	priceID, ok := h.catalog.PriceForPlan(body.PlanID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown plan"})
		return
	}

	accountID := c.GetUint("account_id")
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Account not identified"})
		return
	}

	customerID, err := h.ensureCustomer(accountID, c.GetString("email"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(h.appURL + "/account"),
		CancelURL:  stripe.String(h.appURL + "/account?canceled=1"),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(customerID),

		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},

		ClientReferenceID: stripe.String(fmt.Sprint(accountID)),

		Metadata: map[string]string{
			"account_id": fmt.Sprint(accountID),
			"plan_id":    body.PlanID,
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"account_id": fmt.Sprint(accountID),
				"plan_id":    body.PlanID,
			},
		},
	}

	s, err := checkoutsession.New(params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create checkout session", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": s.URL})
}

// CreateTopUpSession starts a one-time payment checkout for a token pack.
func (h *Handler) CreateTopUpSession(c *gin.Context) {
	var body struct {
		PriceID string `json:"price_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.PriceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid price_id"})
		return
	}

	tokens, ok := h.catalog.TopUpTokens(body.PriceID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown top-up pack"})
		return
	}

	accountID := c.GetUint("account_id")
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Account not identified"})
		return
	}

	customerID, err := h.ensureCustomer(accountID, c.GetString("email"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(h.appURL + "/account?topup=1"),
		CancelURL:  stripe.String(h.appURL + "/account?canceled=1"),
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer:   stripe.String(customerID),

		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(body.PriceID), Quantity: stripe.Int64(1)},
		},

		ClientReferenceID: stripe.String(fmt.Sprint(accountID)),

		Metadata: map[string]string{
			"account_id":   fmt.Sprint(accountID),
			"price_id":     body.PriceID,
			"topup_tokens": fmt.Sprintf("%g", tokens),
		},
	}

	s, err := checkoutsession.New(params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create top-up session", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": s.URL})
}

// CreateBillingPortal opens the processor's self-service portal.
func (h *Handler) CreateBillingPortal(c *gin.Context) {
	accountID := c.GetUint("account_id")
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Account not identified"})
		return
	}

	sub, err := h.lifecycle.Get(accountID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No subscription found"})
		return
	}
	if sub.StripeCustomerID == nil || *sub.StripeCustomerID == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "No billing customer yet (subscribe first)"})
		return
	}

	portal, err := portalsession.New(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(*sub.StripeCustomerID),
		ReturnURL: stripe.String(h.appURL + "/account"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not create billing portal session", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": portal.URL})
}

// ensureCustomer lazily creates the processor-side customer on first
// checkout and stores the reference.
func (h *Handler) ensureCustomer(accountID uint, emailAddr string) (string, error) {
	sub, err := h.lifecycle.Get(accountID)
	if err != nil {
		return "", fmt.Errorf("no subscription found")
	}
	if sub.StripeCustomerID != nil && *sub.StripeCustomerID != "" {
		return *sub.StripeCustomerID, nil
	}

	cus, err := customer.New(&stripe.CustomerParams{
		Email: stripe.String(emailAddr),
		Metadata: map[string]string{
			"account_id": fmt.Sprint(accountID),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create billing customer")
	}

	if err := h.lifecycle.SetStripeCustomer(accountID, cus.ID); err != nil {
		return "", fmt.Errorf("failed to store billing customer")
	}
	return cus.ID, nil
}
