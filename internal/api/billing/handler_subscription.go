package billing

import (
	"errors"
	"net/http"

	"iconforge/internal/domain/billing"
	"iconforge/internal/subscription"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type subscriptionView struct {
	PlanID            string  `json:"plan_id"`
	Status            string  `json:"status"`
	TokensBalance     float64 `json:"tokens_balance"`
	TopUpTokens       float64 `json:"top_up_tokens"`
	TokensRefreshDate *string `json:"tokens_refresh_date"`
}

// GetSubscription returns the caller's current plan, status and buckets.
func (h *Handler) GetSubscription(c *gin.Context) {
	accountID := c.GetUint("account_id")
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Account not identified"})
		return
	}

	sub, err := h.lifecycle.Get(accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No subscription found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load subscription"})
		return
	}

	c.JSON(http.StatusOK, toView(sub))
}

// CreateSubscription provisions the free-tier subscription for a fresh
// account. Called once at signup by the identity layer.
func (h *Handler) CreateSubscription(c *gin.Context) {
	accountID := c.GetUint("account_id")
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Account not identified"})
		return
	}

	sub, err := h.lifecycle.CreateFree(accountID, c.GetString("email"), "")
	if err != nil {
		if errors.Is(err, subscription.ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Subscription already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create subscription"})
		return
	}

	c.JSON(http.StatusCreated, toView(sub))
}

func toView(sub *billing.Subscription) subscriptionView {
	view := subscriptionView{
		PlanID:        sub.PlanID,
		Status:        sub.Status,
		TokensBalance: sub.TokensBalance,
		TopUpTokens:   sub.TopUpTokens,
	}
	if sub.TokensRefreshDate != nil {
		formatted := sub.TokensRefreshDate.Format("2006-01-02")
		view.TokensRefreshDate = &formatted
	}
	return view
}
