package routes

import (
	billingapi "iconforge/internal/api/billing"
	"iconforge/internal/api/stripewebhook"
	teamsapi "iconforge/internal/api/teams"
	usageapi "iconforge/internal/api/usage"
	"iconforge/internal/app/http/middleware"

	"github.com/gin-gonic/gin"
)

// Deps carries the constructed handlers into route registration. Everything
// is built once in main and injected; no package-level state.
type Deps struct {
	JWTSecret string

	Webhook *stripewebhook.Handler
	Billing *billingapi.Handler
	Usage   *usageapi.Handler
	Teams   *teamsapi.Handler
}

func RegisterRoutes(r *gin.Engine, deps *Deps) {
	// The webhook stays outside the sanitizer: its body must reach the
	// signature check byte-for-byte.
	r.POST("/webhook", deps.Webhook.Handle)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	auth := r.Group("/")
	auth.Use(middleware.AuthMiddleware(deps.JWTSecret), middleware.SanitizeAndCleanInputMiddleware())

	auth.POST("/subscription", deps.Billing.CreateSubscription)
	auth.GET("/subscription", deps.Billing.GetSubscription)
	auth.POST("/create-checkout-session", deps.Billing.CreateCheckoutSession)
	auth.POST("/create-topup-session", deps.Billing.CreateTopUpSession)
	auth.POST("/billing-portal", deps.Billing.CreateBillingPortal)

	auth.GET("/usage/can-use", deps.Usage.CanUse)
	auth.GET("/usage/balance", deps.Usage.Balance)
	auth.POST("/usage/deduct", deps.Usage.Deduct)

	auth.POST("/teams", deps.Teams.Create)
	auth.GET("/teams/:id/usage/can-use", deps.Usage.TeamCanUse)
	auth.GET("/teams/:id/usage/balance", deps.Usage.TeamBalance)
	auth.POST("/teams/:id/usage/deduct", deps.Usage.TeamDeduct)
}
