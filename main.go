package main

import (
	"context"
	"log"
	"time"

	"iconforge/config"
	"iconforge/database"
	billingapi "iconforge/internal/api/billing"
	"iconforge/internal/api/stripewebhook"
	teamsapi "iconforge/internal/api/teams"
	usageapi "iconforge/internal/api/usage"
	routes "iconforge/internal/app/http"
	"iconforge/internal/domain/plans"
	"iconforge/internal/domain/teams"
	"iconforge/internal/infra/email"
	"iconforge/internal/ledger"
	"iconforge/internal/ratelimit"
	"iconforge/internal/subscription"
	"iconforge/internal/workers/dunning"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stripe/stripe-go/v75"
)

func main() {
	// gin.SetMode(gin.ReleaseMode) uncomment only in production
	cfg := config.Load()

	db := database.MustOpen(cfg.DatabaseURL)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal("Invalid REDIS_URL:", err)
	}
	rdb := redis.NewClient(redisOpts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to connect to redis:", err)
	}

	stripe.Key = cfg.StripeSecretKey

	sender := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPPassword)
	catalog := plans.NewCatalog(cfg.PlanPrices, cfg.TopUpPacks)

	tokens := ledger.New(db, catalog)
	notifier := ledger.NewNotifier(db, rdb, catalog, sender)
	lifecycle := subscription.NewService(db, catalog)
	pool := subscription.NewPool(db, lifecycle, tokens)
	limiter := ratelimit.New(rdb, "ratelimit")
	roles := teams.NewOwnerRoleResolver(db)

	dun := dunning.New(db, sender)
	if err := dun.Run(); err != nil {
		log.Fatal("Failed to start dunning worker:", err)
	}
	defer dun.Stop()

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.CORSOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, &routes.Deps{
		JWTSecret: cfg.JWTSecret,
		Webhook: stripewebhook.NewHandler(db, lifecycle, tokens, catalog, sender, dun,
			cfg.StripeWebhookSecret),
		Billing: billingapi.NewHandler(lifecycle, catalog, cfg.AppURL),
		Usage:   usageapi.NewHandler(lifecycle, pool, tokens, limiter, notifier, catalog, roles),
		Teams:   teamsapi.NewHandler(db, lifecycle),
	})

	r.Run(":" + cfg.Port)
}
