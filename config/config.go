package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every externally supplied setting. All required values are
// validated in Load so a misconfigured process dies at startup instead of
// silently no-oping on its first request.
type Config struct {
	Port string

	DatabaseURL string
	RedisURL    string

	JWTSecret string

	StripeSecretKey     string
	StripeWebhookSecret string

	// Stripe price id -> plan id. Unknown prices resolve to the free plan.
	PlanPrices map[string]string

	// Stripe price id -> token count for one-time top-up packs.
	TopUpPacks map[string]float64

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPPassword string

	AppURL     string
	CORSOrigin string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found. Using system environment variables.")
	}

	return &Config{
		Port: getEnv("PORT", "8080"),

		DatabaseURL: mustEnv("DB_URL"),
		RedisURL:    mustEnv("REDIS_URL"),

		JWTSecret: mustEnv("JWT_SECRET"),

		StripeSecretKey:     mustEnv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: mustEnv("STRIPE_WEBHOOK_SECRET"),

		PlanPrices: map[string]string{
			mustEnv("STRIPE_PRICE_PRO"):        "pro",
			mustEnv("STRIPE_PRICE_TEAM"):       "team",
			mustEnv("STRIPE_PRICE_ENTERPRISE"): "enterprise",
		},

		TopUpPacks: parseTopUpPacks(getEnv("STRIPE_TOPUP_PACKS", "")),

		SMTPHost:     mustEnv("SMTP_HOST"),
		SMTPPort:     mustEnv("SMTP_PORT"),
		SMTPFrom:     mustEnv("SMTP_FROM"),
		SMTPPassword: mustEnv("SMTP_PASSWORD"),

		AppURL:     getEnv("APP_URL", "http://localhost:5173"),
		CORSOrigin: getEnv("CORS_ORIGIN", "http://localhost:5173"),
	}
}

// parseTopUpPacks parses "price_abc=100,price_def=550" into a lookup table.
// A malformed entry is a startup error, not a runtime surprise.
func parseTopUpPacks(raw string) map[string]float64 {
	packs := map[string]float64{}
	if strings.TrimSpace(raw) == "" {
		return packs
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			log.Fatalf("Malformed STRIPE_TOPUP_PACKS entry: %q", entry)
		}
		tokens, err := strconv.ParseFloat(parts[1], 64)
		if err != nil || tokens <= 0 {
			log.Fatalf("Malformed token count in STRIPE_TOPUP_PACKS entry: %q", entry)
		}
		packs[parts[0]] = tokens
	}
	return packs
}

func mustEnv(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("Missing required environment variable: %s", key)
	}
	return v
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
