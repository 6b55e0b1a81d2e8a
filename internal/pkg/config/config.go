package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/env"
)

type Config struct {
	// Server
	AppHost string
	AppPort string
	AppURL  string
	AppEnv  string
	// APIKeys guard /api/v1. Empty leaves the API open.
	APIKeys []string

	// Database
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	// DBAutoMigrate lets GORM create missing tables on startup. Disable it
	// when the schema is managed with cmd/migrate.
	DBAutoMigrate bool

	// Cache
	CacheHost     string
	CachePort     string
	CachePassword string
	CacheDB       int
	PlanCacheTTL  time.Duration

	// Gateways
	GatewayTimeout       time.Duration
	StripeSecret         string
	StripeWebhookSecret  string
	PayPalClientID       string
	PayPalSecret         string
	PayPalBaseURL        string
	MercadoPagoToken     string
	WebhookHandleTimeout time.Duration

	// Observability
	LogLevel  string
	SentryDSN string
}

// Load reads configuration from the loaded .env map and the process
// environment.
func Load() *Config {
	driver := strings.ToLower(env.GetEnv("DB_DRIVER", "mysql"))
	return &Config{
		AppHost: env.GetEnv("APP_HOST", "localhost"),
		AppPort: env.GetEnv("APP_PORT", "4000"),
		AppURL:  strings.TrimRight(env.GetEnv("APP_URL", "http://localhost:4000"), "/"),
		AppEnv:  env.GetEnv("APP_ENV", "prod"),
		APIKeys: splitList(env.GetEnv("API_KEYS", "")),

		DBDriver:   driver,
		DBHost:     env.GetEnv("DB_HOST", "127.0.0.1"),
		DBPort:     env.GetEnv("DB_PORT", defaultDBPort(driver)),
		DBUser:     env.GetEnv("DB_USER", ""),
		DBPassword: env.GetEnv("DB_PASSWORD", ""),
		DBName:     env.GetEnv("DB_NAME", "payfox"),
		DBSSLMode:  env.GetEnv("DB_SSLMODE", "disable"),

		DBAutoMigrate: env.GetEnvBool("DB_AUTO_MIGRATE", true),

		CacheHost:     env.GetEnv("CACHE_HOST", ""),
		CachePort:     env.GetEnv("CACHE_PORT", "6379"),
		CachePassword: env.GetEnv("CACHE_PASSWORD", ""),
		CacheDB:       env.GetEnvInt("CACHE_DB", 0),
		PlanCacheTTL:  env.GetEnvDuration("PLAN_CACHE_TTL", time.Hour),

		GatewayTimeout:       env.GetEnvDuration("GATEWAY_TIMEOUT", 15*time.Second),
		StripeSecret:         env.GetEnv("STRIPE_SECRET", ""),
		StripeWebhookSecret:  env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		PayPalClientID:       env.GetEnv("PAYPAL_CLIENT_ID", ""),
		PayPalSecret:         env.GetEnv("PAYPAL_SECRET", ""),
		PayPalBaseURL:        env.GetEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
		MercadoPagoToken:     env.GetEnv("MERCADOPAGO_ACCESS_TOKEN", ""),
		WebhookHandleTimeout: env.GetEnvDuration("WEBHOOK_TIMEOUT", 15*time.Second),

		LogLevel:  env.GetEnv("LOG_LEVEL", "info"),
		SentryDSN: env.GetEnv("SENTRY_DSN", ""),
	}
}

func (c *Config) StripeEnabled() bool {
	return c.StripeSecret != ""
}

func (c *Config) PayPalEnabled() bool {
	return c.PayPalClientID != "" && c.PayPalSecret != ""
}

func (c *Config) MercadoPagoEnabled() bool {
	return c.MercadoPagoToken != ""
}

// MigrationURL returns the golang-migrate database URL for the configured
// driver.
func (c *Config) MigrationURL() (string, error) {
	switch c.DBDriver {
	case "mysql", "":
		return fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
			c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName), nil
	case "postgres":
		return fmt.Sprintf("pgx5://%s:%s@%s:%s/%s?sslmode=%s",
			c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode), nil
	default:
		return "", fmt.Errorf("migrations are not supported for DB_DRIVER %q", c.DBDriver)
	}
}

func defaultDBPort(driver string) string {
	if driver == "postgres" {
		return "5432"
	}
	return "3306"
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
