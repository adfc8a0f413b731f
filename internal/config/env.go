package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use the SKETCHSAGE_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "SKETCHSAGE_SERVER_ADDRESS")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "SKETCHSAGE_ADMIN_METRICS_API_KEY")

	// Logging config
	setIfEnv(&c.Logging.Level, "SKETCHSAGE_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "SKETCHSAGE_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "SKETCHSAGE_ENVIRONMENT")

	// Database config
	setIfEnv(&c.Database.Backend, "SKETCHSAGE_DB_BACKEND")
	setIfEnv(&c.Database.PostgresURL, "SKETCHSAGE_POSTGRES_URL")
	setIfEnv(&c.Database.MongoDBURL, "SKETCHSAGE_MONGODB_URL")
	setIfEnv(&c.Database.MongoDBDatabase, "SKETCHSAGE_MONGODB_DATABASE")
	setIntIfEnv(&c.Database.PostgresPool.MaxOpenConns, "SKETCHSAGE_POSTGRES_MAX_OPEN_CONNS")
	setIntIfEnv(&c.Database.PostgresPool.MaxIdleConns, "SKETCHSAGE_POSTGRES_MAX_IDLE_CONNS")
	setDurationIfEnv(&c.Database.PackageCacheTTL, "SKETCHSAGE_PACKAGE_CACHE_TTL")
	setDurationIfEnv(&c.Database.SettingsCacheTTL, "SKETCHSAGE_SETTINGS_CACHE_TTL")

	// Auth config
	setIfEnv(&c.Auth.JWTSecret, "SKETCHSAGE_JWT_SECRET")
	setDurationIfEnv(&c.Auth.TokenTTL, "SKETCHSAGE_TOKEN_TTL")
	setIntIfEnv(&c.Auth.BcryptCost, "SKETCHSAGE_BCRYPT_COST")

	// Stripe config
	setIfEnv(&c.Stripe.SecretKey, "SKETCHSAGE_STRIPE_SECRET_KEY")
	setIfEnv(&c.Stripe.WebhookSecret, "SKETCHSAGE_STRIPE_WEBHOOK_SECRET")
	setIfEnv(&c.Stripe.PublishableKey, "SKETCHSAGE_STRIPE_PUBLISHABLE_KEY")
	setIfEnv(&c.Stripe.SuccessURL, "SKETCHSAGE_STRIPE_SUCCESS_URL")
	setIfEnv(&c.Stripe.CancelURL, "SKETCHSAGE_STRIPE_CANCEL_URL")
	setIfEnv(&c.Stripe.Mode, "SKETCHSAGE_STRIPE_MODE")

	// Notification config
	setIfEnv(&c.Notifications.EvaluationSubmittedURL, "SKETCHSAGE_NOTIFY_EVALUATION_URL")
	setIfEnv(&c.Notifications.PaymentCompletedURL, "SKETCHSAGE_NOTIFY_PAYMENT_URL")
	setDurationIfEnv(&c.Notifications.Timeout, "SKETCHSAGE_NOTIFY_TIMEOUT")
}

// setIfEnv sets the target string if the environment variable is non-empty.
func setIfEnv(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// setIntIfEnv sets the target int if the environment variable parses as an integer.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets the target duration if the environment variable parses as a Go duration.
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}
