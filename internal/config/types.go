package config

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Database       DatabaseConfig       `yaml:"database"`
	Auth           AuthConfig           `yaml:"auth"`
	Stripe         StripeConfig         `yaml:"stripe"`
	Notifications  NotificationsConfig  `yaml:"notifications"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics (empty disables protection)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug | info | warn | error
	Format      string `yaml:"format"`      // json | console
	Environment string `yaml:"environment"` // production | staging | development
}

// DatabaseConfig holds persistence backend configuration.
type DatabaseConfig struct {
	Backend          string             `yaml:"backend"` // "postgres", "mongodb", or "memory"
	PostgresURL      string             `yaml:"postgres_url"`
	MongoDBURL       string             `yaml:"mongodb_url"`
	MongoDBDatabase  string             `yaml:"mongodb_database"`
	PostgresPool     PostgresPoolConfig `yaml:"postgres_pool"`
	PackageCacheTTL  Duration           `yaml:"package_cache_ttl"`  // How long to cache the package list (0 = no cache)
	SettingsCacheTTL Duration           `yaml:"settings_cache_ttl"` // How long to cache runtime settings (0 = read through)
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Default: 25
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Default: 5
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Default: 5m
}

// ApplyPostgresPoolSettings applies pool settings to a sql.DB with defaults for zero values.
func ApplyPostgresPoolSettings(db *sql.DB, cfg PostgresPoolConfig) {
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime.Duration
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)
}

// AuthConfig holds session token configuration.
type AuthConfig struct {
	JWTSecret  string   `yaml:"jwt_secret"`
	TokenTTL   Duration `yaml:"token_ttl"`
	BcryptCost int      `yaml:"bcrypt_cost"`
}

// StripeConfig holds Stripe payment integration configuration.
type StripeConfig struct {
	SecretKey      string `yaml:"secret_key"`
	WebhookSecret  string `yaml:"webhook_secret"`
	PublishableKey string `yaml:"publishable_key"`
	SuccessURL     string `yaml:"success_url"`
	CancelURL      string `yaml:"cancel_url"`
	Mode           string `yaml:"mode"` // live | test
}

// NotificationsConfig holds admin notification webhook configuration.
type NotificationsConfig struct {
	EvaluationSubmittedURL string            `yaml:"evaluation_submitted_url"`
	PaymentCompletedURL    string            `yaml:"payment_completed_url"`
	Headers                map[string]string `yaml:"headers"`
	Timeout                Duration          `yaml:"timeout"`
	Retry                  RetryConfig       `yaml:"retry"`
}

// RetryConfig holds notification retry configuration.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
}

// RateLimitConfig holds request rate limiting configuration.
type RateLimitConfig struct {
	GlobalEnabled  bool     `yaml:"global_enabled"`
	GlobalLimit    int      `yaml:"global_limit"`
	GlobalWindow   Duration `yaml:"global_window"`
	PerUserEnabled bool     `yaml:"per_user_enabled"`
	PerUserLimit   int      `yaml:"per_user_limit"`
	PerUserWindow  Duration `yaml:"per_user_window"`
	PerIPEnabled   bool     `yaml:"per_ip_enabled"`
	PerIPLimit     int      `yaml:"per_ip_limit"`
	PerIPWindow    Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled   bool                 `yaml:"enabled"`
	StripeAPI BreakerServiceConfig `yaml:"stripe_api"`
}

// BreakerServiceConfig configures the circuit breaker for a single external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}
