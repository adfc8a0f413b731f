package config

import (
	"errors"
	"fmt"
	"strings"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Stripe.Mode == "" {
		c.Stripe.Mode = "test"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	// Auto-detect backend from provided connection strings when unset
	if c.Database.Backend == "" {
		switch {
		case c.Database.PostgresURL != "":
			c.Database.Backend = "postgres"
		case c.Database.MongoDBURL != "":
			c.Database.Backend = "mongodb"
		default:
			c.Database.Backend = "memory"
		}
	}

	return c.validate()
}

// validate checks for configuration mistakes that would only surface at runtime.
func (c *Config) validate() error {
	var problems []string

	switch c.Database.Backend {
	case "postgres":
		if c.Database.PostgresURL == "" {
			problems = append(problems, "database.postgres_url is required when backend is 'postgres'")
		}
	case "mongodb":
		if c.Database.MongoDBURL == "" {
			problems = append(problems, "database.mongodb_url is required when backend is 'mongodb'")
		}
		if c.Database.MongoDBDatabase == "" {
			c.Database.MongoDBDatabase = "sketchsage"
		}
	case "memory":
		// Development/test only; nothing to validate
	default:
		problems = append(problems, fmt.Sprintf("database.backend %q is not one of postgres, mongodb, memory", c.Database.Backend))
	}

	if c.Stripe.Mode != "test" && c.Stripe.Mode != "live" {
		problems = append(problems, fmt.Sprintf("stripe.mode %q is not one of test, live", c.Stripe.Mode))
	}
	if c.Stripe.Mode == "live" && c.Stripe.SecretKey == "" {
		problems = append(problems, "stripe.secret_key is required in live mode")
	}
	if c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
		problems = append(problems, "stripe.webhook_secret is required when stripe.secret_key is set")
	}

	// An empty signing key would let anyone mint valid session tokens.
	if c.Auth.JWTSecret == "" {
		problems = append(problems, "auth.jwt_secret is required")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		problems = append(problems, fmt.Sprintf("auth.bcrypt_cost %d outside valid range [4,31]", c.Auth.BcryptCost))
	}
	if c.Auth.TokenTTL.Duration <= 0 {
		problems = append(problems, "auth.token_ttl must be positive")
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration:\n  - " + strings.Join(problems, "\n  - "))
	}
	return nil
}
