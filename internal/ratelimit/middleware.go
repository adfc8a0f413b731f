package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/sketchsage/server/internal/auth"
	"github.com/sketchsage/server/internal/metrics"
)

// Config holds rate limiting configuration.
type Config struct {
	// Global rate limiting (across all callers)
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration

	// Per-user rate limiting (authenticated requests)
	PerUserEnabled bool
	PerUserLimit   int
	PerUserWindow  time.Duration

	// Per-IP rate limiting (fallback for anonymous requests)
	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	// Metrics collector (optional)
	Metrics *metrics.Metrics
}

// DefaultConfig returns limits generous enough for legitimate clients while
// stopping obvious spam.
func DefaultConfig() Config {
	return Config{
		GlobalEnabled: true,
		GlobalLimit:   1000,
		GlobalWindow:  time.Minute,

		PerUserEnabled: true,
		PerUserLimit:   60,
		PerUserWindow:  time.Minute,

		PerIPEnabled: true,
		PerIPLimit:   120,
		PerIPWindow:  time.Minute,
	}
}

type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

func limitHandler(limiter string, windowSeconds int, metricsCollector *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if metricsCollector != nil {
			metricsCollector.RateLimitHitsTotal.WithLabelValues(limiter).Inc()
		}

		response := rateLimitResponse{
			Error:             "rate_limit_exceeded",
			Message:           "Rate limit exceeded. Please try again later.",
			RetryAfterSeconds: windowSeconds,
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(response)
	}
}

func passThrough(next http.Handler) http.Handler { return next }

// GlobalLimiter creates a server-wide rate limiter middleware.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return passThrough
	}
	return httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithLimitHandler(limitHandler("global", int(cfg.GlobalWindow.Seconds()), cfg.Metrics)),
	)
}

// UserLimiter creates a per-user rate limiter middleware. It must run after
// the auth middleware so the account is in context; anonymous requests fall
// back to IP keying.
func UserLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerUserEnabled {
		return passThrough
	}
	return httprate.Limit(
		cfg.PerUserLimit,
		cfg.PerUserWindow,
		httprate.WithKeyFuncs(userKeyExtractor),
		httprate.WithLimitHandler(limitHandler("per_user", int(cfg.PerUserWindow.Seconds()), cfg.Metrics)),
	)
}

// IPLimiter creates a per-IP rate limiter middleware for anonymous routes.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return passThrough
	}
	return httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(limitHandler("per_ip", int(cfg.PerIPWindow.Seconds()), cfg.Metrics)),
	)
}

func userKeyExtractor(r *http.Request) (string, error) {
	if account, ok := auth.AccountFromContext(r.Context()); ok {
		return "user:" + account.ID, nil
	}
	return httprate.KeyByIP(r)
}
