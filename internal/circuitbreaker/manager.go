package circuitbreaker

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sketchsage/server/internal/config"
)

// ServiceType identifies external services for circuit breaker isolation.
type ServiceType string

const (
	ServiceStripe ServiceType = "stripe_api"
	ServiceNotify ServiceType = "notify_webhook"
)

// Manager manages circuit breakers for external services. Each service gets
// its own breaker so a Stripe outage can't trip notification delivery and
// vice versa.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	enabled  bool
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxRequests == 0 {
		c.MaxRequests = 3
	}
	if c.Interval == 0 {
		c.Interval = 60 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = 5
	}
	return c
}

// NewManagerFromConfig creates a circuit breaker manager from application config.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig, logger zerolog.Logger) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		enabled:  cfg.Enabled,
	}
	if !cfg.Enabled {
		return m
	}

	stripe := BreakerConfig{
		MaxRequests:         cfg.StripeAPI.MaxRequests,
		Interval:            cfg.StripeAPI.Interval.Duration,
		Timeout:             cfg.StripeAPI.Timeout.Duration,
		ConsecutiveFailures: cfg.StripeAPI.ConsecutiveFailures,
		FailureRatio:        cfg.StripeAPI.FailureRatio,
		MinRequests:         cfg.StripeAPI.MinRequests,
	}
	m.breakers[ServiceStripe] = newBreaker(ServiceStripe, stripe, logger)

	// Notification delivery tolerates more failures before tripping: the
	// retry loop already absorbs transient receiver errors.
	m.breakers[ServiceNotify] = newBreaker(ServiceNotify, BreakerConfig{
		MaxRequests:         5,
		Interval:            60 * time.Second,
		Timeout:             60 * time.Second,
		ConsecutiveFailures: 10,
		FailureRatio:        0.7,
		MinRequests:         20,
	}, logger)

	return m
}

func newBreaker(service ServiceType, cfg BreakerConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	cfg = cfg.withDefaults()
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(service),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				if failureRate >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuitbreaker.state_changed")
		},
	})
}

// Execute wraps a call with circuit breaker protection. When breakers are
// disabled or the service has none, the call passes through.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if m == nil || !m.enabled {
		return fn()
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}
	return breaker.Execute(fn)
}

// State returns the current state of a service's breaker.
func (m *Manager) State(service ServiceType) string {
	if m == nil || !m.enabled {
		return "disabled"
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}
	return breaker.State().String()
}

// IsOpen reports whether a service's breaker is rejecting calls.
func IsOpen(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}
