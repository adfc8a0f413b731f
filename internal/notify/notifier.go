// Package notify delivers platform events to admin-configured webhook
// endpoints with exponential backoff retries.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sketchsage/server/internal/circuitbreaker"
	"github.com/sketchsage/server/internal/config"
	"github.com/sketchsage/server/internal/metrics"
	"github.com/sketchsage/server/internal/storage"
)

// Event is the envelope posted to notification endpoints. EventID is stable
// across retries so receivers can deduplicate.
type Event struct {
	EventID   string    `json:"event_id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	UserID       string `json:"user_id,omitempty"`
	EvaluationID string `json:"evaluation_id,omitempty"`
	MediaType    string `json:"media_type,omitempty"`

	PaymentRef   string `json:"payment_ref,omitempty"`
	PackageID    string `json:"package_id,omitempty"`
	Amount       int64  `json:"amount,omitempty"`
	Currency     string `json:"currency,omitempty"`
	CreditsAdded int    `json:"credits_added,omitempty"`
}

// Client posts events to the configured endpoints. Delivery is asynchronous
// and never blocks the caller.
type Client struct {
	cfg        config.NotificationsConfig
	httpClient *http.Client
	logger     zerolog.Logger
	breakers   *circuitbreaker.Manager
	metrics    *metrics.Metrics
}

// Option customizes the client.
type Option func(*Client)

// WithLogger sets the delivery logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithBreakers enables circuit breaking on deliveries.
func WithBreakers(m *circuitbreaker.Manager) Option {
	return func(c *Client) { c.breakers = m }
}

// WithMetrics enables delivery metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient constructs a notification client. When no endpoint is configured
// the client silently drops all events.
func NewClient(cfg config.NotificationsConfig, opts ...Option) *Client {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// EvaluationSubmitted notifies the submission endpoint about a new evaluation.
func (c *Client) EvaluationSubmitted(ev storage.Evaluation) {
	c.dispatch(c.cfg.EvaluationSubmittedURL, Event{
		EventID:      uuid.NewString(),
		Type:         "evaluation.submitted",
		Timestamp:    time.Now().UTC(),
		UserID:       ev.UserID,
		EvaluationID: ev.ID,
		MediaType:    string(ev.MediaType),
	})
}

// FeedbackDelivered notifies the submission endpoint that feedback completed.
func (c *Client) FeedbackDelivered(ev storage.Evaluation) {
	c.dispatch(c.cfg.EvaluationSubmittedURL, Event{
		EventID:      uuid.NewString(),
		Type:         "evaluation.completed",
		Timestamp:    time.Now().UTC(),
		UserID:       ev.UserID,
		EvaluationID: ev.ID,
		MediaType:    string(ev.MediaType),
	})
}

// PaymentCompleted notifies the payment endpoint about a reconciled purchase.
func (c *Client) PaymentCompleted(tx storage.Transaction) {
	c.dispatch(c.cfg.PaymentCompletedURL, Event{
		EventID:      uuid.NewString(),
		Type:         "payment.completed",
		Timestamp:    time.Now().UTC(),
		UserID:       tx.UserID,
		PaymentRef:   tx.PaymentRef,
		PackageID:    tx.PackageID,
		Amount:       tx.Amount,
		Currency:     tx.Currency,
		CreditsAdded: tx.CreditsAdded,
	})
}

func (c *Client) dispatch(url string, event Event) {
	if c == nil || url == "" {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Error().Err(err).Str("type", event.Type).Msg("notify.serialize_failed")
		return
	}

	go func() {
		if err := c.sendWithRetry(context.Background(), url, payload, event); err != nil {
			c.logger.Error().
				Err(err).
				Str("event_id", event.EventID).
				Str("type", event.Type).
				Msg("notify.delivery_failed")
			c.countDelivery(event.Type, "failed")
		}
	}()
}

func (c *Client) sendWithRetry(ctx context.Context, url string, payload []byte, event Event) error {
	retry := c.cfg.Retry
	if !retry.Enabled {
		if err := c.send(ctx, url, payload); err != nil {
			return err
		}
		c.countDelivery(event.Type, "success")
		return nil
	}

	maxAttempts := retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	interval := retry.InitialInterval.Duration
	if interval <= 0 {
		interval = time.Second
	}
	maxInterval := retry.MaxInterval.Duration
	if maxInterval <= 0 {
		maxInterval = 5 * time.Minute
	}
	multiplier := retry.Multiplier
	if multiplier <= 1 {
		multiplier = 2.0
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = c.send(ctx, url, payload)
		if lastErr == nil {
			c.countDelivery(event.Type, "success")
			return nil
		}
		if circuitbreaker.IsOpen(lastErr) {
			// No point hammering an open breaker with more attempts.
			return lastErr
		}

		if attempt < maxAttempts {
			c.logger.Warn().
				Err(lastErr).
				Str("event_id", event.EventID).
				Int("attempt", attempt).
				Dur("backoff", interval).
				Msg("notify.retrying")
			if c.metrics != nil {
				c.metrics.NotifyRetriesTotal.Inc()
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
			interval = time.Duration(float64(interval) * multiplier)
			if interval > maxInterval {
				interval = maxInterval
			}
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) send(ctx context.Context, url string, payload []byte) error {
	doSend := func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for key, value := range c.cfg.Headers {
			req.Header.Set(key, value)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
		}()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("endpoint returned %d", resp.StatusCode)
		}
		return nil, nil
	}

	var err error
	if c.breakers != nil {
		_, err = c.breakers.Execute(circuitbreaker.ServiceNotify, doSend)
	} else {
		_, err = doSend()
	}
	return err
}

func (c *Client) countDelivery(event, status string) {
	if c.metrics != nil {
		c.metrics.NotifyDeliveriesTotal.WithLabelValues(event, status).Inc()
	}
}
