// Package stripe wraps stripe-go checkout and webhook handling for credit
// package purchases.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	stripeapi "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/checkout/session"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/sketchsage/server/internal/circuitbreaker"
	"github.com/sketchsage/server/internal/config"
	"github.com/sketchsage/server/internal/metrics"
	"github.com/sketchsage/server/internal/packages"
	"github.com/sketchsage/server/internal/storage"
)

var (
	// ErrPricingNotConfigured is returned when a package has no Stripe price
	// for the requested currency.
	ErrPricingNotConfigured = errors.New("package has no price for currency")

	// ErrMissingMetadata is returned when a webhook lacks the checkout
	// metadata needed to credit an account.
	ErrMissingMetadata = errors.New("webhook missing checkout metadata")

	// ErrUserNotFound is returned when a paid webhook references an account
	// that no longer exists. The gateway should retry later.
	ErrUserNotFound = errors.New("paying user not found")
)

// Notifier receives reconciled payment events.
type Notifier interface {
	PaymentCompleted(tx storage.Transaction)
}

// NopNotifier discards payment events.
type NopNotifier struct{}

func (NopNotifier) PaymentCompleted(storage.Transaction) {}

// Client wraps stripe-go operations used by the server.
type Client struct {
	cfg      config.StripeConfig
	store    storage.Store
	packages packages.Repository
	notify   Notifier
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewClient sets up stripe-go with the provided credentials.
func NewClient(cfg config.StripeConfig, store storage.Store, packageRepo packages.Repository, notifier Notifier, breakers *circuitbreaker.Manager, metricsCollector *metrics.Metrics, logger zerolog.Logger) *Client {
	stripeapi.Key = cfg.SecretKey
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Client{
		cfg:      cfg,
		store:    store,
		packages: packageRepo,
		notify:   notifier,
		breakers: breakers,
		metrics:  metricsCollector,
		logger:   logger.With().Str("component", "stripe").Logger(),
	}
}

// CheckoutRequest captures a credit purchase intent.
type CheckoutRequest struct {
	UserID     string
	PackageID  string
	Currency   string // "usd" or "try", defaults to usd
	Email      string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the subset of the Stripe session returned to clients.
type CheckoutSession struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	PackageID string `json:"package_id"`
	Credits   int    `json:"credits"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// CreateCheckout builds a Stripe Checkout session for a credit package. The
// metadata written here is what the webhook reconciler later credits from.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "usd"
	}

	pkg, err := c.packages.GetPackage(ctx, req.PackageID)
	if err != nil {
		return CheckoutSession{}, err
	}
	if !pkg.Active {
		return CheckoutSession{}, packages.ErrPackageNotFound
	}

	amount, priceID, ok := pkg.PriceFor(currency)
	if !ok {
		return CheckoutSession{}, fmt.Errorf("%w: %s/%s", ErrPricingNotConfigured, pkg.ID, currency)
	}

	params := &stripeapi.CheckoutSessionParams{
		Mode:               stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripeapi.StringSlice([]string{"card"}),
		SuccessURL:         stripeapi.String(firstNonEmpty(req.SuccessURL, c.cfg.SuccessURL)),
		CancelURL:          stripeapi.String(firstNonEmpty(req.CancelURL, c.cfg.CancelURL)),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{
			{
				Price:    stripeapi.String(priceID),
				Quantity: stripeapi.Int64(1),
			},
		},
	}
	params.Metadata = map[string]string{
		"user_id":    req.UserID,
		"package_id": pkg.ID,
		"credits":    strconv.Itoa(pkg.Credits),
	}
	if req.Email != "" {
		params.CustomerEmail = stripeapi.String(req.Email)
	}

	result, err := c.breakers.Execute(circuitbreaker.ServiceStripe, func() (interface{}, error) {
		return session.New(params)
	})
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	s := result.(*stripeapi.CheckoutSession)

	if c.metrics != nil {
		c.metrics.CheckoutsTotal.WithLabelValues(pkg.ID, currency).Inc()
	}
	c.logger.Info().
		Str("user_id", req.UserID).
		Str("package_id", pkg.ID).
		Str("session_id", s.ID).
		Str("currency", currency).
		Msg("stripe.checkout_created")

	return CheckoutSession{
		SessionID: s.ID,
		URL:       s.URL,
		PackageID: pkg.ID,
		Credits:   pkg.Credits,
		Amount:    amount,
		Currency:  currency,
	}, nil
}

// WebhookEvent is the normalized view of a Stripe event.
type WebhookEvent struct {
	Type        string
	SessionID   string
	PaymentRef  string
	UserID      string
	PackageID   string
	Credits     int
	AmountTotal int64
	Currency    string
}

// ParseWebhook validates the event signature and extracts the checkout
// metadata from completion events.
func (c *Client) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	if c.cfg.WebhookSecret == "" {
		return WebhookEvent{}, errors.New("stripe: webhook secret not configured")
	}
	event, err := webhook.ConstructEvent(payload, signature, c.cfg.WebhookSecret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("stripe: construct event: %w", err)
	}

	if event.Type != "checkout.session.completed" {
		return WebhookEvent{Type: event.Type}, nil
	}

	var checkout stripeapi.CheckoutSession
	if len(event.Data.Raw) == 0 {
		return WebhookEvent{}, errors.New("stripe: webhook payload empty")
	}
	if err := json.Unmarshal(event.Data.Raw, &checkout); err != nil {
		return WebhookEvent{}, fmt.Errorf("stripe: decode webhook payload: %w", err)
	}

	userID := ""
	packageID := ""
	credits := 0
	if checkout.Metadata != nil {
		userID = checkout.Metadata["user_id"]
		packageID = checkout.Metadata["package_id"]
		credits, _ = strconv.Atoi(checkout.Metadata["credits"])
	}
	if userID == "" || packageID == "" || credits <= 0 {
		return WebhookEvent{}, ErrMissingMetadata
	}

	// The payment intent is the stable dedup key; fall back to the session
	// id for sessions created without one.
	paymentRef := checkout.ID
	if checkout.PaymentIntent != nil && checkout.PaymentIntent.ID != "" {
		paymentRef = checkout.PaymentIntent.ID
	}

	return WebhookEvent{
		Type:        event.Type,
		SessionID:   checkout.ID,
		PaymentRef:  paymentRef,
		UserID:      userID,
		PackageID:   packageID,
		Credits:     credits,
		AmountTotal: checkout.AmountTotal,
		Currency:    string(checkout.Currency),
	}, nil
}

// HandleCompletion reconciles a completed checkout: it credits the buyer once
// per payment reference and records the transaction for audit.
//
// The replay check runs before the credit mutation, so a redelivered webhook
// never grants credits twice. If the audit record itself fails after a
// successful credit, the failure is logged but not surfaced: returning an
// error would make the gateway redeliver and the replay guard drop it anyway.
func (c *Client) HandleCompletion(ctx context.Context, event WebhookEvent) error {
	if event.PaymentRef == "" {
		c.recordFailure("missing_payment_ref")
		return errors.New("stripe: completion missing payment reference")
	}

	processed, err := c.store.HasTransaction(ctx, event.PaymentRef)
	if err != nil {
		c.recordFailure("dedup_check")
		return fmt.Errorf("stripe: check transaction: %w", err)
	}
	if processed {
		if c.metrics != nil {
			c.metrics.WebhookReplaysTotal.Inc()
		}
		c.logger.Info().
			Str("payment_ref", event.PaymentRef).
			Msg("stripe.webhook_replay_skipped")
		return nil
	}

	balance, err := c.store.AdjustCredits(ctx, event.UserID, event.Credits)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			c.recordFailure("account_missing")
			return fmt.Errorf("%w: %s", ErrUserNotFound, event.UserID)
		}
		c.recordFailure("credit_write")
		return fmt.Errorf("stripe: credit account: %w", err)
	}

	tx := storage.Transaction{
		ID:           uuid.NewString(),
		UserID:       event.UserID,
		PaymentRef:   event.PaymentRef,
		PackageID:    event.PackageID,
		Amount:       event.AmountTotal,
		Currency:     strings.ToLower(event.Currency),
		CreditsAdded: event.Credits,
		Status:       storage.TransactionStatusCompleted,
		CreatedAt:    time.Now().UTC(),
	}
	if err := c.store.RecordTransaction(ctx, tx); err != nil {
		if errors.Is(err, storage.ErrDuplicateTransaction) {
			// A concurrent delivery won the race after our replay check.
			// The credits from this delivery are the duplicate grant, so
			// take them back.
			if _, compErr := c.store.AdjustCredits(ctx, event.UserID, -event.Credits); compErr != nil {
				c.logger.Error().Err(compErr).
					Str("payment_ref", event.PaymentRef).
					Msg("stripe.duplicate_compensation_failed")
			}
			return nil
		}
		c.recordFailure("record_write")
		c.logger.Error().Err(err).
			Str("payment_ref", event.PaymentRef).
			Str("user_id", event.UserID).
			Msg("stripe.transaction_record_failed")
	}

	if c.metrics != nil {
		c.metrics.PaymentsSuccessTotal.WithLabelValues(event.PackageID, tx.Currency).Inc()
		c.metrics.PaymentAmountTotal.WithLabelValues(tx.Currency).Add(float64(event.AmountTotal))
		c.metrics.CreditsGrantedTotal.Add(float64(event.Credits))
	}
	c.logger.Info().
		Str("payment_ref", event.PaymentRef).
		Str("user_id", event.UserID).
		Int("credits", event.Credits).
		Int("balance", balance).
		Msg("stripe.payment_reconciled")

	c.notify.PaymentCompleted(tx)
	return nil
}

func (c *Client) recordFailure(reason string) {
	if c.metrics != nil {
		c.metrics.PaymentsFailedTotal.WithLabelValues(reason).Inc()
	}
}

// VerifySession reports whether a checkout session has been reconciled yet.
// Clients poll this after returning from Stripe instead of trusting the
// success redirect.
func (c *Client) VerifySession(ctx context.Context, sessionID string) (storage.Transaction, bool, error) {
	result, err := c.breakers.Execute(circuitbreaker.ServiceStripe, func() (interface{}, error) {
		return session.Get(sessionID, nil)
	})
	if err != nil {
		return storage.Transaction{}, false, fmt.Errorf("stripe: get session: %w", err)
	}
	s := result.(*stripeapi.CheckoutSession)

	paymentRef := s.ID
	if s.PaymentIntent != nil && s.PaymentIntent.ID != "" {
		paymentRef = s.PaymentIntent.ID
	}

	tx, err := c.store.GetTransactionByRef(ctx, paymentRef)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Transaction{}, false, nil
	}
	if err != nil {
		return storage.Transaction{}, false, err
	}
	return tx, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
