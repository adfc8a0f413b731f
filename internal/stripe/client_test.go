package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/sketchsage/server/internal/config"
	"github.com/sketchsage/server/internal/metrics"
	"github.com/sketchsage/server/internal/packages"
	"github.com/sketchsage/server/internal/storage"
)

const testWebhookSecret = "whsec_test_secret"

type recordingNotifier struct {
	mu  sync.Mutex
	txs []storage.Transaction
}

func (n *recordingNotifier) PaymentCompleted(tx storage.Transaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.txs = append(n.txs, tx)
}

func newTestClient(t *testing.T) (*Client, storage.Store, *recordingNotifier) {
	t.Helper()
	store := storage.NewMemoryStore()
	repo := packages.NewMemoryRepository()
	notifier := &recordingNotifier{}
	client := NewClient(config.StripeConfig{
		SecretKey:     "sk_test_key",
		WebhookSecret: testWebhookSecret,
	}, store, repo, notifier, nil, nil, zerolog.Nop())
	return client, store, notifier
}

func newMeteredTestClient(t *testing.T) (*Client, storage.Store, *metrics.Metrics) {
	t.Helper()
	store := storage.NewMemoryStore()
	repo := packages.NewMemoryRepository()
	m := metrics.New(prometheus.NewRegistry())
	client := NewClient(config.StripeConfig{
		SecretKey:     "sk_test_key",
		WebhookSecret: testWebhookSecret,
	}, store, repo, nil, nil, m, zerolog.Nop())
	return client, store, m
}

func seedAccount(t *testing.T, store storage.Store, id string, credits int) {
	t.Helper()
	now := time.Now().UTC()
	err := store.CreateAccount(context.Background(), storage.Account{
		ID:        id,
		Email:     id + "@example.com",
		Credits:   credits,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

// signPayload builds a Stripe-Signature header the way the gateway does:
// v1 is an HMAC-SHA256 of "<timestamp>.<payload>" keyed by the endpoint secret.
func signPayload(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func completionPayload(paymentIntent string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_test_1",
				"object": "checkout.session",
				"payment_intent": {"id": %q},
				"amount_total": 999,
				"currency": "usd",
				"metadata": {
					"user_id": "user-1",
					"package_id": "starter",
					"credits": "10"
				}
			}
		}
	}`, paymentIntent))
}

func TestParseWebhookValidSignature(t *testing.T) {
	client, _, _ := newTestClient(t)

	payload := completionPayload("pi_123")
	signature := signPayload(payload, testWebhookSecret, time.Now())

	event, err := client.ParseWebhook(payload, signature)
	if err != nil {
		t.Fatalf("ParseWebhook failed: %v", err)
	}
	if event.PaymentRef != "pi_123" {
		t.Errorf("expected payment_ref pi_123, got %q", event.PaymentRef)
	}
	if event.UserID != "user-1" || event.PackageID != "starter" || event.Credits != 10 {
		t.Errorf("metadata mismatch: %+v", event)
	}
	if event.AmountTotal != 999 || event.Currency != "usd" {
		t.Errorf("amount mismatch: %+v", event)
	}
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	client, _, _ := newTestClient(t)

	payload := completionPayload("pi_123")

	// Signed with the wrong secret
	if _, err := client.ParseWebhook(payload, signPayload(payload, "whsec_wrong", time.Now())); err == nil {
		t.Error("expected error for wrong secret")
	}

	// Garbage header
	if _, err := client.ParseWebhook(payload, "t=0,v1=junk"); err == nil {
		t.Error("expected error for garbage signature")
	}

	// Stale timestamp beyond the default tolerance
	stale := signPayload(payload, testWebhookSecret, time.Now().Add(-time.Hour))
	if _, err := client.ParseWebhook(payload, stale); err == nil {
		t.Error("expected error for stale timestamp")
	}

	// Payload tampered after signing
	signature := signPayload(payload, testWebhookSecret, time.Now())
	tampered := completionPayload("pi_456")
	if _, err := client.ParseWebhook(tampered, signature); err == nil {
		t.Error("expected error for tampered payload")
	}
}

func TestParseWebhookMissingMetadata(t *testing.T) {
	client, _, _ := newTestClient(t)

	payload := []byte(`{
		"id": "evt_2",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_test_2",
				"object": "checkout.session",
				"amount_total": 999,
				"currency": "usd",
				"metadata": {}
			}
		}
	}`)
	signature := signPayload(payload, testWebhookSecret, time.Now())

	if _, err := client.ParseWebhook(payload, signature); !errors.Is(err, ErrMissingMetadata) {
		t.Errorf("expected ErrMissingMetadata, got %v", err)
	}
}

func TestParseWebhookIgnoresOtherEvents(t *testing.T) {
	client, _, _ := newTestClient(t)

	payload := []byte(`{
		"id": "evt_3",
		"type": "payment_intent.created",
		"data": {"object": {}}
	}`)
	signature := signPayload(payload, testWebhookSecret, time.Now())

	event, err := client.ParseWebhook(payload, signature)
	if err != nil {
		t.Fatalf("ParseWebhook failed: %v", err)
	}
	if event.Type != "payment_intent.created" || event.PaymentRef != "" {
		t.Errorf("unexpected event: %+v", event)
	}
}

func completionEvent(ref string) WebhookEvent {
	return WebhookEvent{
		Type:        "checkout.session.completed",
		SessionID:   "cs_test_1",
		PaymentRef:  ref,
		UserID:      "user-1",
		PackageID:   "starter",
		Credits:     10,
		AmountTotal: 999,
		Currency:    "usd",
	}
}

func TestHandleCompletionCreditsOnce(t *testing.T) {
	client, store, notifier := newTestClient(t)
	ctx := context.Background()
	seedAccount(t, store, "user-1", 2)

	if err := client.HandleCompletion(ctx, completionEvent("pi_once")); err != nil {
		t.Fatalf("first HandleCompletion failed: %v", err)
	}

	account, _ := store.GetAccount(ctx, "user-1")
	if account.Credits != 12 {
		t.Fatalf("expected 12 credits, got %d", account.Credits)
	}

	// Redeliver the same event: no error, no double credit
	if err := client.HandleCompletion(ctx, completionEvent("pi_once")); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	account, _ = store.GetAccount(ctx, "user-1")
	if account.Credits != 12 {
		t.Errorf("redelivery double-credited: %d", account.Credits)
	}

	txs, _ := store.ListTransactionsByUser(ctx, "user-1")
	if len(txs) != 1 {
		t.Errorf("expected 1 transaction, got %d", len(txs))
	}
	if txs[0].CreditsAdded != 10 || txs[0].Amount != 999 {
		t.Errorf("transaction mismatch: %+v", txs[0])
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.txs) != 1 {
		t.Errorf("expected 1 notification, got %d", len(notifier.txs))
	}
}

func TestHandleCompletionConcurrentRedelivery(t *testing.T) {
	client, store, _ := newTestClient(t)
	ctx := context.Background()
	seedAccount(t, store, "user-1", 0)

	const deliveries = 10
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = client.HandleCompletion(ctx, completionEvent("pi_race"))
		}()
	}
	wg.Wait()

	account, _ := store.GetAccount(ctx, "user-1")
	if account.Credits != 10 {
		t.Errorf("expected exactly one grant of 10 credits, got balance %d", account.Credits)
	}
}

func TestHandleCompletionUnknownUser(t *testing.T) {
	client, _, m := newMeteredTestClient(t)

	err := client.HandleCompletion(context.Background(), completionEvent("pi_ghost"))
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
	if got := promtest.ToFloat64(m.PaymentsFailedTotal.WithLabelValues("account_missing")); got != 1 {
		t.Errorf("expected 1 account_missing failure, got %.0f", got)
	}
}

func TestHandleCompletionMissingRef(t *testing.T) {
	client, _, m := newMeteredTestClient(t)

	event := completionEvent("")
	if err := client.HandleCompletion(context.Background(), event); err == nil {
		t.Error("expected error for missing payment reference")
	}
	if got := promtest.ToFloat64(m.PaymentsFailedTotal.WithLabelValues("missing_payment_ref")); got != 1 {
		t.Errorf("expected 1 missing_payment_ref failure, got %.0f", got)
	}
}

func TestCreateCheckoutValidation(t *testing.T) {
	store := storage.NewMemoryStore()
	repo := packages.NewMemoryRepository()
	ctx := context.Background()

	now := time.Now().UTC()
	if err := repo.CreatePackage(ctx, packages.Package{
		ID:               "starter",
		Name:             "Starter",
		Credits:          10,
		PriceUSD:         999,
		StripePriceIDUSD: "price_usd_starter",
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}); err != nil {
		t.Fatalf("CreatePackage failed: %v", err)
	}
	if err := repo.CreatePackage(ctx, packages.Package{
		ID: "retired", Credits: 5, Active: false, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("CreatePackage failed: %v", err)
	}

	client := NewClient(config.StripeConfig{SecretKey: "sk_test"}, store, repo, nil, nil, nil, zerolog.Nop())

	// Unknown package
	_, err := client.CreateCheckout(ctx, CheckoutRequest{UserID: "u1", PackageID: "nope"})
	if !errors.Is(err, packages.ErrPackageNotFound) {
		t.Errorf("unknown package: expected ErrPackageNotFound, got %v", err)
	}

	// Inactive package
	_, err = client.CreateCheckout(ctx, CheckoutRequest{UserID: "u1", PackageID: "retired"})
	if !errors.Is(err, packages.ErrPackageNotFound) {
		t.Errorf("inactive package: expected ErrPackageNotFound, got %v", err)
	}

	// Currency without a configured price
	_, err = client.CreateCheckout(ctx, CheckoutRequest{UserID: "u1", PackageID: "starter", Currency: "try"})
	if !errors.Is(err, ErrPricingNotConfigured) {
		t.Errorf("unpriced currency: expected ErrPricingNotConfigured, got %v", err)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{"first wins", []string{"a", "b"}, "a"},
		{"skips empty", []string{"", "b"}, "b"},
		{"skips whitespace", []string{"   ", "b"}, "b"},
		{"all empty", []string{"", ""}, ""},
		{"no values", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstNonEmpty(tt.values...); got != tt.want {
				t.Errorf("firstNonEmpty() = %q, want %q", got, tt.want)
			}
		})
	}
}
