package httpserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sketchsage/server/internal/auth"
	apierrors "github.com/sketchsage/server/internal/errors"
	"github.com/sketchsage/server/internal/logger"
	"github.com/sketchsage/server/internal/packages"
	stripesvc "github.com/sketchsage/server/internal/stripe"
	"github.com/sketchsage/server/pkg/responders"
)

type checkoutRequest struct {
	PackageID  string `json:"packageId"`
	Currency   string `json:"currency"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

// createCheckout starts a Stripe Checkout session for a credit package.
func (h *handlers) createCheckout(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "Authentication required")
		return
	}

	var req checkoutRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if req.PackageID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "packageId is required")
		return
	}
	switch req.Currency {
	case "", "usd", "try":
	default:
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidCurrency, "currency must be usd or try", "currency", req.Currency)
		return
	}

	session, err := h.stripe.CreateCheckout(r.Context(), stripesvc.CheckoutRequest{
		UserID:     account.ID,
		PackageID:  req.PackageID,
		Currency:   req.Currency,
		Email:      account.Email,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, packages.ErrPackageNotFound):
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodePackageNotFound, "package not found", "packageId", req.PackageID)
		case errors.Is(err, stripesvc.ErrPricingNotConfigured):
			apierrors.WriteSimpleError(w, apierrors.ErrCodePricingNotConfigured, err.Error())
		default:
			log.Error().Err(err).Str("package_id", req.PackageID).Msg("stripe.checkout_failed")
			apierrors.WriteSimpleError(w, apierrors.ErrCodeStripeError, "failed to create checkout session")
		}
		return
	}

	responders.JSON(w, http.StatusOK, session)
}

// verifyCheckout reports whether a checkout session has been reconciled.
// The success redirect is never trusted on its own.
func (h *handlers) verifyCheckout(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "Authentication required")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "session_id is required")
		return
	}

	tx, found, err := h.stripe.VerifySession(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("stripe.verify_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeStripeError, "failed to verify session")
		return
	}
	if !found || tx.UserID != account.ID {
		responders.JSON(w, http.StatusOK, map[string]any{"verified": false})
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"verified":     true,
		"paymentRef":   tx.PaymentRef,
		"packageId":    tx.PackageID,
		"creditsAdded": tx.CreditsAdded,
		"amount":       tx.Amount,
		"currency":     tx.Currency,
		"paidAt":       tx.CreatedAt,
	})
}

// handleStripeWebhook processes incoming Stripe webhook events.
func (h *handlers) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	webhookStart := time.Now()

	signature := r.Header.Get("Stripe-Signature")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error().Err(err).Msg("stripe.webhook.read_body_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, fmt.Sprintf("read body: %v", err))
		return
	}

	event, err := h.stripe.ParseWebhook(body, signature)
	if err != nil {
		if h.metrics != nil {
			h.metrics.WebhooksTotal.WithLabelValues("unknown", "rejected").Inc()
		}
		if errors.Is(err, stripesvc.ErrMissingMetadata) {
			// Signature checked out but the session carries no checkout
			// metadata, so there is nothing to credit.
			log.Warn().Err(err).Msg("stripe.webhook.missing_metadata")
			apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingMetadata, err.Error())
			return
		}
		log.Warn().Err(err).Msg("stripe.webhook.invalid_signature")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidSignature, err.Error())
		return
	}

	log.Info().Str("event_type", event.Type).Msg("stripe.webhook.received")

	if event.Type == "checkout.session.completed" {
		if err := h.stripe.HandleCompletion(r.Context(), event); err != nil {
			status := "failed"
			if errors.Is(err, stripesvc.ErrUserNotFound) {
				// The metadata references an account that no longer exists.
				apierrors.WriteSimpleError(w, apierrors.ErrCodeAccountNotFound, err.Error())
				status = "orphaned"
			} else {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, err.Error())
			}
			if h.metrics != nil {
				h.metrics.WebhooksTotal.WithLabelValues(event.Type, status).Inc()
				h.metrics.WebhookDuration.WithLabelValues(event.Type).Observe(time.Since(webhookStart).Seconds())
			}
			return
		}
	}

	if h.metrics != nil {
		h.metrics.WebhooksTotal.WithLabelValues(event.Type, "ok").Inc()
		h.metrics.WebhookDuration.WithLabelValues(event.Type).Observe(time.Since(webhookStart).Seconds())
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"received": true,
		"type":     event.Type,
	})
}

// paymentSuccess is the browser landing page after a completed checkout. The
// actual crediting happens through the webhook; this page only tells the user
// to wait for reconciliation.
func (h *handlers) paymentSuccess(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Payment received. Credits are added once the payment is confirmed.",
	})
}

// paymentCancel is the browser landing page after an abandoned checkout.
func (h *handlers) paymentCancel(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{
		"status":  "cancelled",
		"message": "Checkout cancelled. No payment was taken.",
	})
}
