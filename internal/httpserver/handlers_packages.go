package httpserver

import (
	"net/http"

	apierrors "github.com/sketchsage/server/internal/errors"
	"github.com/sketchsage/server/internal/logger"
	"github.com/sketchsage/server/internal/packages"
	"github.com/sketchsage/server/pkg/responders"
)

// packageResponse is the public package shape. Prices are minor units.
type packageResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Credits      int    `json:"credits"`
	PriceUSD     int64  `json:"priceUsd"`
	PriceTRY     int64  `json:"priceTry"`
	Active       bool   `json:"active"`
	DisplayOrder int    `json:"displayOrder"`
}

func toPackageResponse(p packages.Package) packageResponse {
	return packageResponse{
		ID:           p.ID,
		Name:         p.Name,
		Credits:      p.Credits,
		PriceUSD:     p.PriceUSD,
		PriceTRY:     p.PriceTRY,
		Active:       p.Active,
		DisplayOrder: p.DisplayOrder,
	}
}

// listPackages returns active packages plus the publishable key the frontend
// needs to start a checkout.
func (h *handlers) listPackages(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	pkgs, err := h.packages.ListPackages(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("packages.list_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to load packages")
		return
	}

	out := make([]packageResponse, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, toPackageResponse(p))
	}

	// Runtime settings can override the configured publishable key so key
	// rotation doesn't need a deploy.
	publishableKey := h.cfg.Stripe.PublishableKey
	if current, err := h.settings.Get(r.Context()); err == nil && current.StripePublishableKey != "" {
		publishableKey = current.StripePublishableKey
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"packages":             out,
		"stripePublishableKey": publishableKey,
	})
}
