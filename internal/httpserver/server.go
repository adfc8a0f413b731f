package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sketchsage/server/internal/auth"
	"github.com/sketchsage/server/internal/config"
	"github.com/sketchsage/server/internal/evaluation"
	"github.com/sketchsage/server/internal/idempotency"
	"github.com/sketchsage/server/internal/logger"
	"github.com/sketchsage/server/internal/metrics"
	"github.com/sketchsage/server/internal/packages"
	"github.com/sketchsage/server/internal/ratelimit"
	"github.com/sketchsage/server/internal/settings"
	"github.com/sketchsage/server/internal/storage"
	stripesvc "github.com/sketchsage/server/internal/stripe"
)

var serverStartTime = time.Now()

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	router     chi.Router
	httpServer *http.Server
}

// Deps bundles everything the HTTP layer needs. All fields except Metrics
// and IdempotencyStore are required.
type Deps struct {
	Config           *config.Config
	Store            storage.Store
	Auth             *auth.Service
	Evaluations      *evaluation.Service
	Stripe           *stripesvc.Client
	Packages         packages.Repository
	Settings         *settings.Service
	IdempotencyStore idempotency.Store
	Metrics          *metrics.Metrics
	Logger           zerolog.Logger
}

type handlers struct {
	cfg              *config.Config
	store            storage.Store
	auth             *auth.Service
	evaluations      *evaluation.Service
	stripe           *stripesvc.Client
	packages         packages.Repository
	settings         *settings.Service
	idempotencyStore idempotency.Store
	metrics          *metrics.Metrics
	logger           zerolog.Logger
}

func (d Deps) handlers() handlers {
	return handlers{
		cfg:              d.Config,
		store:            d.Store,
		auth:             d.Auth,
		evaluations:      d.Evaluations,
		stripe:           d.Stripe,
		packages:         d.Packages,
		settings:         d.Settings,
		idempotencyStore: d.IdempotencyStore,
		metrics:          d.Metrics,
		logger:           d.Logger,
	}
}

// New builds the HTTP server with configured router.
func New(deps Deps) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: deps.handlers(),
		router:   router,
		httpServer: &http.Server{
			Addr:         deps.Config.Server.Address,
			ReadTimeout:  deps.Config.Server.ReadTimeout.Duration,
			WriteTimeout: deps.Config.Server.WriteTimeout.Duration,
			IdleTimeout:  deps.Config.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, deps)

	return s
}

// ConfigureRouter attaches SketchSage routes to an existing router.
func ConfigureRouter(router chi.Router, deps Deps) {
	if router == nil {
		return
	}
	handler := deps.handlers()
	cfg := handler.cfg

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"Location"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)

	// Structured logging before RequestID so the request logger picks up
	// context propagation in the order the logger package expects.
	router.Use(logger.Middleware(handler.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	rateLimitCfg := ratelimit.Config{
		GlobalEnabled:  cfg.RateLimit.GlobalEnabled,
		GlobalLimit:    cfg.RateLimit.GlobalLimit,
		GlobalWindow:   cfg.RateLimit.GlobalWindow.Duration,
		PerUserEnabled: cfg.RateLimit.PerUserEnabled,
		PerUserLimit:   cfg.RateLimit.PerUserLimit,
		PerUserWindow:  cfg.RateLimit.PerUserWindow.Duration,
		PerIPEnabled:   cfg.RateLimit.PerIPEnabled,
		PerIPLimit:     cfg.RateLimit.PerIPLimit,
		PerIPWindow:    cfg.RateLimit.PerIPWindow.Duration,
		Metrics:        handler.metrics,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	idempotencyMW := passThroughMiddleware
	if handler.idempotencyStore != nil {
		idempotencyMW = idempotency.Middleware(handler.idempotencyStore, idempotency.DefaultTTL)
	}

	// Lightweight endpoints with a short timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", handler.health)
		r.Get("/packages", handler.listPackages)
		// Protected by optional admin API key.
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle("/metrics", promhttp.Handler())
	})

	// Auth and payment gateway endpoints. Webhooks keep stable unversioned
	// URLs so the gateway configuration never has to change.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Post("/auth/register", handler.register)
		r.Post("/auth/login", handler.login)
		r.Post("/webhook/stripe", handler.handleStripeWebhook)
		r.Get("/payment/success", handler.paymentSuccess)
		r.Get("/payment/cancel", handler.paymentCancel)
	})

	// Authenticated user endpoints.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(handler.auth.Middleware)
		r.Use(ratelimit.UserLimiter(rateLimitCfg))

		r.Get("/me", handler.me)
		r.Get("/me/transactions", handler.listMyTransactions)

		r.With(idempotencyMW).Post("/evaluations", handler.createEvaluation)
		r.Get("/evaluations", handler.listEvaluations)
		r.Get("/evaluations/{id}", handler.getEvaluation)
		r.With(idempotencyMW).Post("/evaluations/{id}/questions", handler.askQuestion)
		r.Get("/evaluations/{id}/questions", handler.listQuestions)

		r.With(idempotencyMW).Post("/payment/checkout", handler.createCheckout)
		r.Get("/payment/verify", handler.verifyCheckout)
	})

	// Admin endpoints.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(handler.auth.Middleware)
		r.Use(auth.RequireAdmin)

		r.Get("/admin/settings", handler.getSettings)
		r.Put("/admin/settings", handler.updateSettings)

		r.Get("/admin/packages", handler.adminListPackages)
		r.Post("/admin/packages", handler.createPackage)
		r.Put("/admin/packages/{id}", handler.updatePackage)
		r.Delete("/admin/packages/{id}", handler.deletePackage)

		r.Get("/admin/evaluations", handler.adminListEvaluations)
		r.Get("/admin/evaluations/{id}", handler.adminGetEvaluation)
		r.Put("/admin/evaluations/{id}/feedback", handler.setFeedback)
		r.Delete("/admin/evaluations/{id}", handler.deleteEvaluation)

		r.Get("/admin/questions", handler.listUnansweredQuestions)
		r.Put("/admin/questions/{id}/answer", handler.answerQuestion)
	})
}

func passThroughMiddleware(next http.Handler) http.Handler { return next }

// Router returns the configured chi router.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
