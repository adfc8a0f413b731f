// Package sketchsage assembles the platform services for standalone serving
// or embedding into an existing chi router.
package sketchsage

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sketchsage/server/internal/auth"
	"github.com/sketchsage/server/internal/circuitbreaker"
	"github.com/sketchsage/server/internal/config"
	"github.com/sketchsage/server/internal/dbpool"
	"github.com/sketchsage/server/internal/evaluation"
	"github.com/sketchsage/server/internal/httpserver"
	"github.com/sketchsage/server/internal/idempotency"
	"github.com/sketchsage/server/internal/lifecycle"
	"github.com/sketchsage/server/internal/logger"
	"github.com/sketchsage/server/internal/metrics"
	"github.com/sketchsage/server/internal/notify"
	"github.com/sketchsage/server/internal/packages"
	"github.com/sketchsage/server/internal/settings"
	"github.com/sketchsage/server/internal/storage"
	stripesvc "github.com/sketchsage/server/internal/stripe"
)

// App wires the SketchSage components for reuse or standalone serving.
type App struct {
	Config           *config.Config
	Store            storage.Store
	Packages         packages.Repository
	Settings         *settings.Service
	Auth             *auth.Service
	Evaluations      *evaluation.Service
	Stripe           *stripesvc.Client
	Notifier         *notify.Client
	IdempotencyStore *idempotency.MemoryStore

	router           chi.Router
	server           *httpserver.Server
	resourceManager  *lifecycle.Manager
	metricsCollector *metrics.Metrics
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store      storage.Store
	router     chi.Router
	registerer prometheus.Registerer
}

// WithStore sets a custom storage backend.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithRouter lets callers provide an existing chi.Router to register routes onto.
func WithRouter(router chi.Router) Option {
	return func(o *options) {
		o.router = router
	}
}

// WithRegisterer sets the Prometheus registerer. Useful for tests that build
// more than one App in a process.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// NewApp assembles the SketchSage services for embedding.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("sketchsage: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	app := &App{
		Config:          cfg,
		resourceManager: lifecycle.NewManager(),
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "sketchsage",
		Environment: cfg.Logging.Environment,
	})

	registerer := optState.registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	app.metricsCollector = metrics.New(registerer)

	// One pool shared between the store and the package repository when both
	// sit on the same Postgres database.
	var sharedPool *dbpool.SharedPool
	if optState.store == nil && cfg.Database.Backend == "postgres" && cfg.Database.PostgresURL != "" {
		pool, err := dbpool.NewSharedPool(cfg.Database.PostgresURL, cfg.Database.PostgresPool)
		if err != nil {
			return nil, err
		}
		sharedPool = pool
		app.resourceManager.Register("db-pool", pool)

		stopStats := pool.StartStatsReporter(app.metricsCollector, 15*time.Second)
		app.resourceManager.RegisterFunc("db-pool-stats", func() error {
			stopStats()
			return nil
		})
	}

	if optState.store != nil {
		app.Store = optState.store
	} else {
		store, err := storage.NewStoreWithDB(cfg.Database, sharedPoolDB(sharedPool), app.metricsCollector)
		if err != nil {
			return nil, err
		}
		app.Store = store
		app.resourceManager.Register("storage", store)
		if cfg.Database.Backend == "" || cfg.Database.Backend == "memory" {
			log.Warn().Msg("sketchsage: using in-memory store, all state is lost on restart")
		}
	}

	pkgRepo, err := packages.NewRepositoryWithDB(cfg.Database, sharedPoolDB(sharedPool), app.metricsCollector)
	if err != nil {
		return nil, err
	}
	app.Packages = pkgRepo
	app.resourceManager.Register("package-repository", pkgRepo)

	app.Settings = settings.NewService(app.Store, cfg.Database.SettingsCacheTTL.Duration, appLogger)

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, appLogger)

	app.Notifier = notify.NewClient(cfg.Notifications,
		notify.WithLogger(appLogger),
		notify.WithBreakers(breakers),
		notify.WithMetrics(app.metricsCollector),
	)

	app.Auth = auth.NewService(app.Store, app.Settings, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration, cfg.Auth.BcryptCost, appLogger)
	app.Evaluations = evaluation.NewService(app.Store, app.Settings, app.Notifier, appLogger)
	app.Stripe = stripesvc.NewClient(cfg.Stripe, app.Store, pkgRepo, app.Notifier, breakers, app.metricsCollector, appLogger)

	app.IdempotencyStore = idempotency.NewMemoryStore()
	app.resourceManager.RegisterFunc("idempotency-store", func() error {
		app.IdempotencyStore.Stop()
		return nil
	})

	deps := httpserver.Deps{
		Config:           cfg,
		Store:            app.Store,
		Auth:             app.Auth,
		Evaluations:      app.Evaluations,
		Stripe:           app.Stripe,
		Packages:         app.Packages,
		Settings:         app.Settings,
		IdempotencyStore: app.IdempotencyStore,
		Metrics:          app.metricsCollector,
		Logger:           appLogger,
	}

	if optState.router != nil {
		// Embedding: the caller owns the listener, we only add routes.
		app.router = optState.router
		httpserver.ConfigureRouter(app.router, deps)
	} else {
		app.server = httpserver.New(deps)
		app.router = app.server.Router()
	}

	return app, nil
}

// Router returns the chi router with SketchSage routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// ListenAndServe starts the HTTP server. It errors when the app was built
// with WithRouter, since the caller owns the listener in that mode.
func (a *App) ListenAndServe() error {
	if a.server == nil {
		return errors.New("sketchsage: app built with an external router, no server to start")
	}
	return a.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (a *App) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// Close releases resources owned by the app in reverse construction order.
func (a *App) Close() error {
	return a.resourceManager.Close()
}

// NewHandler is a convenience that constructs an App and returns its handler
// plus a shutdown function.
func NewHandler(cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(context.Context) error {
		return app.Close()
	}
	return app.Handler(), shutdown, nil
}

// Config is an exported alias of the internal configuration struct.
type Config = config.Config

// LoadConfig wraps the internal loader for embedding consumers.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}

func sharedPoolDB(pool *dbpool.SharedPool) *sql.DB {
	if pool == nil {
		return nil
	}
	return pool.DB()
}
