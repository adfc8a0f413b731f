package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/sketchsage/server/internal/logger"
	"github.com/sketchsage/server/pkg/sketchsage"
)

func main() {
	// A missing .env is fine; it only exists in development.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("SKETCHSAGE_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := sketchsage.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "sketchsage",
		Environment: cfg.Logging.Environment,
	})

	app, err := sketchsage.NewApp(cfg)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("build app")
	}

	go func() {
		appLogger.Info().
			Str("address", cfg.Server.Address).
			Str("backend", cfg.Database.Backend).
			Msg("server starting")
		if err := app.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal().Err(err).Msg("server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	appLogger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("server shutdown")
	}
	if err := app.Close(); err != nil {
		appLogger.Error().Err(err).Msg("resource cleanup")
	}

	appLogger.Info().Msg("server stopped")
}
