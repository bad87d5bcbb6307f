// Command api is the listing notifier server: HTTP API, change feed
// listener and maintenance tickers in one process.
//
// Usage:
//
//	notifier-api
//	STORE_BACKEND=sqlite CHANGE_SOURCE=none notifier-api

// @title Listing Notifier API
// @version 1.0.0
// @description Change-driven notification fan-out for real-estate listings: manual resend, HTTP change triggers and the payment gateway pair.
// @host localhost:8000
// @BasePath /
// @schemes http https
// @contact.name Land and Plot
// @license.name MIT
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	_ "github.com/landandplot/notifier/docs" // swagger docs
	"github.com/landandplot/notifier/internal/api"
	"github.com/landandplot/notifier/internal/api/handler"
	"github.com/landandplot/notifier/internal/app"
	"github.com/landandplot/notifier/internal/config"
	"github.com/landandplot/notifier/internal/docstore"
	"github.com/landandplot/notifier/internal/listener"
	"github.com/landandplot/notifier/internal/maintenance"
	"github.com/landandplot/notifier/internal/payment"
)

// drainTimeout bounds how long shutdown waits for queued listing changes.
const drainTimeout = 30 * time.Second

func main() {
	level := slog.LevelInfo
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Debug {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
		slog.SetDefault(logger)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Open document store
	logger.Info("Opening document store...", "backend", cfg.StoreBackend)
	backend, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open document store", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	// Push transport and pipeline
	transport, err := app.NewTransport(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize push transport", "error", err)
		os.Exit(1)
	}
	pipeline, err := app.NewPipeline(cfg, backend.Store, transport, logger)
	if err != nil {
		logger.Error("Failed to build notification pipeline", "error", err)
		os.Exit(1)
	}

	// Change feed
	feed := listener.New(pipeline, cfg.ListenerWorkers, logger)

	switch cfg.ChangeSource {
	case config.BackendPostgres:
		changes := listener.NewPGChanges(backend.Pool.Pool)
		go feed.ListenPostgres(ctx, cfg.DatabaseURL, changes)

		// Maintenance tickers (cleanup, catch-up sweep)
		runner := maintenance.New(maintenance.NewPGPurger(backend.Pool.Pool), changes, feed, app.MaintenanceConfig(cfg), logger)
		go runner.Start(ctx)
	case config.BackendMongo:
		go feed.WatchMongo(ctx, backend.Mongo.Collection(docstore.Properties))
	default:
		logger.Info("Change feed disabled; listing changes arrive via /api/v1/triggers/listings")
	}

	// Payment gateway
	deps := handler.Deps{
		Notifier: pipeline,
		Health:   backend.Health,
		Logger:   logger,
	}
	if cfg.PaymentsEnabled() {
		deps.Gateway = payment.NewClient(payment.Config{
			BaseURL:     cfg.PhonePeBaseURL,
			MerchantID:  cfg.PhonePeMerchantID,
			SaltKey:     cfg.PhonePeSaltKey,
			SaltIndex:   cfg.PhonePeSaltIndex,
			CallbackURL: cfg.PhonePeCallbackURL,
			RedirectURL: cfg.PhonePeRedirectURL,
			RatePerSec:  cfg.PhonePeRatePerSec,
		}, logger)
		deps.Orders = payment.NewOrderStore(backend.Store)
		deps.SaltKey = cfg.PhonePeSaltKey
		deps.SaltIndex = cfg.PhonePeSaltIndex
		logger.Info("Payment gateway enabled", "base_url", cfg.PhonePeBaseURL)
	}
	if cfg.JWTSecret == "" && cfg.IsProduction() {
		logger.Warn("JWT_SECRET is empty; /api/v1 is unauthenticated")
	}

	// Create router
	router := api.NewRouter(deps, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.PushDeadline + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Listing Notifier API",
			"addr", addr,
			"environment", cfg.Environment,
			"change_source", cfg.ChangeSource,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")

	// Finish queued listing changes before the store closes
	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()

	if err := feed.Shutdown(drainCtx); err != nil {
		logger.Warn("Change queue not drained", "error", err)
	}
	logger.Info("Change feed stopped")
}
