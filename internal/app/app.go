// Package app assembles the notifier from configuration: the document
// store backend, the push transport and the pipeline. Shared by cmd/api
// and cmd/notifyctl.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/landandplot/notifier/internal/config"
	"github.com/landandplot/notifier/internal/db"
	"github.com/landandplot/notifier/internal/docstore"
	"github.com/landandplot/notifier/internal/docstore/mongostore"
	"github.com/landandplot/notifier/internal/docstore/pgstore"
	"github.com/landandplot/notifier/internal/docstore/sqlitestore"
	"github.com/landandplot/notifier/internal/maintenance"
	"github.com/landandplot/notifier/internal/notifications"
	"github.com/landandplot/notifier/internal/push"
)

// Backend is an open document store. Pool is set for the postgres backend
// and Mongo for the mongo backend.
type Backend struct {
	Store docstore.Store
	Pool  *db.Pool
	Mongo *mongostore.Store
}

// Close releases the store and any pool behind it.
func (b *Backend) Close() error {
	err := b.Store.Close()
	if b.Pool != nil {
		b.Pool.Close()
	}
	return err
}

// Health checks the store, using the prepared health statement on Postgres.
func (b *Backend) Health(ctx context.Context) error {
	if b.Pool != nil {
		return b.Pool.HealthCheck(ctx)
	}
	return docstore.Ping(ctx, b.Store)
}

// OpenStore opens the configured backend. The Postgres schema is migrated
// before the pool is created since the pool prepares statements against it.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		pool, err := db.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("Database connected",
			"min_conns", cfg.DBPoolMinConns,
			"max_conns", cfg.DBPoolMaxConns)
		return &Backend{Store: pgstore.New(pool.Pool), Pool: pool}, nil

	case config.BackendSQLite:
		s, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("SQLite store opened", "path", cfg.SQLitePath)
		return &Backend{Store: s}, nil

	case config.BackendMongo:
		s, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		logger.Info("MongoDB connected", "database", cfg.MongoDatabase)
		return &Backend{Store: s, Mongo: s}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// NewTransport returns the FCM transport, or a logging transport when no
// credentials file is configured.
func NewTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger) (push.Transport, error) {
	if cfg.FirebaseCredentialsFile == "" {
		logger.Info("Push delivery disabled (no FIREBASE_CREDENTIALS_FILE)")
		return push.NewLoggingTransport(logger), nil
	}
	t, err := push.NewFCMTransport(ctx, cfg.FirebaseCredentialsFile)
	if err != nil {
		return nil, err
	}
	logger.Info("FCM transport initialized")
	return t, nil
}

// PipelineOptions maps the fan-out settings of cfg.
func PipelineOptions(cfg *config.Config) (notifications.Options, error) {
	audiences, err := notifications.ParseAudiences(cfg.Audiences)
	if err != nil {
		return notifications.Options{}, err
	}
	return notifications.Options{
		Audiences:          audiences,
		FanoutConcurrency:  cfg.FanoutConcurrency,
		RecordConcurrency:  cfg.RecordConcurrency,
		SubscriberPageSize: cfg.SubscriberPageSize,
		PruneInvalidTokens: cfg.PruneInvalidTokens,
	}, nil
}

// MaintenanceConfig maps the maintenance settings of cfg.
func MaintenanceConfig(cfg *config.Config) maintenance.Config {
	return maintenance.Config{
		CleanupInterval:       cfg.CleanupInterval,
		CatchUpInterval:       cfg.CatchUpInterval,
		CatchUpGrace:          cfg.CatchUpGrace,
		CatchUpBatch:          cfg.CatchUpBatch,
		NotificationRetention: cfg.NotificationRetention,
		ChangeRetention:       cfg.ChangeRetention,
	}
}

// NewPipeline builds the notification pipeline over store.
func NewPipeline(cfg *config.Config, store docstore.Store, transport push.Transport, logger *slog.Logger) (*notifications.Pipeline, error) {
	opts, err := PipelineOptions(cfg)
	if err != nil {
		return nil, err
	}

	dispatcher := push.NewDispatcher(transport, push.Options{
		ChunkSize:   cfg.PushChunkSize,
		Concurrency: cfg.PushConcurrency,
		Deadline:    cfg.PushDeadline,
	}, logger)

	return notifications.NewPipeline(store, dispatcher, opts, logger), nil
}
