// Package config provides centralized configuration loaded from environment
// variables. Shared by cmd/api and cmd/notifyctl.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Backends
// --------------------------------------------------------------------------

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMongo    = "mongo"

	// ChangeSourceNone disables the change feed; only the HTTP trigger
	// endpoint delivers changes.
	ChangeSourceNone = "none"
)

// maxPushChunk is the provider limit on tokens per multicast.
const maxPushChunk = 500

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Document store
	StoreBackend   string
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration
	SQLitePath     string
	MongoURI       string
	MongoDatabase  string

	// Change feed
	ChangeSource    string // postgres, mongo, none
	ListenerWorkers int

	// Push delivery
	FirebaseCredentialsFile string
	PushChunkSize           int
	PushDeadline            time.Duration
	PushConcurrency         int

	// Fan-out
	Audiences          []string
	FanoutConcurrency  int
	RecordConcurrency  int
	SubscriberPageSize int
	PruneInvalidTokens bool

	// Maintenance
	CleanupInterval       time.Duration
	CatchUpInterval       time.Duration
	CatchUpGrace          time.Duration
	CatchUpBatch          int
	NotificationRetention time.Duration
	ChangeRetention       time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Auth. Empty disables bearer auth on /api/v1.
	JWTSecret string

	// Payment gateway
	PhonePeBaseURL     string
	PhonePeMerchantID  string
	PhonePeSaltKey     string
	PhonePeSaltIndex   string
	PhonePeCallbackURL string
	PhonePeRedirectURL string
	PhonePeRatePerSec  int
}

// Load reads configuration from environment variables with sensible defaults
// and validates it.
func Load() (*Config, error) {
	backend := strings.ToLower(envOr("STORE_BACKEND", BackendPostgres))

	cfg := &Config{
		StoreBackend:   backend,
		DatabaseURL:    envOr("DATABASE_URL", ""),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,
		SQLitePath:     envOr("SQLITE_PATH", "notifier.db"),
		MongoURI:       envOr("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:  envOr("MONGO_DATABASE", "notifier"),

		ChangeSource:    strings.ToLower(envOr("CHANGE_SOURCE", defaultChangeSource(backend))),
		ListenerWorkers: envInt("LISTENER_WORKERS", 8),

		FirebaseCredentialsFile: envOr("FIREBASE_CREDENTIALS_FILE", ""),
		PushChunkSize:           envInt("PUSH_CHUNK_SIZE", maxPushChunk),
		PushDeadline:            envDuration("PUSH_DEADLINE", 30*time.Second),
		PushConcurrency:         envInt("PUSH_CONCURRENCY", 4),

		Audiences:          envList("AUDIENCES", []string{"agent", "buyer", "seller", "property"}),
		FanoutConcurrency:  envInt("FANOUT_CONCURRENCY", 8),
		RecordConcurrency:  envInt("RECORD_CONCURRENCY", 16),
		SubscriberPageSize: envInt("SUBSCRIBER_PAGE_SIZE", 200),
		PruneInvalidTokens: envBool("PRUNE_INVALID_TOKENS", true),

		CleanupInterval:       envDuration("CLEANUP_INTERVAL", 30*time.Minute),
		CatchUpInterval:       envDuration("CATCHUP_INTERVAL", 5*time.Minute),
		CatchUpGrace:          envDuration("CATCHUP_GRACE", 2*time.Minute),
		CatchUpBatch:          envInt("CATCHUP_BATCH", 200),
		NotificationRetention: envDuration("NOTIFICATION_RETENTION", 90*24*time.Hour),
		ChangeRetention:       envDuration("CHANGE_RETENTION", 7*24*time.Hour),

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		JWTSecret: envOr("JWT_SECRET", ""),

		PhonePeBaseURL:     envOr("PHONEPE_BASE_URL", "https://api-preprod.phonepe.com/apis/pg-sandbox"),
		PhonePeMerchantID:  envOr("PHONEPE_MERCHANT_ID", ""),
		PhonePeSaltKey:     envOr("PHONEPE_SALT_KEY", ""),
		PhonePeSaltIndex:   envOr("PHONEPE_SALT_INDEX", "1"),
		PhonePeCallbackURL: envOr("PHONEPE_CALLBACK_URL", ""),
		PhonePeRedirectURL: envOr("PHONEPE_REDIRECT_URL", ""),
		PhonePeRatePerSec:  envInt("PHONEPE_RATE_PER_SEC", 5),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL must be set for the postgres backend"))
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH must be set for the sqlite backend"))
		}
	case BackendMongo:
		if c.MongoURI == "" || c.MongoDatabase == "" {
			errs = append(errs, errors.New("MONGO_URI and MONGO_DATABASE must be set for the mongo backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.ChangeSource {
	case ChangeSourceNone:
	case BackendPostgres, BackendMongo:
		if c.ChangeSource != c.StoreBackend {
			errs = append(errs, fmt.Errorf("CHANGE_SOURCE %q requires STORE_BACKEND %q", c.ChangeSource, c.ChangeSource))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CHANGE_SOURCE %q", c.ChangeSource))
	}

	if c.PushChunkSize <= 0 || c.PushChunkSize > maxPushChunk {
		errs = append(errs, fmt.Errorf("PUSH_CHUNK_SIZE must be in 1..%d, got %d", maxPushChunk, c.PushChunkSize))
	}
	if c.PushDeadline <= 0 {
		errs = append(errs, errors.New("PUSH_DEADLINE must be positive"))
	}

	return errors.Join(errs...)
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// PaymentsEnabled reports whether gateway credentials are configured.
func (c *Config) PaymentsEnabled() bool {
	return c.PhonePeMerchantID != "" && c.PhonePeSaltKey != ""
}

func defaultChangeSource(backend string) string {
	if backend == BackendPostgres || backend == BackendMongo {
		return backend
	}
	return ChangeSourceNone
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
