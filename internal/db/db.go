// Package db provides a pgxpool-based connection pool with prepared statement
// registration, health checking and schema migration.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/landandplot/notifier/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// Migrate applies the embedded schema over a dedicated connection. It runs
// before New because the pool prepares statements against these tables.
func Migrate(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// registerPreparedStatements registers all statements the store, listener
// and maintenance layers use.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Document store
		"doc_get": "SELECT id, data FROM documents WHERE collection = $1 AND id = $2",
		"doc_query_eq": `SELECT id, data FROM documents
			WHERE collection = $1 AND data->>$2 = $3 AND id > $4
			ORDER BY id LIMIT $5`,
		"doc_query_contains": `SELECT id, data FROM documents
			WHERE collection = $1 AND data->$2 @> jsonb_build_array($3::text) AND id > $4
			ORDER BY id LIMIT $5`,
		"doc_insert": "INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)",
		"doc_insert_if_absent": `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)
			ON CONFLICT (collection, id) DO NOTHING
			RETURNING data`,
		"doc_upsert": `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)
			ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data`,
		"doc_array_remove": `UPDATE documents
			SET data = jsonb_set(data, ARRAY[$3::text], COALESCE(
				(SELECT jsonb_agg(e) FROM jsonb_array_elements(data->$3) e
				 WHERE NOT (e #>> '{}' = ANY($4::text[]))),
				'[]'::jsonb))
			WHERE collection = $1 AND id = $2 AND jsonb_typeof(data->$3) = 'array'`,

		// Change feed
		"change_by_id": `SELECT id, doc_id, op, previous, current, version, created_at
			FROM document_changes WHERE id = $1`,
		"change_mark_processed": "UPDATE document_changes SET processed_at = NOW() WHERE id = $1",
		"changes_unprocessed": `SELECT id FROM document_changes
			WHERE processed_at IS NULL AND created_at < NOW() - $1::interval
			ORDER BY id LIMIT $2`,

		// Maintenance
		"notifications_purge_read": `DELETE FROM documents
			WHERE collection = 'notifications' AND data->>'read' = 'true'
			  AND created_at < NOW() - $1::interval`,
		"changes_purge_processed": `DELETE FROM document_changes
			WHERE processed_at IS NOT NULL AND processed_at < NOW() - $1::interval`,
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
