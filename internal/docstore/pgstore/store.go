// Package pgstore is the Postgres docstore.Store. Documents live in the
// JSONB documents table created by db.Migrate; statements are the ones
// db.New prepares on every pooled connection.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/landandplot/notifier/internal/docstore"
)

// Store implements docstore.Store over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ docstore.Store = (*Store)(nil)

// New wraps an existing pool. The caller owns the pool's lifetime.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close is a no-op; the pool is closed by its owner.
func (s *Store) Close() error {
	return nil
}

// Get implements docstore.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var doc docstore.Document
	var data []byte
	err := s.pool.QueryRow(ctx, "doc_get", collection, id).Scan(&doc.ID, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	doc.Data = json.RawMessage(data)
	return doc, nil
}

// Query implements docstore.Store.
func (s *Store) Query(ctx context.Context, collection string, f docstore.Filter, after string, limit int) ([]docstore.Document, error) {
	var stmt string
	switch f.Op {
	case docstore.OpEqual:
		stmt = "doc_query_eq"
	case docstore.OpArrayContains:
		stmt = "doc_query_contains"
	default:
		return nil, fmt.Errorf("%w: %q", docstore.ErrUnsupportedOp, f.Op)
	}

	rows, err := s.pool.Query(ctx, stmt, collection, f.Field, f.Value, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		docs = append(docs, docstore.Document{ID: id, Data: json.RawMessage(data)})
	}
	return docs, rows.Err()
}

// Create implements docstore.Store.
func (s *Store) Create(ctx context.Context, collection string, data json.RawMessage) (string, error) {
	id := uuid.NewString()
	if _, err := s.pool.Exec(ctx, "doc_insert", collection, id, string(data)); err != nil {
		return "", fmt.Errorf("create %s: %w", collection, err)
	}
	return id, nil
}

// CreateIfAbsent implements docstore.Store. The insert is a single
// ON CONFLICT DO NOTHING statement, so concurrent callers race safely.
func (s *Store) CreateIfAbsent(ctx context.Context, collection, id string, data json.RawMessage) (docstore.Document, bool, error) {
	var stored []byte
	err := s.pool.QueryRow(ctx, "doc_insert_if_absent", collection, id, string(data)).Scan(&stored)
	if err == nil {
		return docstore.Document{ID: id, Data: json.RawMessage(stored)}, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return docstore.Document{}, false, fmt.Errorf("create %s/%s: %w", collection, id, err)
	}

	existing, err := s.Get(ctx, collection, id)
	if err != nil {
		return docstore.Document{}, false, err
	}
	return existing, false, nil
}

// BatchCommit implements docstore.Store.
func (s *Store) BatchCommit(ctx context.Context, writes []docstore.Write) error {
	if err := docstore.CheckBatch(writes); err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, w := range writes {
			stmt := "doc_upsert"
			if w.IfAbsent {
				stmt = "doc_insert_if_absent"
			}
			batch.Queue(stmt, w.Collection, w.ID, string(w.Data))
		}

		br := tx.SendBatch(ctx, batch)
		for _, w := range writes {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("batch write %s/%s: %w", w.Collection, w.ID, err)
			}
		}
		return br.Close()
	})
}

// ArrayRemove implements docstore.Store.
func (s *Store) ArrayRemove(ctx context.Context, collection, id, field string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, "doc_array_remove", collection, id, field, values); err != nil {
		return fmt.Errorf("array remove %s/%s: %w", collection, id, err)
	}
	return nil
}
