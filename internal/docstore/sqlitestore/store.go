// Package sqlitestore is an embedded docstore.Store on SQLite's JSON1
// functions. It backs local development and the test suites.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/landandplot/notifier/internal/docstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	PRIMARY KEY (collection, id)
);`

// Store implements docstore.Store.
type Store struct {
	db *sqlx.DB
}

var _ docstore.Store = (*Store)(nil)

type row struct {
	ID   string `db:"id"`
	Data string `db:"data"`
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps an in-memory database shared and serializes
	// writers so conditional inserts stay atomic.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get implements docstore.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var r row
	err := s.db.GetContext(ctx, &r,
		`SELECT id, data FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return docstore.Document{ID: r.ID, Data: json.RawMessage(r.Data)}, nil
}

// Query implements docstore.Store.
func (s *Store) Query(ctx context.Context, collection string, f docstore.Filter, after string, limit int) ([]docstore.Document, error) {
	path := "$." + f.Field

	var cond string
	switch f.Op {
	case docstore.OpEqual:
		cond = `json_extract(data, ?) = ?`
	case docstore.OpArrayContains:
		cond = `EXISTS (SELECT 1 FROM json_each(documents.data, ?) WHERE json_each.value = ?)`
	default:
		return nil, fmt.Errorf("%w: %q", docstore.ErrUnsupportedOp, f.Op)
	}

	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, data FROM documents
		WHERE collection = ? AND `+cond+` AND id > ?
		ORDER BY id
		LIMIT ?`,
		collection, path, f.Value, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	docs := make([]docstore.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, docstore.Document{ID: r.ID, Data: json.RawMessage(r.Data)})
	}
	return docs, nil
}

// Create implements docstore.Store.
func (s *Store) Create(ctx context.Context, collection string, data json.RawMessage) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)`,
		collection, id, string(data))
	if err != nil {
		return "", fmt.Errorf("create %s: %w", collection, err)
	}
	return id, nil
}

// CreateIfAbsent implements docstore.Store.
func (s *Store) CreateIfAbsent(ctx context.Context, collection, id string, data json.RawMessage) (docstore.Document, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)
		ON CONFLICT (collection, id) DO NOTHING`,
		collection, id, string(data))
	if err != nil {
		return docstore.Document{}, false, fmt.Errorf("create %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return docstore.Document{}, false, fmt.Errorf("create %s/%s: %w", collection, id, err)
	}
	if n == 1 {
		return docstore.Document{ID: id, Data: data}, true, nil
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

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for _, w := range writes {
		q := `
			INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)
			ON CONFLICT (collection, id) DO UPDATE
			SET data = excluded.data, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`
		if w.IfAbsent {
			q = `
				INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)
				ON CONFLICT (collection, id) DO NOTHING`
		}
		if _, err := tx.ExecContext(ctx, q, w.Collection, w.ID, string(w.Data)); err != nil {
			return fmt.Errorf("batch write %s/%s: %w", w.Collection, w.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// ArrayRemove implements docstore.Store.
func (s *Store) ArrayRemove(ctx context.Context, collection, id, field string, values []string) error {
	if len(values) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin array remove: %w", err)
	}
	defer tx.Rollback()

	var data string
	err = tx.GetContext(ctx, &data,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("array remove %s/%s: %w", collection, id, err)
	}

	updated, changed, err := docstore.RemoveStrings(json.RawMessage(data), field, values)
	if err != nil {
		return fmt.Errorf("array remove %s/%s: %w", collection, id, err)
	}
	if !changed {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET data = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE collection = ? AND id = ?`,
		string(updated), collection, id); err != nil {
		return fmt.Errorf("array remove %s/%s: %w", collection, id, err)
	}
	return tx.Commit()
}
