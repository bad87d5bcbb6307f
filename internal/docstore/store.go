// Package docstore defines the keyed document store the notifier reads
// listings and users from and writes notification records to.
//
// Documents are opaque JSON objects addressed by (collection, id). Backends
// live in sub-packages: pgstore (Postgres JSONB), sqlitestore (SQLite JSON1)
// and mongostore (MongoDB).
package docstore

import (
	"context"
	"encoding/json"
	"errors"
)

//go:generate mockgen -destination=../mocks/docstore_mock.go -package=mocks github.com/landandplot/notifier/internal/docstore Store

// Collection names.
const (
	Properties    = "properties"
	Users         = "users"
	Notifications = "notifications"
)

// MaxBatchWrites is the provider limit on writes in one BatchCommit.
const MaxBatchWrites = 500

var (
	// ErrNotFound is returned by Get when the document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrBatchTooLarge is returned by BatchCommit above MaxBatchWrites.
	ErrBatchTooLarge = errors.New("batch exceeds write limit")
	// ErrUnsupportedOp is returned for filter operators a backend cannot run.
	ErrUnsupportedOp = errors.New("unsupported filter operator")
)

// Op is a filter comparison operator.
type Op string

const (
	OpEqual         Op = "=="
	OpArrayContains Op = "array-contains"
)

// Filter selects documents where Field compares to Value.
type Filter struct {
	Field string
	Op    Op
	Value string
}

// Document is one stored record.
type Document struct {
	ID   string
	Data json.RawMessage
}

// Write is one entry of a BatchCommit. Writes with IfAbsent set are skipped
// when the id already exists instead of overwriting it.
type Write struct {
	Collection string
	ID         string
	Data       json.RawMessage
	IfAbsent   bool
}

// Store is the document store contract consumed by the notifier.
type Store interface {
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Query returns up to limit documents matching f with id > after, ordered
	// by id. Callers page by passing the last id of the previous page.
	Query(ctx context.Context, collection string, f Filter, after string, limit int) ([]Document, error)

	// Create stores data under a fresh id and returns it.
	Create(ctx context.Context, collection string, data json.RawMessage) (string, error)

	// CreateIfAbsent atomically stores data under id unless the id is taken.
	// It returns the stored document and whether this call created it.
	CreateIfAbsent(ctx context.Context, collection, id string, data json.RawMessage) (Document, bool, error)

	// BatchCommit applies up to MaxBatchWrites writes atomically.
	BatchCommit(ctx context.Context, writes []Write) error

	// ArrayRemove removes every occurrence of values from the string array
	// stored at field. Missing documents are not an error.
	ArrayRemove(ctx context.Context, collection, id, field string, values []string) error

	// Close releases backend resources.
	Close() error
}

// Each pages through every document matching f, calling fn once per page.
// Iteration stops at the first error from the store or from fn.
func Each(ctx context.Context, s Store, collection string, f Filter, pageSize int, fn func([]Document) error) error {
	if pageSize <= 0 {
		pageSize = 100
	}
	after := ""
	for {
		page, err := s.Query(ctx, collection, f, after, pageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < pageSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
}

// CheckBatch validates a batch against MaxBatchWrites.
func CheckBatch(writes []Write) error {
	if len(writes) > MaxBatchWrites {
		return ErrBatchTooLarge
	}
	return nil
}

// Put upserts a single document.
func Put(ctx context.Context, s Store, collection, id string, data json.RawMessage) error {
	return s.BatchCommit(ctx, []Write{{Collection: collection, ID: id, Data: data}})
}

// RemoveStrings returns the string array at field in doc with values
// removed, re-encoded into the document. Backends without a native array
// removal use it for read-modify-write updates.
func RemoveStrings(doc json.RawMessage, field string, values []string) (json.RawMessage, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, false, err
	}
	raw, ok := fields[field]
	if !ok {
		return doc, false, nil
	}
	var current []string
	if err := json.Unmarshal(raw, &current); err != nil {
		return nil, false, err
	}

	drop := make(map[string]struct{}, len(values))
	for _, v := range values {
		drop[v] = struct{}{}
	}
	kept := make([]string, 0, len(current))
	for _, v := range current {
		if _, ok := drop[v]; !ok {
			kept = append(kept, v)
		}
	}
	if len(kept) == len(current) {
		return doc, false, nil
	}

	encoded, err := json.Marshal(kept)
	if err != nil {
		return nil, false, err
	}
	fields[field] = encoded
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Ping checks that s answers reads. A missing document counts as healthy.
func Ping(ctx context.Context, s Store) error {
	_, err := s.Get(ctx, Users, "__ping__")
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}
