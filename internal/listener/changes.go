package listener

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/landandplot/notifier/internal/model"
	"github.com/landandplot/notifier/internal/notifications"
)

var (
	// ErrChangeNotFound is returned when a change row does not exist.
	ErrChangeNotFound = errors.New("change not found")
	// ErrUndecodable is returned when a stored listing state is not a
	// listing document. Replaying such a row can never succeed.
	ErrUndecodable = errors.New("undecodable change")
)

// PGChanges reads document_changes rows through the statements db.New
// prepares.
type PGChanges struct {
	pool *pgxpool.Pool
}

var _ ChangeStore = (*PGChanges)(nil)

// NewPGChanges wraps pool.
func NewPGChanges(pool *pgxpool.Pool) *PGChanges {
	return &PGChanges{pool: pool}
}

// changeRow mirrors one document_changes row.
type changeRow struct {
	ID        int64
	DocID     string
	Op        string
	Previous  []byte
	Current   []byte
	Version   int64
	CreatedAt time.Time
}

// Load implements ChangeStore.
func (c *PGChanges) Load(ctx context.Context, id int64) (notifications.DocumentChange, error) {
	var r changeRow
	err := c.pool.QueryRow(ctx, "change_by_id", id).Scan(
		&r.ID, &r.DocID, &r.Op, &r.Previous, &r.Current, &r.Version, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return notifications.DocumentChange{}, fmt.Errorf("%w: %d", ErrChangeNotFound, id)
	}
	if err != nil {
		return notifications.DocumentChange{}, err
	}
	return r.toChange()
}

// MarkProcessed implements ChangeStore.
func (c *PGChanges) MarkProcessed(ctx context.Context, id int64) error {
	_, err := c.pool.Exec(ctx, "change_mark_processed", id)
	return err
}

// Unprocessed implements ChangeStore.
func (c *PGChanges) Unprocessed(ctx context.Context, olderThan time.Duration, limit int) ([]int64, error) {
	rows, err := c.pool.Query(ctx, "changes_unprocessed", olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed changes: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// toChange decodes the stored states. The change row id is the version:
// it is unique per committed write, so a redelivered notification maps to
// the same idempotency keys.
func (r changeRow) toChange() (notifications.DocumentChange, error) {
	current, err := model.DecodeListing(r.DocID, r.Current)
	if err != nil {
		return notifications.DocumentChange{}, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}
	change := notifications.DocumentChange{
		DocumentID:     r.DocID,
		Current:        current,
		Version:        "pg:" + strconv.FormatInt(r.ID, 10),
		EventTimestamp: r.CreatedAt,
	}
	if r.Op == "UPDATE" {
		prev, err := model.DecodeListing(r.DocID, r.Previous)
		if err != nil {
			return notifications.DocumentChange{}, fmt.Errorf("%w: %w", ErrUndecodable, err)
		}
		change.Previous = &prev
	}
	return change, nil
}
