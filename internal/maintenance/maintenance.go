// Package maintenance runs periodic background tasks as Go tickers.
// All scheduled work is driven from Go since the service is already a
// persistent, long-running process (required for LISTEN/NOTIFY).
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/landandplot/notifier/internal/listener"
)

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	CleanupInterval       time.Duration // Read notifications + processed change rows
	CatchUpInterval       time.Duration // Sweep for missed NOTIFY events
	CatchUpGrace          time.Duration // Minimum age of a change before the sweep replays it
	CatchUpBatch          int
	NotificationRetention time.Duration
	ChangeRetention       time.Duration
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		CleanupInterval:       30 * time.Minute,
		CatchUpInterval:       5 * time.Minute,
		CatchUpGrace:          2 * time.Minute,
		CatchUpBatch:          200,
		NotificationRetention: 90 * 24 * time.Hour,
		ChangeRetention:       7 * 24 * time.Hour,
	}
}

// Purger deletes rows past their retention.
type Purger interface {
	PurgeReadNotifications(ctx context.Context, olderThan time.Duration) (int64, error)
	PurgeProcessedChanges(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Resubmitter queues a stored change for processing.
type Resubmitter interface {
	SubmitStored(ctx context.Context, changes listener.ChangeStore, id int64)
}

// Runner owns the maintenance tasks.
type Runner struct {
	purger  Purger
	changes listener.ChangeStore
	queue   Resubmitter
	cfg     Config
	logger  *slog.Logger
}

// New creates a Runner.
func New(purger Purger, changes listener.ChangeStore, queue Resubmitter, cfg Config, logger *slog.Logger) *Runner {
	if cfg.CatchUpBatch <= 0 {
		cfg.CatchUpBatch = DefaultConfig().CatchUpBatch
	}
	return &Runner{
		purger:  purger,
		changes: changes,
		queue:   queue,
		cfg:     cfg,
		logger:  logger.With("component", "maintenance"),
	}
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("Maintenance tickers started",
		"cleanup", r.cfg.CleanupInterval,
		"catchup", r.cfg.CatchUpInterval)

	tickers := make([]*time.Ticker, 0, 2)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	// Cleanup: remove read notifications and processed change rows
	if r.cfg.CleanupInterval > 0 {
		t := time.NewTicker(r.cfg.CleanupInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { r.Cleanup(ctx) })
	}

	// Catch-up: replay changes whose NOTIFY was missed during downtime
	if r.cfg.CatchUpInterval > 0 {
		t := time.NewTicker(r.cfg.CatchUpInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { r.CatchUp(ctx) })
	}

	<-ctx.Done()
	r.logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// Cleanup purges read notifications and processed change rows older than
// their retention. Unread notifications are never purged.
func (r *Runner) Cleanup(ctx context.Context) {
	if r.cfg.NotificationRetention > 0 {
		n, err := r.purger.PurgeReadNotifications(ctx, r.cfg.NotificationRetention)
		if err != nil {
			r.logger.Warn("Cleanup: failed to purge read notifications", "error", err)
		} else if n > 0 {
			r.logger.Info("Cleanup: purged read notifications", "count", n)
		}
	}

	if r.cfg.ChangeRetention > 0 {
		n, err := r.purger.PurgeProcessedChanges(ctx, r.cfg.ChangeRetention)
		if err != nil {
			r.logger.Warn("Cleanup: failed to purge processed changes", "error", err)
		} else if n > 0 {
			r.logger.Info("Cleanup: purged processed changes", "count", n)
		}
	}
}

// CatchUp resubmits changes that were never acknowledged, oldest first.
// Replays are safe because record creation is idempotent.
func (r *Runner) CatchUp(ctx context.Context) int {
	ids, err := r.changes.Unprocessed(ctx, r.cfg.CatchUpGrace, r.cfg.CatchUpBatch)
	if err != nil {
		r.logger.Warn("Catch-up sweep: failed", "error", err)
		return 0
	}
	for _, id := range ids {
		r.queue.SubmitStored(ctx, r.changes, id)
	}
	if len(ids) > 0 {
		r.logger.Info("Catch-up sweep: resubmitted missed changes", "count", len(ids))
	}
	return len(ids)
}

// --------------------------------------------------------------------------
// Postgres
// --------------------------------------------------------------------------

// PGPurger runs the purge statements db.New prepares.
type PGPurger struct {
	pool *pgxpool.Pool
}

// NewPGPurger wraps pool.
func NewPGPurger(pool *pgxpool.Pool) *PGPurger {
	return &PGPurger{pool: pool}
}

// PurgeReadNotifications implements Purger.
func (p *PGPurger) PurgeReadNotifications(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := p.pool.Exec(ctx, "notifications_purge_read", olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PurgeProcessedChanges implements Purger.
func (p *PGPurger) PurgeProcessedChanges(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := p.pool.Exec(ctx, "changes_purge_processed", olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
