// Package listener feeds listing changes into the notification pipeline.
//
// The Postgres feed holds a dedicated pgx connection (not from the pool)
// listening on the `listing_changed` channel. Each notification carries a
// document_changes row id; the row holds the previous and current listing
// state. The Mongo feed reads a change stream with pre-images. Both submit
// changes to a bounded worker pool so a burst of updates never spawns
// unbounded goroutines.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/jackc/pgx/v5"

	"github.com/landandplot/notifier/internal/notifications"
)

const (
	channel          = "listing_changed"
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
	handleTimeout    = 2 * time.Minute
)

// Handler processes one listing change.
type Handler interface {
	Handle(ctx context.Context, change notifications.DocumentChange) *notifications.Report
}

// ChangeStore loads and acknowledges stored change rows.
type ChangeStore interface {
	Load(ctx context.Context, id int64) (notifications.DocumentChange, error)
	MarkProcessed(ctx context.Context, id int64) error
	Unprocessed(ctx context.Context, olderThan time.Duration, limit int) ([]int64, error)
}

// Listener runs changes through a Handler on a bounded worker pool. Queued
// changes do not inherit cancellation from the feed that submitted them; they
// run until handled or until Shutdown gives up waiting.
type Listener struct {
	handler Handler
	workers *workerpool.WorkerPool
	logger  *slog.Logger
	base    context.Context
	abort   context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// New creates a Listener with at most workers concurrent invocations.
func New(handler Handler, workers int, logger *slog.Logger) *Listener {
	if workers <= 0 {
		workers = 1
	}
	base, abort := context.WithCancel(context.Background())
	return &Listener{
		handler: handler,
		workers: workerpool.New(workers),
		logger:  logger.With("component", "listener"),
		base:    base,
		abort:   abort,
	}
}

// Stop waits for every queued change to finish and releases the workers.
func (l *Listener) Stop() {
	_ = l.Shutdown(context.Background())
}

// Shutdown stops accepting changes and waits for queued ones to finish. When
// ctx ends first, the contexts of running and queued changes are cancelled
// and Shutdown returns ctx's error once the workers have exited.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		l.workers.StopWait()
		close(drained)
	}()

	select {
	case <-drained:
		l.abort()
		return nil
	case <-ctx.Done():
		l.abort()
		<-drained
		return ctx.Err()
	}
}

// workContext detaches ctx from its cancellation, keeping its values. The
// result ends after handleTimeout or when Shutdown aborts.
func (l *Listener) workContext(ctx context.Context) (context.Context, context.CancelFunc) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handleTimeout)
	stop := context.AfterFunc(l.base, cancel)
	return wctx, func() {
		stop()
		cancel()
	}
}

// enqueue hands task to the pool unless Shutdown has begun.
func (l *Listener) enqueue(task func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	l.workers.Submit(task)
	return true
}

// Submit queues a change. done, when non-nil, runs after the handler.
// Changes submitted after Shutdown has begun are dropped.
func (l *Listener) Submit(ctx context.Context, change notifications.DocumentChange, done func(*notifications.Report)) {
	ok := l.enqueue(func() {
		hctx, cancel := l.workContext(ctx)
		defer cancel()

		rep := l.handler.Handle(hctx, change)
		if done != nil {
			done(rep)
		}
	})
	if !ok {
		l.logger.Warn("change dropped during shutdown", "doc_id", change.DocumentID, "version", change.Version)
	}
}

// SubmitStored queues a stored change row and marks it processed once the
// handler returns. Rows that fail to load stay unprocessed for the
// catch-up sweep, except undecodable rows, which are marked processed.
func (l *Listener) SubmitStored(ctx context.Context, changes ChangeStore, id int64) {
	ok := l.enqueue(func() {
		wctx, cancel := l.workContext(ctx)
		defer cancel()

		if _, err := l.ProcessStored(wctx, changes, id); err != nil {
			l.logger.Warn("stored change failed", "change_id", id, "error", err)
		}
	})
	if !ok {
		l.logger.Info("stored change left for catch-up", "change_id", id)
	}
}

// ProcessStored loads, handles and acknowledges one stored change
// synchronously.
func (l *Listener) ProcessStored(ctx context.Context, changes ChangeStore, id int64) (*notifications.Report, error) {
	hctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	change, err := changes.Load(hctx, id)
	if errors.Is(err, ErrUndecodable) {
		l.logger.Warn("undecodable change dropped", "change_id", id, "error", err)
		if err := changes.MarkProcessed(hctx, id); err != nil {
			return nil, fmt.Errorf("mark change %d processed: %w", id, err)
		}
		return nil, fmt.Errorf("load change %d: %w", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("load change %d: %w", id, err)
	}
	rep := l.handler.Handle(hctx, change)
	if err := changes.MarkProcessed(hctx, id); err != nil {
		return rep, fmt.Errorf("mark change %d processed: %w", id, err)
	}
	return rep, nil
}

// ListenPostgres opens a dedicated connection and listens on the
// listing_changed channel. It reconnects automatically on connection loss.
// Blocks until ctx is cancelled. Intended to be called with `go`.
func (l *Listener) ListenPostgres(ctx context.Context, dbURL string, changes ChangeStore) {
	backoff := reconnectBackoff

	for {
		err := l.listenLoop(ctx, dbURL, changes)
		if ctx.Err() != nil {
			l.logger.Info("Change listener stopped (context cancelled)")
			return
		}

		l.logger.Error("Change listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func (l *Listener) listenLoop(ctx context.Context, dbURL string, changes ChangeStore) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+channel)
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", channel, err)
	}
	l.logger.Info("Change listener connected", "channel", channel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		id, err := strconv.ParseInt(notification.Payload, 10, 64)
		if err != nil {
			l.logger.Warn("Failed to parse change id",
				"payload", notification.Payload, "error", err)
			continue
		}

		l.logger.Debug("Listing change received", "change_id", id)
		l.SubmitStored(ctx, changes, id)
	}
}
