package push

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 4
	defaultDeadline    = 30 * time.Second
)

// Options tunes a Dispatcher. Zero values select defaults.
type Options struct {
	ChunkSize   int
	Concurrency int
	// Deadline bounds one Dispatch call across all of its chunks.
	Deadline time.Duration
}

// ChunkResult is the outcome of one chunk send.
type ChunkResult struct {
	Index        int
	Tokens       []string
	Sent         int
	Failed       int
	Unregistered []string
	// Err is set when the whole chunk failed or was never attempted.
	Err error
}

// OK reports whether every token in the chunk was accepted.
func (r ChunkResult) OK() bool {
	return r.Err == nil && r.Failed == 0
}

// Dispatcher sends payloads to token lists in chunks, best-effort per chunk.
type Dispatcher struct {
	transport   Transport
	chunkSize   int
	concurrency int
	deadline    time.Duration
	logger      *slog.Logger
}

// NewDispatcher creates a Dispatcher over transport.
func NewDispatcher(transport Transport, opts Options, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ChunkSize <= 0 || opts.ChunkSize > MaxMulticastTokens {
		opts.ChunkSize = MaxMulticastTokens
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Deadline <= 0 {
		opts.Deadline = defaultDeadline
	}
	return &Dispatcher{
		transport:   transport,
		chunkSize:   opts.ChunkSize,
		concurrency: opts.Concurrency,
		deadline:    opts.Deadline,
		logger:      logger,
	}
}

// Dispatch sends msg to every token and returns one result per chunk in
// chunk order. An empty token list makes no transport calls and returns nil.
// Chunks still queued when the deadline passes are reported as failed
// without being sent.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, msg Message) []ChunkResult {
	chunks := Chunk(tokens, d.chunkSize)
	if len(chunks) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.deadline)
	defer cancel()

	results := make([]ChunkResult, len(chunks))

	// Plain group: a failing chunk must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			results[i] = d.send(ctx, i, chunk, msg)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (d *Dispatcher) send(ctx context.Context, index int, tokens []string, msg Message) ChunkResult {
	result := ChunkResult{Index: index, Tokens: tokens}

	if err := ctx.Err(); err != nil {
		result.Failed = len(tokens)
		result.Err = fmt.Errorf("chunk not attempted: %w", err)
		d.logger.Warn("push chunk skipped", "chunk", index, "tokens", len(tokens), "error", err)
		return result
	}

	resp, err := d.transport.SendMulticast(ctx, tokens, msg)
	if err != nil {
		result.Failed = len(tokens)
		result.Err = err
		d.logger.Warn("push chunk failed", "chunk", index, "tokens", len(tokens), "error", err)
		return result
	}

	result.Sent = resp.SuccessCount
	result.Failed = resp.FailureCount
	for _, r := range resp.Responses {
		if r.Unregistered {
			result.Unregistered = append(result.Unregistered, r.Token)
		}
	}
	if result.Failed > 0 {
		d.logger.Warn("push chunk partially rejected",
			"chunk", index, "sent", result.Sent, "failed", result.Failed,
			"unregistered", len(result.Unregistered))
	}
	return result
}

// Summary aggregates chunk results.
type Summary struct {
	Chunks       int
	Sent         int
	Failed       int
	FailedChunks int
	Unregistered []string
}

// OK reports whether every chunk succeeded. An empty dispatch is OK.
func (s Summary) OK() bool {
	return s.FailedChunks == 0 && s.Failed == 0
}

// Summarize folds results into a Summary.
func Summarize(results []ChunkResult) Summary {
	var s Summary
	for _, r := range results {
		s.Chunks++
		s.Sent += r.Sent
		s.Failed += r.Failed
		if r.Err != nil {
			s.FailedChunks++
		}
		s.Unregistered = append(s.Unregistered, r.Unregistered...)
	}
	return s
}
