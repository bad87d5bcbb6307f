package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/landandplot/notifier/internal/docstore"
	"github.com/landandplot/notifier/internal/model"
	"github.com/landandplot/notifier/internal/push"
)

// Options tunes a Pipeline. Zero values select defaults.
type Options struct {
	// Audiences enabled for this process. Empty selects all.
	Audiences []Audience
	// FanoutConcurrency bounds concurrently processed (audience, event) pairs.
	FanoutConcurrency int
	// RecordConcurrency bounds concurrent record writes within one event.
	RecordConcurrency int
	// SubscriberPageSize bounds each area-subscriber query page.
	SubscriberPageSize int
	// PruneInvalidTokens removes tokens the transport reports unregistered.
	PruneInvalidTokens bool
}

// Pipeline is the fan-out orchestrator. It holds no state between
// invocations; all durable state lives in the document store.
type Pipeline struct {
	resolver   *Resolver
	records    *RecordStore
	dispatcher *push.Dispatcher
	opts       Options
	logger     *slog.Logger
}

// NewPipeline wires a Pipeline over store and dispatcher.
func NewPipeline(store docstore.Store, dispatcher *push.Dispatcher, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.Audiences) == 0 {
		opts.Audiences = AllAudiences
	}
	if opts.FanoutConcurrency <= 0 {
		opts.FanoutConcurrency = defaultFanoutConcurrency
	}
	if opts.RecordConcurrency <= 0 {
		opts.RecordConcurrency = defaultRecordConcurrency
	}
	return &Pipeline{
		resolver:   NewResolver(store, opts.SubscriberPageSize),
		records:    NewRecordStore(store),
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger.With("component", "notifications"),
	}
}

// Records exposes the record store the pipeline writes to.
func (p *Pipeline) Records() *RecordStore {
	return p.records
}

type delivery struct {
	audience Audience
	event    Event
}

// Handle processes one listing change: detect events, then for every
// enabled audience resolve recipients, persist records and push. Failures
// are isolated and returned in the Report. Re-handling the same change is
// safe: records already written are not written or pushed again.
func (p *Pipeline) Handle(ctx context.Context, change DocumentChange) *Report {
	current := change.Current
	if current.ID == "" {
		current.ID = change.DocumentID
	}
	var previous *model.Listing
	if change.Previous != nil {
		prev := *change.Previous
		prev.ID = current.ID
		previous = &prev
	}
	version := change.Version
	if version == "" {
		version = StateVersion(current)
	}

	rep := &Report{ListingID: current.ID, Version: version}
	logger := p.logger.With("listing_id", current.ID, "version", version)

	for _, note := range Ambiguities(previous, current) {
		logger.Warn("detection ambiguity", "detail", note)
		rep.fail(Failure{Kind: DetectionAmbiguity, Error: note})
	}

	var work []delivery
	for ev := range Detect(previous, current) {
		ev.Version = version
		rep.Events++
		for _, a := range p.opts.Audiences {
			if a.onCreate() == change.IsCreate() && a.Handles(ev.Kind) {
				work = append(work, delivery{audience: a, event: ev})
			}
		}
	}
	if len(work) == 0 {
		logger.Debug("No notifiable events")
		return rep
	}

	var g errgroup.Group
	g.SetLimit(p.opts.FanoutConcurrency)
	for _, d := range work {
		g.Go(func() error {
			p.deliver(ctx, logger, current, d.audience, d.event, rep)
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("Listing change processed",
		"events", rep.Events,
		"records_created", rep.RecordsCreated,
		"records_existing", rep.RecordsExisting,
		"push_sent", rep.PushSent,
		"failures", len(rep.Failures))
	return rep
}

// deliver runs one (audience, event) pair: every recipient gets a record,
// and the tokens of newly notified recipients are pushed together.
func (p *Pipeline) deliver(ctx context.Context, logger *slog.Logger, listing model.Listing, a Audience, ev Event, rep *Report) {
	logger = logger.With("audience", a, "event", ev.Kind)
	message := buildMessage(a, ev)
	payload := pushMessage(pushTitle(a), ev.Kind.RecordType(), message, listing.ID)
	tokens := newTokenSet()

	flush := func() {
		list, owners := tokens.drain()
		p.push(ctx, logger, a, ev, list, owners, payload, rep)
	}

	err := p.resolver.Resolve(ctx, a, ev, listing, func(batch []Recipient) error {
		var g errgroup.Group
		g.SetLimit(p.opts.RecordConcurrency)
		for _, r := range batch {
			g.Go(func() error {
				p.deliverRecord(ctx, logger, a, ev, r, message, tokens, rep)
				return nil
			})
		}
		_ = g.Wait()

		if tokens.len() >= maxBufferedTokens {
			flush()
		}
		return nil
	})
	if err != nil {
		logger.Warn("recipient lookup failed", "error", err)
		rep.fail(Failure{Kind: RecipientLookupFailure, Audience: a, Event: ev.Kind, Error: err.Error()})
	}
	flush()
}

func (p *Pipeline) deliverRecord(ctx context.Context, logger *slog.Logger, a Audience, ev Event, r Recipient, message string, tokens *tokenSet, rep *Report) {
	_, created, err := p.records.Create(ctx, RecordInput{
		UserID:     r.UserID,
		Type:       ev.Kind.RecordType(),
		Message:    message,
		PropertyID: ev.ListingID,
		AgentAlert: r.AgentAlert,
		Key:        IdempotencyKey(a, ev, r.UserID),
	})
	switch {
	case err != nil:
		// The push still goes out. A replay writes the record and pushes again.
		logger.Warn("record write failed", "user_id", r.UserID, "error", err)
		rep.fail(Failure{Kind: RecordWriteFailure, Audience: a, Event: ev.Kind, UserID: r.UserID, Error: err.Error()})
	case !created:
		// Delivered by an earlier attempt of this change.
		rep.recorded(false)
		return
	default:
		rep.recorded(true)
	}

	userTokens := r.Tokens
	if !r.tokensLoaded {
		userTokens, err = p.records.UserTokens(ctx, r.UserID)
		if err != nil {
			logger.Warn("token lookup failed", "user_id", r.UserID, "error", err)
			rep.fail(Failure{Kind: RecipientLookupFailure, Audience: a, Event: ev.Kind, UserID: r.UserID, Error: err.Error()})
			return
		}
	}
	tokens.add(r.UserID, userTokens)
}

func (p *Pipeline) push(ctx context.Context, logger *slog.Logger, a Audience, ev Event, tokens []string, owners map[string][]string, msg push.Message, rep *Report) {
	if len(tokens) == 0 {
		return
	}

	results := p.dispatcher.Dispatch(ctx, tokens, msg)
	sum := push.Summarize(results)
	rep.pushed(sum.Sent, sum.Failed)

	for _, r := range results {
		switch {
		case r.Err != nil:
			rep.fail(Failure{Kind: PushTransportFailure, Audience: a, Event: ev.Kind,
				Error: fmt.Sprintf("chunk %d: %v", r.Index, r.Err)})
		case r.Failed > 0:
			rep.fail(Failure{Kind: PushPartialFailure, Audience: a, Event: ev.Kind,
				Error: fmt.Sprintf("chunk %d: %d of %d tokens rejected", r.Index, r.Failed, len(r.Tokens))})
		}
	}

	if p.opts.PruneInvalidTokens {
		p.prune(ctx, logger, sum.Unregistered, owners, rep)
	}
}

// prune removes unregistered tokens from every user that registered them.
func (p *Pipeline) prune(ctx context.Context, logger *slog.Logger, invalid []string, owners map[string][]string, rep *Report) {
	if len(invalid) == 0 {
		return
	}
	byUser := make(map[string][]string)
	for _, t := range invalid {
		for _, uid := range owners[t] {
			byUser[uid] = append(byUser[uid], t)
		}
	}
	for uid, toks := range byUser {
		if err := p.records.PruneTokens(ctx, uid, toks); err != nil {
			logger.Warn("token prune failed", "user_id", uid, "tokens", len(toks), "error", err)
			continue
		}
		rep.pruned(len(toks))
		logger.Info("Pruned unregistered tokens", "user_id", uid, "tokens", len(toks))
	}
}
