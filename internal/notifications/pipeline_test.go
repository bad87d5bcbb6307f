package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/landandplot/notifier/internal/docstore"
	"github.com/landandplot/notifier/internal/docstore/sqlitestore"
	"github.com/landandplot/notifier/internal/model"
	"github.com/landandplot/notifier/internal/push"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// recordingTransport accepts every token except those listed as
// unregistered, and records each call.
type recordingTransport struct {
	mu           sync.Mutex
	calls        []push.Message
	tokens       [][]string
	unregistered map[string]bool
}

func (r *recordingTransport) SendMulticast(_ context.Context, tokens []string, msg push.Message) (*push.BatchResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, msg)
	r.tokens = append(r.tokens, slices.Clone(tokens))

	resp := &push.BatchResponse{}
	for _, t := range tokens {
		if r.unregistered[t] {
			resp.FailureCount++
			resp.Responses = append(resp.Responses, push.TokenResult{Token: t, Err: errors.New("unregistered"), Unregistered: true})
			continue
		}
		resp.SuccessCount++
		resp.Responses = append(resp.Responses, push.TokenResult{Token: t})
	}
	return resp, nil
}

func (r *recordingTransport) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recordingTransport) sentTokens() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ts := range r.tokens {
		out = append(out, ts...)
	}
	slices.Sort(out)
	return out
}

func newTestStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	s, err := sqlitestore.Open(t.Context(), ":memory:")
	if err != nil {
		t.Fatalf("sqlitestore.Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestPipeline(t *testing.T, store docstore.Store, transport push.Transport, opts Options) *Pipeline {
	t.Helper()
	opts.PruneInvalidTokens = true
	d := push.NewDispatcher(transport, push.Options{}, discard)
	return NewPipeline(store, d, opts, discard)
}

func putUser(t *testing.T, s docstore.Store, id string, u model.User) {
	t.Helper()
	data, err := json.Marshal(u)
	if err != nil {
		t.Fatal(err)
	}
	if err := docstore.Put(t.Context(), s, docstore.Users, id, data); err != nil {
		t.Fatalf("Put(%s) error: %v", id, err)
	}
}

func listRecords(t *testing.T, s docstore.Store, listingID string) []Record {
	t.Helper()
	var out []Record
	err := docstore.Each(t.Context(), s, docstore.Notifications,
		docstore.Filter{Field: "propertyId", Op: docstore.OpEqual, Value: listingID}, 50,
		func(page []docstore.Document) error {
			for _, doc := range page {
				rec, err := decodeRecord(doc)
				if err != nil {
					return err
				}
				out = append(out, rec)
			}
			return nil
		})
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	return out
}

func TestHandleStatusChange(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	transport := &recordingTransport{}
	p := newTestPipeline(t, store, transport, Options{})
	putUser(t, store, "owner1", model.User{FCMTokens: []string{"owner-phone"}})

	rep := p.Handle(t.Context(), DocumentChange{
		DocumentID: "p1",
		Previous:   &model.Listing{UserID: "owner1", Buyers: []model.Buyer{{Name: "Ravi", Status: model.StatusVisitPending}}},
		Current:    model.Listing{UserID: "owner1", Buyers: []model.Buyer{{Name: "Ravi", Status: model.StatusNegotiating}}},
		Version:    "change-1",
	})

	if rep.Events != 1 {
		t.Errorf("Events = %d, want 1", rep.Events)
	}
	records := listRecords(t, store, "p1")
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Type != TypeSaleStage || !strings.Contains(rec.Message, "negotiating") {
		t.Errorf("record = %+v, want saleStage mentioning negotiating", rec)
	}
	if rec.UserID != "owner1" || rec.AgentAlert || rec.Read || rec.Timestamp.IsZero() {
		t.Errorf("record fields = %+v", rec)
	}

	if transport.callCount() != 1 {
		t.Fatalf("transport calls = %d, want 1", transport.callCount())
	}
	msg := transport.calls[0]
	if msg.Title != "Update for Your Listing" || msg.Data["type"] != TypeSaleStage || msg.Data["propertyId"] != "p1" {
		t.Errorf("push message = %+v", msg)
	}
	if !rep.OK() {
		t.Errorf("Failures = %+v", rep.Failures)
	}
}

func TestHandleNewListingInArea(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	transport := &recordingTransport{}
	p := newTestPipeline(t, store, transport, Options{SubscriberPageSize: 1})

	putUser(t, store, "u1", model.User{FCMTokens: []string{"t1", "t2"}, SearchedAreas: []string{"Pune", "Nashik"}})
	putUser(t, store, "u2", model.User{SearchedAreas: []string{"Pune"}})
	putUser(t, store, "u3", model.User{FCMTokens: []string{"t3"}, SearchedAreas: []string{"Mumbai"}})

	rep := p.Handle(t.Context(), DocumentChange{
		DocumentID: "p2",
		Current:    model.Listing{District: "Pune", UserID: "owner"},
	})

	records := listRecords(t, store, "p2")
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	var users []string
	for _, r := range records {
		if r.Type != TypeNewProperty || r.Message != "New property listed in Pune" {
			t.Errorf("record = %+v", r)
		}
		users = append(users, r.UserID)
	}
	slices.Sort(users)
	if !slices.Equal(users, []string{"u1", "u2"}) {
		t.Errorf("recipients = %v, want [u1 u2]", users)
	}

	if got := transport.sentTokens(); !slices.Equal(got, []string{"t1", "t2"}) {
		t.Errorf("pushed tokens = %v, want [t1 t2]", got)
	}
	if rep.RecordsCreated != 2 || rep.PushSent != 2 {
		t.Errorf("report = %+v", rep)
	}
}

func TestHandleNewListingWithoutArea(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	transport := &recordingTransport{}
	p := newTestPipeline(t, store, transport, Options{})
	putUser(t, store, "u1", model.User{SearchedAreas: []string{""}})

	rep := p.Handle(t.Context(), DocumentChange{DocumentID: "p3", Current: model.Listing{}})
	if rep.RecordsCreated != 0 || transport.callCount() != 0 {
		t.Errorf("report = %+v, calls = %d, want nothing sent", rep, transport.callCount())
	}
}

func TestHandleRedeliveryIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	transport := &recordingTransport{}
	p := newTestPipeline(t, store, transport, Options{})
	putUser(t, store, "agent1", model.User{FCMTokens: []string{"agent-phone"}})
	putUser(t, store, "b1", model.User{FCMTokens: []string{"buyer-phone"}})

	change := DocumentChange{
		DocumentID: "p4",
		Previous: &model.Listing{
			AssignedAgentIDs: []string{"agent1"},
			Buyers:           []model.Buyer{{Name: "Ravi", UserID: "b1", Status: model.StatusVisitPending}},
		},
		Current: model.Listing{
			AssignedAgentIDs: []string{"agent1"},
			Buyers:           []model.Buyer{{Name: "Ravi", UserID: "b1", Status: model.StatusVisitPending, Date: ts(1740823200)}},
		},
	}

	first := p.Handle(t.Context(), change)
	if first.Events != 1 {
		t.Fatalf("Events = %d, want 1", first.Events)
	}
	before := listRecords(t, store, "p4")
	if len(before) != 2 {
		t.Fatalf("got %d records after first delivery, want 2", len(before))
	}
	for _, r := range before {
		if r.Type != TypeVisitReminder {
			t.Errorf("record type = %q, want visitReminder", r.Type)
		}
	}
	calls := transport.callCount()

	second := p.Handle(t.Context(), change)
	if after := listRecords(t, store, "p4"); len(after) != len(before) {
		t.Fatalf("got %d records after redelivery, want %d", len(after), len(before))
	}
	if second.RecordsCreated != 0 || second.RecordsExisting != 2 {
		t.Errorf("second report = %+v", second)
	}
	if transport.callCount() != calls {
		t.Errorf("redelivery pushed again: %d calls, want %d", transport.callCount(), calls)
	}
	if first.Version != second.Version {
		t.Errorf("versions differ: %q vs %q", first.Version, second.Version)
	}
}

func TestHandleOnePushPerEvent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	transport := &recordingTransport{}
	p := newTestPipeline(t, store, transport, Options{Audiences: []Audience{AudienceAgent}})
	putUser(t, store, "a1", model.User{FCMTokens: []string{"x", "shared"}})
	putUser(t, store, "a2", model.User{FCMTokens: []string{"y", "shared"}})
	// a3 has no user document: still gets a record, push is skipped.

	p.Handle(t.Context(), DocumentChange{
		DocumentID: "p5",
		Previous:   &model.Listing{AssignedAgentIDs: []string{"a1", "a2", "a3", "a1"}},
		Current: model.Listing{
			AssignedAgentIDs: []string{"a1", "a2", "a3", "a1"},
			Buyers:           []model.Buyer{{Name: "Ravi"}},
		},
		Version: "v1",
	})

	records := listRecords(t, store, "p5")
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	for _, r := range records {
		if !r.AgentAlert || r.Type != TypeNewInterest {
			t.Errorf("record = %+v", r)
		}
	}
	if transport.callCount() != 1 {
		t.Fatalf("transport calls = %d, want 1", transport.callCount())
	}
	if got := transport.sentTokens(); !slices.Equal(got, []string{"shared", "x", "y"}) {
		t.Errorf("pushed tokens = %v, want deduplicated [shared x y]", got)
	}
	if transport.calls[0].Title != "Agent Alert" {
		t.Errorf("title = %q, want Agent Alert", transport.calls[0].Title)
	}
}

func TestHandlePrunesUnregisteredTokens(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	transport := &recordingTransport{unregistered: map[string]bool{"stale": true}}
	p := newTestPipeline(t, store, transport, Options{Audiences: []Audience{AudienceSeller}})
	putUser(t, store, "owner", model.User{FCMTokens: []string{"fresh", "stale"}})

	rep := p.Handle(t.Context(), DocumentChange{
		DocumentID: "p6",
		Previous:   &model.Listing{UserID: "owner"},
		Current:    model.Listing{UserID: "owner", AssignedAgentIDs: []string{"a9"}},
	})

	if rep.TokensPruned != 1 {
		t.Errorf("TokensPruned = %d, want 1", rep.TokensPruned)
	}
	if rep.FailureCount(PushPartialFailure) != 1 {
		t.Errorf("Failures = %+v, want one PushPartialFailure", rep.Failures)
	}
	tokens, err := p.Records().UserTokens(t.Context(), "owner")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(tokens, []string{"fresh"}) {
		t.Errorf("tokens after prune = %v, want [fresh]", tokens)
	}
}

// failingStore rejects record writes for one user.
type failingStore struct {
	docstore.Store
	failUser string
}

func (s *failingStore) CreateIfAbsent(ctx context.Context, collection, id string, data json.RawMessage) (docstore.Document, bool, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err == nil && rec.UserID == s.failUser {
		return docstore.Document{}, false, errors.New("write quota exceeded")
	}
	return s.Store.CreateIfAbsent(ctx, collection, id, data)
}

func TestHandleRecordFailureIsIsolated(t *testing.T) {
	t.Parallel()

	base := newTestStore(t)
	store := &failingStore{Store: base, failUser: "a1"}
	transport := &recordingTransport{}
	p := newTestPipeline(t, store, transport, Options{})
	putUser(t, base, "a1", model.User{FCMTokens: []string{"t-a1"}})
	putUser(t, base, "a2", model.User{FCMTokens: []string{"t-a2"}})

	rep := p.Handle(t.Context(), DocumentChange{
		DocumentID: "p7",
		Previous:   &model.Listing{AssignedAgentIDs: []string{"a1", "a2"}, Buyers: []model.Buyer{{Status: "x"}}},
		Current:    model.Listing{AssignedAgentIDs: []string{"a1", "a2"}, Buyers: []model.Buyer{{Status: "y"}}},
		Version:    "v1",
	})

	if rep.FailureCount(RecordWriteFailure) != 1 {
		t.Fatalf("Failures = %+v, want one RecordWriteFailure", rep.Failures)
	}
	records := listRecords(t, base, "p7")
	if len(records) != 1 || records[0].UserID != "a2" {
		t.Errorf("records = %+v, want only a2", records)
	}
	if got := transport.sentTokens(); !slices.Equal(got, []string{"t-a1", "t-a2"}) {
		t.Errorf("pushed tokens = %v, want both agents", got)
	}

	// A replay writes the missing record and pushes that agent again.
	store.failUser = ""
	replay := p.Handle(t.Context(), DocumentChange{
		DocumentID: "p7",
		Previous:   &model.Listing{AssignedAgentIDs: []string{"a1", "a2"}, Buyers: []model.Buyer{{Status: "x"}}},
		Current:    model.Listing{AssignedAgentIDs: []string{"a1", "a2"}, Buyers: []model.Buyer{{Status: "y"}}},
		Version:    "v1",
	})
	if replay.RecordsCreated != 1 || replay.RecordsExisting != 1 {
		t.Errorf("replay report = %+v, want one created and one existing", replay)
	}
	if got := transport.sentTokens(); !slices.Equal(got, []string{"t-a1", "t-a1", "t-a2"}) {
		t.Errorf("pushed tokens after replay = %v, want a1 pushed twice", got)
	}
}

func TestHandleReportsAmbiguity(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	p := newTestPipeline(t, store, &recordingTransport{}, Options{Audiences: []Audience{AudienceSeller}})

	rep := p.Handle(t.Context(), DocumentChange{
		DocumentID: "p8",
		Previous:   &model.Listing{UserID: "owner"},
		Current:    model.Listing{UserID: "owner", Buyers: []model.Buyer{{Name: "A"}, {Name: "B"}}},
		Version:    "v1",
	})

	if rep.FailureCount(DetectionAmbiguity) != 1 {
		t.Errorf("Failures = %+v, want one DetectionAmbiguity", rep.Failures)
	}
	var interest int
	for _, r := range listRecords(t, store, "p8") {
		if r.Type == TypeNewInterest {
			interest++
			if r.Message != "New interest from B." {
				t.Errorf("message = %q, want interest from the last buyer", r.Message)
			}
		}
	}
	if interest != 1 {
		t.Errorf("got %d newInterest records, want 1", interest)
	}
}

// lookupFailingStore fails user reads for one id, and subscriber queries
// when failQuery is set.
type lookupFailingStore struct {
	docstore.Store
	failGet   string
	failQuery bool
}

func (s *lookupFailingStore) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if collection == docstore.Users && id == s.failGet {
		return docstore.Document{}, errors.New("read timeout")
	}
	return s.Store.Get(ctx, collection, id)
}

func (s *lookupFailingStore) Query(ctx context.Context, collection string, f docstore.Filter, after string, limit int) ([]docstore.Document, error) {
	if s.failQuery && collection == docstore.Users {
		return nil, errors.New("query unavailable")
	}
	return s.Store.Query(ctx, collection, f, after, limit)
}

func TestHandleRecipientLookupFailureIsIsolated(t *testing.T) {
	t.Parallel()

	t.Run("token read fails for one agent", func(t *testing.T) {
		t.Parallel()

		base := newTestStore(t)
		store := &lookupFailingStore{Store: base, failGet: "a1"}
		transport := &recordingTransport{}
		p := newTestPipeline(t, store, transport, Options{Audiences: []Audience{AudienceAgent}})
		putUser(t, base, "a1", model.User{FCMTokens: []string{"t-a1"}})
		putUser(t, base, "a2", model.User{FCMTokens: []string{"t-a2"}})

		rep := p.Handle(t.Context(), DocumentChange{
			DocumentID: "p9",
			Previous:   &model.Listing{AssignedAgentIDs: []string{"a1", "a2"}, Buyers: []model.Buyer{{Status: "x"}}},
			Current:    model.Listing{AssignedAgentIDs: []string{"a1", "a2"}, Buyers: []model.Buyer{{Status: "y"}}},
			Version:    "v1",
		})

		if rep.FailureCount(RecipientLookupFailure) != 1 {
			t.Fatalf("Failures = %+v, want one RecipientLookupFailure", rep.Failures)
		}
		if f := rep.Failures[0]; f.UserID != "a1" || f.Audience != AudienceAgent {
			t.Errorf("failure = %+v, want agent a1", f)
		}
		if records := listRecords(t, base, "p9"); len(records) != 2 {
			t.Errorf("got %d records, want 2", len(records))
		}
		if got := transport.sentTokens(); !slices.Equal(got, []string{"t-a2"}) {
			t.Errorf("pushed tokens = %v, want [t-a2]", got)
		}
	})

	t.Run("subscriber query fails", func(t *testing.T) {
		t.Parallel()

		base := newTestStore(t)
		store := &lookupFailingStore{Store: base, failQuery: true}
		transport := &recordingTransport{}
		p := newTestPipeline(t, store, transport, Options{})
		putUser(t, base, "u1", model.User{FCMTokens: []string{"t1"}, SearchedAreas: []string{"Pune"}})

		rep := p.Handle(t.Context(), DocumentChange{
			DocumentID: "p10",
			Current:    model.Listing{District: "Pune"},
		})

		if rep.FailureCount(RecipientLookupFailure) != 1 {
			t.Fatalf("Failures = %+v, want one RecipientLookupFailure", rep.Failures)
		}
		if rep.Failures[0].Audience != AudienceProperty || rep.Failures[0].Event != NewListingInArea {
			t.Errorf("failure = %+v", rep.Failures[0])
		}
		if transport.callCount() != 0 {
			t.Errorf("transport calls = %d, want 0", transport.callCount())
		}
	})
}

// brokenTransport fails every multicast of one notification type.
type brokenTransport struct {
	recordingTransport
	failType string
}

func (b *brokenTransport) SendMulticast(ctx context.Context, tokens []string, msg push.Message) (*push.BatchResponse, error) {
	if msg.Data["type"] == b.failType {
		return nil, errors.New("connection reset")
	}
	return b.recordingTransport.SendMulticast(ctx, tokens, msg)
}

func TestHandlePushTransportFailureIsIsolated(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	transport := &brokenTransport{failType: TypeSaleStage}
	p := newTestPipeline(t, store, transport, Options{Audiences: []Audience{AudienceSeller}})
	putUser(t, store, "owner", model.User{FCMTokens: []string{"owner-phone"}})

	rep := p.Handle(t.Context(), DocumentChange{
		DocumentID: "p11",
		Previous:   &model.Listing{UserID: "owner", Buyers: []model.Buyer{{Status: model.StatusVisitPending}}},
		Current: model.Listing{
			UserID:           "owner",
			AssignedAgentIDs: []string{"a1"},
			Buyers:           []model.Buyer{{Status: model.StatusNegotiating}},
		},
		Version: "v1",
	})

	if rep.Events != 2 {
		t.Fatalf("Events = %d, want 2", rep.Events)
	}
	if rep.FailureCount(PushTransportFailure) != 1 {
		t.Fatalf("Failures = %+v, want one PushTransportFailure", rep.Failures)
	}
	if f := rep.Failures[0]; f.Event != BuyerStatusChanged || !strings.Contains(f.Error, "connection reset") {
		t.Errorf("failure = %+v", f)
	}
	if rep.RecordsCreated != 2 || rep.PushSent != 1 {
		t.Errorf("report = %+v, want 2 records and 1 push", rep)
	}
	if transport.callCount() != 1 || transport.calls[0].Data["type"] != TypeAgentAssigned {
		t.Errorf("delivered calls = %+v, want the agentAssigned push only", transport.calls)
	}
}
