package notifications

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/landandplot/notifier/internal/docstore"
	"github.com/landandplot/notifier/internal/model"
)

// recordNamespace scopes record ids derived from idempotency keys.
var recordNamespace = uuid.MustParse("5b0d6c1e-3f6a-4a44-9d2e-7c1f0e8a9b31")

// Record is a persisted notification.
type Record struct {
	ID             string          `json:"-"`
	UserID         string          `json:"userId"`
	Type           string          `json:"type"`
	Message        string          `json:"message"`
	PropertyID     string          `json:"propertyId"`
	AgentAlert     bool            `json:"agentAlert"`
	Timestamp      model.Timestamp `json:"timestamp"`
	Read           bool            `json:"read"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// RecordInput is the caller-supplied part of a Record.
type RecordInput struct {
	UserID     string
	Type       string
	Message    string
	PropertyID string
	AgentAlert bool
	Key        string
}

// IdempotencyKey derives the deduplication key for one (event, recipient)
// delivery. Buyer-scoped events include the buyer index so that two buyers
// changing in one update stay distinct.
func IdempotencyKey(a Audience, ev Event, userID string) string {
	subject := "-"
	if ev.buyerScoped() {
		subject = strconv.Itoa(ev.BuyerIndex)
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{
		string(a), string(ev.Kind), ev.ListingID, userID, ev.Version, subject,
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// RecordID maps an idempotency key to a stable document id.
func RecordID(key string) string {
	return uuid.NewSHA1(recordNamespace, []byte(key)).String()
}

// StateVersion fingerprints a listing state for triggers that carry no
// version of their own.
func StateVersion(l model.Listing) string {
	b, err := json.Marshal(l)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(append([]byte(l.ID+"|"), b...))
	return "state:" + hex.EncodeToString(sum[:16])
}

// RecordStore reads and writes notification records and user tokens.
type RecordStore struct {
	store docstore.Store
	now   func() time.Time
}

// NewRecordStore creates a RecordStore over s.
func NewRecordStore(s docstore.Store) *RecordStore {
	return &RecordStore{store: s, now: time.Now}
}

// Create persists a record. With a key, creation is idempotent: a second
// call with the same key returns the stored record and created=false.
// Without a key the record gets a random id.
func (rs *RecordStore) Create(ctx context.Context, in RecordInput) (Record, bool, error) {
	rec := Record{
		UserID:         in.UserID,
		Type:           in.Type,
		Message:        in.Message,
		PropertyID:     in.PropertyID,
		AgentAlert:     in.AgentAlert,
		Timestamp:      model.Timestamp{Time: rs.now().UTC()},
		IdempotencyKey: in.Key,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, false, fmt.Errorf("encode record: %w", err)
	}

	if in.Key == "" {
		id, err := rs.store.Create(ctx, docstore.Notifications, data)
		if err != nil {
			return Record{}, false, err
		}
		rec.ID = id
		return rec, true, nil
	}

	doc, created, err := rs.store.CreateIfAbsent(ctx, docstore.Notifications, RecordID(in.Key), data)
	if err != nil {
		return Record{}, false, err
	}
	if created {
		rec.ID = doc.ID
		return rec, true, nil
	}
	prior, err := decodeRecord(doc)
	if err != nil {
		return Record{}, false, err
	}
	return prior, false, nil
}

// Get loads a record by id, returning ErrNotFound when absent.
func (rs *RecordStore) Get(ctx context.Context, id string) (Record, error) {
	doc, err := rs.store.Get(ctx, docstore.Notifications, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return Record{}, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, err
	}
	return decodeRecord(doc)
}

// UserTokens returns the registered push tokens of a user. A missing user
// has no tokens.
func (rs *RecordStore) UserTokens(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, nil
	}
	doc, err := rs.store.Get(ctx, docstore.Users, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	u, err := model.DecodeUser(doc.ID, doc.Data)
	if err != nil {
		return nil, err
	}
	return u.FCMTokens, nil
}

// PruneTokens removes tokens from a user's registrations.
func (rs *RecordStore) PruneTokens(ctx context.Context, userID string, tokens []string) error {
	return rs.store.ArrayRemove(ctx, docstore.Users, userID, "fcmTokens", tokens)
}

func decodeRecord(doc docstore.Document) (Record, error) {
	var rec Record
	if err := json.Unmarshal(doc.Data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode notification %s: %w", doc.ID, err)
	}
	rec.ID = doc.ID
	return rec, nil
}
