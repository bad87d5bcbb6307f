package notifications

import (
	"context"

	"github.com/landandplot/notifier/internal/docstore"
	"github.com/landandplot/notifier/internal/model"
)

// Resolver maps an event to the users an audience notifies.
type Resolver struct {
	store    docstore.Store
	pageSize int
}

// NewResolver creates a Resolver. pageSize bounds each subscriber query page.
func NewResolver(s docstore.Store, pageSize int) *Resolver {
	if pageSize <= 0 {
		pageSize = defaultSubscriberPage
	}
	return &Resolver{store: s, pageSize: pageSize}
}

// Resolve calls fn with batches of recipients for ev. Recipients are
// distinct across all batches of one call. Area subscribers are streamed a
// page at a time; the fixed audiences arrive in a single batch. fn is not
// called when nobody qualifies.
func (r *Resolver) Resolve(ctx context.Context, a Audience, ev Event, listing model.Listing, fn func([]Recipient) error) error {
	switch a {
	case AudienceAgent:
		return emit(distinct(listing.AssignedAgentIDs, true), fn)
	case AudienceBuyer:
		return emit(distinct([]string{ev.Buyer.UserID}, false), fn)
	case AudienceSeller:
		return emit(distinct([]string{listing.UserID}, false), fn)
	case AudienceProperty:
		return r.subscribers(ctx, ev.Area, fn)
	}
	return nil
}

// subscribers pages through users whose searchedAreas contain area. Keyset
// paging by id keeps ids unique across pages.
func (r *Resolver) subscribers(ctx context.Context, area string, fn func([]Recipient) error) error {
	if area == "" {
		return nil
	}
	filter := docstore.Filter{Field: "searchedAreas", Op: docstore.OpArrayContains, Value: area}

	return docstore.Each(ctx, r.store, docstore.Users, filter, r.pageSize, func(page []docstore.Document) error {
		batch := make([]Recipient, 0, len(page))
		for _, doc := range page {
			u, err := model.DecodeUser(doc.ID, doc.Data)
			if err != nil {
				// Tokens are re-read per recipient, which reports the decode error.
				batch = append(batch, Recipient{UserID: doc.ID})
				continue
			}
			batch = append(batch, Recipient{UserID: u.ID, Tokens: u.FCMTokens, tokensLoaded: true})
		}
		return fn(batch)
	})
}

func distinct(ids []string, agentAlert bool) []Recipient {
	seen := make(map[string]struct{}, len(ids))
	out := make([]Recipient, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, Recipient{UserID: id, AgentAlert: agentAlert})
	}
	return out
}

func emit(rs []Recipient, fn func([]Recipient) error) error {
	if len(rs) == 0 {
		return nil
	}
	return fn(rs)
}
