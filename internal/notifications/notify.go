// Package notifications turns listing changes into notification records and
// push sends.
//
// Pipeline: detect events → resolve recipients per audience → persist one
// idempotent record per (event, recipient) → push once per event.
// Failures are isolated per step and collected in a Report; nothing aborts
// an invocation.
package notifications

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/landandplot/notifier/internal/model"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultFanoutConcurrency = 8
	defaultRecordConcurrency = 16
	defaultSubscriberPage    = 200
	// Token buffer per event before an early flush to the dispatcher.
	maxBufferedTokens = 5000
	visitDateLayout   = "Mon, 02 Jan 2006 15:04 MST"
)

var (
	// ErrInvalidArgument reports a malformed request.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound reports a missing notification record.
	ErrNotFound = errors.New("not found")
)

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

// EventKind names a detected listing transition.
type EventKind string

const (
	NewBuyerInterest   EventKind = "NewBuyerInterest"
	VisitDateSet       EventKind = "VisitDateSet"
	BuyerStatusChanged EventKind = "BuyerStatusChanged"
	AgentAssigned      EventKind = "AgentAssigned"
	NewListingInArea   EventKind = "NewListingInArea"
)

// Notification record types.
const (
	TypeNewInterest   = "newInterest"
	TypeVisitReminder = "visitReminder"
	TypeSaleStage     = "saleStage"
	TypeAgentAssigned = "agentAssigned"
	TypeNewProperty   = "newProperty"
)

// RecordType is the persisted notification type for the kind.
func (k EventKind) RecordType() string {
	switch k {
	case NewBuyerInterest:
		return TypeNewInterest
	case VisitDateSet:
		return TypeVisitReminder
	case BuyerStatusChanged:
		return TypeSaleStage
	case AgentAssigned:
		return TypeAgentAssigned
	case NewListingInArea:
		return TypeNewProperty
	}
	return string(k)
}

// Event is one detected transition. Buyer-scoped kinds carry the buyer and
// its index; NewListingInArea carries the resolved area.
type Event struct {
	Kind       EventKind
	ListingID  string
	Version    string
	BuyerIndex int
	Buyer      model.Buyer
	Area       string
}

// buyerScoped reports whether the event refers to a single buyer.
func (e Event) buyerScoped() bool {
	switch e.Kind {
	case NewBuyerInterest, VisitDateSet, BuyerStatusChanged:
		return true
	}
	return false
}

// --------------------------------------------------------------------------
// Audiences
// --------------------------------------------------------------------------

// Audience selects who a trigger notifies and in which voice.
type Audience string

const (
	AudienceAgent    Audience = "agent"
	AudienceBuyer    Audience = "buyer"
	AudienceSeller   Audience = "seller"
	AudienceProperty Audience = "property"
)

// AllAudiences lists every audience in evaluation order.
var AllAudiences = []Audience{AudienceAgent, AudienceBuyer, AudienceSeller, AudienceProperty}

var audienceKinds = map[Audience][]EventKind{
	AudienceAgent:    {NewBuyerInterest, VisitDateSet, BuyerStatusChanged},
	AudienceBuyer:    {VisitDateSet, BuyerStatusChanged},
	AudienceSeller:   {AgentAssigned, NewBuyerInterest, BuyerStatusChanged},
	AudienceProperty: {NewListingInArea},
}

// Handles reports whether the audience reacts to kind.
func (a Audience) Handles(kind EventKind) bool {
	for _, k := range audienceKinds[a] {
		if k == kind {
			return true
		}
	}
	return false
}

// onCreate reports whether the audience runs on listing creation rather
// than on updates.
func (a Audience) onCreate() bool {
	return a == AudienceProperty
}

// ParseAudiences validates audience names. An empty list selects all.
func ParseAudiences(names []string) ([]Audience, error) {
	if len(names) == 0 {
		return AllAudiences, nil
	}
	out := make([]Audience, 0, len(names))
	for _, n := range names {
		a := Audience(strings.ToLower(strings.TrimSpace(n)))
		if _, ok := audienceKinds[a]; !ok {
			return nil, fmt.Errorf("unknown audience %q", n)
		}
		out = append(out, a)
	}
	return out, nil
}

// Recipient is one resolved target of an event. Tokens is set when the
// resolver already read the user document.
type Recipient struct {
	UserID       string
	AgentAlert   bool
	Tokens       []string
	tokensLoaded bool
}

// --------------------------------------------------------------------------
// Trigger input
// --------------------------------------------------------------------------

// DocumentChange is one listing create or update from the change feed.
// Previous is nil for creates.
type DocumentChange struct {
	DocumentID     string
	Previous       *model.Listing
	Current        model.Listing
	Version        string
	EventTimestamp time.Time
}

// IsCreate reports whether the change is a listing creation.
func (c DocumentChange) IsCreate() bool {
	return c.Previous == nil
}
