package notifications

import (
	"fmt"
	"iter"
	"slices"

	"github.com/landandplot/notifier/internal/model"
)

// Detect yields the events between two states of a listing. A nil previous
// state means the listing was just created, which yields only
// NewListingInArea. Buyers are matched by index.
//
// Detect is pure: the same inputs always yield the same events in the same
// order, and stopping iteration early skips the remaining rules.
func Detect(previous *model.Listing, current model.Listing) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if previous == nil {
			yield(Event{
				Kind:       NewListingInArea,
				ListingID:  current.ID,
				BuyerIndex: -1,
				Area:       current.Area(),
			})
			return
		}

		if n := len(current.Buyers); n > len(previous.Buyers) {
			if !yield(Event{
				Kind:       NewBuyerInterest,
				ListingID:  current.ID,
				BuyerIndex: n - 1,
				Buyer:      current.Buyers[n-1],
			}) {
				return
			}
		}

		for i, cur := range current.Buyers {
			var prev model.Buyer
			if i < len(previous.Buyers) {
				prev = previous.Buyers[i]
			}

			if !prev.HasDate() && cur.HasDate() {
				if !yield(Event{Kind: VisitDateSet, ListingID: current.ID, BuyerIndex: i, Buyer: cur}) {
					return
				}
			}
			if prev.Status != cur.Status {
				if !yield(Event{Kind: BuyerStatusChanged, ListingID: current.ID, BuyerIndex: i, Buyer: cur}) {
					return
				}
			}
		}

		for _, id := range current.AssignedAgentIDs {
			if !slices.Contains(previous.AssignedAgentIDs, id) {
				yield(Event{Kind: AgentAssigned, ListingID: current.ID, BuyerIndex: -1})
				return
			}
		}
	}
}

// Ambiguities describes buyer-list changes index matching cannot attribute
// reliably. Events are still detected for them.
func Ambiguities(previous *model.Listing, current model.Listing) []string {
	if previous == nil {
		return nil
	}
	var out []string
	before, after := len(previous.Buyers), len(current.Buyers)
	switch {
	case after-before > 1:
		out = append(out, fmt.Sprintf(
			"%d buyers appended in one update; interest reported for the last only", after-before))
	case after < before:
		out = append(out, fmt.Sprintf(
			"buyer list shrank from %d to %d; index matching may misattribute changes", before, after))
	}
	return out
}
