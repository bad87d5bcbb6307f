// Package model holds the document shapes read from the document store.
// Every optional attribute decodes to its zero value when absent, so callers
// never need to check a field before reading it.
package model

import (
	"encoding/json"
	"fmt"
)

// Buyer negotiation stages. The core reports transitions between these but
// does not enforce their order.
const (
	StatusVisitPending = "visitPending"
	StatusNegotiating  = "negotiating"
	StatusAccepted     = "accepted"
	StatusRejected     = "rejected"
	StatusBought       = "bought"
)

// Listing is a property-for-sale document from the properties collection.
type Listing struct {
	ID               string   `json:"-"`
	UserID           string   `json:"userId,omitempty"`
	District         string   `json:"district,omitempty"`
	City             string   `json:"city,omitempty"`
	AssignedAgentIDs []string `json:"assignedAgentIds,omitempty"`
	Buyers           []Buyer  `json:"buyers,omitempty"`
}

// Area returns the location users subscribe to: district, falling back to
// city. Empty when the listing carries neither.
func (l Listing) Area() string {
	if l.District != "" {
		return l.District
	}
	return l.City
}

// Buyer is one negotiation sub-record embedded in Listing.Buyers.
type Buyer struct {
	Name         string     `json:"name,omitempty"`
	UserID       string     `json:"userId,omitempty"`
	Status       string     `json:"status,omitempty"`
	Date         *Timestamp `json:"date,omitempty"`
	PriceOffered Amount     `json:"priceOffered,omitempty"`
	CreatedAt    *Timestamp `json:"createdAt,omitempty"`
	UpdatedAt    *Timestamp `json:"updatedAt,omitempty"`
}

// HasDate reports whether a visit date has been set.
func (b Buyer) HasDate() bool {
	return b.Date != nil && !b.Date.IsZero()
}

// User is a document from the users collection.
type User struct {
	ID            string   `json:"-"`
	FCMTokens     []string `json:"fcmTokens,omitempty"`
	SearchedAreas []string `json:"searchedAreas,omitempty"`
}

// DecodeListing parses a properties document.
func DecodeListing(id string, data []byte) (Listing, error) {
	var l Listing
	if len(data) > 0 {
		if err := json.Unmarshal(data, &l); err != nil {
			return Listing{}, fmt.Errorf("decode listing %s: %w", id, err)
		}
	}
	l.ID = id
	return l, nil
}

// DecodeUser parses a users document.
func DecodeUser(id string, data []byte) (User, error) {
	var u User
	if len(data) > 0 {
		if err := json.Unmarshal(data, &u); err != nil {
			return User{}, fmt.Errorf("decode user %s: %w", id, err)
		}
	}
	u.ID = id
	return u, nil
}
