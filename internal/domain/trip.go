// Package domain contains the core data types for the trip planner.
// This package has zero external dependencies and is imported by every other
// internal package (repo, service, session, realtime, handler).
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Trip is the unit of collaboration. TripID is chosen by the user, is
// immutable once created and doubles as the room key for fan-out.
type Trip struct {
	TripID      string       `json:"tripId"`
	Destination *Destination `json:"destination,omitempty"` // nil for trips created without one
	Itinerary   []Item       `json:"itinerary"`
	Markers     []Marker     `json:"markers"`
	View        MapView      `json:"mapView"`
	Revision    int64        `json:"revision"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Destination is only needed when a trip is created.
type Destination struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

// Complete reports whether both city and country are set.
func (d *Destination) Complete() bool {
	return d != nil && strings.TrimSpace(d.City) != "" && strings.TrimSpace(d.Country) != ""
}

// Item is a votable itinerary entry. Names are not unique: two items with the
// same name are stored separately and told apart by position (see ItemRef).
type Item struct {
	Name      string `json:"name"`
	Upvotes   int    `json:"upvotes"`
	Downvotes int    `json:"downvotes"`
}

// Marker is a pinned map location. Markers are append-only.
type Marker struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Description *string `json:"description,omitempty"`
}

// MapView is the shared camera state of a trip's map.
type MapView struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Zoom float64 `json:"zoom"`
}

// ItemVote is the result of a single vote: the changed item, its zero-based
// position in the itinerary and the trip revision after the vote was applied.
// Clients use Revision to discard vote updates older than one they already hold.
type ItemVote struct {
	Item
	Index    int   `json:"index"`
	Revision int64 `json:"revision"`
}

// ItemRef identifies the item a vote targets. When Index is set it selects
// that position in the itinerary, and the item there must be named Name.
// Without Index the first item named Name is used.
type ItemRef struct {
	Name  string
	Index *int
}

// VoteDirection selects which counter a vote increments.
type VoteDirection string

const (
	VoteUp   VoteDirection = "up"
	VoteDown VoteDirection = "down"
)

// ParseVoteDirection accepts the wire values "upvote"/"downvote" as well as
// the short forms "up"/"down".
func ParseVoteDirection(s string) (VoteDirection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "upvote", "up":
		return VoteUp, nil
	case "downvote", "down":
		return VoteDown, nil
	}
	return "", fmt.Errorf("%w: vote must be \"upvote\" or \"downvote\"", ErrValidation)
}
