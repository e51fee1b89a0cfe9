package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkordes/tripsync/internal/domain"
)

// Client → server events.
const (
	eventCheckTrip     = "checkTrip"
	eventJoinTrip      = "joinTrip"
	eventAddItem       = "addItem"
	eventVoteItem      = "voteItem"
	eventAddMarker     = "addMarker"
	eventSaveMapCenter = "saveMapCenter"
	eventSendMessage   = "sendMessage"
)

// Server → client events.
const (
	eventAck             = "ack"
	eventError           = "error"
	eventUpdateItinerary = "updateItinerary"
	eventUpdateMarkers   = "updateMarkers"
	eventUpdateVotes     = "updateVotes"
	eventCenterMap       = "centerMap"
	eventReceiveMessage  = "receiveMessage"
)

// Ordering streams. Every event on a stream replaces what the client holds
// from earlier ones, so older revisions are never delivered after newer ones.
// Vote updates share the itinerary stream because a full itinerary carries
// vote counts too.
const (
	streamItinerary = "itinerary"
	streamMarkers   = "markers"
)

// inbound is the envelope of every client frame. Data is decoded per event.
type inbound struct {
	Event string          `json:"event"`
	Ack   *int64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data"`
}

type checkTripRequest struct {
	TripID string `json:"tripId"`
}

type joinTripRequest struct {
	TripID             string `json:"tripId"`
	Username           string `json:"username"`
	DestinationCity    string `json:"destinationCity"`
	DestinationCountry string `json:"destinationCountry"`
}

// UnmarshalJSON also accepts a bare string, which older clients send as the
// trip id alone.
func (r *joinTripRequest) UnmarshalJSON(b []byte) error {
	if t := bytes.TrimSpace(b); len(t) > 0 && t[0] == '"' {
		var id string
		if err := json.Unmarshal(t, &id); err != nil {
			return err
		}
		*r = joinTripRequest{TripID: id}
		return nil
	}
	type plain joinTripRequest
	return json.Unmarshal(b, (*plain)(r))
}

// destination returns nil when the client sent neither field.
func (r joinTripRequest) destination() *domain.Destination {
	if r.DestinationCity == "" && r.DestinationCountry == "" {
		return nil
	}
	return &domain.Destination{City: r.DestinationCity, Country: r.DestinationCountry}
}

type addItemRequest struct {
	TripID string `json:"tripId"`
	Item   string `json:"item"`
}

// Index is optional and picks one of several items sharing ItemName.
type voteItemRequest struct {
	TripID   string `json:"tripId"`
	ItemName string `json:"itemName"`
	Index    *int   `json:"index"`
	Vote     string `json:"vote"`
}

// Coordinates are pointers so a missing field is told apart from zero.
type addMarkerRequest struct {
	TripID      string   `json:"tripId"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	Description *string  `json:"description"`
}

type saveMapCenterRequest struct {
	TripID string   `json:"tripId"`
	Lat    *float64 `json:"lat"`
	Lng    *float64 `json:"lng"`
	Zoom   *float64 `json:"zoom"`
}

type sendMessageRequest struct {
	TripID   string `json:"tripId"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

type checkTripReply struct {
	Exists bool `json:"exists"`
}

type chatMessage struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// decode unmarshals the payload of in into v. A missing payload leaves v
// zeroed so the service reports the missing fields.
func decode(in inbound, v any) error {
	if len(in.Data) == 0 || bytes.Equal(bytes.TrimSpace(in.Data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(in.Data, v); err != nil {
		return fmt.Errorf("%w: malformed %s payload", domain.ErrValidation, in.Event)
	}
	return nil
}

// orEmpty keeps list events encoding as [] rather than null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
