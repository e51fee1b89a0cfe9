package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by repo and service functions when the requested
// resource does not exist in the store.
// ErrTripNotFound and ErrItemNotFound both wrap it, so errors.Is(err, ErrNotFound)
// matches either.
var ErrNotFound = errors.New("not found")

// ErrTripNotFound is returned when a mutation targets a trip that has not
// been created yet.
var ErrTripNotFound = fmt.Errorf("trip %w", ErrNotFound)

// ErrItemNotFound is returned by a vote when no itinerary item carries the
// requested name.
var ErrItemNotFound = fmt.Errorf("item %w", ErrNotFound)

// ErrValidation is returned by service functions when input fails business
// rule validation (e.g. empty trip id, empty item name, unknown vote direction).
// The realtime layer reports the text after "validation error: " to the initiator.
var ErrValidation = errors.New("validation error")

// ErrMissingDestination is returned when a join would create a trip but the
// caller did not supply both destination city and country.
var ErrMissingDestination = errors.New("missing destination")

// ValidationMessage returns the human-readable part of a wrapped ErrValidation.
// e.g. "service.TripService.AddItem: validation error: item name is required" → "item name is required"
func ValidationMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	prefix := ErrValidation.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return msg
}
