package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/pkordes/tripsync/internal/domain"
	"github.com/pkordes/tripsync/internal/session"
)

const (
	msgMissingDestination = "destination city and country are required to create a trip"
	msgTripNotFound       = "trip not found"
	msgItemNotFound       = "item not found"
	msgInternal           = "something went wrong, please try again"
)

// errNotInRoom rejects room-scoped events from a connection that has not
// joined the trip it names.
var errNotInRoom = fmt.Errorf("%w: join the trip first", domain.ErrValidation)

// errorMessage maps an error to the text sent to the initiator.
// ok is false for errors that are not the client's fault.
func errorMessage(err error) (msg string, ok bool) {
	switch {
	case errors.Is(err, domain.ErrMissingDestination):
		return msgMissingDestination, true
	case errors.Is(err, domain.ErrTripNotFound):
		return msgTripNotFound, true
	case errors.Is(err, domain.ErrItemNotFound):
		return msgItemNotFound, true
	case errors.Is(err, domain.ErrValidation):
		return domain.ValidationMessage(err), true
	default:
		return msgInternal, false
	}
}

// fail reports err to connID only. Storage failures are logged with the
// event and trip that triggered them.
func (s *Server) fail(ctx context.Context, connID, event, tripID string, err error) {
	msg, ok := errorMessage(err)
	if !ok {
		s.log.ErrorContext(ctx, "realtime: store operation failed",
			"event", event, "trip_id", tripID, "conn_id", connID, "error", err)
	} else {
		s.log.DebugContext(ctx, "realtime: request rejected",
			"event", event, "trip_id", tripID, "conn_id", connID, "error", err)
	}
	s.reply(connID, eventError, nil, msg)
}

// reply sends one event privately to connID.
func (s *Server) reply(connID, event string, ack *int64, data any) {
	s.fanout.Send(connID, session.Message{Event: event, Ack: ack, Data: data})
}
