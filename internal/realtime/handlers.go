package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pkordes/tripsync/internal/domain"
	"github.com/pkordes/tripsync/internal/service"
	"github.com/pkordes/tripsync/internal/session"
)

// dispatch runs the handler for one inbound event.
// Store calls use a context detached from the connection: a write that is in
// flight when its initiator disconnects still completes and still fans out.
func (s *Server) dispatch(ctx context.Context, connID string, in inbound) {
	ctx = context.WithoutCancel(ctx)

	switch in.Event {
	case eventCheckTrip:
		s.checkTrip(ctx, connID, in)
	case eventJoinTrip:
		s.joinTrip(ctx, connID, in)
	case eventAddItem:
		s.addItem(ctx, connID, in)
	case eventVoteItem:
		s.voteItem(ctx, connID, in)
	case eventAddMarker:
		s.addMarker(ctx, connID, in)
	case eventSaveMapCenter:
		s.saveMapCenter(ctx, connID, in)
	case eventSendMessage:
		s.sendMessage(ctx, connID, in)
	default:
		s.reply(connID, eventError, nil, fmt.Sprintf("unknown event %q", in.Event))
	}
}

func (s *Server) checkTrip(ctx context.Context, connID string, in inbound) {
	var req checkTripRequest
	if err := decode(in, &req); err != nil {
		s.fail(ctx, connID, in.Event, "", err)
		return
	}
	exists, err := s.trips.Exists(ctx, req.TripID)
	if err != nil {
		s.fail(ctx, connID, in.Event, req.TripID, err)
		return
	}
	s.reply(connID, eventAck, in.Ack, checkTripReply{Exists: exists})
}

// joinTrip loads or creates the trip, moves the connection into its room and
// sends the current state to the joiner only. A failed join keeps whatever
// room the connection was already in.
//
// The state is read a second time once the connection is in the room, so
// writes that land between the first read and the join are not missed.
func (s *Server) joinTrip(ctx context.Context, connID string, in inbound) {
	var req joinTripRequest
	if err := decode(in, &req); err != nil {
		s.fail(ctx, connID, in.Event, "", err)
		return
	}
	trip, err := s.trips.GetOrCreate(ctx, req.TripID, req.destination())
	if err != nil {
		s.fail(ctx, connID, in.Event, req.TripID, err)
		return
	}
	sess, err := s.reg.Join(connID, trip.TripID, req.Username)
	if err != nil {
		// The connection closed while the store call was running.
		return
	}
	s.log.InfoContext(ctx, "realtime: joined trip",
		"conn_id", connID, "trip_id", trip.TripID, "username", sess.Username)

	err = s.fanout.Prime(connID, trip.TripID, func() ([]session.Message, error) {
		current, err := s.trips.GetOrCreate(ctx, trip.TripID, nil)
		if err != nil {
			return nil, err
		}
		return snapshot(current), nil
	})
	if err != nil && !errors.Is(err, session.ErrUnknownConnection) {
		s.fail(ctx, connID, in.Event, trip.TripID, err)
	}
}

// snapshot is the state a joining connection is sent, in order.
func snapshot(trip domain.Trip) []session.Message {
	return []session.Message{
		{
			Event:    eventUpdateItinerary,
			Data:     orEmpty(trip.Itinerary),
			Stream:   streamItinerary,
			Revision: trip.Revision,
		},
		{
			Event:    eventUpdateMarkers,
			Data:     orEmpty(trip.Markers),
			Stream:   streamMarkers,
			Revision: trip.Revision,
		},
		{Event: eventCenterMap, Data: trip.View},
	}
}

func (s *Server) addItem(ctx context.Context, connID string, in inbound) {
	var req addItemRequest
	if err := decode(in, &req); err != nil {
		s.fail(ctx, connID, in.Event, "", err)
		return
	}
	_, room, err := s.member(connID, req.TripID)
	if err != nil {
		s.fail(ctx, connID, in.Event, req.TripID, err)
		return
	}
	items, rev, err := s.trips.AddItem(ctx, room, req.Item)
	if err != nil {
		s.fail(ctx, connID, in.Event, room, err)
		return
	}
	s.fanout.Broadcast(room, session.Message{
		Event:    eventUpdateItinerary,
		Data:     orEmpty(items),
		Stream:   streamItinerary,
		Revision: rev,
	})
}

// voteItem broadcasts only the changed item with its index and the trip
// revision; clients merge it into their itinerary.
func (s *Server) voteItem(ctx context.Context, connID string, in inbound) {
	var req voteItemRequest
	if err := decode(in, &req); err != nil {
		s.fail(ctx, connID, in.Event, "", err)
		return
	}
	ref := domain.ItemRef{Name: req.ItemName, Index: req.Index}
	result, err := s.trips.Vote(ctx, req.TripID, ref, req.Vote)
	if err != nil {
		s.fail(ctx, connID, in.Event, req.TripID, err)
		return
	}
	s.fanout.Broadcast(roomKey(req.TripID), session.Message{
		Event:    eventUpdateVotes,
		Data:     result,
		Stream:   streamItinerary,
		Revision: result.Revision,
	})
}

func (s *Server) addMarker(ctx context.Context, connID string, in inbound) {
	var req addMarkerRequest
	if err := decode(in, &req); err != nil {
		s.fail(ctx, connID, in.Event, "", err)
		return
	}
	if req.Lat == nil || req.Lng == nil {
		s.fail(ctx, connID, in.Event, req.TripID,
			fmt.Errorf("%w: lat and lng are required", domain.ErrValidation))
		return
	}
	markers, rev, err := s.trips.AddMarker(ctx, req.TripID, domain.Marker{
		Lat:         *req.Lat,
		Lng:         *req.Lng,
		Description: req.Description,
	})
	if err != nil {
		s.fail(ctx, connID, in.Event, req.TripID, err)
		return
	}
	s.fanout.Broadcast(roomKey(req.TripID), session.Message{
		Event:    eventUpdateMarkers,
		Data:     orEmpty(markers),
		Stream:   streamMarkers,
		Revision: rev,
	})
}

// saveMapCenter stores the view for later joins. Nothing is broadcast and
// failures are only logged.
func (s *Server) saveMapCenter(ctx context.Context, connID string, in inbound) {
	var req saveMapCenterRequest
	if err := decode(in, &req); err != nil {
		s.log.DebugContext(ctx, "realtime: saveMapCenter ignored", "conn_id", connID, "error", err)
		return
	}
	_, room, err := s.member(connID, req.TripID)
	if err != nil {
		s.log.DebugContext(ctx, "realtime: saveMapCenter ignored",
			"conn_id", connID, "trip_id", req.TripID, "error", err)
		return
	}
	if req.Lat == nil || req.Lng == nil || req.Zoom == nil {
		s.log.DebugContext(ctx, "realtime: saveMapCenter ignored",
			"conn_id", connID, "trip_id", room, "error", "lat, lng and zoom are required")
		return
	}
	err = s.trips.SetView(ctx, room, domain.MapView{Lat: *req.Lat, Lng: *req.Lng, Zoom: *req.Zoom})
	if err != nil {
		if _, clientFault := errorMessage(err); clientFault {
			s.log.DebugContext(ctx, "realtime: saveMapCenter ignored",
				"conn_id", connID, "trip_id", room, "error", err)
			return
		}
		s.log.ErrorContext(ctx, "realtime: store operation failed",
			"event", in.Event, "trip_id", room, "conn_id", connID, "error", err)
	}
}

// sendMessage relays a chat line to the whole room, sender included.
// Messages are never stored. Invalid messages are dropped.
func (s *Server) sendMessage(ctx context.Context, connID string, in inbound) {
	var req sendMessageRequest
	if err := decode(in, &req); err != nil {
		s.log.DebugContext(ctx, "realtime: message dropped", "conn_id", connID, "error", err)
		return
	}
	sess, room, err := s.member(connID, req.TripID)
	if err != nil {
		s.log.DebugContext(ctx, "realtime: message dropped",
			"conn_id", connID, "trip_id", req.TripID, "error", err)
		return
	}
	msg, err := s.trips.ValidateMessage(req.Message)
	if err != nil {
		s.log.DebugContext(ctx, "realtime: message dropped",
			"conn_id", connID, "trip_id", room, "error", err)
		return
	}
	s.fanout.Broadcast(room, session.Message{
		Event: eventReceiveMessage,
		Data:  chatMessage{Username: chatName(sess, req.Username), Message: msg},
	})
}

// member returns the session and normalized room key when connID has joined
// tripID, and errNotInRoom otherwise.
func (s *Server) member(connID, tripID string) (session.Session, string, error) {
	room, err := service.NormalizeTripID(tripID)
	if err != nil {
		return session.Session{}, "", err
	}
	sess, ok := s.reg.Lookup(connID)
	if !ok || sess.TripID != room {
		return session.Session{}, room, errNotInRoom
	}
	return sess, room, nil
}

// roomKey normalizes an id the service has already accepted.
func roomKey(tripID string) string {
	room, _ := service.NormalizeTripID(tripID)
	return room
}

// chatName prefers the name recorded at join. The name sent with the message
// is only used while the session is still anonymous.
func chatName(sess session.Session, sent string) string {
	if sess.Username != session.DefaultUsername {
		return sess.Username
	}
	if n := strings.TrimSpace(sent); n != "" {
		return n
	}
	return session.DefaultUsername
}
