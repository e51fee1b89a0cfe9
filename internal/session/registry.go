// Package session tracks live connections and the trip room each one has
// joined, and fans events out to the members of a room.
// Sessions live in process memory only; nothing here is persisted.
package session

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultUsername is the display name of a connection that has not supplied one.
const DefaultUsername = "Anonymous"

// ErrUnknownConnection is returned by Join for a connection id that was never
// registered or has already disconnected.
var ErrUnknownConnection = errors.New("unknown connection")

// Sink receives encoded events for one connection. Deliver must not block;
// it returns false when the payload could not be queued.
type Sink interface {
	Deliver(payload []byte) bool
}

// Session is a snapshot of one connection's state.
// TripID is empty while the connection has not joined a room.
type Session struct {
	ID       string
	TripID   string
	Username string
}

type entry struct {
	Session
	sink Sink

	// mu serializes ordered deliveries to this connection. seen holds the
	// last revision delivered per trip and stream.
	mu   sync.Mutex
	seen map[streamKey]int64
}

type streamKey struct {
	tripID string
	stream string
}

// Registry maps connections to sessions and trip ids to room membership.
// A single RWMutex guards both maps; it is never held while a store call or a
// network write is in progress.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	rooms    map[string]map[string]struct{}
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		rooms:    make(map[string]map[string]struct{}),
	}
}

// Connect registers a new session with no room and the default username.
func (r *Registry) Connect(sink Sink) Session {
	e := &entry{
		Session: Session{ID: uuid.NewString(), Username: DefaultUsername},
		sink:    sink,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[e.ID] = e
	return e.Session
}

// Join moves the connection into tripID's room, dropping any previous room.
// Joining the room the connection is already in leaves membership unchanged.
// A non-blank username replaces the session's current one.
func (r *Registry) Join(connID, tripID, username string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[connID]
	if !ok {
		return Session{}, ErrUnknownConnection
	}
	if e.TripID != tripID {
		r.removeFromRoomLocked(e)
		members, ok := r.rooms[tripID]
		if !ok {
			members = make(map[string]struct{})
			r.rooms[tripID] = members
		}
		members[connID] = struct{}{}
		e.TripID = tripID
	}
	if u := strings.TrimSpace(username); u != "" {
		e.Username = u
	}
	return e.Session, nil
}

// Leave removes the connection from its room, if any. It never fails.
func (r *Registry) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[connID]; ok {
		r.removeFromRoomLocked(e)
	}
}

// Disconnect leaves the room and destroys the session. It never fails.
func (r *Registry) Disconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[connID]; ok {
		r.removeFromRoomLocked(e)
		delete(r.sessions, connID)
	}
}

// Lookup returns a snapshot of the session for connID.
func (r *Registry) Lookup(connID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	return e.Session, true
}

// MembersOf returns the ids of the connections in tripID's room, sorted.
func (r *Registry) MembersOf(tripID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.rooms[tripID]))
	for id := range r.rooms[tripID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Connections returns the number of live sessions.
func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Rooms returns the number of trips with at least one member.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// entriesOf snapshots the members of tripID's room so delivery can happen
// without holding the lock.
func (r *Registry) entriesOf(tripID string) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.rooms[tripID]))
	for id := range r.rooms[tripID] {
		if e, ok := r.sessions[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// entryOf also returns the room connID is in at the time of the call.
func (r *Registry) entryOf(connID string) (*entry, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[connID]
	if !ok {
		return nil, "", false
	}
	return e, e.TripID, true
}

// removeFromRoomLocked must be called with r.mu held for writing.
// Empty rooms are deleted so the map does not grow with every trip ever seen.
func (r *Registry) removeFromRoomLocked(e *entry) {
	if e.TripID == "" {
		return
	}
	if members, ok := r.rooms[e.TripID]; ok {
		delete(members, e.ID)
		if len(members) == 0 {
			delete(r.rooms, e.TripID)
		}
	}
	e.TripID = ""
}
