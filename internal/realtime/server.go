// Package realtime serves the websocket endpoint trip participants connect to.
// Each frame is a JSON envelope {"event", "ack", "data"}; events are validated
// and applied through the trip service, then fanned out to the trip's room.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/pkordes/tripsync/internal/domain"
	"github.com/pkordes/tripsync/internal/session"
)

// TripServicer defines the trip operations the websocket handlers depend on.
// *service.TripService satisfies it; tests inject a store-backed service or a mock.
type TripServicer interface {
	Exists(ctx context.Context, tripID string) (bool, error)
	GetOrCreate(ctx context.Context, tripID string, dest *domain.Destination) (domain.Trip, error)
	AddItem(ctx context.Context, tripID, name string) ([]domain.Item, int64, error)
	Vote(ctx context.Context, tripID string, ref domain.ItemRef, vote string) (domain.ItemVote, error)
	AddMarker(ctx context.Context, tripID string, marker domain.Marker) ([]domain.Marker, int64, error)
	SetView(ctx context.Context, tripID string, view domain.MapView) error
	ValidateMessage(message string) (string, error)
}

// Options configures the websocket endpoint.
type Options struct {
	// MaxMessageBytes caps a single inbound frame. Zero means no limit.
	MaxMessageBytes int64
	// AllowedOrigins lists the browser origins allowed to connect.
	// "*" allows any origin. Requests without an Origin header are always allowed.
	AllowedOrigins []string
}

// Server upgrades HTTP requests to websocket connections and runs one
// read loop and one write loop per connection.
type Server struct {
	trips    TripServicer
	reg      *session.Registry
	fanout   *session.Fanout
	log      *slog.Logger
	upgrader websocket.Upgrader
	maxBytes int64

	mu      sync.Mutex
	clients map[*client]struct{}
	closing bool
}

// NewServer constructs the websocket Server. reg is shared with the HTTP
// handlers so they can report live connection counts.
func NewServer(trips TripServicer, reg *session.Registry, log *slog.Logger, opts Options) *Server {
	s := &Server{
		trips:    trips,
		reg:      reg,
		fanout:   session.NewFanout(reg, log),
		log:      log,
		maxBytes: opts.MaxMessageBytes,
		clients:  make(map[*client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return s
}

// ServeHTTP handles GET /ws. It returns once the connection is closed.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		s.log.Warn("realtime: upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	if s.maxBytes > 0 {
		conn.SetReadLimit(s.maxBytes)
	}

	c := newClient(conn)
	if !s.track(c) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		return
	}
	c.id = s.reg.Connect(c).ID
	s.log.Info("realtime: connection opened", "conn_id", c.id, "remote_addr", r.RemoteAddr)

	go s.writePump(c)
	s.readPump(r.Context(), c)
}

// Close stops accepting connections and closes every open one.
// It is registered with http.Server.RegisterOnShutdown, because Shutdown
// does not wait for hijacked connections.
func (s *Server) Close() {
	s.mu.Lock()
	s.closing = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	s.log.Info("realtime: closed connections", "count", len(clients))
}

func (s *Server) track(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

// originChecker matches the Origin header exactly (case-insensitive)
// against the configured list.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	anyOrigin := false
	for _, o := range allowed {
		o = strings.ToLower(strings.TrimSpace(o))
		if o == "*" {
			anyOrigin = true
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || anyOrigin {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
