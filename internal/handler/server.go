// Package handler implements the HTTP endpoints of the trip sync service.
// All handlers are methods on Server. Methods are split into resource files
// (health.go, trip.go) but share the same Server struct and its dependencies.
package handler

import (
	"context"

	"github.com/go-chi/chi/v5"
)

// TripServicer defines the business operations the trip handler depends on.
// Defining the interface here (in the consumer package) lets handler tests
// inject a mock without touching a store.
type TripServicer interface {
	Exists(ctx context.Context, tripID string) (bool, error)
}

// SessionCounter reports live websocket state for the health check.
// *session.Registry satisfies it.
type SessionCounter interface {
	Connections() int
	Rooms() int
}

// Server implements the REST endpoints.
type Server struct {
	trips    TripServicer
	sessions SessionCounter
}

// NewServer constructs the Server with all its dependencies.
func NewServer(trips TripServicer, sessions SessionCounter) *Server {
	return &Server{trips: trips, sessions: sessions}
}

// Routes registers every REST endpoint on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/healthz", s.GetHealth)
	r.Get("/openapi.yaml", s.GetOpenAPI)
	r.Get("/trips/{tripId}/exists", s.GetTripExists)
}
