package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkordes/tripsync/internal/domain"
)

// memoryTripStore keeps trips in process memory. A single mutex makes every
// operation atomic; nothing survives a restart.
type memoryTripStore struct {
	mu    sync.Mutex
	trips map[string]*domain.Trip
	now   func() time.Time
}

// NewMemoryTripStore returns an empty in-memory TripStore.
func NewMemoryTripStore() TripStore {
	return &memoryTripStore{
		trips: make(map[string]*domain.Trip),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *memoryTripStore) Exists(_ context.Context, tripID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.trips[tripID]
	return ok, nil
}

func (s *memoryTripStore) Get(_ context.Context, tripID string) (domain.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[tripID]
	if !ok {
		return domain.Trip{}, fmt.Errorf("repo.memoryTripStore.Get: %w", domain.ErrTripNotFound)
	}
	return cloneTrip(t), nil
}

func (s *memoryTripStore) CreateIfAbsent(_ context.Context, trip domain.Trip) (domain.Trip, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.trips[trip.TripID]; ok {
		return cloneTrip(existing), false, nil
	}

	now := s.now()
	stored := &domain.Trip{
		TripID:    trip.TripID,
		Itinerary: []domain.Item{},
		Markers:   []domain.Marker{},
		View:      trip.View,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if trip.Destination != nil {
		d := *trip.Destination
		stored.Destination = &d
	}
	s.trips[trip.TripID] = stored
	return cloneTrip(stored), true, nil
}

func (s *memoryTripStore) AppendItem(_ context.Context, tripID, name string) ([]domain.Item, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[tripID]
	if !ok {
		return nil, 0, fmt.Errorf("repo.memoryTripStore.AppendItem: %w", domain.ErrTripNotFound)
	}
	t.Itinerary = append(t.Itinerary, domain.Item{Name: name})
	s.touch(t)
	return append([]domain.Item{}, t.Itinerary...), t.Revision, nil
}

func (s *memoryTripStore) Vote(_ context.Context, tripID string, ref domain.ItemRef, dir domain.VoteDirection) (domain.ItemVote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[tripID]
	if !ok {
		return domain.ItemVote{}, fmt.Errorf("repo.memoryTripStore.Vote: %w", domain.ErrTripNotFound)
	}
	for i := range t.Itinerary {
		it := &t.Itinerary[i]
		if it.Name != ref.Name || (ref.Index != nil && *ref.Index != i) {
			continue
		}
		if dir == domain.VoteUp {
			it.Upvotes++
		} else {
			it.Downvotes++
		}
		s.touch(t)
		return domain.ItemVote{Item: *it, Index: i, Revision: t.Revision}, nil
	}
	return domain.ItemVote{}, fmt.Errorf("repo.memoryTripStore.Vote: %w", domain.ErrItemNotFound)
}

func (s *memoryTripStore) AppendMarker(_ context.Context, tripID string, marker domain.Marker) ([]domain.Marker, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[tripID]
	if !ok {
		return nil, 0, fmt.Errorf("repo.memoryTripStore.AppendMarker: %w", domain.ErrTripNotFound)
	}
	t.Markers = append(t.Markers, cloneMarker(marker))
	s.touch(t)
	return cloneMarkers(t.Markers), t.Revision, nil
}

func (s *memoryTripStore) SetView(_ context.Context, tripID string, view domain.MapView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[tripID]
	if !ok {
		return fmt.Errorf("repo.memoryTripStore.SetView: %w", domain.ErrTripNotFound)
	}
	t.View = view
	s.touch(t)
	return nil
}

// touch must be called with s.mu held.
func (s *memoryTripStore) touch(t *domain.Trip) {
	t.Revision++
	t.UpdatedAt = s.now()
}

// cloneTrip deep-copies t so callers never share slices with the store.
func cloneTrip(t *domain.Trip) domain.Trip {
	out := *t
	if t.Destination != nil {
		d := *t.Destination
		out.Destination = &d
	}
	out.Itinerary = append([]domain.Item{}, t.Itinerary...)
	out.Markers = cloneMarkers(t.Markers)
	return out
}

func cloneMarkers(ms []domain.Marker) []domain.Marker {
	out := make([]domain.Marker, len(ms))
	for i, m := range ms {
		out[i] = cloneMarker(m)
	}
	return out
}

func cloneMarker(m domain.Marker) domain.Marker {
	if m.Description != nil {
		d := *m.Description
		m.Description = &d
	}
	return m
}
