// Package service contains the business logic of the trip planner.
// Services validate inputs, enforce business rules, and orchestrate store calls.
// No storage details live here: services depend on repo.TripStore, not a backend.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/pkordes/tripsync/internal/domain"
	"github.com/pkordes/tripsync/internal/repo"
)

const (
	maxTripIDLen   = 128
	maxItemNameLen = 200
	maxMessageLen  = 2000
	maxZoom        = 24
)

// TripService implements the validation half of every trip operation.
// Fan-out is the caller's job; the service only returns what the store wrote.
type TripService struct {
	store repo.TripStore
}

// NewTripService constructs a TripService backed by the provided TripStore.
func NewTripService(store repo.TripStore) *TripService {
	return &TripService{store: store}
}

// Exists reports whether tripID has been created. Clients use it to decide
// whether to prompt for a destination before joining.
func (s *TripService) Exists(ctx context.Context, tripID string) (bool, error) {
	id, err := validateTripID(tripID)
	if err != nil {
		return false, err
	}
	exists, err := s.store.Exists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("service.TripService.Exists: %w", err)
	}
	return exists, nil
}

// GetOrCreate returns the trip, creating it first when it does not exist.
// A destination is only consulted on the creation branch: for an existing trip
// it is ignored even when supplied. Creating without both city and country
// returns domain.ErrMissingDestination and stores nothing.
func (s *TripService) GetOrCreate(ctx context.Context, tripID string, dest *domain.Destination) (domain.Trip, error) {
	id, err := validateTripID(tripID)
	if err != nil {
		return domain.Trip{}, err
	}

	trip, err := s.store.Get(ctx, id)
	if err == nil {
		return trip, nil
	}
	if !errors.Is(err, domain.ErrTripNotFound) {
		return domain.Trip{}, fmt.Errorf("service.TripService.GetOrCreate: %w", err)
	}

	if !dest.Complete() {
		return domain.Trip{}, fmt.Errorf("service.TripService.GetOrCreate: %w", domain.ErrMissingDestination)
	}
	d := domain.Destination{
		City:    strings.TrimSpace(dest.City),
		Country: strings.TrimSpace(dest.Country),
	}

	trip, created, err := s.store.CreateIfAbsent(ctx, domain.Trip{
		TripID:      id,
		Destination: &d,
		View:        domain.DefaultMapView(d),
	})
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.GetOrCreate: %w", err)
	}
	if created {
		slog.InfoContext(ctx, "trip created", "trip_id", id, "city", d.City, "country", d.Country)
	}
	return trip, nil
}

// AddItem appends an item to the itinerary and returns the itinerary as of
// that write with the trip revision it produced.
func (s *TripService) AddItem(ctx context.Context, tripID, name string) ([]domain.Item, int64, error) {
	id, err := validateTripID(tripID)
	if err != nil {
		return nil, 0, err
	}
	name, err = validateItemName(name)
	if err != nil {
		return nil, 0, err
	}
	items, rev, err := s.store.AppendItem(ctx, id, name)
	if err != nil {
		return nil, 0, fmt.Errorf("service.TripService.AddItem: %w", err)
	}
	return items, rev, nil
}

// Vote applies one up- or down-vote to the item ref names. Without an index
// the first item with that name is voted on.
// vote accepts "upvote"/"downvote".
func (s *TripService) Vote(ctx context.Context, tripID string, ref domain.ItemRef, vote string) (domain.ItemVote, error) {
	id, err := validateTripID(tripID)
	if err != nil {
		return domain.ItemVote{}, err
	}
	name, err := validateItemName(ref.Name)
	if err != nil {
		return domain.ItemVote{}, err
	}
	if ref.Index != nil && *ref.Index < 0 {
		return domain.ItemVote{}, fmt.Errorf("%w: index must not be negative", domain.ErrValidation)
	}
	dir, err := domain.ParseVoteDirection(vote)
	if err != nil {
		return domain.ItemVote{}, err
	}
	result, err := s.store.Vote(ctx, id, domain.ItemRef{Name: name, Index: ref.Index}, dir)
	if err != nil {
		return domain.ItemVote{}, fmt.Errorf("service.TripService.Vote: %w", err)
	}
	return result, nil
}

// AddMarker pins a location and returns the full marker list with the trip
// revision the write produced. An empty description is stored as no description.
func (s *TripService) AddMarker(ctx context.Context, tripID string, marker domain.Marker) ([]domain.Marker, int64, error) {
	id, err := validateTripID(tripID)
	if err != nil {
		return nil, 0, err
	}
	if err := validateLatLng(marker.Lat, marker.Lng); err != nil {
		return nil, 0, err
	}
	if marker.Description != nil {
		d := strings.TrimSpace(*marker.Description)
		if d == "" {
			marker.Description = nil
		} else {
			marker.Description = &d
		}
	}
	markers, rev, err := s.store.AppendMarker(ctx, id, marker)
	if err != nil {
		return nil, 0, fmt.Errorf("service.TripService.AddMarker: %w", err)
	}
	return markers, rev, nil
}

// SetView stores the shared map camera. It is not broadcast; later joins see it.
func (s *TripService) SetView(ctx context.Context, tripID string, view domain.MapView) error {
	id, err := validateTripID(tripID)
	if err != nil {
		return err
	}
	if err := validateLatLng(view.Lat, view.Lng); err != nil {
		return err
	}
	if view.Zoom < 0 || view.Zoom > maxZoom {
		return fmt.Errorf("%w: zoom must be between 0 and %d", domain.ErrValidation, maxZoom)
	}
	if err := s.store.SetView(ctx, id, view); err != nil {
		return fmt.Errorf("service.TripService.SetView: %w", err)
	}
	return nil
}

// ValidateMessage checks a chat message and returns it trimmed.
// Messages are never stored; this is the only service-side rule for chat.
func (s *TripService) ValidateMessage(message string) (string, error) {
	m := strings.TrimSpace(message)
	if m == "" {
		return "", fmt.Errorf("%w: message is required", domain.ErrValidation)
	}
	if utf8.RuneCountInString(m) > maxMessageLen {
		return "", fmt.Errorf("%w: message must be at most %d characters", domain.ErrValidation, maxMessageLen)
	}
	return m, nil
}

// NormalizeTripID trims tripID and validates it the same way every
// operation does, so callers can compare room keys with stored ids.
func NormalizeTripID(tripID string) (string, error) {
	return validateTripID(tripID)
}

func validateTripID(tripID string) (string, error) {
	id := strings.TrimSpace(tripID)
	if id == "" {
		return "", fmt.Errorf("%w: tripId is required", domain.ErrValidation)
	}
	if utf8.RuneCountInString(id) > maxTripIDLen {
		return "", fmt.Errorf("%w: tripId must be at most %d characters", domain.ErrValidation, maxTripIDLen)
	}
	return id, nil
}

func validateItemName(name string) (string, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return "", fmt.Errorf("%w: item name is required", domain.ErrValidation)
	}
	if utf8.RuneCountInString(n) > maxItemNameLen {
		return "", fmt.Errorf("%w: item name must be at most %d characters", domain.ErrValidation, maxItemNameLen)
	}
	return n, nil
}

func validateLatLng(lat, lng float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: lat must be between -90 and 90", domain.ErrValidation)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("%w: lng must be between -180 and 180", domain.ErrValidation)
	}
	return nil
}
