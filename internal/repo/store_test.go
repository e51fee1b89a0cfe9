package repo_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/tripsync/internal/domain"
	"github.com/pkordes/tripsync/internal/repo"
)

// testTripPrefix marks trip ids created by these tests so integration
// backends can clean them up.
const testTripPrefix = "test-"

func newTripID() string {
	return testTripPrefix + uuid.NewString()
}

// tripFixture returns a domain.Trip ready for CreateIfAbsent.
func tripFixture(id string) domain.Trip {
	dest := domain.Destination{City: "Paris", Country: "France"}
	return domain.Trip{
		TripID:      id,
		Destination: &dest,
		View:        domain.DefaultMapView(dest),
	}
}

func strPtr(s string) *string { return &s }

// runTripStoreContract runs the behaviour every TripStore backend must share.
// newStore is called once per subtest.
func runTripStoreContract(t *testing.T, newStore func(t *testing.T) repo.TripStore) {
	t.Run("CreateIfAbsent creates an empty trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		input := tripFixture(newTripID())

		got, created, err := s.CreateIfAbsent(ctx, input)

		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, input.TripID, got.TripID)
		require.NotNil(t, got.Destination)
		assert.Equal(t, "Paris", got.Destination.City)
		assert.Equal(t, "France", got.Destination.Country)
		assert.Equal(t, input.View, got.View)
		assert.Empty(t, got.Itinerary)
		assert.Empty(t, got.Markers)
		assert.False(t, got.CreatedAt.IsZero(), "CreatedAt should be set by the store")
	})

	t.Run("CreateIfAbsent returns the existing trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := newTripID()
		_, _, err := s.CreateIfAbsent(ctx, tripFixture(id))
		require.NoError(t, err)

		other := tripFixture(id)
		other.Destination = &domain.Destination{City: "Rome", Country: "Italy"}
		other.View = domain.MapView{Lat: 1, Lng: 2, Zoom: 3}

		got, created, err := s.CreateIfAbsent(ctx, other)

		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "Paris", got.Destination.City, "the first creator's destination is kept")
		assert.NotEqual(t, other.View, got.View)
	})

	t.Run("CreateIfAbsent race stores exactly one trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := newTripID()

		const racers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
			errs    []error
		)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, created, err := s.CreateIfAbsent(ctx, tripFixture(id))
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				if created {
					winners++
				}
				if got.TripID != id {
					errs = append(errs, assert.AnError)
				}
			}()
		}
		wg.Wait()

		assert.Empty(t, errs, "no racer should see an error")
		assert.Equal(t, 1, winners, "exactly one racer creates the trip")
	})

	t.Run("Exists", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := newTripID()

		exists, err := s.Exists(ctx, id)
		require.NoError(t, err)
		assert.False(t, exists)

		_, _, err = s.CreateIfAbsent(ctx, tripFixture(id))
		require.NoError(t, err)

		exists, err = s.Exists(ctx, id)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("Get unknown trip", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Get(context.Background(), newTripID())

		assert.ErrorIs(t, err, domain.ErrTripNotFound)
	})

	t.Run("AppendItem keeps order and duplicates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := newTripID()
		_, _, err := s.CreateIfAbsent(ctx, tripFixture(id))
		require.NoError(t, err)

		_, first, err := s.AppendItem(ctx, id, "Eiffel Tower")
		require.NoError(t, err)
		_, _, err = s.AppendItem(ctx, id, "Louvre")
		require.NoError(t, err)
		items, last, err := s.AppendItem(ctx, id, "Eiffel Tower")
		require.NoError(t, err)

		assert.Equal(t, []domain.Item{
			{Name: "Eiffel Tower"},
			{Name: "Louvre"},
			{Name: "Eiffel Tower"},
		}, items)
		assert.Equal(t, first+2, last, "every append bumps the revision once")

		trip, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, last, trip.Revision, "the returned revision is the stored one")
	})

	t.Run("AppendItem unknown trip", func(t *testing.T) {
		s := newStore(t)

		_, _, err := s.AppendItem(context.Background(), newTripID(), "Louvre")

		assert.ErrorIs(t, err, domain.ErrTripNotFound)
	})

	t.Run("Vote increments one counter of the first matching item", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := newTripID()
		_, _, err := s.CreateIfAbsent(ctx, tripFixture(id))
		require.NoError(t, err)
		for _, name := range []string{"Louvre", "Eiffel Tower", "Eiffel Tower"} {
			_, _, err = s.AppendItem(ctx, id, name)
			require.NoError(t, err)
		}

		up, err := s.Vote(ctx, id, domain.ItemRef{Name: "Eiffel Tower"}, domain.VoteUp)
		require.NoError(t, err)
		assert.Equal(t, domain.Item{Name: "Eiffel Tower", Upvotes: 1, Downvotes: 0}, up.Item)
		assert.Equal(t, 1, up.Index)

		down, err := s.Vote(ctx, id, domain.ItemRef{Name: "Eiffel Tower"}, domain.VoteDown)
		require.NoError(t, err)
		assert.Equal(t, domain.Item{Name: "Eiffel Tower", Upvotes: 1, Downvotes: 1}, down.Item)
		assert.Greater(t, down.Revision, up.Revision, "revision increases with every vote")

		trip, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.Item{Name: "Eiffel Tower"}, trip.Itinerary[2], "the duplicate is untouched")
	})

	t.Run("Vote by index reaches the second duplicate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := newTripID()
		_, _, err := s.CreateIfAbsent(ctx, tripFixture(id))
		require.NoError(t, err)
		for _, name := range []string{"Eiffel Tower", "Louvre", "Eiffel Tower"} {
			_, _, err = s.AppendItem(ctx, id, name)
			require.NoError(t, err)
		}
		second := 2

		got, err := s.Vote(ctx, id, domain.ItemRef{Name: "Eiffel Tower", Index: &second}, domain.VoteUp)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Index)
		assert.Equal(t, domain.Item{Name: "Eiffel Tower", Upvotes: 1}, got.Item)

		trip, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []domain.Item{
			{Name: "Eiffel Tower"},
			{Name: "Louvre"},
			{Name: "Eiffel Tower", Upvotes: 1},
		}, trip.Itinerary)
	})

	t.Run("Vote by index requires the name to match", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := newTripID()
		_, _, err := s.CreateIfAbsent(ctx, tripFixture(id))
		require.NoError(t, err)
		for _, name := range []string{"Eiffel Tower", "Louvre"} {
			_, _, err = s.AppendItem(ctx, id, name)
			require.NoError(t, err)
		}
		louvre, outOfRange := 1, 5

		_, err = s.Vote(ctx, id, domain.ItemRef{Name: "Eiffel Tower", Index: &louvre}, domain.VoteUp)
		assert.ErrorIs(t, err, domain.ErrItemNotFound)

		_, err = s.Vote(ctx, id, domain.ItemRef{Name: "Eiffel Tower", Index: &outOfRange}, domain.VoteUp)
		assert.ErrorIs(t, err, domain.ErrItemNotFound)

		trip, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []domain.Item{{Name: "Eiffel Tower"}, {Name: "Louvre"}}, trip.Itinerary)
	})

	t.Run("Vote unknown item", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := newTripID()
		_, _, err := s.CreateIfAbsent(ctx, tripFixture(id))
		require.NoError(t, err)

		_, err = s.Vote(ctx, id, domain.ItemRef{Name: "Nowhere"}, domain.VoteUp)

		assert.ErrorIs(t, err, domain.ErrItemNotFound)
	})

	t.Run("Vote unknown trip", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Vote(context.Background(), newTripID(), domain.ItemRef{Name: "Louvre"}, domain.VoteUp)

		assert.ErrorIs(t, err, domain.ErrTripNotFound)
	})

	t.Run("concurrent votes are never lost", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := newTripID()
		_, _, err := s.CreateIfAbsent(ctx, tripFixture(id))
		require.NoError(t, err)
		_, _, err = s.AppendItem(ctx, id, "Louvre")
		require.NoError(t, err)

		const voters = 40
		var wg sync.WaitGroup
		errs := make(chan error, voters)
		for i := 0; i < voters; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Vote(ctx, id, domain.ItemRef{Name: "Louvre"}, domain.VoteUp); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		trip, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, voters, trip.Itinerary[0].Upvotes)
		assert.Equal(t, 0, trip.Itinerary[0].Downvotes)
	})

	t.Run("AppendMarker round-trips through Get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := newTripID()
		_, _, err := s.CreateIfAbsent(ctx, tripFixture(id))
		require.NoError(t, err)

		first := domain.Marker{Lat: 48.8584, Lng: 2.2945, Description: strPtr("Eiffel Tower")}
		second := domain.Marker{Lat: -33.8568, Lng: 151.2153}

		_, firstRev, err := s.AppendMarker(ctx, id, first)
		require.NoError(t, err)
		markers, secondRev, err := s.AppendMarker(ctx, id, second)
		require.NoError(t, err)
		assert.Equal(t, []domain.Marker{first, second}, markers)
		assert.Greater(t, secondRev, firstRev)

		trip, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []domain.Marker{first, second}, trip.Markers)
		assert.Equal(t, secondRev, trip.Revision)
		assert.Nil(t, trip.Markers[1].Description)
	})

	t.Run("AppendMarker unknown trip", func(t *testing.T) {
		s := newStore(t)

		_, _, err := s.AppendMarker(context.Background(), newTripID(), domain.Marker{Lat: 1, Lng: 1})

		assert.ErrorIs(t, err, domain.ErrTripNotFound)
	})

	t.Run("SetView overwrites the view", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := newTripID()
		created, _, err := s.CreateIfAbsent(ctx, tripFixture(id))
		require.NoError(t, err)

		view := domain.MapView{Lat: 43.7696, Lng: 11.2558, Zoom: 13.5}
		require.NoError(t, s.SetView(ctx, id, view))

		trip, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, view, trip.View)
		assert.Greater(t, trip.Revision, created.Revision)
	})

	t.Run("SetView unknown trip", func(t *testing.T) {
		s := newStore(t)

		err := s.SetView(context.Background(), newTripID(), domain.MapView{Zoom: 3})

		assert.ErrorIs(t, err, domain.ErrTripNotFound)
	})
}
