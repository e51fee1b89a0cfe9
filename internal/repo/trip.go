// Package repo contains the Trip State Store: the durable, keyed-by-trip-id
// record of itinerary, markers and map view.
// TripStore is implemented by Postgres (default), Redis and in-memory backends.
// No business logic lives here: only atomic storage primitives and type mapping.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pkordes/tripsync/internal/domain"
)

// TripStore defines the persistence operations for Trips.
// Every mutation is a single atomic operation at the store layer, never a
// load-mutate-save of the whole trip. Each mutation bumps the trip revision.
type TripStore interface {
	// Exists reports whether a trip with the given id has been created.
	Exists(ctx context.Context, tripID string) (bool, error)

	// Get returns a consistent snapshot of the trip, its itinerary and markers.
	// Returns domain.ErrTripNotFound if the trip does not exist.
	Get(ctx context.Context, tripID string) (domain.Trip, error)

	// CreateIfAbsent stores trip unless a trip with the same id already exists.
	// It returns the stored trip and whether this call created it. When two
	// callers race, the loser receives the winner's trip, not an error.
	CreateIfAbsent(ctx context.Context, trip domain.Trip) (domain.Trip, bool, error)

	// AppendItem appends {name, 0, 0} to the itinerary and returns the
	// itinerary as of this write together with the revision the write produced.
	// Returns domain.ErrTripNotFound.
	AppendItem(ctx context.Context, tripID, name string) ([]domain.Item, int64, error)

	// Vote increments one counter of the item ref points at.
	// Returns domain.ErrTripNotFound or domain.ErrItemNotFound.
	Vote(ctx context.Context, tripID string, ref domain.ItemRef, dir domain.VoteDirection) (domain.ItemVote, error)

	// AppendMarker appends a marker and returns the full marker list with the
	// revision the write produced. Returns domain.ErrTripNotFound.
	AppendMarker(ctx context.Context, tripID string, marker domain.Marker) ([]domain.Marker, int64, error)

	// SetView overwrites the trip's map view. Last write wins.
	// Returns domain.ErrTripNotFound.
	SetView(ctx context.Context, tripID string, view domain.MapView) error
}

// db is the minimal interface satisfied by *pgxpool.Pool, pgx.Conn, and pgx.Tx.
// Begin is required because mutations run in a short transaction; on a pgx.Tx
// it opens a savepoint, so tests can still hand in a transaction.
type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgTripStore is the Postgres implementation of TripStore.
// Per-trip ordering comes from the row lock taken by bumpRevision: every
// mutation of a trip updates its trips row first, inside the same transaction.
type pgTripStore struct {
	db db
}

// NewPgTripStore constructs a TripStore backed by the provided db connection.
// In production pass *pgxpool.Pool.
func NewPgTripStore(db db) TripStore {
	return &pgTripStore{db: db}
}

// Exists checks for the trip row without loading it.
func (r *pgTripStore) Exists(ctx context.Context, tripID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM trips WHERE trip_id = @trip_id)`

	var exists bool
	if err := r.db.QueryRow(ctx, q, pgx.NamedArgs{"trip_id": tripID}).Scan(&exists); err != nil {
		return false, fmt.Errorf("repo.pgTripStore.Exists: %w", err)
	}
	return exists, nil
}

// Get loads the trip with its itinerary and markers in one statement, so the
// three parts always come from the same snapshot.
func (r *pgTripStore) Get(ctx context.Context, tripID string) (domain.Trip, error) {
	const q = `
		SELECT t.trip_id, t.destination_city, t.destination_country,
		       t.center_lat, t.center_lng, t.zoom_level, t.revision,
		       t.created_at, t.updated_at,
		       COALESCE((
		           SELECT json_agg(json_build_object(
		                      'name', i.name, 'upvotes', i.upvotes, 'downvotes', i.downvotes)
		                  ORDER BY i.id)
		           FROM trip_items i
		           WHERE i.trip_id = t.trip_id), '[]'::json),
		       COALESCE((
		           SELECT json_agg(json_build_object(
		                      'lat', m.lat, 'lng', m.lng, 'description', m.description)
		                  ORDER BY m.id)
		           FROM trip_markers m
		           WHERE m.trip_id = t.trip_id), '[]'::json)
		FROM trips t
		WHERE t.trip_id = @trip_id`

	trip, err := scanTrip(r.db.QueryRow(ctx, q, pgx.NamedArgs{"trip_id": tripID}))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.pgTripStore.Get: %w", err)
	}
	return trip, nil
}

// CreateIfAbsent relies on the trips primary key: ON CONFLICT DO NOTHING
// turns a lost creation race into a no-op, and the re-read returns the
// winner's row.
func (r *pgTripStore) CreateIfAbsent(ctx context.Context, trip domain.Trip) (domain.Trip, bool, error) {
	const q = `
		INSERT INTO trips (trip_id, destination_city, destination_country,
		                   center_lat, center_lng, zoom_level)
		VALUES (@trip_id, @city, @country, @lat, @lng, @zoom)
		ON CONFLICT (trip_id) DO NOTHING`

	args := pgx.NamedArgs{
		"trip_id": trip.TripID,
		"city":    nil,
		"country": nil,
		"lat":     trip.View.Lat,
		"lng":     trip.View.Lng,
		"zoom":    trip.View.Zoom,
	}
	if trip.Destination != nil {
		args["city"] = trip.Destination.City
		args["country"] = trip.Destination.Country
	}

	tag, err := r.db.Exec(ctx, q, args)
	if err != nil && !isUniqueViolation(err) {
		return domain.Trip{}, false, fmt.Errorf("repo.pgTripStore.CreateIfAbsent: %w", err)
	}
	created := err == nil && tag.RowsAffected() == 1

	stored, err := r.Get(ctx, trip.TripID)
	if err != nil {
		return domain.Trip{}, false, fmt.Errorf("repo.pgTripStore.CreateIfAbsent: %w", err)
	}
	return stored, created, nil
}

// AppendItem inserts the item and reads the itinerary back in the same
// transaction, so the returned list reflects exactly this write.
func (r *pgTripStore) AppendItem(ctx context.Context, tripID, name string) ([]domain.Item, int64, error) {
	const q = `INSERT INTO trip_items (trip_id, name) VALUES (@trip_id, @name)`

	var (
		items []domain.Item
		rev   int64
	)
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		if rev, err = bumpRevision(ctx, tx, tripID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, q, pgx.NamedArgs{"trip_id": tripID, "name": name}); err != nil {
			return err
		}
		items, err = listItems(ctx, tx, tripID)
		return err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("repo.pgTripStore.AppendItem: %w", err)
	}
	return items, rev, nil
}

// Vote increments a single counter in place. The UPDATE re-evaluates the
// counter against the latest committed row, so concurrent votes on the same
// item all land. Positions are ranked by id, which is insertion order.
func (r *pgTripStore) Vote(ctx context.Context, tripID string, ref domain.ItemRef, dir domain.VoteDirection) (domain.ItemVote, error) {
	const q = `
		WITH ranked AS (
		    SELECT id, name, row_number() OVER (ORDER BY id) - 1 AS idx
		    FROM trip_items
		    WHERE trip_id = @trip_id
		), target AS (
		    SELECT id, idx FROM ranked
		    WHERE name = @name
		      AND (@index::bigint IS NULL OR idx = @index::bigint)
		    ORDER BY id
		    LIMIT 1
		)
		UPDATE trip_items
		SET upvotes   = upvotes + @up::int,
		    downvotes = downvotes + @down::int
		FROM target
		WHERE trip_items.id = target.id
		RETURNING trip_items.name, trip_items.upvotes, trip_items.downvotes, target.idx`

	up, down := 0, 0
	if dir == domain.VoteUp {
		up = 1
	} else {
		down = 1
	}

	var vote domain.ItemVote
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		rev, err := bumpRevision(ctx, tx, tripID)
		if err != nil {
			return err
		}
		args := pgx.NamedArgs{
			"trip_id": tripID,
			"name":    ref.Name,
			"index":   ref.Index, // nil becomes NULL
			"up":      up,
			"down":    down,
		}
		var index int64
		err = tx.QueryRow(ctx, q, args).Scan(&vote.Name, &vote.Upvotes, &vote.Downvotes, &index)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrItemNotFound
		}
		if err != nil {
			return err
		}
		vote.Index = int(index)
		vote.Revision = rev
		return nil
	})
	if err != nil {
		return domain.ItemVote{}, fmt.Errorf("repo.pgTripStore.Vote: %w", err)
	}
	return vote, nil
}

// AppendMarker inserts the marker and returns the marker list as of this write.
func (r *pgTripStore) AppendMarker(ctx context.Context, tripID string, marker domain.Marker) ([]domain.Marker, int64, error) {
	const q = `
		INSERT INTO trip_markers (trip_id, lat, lng, description)
		VALUES (@trip_id, @lat, @lng, @description)`

	var (
		markers []domain.Marker
		rev     int64
	)
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		if rev, err = bumpRevision(ctx, tx, tripID); err != nil {
			return err
		}
		args := pgx.NamedArgs{
			"trip_id":     tripID,
			"lat":         marker.Lat,
			"lng":         marker.Lng,
			"description": marker.Description, // nil becomes NULL
		}
		if _, err := tx.Exec(ctx, q, args); err != nil {
			return err
		}
		markers, err = listMarkers(ctx, tx, tripID)
		return err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("repo.pgTripStore.AppendMarker: %w", err)
	}
	return markers, rev, nil
}

// SetView overwrites the view columns in a single UPDATE.
func (r *pgTripStore) SetView(ctx context.Context, tripID string, view domain.MapView) error {
	const q = `
		UPDATE trips
		SET center_lat = @lat,
		    center_lng = @lng,
		    zoom_level = @zoom,
		    revision   = revision + 1,
		    updated_at = now()
		WHERE trip_id = @trip_id`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{
		"trip_id": tripID,
		"lat":     view.Lat,
		"lng":     view.Lng,
		"zoom":    view.Zoom,
	})
	if err != nil {
		return fmt.Errorf("repo.pgTripStore.SetView: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo.pgTripStore.SetView: %w", domain.ErrTripNotFound)
	}
	return nil
}

// bumpRevision increments the trip revision and returns the new value.
// The row lock it takes serializes all mutations of one trip until commit.
func bumpRevision(ctx context.Context, q db, tripID string) (int64, error) {
	const stmt = `
		UPDATE trips
		SET revision = revision + 1, updated_at = now()
		WHERE trip_id = @trip_id
		RETURNING revision`

	var rev int64
	err := q.QueryRow(ctx, stmt, pgx.NamedArgs{"trip_id": tripID}).Scan(&rev)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrTripNotFound
	}
	return rev, err
}

func listItems(ctx context.Context, q db, tripID string) ([]domain.Item, error) {
	const stmt = `
		SELECT name, upvotes, downvotes
		FROM trip_items
		WHERE trip_id = @trip_id
		ORDER BY id`

	rows, err := q.Query(ctx, stmt, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []domain.Item{}
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.Name, &it.Upvotes, &it.Downvotes); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return items, nil
}

func listMarkers(ctx context.Context, q db, tripID string) ([]domain.Marker, error) {
	const stmt = `
		SELECT lat, lng, description
		FROM trip_markers
		WHERE trip_id = @trip_id
		ORDER BY id`

	rows, err := q.Query(ctx, stmt, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	markers := []domain.Marker{}
	for rows.Next() {
		var m domain.Marker
		if err := rows.Scan(&m.Lat, &m.Lng, &m.Description); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return markers, nil
}

// scanTrip maps the row produced by Get into a domain.Trip.
// It handles the nullable destination and the JSON-aggregated child lists.
func scanTrip(row pgx.Row) (domain.Trip, error) {
	var (
		t             domain.Trip
		city, country *string
		itemsJSON     []byte
		markersJSON   []byte
	)

	err := row.Scan(&t.TripID, &city, &country,
		&t.View.Lat, &t.View.Lng, &t.View.Zoom, &t.Revision,
		&t.CreatedAt, &t.UpdatedAt, &itemsJSON, &markersJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trip{}, domain.ErrTripNotFound
		}
		return domain.Trip{}, err
	}

	if city != nil || country != nil {
		t.Destination = &domain.Destination{}
		if city != nil {
			t.Destination.City = *city
		}
		if country != nil {
			t.Destination.Country = *country
		}
	}
	if err := json.Unmarshal(itemsJSON, &t.Itinerary); err != nil {
		return domain.Trip{}, fmt.Errorf("decode itinerary: %w", err)
	}
	if err := json.Unmarshal(markersJSON, &t.Markers); err != nil {
		return domain.Trip{}, fmt.Errorf("decode markers: %w", err)
	}
	return t, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
