package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pkordes/tripsync/internal/domain"
)

// Every trip is four keys sharing one hash tag, so the scripts below touch a
// single slot:
//
//	KEYS[1] <prefix>trip:{id}          hash: city, country, lat, lng, zoom, revision, created_at, updated_at
//	KEYS[2] <prefix>trip:{id}:items    list of item names in itinerary order
//	KEYS[3] <prefix>trip:{id}:votes    hash: "<index>:up", "<index>:down"
//	KEYS[4] <prefix>trip:{id}:markers  list of JSON-encoded markers
//
// Each operation is one Lua script; Redis runs a script without interleaving
// other commands, which is what makes these operations atomic.
var (
	createTripScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'lat', ARGV[1], 'lng', ARGV[2], 'zoom', ARGV[3],
  'revision', 0, 'created_at', ARGV[4], 'updated_at', ARGV[4])
if ARGV[5] ~= '' then redis.call('HSET', KEYS[1], 'city', ARGV[5]) end
if ARGV[6] ~= '' then redis.call('HSET', KEYS[1], 'country', ARGV[6]) end
return 1
`)

	getTripScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
return {
  redis.call('HGETALL', KEYS[1]),
  redis.call('LRANGE', KEYS[2], 0, -1),
  redis.call('HGETALL', KEYS[3]),
  redis.call('LRANGE', KEYS[4], 0, -1),
}
`)

	appendItemScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
redis.call('RPUSH', KEYS[2], ARGV[1])
local rev = redis.call('HINCRBY', KEYS[1], 'revision', 1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
return {redis.call('LRANGE', KEYS[2], 0, -1), redis.call('HGETALL', KEYS[3]), rev}
`)

	voteScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
local names = redis.call('LRANGE', KEYS[2], 0, -1)
local want = tonumber(ARGV[4])
for i, name in ipairs(names) do
  if name == ARGV[1] and (want == nil or want == i - 1) then
    local idx = i - 1
    redis.call('HINCRBY', KEYS[3], idx .. ':' .. ARGV[2], 1)
    local up = redis.call('HGET', KEYS[3], idx .. ':up') or '0'
    local down = redis.call('HGET', KEYS[3], idx .. ':down') or '0'
    local rev = redis.call('HINCRBY', KEYS[1], 'revision', 1)
    redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
    return {idx, tonumber(up), tonumber(down), rev}
  end
end
return {-1}
`)

	appendMarkerScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
redis.call('RPUSH', KEYS[4], ARGV[1])
local rev = redis.call('HINCRBY', KEYS[1], 'revision', 1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
return {redis.call('LRANGE', KEYS[4], 0, -1), rev}
`)

	setViewScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
redis.call('HSET', KEYS[1], 'lat', ARGV[1], 'lng', ARGV[2], 'zoom', ARGV[3], 'updated_at', ARGV[4])
redis.call('HINCRBY', KEYS[1], 'revision', 1)
return 1
`)
)

// redisTripStore is the Redis implementation of TripStore.
type redisTripStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisTripStore constructs a TripStore that keeps trips in Redis under
// keys starting with prefix.
func NewRedisTripStore(rdb redis.UniversalClient, prefix string) TripStore {
	return &redisTripStore{
		rdb:    rdb,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *redisTripStore) keys(tripID string) []string {
	base := s.prefix + "trip:{" + tripID + "}"
	return []string{base, base + ":items", base + ":votes", base + ":markers"}
}

func (s *redisTripStore) stamp() string {
	return s.now().Format(time.RFC3339Nano)
}

func (s *redisTripStore) Exists(ctx context.Context, tripID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.keys(tripID)[0]).Result()
	if err != nil {
		return false, fmt.Errorf("repo.redisTripStore.Exists: %w", err)
	}
	return n == 1, nil
}

func (s *redisTripStore) Get(ctx context.Context, tripID string) (domain.Trip, error) {
	res, err := getTripScript.Run(ctx, s.rdb, s.keys(tripID)).Slice()
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.redisTripStore.Get: %w", notFoundOnNil(err))
	}
	if len(res) != 4 {
		return domain.Trip{}, fmt.Errorf("repo.redisTripStore.Get: unexpected reply of %d elements", len(res))
	}

	meta := pairsToMap(toStrings(res[0]))
	t := domain.Trip{
		TripID:    tripID,
		Itinerary: buildItems(toStrings(res[1]), pairsToMap(toStrings(res[2]))),
	}
	if err := decodeTripMeta(meta, &t); err != nil {
		return domain.Trip{}, fmt.Errorf("repo.redisTripStore.Get: %w", err)
	}
	t.Markers, err = decodeMarkers(toStrings(res[3]))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.redisTripStore.Get: %w", err)
	}
	return t, nil
}

func (s *redisTripStore) CreateIfAbsent(ctx context.Context, trip domain.Trip) (domain.Trip, bool, error) {
	var city, country string
	if trip.Destination != nil {
		city, country = trip.Destination.City, trip.Destination.Country
	}
	n, err := createTripScript.Run(ctx, s.rdb, s.keys(trip.TripID),
		formatFloat(trip.View.Lat), formatFloat(trip.View.Lng), formatFloat(trip.View.Zoom),
		s.stamp(), city, country,
	).Int64()
	if err != nil {
		return domain.Trip{}, false, fmt.Errorf("repo.redisTripStore.CreateIfAbsent: %w", err)
	}

	stored, err := s.Get(ctx, trip.TripID)
	if err != nil {
		return domain.Trip{}, false, fmt.Errorf("repo.redisTripStore.CreateIfAbsent: %w", err)
	}
	return stored, n == 1, nil
}

func (s *redisTripStore) AppendItem(ctx context.Context, tripID, name string) ([]domain.Item, int64, error) {
	res, err := appendItemScript.Run(ctx, s.rdb, s.keys(tripID), name, s.stamp()).Slice()
	if err != nil {
		return nil, 0, fmt.Errorf("repo.redisTripStore.AppendItem: %w", notFoundOnNil(err))
	}
	if len(res) != 3 {
		return nil, 0, fmt.Errorf("repo.redisTripStore.AppendItem: unexpected reply of %d elements", len(res))
	}
	rev, ok := res[2].(int64)
	if !ok {
		return nil, 0, fmt.Errorf("repo.redisTripStore.AppendItem: unexpected revision %v", res[2])
	}
	return buildItems(toStrings(res[0]), pairsToMap(toStrings(res[1]))), rev, nil
}

func (s *redisTripStore) Vote(ctx context.Context, tripID string, ref domain.ItemRef, dir domain.VoteDirection) (domain.ItemVote, error) {
	index := ""
	if ref.Index != nil {
		index = strconv.Itoa(*ref.Index)
	}
	res, err := voteScript.Run(ctx, s.rdb, s.keys(tripID), ref.Name, string(dir), s.stamp(), index).Int64Slice()
	if err != nil {
		return domain.ItemVote{}, fmt.Errorf("repo.redisTripStore.Vote: %w", notFoundOnNil(err))
	}
	if len(res) == 1 && res[0] < 0 {
		return domain.ItemVote{}, fmt.Errorf("repo.redisTripStore.Vote: %w", domain.ErrItemNotFound)
	}
	if len(res) != 4 {
		return domain.ItemVote{}, fmt.Errorf("repo.redisTripStore.Vote: unexpected reply of %d elements", len(res))
	}
	return domain.ItemVote{
		Item:     domain.Item{Name: ref.Name, Upvotes: int(res[1]), Downvotes: int(res[2])},
		Index:    int(res[0]),
		Revision: res[3],
	}, nil
}

func (s *redisTripStore) AppendMarker(ctx context.Context, tripID string, marker domain.Marker) ([]domain.Marker, int64, error) {
	encoded, err := json.Marshal(marker)
	if err != nil {
		return nil, 0, fmt.Errorf("repo.redisTripStore.AppendMarker: encode: %w", err)
	}
	res, err := appendMarkerScript.Run(ctx, s.rdb, s.keys(tripID), string(encoded), s.stamp()).Slice()
	if err != nil {
		return nil, 0, fmt.Errorf("repo.redisTripStore.AppendMarker: %w", notFoundOnNil(err))
	}
	if len(res) != 2 {
		return nil, 0, fmt.Errorf("repo.redisTripStore.AppendMarker: unexpected reply of %d elements", len(res))
	}
	rev, ok := res[1].(int64)
	if !ok {
		return nil, 0, fmt.Errorf("repo.redisTripStore.AppendMarker: unexpected revision %v", res[1])
	}
	markers, err := decodeMarkers(toStrings(res[0]))
	if err != nil {
		return nil, 0, fmt.Errorf("repo.redisTripStore.AppendMarker: %w", err)
	}
	return markers, rev, nil
}

func (s *redisTripStore) SetView(ctx context.Context, tripID string, view domain.MapView) error {
	err := setViewScript.Run(ctx, s.rdb, s.keys(tripID),
		formatFloat(view.Lat), formatFloat(view.Lng), formatFloat(view.Zoom), s.stamp(),
	).Err()
	if err != nil {
		return fmt.Errorf("repo.redisTripStore.SetView: %w", notFoundOnNil(err))
	}
	return nil
}

// notFoundOnNil maps the nil reply the scripts return for a missing trip.
func notFoundOnNil(err error) error {
	if errors.Is(err, redis.Nil) {
		return domain.ErrTripNotFound
	}
	return err
}

func decodeTripMeta(meta map[string]string, t *domain.Trip) error {
	var err error
	if t.View.Lat, err = strconv.ParseFloat(meta["lat"], 64); err != nil {
		return fmt.Errorf("decode lat: %w", err)
	}
	if t.View.Lng, err = strconv.ParseFloat(meta["lng"], 64); err != nil {
		return fmt.Errorf("decode lng: %w", err)
	}
	if t.View.Zoom, err = strconv.ParseFloat(meta["zoom"], 64); err != nil {
		return fmt.Errorf("decode zoom: %w", err)
	}
	if t.Revision, err = strconv.ParseInt(meta["revision"], 10, 64); err != nil {
		return fmt.Errorf("decode revision: %w", err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, meta["created_at"]); err != nil {
		return fmt.Errorf("decode created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, meta["updated_at"]); err != nil {
		return fmt.Errorf("decode updated_at: %w", err)
	}
	city, hasCity := meta["city"]
	country, hasCountry := meta["country"]
	if hasCity || hasCountry {
		t.Destination = &domain.Destination{City: city, Country: country}
	}
	return nil
}

func buildItems(names []string, votes map[string]string) []domain.Item {
	items := make([]domain.Item, len(names))
	for i, name := range names {
		idx := strconv.Itoa(i)
		up, _ := strconv.Atoi(votes[idx+":up"])
		down, _ := strconv.Atoi(votes[idx+":down"])
		items[i] = domain.Item{Name: name, Upvotes: up, Downvotes: down}
	}
	return items
}

func decodeMarkers(raw []string) ([]domain.Marker, error) {
	markers := make([]domain.Marker, len(raw))
	for i, r := range raw {
		if err := json.Unmarshal([]byte(r), &markers[i]); err != nil {
			return nil, fmt.Errorf("decode marker %d: %w", i, err)
		}
	}
	return markers, nil
}

// toStrings flattens a nested script reply element into strings.
func toStrings(v any) []string {
	vals, _ := v.([]any)
	out := make([]string, 0, len(vals))
	for _, x := range vals {
		switch s := x.(type) {
		case string:
			out = append(out, s)
		case int64:
			out = append(out, strconv.FormatInt(s, 10))
		}
	}
	return out
}

// pairsToMap turns an HGETALL reply into a map.
func pairsToMap(flat []string) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		m[flat[i]] = flat[i+1]
	}
	return m
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
