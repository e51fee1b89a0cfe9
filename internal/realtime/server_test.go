package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/tripsync/internal/domain"
	"github.com/pkordes/tripsync/internal/realtime"
	"github.com/pkordes/tripsync/internal/repo"
	"github.com/pkordes/tripsync/internal/service"
	"github.com/pkordes/tripsync/internal/session"
)

// ---- harness -----------------------------------------------------------------

type harness struct {
	url   string
	rt    *realtime.Server
	reg   *session.Registry
	store repo.TripStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := repo.NewMemoryTripStore()
	return newHarnessWith(t, service.NewTripService(store), store)
}

func newHarnessWith(t *testing.T, trips realtime.TripServicer, store repo.TripStore) *harness {
	t.Helper()
	reg := session.NewRegistry()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := realtime.NewServer(trips, reg, log, realtime.Options{
		MaxMessageBytes: 64 << 10,
		AllowedOrigins:  []string{"http://localhost:5173"},
	})
	srv := httptest.NewServer(rt)
	t.Cleanup(func() {
		rt.Close()
		srv.Close()
	})
	return &harness{
		url:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		rt:    rt,
		reg:   reg,
		store: store,
	}
}

// frame is an outbound server event with its payload left raw.
type frame struct {
	Event string          `json:"event"`
	Ack   *int64          `json:"ack"`
	Data  json.RawMessage `json:"data"`
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	emitAck(t, conn, event, 0, data)
}

func emitAck(t *testing.T, conn *websocket.Conn, event string, ack int64, data any) {
	t.Helper()
	msg := map[string]any{"event": event, "data": data}
	if ack != 0 {
		msg["ack"] = ack
	}
	require.NoError(t, conn.WriteJSON(msg))
}

func next(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// expect reads the next frame and requires it to be event.
func expect(t *testing.T, conn *websocket.Conn, event string, into any) {
	t.Helper()
	f := next(t, conn)
	require.Equal(t, event, f.Event, "payload: %s", f.Data)
	if into != nil {
		require.NoError(t, json.Unmarshal(f.Data, into))
	}
}

// barrier round-trips a checkTrip so every earlier frame from conn has been
// handled, and requires that conn was sent nothing in the meantime.
func barrier(t *testing.T, conn *websocket.Conn, tripID string) {
	t.Helper()
	emitAck(t, conn, "checkTrip", 99, map[string]string{"tripId": tripID})
	f := next(t, conn)
	require.Equal(t, "ack", f.Event, "unexpected frame: %s", f.Data)
	require.NotNil(t, f.Ack)
	require.Equal(t, int64(99), *f.Ack)
}

// join joins tripID with a destination and drains the three state events.
func join(t *testing.T, conn *websocket.Conn, tripID, username string) (items []domain.Item, markers []domain.Marker, view domain.MapView) {
	t.Helper()
	emit(t, conn, "joinTrip", map[string]string{
		"tripId":             tripID,
		"username":           username,
		"destinationCity":    "Paris",
		"destinationCountry": "France",
	})
	expect(t, conn, "updateItinerary", &items)
	expect(t, conn, "updateMarkers", &markers)
	expect(t, conn, "centerMap", &view)
	return items, markers, view
}

func errorText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	var msg string
	expect(t, conn, "error", &msg)
	return msg
}

// ---- joinTrip / checkTrip ----------------------------------------------------

func TestCheckTrip_AcksExistence(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	emitAck(t, conn, "checkTrip", 1, map[string]string{"tripId": "paris-2026"})
	f := next(t, conn)
	require.Equal(t, "ack", f.Event)
	require.NotNil(t, f.Ack)
	assert.Equal(t, int64(1), *f.Ack)
	assert.JSONEq(t, `{"exists":false}`, string(f.Data))

	join(t, conn, "paris-2026", "alice")

	emitAck(t, conn, "checkTrip", 2, map[string]string{"tripId": "paris-2026"})
	f = next(t, conn)
	assert.JSONEq(t, `{"exists":true}`, string(f.Data))
}

func TestJoinTrip_CreatesTripWithDefaultView(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	items, markers, view := join(t, conn, "paris-2026", "alice")

	assert.Empty(t, items)
	assert.Empty(t, markers)
	assert.Equal(t, float64(11), view.Zoom)
	assert.Len(t, h.reg.MembersOf("paris-2026"), 1)
}

func TestJoinTrip_MissingDestination(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	emit(t, conn, "joinTrip", map[string]string{"tripId": "nowhere", "destinationCity": "Paris"})

	assert.Equal(t, "destination city and country are required to create a trip", errorText(t, conn))
	exists, err := h.store.Exists(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, h.reg.MembersOf("nowhere"))
}

func TestJoinTrip_ExistingTripIgnoresDestination(t *testing.T) {
	h := newHarness(t)
	first := h.dial(t)
	_, _, created := join(t, first, "paris-2026", "alice")

	second := h.dial(t)
	emit(t, second, "joinTrip", map[string]string{
		"tripId":             "paris-2026",
		"destinationCity":    "Rome",
		"destinationCountry": "Italy",
	})
	expect(t, second, "updateItinerary", nil)
	expect(t, second, "updateMarkers", nil)
	var view domain.MapView
	expect(t, second, "centerMap", &view)

	assert.Equal(t, created, view)
	trip, err := h.store.Get(context.Background(), "paris-2026")
	require.NoError(t, err)
	assert.Equal(t, "Paris", trip.Destination.City)
}

func TestJoinTrip_BareTripID(t *testing.T) {
	h := newHarness(t)
	join(t, h.dial(t), "paris-2026", "alice")

	conn := h.dial(t)
	emit(t, conn, "joinTrip", "paris-2026")

	expect(t, conn, "updateItinerary", nil)
	expect(t, conn, "updateMarkers", nil)
	expect(t, conn, "centerMap", nil)
	assert.Len(t, h.reg.MembersOf("paris-2026"), 2)
}

func TestJoinTrip_FailedJoinKeepsRoom(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	join(t, conn, "paris-2026", "alice")

	emit(t, conn, "joinTrip", map[string]string{"tripId": "nowhere"})
	errorText(t, conn)

	assert.Len(t, h.reg.MembersOf("paris-2026"), 1)
}

func TestJoinTrip_SwitchesRooms(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	join(t, conn, "paris-2026", "alice")
	join(t, conn, "lyon-2026", "")

	assert.Empty(t, h.reg.MembersOf("paris-2026"))
	assert.Len(t, h.reg.MembersOf("lyon-2026"), 1)
}

// ---- addItem / voteItem ------------------------------------------------------

func TestAddItemThenVote(t *testing.T) {
	h := newHarness(t)
	a := h.dial(t)
	b := h.dial(t)
	join(t, a, "paris-2026", "alice")
	join(t, b, "paris-2026", "bob")

	emit(t, a, "addItem", map[string]string{"tripId": "paris-2026", "item": "Eiffel Tower"})
	for _, conn := range []*websocket.Conn{a, b} {
		var items []domain.Item
		expect(t, conn, "updateItinerary", &items)
		assert.Equal(t, []domain.Item{{Name: "Eiffel Tower"}}, items)
	}

	emit(t, b, "voteItem", map[string]string{"tripId": "paris-2026", "itemName": "Eiffel Tower", "vote": "upvote"})
	for _, conn := range []*websocket.Conn{a, b} {
		var got domain.ItemVote
		expect(t, conn, "updateVotes", &got)
		assert.Equal(t, "Eiffel Tower", got.Name)
		assert.Equal(t, 1, got.Upvotes)
		assert.Equal(t, 0, got.Downvotes)
		assert.Equal(t, 0, got.Index)
		assert.Positive(t, got.Revision)
	}

	emit(t, a, "addItem", map[string]string{"tripId": "paris-2026", "item": "Eiffel Tower"})
	var items []domain.Item
	expect(t, a, "updateItinerary", &items)
	assert.Equal(t, []domain.Item{
		{Name: "Eiffel Tower", Upvotes: 1},
		{Name: "Eiffel Tower"},
	}, items)
}

func TestAddItem_RequiresMembership(t *testing.T) {
	h := newHarness(t)
	join(t, h.dial(t), "paris-2026", "alice")

	outsider := h.dial(t)
	emit(t, outsider, "addItem", map[string]string{"tripId": "paris-2026", "item": "Louvre"})

	assert.Equal(t, "join the trip first", errorText(t, outsider))
}

func TestAddItem_EmptyName(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	join(t, conn, "paris-2026", "alice")

	emit(t, conn, "addItem", map[string]string{"tripId": "paris-2026", "item": "  "})

	assert.Equal(t, "item name is required", errorText(t, conn))
}

func TestVoteItem_Errors(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	join(t, conn, "paris-2026", "alice")

	emit(t, conn, "voteItem", map[string]string{"tripId": "paris-2026", "itemName": "Louvre", "vote": "upvote"})
	assert.Equal(t, "item not found", errorText(t, conn))

	emit(t, conn, "voteItem", map[string]string{"tripId": "paris-2026", "itemName": "Louvre", "vote": "sideways"})
	assert.Contains(t, errorText(t, conn), "vote")

	emit(t, conn, "voteItem", map[string]string{"tripId": "missing", "itemName": "Louvre", "vote": "downvote"})
	assert.Equal(t, "trip not found", errorText(t, conn))
}

func TestVoteItem_IndexPicksDuplicate(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	join(t, conn, "paris-2026", "alice")
	for i := 0; i < 2; i++ {
		emit(t, conn, "addItem", map[string]string{"tripId": "paris-2026", "item": "Eiffel Tower"})
		expect(t, conn, "updateItinerary", nil)
	}

	emit(t, conn, "voteItem", map[string]any{"tripId": "paris-2026", "itemName": "Eiffel Tower", "index": 1, "vote": "upvote"})
	var got domain.ItemVote
	expect(t, conn, "updateVotes", &got)
	assert.Equal(t, 1, got.Index)
	assert.Equal(t, 1, got.Upvotes)

	trip, err := h.store.Get(context.Background(), "paris-2026")
	require.NoError(t, err)
	assert.Equal(t, []domain.Item{
		{Name: "Eiffel Tower"},
		{Name: "Eiffel Tower", Upvotes: 1},
	}, trip.Itinerary)

	emit(t, conn, "voteItem", map[string]any{"tripId": "paris-2026", "itemName": "Louvre", "index": 0, "vote": "upvote"})
	assert.Equal(t, "item not found", errorText(t, conn))

	emit(t, conn, "voteItem", map[string]any{"tripId": "paris-2026", "itemName": "Eiffel Tower", "index": -1, "vote": "upvote"})
	assert.Equal(t, "index must not be negative", errorText(t, conn))
}

// TestVoteItem_ConcurrentUpvotes sends votes from many connections at once and
// checks that none of the increments is lost.
func TestVoteItem_ConcurrentUpvotes(t *testing.T) {
	const (
		voters        = 5
		votesPerVoter = 10
	)
	h := newHarness(t)
	owner := h.dial(t)
	join(t, owner, "paris-2026", "alice")
	emit(t, owner, "addItem", map[string]string{"tripId": "paris-2026", "item": "Louvre"})
	expect(t, owner, "updateItinerary", nil)

	conns := make([]*websocket.Conn, voters)
	for i := range conns {
		conns[i] = h.dial(t)
	}

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(conn *websocket.Conn) {
			defer wg.Done()
			for j := 0; j < votesPerVoter; j++ {
				if err := conn.WriteJSON(map[string]any{
					"event": "voteItem",
					"data":  map[string]string{"tripId": "paris-2026", "itemName": "Louvre", "vote": "upvote"},
				}); err != nil {
					return
				}
			}
		}(conn)
	}
	wg.Wait()
	for _, conn := range conns {
		barrier(t, conn, "paris-2026")
	}

	trip, err := h.store.Get(context.Background(), "paris-2026")
	require.NoError(t, err)
	require.Len(t, trip.Itinerary, 1)
	assert.Equal(t, voters*votesPerVoter, trip.Itinerary[0].Upvotes)
	assert.Equal(t, 0, trip.Itinerary[0].Downvotes)
}

// ---- addMarker / saveMapCenter -----------------------------------------------

func TestAddMarker_RoundTripOnFreshJoin(t *testing.T) {
	h := newHarness(t)
	a := h.dial(t)
	join(t, a, "paris-2026", "alice")

	emit(t, a, "addMarker", map[string]any{"tripId": "paris-2026", "lat": 48.8584, "lng": 2.2945, "description": "Eiffel Tower"})
	var markers []domain.Marker
	expect(t, a, "updateMarkers", &markers)
	require.Len(t, markers, 1)

	b := h.dial(t)
	_, joined, _ := join(t, b, "paris-2026", "bob")

	require.Len(t, joined, 1)
	assert.Equal(t, 48.8584, joined[0].Lat)
	assert.Equal(t, 2.2945, joined[0].Lng)
	require.NotNil(t, joined[0].Description)
	assert.Equal(t, "Eiffel Tower", *joined[0].Description)
}

func TestAddMarker_RequiresCoordinates(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	join(t, conn, "paris-2026", "alice")

	emit(t, conn, "addMarker", map[string]any{"tripId": "paris-2026", "lat": 48.8})
	assert.Equal(t, "lat and lng are required", errorText(t, conn))

	emit(t, conn, "addMarker", map[string]any{"tripId": "paris-2026", "lat": "north", "lng": 2})
	assert.Equal(t, "malformed addMarker payload", errorText(t, conn))
}

func TestSaveMapCenter_SeenByLaterJoinOnly(t *testing.T) {
	h := newHarness(t)
	a := h.dial(t)
	join(t, a, "paris-2026", "alice")

	emit(t, a, "saveMapCenter", map[string]any{"tripId": "paris-2026", "lat": 48.86, "lng": 2.35, "zoom": 14})
	barrier(t, a, "paris-2026")

	b := h.dial(t)
	_, _, view := join(t, b, "paris-2026", "bob")
	assert.Equal(t, domain.MapView{Lat: 48.86, Lng: 2.35, Zoom: 14}, view)
}

func TestSaveMapCenter_InvalidIsIgnored(t *testing.T) {
	h := newHarness(t)
	a := h.dial(t)
	_, _, before := join(t, a, "paris-2026", "alice")

	emit(t, a, "saveMapCenter", map[string]any{"tripId": "paris-2026", "lat": 95, "lng": 2.35, "zoom": 14})
	emit(t, a, "saveMapCenter", map[string]any{"tripId": "paris-2026", "lat": 48})
	barrier(t, a, "paris-2026")

	trip, err := h.store.Get(context.Background(), "paris-2026")
	require.NoError(t, err)
	assert.Equal(t, before, trip.View)
}

// ---- sendMessage -------------------------------------------------------------

func TestSendMessage_ReachesOnlyTheRoom(t *testing.T) {
	h := newHarness(t)
	a, b, c := h.dial(t), h.dial(t), h.dial(t)
	join(t, a, "paris-2026", "alice")
	join(t, b, "paris-2026", "bob")
	join(t, c, "lyon-2026", "carol")

	emit(t, a, "sendMessage", map[string]string{"tripId": "paris-2026", "username": "mallory", "message": "bonjour"})

	for _, conn := range []*websocket.Conn{a, b} {
		var msg struct{ Username, Message string }
		expect(t, conn, "receiveMessage", &msg)
		assert.Equal(t, "alice", msg.Username, "the name recorded at join wins")
		assert.Equal(t, "bonjour", msg.Message)
	}
	barrier(t, c, "lyon-2026")
}

func TestSendMessage_AnonymousUsesSentName(t *testing.T) {
	h := newHarness(t)
	a := h.dial(t)
	join(t, a, "paris-2026", "")

	emit(t, a, "sendMessage", map[string]string{"tripId": "paris-2026", "username": "dave", "message": "hi"})

	var msg struct{ Username, Message string }
	expect(t, a, "receiveMessage", &msg)
	assert.Equal(t, "dave", msg.Username)
}

func TestSendMessage_DroppedOutsideRoom(t *testing.T) {
	h := newHarness(t)
	member := h.dial(t)
	join(t, member, "paris-2026", "alice")
	outsider := h.dial(t)

	emit(t, outsider, "sendMessage", map[string]string{"tripId": "paris-2026", "message": "hi"})
	emit(t, member, "sendMessage", map[string]string{"tripId": "paris-2026", "message": "   "})

	barrier(t, outsider, "paris-2026")
	barrier(t, member, "paris-2026")
}

// ---- lifecycle ---------------------------------------------------------------

func TestDisconnect_RemovesFromRoom(t *testing.T) {
	h := newHarness(t)
	a, b := h.dial(t), h.dial(t)
	join(t, a, "paris-2026", "alice")
	join(t, b, "paris-2026", "bob")

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool {
		return len(h.reg.MembersOf("paris-2026")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	emit(t, a, "sendMessage", map[string]string{"tripId": "paris-2026", "message": "still here?"})
	expect(t, a, "receiveMessage", nil)
	assert.Equal(t, 1, h.reg.Connections())
}

func TestUnknownEventAndMalformedFrame(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	emit(t, conn, "teleport", nil)
	assert.Equal(t, `unknown event "teleport"`, errorText(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "malformed message", errorText(t, conn))
}

func TestOriginCheck(t *testing.T) {
	h := newHarness(t)

	_, resp, err := websocket.DefaultDialer.Dial(h.url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(h.url, http.Header{"Origin": {"http://localhost:5173"}})
	require.NoError(t, err)
	_ = conn.Close()
}

func TestClose_DisconnectsClients(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	join(t, conn, "paris-2026", "alice")

	h.rt.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	require.Eventually(t, func() bool { return h.reg.Connections() == 0 }, 5*time.Second, 10*time.Millisecond)
}

// ---- write ordering ----------------------------------------------------------

// heldTrips parks AddItem for one item name until release is called.
// With afterWrite the item is stored before the call parks, so the store has
// acknowledged it but nothing has been broadcast yet.
type heldTrips struct {
	*service.TripService
	name       string
	afterWrite bool
	parked     chan struct{}
	released   chan struct{}
	once       sync.Once
}

func newHeldTrips(t *testing.T, store repo.TripStore, name string, afterWrite bool) *heldTrips {
	h := &heldTrips{
		TripService: service.NewTripService(store),
		name:        name,
		afterWrite:  afterWrite,
		parked:      make(chan struct{}),
		released:    make(chan struct{}),
	}
	t.Cleanup(h.release)
	return h
}

func (h *heldTrips) release() { h.once.Do(func() { close(h.released) }) }

func (h *heldTrips) AddItem(ctx context.Context, tripID, name string) ([]domain.Item, int64, error) {
	if name != h.name {
		return h.TripService.AddItem(ctx, tripID, name)
	}
	if h.afterWrite {
		items, rev, err := h.TripService.AddItem(ctx, tripID, name)
		close(h.parked)
		<-h.released
		return items, rev, err
	}
	close(h.parked)
	<-h.released
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	return h.TripService.AddItem(ctx, tripID, name)
}

func waitParked(t *testing.T, h *heldTrips) {
	t.Helper()
	select {
	case <-h.parked:
	case <-time.After(5 * time.Second):
		t.Fatal("AddItem was never called")
	}
}

// TestAddItem_OlderItineraryNeverFollowsNewer acknowledges one write in the
// store, lets a second write broadcast first and then releases the first.
// Its itinerary is older than the one already delivered and must not arrive.
func TestAddItem_OlderItineraryNeverFollowsNewer(t *testing.T) {
	store := repo.NewMemoryTripStore()
	trips := newHeldTrips(t, store, "Louvre", true)
	h := newHarnessWith(t, trips, store)
	observer, slow, fast := h.dial(t), h.dial(t), h.dial(t)
	join(t, observer, "paris-2026", "olivia")
	join(t, slow, "paris-2026", "sam")
	join(t, fast, "paris-2026", "fiona")

	emit(t, slow, "addItem", map[string]string{"tripId": "paris-2026", "item": "Louvre"})
	waitParked(t, trips)
	emit(t, fast, "addItem", map[string]string{"tripId": "paris-2026", "item": "Eiffel Tower"})

	want := []domain.Item{{Name: "Louvre"}, {Name: "Eiffel Tower"}}
	for _, conn := range []*websocket.Conn{observer, slow, fast} {
		var items []domain.Item
		expect(t, conn, "updateItinerary", &items)
		assert.Equal(t, want, items)
	}

	trips.release()
	// slow handles the barrier only after its addItem has returned and fanned out.
	barrier(t, slow, "paris-2026")
	barrier(t, observer, "paris-2026")
	barrier(t, fast, "paris-2026")

	trip, err := h.store.Get(context.Background(), "paris-2026")
	require.NoError(t, err)
	assert.Equal(t, want, trip.Itinerary)
}

// TestJoinTrip_SnapshotSupersedesOlderBroadcast joins while a write is
// stored but not yet broadcast. The joiner's snapshot already holds that
// write, so the broadcast is not sent to it again.
func TestJoinTrip_SnapshotSupersedesOlderBroadcast(t *testing.T) {
	store := repo.NewMemoryTripStore()
	trips := newHeldTrips(t, store, "Louvre", true)
	h := newHarnessWith(t, trips, store)
	writer := h.dial(t)
	join(t, writer, "paris-2026", "alice")

	emit(t, writer, "addItem", map[string]string{"tripId": "paris-2026", "item": "Louvre"})
	waitParked(t, trips)

	late := h.dial(t)
	items, _, _ := join(t, late, "paris-2026", "bob")
	assert.Equal(t, []domain.Item{{Name: "Louvre"}}, items)

	trips.release()
	expect(t, writer, "updateItinerary", nil)
	barrier(t, writer, "paris-2026")
	barrier(t, late, "paris-2026")
}

// TestAddItem_CompletesAfterInitiatorDisconnects closes the initiating socket
// while its write is in flight. The write still lands and the rest of the
// room still hears about it.
func TestAddItem_CompletesAfterInitiatorDisconnects(t *testing.T) {
	store := repo.NewMemoryTripStore()
	trips := newHeldTrips(t, store, "Louvre", false)
	h := newHarnessWith(t, trips, store)
	initiator, member := h.dial(t), h.dial(t)
	join(t, initiator, "paris-2026", "alice")
	join(t, member, "paris-2026", "bob")

	emit(t, initiator, "addItem", map[string]string{"tripId": "paris-2026", "item": "Louvre"})
	waitParked(t, trips)
	require.NoError(t, initiator.Close())
	trips.release()

	var items []domain.Item
	expect(t, member, "updateItinerary", &items)
	assert.Equal(t, []domain.Item{{Name: "Louvre"}}, items)
	barrier(t, member, "paris-2026")

	require.Eventually(t, func() bool {
		return len(h.reg.MembersOf("paris-2026")) == 1
	}, 5*time.Second, 10*time.Millisecond)
	trip, err := h.store.Get(context.Background(), "paris-2026")
	require.NoError(t, err)
	assert.Equal(t, []domain.Item{{Name: "Louvre"}}, trip.Itinerary)
}

// ---- storage failures --------------------------------------------------------

// brokenStore fails every call, as an unreachable backing store would.
type brokenStore struct{ repo.TripStore }

var errStoreDown = errors.New("connection refused")

func (brokenStore) Exists(context.Context, string) (bool, error) { return false, errStoreDown }
func (brokenStore) Get(context.Context, string) (domain.Trip, error) {
	return domain.Trip{}, errStoreDown
}
func (brokenStore) Vote(context.Context, string, domain.ItemRef, domain.VoteDirection) (domain.ItemVote, error) {
	return domain.ItemVote{}, errStoreDown
}

func TestStorageError_ReportedGenericallyToInitiator(t *testing.T) {
	store := brokenStore{}
	h := newHarnessWith(t, service.NewTripService(store), store)
	conn := h.dial(t)

	emitAck(t, conn, "checkTrip", 1, map[string]string{"tripId": "paris-2026"})
	assert.Equal(t, "something went wrong, please try again", errorText(t, conn))

	emit(t, conn, "joinTrip", map[string]string{"tripId": "paris-2026"})
	assert.Equal(t, "something went wrong, please try again", errorText(t, conn))

	emit(t, conn, "voteItem", map[string]string{"tripId": "paris-2026", "itemName": "x", "vote": "up"})
	msg := errorText(t, conn)
	assert.NotContains(t, msg, errStoreDown.Error())
}
