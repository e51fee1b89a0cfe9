package session

import (
	"encoding/json"
	"log/slog"
)

// Message is the envelope of every server → client event.
// Ack is set only on replies to a request that asked for one.
//
// Stream and Revision are not sent. A message with a Stream replaces state
// the client got from earlier messages on the same stream, so a connection is
// never handed one whose Revision is not newer than the last it received on
// that stream for the same trip; such a message is dropped instead.
type Message struct {
	Event string `json:"event"`
	Ack   *int64 `json:"ack,omitempty"`
	Data  any    `json:"data,omitempty"`

	Stream   string `json:"-"`
	Revision int64  `json:"-"`
}

// Fanout delivers messages to a whole room or to a single connection.
type Fanout struct {
	reg *Registry
	log *slog.Logger
}

// NewFanout constructs a Fanout over reg.
func NewFanout(reg *Registry, log *slog.Logger) *Fanout {
	return &Fanout{reg: reg, log: log}
}

// Broadcast encodes msg once and delivers it to every member of tripID's
// room. It returns the number of connections the message was queued for.
// A member whose sink refuses the message is skipped; the room is not held up.
func (f *Fanout) Broadcast(tripID string, msg Message) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		f.log.Error("fanout: encode message", "event", msg.Event, "trip_id", tripID, "error", err)
		return 0
	}

	delivered := 0
	for _, e := range f.reg.entriesOf(tripID) {
		switch f.deliver(e, tripID, msg, payload) {
		case outcomeDelivered:
			delivered++
		case outcomeRefused:
			f.log.Warn("fanout: dropped message for slow connection",
				"event", msg.Event, "trip_id", tripID, "conn_id", e.ID)
		case outcomeStale:
			f.log.Debug("fanout: skipped stale message",
				"event", msg.Event, "trip_id", tripID, "conn_id", e.ID, "revision", msg.Revision)
		}
	}
	return delivered
}

// Send delivers msg privately to connID. It returns false when the
// connection is gone, its sink refused the message or the message is stale.
func (f *Fanout) Send(connID string, msg Message) bool {
	e, tripID, ok := f.reg.entryOf(connID)
	if !ok {
		return false
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		f.log.Error("fanout: encode message", "event", msg.Event, "conn_id", connID, "error", err)
		return false
	}
	switch f.deliver(e, tripID, msg, payload) {
	case outcomeDelivered:
		return true
	case outcomeRefused:
		f.log.Warn("fanout: dropped private message", "event", msg.Event, "conn_id", connID)
	}
	return false
}

// Prime sends connID the state of tripID returned by load. No ordered message
// reaches connID between the call to load and the delivery of its result, so
// updates newer than the snapshot always arrive after it and older ones are
// dropped. load runs without the registry lock held.
func (f *Fanout) Prime(connID, tripID string, load func() ([]Message, error)) error {
	e, _, ok := f.reg.entryOf(connID)
	if !ok {
		return ErrUnknownConnection
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	msgs, err := load()
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		payload, err := json.Marshal(msg)
		if err != nil {
			f.log.Error("fanout: encode message", "event", msg.Event, "conn_id", connID, "error", err)
			continue
		}
		if f.deliverLocked(e, tripID, msg, payload) == outcomeRefused {
			f.log.Warn("fanout: dropped private message", "event", msg.Event, "conn_id", connID)
		}
	}
	return nil
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeRefused
	outcomeStale
)

func (f *Fanout) deliver(e *entry, tripID string, msg Message, payload []byte) outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return f.deliverLocked(e, tripID, msg, payload)
}

// deliverLocked must be called with e.mu held. Sinks never block, so holding
// it across Deliver keeps ordered messages in revision order.
func (f *Fanout) deliverLocked(e *entry, tripID string, msg Message, payload []byte) outcome {
	if msg.Stream == "" {
		if e.sink.Deliver(payload) {
			return outcomeDelivered
		}
		return outcomeRefused
	}

	key := streamKey{tripID: tripID, stream: msg.Stream}
	if last, ok := e.seen[key]; ok && msg.Revision <= last {
		return outcomeStale
	}
	if !e.sink.Deliver(payload) {
		return outcomeRefused
	}
	if e.seen == nil {
		e.seen = make(map[streamKey]int64)
	}
	e.seen[key] = msg.Revision
	return outcomeDelivered
}
