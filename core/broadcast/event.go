package broadcast

import (
	"encoding/json"
	"time"
)

// Reserved event types emitted by the broadcaster itself. Application event
// types are opaque strings; the broadcaster never branches on them.
const (
	// EventTypeConnected is the first event a new subscription sees. Its
	// payload carries the assigned client id.
	EventTypeConnected = "connected"

	// EventTypeDisconnect is the terminal event delivered best-effort to
	// every live connection during Close.
	EventTypeDisconnect = "disconnect"
)

// Event is an immutable record of a single state change published to a topic.
//
// ID is a per-topic monotonically increasing sequence number assigned at
// publish time, so relative ordering of two events on the same topic can be
// recovered by integer comparison. IDs are not comparable across topics.
type Event struct {
	ID        uint64          `json:"id"`
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// After reports whether e was published after the event with the given id
// on the same topic.
func (e Event) After(id uint64) bool {
	return e.ID > id
}
