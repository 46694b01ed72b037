package broadcast

import (
	"encoding/json"
	"time"
)

// topicHistory is a bounded FIFO buffer of the most recent events published
// to one topic, plus the topic's id sequence. The sequence outlives the
// buffer: dropping recorded events must never recycle an id, or a stale
// resume position would silently skip events published after the gap.
type topicHistory struct {
	seq    uint64
	events []Event
}

// history keeps a bounded per-topic buffer of published events for
// replay-on-reconnect. It is a plain struct: all access is serialized by the
// owning Broadcaster's mutex.
type history struct {
	maxSize int
	topics  map[string]*topicHistory
}

func newHistory(maxSize int) *history {
	return &history{
		maxSize: maxSize,
		topics:  make(map[string]*topicHistory),
	}
}

// advance consumes and returns the topic's next sequence id. Every published
// event goes through here, whether or not it is recorded, so ids on one
// topic are unique for the lifetime of the broadcaster.
func (h *history) advance(topic string) uint64 {
	th, ok := h.topics[topic]
	if !ok {
		th = &topicHistory{}
		h.topics[topic] = th
	}
	th.seq++
	return th.seq
}

// append assigns the topic's next sequence id to a new event and records it,
// evicting the oldest entry once the buffer is full.
func (h *history) append(topic, eventType string, payload json.RawMessage, now time.Time) Event {
	e := Event{
		ID:        h.advance(topic),
		Type:      eventType,
		Topic:     topic,
		Payload:   payload,
		Timestamp: now,
	}

	th := h.topics[topic]
	th.events = append(th.events, e)
	if len(th.events) > h.maxSize {
		// Re-slice after shifting so the backing array does not pin
		// evicted payloads.
		n := copy(th.events, th.events[1:])
		th.events[n] = Event{}
		th.events = th.events[:n]
	}

	return e
}

// after returns all recorded events for the topic ordered strictly after the
// given id, in publish order. The result is a copy and safe to retain.
func (h *history) after(topic string, id uint64) []Event {
	th, ok := h.topics[topic]
	if !ok || len(th.events) == 0 {
		return nil
	}

	// Events are stored in ascending id order; find the first survivor.
	i := 0
	for i < len(th.events) && !th.events[i].After(id) {
		i++
	}
	if i == len(th.events) {
		return nil
	}

	out := make([]Event, len(th.events)-i)
	copy(out, th.events[i:])
	return out
}

// drop discards the recorded events for a topic. The id sequence is kept so
// a subscriber resuming from before the drop never sees a reused id.
func (h *history) drop(topic string) {
	if th, ok := h.topics[topic]; ok {
		th.events = nil
	}
}

func (h *history) dropAll() {
	h.topics = make(map[string]*topicHistory)
}

// size returns the number of recorded events for a topic.
func (h *history) size(topic string) int {
	if th, ok := h.topics[topic]; ok {
		return len(th.events)
	}
	return 0
}
