package sseclient

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// Event is one decoded Server-Sent Event.
type Event struct {
	// ID is the last event id in effect when the event was dispatched.
	// Per the SSE processing model the id is sticky: once the server sets
	// it, later events without an id line carry it too.
	ID string

	// Type is the event name; empty for unnamed events.
	Type string

	// Data is the event body, with the trailing newline of multi-line data
	// removed.
	Data []byte
}

// eventReader decodes a text/event-stream body into events, following the
// WHATWG dispatch rules: fields accumulate until a blank line, comment lines
// are ignored, and an event without data is not dispatched.
type eventReader struct {
	scanner *bufio.Scanner

	// lastID tracks the last event id across dispatches. An id line takes
	// effect when processed, even when its block carries no data.
	lastID string

	// onRetry receives the server-suggested reconnection time from retry
	// lines; may be nil.
	onRetry func(time.Duration)
}

func newEventReader(r io.Reader, onRetry func(time.Duration)) *eventReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	return &eventReader{scanner: scanner, onRetry: onRetry}
}

// Next blocks until a complete event is available or the stream ends.
// It returns io.EOF on orderly stream end.
func (r *eventReader) Next() (Event, error) {
	var (
		ev      Event
		data    strings.Builder
		hasData bool
	)

	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if hasData {
				ev.ID = r.lastID
				ev.Data = []byte(strings.TrimSuffix(data.String(), "\n"))
				return ev, nil
			}
			// Blank line without data resets the pending event. Any id
			// already processed stays in effect for later events.
			ev = Event{}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue // comment / keep-alive
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			ev.Type = value
		case "id":
			// A NUL in the id is ignored per the SSE processing model.
			if !strings.ContainsRune(value, 0) {
				r.lastID = value
			}
		case "data":
			data.WriteString(value)
			data.WriteString("\n")
			hasData = true
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 && r.onRetry != nil {
				r.onRetry(time.Duration(ms) * time.Millisecond)
			}
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}
