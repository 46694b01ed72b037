package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrymomot/liveq/core/broadcast"
)

// SSE returns a Server-Sent Events endpoint streaming one topic of the
// broadcaster to each request. The topic comes from the request (query
// parameter by default), the resume position from the standard Last-Event-ID
// header or its query fallback.
//
// The first frame every subscriber sees is a `connected` event carrying the
// assigned client id. A keep-alive comment goes out on the heartbeat
// interval and refreshes the connection's activity timestamp, so idle
// sweeping only reclaims connections whose transport actually went away.
//
// A topic at its connection limit is rejected with 503.
func SSE(b *broadcast.Broadcaster, opts ...Option) http.Handler {
	cfg := newConfig(opts)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		topic := cfg.topicExtractor(r)
		if topic == "" {
			http.Error(w, "missing topic", http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		sink := newSSESink(w, flusher)

		subOpts := make([]broadcast.SubscribeOption, 0, 1)
		if id, ok := lastEventID(r, cfg.lastEventIDParam); ok {
			subOpts = append(subOpts, broadcast.WithLastEventID(id))
		}

		clientID := r.URL.Query().Get(cfg.clientIDParam)
		sub, err := b.Subscribe(r.Context(), topic, clientID, sink, subOpts...)
		if err != nil {
			if errors.Is(err, broadcast.ErrCapacityExceeded) {
				http.Error(w, "subscriber limit reached, try again later", http.StatusServiceUnavailable)
				return
			}
			cfg.logger.ErrorContext(r.Context(), "sse subscribe failed",
				slog.String("topic", topic), slog.Any("error", err))
			http.Error(w, "subscription failed", http.StatusInternalServerError)
			return
		}
		defer b.Unsubscribe(topic, sub.ClientID())

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		if cfg.reconnect > 0 {
			fmt.Fprintf(w, "retry: %d\n\n", cfg.reconnect)
		}

		connected := broadcast.Event{
			Type:      broadcast.EventTypeConnected,
			Topic:     topic,
			Payload:   clientIDPayload(sub.ClientID()),
			Timestamp: time.Now(),
		}
		if err := writeSSEEvent(w, connected); err != nil {
			return
		}
		flusher.Flush()

		// Replay and live events start flowing only now, after the wire
		// carries the connected frame.
		sink.activate()

		ticker := time.NewTicker(cfg.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-sub.Done():
				return
			case <-ticker.C:
				if err := sink.comment("keepalive"); err != nil {
					return
				}
				b.Touch(topic, sub.ClientID())
			}
		}
	})
}

// lastEventID resolves the resume position from the Last-Event-ID header,
// falling back to a query parameter for clients that cannot set headers.
// A malformed id is ignored rather than rejected: the subscriber still gets
// the live stream, just without replay.
func lastEventID(r *http.Request, param string) (uint64, bool) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get(param)
	}
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func clientIDPayload(clientID string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"client_id": clientID})
	return data
}

// writeSSEEvent writes one event as an SSE frame. The id line is omitted for
// broadcaster-internal events (id zero) so they never clobber the client's
// resume position.
func writeSSEEvent(w io.Writer, e broadcast.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", e.Type); err != nil {
		return err
	}
	if e.ID > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", e.ID); err != nil {
			return err
		}
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}

// sseSink adapts one SSE response to the broadcast.Sink contract. Writes are
// serialized between the delivery pump and the handler's heartbeat, and held
// back until the handler has put the connected frame on the wire.
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController

	ready  chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newSSESink(w http.ResponseWriter, flusher http.Flusher) *sseSink {
	return &sseSink{
		w:       w,
		flusher: flusher,
		rc:      http.NewResponseController(w),
		ready:   make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (s *sseSink) activate() {
	close(s.ready)
}

func (s *sseSink) Send(ctx context.Context, e broadcast.Event) error {
	select {
	case <-s.ready:
	case <-s.closed:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return ErrStreamClosed
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		// Best effort: not every ResponseWriter supports write deadlines.
		_ = s.rc.SetWriteDeadline(deadline)
		defer func() { _ = s.rc.SetWriteDeadline(time.Time{}) }()
	}

	if err := writeSSEEvent(s.w, e); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// comment writes a keep-alive comment line, invisible to SSE consumers.
func (s *sseSink) comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return ErrStreamClosed
	default:
	}

	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close marks the sink closed under the write mutex, so it blocks until any
// in-flight frame finishes. The handler must not return to net/http while
// the pump is still touching the ResponseWriter.
func (s *sseSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.once.Do(func() { close(s.closed) })
	return nil
}
