package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/liveq/core/broadcast"
)

// WebSocket returns a push-only WebSocket endpoint streaming one topic of
// the broadcaster to each connection, carrying the same JSON event envelope
// as the SSE endpoint. Incoming data messages are discarded; the read side
// exists for control frames.
//
// The server pings on the heartbeat interval and each pong refreshes the
// connection's activity timestamp. The resume position is taken from the
// last-event-id query parameter.
func WebSocket(b *broadcast.Broadcaster, opts ...Option) http.Handler {
	cfg := newConfig(opts)

	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if cfg.checkOrigin != nil {
		upgrader.CheckOrigin = cfg.checkOrigin
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		topic := cfg.topicExtractor(r)
		if topic == "" {
			http.Error(w, "missing topic", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the error response.
			cfg.logger.DebugContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))
			return
		}

		sink := newWSSink(conn)
		defer sink.Close()

		subOpts := make([]broadcast.SubscribeOption, 0, 1)
		if id, ok := lastEventID(r, cfg.lastEventIDParam); ok {
			subOpts = append(subOpts, broadcast.WithLastEventID(id))
		}

		clientID := r.URL.Query().Get(cfg.clientIDParam)
		sub, err := b.Subscribe(r.Context(), topic, clientID, sink, subOpts...)
		if err != nil {
			closeCode := websocket.CloseInternalServerErr
			if errors.Is(err, broadcast.ErrCapacityExceeded) {
				closeCode = websocket.CloseTryAgainLater
			}
			msg := websocket.FormatCloseMessage(closeCode, "subscription rejected")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
		defer b.Unsubscribe(topic, sub.ClientID())

		connected := broadcast.Event{
			Type:      broadcast.EventTypeConnected,
			Topic:     topic,
			Payload:   clientIDPayload(sub.ClientID()),
			Timestamp: time.Now(),
		}
		if err := sink.write(connected, time.Now().Add(time.Second)); err != nil {
			return
		}
		sink.activate()

		pongWait := 2 * cfg.heartbeat
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			b.Touch(topic, sub.ClientID())
			return nil
		})

		// The reader only services control frames and surfaces peer close.
		readErr := make(chan error, 1)
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					readErr <- err
					return
				}
			}
		}()

		ticker := time.NewTicker(cfg.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-sub.Done():
				return
			case <-readErr:
				return
			case <-ticker.C:
				// WriteControl is safe alongside the pump's data writes.
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					return
				}
			}
		}
	})
}

// wsSink adapts one WebSocket connection to the broadcast.Sink contract.
// Gorilla allows one data writer at a time, and the delivery pump is not the
// only one: broadcaster shutdown pushes the terminal disconnect event
// directly, so data writes are serialized with a mutex. Control frames
// (ping, close) are safe alongside and stay outside it.
type wsSink struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	ready  chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newWSSink(conn *websocket.Conn) *wsSink {
	return &wsSink{
		conn:   conn,
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (s *wsSink) activate() {
	close(s.ready)
}

func (s *wsSink) Send(ctx context.Context, e broadcast.Event) error {
	select {
	case <-s.ready:
	case <-s.closed:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(broadcast.DefaultDeliveryTimeout)
	}
	return s.write(e, deadline)
}

func (s *wsSink) write(e broadcast.Event, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return ErrStreamClosed
	default:
	}

	_ = s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteJSON(e)
}

// Close tears the connection down, which also unblocks the control-frame
// reader.
func (s *wsSink) Close() error {
	s.once.Do(func() { close(s.closed) })
	return s.conn.Close()
}
