package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/liveq/pkg/ratelimiter"
)

// Default broadcaster parameters.
const (
	DefaultConnectionLimit = 50
	DefaultHistorySize     = 1000
	DefaultQueueSize       = 64
	DefaultDeliveryTimeout = 5 * time.Second
	DefaultMaxIdle         = 5 * time.Minute
)

// Broadcaster is the single entry point for publishing events to topics and
// managing subscriber connections. It composes the connection registry, the
// per-topic event history and an optional per-connection rate limiter behind
// one mutex, so publish, subscribe and sweep operations on the same topic
// are linearized.
//
// Publish is fire-and-forget with respect to delivery: it returns only the
// Event it created and silently repairs the connection set as a side effect
// (dead and slow subscribers are removed during fanout). The caller never
// learns whether any subscriber received the event.
type Broadcaster struct {
	mu       sync.RWMutex
	registry *registry
	history  *history
	closed   bool

	limiter         *ratelimiter.Limiter
	limiterDisabled bool

	connectionLimit int
	historySize     int
	queueSize       int
	deliveryTimeout time.Duration
	logger          *slog.Logger

	// Observability metrics
	published        atomic.Int64
	rateLimited      atomic.Int64
	slowDropped      atomic.Int64
	deliveryFailures atomic.Int64
	idleSwept        atomic.Int64
}

// Stats provides observability metrics for monitoring and debugging.
type Stats struct {
	ActiveTopics      int   // Topics with at least one live connection
	ActiveConnections int   // Total live connections across all topics
	EventsPublished   int64 // Events accepted by Publish
	EventsRateLimited int64 // Per-connection live sends skipped by the limiter
	SlowDropped       int64 // Connections removed for a full outbound queue
	DeliveryFailures  int64 // Connections removed for a failed or timed-out send
	IdleSwept         int64 // Connections removed by SweepIdle
}

// New creates a Broadcaster with the given options. Unless overridden, a
// fixed-window rate limiter with default configuration guards each
// connection's live delivery.
func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		connectionLimit: DefaultConnectionLimit,
		historySize:     DefaultHistorySize,
		queueSize:       DefaultQueueSize,
		deliveryTimeout: DefaultDeliveryTimeout,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.limiter == nil && !b.limiterDisabled {
		// Config is static and valid, the error path is unreachable.
		b.limiter, _ = ratelimiter.New(ratelimiter.NewMemoryStore(), ratelimiter.DefaultConfig())
	}

	b.registry = newRegistry(b.connectionLimit)
	b.history = newHistory(b.historySize)

	return b
}

// Subscribe registers a new connection for the topic and starts delivering
// events into the sink. An empty clientID gets a server-generated one,
// readable via Subscription.ClientID.
//
// With WithLastEventID, every history entry ordered strictly after the given
// id is queued for delivery before any live event, exactly once each.
// Subscribing again with a clientID already connected to the topic replaces
// the previous connection.
//
// Returns ErrCapacityExceeded when the topic is at its connection limit;
// that is a capacity-control signal for the transport to translate into a
// rejection response, not a fault.
func (b *Broadcaster) Subscribe(ctx context.Context, topic, clientID string, sink Sink, opts ...SubscribeOption) (*Subscription, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if sink == nil {
		return nil, ErrNilSink
	}

	var cfg subscribeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if clientID == "" {
		clientID = uuid.NewString()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBroadcasterClosed
	}

	replaced := b.registry.get(topic, clientID)
	if replaced == nil && b.registry.count(topic) >= b.connectionLimit {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: topic %q", ErrCapacityExceeded, topic)
	}

	var replay []Event
	if cfg.hasLastEventID {
		replay = b.history.after(topic, cfg.lastEventID)
	}

	now := time.Now()
	// The queue is sized to hold the full replay plus live headroom, so the
	// pump delivers replayed events first without any risk of overflow.
	sub := newSubscription(topic, clientID, sink, b.queueSize+len(replay), now)
	for _, e := range replay {
		sub.queue <- e
	}

	if replaced != nil {
		// Ignore the emptied signal: the topic is re-populated within the
		// same critical section, so history must survive the swap.
		b.registry.remove(topic, clientID)
	}
	if err := b.registry.add(sub); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	b.mu.Unlock()

	if replaced != nil {
		replaced.close()
	}
	go sub.pump(b)

	b.logger.DebugContext(ctx, "subscriber added",
		slog.String("topic", topic),
		slog.String("client_id", clientID),
		slog.Int("replayed_events", len(replay)))

	return sub, nil
}

// Publish records a new event for the topic and fans it out to every live
// connection, in publish order per connection. Delivery status is never
// reported back: rate-limited connections are silently skipped for this one
// event, and connections whose queue is full are removed.
//
// An event published to a topic with no connections is assigned a fresh id
// and returned but not recorded: nobody is connected, so nobody can ever
// resume from before it. The id sequence itself always moves forward.
func (b *Broadcaster) Publish(ctx context.Context, topic, eventType string, payload any) (Event, error) {
	if topic == "" {
		return Event{}, ErrEmptyTopic
	}
	if eventType == "" {
		return Event{}, ErrEmptyEventType
	}

	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %s", ErrInvalidPayload, err)
		}
		data = raw
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Event{}, ErrBroadcasterClosed
	}

	now := time.Now()
	subs := b.registry.list(topic)
	if len(subs) == 0 {
		// The id sequence still advances so the event is a real, unique
		// point in the topic's order; only the buffering is skipped.
		e := Event{ID: b.history.advance(topic), Type: eventType, Topic: topic, Payload: data, Timestamp: now}
		b.mu.Unlock()
		b.published.Add(1)
		return e, nil
	}

	e := b.history.append(topic, eventType, data, now)

	var dead []*Subscription
	for _, sub := range subs {
		if b.limiter != nil {
			res, err := b.limiter.Allow(ctx, sub.limitKey())
			if err == nil && !res.Allowed() {
				// Skipped for this connection only; the event stays in
				// history, so a later reconnect replays it.
				b.rateLimited.Add(1)
				continue
			}
		}
		if !sub.enqueue(e) {
			dead = append(dead, sub)
		}
	}
	for _, sub := range dead {
		if _, emptied := b.registry.remove(sub.topic, sub.clientID); emptied {
			b.history.drop(sub.topic)
		}
	}
	b.mu.Unlock()

	for _, sub := range dead {
		sub.close()
		b.slowDropped.Add(1)
		b.resetLimit(sub)
		b.logger.WarnContext(ctx, "dropped slow subscriber",
			slog.String("topic", sub.topic),
			slog.String("client_id", sub.clientID))
	}

	b.published.Add(1)
	return e, nil
}

// Unsubscribe removes the connection and its rate counter. It is idempotent;
// removing an unknown connection is a no-op. When the last connection leaves
// a topic, the topic's history is cleared as well.
func (b *Broadcaster) Unsubscribe(topic, clientID string) {
	b.mu.Lock()
	sub, emptied := b.registry.remove(topic, clientID)
	if emptied {
		b.history.drop(topic)
	}
	b.mu.Unlock()

	if sub == nil {
		return
	}
	sub.close()
	b.resetLimit(sub)

	b.logger.Debug("subscriber removed",
		slog.String("topic", topic),
		slog.String("client_id", clientID))
}

// dropConnection is the removal path for failed delivery, shared with the
// subscription pump.
func (b *Broadcaster) dropConnection(topic, clientID, reason string, err error) {
	b.mu.Lock()
	sub, emptied := b.registry.remove(topic, clientID)
	if emptied {
		b.history.drop(topic)
	}
	b.mu.Unlock()

	if sub == nil {
		return
	}
	sub.close()
	b.deliveryFailures.Add(1)
	b.resetLimit(sub)

	b.logger.Warn("subscriber dropped",
		slog.String("topic", topic),
		slog.String("client_id", clientID),
		slog.String("reason", reason),
		slog.Any("error", err))
}

// Touch updates the connection's last-activity time. Transports call it on
// every successful heartbeat; the broadcaster calls it after each delivered
// event. Returns false when the connection is unknown.
func (b *Broadcaster) Touch(topic, clientID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registry.touch(topic, clientID, time.Now())
}

// SweepIdle removes every connection whose last activity is older than
// maxIdle as of now, closing its sink, and clears history for topics left
// empty. It returns the number of removed connections.
//
// The broadcaster owns no timer; callers decide the cadence, either directly
// or through a Sweeper.
func (b *Broadcaster) SweepIdle(maxIdle time.Duration, now time.Time) int {
	b.mu.Lock()
	removed, emptied := b.registry.sweep(maxIdle, now)
	for _, topic := range emptied {
		b.history.drop(topic)
	}
	b.mu.Unlock()

	for _, sub := range removed {
		sub.close()
		b.resetLimit(sub)
		b.logger.Info("idle subscriber removed",
			slog.String("topic", sub.topic),
			slog.String("client_id", sub.clientID))
	}

	b.idleSwept.Add(int64(len(removed)))
	return len(removed)
}

// ActiveConnectionCount returns the number of live connections for a topic.
func (b *Broadcaster) ActiveConnectionCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.registry.count(topic)
}

// TotalConnectionCount returns the number of live connections across all
// topics.
func (b *Broadcaster) TotalConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.registry.total()
}

// HistorySize returns the number of recorded events for a topic.
func (b *Broadcaster) HistorySize(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.history.size(topic)
}

// Close shuts the broadcaster down: every live connection is notified with a
// terminal disconnect event, bounded by the delivery timeout, and all state
// is cleared. Subsequent calls return ErrBroadcasterClosed, as does any
// operation after Close.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBroadcasterClosed
	}
	b.closed = true
	subs := b.registry.drain()
	b.history.dropAll()
	b.mu.Unlock()

	now := time.Now()
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *Subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), b.deliveryTimeout)
			_ = s.sink.Send(ctx, Event{Type: EventTypeDisconnect, Topic: s.topic, Timestamp: now})
			cancel()
			s.close()
			b.resetLimit(s)
		}(sub)
	}
	wg.Wait()

	b.logger.Info("broadcaster closed", slog.Int("connections_notified", len(subs)))
	return nil
}

// Stats returns current broadcaster statistics for observability and
// monitoring. This method is thread-safe and can be called at any time.
func (b *Broadcaster) Stats() Stats {
	b.mu.RLock()
	topics := len(b.registry.topics)
	conns := b.registry.total()
	b.mu.RUnlock()

	return Stats{
		ActiveTopics:      topics,
		ActiveConnections: conns,
		EventsPublished:   b.published.Load(),
		EventsRateLimited: b.rateLimited.Load(),
		SlowDropped:       b.slowDropped.Load(),
		DeliveryFailures:  b.deliveryFailures.Load(),
		IdleSwept:         b.idleSwept.Load(),
	}
}

// Healthcheck validates that the broadcaster is operational.
func (b *Broadcaster) Healthcheck(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBroadcasterClosed
	}
	return nil
}

func (b *Broadcaster) resetLimit(sub *Subscription) {
	if b.limiter == nil {
		return
	}
	_ = b.limiter.Reset(context.Background(), sub.limitKey())
}
