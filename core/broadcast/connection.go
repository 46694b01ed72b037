package broadcast

import (
	"context"
	"sync"
	"time"
)

// Sink is the capability a transport hands to the broadcaster: push one
// event to the subscriber, which may fail or block. Send must respect the
// context deadline; a Send that errors or times out marks the connection
// dead. Close signals the transport that the connection has been removed and
// must be safe to call more than once.
type Sink interface {
	Send(ctx context.Context, event Event) error
	Close() error
}

// Subscription represents one live subscriber connection to a topic. It is
// created by Broadcaster.Subscribe and owns a buffered outbound queue drained
// by a single pump goroutine, which preserves per-connection delivery order
// while keeping fanout non-blocking for the publisher.
type Subscription struct {
	topic    string
	clientID string
	sink     Sink

	queue chan Event
	done  chan struct{}
	once  sync.Once

	connectedAt  time.Time
	lastActivity time.Time // guarded by the owning Broadcaster's mutex
}

func newSubscription(topic, clientID string, sink Sink, queueSize int, now time.Time) *Subscription {
	return &Subscription{
		topic:        topic,
		clientID:     clientID,
		sink:         sink,
		queue:        make(chan Event, queueSize),
		done:         make(chan struct{}),
		connectedAt:  now,
		lastActivity: now,
	}
}

// Topic returns the topic this subscription is attached to.
func (s *Subscription) Topic() string { return s.topic }

// ClientID returns the subscriber's client id. If the subscriber did not
// choose one, this is the server-generated id.
func (s *Subscription) ClientID() string { return s.clientID }

// ConnectedAt returns when the subscription was established.
func (s *Subscription) ConnectedAt() time.Time { return s.connectedAt }

// Done is closed when the subscription is removed, whether by Unsubscribe,
// delivery failure, idle sweep or broadcaster shutdown. Transports select on
// it alongside their request context.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// limitKey namespaces rate-limiter counters per connection. Client ids are
// not required to be unique across topics.
func (s *Subscription) limitKey() string {
	return s.topic + ":" + s.clientID
}

// enqueue attempts a non-blocking append to the outbound queue. A full queue
// means the consumer stopped draining; the caller treats the connection as
// dead.
func (s *Subscription) enqueue(e Event) bool {
	select {
	case <-s.done:
		return true // already closed, nothing to deliver
	default:
	}

	select {
	case s.queue <- e:
		return true
	default:
		return false
	}
}

// close releases the subscription exactly once: the pump stops and the sink
// is closed. Callers must already have removed it from the registry.
func (s *Subscription) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.sink.Close()
	})
}

// pump drains the outbound queue, pushing each event into the sink with a
// bounded wait. A failed or timed-out push removes the connection through
// the same path as an explicit unsubscribe.
func (s *Subscription) pump(b *Broadcaster) {
	for {
		select {
		case <-s.done:
			return
		case e := <-s.queue:
			ctx, cancel := context.WithTimeout(context.Background(), b.deliveryTimeout)
			err := s.sink.Send(ctx, e)
			cancel()
			if err != nil {
				b.dropConnection(s.topic, s.clientID, "delivery failed", err)
				return
			}
			b.Touch(s.topic, s.clientID)
		}
	}
}
