package broadcast

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/liveq/pkg/ratelimiter"
)

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithConnectionLimit caps the number of simultaneous connections per topic.
// Subscribing beyond the cap fails with ErrCapacityExceeded.
func WithConnectionLimit(limit int) Option {
	return func(b *Broadcaster) {
		if limit > 0 {
			b.connectionLimit = limit
		}
	}
}

// WithHistorySize sets how many recent events are kept per topic for
// replay-on-reconnect. Older events are evicted first.
func WithHistorySize(size int) Option {
	return func(b *Broadcaster) {
		if size > 0 {
			b.historySize = size
		}
	}
}

// WithQueueSize sets the live headroom of each connection's outbound queue.
// A connection whose queue fills up is considered dead and removed.
func WithQueueSize(size int) Option {
	return func(b *Broadcaster) {
		if size > 0 {
			b.queueSize = size
		}
	}
}

// WithDeliveryTimeout bounds a single sink send. A send that does not
// complete within the timeout removes the connection.
func WithDeliveryTimeout(timeout time.Duration) Option {
	return func(b *Broadcaster) {
		if timeout > 0 {
			b.deliveryTimeout = timeout
		}
	}
}

// WithRateLimiter replaces the default per-connection fixed-window limiter.
func WithRateLimiter(limiter *ratelimiter.Limiter) Option {
	return func(b *Broadcaster) {
		if limiter != nil {
			b.limiter = limiter
		}
	}
}

// WithoutRateLimiter disables per-connection rate limiting entirely.
func WithoutRateLimiter() Option {
	return func(b *Broadcaster) {
		b.limiter = nil
		b.limiterDisabled = true
	}
}

// WithLogger configures structured logging for broadcaster internals.
// Logging is disabled by default.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// subscribeConfig holds per-subscription settings.
type subscribeConfig struct {
	lastEventID    uint64
	hasLastEventID bool
}

// SubscribeOption configures a single Subscribe call.
type SubscribeOption func(*subscribeConfig)

// WithLastEventID requests replay of every history entry ordered strictly
// after the given id, delivered before any live event. An id older than the
// retained history simply replays everything still recorded; an id at or
// beyond the newest entry replays nothing.
func WithLastEventID(id uint64) SubscribeOption {
	return func(c *subscribeConfig) {
		c.lastEventID = id
		c.hasLastEventID = true
	}
}
