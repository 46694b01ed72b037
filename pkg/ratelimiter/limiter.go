package ratelimiter

import (
	"context"
	"fmt"
	"time"
)

// Config defines fixed-window rate limiting parameters.
//
// The algorithm is deliberately coarse: a per-key counter that resets every
// Window. Its only job is to stop one runaway consumer from starving others,
// not to provide precise fairness, so the simpler fixed window is preferred
// over token buckets or sliding windows.
type Config struct {
	// MaxMessages is the number of allowed operations per window.
	MaxMessages int `env:"RATELIMITER_MAX_MESSAGES" envDefault:"100"`

	// Window is the duration of one counting window.
	Window time.Duration `env:"RATELIMITER_WINDOW" envDefault:"1m"`
}

// DefaultConfig returns the default limiter configuration: 100 operations
// per 60 second window.
func DefaultConfig() Config {
	return Config{
		MaxMessages: 100,
		Window:      time.Minute,
	}
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	if c.MaxMessages <= 0 {
		return fmt.Errorf("%w: max messages must be positive, got %d", ErrInvalidConfig, c.MaxMessages)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %v", ErrInvalidConfig, c.Window)
	}
	return nil
}

// Store persists per-key window counters. Implementations must be safe for
// concurrent use.
type Store interface {
	// Incr increments the counter for key, starting a fresh window if none
	// is active, and returns the post-increment count and the window reset
	// time.
	Incr(ctx context.Context, key string, config Config) (count int, resetAt time.Time, err error)

	// Peek returns the current count and reset time without incrementing.
	// A key with no active window reports a zero count.
	Peek(ctx context.Context, key string) (count int, resetAt time.Time, err error)

	// Reset removes the counter for key.
	Reset(ctx context.Context, key string) error
}

// Result reports the outcome of one limiter check.
type Result struct {
	count   int
	limit   int
	resetAt time.Time
}

// Allowed reports whether the operation fits within the current window.
func (r Result) Allowed() bool { return r.count <= r.limit }

// Remaining returns how many operations are left in the current window.
func (r Result) Remaining() int {
	if r.count >= r.limit {
		return 0
	}
	return r.limit - r.count
}

// ResetAt returns when the current window expires.
func (r Result) ResetAt() time.Time { return r.resetAt }

// RetryAfter returns how long until the window resets, measured from now.
func (r Result) RetryAfter() time.Duration {
	return time.Until(r.resetAt)
}

// Limiter applies a fixed-window count limit per key on top of a Store.
type Limiter struct {
	store  Store
	config Config
}

// New creates a limiter with the given store and configuration.
func New(store Store, config Config) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is nil", ErrStoreUnavailable)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{store: store, config: config}, nil
}

// Allow consumes one operation for key and reports whether it is within the
// window limit. The first call for a key, or the first call after the window
// elapsed, always succeeds.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	count, resetAt, err := l.store.Incr(ctx, key, l.config)
	if err != nil {
		return Result{}, fmt.Errorf("rate limiter allow: %w", err)
	}
	return Result{count: count, limit: l.config.MaxMessages, resetAt: resetAt}, nil
}

// Status returns the key's current window state without consuming anything.
func (l *Limiter) Status(ctx context.Context, key string) (Result, error) {
	count, resetAt, err := l.store.Peek(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("rate limiter status: %w", err)
	}
	return Result{count: count, limit: l.config.MaxMessages, resetAt: resetAt}, nil
}

// Reset clears the key's counter, immediately starting a fresh window on the
// next Allow.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.store.Reset(ctx, key); err != nil {
		return fmt.Errorf("rate limiter reset: %w", err)
	}
	return nil
}

// Config returns the limiter's configuration.
func (l *Limiter) Config() Config { return l.config }
