package broadcast

import (
	"fmt"
	"time"
)

// Config defines broadcaster parameters, loadable from the environment via
// core/config.
type Config struct {
	// ConnectionLimit caps simultaneous connections per topic.
	ConnectionLimit int `env:"BROADCAST_CONNECTION_LIMIT" envDefault:"50"`

	// HistorySize is the per-topic replay buffer capacity.
	HistorySize int `env:"BROADCAST_HISTORY_SIZE" envDefault:"1000"`

	// QueueSize is the live headroom of each connection's outbound queue.
	QueueSize int `env:"BROADCAST_QUEUE_SIZE" envDefault:"64"`

	// DeliveryTimeout bounds one sink send before the connection is dropped.
	DeliveryTimeout time.Duration `env:"BROADCAST_DELIVERY_TIMEOUT" envDefault:"5s"`
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	if c.ConnectionLimit <= 0 {
		return fmt.Errorf("connection limit must be positive, got %d", c.ConnectionLimit)
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("history size must be positive, got %d", c.HistorySize)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive, got %d", c.QueueSize)
	}
	if c.DeliveryTimeout <= 0 {
		return fmt.Errorf("delivery timeout must be positive, got %v", c.DeliveryTimeout)
	}
	return nil
}

// NewFromConfig creates a Broadcaster from a validated Config. Options are
// applied after the config values, so they win on conflict.
func NewFromConfig(cfg Config, opts ...Option) (*Broadcaster, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("broadcast config: %w", err)
	}

	base := []Option{
		WithConnectionLimit(cfg.ConnectionLimit),
		WithHistorySize(cfg.HistorySize),
		WithQueueSize(cfg.QueueSize),
		WithDeliveryTimeout(cfg.DeliveryTimeout),
	}
	return New(append(base, opts...)...), nil
}
