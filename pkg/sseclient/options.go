package sseclient

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The client must not
// set a global timeout; the stream is long-lived and cancelled via context.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithInitialDelay sets the base reconnect delay, doubled on each
// consecutive failure.
func WithInitialDelay(delay time.Duration) Option {
	return func(c *Client) {
		if delay > 0 {
			c.initialDelay = delay
		}
	}
}

// WithMaxDelay caps the reconnect delay.
func WithMaxDelay(delay time.Duration) Option {
	return func(c *Client) {
		if delay > 0 {
			c.maxDelay = delay
		}
	}
}

// WithMaxJitter sets the upper bound of the random jitter added to each
// reconnect delay. Zero disables jitter, which makes reconnect storms worse
// and tests deterministic.
func WithMaxJitter(jitter time.Duration) Option {
	return func(c *Client) {
		if jitter >= 0 {
			c.maxJitter = jitter
		}
	}
}

// WithEventHandler sets the handler invoked for every received event,
// including the connected and disconnect events. Handlers run on the
// client's internal goroutine; a slow handler delays the stream.
func WithEventHandler(fn func(Event)) Option {
	return func(c *Client) {
		c.onEvent = fn
	}
}

// WithOpenHandler sets the handler invoked each time a connection is
// established, including reconnects.
func WithOpenHandler(fn func()) Option {
	return func(c *Client) {
		c.onOpen = fn
	}
}

// WithCloseHandler sets the handler invoked each time an established
// connection ends, with the transport error that ended it (io.EOF for an
// orderly server close).
func WithCloseHandler(fn func(error)) Option {
	return func(c *Client) {
		c.onClose = fn
	}
}

// WithReconnectHandler sets the handler invoked before each scheduled
// reconnect, with the attempt number (starting at 1) and the computed delay.
func WithReconnectHandler(fn func(attempt int, delay time.Duration)) Option {
	return func(c *Client) {
		c.onReconnecting = fn
	}
}

// WithLogger configures structured logging for client internals.
// Logging is disabled by default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Config defines client reconnect parameters, loadable from the environment
// via core/config.
type Config struct {
	// InitialDelay is the base reconnect delay.
	InitialDelay time.Duration `env:"SSECLIENT_INITIAL_DELAY" envDefault:"1s"`

	// MaxDelay caps the reconnect delay.
	MaxDelay time.Duration `env:"SSECLIENT_MAX_DELAY" envDefault:"30s"`

	// MaxJitter bounds the random spread added to each delay.
	MaxJitter time.Duration `env:"SSECLIENT_MAX_JITTER" envDefault:"1s"`
}

// Options converts a Config into client options.
func (c Config) Options() []Option {
	return []Option{
		WithInitialDelay(c.InitialDelay),
		WithMaxDelay(c.MaxDelay),
		WithMaxJitter(c.MaxJitter),
	}
}
