package stream

import (
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Default transport parameters.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultTopicParam        = "topic"
	DefaultClientIDParam     = "client_id"
	DefaultLastEventIDParam  = "last_event_id"
)

type config struct {
	heartbeat        time.Duration
	topicExtractor   func(*http.Request) string
	clientIDParam    string
	lastEventIDParam string
	reconnect        int // SSE retry hint, milliseconds
	checkOrigin      func(*http.Request) bool
	logger           *slog.Logger
}

func newConfig(opts []Option) *config {
	cfg := &config{
		heartbeat:        DefaultHeartbeatInterval,
		topicExtractor:   func(r *http.Request) string { return r.URL.Query().Get(DefaultTopicParam) },
		clientIDParam:    DefaultClientIDParam,
		lastEventIDParam: DefaultLastEventIDParam,
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Option configures a stream transport handler.
type Option func(*config)

// WithHeartbeatInterval sets how often the transport emits a keep-alive and
// touches the connection's activity timestamp.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *config) {
		if interval > 0 {
			c.heartbeat = interval
		}
	}
}

// WithTopicParam reads the topic from the named query parameter.
func WithTopicParam(param string) Option {
	return func(c *config) {
		if param != "" {
			c.topicExtractor = func(r *http.Request) string { return r.URL.Query().Get(param) }
		}
	}
}

// WithTopicExtractor sets a custom topic extraction function, for topics
// carried in the path or derived from the session.
func WithTopicExtractor(fn func(*http.Request) string) Option {
	return func(c *config) {
		if fn != nil {
			c.topicExtractor = fn
		}
	}
}

// WithClientIDParam reads the subscriber-chosen client id from the named
// query parameter. Absent means the broadcaster generates one.
func WithClientIDParam(param string) Option {
	return func(c *config) {
		if param != "" {
			c.clientIDParam = param
		}
	}
}

// WithReconnectTime sets the SSE retry hint in milliseconds, advising
// clients how long to wait before reconnecting.
func WithReconnectTime(milliseconds int) Option {
	return func(c *config) {
		if milliseconds > 0 {
			c.reconnect = milliseconds
		}
	}
}

// WithOriginCheck sets the WebSocket origin check function.
func WithOriginCheck(fn func(*http.Request) bool) Option {
	return func(c *config) {
		c.checkOrigin = fn
	}
}

// WithAllowAnyOrigin disables the WebSocket origin check.
func WithAllowAnyOrigin() Option {
	return func(c *config) {
		c.checkOrigin = func(*http.Request) bool { return true }
	}
}

// WithLogger configures structured logging for transport internals.
// Logging is disabled by default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Config defines stream transport parameters, loadable from the environment
// via core/config.
type Config struct {
	// HeartbeatInterval is the keep-alive cadence.
	HeartbeatInterval time.Duration `env:"STREAM_HEARTBEAT_INTERVAL" envDefault:"30s"`

	// TopicParam is the query parameter carrying the topic.
	TopicParam string `env:"STREAM_TOPIC_PARAM" envDefault:"topic"`

	// ClientIDParam is the query parameter carrying the client id.
	ClientIDParam string `env:"STREAM_CLIENT_ID_PARAM" envDefault:"client_id"`

	// ReconnectTime is the SSE retry hint in milliseconds; zero omits it.
	ReconnectTime int `env:"STREAM_RECONNECT_TIME" envDefault:"0"`
}

// Options converts a Config into transport options.
func (c Config) Options() []Option {
	return []Option{
		WithHeartbeatInterval(c.HeartbeatInterval),
		WithTopicParam(c.TopicParam),
		WithClientIDParam(c.ClientIDParam),
		WithReconnectTime(c.ReconnectTime),
	}
}
