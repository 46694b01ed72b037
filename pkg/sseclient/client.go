package sseclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// State is the client's connection state.
type State int32

const (
	// StateDisconnected is the initial state, and the terminal state after
	// a manual disconnect.
	StateDisconnected State = iota

	// StateConnecting covers both an in-flight transport attempt and a
	// pending reconnect timer.
	StateConnecting

	// StateConnected means the event stream is open and delivering.
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Client maintains one logical subscription to an SSE endpoint across any
// number of physical connections. Transport failures never surface to the
// caller; the client reconnects with exponential backoff and jitter,
// resuming from the last event id it processed so the server can replay the
// gap. Connectivity changes are observable through the optional handlers.
//
// The zero value is not usable; construct with New.
type Client struct {
	endpoint   *url.URL
	httpClient *http.Client

	initialDelay time.Duration
	maxDelay     time.Duration
	maxJitter    time.Duration

	onEvent        func(Event)
	onOpen         func()
	onClose        func(error)
	onReconnecting func(attempt int, delay time.Duration)
	logger         *slog.Logger

	mu          sync.Mutex
	state       State
	topic       string
	clientID    string
	lastEventID string
	serverRetry time.Duration
	attempts    int
	manual      bool
	suspended   bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// New creates a client for the given SSE endpoint URL. The endpoint is the
// stream URL without the topic; the topic is appended as a query parameter
// on each connection attempt.
func New(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}

	c := &Client{
		endpoint: u,
		// No client timeout: the whole point is a long-lived streaming
		// response. Cancellation happens through the request context.
		httpClient:   &http.Client{},
		initialDelay: DefaultInitialDelay,
		maxDelay:     DefaultMaxDelay,
		maxJitter:    DefaultMaxJitter,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Connect opens the subscription for a topic and starts the reconnect loop.
// It returns immediately; connectivity is reported through the handlers.
// The only errors are invalid input and connecting while already active;
// transport failures are handled internally.
//
// Cancelling ctx stops the client the same way Disconnect does.
func (c *Client) Connect(ctx context.Context, topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	if topic != c.topic {
		// New subscription intent: continuity state from the previous
		// topic must not leak into replay requests.
		c.clientID = ""
		c.lastEventID = ""
	}
	c.topic = topic
	c.manual = false
	c.suspended = false
	c.attempts = 0
	c.state = StateConnecting

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	go c.run(runCtx, done)
	return nil
}

// Disconnect stops the client: it cancels any in-flight connection or
// pending reconnect timer and waits for the loop to exit. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manual = true
	cancel := c.cancel
	c.cancel = nil
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Suspend proactively disconnects while retaining the subscription intent
// (topic, client id, last event id), for hosts that are backgrounded or
// hidden. No reconnect attempts happen while suspended; Resume picks the
// subscription back up with replay from the last processed event.
func (c *Client) Suspend() {
	c.mu.Lock()
	if c.state == StateDisconnected || c.suspended {
		c.mu.Unlock()
		return
	}
	c.suspended = true
	cancel := c.cancel
	c.cancel = nil
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Resume reconnects a suspended client. Returns ErrNotSuspended when there
// is nothing to resume.
func (c *Client) Resume(ctx context.Context) error {
	c.mu.Lock()
	if !c.suspended {
		c.mu.Unlock()
		return ErrNotSuspended
	}
	topic := c.topic
	c.mu.Unlock()

	return c.Connect(ctx, topic)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Topic returns the topic of the current subscription intent.
func (c *Client) Topic() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topic
}

// ClientID returns the id assigned by the server's connected event, reused
// across reconnects. Empty until the first successful connection.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// LastEventID returns the id of the last event processed, the resume
// position of the next reconnect.
func (c *Client) LastEventID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEventID
}

// run is the reconnect loop: one stream per iteration, backoff in between.
// It exits on context cancellation or manual disconnect.
func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		err := c.stream(ctx)

		c.mu.Lock()
		if ctx.Err() != nil || c.manual {
			c.state = StateDisconnected
			c.mu.Unlock()
			return
		}
		base := c.initialDelay
		if c.serverRetry > 0 {
			base = c.serverRetry
		}
		attempt := c.attempts
		c.attempts++
		c.state = StateConnecting
		c.mu.Unlock()

		delay := backoffDelay(base, c.maxDelay, c.maxJitter, attempt)
		c.logger.DebugContext(ctx, "reconnecting",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.Any("error", err))
		if c.onReconnecting != nil {
			c.onReconnecting(attempt+1, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.mu.Lock()
			c.state = StateDisconnected
			c.mu.Unlock()
			return
		case <-timer.C:
		}
	}
}

// stream runs one physical connection: open, read events until the stream
// ends or the context is cancelled.
func (c *Client) stream(ctx context.Context) error {
	c.mu.Lock()
	topic, clientID, lastEventID := c.topic, c.clientID, c.lastEventID
	c.mu.Unlock()

	u := *c.endpoint
	q := u.Query()
	q.Set("topic", topic)
	if clientID != "" {
		q.Set("client_id", clientID)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	c.mu.Lock()
	c.state = StateConnected
	c.attempts = 0
	c.mu.Unlock()
	if c.onOpen != nil {
		c.onOpen()
	}

	reader := newEventReader(resp.Body, func(d time.Duration) {
		c.mu.Lock()
		c.serverRetry = d
		c.mu.Unlock()
	})

	var streamErr error
	for {
		ev, nextErr := reader.Next()
		if nextErr != nil {
			streamErr = nextErr
			break
		}
		c.handleEvent(ev)
	}

	if c.onClose != nil {
		c.onClose(streamErr)
	}
	return streamErr
}

// handleEvent records continuity state and then hands the event to the
// caller. The last event id is updated before the handler runs, so a
// reconnect always resumes strictly after the last event actually processed.
func (c *Client) handleEvent(ev Event) {
	if ev.ID != "" {
		c.mu.Lock()
		c.lastEventID = ev.ID
		c.mu.Unlock()
	}

	if ev.Type == "connected" {
		var env struct {
			Payload struct {
				ClientID string `json:"client_id"`
			} `json:"payload"`
		}
		if json.Unmarshal(ev.Data, &env) == nil && env.Payload.ClientID != "" {
			c.mu.Lock()
			c.clientID = env.Payload.ClientID
			c.mu.Unlock()
		}
	}

	if c.onEvent != nil {
		c.onEvent(ev)
	}
}
