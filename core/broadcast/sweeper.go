package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often the Sweeper scans for idle connections.
const DefaultSweepInterval = 2 * time.Minute

// Sweeper periodically invokes SweepIdle on a Broadcaster. It exists because
// the broadcaster itself owns no timer: the hosting application decides the
// cadence, either by calling SweepIdle from its own scheduler or by running
// a Sweeper.
type Sweeper struct {
	broadcaster *Broadcaster

	interval        time.Duration
	maxIdle         time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often the sweep runs.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithMaxIdle sets the inactivity duration after which a connection is
// reclaimed.
func WithMaxIdle(maxIdle time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if maxIdle > 0 {
			s.maxIdle = maxIdle
		}
	}
}

// WithSweeperShutdownTimeout sets the graceful shutdown timeout.
func WithSweeperShutdownTimeout(timeout time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if timeout > 0 {
			s.shutdownTimeout = timeout
		}
	}
}

// WithSweeperLogger sets the logger for sweep results.
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSweeper creates a sweeper bound to a broadcaster.
// Call Start() to begin sweeping.
func NewSweeper(b *Broadcaster, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		broadcaster:     b,
		interval:        DefaultSweepInterval,
		maxIdle:         DefaultMaxIdle,
		shutdownTimeout: 30 * time.Second,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start runs the sweep loop until the context is cancelled. This is a
// blocking operation; use Run() for errgroup pattern or call this in a
// goroutine.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.InfoContext(s.ctx, "idle sweeper started",
		slog.Duration("interval", s.interval),
		slog.Duration("max_idle", s.maxIdle))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.InfoContext(context.Background(), "idle sweeper stopping")
			return s.ctx.Err()
		case <-ticker.C:
			s.sweepWithWait()
		}
	}
}

// Stop gracefully shuts down the sweep loop, waiting for an in-progress
// sweep up to the shutdown timeout.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return fmt.Errorf("sweeper not started")
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout exceeded after %s", s.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
func (s *Sweeper) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- s.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = s.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

func (s *Sweeper) sweepWithWait() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()

	if removed := s.broadcaster.SweepIdle(s.maxIdle, time.Now()); removed > 0 {
		s.logger.Info("idle sweep completed", slog.Int("removed", removed))
	}
}
