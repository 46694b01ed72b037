package broadcast_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/liveq/core/broadcast"
	"github.com/dmitrymomot/liveq/pkg/ratelimiter"
)

// testSink collects delivered events on a buffered channel.
type testSink struct {
	ch      chan broadcast.Event
	sendErr error

	mu     sync.Mutex
	closed bool
}

func newTestSink() *testSink {
	return &testSink{ch: make(chan broadcast.Event, 256)}
}

func (s *testSink) Send(ctx context.Context, e broadcast.Event) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	select {
	case s.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *testSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *testSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// blockingSink never completes a send until released.
type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Send(ctx context.Context, e broadcast.Event) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *blockingSink) Close() error { return nil }

func receiveEvent(t *testing.T, sink *testSink) broadcast.Event {
	t.Helper()
	select {
	case e := <-sink.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return broadcast.Event{}
	}
}

func assertNoEvent(t *testing.T, sink *testSink) {
	t.Helper()
	select {
	case e := <-sink.ch:
		t.Fatalf("unexpected event delivered: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcaster_Subscribe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("validates input", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		t.Cleanup(func() { _ = b.Close() })

		_, err := b.Subscribe(ctx, "", "client", newTestSink())
		assert.ErrorIs(t, err, broadcast.ErrEmptyTopic)

		_, err = b.Subscribe(ctx, "board-1", "client", nil)
		assert.ErrorIs(t, err, broadcast.ErrNilSink)
	})

	t.Run("generates client id when absent", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		t.Cleanup(func() { _ = b.Close() })

		sub, err := b.Subscribe(ctx, "board-1", "", newTestSink())
		require.NoError(t, err)
		assert.NotEmpty(t, sub.ClientID())
		assert.Equal(t, "board-1", sub.Topic())
	})

	t.Run("enforces connection limit", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New(broadcast.WithConnectionLimit(2))
		t.Cleanup(func() { _ = b.Close() })

		_, err := b.Subscribe(ctx, "session-42", "a", newTestSink())
		require.NoError(t, err)
		_, err = b.Subscribe(ctx, "session-42", "b", newTestSink())
		require.NoError(t, err)

		_, err = b.Subscribe(ctx, "session-42", "c", newTestSink())
		assert.ErrorIs(t, err, broadcast.ErrCapacityExceeded)
		assert.Equal(t, 2, b.ActiveConnectionCount("session-42"))

		// The limit is per topic.
		_, err = b.Subscribe(ctx, "session-43", "c", newTestSink())
		assert.NoError(t, err)
	})

	t.Run("resubscribe with same client id replaces connection", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New(broadcast.WithConnectionLimit(1))
		t.Cleanup(func() { _ = b.Close() })

		first := newTestSink()
		_, err := b.Subscribe(ctx, "board-1", "a", first)
		require.NoError(t, err)

		second := newTestSink()
		_, err = b.Subscribe(ctx, "board-1", "a", second)
		require.NoError(t, err)

		assert.Equal(t, 1, b.ActiveConnectionCount("board-1"))
		assert.Eventually(t, first.isClosed, time.Second, 10*time.Millisecond)

		_, err = b.Publish(ctx, "board-1", "item_updated", nil)
		require.NoError(t, err)
		assert.Equal(t, "item_updated", receiveEvent(t, second).Type)
	})
}

func TestBroadcaster_Publish(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("validates input", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		t.Cleanup(func() { _ = b.Close() })

		_, err := b.Publish(ctx, "", "item_created", nil)
		assert.ErrorIs(t, err, broadcast.ErrEmptyTopic)

		_, err = b.Publish(ctx, "board-1", "", nil)
		assert.ErrorIs(t, err, broadcast.ErrEmptyEventType)

		_, err = b.Publish(ctx, "board-1", "item_created", func() {})
		assert.ErrorIs(t, err, broadcast.ErrInvalidPayload)
	})

	t.Run("delivers in publish order", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		t.Cleanup(func() { _ = b.Close() })

		sink := newTestSink()
		_, err := b.Subscribe(ctx, "session-42", "a", sink)
		require.NoError(t, err)

		types := []string{"item_created", "item_updated", "item_deleted", "item_created", "item_updated"}
		for _, eventType := range types {
			_, err := b.Publish(ctx, "session-42", eventType, map[string]string{"id": "q1"})
			require.NoError(t, err)
		}

		var lastID uint64
		for i, want := range types {
			e := receiveEvent(t, sink)
			assert.Equal(t, want, e.Type, "event %d", i)
			assert.Greater(t, e.ID, lastID, "ids must be strictly increasing")
			lastID = e.ID
		}
	})

	t.Run("assigns sequential ids per topic", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		t.Cleanup(func() { _ = b.Close() })

		sinkA := newTestSink()
		_, err := b.Subscribe(ctx, "topic-a", "a", sinkA)
		require.NoError(t, err)
		sinkB := newTestSink()
		_, err = b.Subscribe(ctx, "topic-b", "b", sinkB)
		require.NoError(t, err)

		e1, err := b.Publish(ctx, "topic-a", "x", nil)
		require.NoError(t, err)
		e2, err := b.Publish(ctx, "topic-a", "x", nil)
		require.NoError(t, err)
		e3, err := b.Publish(ctx, "topic-b", "x", nil)
		require.NoError(t, err)

		assert.Equal(t, uint64(1), e1.ID)
		assert.Equal(t, uint64(2), e2.ID)
		assert.Equal(t, uint64(1), e3.ID, "topics have independent sequences")
	})

	t.Run("topic without subscribers records nothing", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		t.Cleanup(func() { _ = b.Close() })

		e1, err := b.Publish(ctx, "idle-topic", "item_created", nil)
		require.NoError(t, err)
		e2, err := b.Publish(ctx, "idle-topic", "item_created", nil)
		require.NoError(t, err)

		// Unrecorded events still consume ids; nothing is ever reused.
		assert.Equal(t, uint64(1), e1.ID)
		assert.Equal(t, uint64(2), e2.ID)
		assert.Equal(t, 0, b.HistorySize("idle-topic"))
	})

	t.Run("ids survive subscriber churn", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		t.Cleanup(func() { _ = b.Close() })

		_, err := b.Subscribe(ctx, "session-42", "a", newTestSink())
		require.NoError(t, err)
		before, err := b.Publish(ctx, "session-42", "item_created", nil)
		require.NoError(t, err)

		// Last connection out clears the event buffer but not the sequence.
		b.Unsubscribe("session-42", "a")

		sink := newTestSink()
		_, err = b.Subscribe(ctx, "session-42", "a", sink)
		require.NoError(t, err)

		after, err := b.Publish(ctx, "session-42", "item_created", nil)
		require.NoError(t, err)
		assert.Greater(t, after.ID, before.ID)
		assert.Equal(t, after.ID, receiveEvent(t, sink).ID)

		// A resume position from before the churn stays meaningful: the
		// new-epoch event is replayed, not skipped.
		late := newTestSink()
		_, err = b.Subscribe(ctx, "session-42", "late", late,
			broadcast.WithLastEventID(before.ID))
		require.NoError(t, err)
		assert.Equal(t, after.ID, receiveEvent(t, late).ID)
	})

	t.Run("no cross topic leakage", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		t.Cleanup(func() { _ = b.Close() })

		sinkA := newTestSink()
		_, err := b.Subscribe(ctx, "topic-a", "a", sinkA)
		require.NoError(t, err)
		sinkB := newTestSink()
		_, err = b.Subscribe(ctx, "topic-b", "b", sinkB)
		require.NoError(t, err)

		_, err = b.Publish(ctx, "topic-a", "item_created", nil)
		require.NoError(t, err)

		assert.Equal(t, "item_created", receiveEvent(t, sinkA).Type)
		assertNoEvent(t, sinkB)
	})

	t.Run("failing sink is removed, others unaffected", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New(broadcast.WithDeliveryTimeout(100 * time.Millisecond))
		t.Cleanup(func() { _ = b.Close() })

		broken := newTestSink()
		broken.sendErr = errors.New("write: broken pipe")
		_, err := b.Subscribe(ctx, "session-42", "broken", broken)
		require.NoError(t, err)

		healthy := newTestSink()
		_, err = b.Subscribe(ctx, "session-42", "healthy", healthy)
		require.NoError(t, err)

		_, err = b.Publish(ctx, "session-42", "item_created", nil)
		require.NoError(t, err)

		assert.Equal(t, "item_created", receiveEvent(t, healthy).Type)
		assert.Eventually(t, func() bool {
			return b.ActiveConnectionCount("session-42") == 1
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("slow consumer dropped when queue overflows", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New(
			broadcast.WithQueueSize(1),
			broadcast.WithDeliveryTimeout(50*time.Millisecond),
		)
		t.Cleanup(func() { _ = b.Close() })

		blocked := &blockingSink{release: make(chan struct{})}
		defer close(blocked.release)
		_, err := b.Subscribe(ctx, "session-42", "slow", blocked)
		require.NoError(t, err)

		for range 5 {
			_, err := b.Publish(ctx, "session-42", "item_created", nil)
			require.NoError(t, err)
		}

		assert.Eventually(t, func() bool {
			return b.ActiveConnectionCount("session-42") == 0
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestBroadcaster_Replay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("replays missed events before live ones", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		t.Cleanup(func() { _ = b.Close() })

		// Keep the topic alive so history survives the reconnect gap.
		_, err := b.Subscribe(ctx, "session-42", "survivor", newTestSink())
		require.NoError(t, err)

		for range 3 {
			_, err := b.Publish(ctx, "session-42", "item_created", nil)
			require.NoError(t, err)
		}

		reconnected := newTestSink()
		_, err = b.Subscribe(ctx, "session-42", "reconnected", reconnected,
			broadcast.WithLastEventID(1))
		require.NoError(t, err)

		_, err = b.Publish(ctx, "session-42", "item_updated", nil)
		require.NoError(t, err)

		// Events 2 and 3 replayed exactly once, then the live event 4.
		assert.Equal(t, uint64(2), receiveEvent(t, reconnected).ID)
		assert.Equal(t, uint64(3), receiveEvent(t, reconnected).ID)
		live := receiveEvent(t, reconnected)
		assert.Equal(t, uint64(4), live.ID)
		assert.Equal(t, "item_updated", live.Type)
		assertNoEvent(t, reconnected)
	})

	t.Run("up to date subscriber replays nothing", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		t.Cleanup(func() { _ = b.Close() })

		_, err := b.Subscribe(ctx, "session-42", "survivor", newTestSink())
		require.NoError(t, err)
		_, err = b.Publish(ctx, "session-42", "item_created", nil)
		require.NoError(t, err)

		sink := newTestSink()
		_, err = b.Subscribe(ctx, "session-42", "b", sink, broadcast.WithLastEventID(1))
		require.NoError(t, err)
		assertNoEvent(t, sink)
	})

	t.Run("history evicts oldest beyond capacity", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New(broadcast.WithHistorySize(2))
		t.Cleanup(func() { _ = b.Close() })

		_, err := b.Subscribe(ctx, "session-42", "survivor", newTestSink())
		require.NoError(t, err)

		for range 5 {
			_, err := b.Publish(ctx, "session-42", "item_created", nil)
			require.NoError(t, err)
		}
		assert.Equal(t, 2, b.HistorySize("session-42"))

		sink := newTestSink()
		_, err = b.Subscribe(ctx, "session-42", "b", sink, broadcast.WithLastEventID(0))
		require.NoError(t, err)

		// Only the retained tail comes back.
		assert.Equal(t, uint64(4), receiveEvent(t, sink).ID)
		assert.Equal(t, uint64(5), receiveEvent(t, sink).ID)
		assertNoEvent(t, sink)
	})

	t.Run("history cleared when last connection leaves", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		t.Cleanup(func() { _ = b.Close() })

		sink := newTestSink()
		_, err := b.Subscribe(ctx, "session-42", "a", sink)
		require.NoError(t, err)

		_, err = b.Publish(ctx, "session-42", "item_created", nil)
		require.NoError(t, err)
		receiveEvent(t, sink)

		b.Unsubscribe("session-42", "a")
		assert.Equal(t, 0, b.HistorySize("session-42"))
		assert.Equal(t, 0, b.TotalConnectionCount())

		fresh := newTestSink()
		_, err = b.Subscribe(ctx, "session-42", "a", fresh, broadcast.WithLastEventID(0))
		require.NoError(t, err)
		assertNoEvent(t, fresh)
	})
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	b := broadcast.New()
	t.Cleanup(func() { _ = b.Close() })

	sink := newTestSink()
	_, err := b.Subscribe(ctx, "board-1", "a", sink)
	require.NoError(t, err)

	b.Unsubscribe("board-1", "a")
	assert.True(t, sink.isClosed())
	assert.Equal(t, 0, b.ActiveConnectionCount("board-1"))

	// Idempotent, including unknown topics.
	b.Unsubscribe("board-1", "a")
	b.Unsubscribe("never-seen", "a")
}

func TestBroadcaster_RateLimiting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("limited connection skips live delivery", func(t *testing.T) {
		t.Parallel()

		limiter, err := ratelimiter.New(ratelimiter.NewMemoryStore(), ratelimiter.Config{
			MaxMessages: 3,
			Window:      time.Minute,
		})
		require.NoError(t, err)

		b := broadcast.New(broadcast.WithRateLimiter(limiter))
		t.Cleanup(func() { _ = b.Close() })

		limited := newTestSink()
		_, err = b.Subscribe(ctx, "session-42", "limited", limited)
		require.NoError(t, err)

		for range 3 {
			_, err := b.Publish(ctx, "session-42", "item_created", nil)
			require.NoError(t, err)
		}

		fresh := newTestSink()
		_, err = b.Subscribe(ctx, "session-42", "fresh", fresh)
		require.NoError(t, err)

		// The fourth publish exceeds the limited connection's window but
		// still reaches the fresh one.
		_, err = b.Publish(ctx, "session-42", "item_updated", nil)
		require.NoError(t, err)

		assert.Equal(t, "item_updated", receiveEvent(t, fresh).Type)
		for range 3 {
			receiveEvent(t, limited)
		}
		assertNoEvent(t, limited)

		// The skipped event was still recorded, so a reconnect backfills it.
		backfill := newTestSink()
		_, err = b.Subscribe(ctx, "session-42", "limited-2", backfill,
			broadcast.WithLastEventID(3))
		require.NoError(t, err)
		assert.Equal(t, uint64(4), receiveEvent(t, backfill).ID)
	})

	t.Run("disabled limiter delivers everything", func(t *testing.T) {
		t.Parallel()

		// Queue headroom above the publish count so a briefly unscheduled
		// pump cannot look like a slow consumer.
		b := broadcast.New(broadcast.WithoutRateLimiter(), broadcast.WithQueueSize(256))
		t.Cleanup(func() { _ = b.Close() })

		sink := newTestSink()
		_, err := b.Subscribe(ctx, "session-42", "a", sink)
		require.NoError(t, err)

		for range 150 {
			_, err := b.Publish(ctx, "session-42", "item_created", nil)
			require.NoError(t, err)
		}
		for range 150 {
			receiveEvent(t, sink)
		}
	})
}

func TestBroadcaster_SweepIdle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	b := broadcast.New()
	t.Cleanup(func() { _ = b.Close() })

	sinkA := newTestSink()
	_, err := b.Subscribe(ctx, "session-42", "a", sinkA)
	require.NoError(t, err)
	sinkB := newTestSink()
	_, err = b.Subscribe(ctx, "session-42", "b", sinkB)
	require.NoError(t, err)

	_, err = b.Publish(ctx, "session-42", "item_created", nil)
	require.NoError(t, err)
	receiveEvent(t, sinkA)
	receiveEvent(t, sinkB)

	// Nothing is idle yet.
	removed := b.SweepIdle(time.Minute, time.Now())
	assert.Zero(t, removed)
	assert.Equal(t, 2, b.ActiveConnectionCount("session-42"))

	// From far enough in the future everything is idle; the emptied topic
	// loses its history too.
	removed = b.SweepIdle(time.Minute, time.Now().Add(10*time.Minute))
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, b.TotalConnectionCount())
	assert.Equal(t, 0, b.HistorySize("session-42"))
	assert.True(t, sinkA.isClosed())
	assert.True(t, sinkB.isClosed())
}

func TestBroadcaster_Close(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	b := broadcast.New()

	sink := newTestSink()
	_, err := b.Subscribe(ctx, "session-42", "a", sink)
	require.NoError(t, err)

	require.NoError(t, b.Close())

	e := receiveEvent(t, sink)
	assert.Equal(t, broadcast.EventTypeDisconnect, e.Type)
	assert.True(t, sink.isClosed())
	assert.Equal(t, 0, b.TotalConnectionCount())

	assert.ErrorIs(t, b.Close(), broadcast.ErrBroadcasterClosed)

	_, err = b.Publish(ctx, "session-42", "item_created", nil)
	assert.ErrorIs(t, err, broadcast.ErrBroadcasterClosed)
	_, err = b.Subscribe(ctx, "session-42", "a", newTestSink())
	assert.ErrorIs(t, err, broadcast.ErrBroadcasterClosed)
	assert.ErrorIs(t, b.Healthcheck(ctx), broadcast.ErrBroadcasterClosed)
}

// TestBroadcaster_SessionScenario walks the full lifecycle on one topic:
// capacity rejection, fanout, selective disconnect and history teardown.
func TestBroadcaster_SessionScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	b := broadcast.New(broadcast.WithConnectionLimit(2))
	t.Cleanup(func() { _ = b.Close() })

	sinkA := newTestSink()
	_, err := b.Subscribe(ctx, "session-42", "A", sinkA)
	require.NoError(t, err)
	sinkB := newTestSink()
	_, err = b.Subscribe(ctx, "session-42", "B", sinkB)
	require.NoError(t, err)

	_, err = b.Subscribe(ctx, "session-42", "C", newTestSink())
	require.ErrorIs(t, err, broadcast.ErrCapacityExceeded)

	published, err := b.Publish(ctx, "session-42", "item_created", map[string]string{"id": "q1"})
	require.NoError(t, err)

	gotA := receiveEvent(t, sinkA)
	gotB := receiveEvent(t, sinkB)
	assert.Equal(t, published.ID, gotA.ID)
	assert.Equal(t, published.ID, gotB.ID)
	assert.Equal(t, "item_created", gotA.Type)
	assert.JSONEq(t, `{"id":"q1"}`, string(gotA.Payload))
	assert.JSONEq(t, `{"id":"q1"}`, string(gotB.Payload))

	b.Unsubscribe("session-42", "A")

	// B stays active through the sweep because delivery touched it.
	removed := b.SweepIdle(time.Minute, time.Now())
	assert.Zero(t, removed)
	assert.Equal(t, 1, b.ActiveConnectionCount("session-42"))

	b.Unsubscribe("session-42", "B")
	assert.Equal(t, 0, b.HistorySize("session-42"))

	late := newTestSink()
	_, err = b.Subscribe(ctx, "session-42", "A", late,
		broadcast.WithLastEventID(published.ID-1))
	require.NoError(t, err)
	assertNoEvent(t, late)
}

func TestBroadcaster_Stats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	b := broadcast.New()
	t.Cleanup(func() { _ = b.Close() })

	_, err := b.Subscribe(ctx, "topic-a", "a", newTestSink())
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "topic-b", "b", newTestSink())
	require.NoError(t, err)
	_, err = b.Publish(ctx, "topic-a", "item_created", nil)
	require.NoError(t, err)

	stats := b.Stats()
	assert.Equal(t, 2, stats.ActiveTopics)
	assert.Equal(t, 2, stats.ActiveConnections)
	assert.Equal(t, int64(1), stats.EventsPublished)
}
