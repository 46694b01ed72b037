package stream

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/liveq/core/broadcast"
)

// stallingWriter blocks every Write until released, standing in for a
// connection the kernel is backpressuring.
type stallingWriter struct {
	header  http.Header
	writing chan struct{}
	release chan struct{}
}

func newStallingWriter() *stallingWriter {
	return &stallingWriter{
		header:  make(http.Header),
		writing: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (w *stallingWriter) Header() http.Header { return w.header }
func (w *stallingWriter) WriteHeader(int)     {}
func (w *stallingWriter) Flush()              {}

func (w *stallingWriter) Write(p []byte) (int, error) {
	select {
	case w.writing <- struct{}{}:
	default:
	}
	<-w.release
	return len(p), nil
}

// The handler returns to net/http as soon as the sink is closed, so Close
// must not complete while the delivery pump still has a frame on the wire.
func TestSSESink_CloseWaitsForInflightWrite(t *testing.T) {
	t.Parallel()

	w := newStallingWriter()
	sink := newSSESink(w, w)
	sink.activate()

	sendDone := make(chan error, 1)
	go func() {
		sendDone <- sink.Send(context.Background(), broadcast.Event{ID: 1, Type: "tick", Topic: "t"})
	}()

	select {
	case <-w.writing:
	case <-time.After(2 * time.Second):
		t.Fatal("send never reached the writer")
	}

	closeDone := make(chan struct{})
	go func() {
		_ = sink.Close()
		close(closeDone)
	}()

	select {
	case <-closeDone:
		t.Fatal("close returned with a write in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(w.release)
	select {
	case <-closeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not return after the write completed")
	}
	require.NoError(t, <-sendDone)

	assert.ErrorIs(t, sink.Send(context.Background(), broadcast.Event{ID: 2, Type: "tick", Topic: "t"}), ErrStreamClosed)
}
