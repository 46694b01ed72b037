package sseclient

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventReader(t *testing.T) {
	t.Parallel()

	t.Run("decodes a complete event", func(t *testing.T) {
		t.Parallel()

		r := newEventReader(strings.NewReader("event: message\nid: 42\ndata: {\"a\":1}\n\n"), nil)
		ev, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, "message", ev.Type)
		assert.Equal(t, "42", ev.ID)
		assert.Equal(t, `{"a":1}`, string(ev.Data))
	})

	t.Run("joins multi-line data with newlines", func(t *testing.T) {
		t.Parallel()

		r := newEventReader(strings.NewReader("data: first\ndata: second\n\n"), nil)
		ev, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, "first\nsecond", string(ev.Data))
	})

	t.Run("ignores comment lines", func(t *testing.T) {
		t.Parallel()

		r := newEventReader(strings.NewReader(": keepalive\n: keepalive\ndata: x\n\n"), nil)
		ev, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, "x", string(ev.Data))
	})

	t.Run("event without data is not dispatched", func(t *testing.T) {
		t.Parallel()

		r := newEventReader(strings.NewReader("event: ping\n\ndata: real\n\n"), nil)
		ev, err := r.Next()
		require.NoError(t, err)
		assert.Empty(t, ev.Type, "the dataless ping must not leak into the next event")
		assert.Equal(t, "real", string(ev.Data))
	})

	t.Run("reports retry hints", func(t *testing.T) {
		t.Parallel()

		var got time.Duration
		r := newEventReader(strings.NewReader("retry: 2500\ndata: x\n\n"), func(d time.Duration) { got = d })
		_, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, 2500*time.Millisecond, got)
	})

	t.Run("ignores malformed retry values", func(t *testing.T) {
		t.Parallel()

		called := false
		r := newEventReader(strings.NewReader("retry: soon\ndata: x\n\n"), func(time.Duration) { called = true })
		_, err := r.Next()
		require.NoError(t, err)
		assert.False(t, called)
	})

	t.Run("id is sticky across events", func(t *testing.T) {
		t.Parallel()

		r := newEventReader(strings.NewReader("id: 7\ndata: a\n\ndata: b\n\n"), nil)
		first, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, "7", first.ID)

		second, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, "7", second.ID, "an event without an id line carries the last one seen")
	})

	t.Run("id without data applies to the next event", func(t *testing.T) {
		t.Parallel()

		// The id takes effect when processed; the dataless block itself is
		// not dispatched.
		r := newEventReader(strings.NewReader("id: 9\n\ndata: x\n\n"), nil)
		ev, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, "9", ev.ID)
		assert.Equal(t, "x", string(ev.Data))
	})

	t.Run("ignores ids containing NUL", func(t *testing.T) {
		t.Parallel()

		r := newEventReader(strings.NewReader("id: a\x00b\ndata: x\n\n"), nil)
		ev, err := r.Next()
		require.NoError(t, err)
		assert.Empty(t, ev.ID)
	})

	t.Run("trims a single leading space after the colon", func(t *testing.T) {
		t.Parallel()

		r := newEventReader(strings.NewReader("data:  padded\n\n"), nil)
		ev, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, " padded", string(ev.Data))
	})

	t.Run("returns EOF at stream end", func(t *testing.T) {
		t.Parallel()

		r := newEventReader(strings.NewReader("data: only\n\n"), nil)
		_, err := r.Next()
		require.NoError(t, err)

		_, err = r.Next()
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("incomplete trailing event is dropped on EOF", func(t *testing.T) {
		t.Parallel()

		r := newEventReader(strings.NewReader("data: cut off"), nil)
		_, err := r.Next()
		assert.ErrorIs(t, err, io.EOF)
	})
}
