package paging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWatch_SubscribeReceivesLatest(t *testing.T) {
	t.Parallel()

	w := NewWatch[int]()
	w.Publish(1)
	w.Publish(2)

	ch, cancel := w.Subscribe()
	defer cancel()

	// The channel is primed with the latest value at subscription time.
	require.Equal(t, 2, <-ch)

	w.Publish(3)
	require.Equal(t, 3, <-ch)
}

func TestWatch_SlowSubscriberCoalesces(t *testing.T) {
	t.Parallel()

	w := NewWatch[int]()
	ch, cancel := w.Subscribe()
	defer cancel()

	// Three publishes without a receive in between: the subscriber skips
	// straight to the newest value.
	w.Publish(1)
	w.Publish(2)
	w.Publish(3)
	require.Equal(t, 3, <-ch)

	select {
	case v := <-ch:
		t.Fatalf("unexpected extra value %d", v)
	default:
	}
}

func TestWatch_Cancel(t *testing.T) {
	t.Parallel()

	w := NewWatch[int]()
	ch, cancel := w.Subscribe()
	cancel()
	cancel() // safe to call twice

	_, open := <-ch
	require.False(t, open, "channel closes on cancel")

	// Publishing after cancel must not panic.
	w.Publish(42)
}

func TestWatch_Latest(t *testing.T) {
	t.Parallel()

	w := NewWatch[string]()
	_, ok := w.Latest()
	require.False(t, ok)

	w.Publish("a")
	v, ok := w.Latest()
	require.True(t, ok)
	require.Equal(t, "a", v)
}
