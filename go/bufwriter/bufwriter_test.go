package bufwriter

import (
	"context"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	messages []string
}

func (p *recordingPublisher) Log(_ log.Level, _ log.Fields, message string) {
	p.messages = append(p.messages, message)
}

func TestBufferingQueuesWritesUntilReady(t *testing.T) {
	w := New[int](nil)
	w.StartBuffering()
	require.Equal(t, Buffering, w.State())

	var applied []int
	for i := 1; i <= 3; i++ {
		i := i
		require.NoError(t, w.Write(i, func(v int) error {
			applied = append(applied, v)
			return nil
		}))
	}
	require.Empty(t, applied, "writes must not apply while buffering")

	require.NoError(t, w.CompleteInitialization(nil))
	require.Equal(t, Ready, w.State())
	require.Equal(t, []int{1, 2, 3}, applied)
}

func TestSecondCalloutThrowsButDrainContinues(t *testing.T) {
	// Mirrors scenario S6: three callbacks enqueued, the second throws, and
	// the snapshot-then-1st-then-3rd ordering must still hold.
	pub := &recordingPublisher{}
	w := New[string](pub)
	w.StartBuffering()

	var applied []string
	require.NoError(t, w.Write("one", func(v string) error { applied = append(applied, v); return nil }))
	require.NoError(t, w.Write("two", func(v string) error { return errors.New("boom") }))
	require.NoError(t, w.Write("three", func(v string) error { applied = append(applied, v); return nil }))

	var snapshotApplied bool
	require.NoError(t, w.CompleteInitialization(func() error {
		snapshotApplied = true
		return nil
	}))

	require.True(t, snapshotApplied)
	require.Equal(t, []string{"one", "three"}, applied)
	require.Len(t, pub.messages, 1)
}

func TestCompleteInitializationIsIdempotent(t *testing.T) {
	w := New[int](nil)
	w.StartBuffering()

	calls := 0
	require.NoError(t, w.Write(1, func(int) error { calls++; return nil }))
	require.NoError(t, w.CompleteInitialization(nil))
	require.NoError(t, w.CompleteInitialization(nil))
	require.Equal(t, 1, calls)
}

func TestStartBufferingWhileBufferingDiscardsOldQueue(t *testing.T) {
	w := New[int](nil)
	w.StartBuffering()
	require.NoError(t, w.Write(1, func(int) error { return nil }))

	w.StartBuffering() // reconnect before the first window ever drained
	require.Equal(t, Buffering, w.State())

	var applied []int
	require.NoError(t, w.Write(2, func(v int) error { applied = append(applied, v); return nil }))
	require.NoError(t, w.CompleteInitialization(nil))
	require.Equal(t, []int{2}, applied)
}

func TestCompleteInitializationWithInitialStateOrdering(t *testing.T) {
	w := New[int](nil)
	w.StartBuffering()

	var order []string
	require.NoError(t, w.Write(1, func(int) error { order = append(order, "buffered"); return nil }))

	err := w.CompleteInitializationWithInitialState(context.Background(),
		func() error { order = append(order, "preLoadFlush"); return nil },
		func(ctx context.Context) (func() error, error) {
			return func() error { order = append(order, "snapshot"); return nil }, nil
		},
	)
	require.NoError(t, err)
	require.Equal(t, []string{"preLoadFlush", "snapshot", "buffered"}, order)
}

func TestReadyIsTheDefaultState(t *testing.T) {
	w := New[int](nil)
	require.Equal(t, Ready, w.State())

	var applied bool
	require.NoError(t, w.Write(1, func(int) error { applied = true; return nil }))
	require.True(t, applied)
}
