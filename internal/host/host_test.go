package host

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopTicksUntilCancelled(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	loop := NewLoop(time.Millisecond, func(context.Context) bool {
		return calls.Add(1)%2 == 0
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 10 }, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case worked := <-done:
		assert.Positive(t, worked)
		assert.LessOrEqual(t, int64(worked), calls.Load())
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLoopDefaultInterval(t *testing.T) {
	t.Parallel()

	loop := NewLoop(0, func(context.Context) bool { return false }, nil)
	assert.Equal(t, DefaultTickInterval, loop.Interval())
}

func TestLoopSingleGoroutine(t *testing.T) {
	t.Parallel()

	var inTick atomic.Int32
	var overlap atomic.Bool
	loop := NewLoop(time.Millisecond, func(context.Context) bool {
		if inTick.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(2 * time.Millisecond)
		inTick.Add(-1)
		return true
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	loop.Run(ctx)

	assert.False(t, overlap.Load(), "ticks must never overlap")
}

func TestEcho(t *testing.T) {
	t.Parallel()

	out, err := Echo{}.Execute("tv_GetWidth")
	require.NoError(t, err)
	assert.Equal(t, "tv_GetWidth", out)

	_, err = Echo{}.Execute("")
	assert.ErrorIs(t, err, ErrEmptyCommand)
}
