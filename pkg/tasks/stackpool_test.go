package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackPoolAcquireRelease(t *testing.T) {
	pool := NewStackPool(2, StackPoolMetrics{})
	ctx := context.Background()

	s1, err := pool.Acquire(ctx)
	require.NoError(t, err)
	s2, err := pool.Acquire(ctx)
	require.NoError(t, err)

	s1.Release()
	s2.Release()
	assert.Equal(t, int64(2), pool.Capacity())
}

func TestStackPoolBlocksUntilCapacityFrees(t *testing.T) {
	pool := NewStackPool(1, StackPoolMetrics{})
	ctx := context.Background()

	s1, err := pool.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan *Stack, 1)
	go func() {
		s, err := pool.Acquire(ctx)
		require.NoError(t, err)
		acquired <- s
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should have blocked while capacity is exhausted")
	case <-time.After(20 * time.Millisecond):
	}

	s1.Release()
	select {
	case s2 := <-acquired:
		s2.Release()
	case <-time.After(time.Second):
		t.Fatal("second acquire never unblocked after release")
	}
}

func TestStackPoolAcquireCanceled(t *testing.T) {
	pool := NewStackPool(1, StackPoolMetrics{})
	ctx := context.Background()
	_, err := pool.Acquire(ctx)
	require.NoError(t, err)

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Acquire(cancelCtx)
	require.Error(t, err)
}
