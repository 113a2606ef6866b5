package sync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fimoengine/fimo/pkg/tasks"
)

func TestMutexExcludesConcurrentAccess(t *testing.T) {
	lot := tasks.NewParkingLot()
	m := NewMutex(lot)

	counter := 0
	var wg sync.WaitGroup
	const n = 100
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			m.Lock()
			counter++
			m.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, n, counter)
}

func TestMutexTryLock(t *testing.T) {
	lot := tasks.NewParkingLot()
	m := NewMutex(lot)

	require.True(t, m.TryLock())
	assert.False(t, m.TryLock())
	m.Unlock()
	assert.True(t, m.TryLock())
}

func TestMutexBlocksUntilUnlocked(t *testing.T) {
	lot := tasks.NewParkingLot()
	m := NewMutex(lot)
	m.Lock()

	acquired := make(chan struct{})
	go func() {
		m.Lock()
		close(acquired)
		m.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock should have blocked")
	case <-time.After(20 * time.Millisecond):
	}

	m.Unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after Unlock")
	}
}
