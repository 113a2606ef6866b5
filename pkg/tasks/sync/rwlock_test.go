package sync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fimoengine/fimo/pkg/tasks"
)

func TestRwLockAllowsConcurrentReaders(t *testing.T) {
	lot := tasks.NewParkingLot()
	rw := NewRwLock(lot)

	rw.RLock()
	acquired := make(chan struct{})
	go func() {
		rw.RLock()
		close(acquired)
		rw.RUnlock()
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second RLock should not block behind an existing reader")
	}
	rw.RUnlock()
}

func TestRwLockWriterExcludesReaders(t *testing.T) {
	lot := tasks.NewParkingLot()
	rw := NewRwLock(lot)
	rw.Lock()

	acquired := make(chan struct{})
	go func() {
		rw.RLock()
		close(acquired)
		rw.RUnlock()
	}()

	select {
	case <-acquired:
		t.Fatal("RLock should have blocked while a writer holds the lock")
	case <-time.After(20 * time.Millisecond):
	}

	rw.Unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("RLock never acquired after writer Unlock")
	}
}

func TestRwLockWriterExcludesWriters(t *testing.T) {
	lot := tasks.NewParkingLot()
	rw := NewRwLock(lot)
	rw.Lock()

	acquired := make(chan struct{})
	go func() {
		rw.Lock()
		close(acquired)
		rw.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock should have blocked")
	case <-time.After(20 * time.Millisecond):
	}

	rw.Unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired")
	}
}

func TestRwLockConcurrentReadersAndWriters(t *testing.T) {
	lot := tasks.NewParkingLot()
	rw := NewRwLock(lot)

	var value int64
	var wg sync.WaitGroup
	const writers, readers = 10, 20
	wg.Add(writers + readers)

	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			rw.Lock()
			atomic.AddInt64(&value, 1)
			rw.Unlock()
		}()
	}
	for i := 0; i < readers; i++ {
		go func() {
			defer wg.Done()
			rw.RLock()
			_ = atomic.LoadInt64(&value)
			rw.RUnlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(writers), atomic.LoadInt64(&value))
}

func TestRwLockUnlockWakesAllReadersBeforeWaitingWriter(t *testing.T) {
	lot := tasks.NewParkingLot()
	rw := NewRwLock(lot)
	rw.Lock()

	const readers = 5
	acquired := make(chan int, readers)
	release := make(chan struct{})
	for i := 0; i < readers; i++ {
		go func() {
			rw.RLock()
			acquired <- 1
			<-release
			rw.RUnlock()
		}()
	}

	writerAcquired := make(chan struct{})
	go func() {
		rw.Lock()
		close(writerAcquired)
		rw.Unlock()
	}()

	// Give every reader and the writer a chance to park behind the held
	// write lock before releasing it.
	for rw.lot.QueueLen(rw.readKey())+rw.lot.QueueLen(rw.writeKey()) < readers+1 {
		time.Sleep(time.Millisecond)
	}

	// Keep shouldFairUnlock's randomized writer handoff out of this
	// unlock so it takes the default reader-first path.
	rw.lastFairUnlockNs.Store(time.Now().UnixNano())
	rw.Unlock()

	for i := 0; i < readers; i++ {
		select {
		case <-acquired:
		case <-time.After(time.Second):
			t.Fatal("not all waiting readers were woken by the write-unlock")
		}
	}

	select {
	case <-writerAcquired:
		t.Fatal("waiting writer acquired the lock before the already-waiting readers drained")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-writerAcquired:
	case <-time.After(time.Second):
		t.Fatal("waiting writer never acquired the lock after the readers released it")
	}
}
