package sync

import (
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/fimoengine/fimo/pkg/tasks"
)

// Condvar is a condition variable parked on the same ParkingLot as the
// rest of this package, paired with an external Mutex the way
// sync.Cond pairs with a sync.Locker: Wait unlocks the mutex, parks,
// and relocks before returning, so callers still re-check their
// predicate in a loop exactly as with sync.Cond.
type Condvar struct {
	lot   *tasks.ParkingLot
	epoch uint64
}

// NewCondvar builds a Condvar parking on lot.
func NewCondvar(lot *tasks.ParkingLot) *Condvar {
	return &Condvar{lot: lot}
}

func (c *Condvar) key() uintptr { return uintptr(unsafe.Pointer(c)) }

// Wait unlocks m, blocks until Signal or Broadcast is called, then
// relocks m before returning. Like sync.Cond, a woken Wait does not
// guarantee the caller's predicate holds; callers must re-check it in
// a loop.
func (c *Condvar) Wait(m *Mutex) {
	epoch := atomic.LoadUint64(&c.epoch)
	m.Unlock()
	c.lot.Park(c.key(), func() bool {
		return atomic.LoadUint64(&c.epoch) == epoch
	}, nil, time.Time{})
	m.Lock()
}

// WaitTimeout behaves like Wait but gives up after d, returning false
// if it timed out instead of being woken.
func (c *Condvar) WaitTimeout(m *Mutex, d time.Duration) bool {
	epoch := atomic.LoadUint64(&c.epoch)
	m.Unlock()
	res := c.lot.Park(c.key(), func() bool {
		return atomic.LoadUint64(&c.epoch) == epoch
	}, nil, time.Now().Add(d))
	m.Lock()
	return res == tasks.Unparked
}

// Signal wakes one waiter, if any.
func (c *Condvar) Signal() {
	atomic.AddUint64(&c.epoch, 1)
	c.lot.UnparkOne(c.key())
}

// Broadcast wakes every waiter.
func (c *Condvar) Broadcast() {
	atomic.AddUint64(&c.epoch, 1)
	c.lot.UnparkAll(c.key())
}
