// Package sync implements fimo's Mutex, RwLock and Condvar on top of
// pkg/tasks's ParkingLot, the way the original builds its sync
// primitives on a shared futex-like facility instead of each owning
// its own OS-level lock. Grounded on the atomic bitfield state words
// used throughout kernel/threads/supervisor (e.g. credits.go's atomic
// flag fields) for the lock-state encoding.
package sync

import (
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/fimoengine/fimo/pkg/tasks"
)

const (
	mutexUnlocked uint32 = 0
	mutexLocked   uint32 = 1 << 0
	mutexParked   uint32 = 1 << 1
)

// Mutex is a parking-lot-backed mutual exclusion lock. The zero value
// is not usable; construct with NewMutex so it shares the caller's
// ParkingLot.
type Mutex struct {
	state uint32
	lot   *tasks.ParkingLot
}

// NewMutex builds an unlocked Mutex parking on lot.
func NewMutex(lot *tasks.ParkingLot) *Mutex {
	return &Mutex{lot: lot}
}

func (m *Mutex) key() uintptr { return uintptr(unsafe.Pointer(m)) }

// Lock blocks until the mutex is acquired.
func (m *Mutex) Lock() {
	if atomic.CompareAndSwapUint32(&m.state, mutexUnlocked, mutexLocked) {
		return
	}
	m.lockSlow()
}

func (m *Mutex) lockSlow() {
	for {
		state := atomic.LoadUint32(&m.state)
		if state&mutexLocked == 0 {
			if atomic.CompareAndSwapUint32(&m.state, state, state|mutexLocked) {
				return
			}
			continue
		}
		if !atomic.CompareAndSwapUint32(&m.state, state, state|mutexParked) {
			continue
		}
		// Parked waiters retry the CAS above on wake rather than being
		// handed the lock directly, so a freshly-arriving Lock() may
		// barge ahead of a just-woken waiter; this mutex is not
		// strictly FIFO-fair, only its wake order is.
		m.lot.Park(m.key(), func() bool {
			return atomic.LoadUint32(&m.state)&mutexLocked != 0
		}, nil, time.Time{})
	}
}

// TryLock attempts to acquire the mutex without blocking.
func (m *Mutex) TryLock() bool {
	for {
		state := atomic.LoadUint32(&m.state)
		if state&mutexLocked != 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&m.state, state, state|mutexLocked) {
			return true
		}
	}
}

// Unlock releases the mutex, waking one waiter if any are parked.
// Unlocking an already-unlocked Mutex is a caller bug, matching
// sync.Mutex's own contract.
func (m *Mutex) Unlock() {
	for {
		state := atomic.LoadUint32(&m.state)
		next := state &^ mutexLocked
		if atomic.CompareAndSwapUint32(&m.state, state, next) {
			if state&mutexParked != 0 {
				m.lot.UnparkOne(m.key())
			}
			return
		}
	}
}
