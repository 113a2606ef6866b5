package sync

import (
	"math/rand"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/fimoengine/fimo/pkg/tasks"
)

// RwLock is a writer-preferring reader/writer lock built on two
// parking-lot keys off the same backing word: readKey for readers
// waiting on a writer to drain or finish, writeKey for writers waiting
// on the lock entirely, so a reader wake never spuriously wakes a
// writer or vice versa.
//
// state layout: bit 0 = a writer holds the lock, bit 1 = a writer is
// waiting (set before the writer itself acquires, so it also excludes
// new readers), bits 2.. = reader count. A writer that must wait sets
// bit 1 first and then waits for the reader count to drain to zero,
// the way parking_lot's RwLock keeps new readers from barging past a
// writer that arrived first.
type RwLock struct {
	state uint64
	lot   *tasks.ParkingLot

	// lastFairUnlockNs throttles shouldFairUnlock so a write-unlock only
	// occasionally favors a waiting writer over a batch of waiting
	// readers, instead of flipping a coin on every single unlock.
	lastFairUnlockNs atomic.Int64
}

const (
	rwWriterBit        uint64 = 1 << 0
	rwWriterWaitingBit uint64 = 1 << 1
	rwReaderShift             = 2
	rwReaderOne        uint64 = 1 << rwReaderShift
)

// fairUnlockMinIntervalNs and fairUnlockOdds bound how often Unlock
// hands the lock to a waiting writer ahead of waiting readers: at most
// once per interval, and even then only with low probability, so the
// common case stays reader-preferring on unlock.
const (
	fairUnlockMinIntervalNs = int64(time.Millisecond)
	fairUnlockOdds          = 16
)

// NewRwLock builds an unlocked RwLock parking on lot.
func NewRwLock(lot *tasks.ParkingLot) *RwLock {
	return &RwLock{lot: lot}
}

func (rw *RwLock) readKey() uintptr  { return uintptr(unsafe.Pointer(rw)) }
func (rw *RwLock) writeKey() uintptr { return uintptr(unsafe.Pointer(rw)) + 1 }

// RLock blocks while a writer holds or is waiting for the lock, then
// registers a reader. A reader woken by Unlock is admitted as soon as
// no writer holds the lock, even while another writer is waiting.
func (rw *RwLock) RLock() {
	woken := false
	for {
		state := atomic.LoadUint64(&rw.state)
		if state&rwWriterBit != 0 || (!woken && state&rwWriterWaitingBit != 0) {
			res := rw.lot.Park(rw.readKey(), func() bool {
				return atomic.LoadUint64(&rw.state)&(rwWriterBit|rwWriterWaitingBit) != 0
			}, nil, time.Time{})
			woken = res == tasks.Unparked
			continue
		}
		if atomic.CompareAndSwapUint64(&rw.state, state, state+rwReaderOne) {
			return
		}
	}
}

// RUnlock releases a reader. If this was the last reader and a writer
// is waiting, it wakes exactly one writer.
func (rw *RwLock) RUnlock() {
	for {
		state := atomic.LoadUint64(&rw.state)
		next := state - rwReaderOne
		if atomic.CompareAndSwapUint64(&rw.state, state, next) {
			if next>>rwReaderShift == 0 && next&rwWriterWaitingBit != 0 {
				rw.lot.UnparkOne(rw.writeKey())
			}
			return
		}
	}
}

// Lock blocks until no readers or writers hold the lock, excluding new
// readers as soon as it starts waiting.
func (rw *RwLock) Lock() {
	for {
		state := atomic.LoadUint64(&rw.state)
		if state&rwWriterBit == 0 && state>>rwReaderShift == 0 {
			if atomic.CompareAndSwapUint64(&rw.state, state, (state&^rwWriterWaitingBit)|rwWriterBit) {
				return
			}
			continue
		}
		if state&rwWriterWaitingBit == 0 {
			atomic.CompareAndSwapUint64(&rw.state, state, state|rwWriterWaitingBit)
			continue
		}
		rw.lot.Park(rw.writeKey(), func() bool {
			s := atomic.LoadUint64(&rw.state)
			return s&rwWriterBit != 0 || s>>rwReaderShift != 0
		}, nil, time.Time{})
	}
}

// Unlock releases the write lock. By default it wakes every reader
// waiting on the drained writer bit and, only if none were waiting,
// one writer - but when both readers and a writer are waiting,
// shouldFairUnlock occasionally hands the lock straight to the writer
// instead, so a steady stream of arriving readers can't starve it
// forever.
func (rw *RwLock) Unlock() {
	for {
		state := atomic.LoadUint64(&rw.state)
		next := state &^ rwWriterBit
		if atomic.CompareAndSwapUint64(&rw.state, state, next) {
			break
		}
	}

	readersWaiting := rw.lot.QueueLen(rw.readKey()) > 0
	writerWaiting := rw.lot.QueueLen(rw.writeKey()) > 0
	if readersWaiting && writerWaiting && rw.shouldFairUnlock() {
		rw.lot.UnparkOne(rw.writeKey())
		return
	}
	if rw.lot.UnparkAll(rw.readKey()) == 0 {
		rw.lot.UnparkOne(rw.writeKey())
	}
}

func (rw *RwLock) shouldFairUnlock() bool {
	now := time.Now().UnixNano()
	if now-rw.lastFairUnlockNs.Load() < fairUnlockMinIntervalNs {
		return false
	}
	if rand.Intn(fairUnlockOdds) != 0 {
		return false
	}
	rw.lastFairUnlockNs.Store(now)
	return true
}
