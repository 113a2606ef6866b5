// Package ffi implements the object/vtable core (spec §... Object
// Model): interface objects built from a (data, vtable) pair, a common
// vtable head carrying identity and layout metadata, and the
// ObjBox/ObjArc+Weak ownership wrappers built on top. Grounded on the
// atomic refcount and bitfield-state patterns of
// kernel/threads/supervisor/coordinator.go and channels.go, using
// github.com/google/uuid for object identity per the dependency
// wiring in SPEC_FULL.md §11.
package ffi

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/fimoengine/fimo/internal/ferr"
)

// VTableHead is the header every interface vtable embeds first, so
// that upcasting to a base interface is a pointer-offset computation
// and downcasting is a UUID comparison (spec's Object Model).
type VTableHead struct {
	ObjectUUID    uuid.UUID
	ObjectName    string
	InterfaceName string
	Size          uintptr
	Alignment     uintptr
	Drop          func(data unsafeData)
}

// unsafeData is the opaque data pointer half of an object. Go has no
// raw pointer arithmetic, so we model it as an interface{} carrying
// whatever concrete value the object wraps; vtable methods type-assert
// it back rather than reinterpret_cast on an offset.
type unsafeData = interface{}

// Object is the fat-pointer (data, vtable) pair used everywhere an
// interface reference crosses a module boundary.
type Object struct {
	Data   unsafeData
	VTable *VTableHead
}

// Upcast returns an Object using the base vtable head, valid because
// VTableHead is always embedded first in any concrete vtable (so the
// base fields alias the derived ones); this mirrors a pointer-offset
// upcast without needing real offsets in Go.
func (o Object) Upcast() Object {
	return Object{Data: o.Data, VTable: &VTableHead{
		ObjectUUID:    o.VTable.ObjectUUID,
		ObjectName:    o.VTable.ObjectName,
		InterfaceName: o.VTable.InterfaceName,
		Size:          o.VTable.Size,
		Alignment:     o.VTable.Alignment,
		Drop:          o.VTable.Drop,
	}}
}

// Downcast checks the vtable's object UUID against want and returns
// ok=false (not an error) on mismatch, since failing a downcast is a
// routine type-test rather than exceptional.
func (o Object) Downcast(want uuid.UUID) (Object, bool) {
	if o.VTable == nil || o.VTable.ObjectUUID != want {
		return Object{}, false
	}
	return o, true
}

// drop invokes the vtable's destructor exactly once.
func (o Object) drop() {
	if o.VTable != nil && o.VTable.Drop != nil {
		o.VTable.Drop(o.Data)
	}
}

// ObjBox is uniquely-owned object storage; dropping it runs the
// vtable destructor exactly once and any further Get fails, matching
// the original's move-only box semantics as closely as Go's lack of
// linear types allows.
type ObjBox struct {
	obj    Object
	closed atomic.Bool
}

// NewObjBox takes ownership of obj.
func NewObjBox(obj Object) *ObjBox {
	return &ObjBox{obj: obj}
}

// Get returns the boxed object, failing with FailedPrecondition once
// the box has been closed.
func (b *ObjBox) Get() (Object, error) {
	if b.closed.Load() {
		return Object{}, ferr.New(ferr.CodeFailedPrecondition, "objbox already dropped")
	}
	return b.obj, nil
}

// Close runs the vtable destructor. Idempotent.
func (b *ObjBox) Close() {
	if b.closed.CompareAndSwap(false, true) {
		b.obj.drop()
	}
}

// objArcState is the shared control block between an ObjArc and its
// Weak handles: a strong count, a weak count, and the object itself
// (cleared once the strong count reaches zero).
type objArcState struct {
	strong atomic.Int64
	weak   atomic.Int64
	obj    Object
}

// ObjArc is shared, reference-counted ownership of an object; the
// vtable destructor runs once the last strong reference is released.
type ObjArc struct {
	state *objArcState
}

// NewObjArc takes ownership of obj under a fresh, single-strong-
// reference control block.
func NewObjArc(obj Object) *ObjArc {
	st := &objArcState{obj: obj}
	st.strong.Store(1)
	return &ObjArc{state: st}
}

// Clone returns a new strong handle sharing the same object.
func (a *ObjArc) Clone() *ObjArc {
	a.state.strong.Add(1)
	return &ObjArc{state: a.state}
}

// Get returns the underlying object, failing with FailedPrecondition
// if every strong handle has already been released.
func (a *ObjArc) Get() (Object, error) {
	if a.state.strong.Load() <= 0 {
		return Object{}, ferr.New(ferr.CodeFailedPrecondition, "objarc has no live strong references")
	}
	return a.state.obj, nil
}

// Downgrade returns a Weak handle that does not keep the object alive.
func (a *ObjArc) Downgrade() *Weak {
	a.state.weak.Add(1)
	return &Weak{state: a.state}
}

// Release drops this strong handle, running the vtable destructor
// when it was the last one. Idempotent; a second Release on the same
// *ObjArc is a no-op since the first call clears the handle's state
// pointer.
func (a *ObjArc) Release() {
	if a.state == nil {
		return
	}
	remaining := a.state.strong.Add(-1)
	if remaining == 0 {
		a.state.obj.drop()
	}
	a.state = nil
}

// Weak is a non-owning reference to an ObjArc's object; it must be
// Upgraded to an ObjArc before the object can be accessed.
type Weak struct {
	state *objArcState
}

// Upgrade returns a new strong ObjArc if the object is still alive,
// or ok=false if every strong reference has already been released.
func (w *Weak) Upgrade() (*ObjArc, bool) {
	for {
		cur := w.state.strong.Load()
		if cur <= 0 {
			return nil, false
		}
		if w.state.strong.CompareAndSwap(cur, cur+1) {
			return &ObjArc{state: w.state}, true
		}
	}
}

// Release drops this weak handle. The control block itself is
// reclaimed by Go's garbage collector once nothing references it;
// unlike the original's manual allocator this needs no explicit
// free-when-both-counts-reach-zero step.
func (w *Weak) Release() {
	if w.state == nil {
		return
	}
	w.state.weak.Add(-1)
	w.state = nil
}
