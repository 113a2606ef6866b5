package registry

import (
	"sync/atomic"

	"github.com/fimoengine/fimo/internal/ferr"
)

// LoaderHandle owns a loader registration. Close unregisters it and is
// idempotent; double-Close and Close-after-already-unregistered both
// succeed silently (spec §5: handles swallow Unknown/NotFound).
type LoaderHandle struct {
	reg    *Registry
	id     LoaderID
	closed atomic.Bool
}

// ID returns the handle's loader id.
func (h *LoaderHandle) ID() LoaderID { return h.id }

// Close unregisters the loader.
func (h *LoaderHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := h.reg.unregisterLoader(h.id); err != nil && !ferr.IsUnknownOrNotFound(err) {
		return err
	}
	return nil
}

// LoaderCallbackHandle owns a loader-callback registration.
type LoaderCallbackHandle struct {
	reg    *Registry
	id     LoaderCallbackID
	closed atomic.Bool
}

func (h *LoaderCallbackHandle) ID() LoaderCallbackID { return h.id }

func (h *LoaderCallbackHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := h.reg.unregisterLoaderCallback(h.id); err != nil && !ferr.IsUnknownOrNotFound(err) {
		return err
	}
	return nil
}

// InterfaceHandle owns an interface registration.
type InterfaceHandle struct {
	reg    *Registry
	id     InterfaceID
	closed atomic.Bool
}

func (h *InterfaceHandle) ID() InterfaceID { return h.id }

func (h *InterfaceHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := h.reg.unregisterInterface(h.id); err != nil && !ferr.IsUnknownOrNotFound(err) {
		return err
	}
	return nil
}

// InterfaceCallbackHandle owns an interface-callback registration.
type InterfaceCallbackHandle struct {
	reg    *Registry
	id     InterfaceCallbackID
	closed atomic.Bool
}

func (h *InterfaceCallbackHandle) ID() InterfaceCallbackID { return h.id }

func (h *InterfaceCallbackHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := h.reg.unregisterInterfaceCallback(h.id); err != nil && !ferr.IsUnknownOrNotFound(err) {
		return err
	}
	return nil
}
