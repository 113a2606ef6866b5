// Package registry implements the module registry: five ID-keyed
// tables (loaders, loader callbacks, interfaces, interface callbacks,
// plus a loader-type index) behind RAII-style handles, grounded on the
// map-plus-sync.RWMutex table shape of kernel/threads/registry/loader.go
// and the atomic-guarded mutation pattern of
// kernel/threads/supervisor/coordinator.go (spec §5).
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/fimoengine/fimo/internal/ferr"
	"github.com/fimoengine/fimo/pkg/manifest"
)

// LoaderID, LoaderCallbackID, InterfaceID and InterfaceCallbackID are
// distinct handle identities so a caller can't accidentally pass the
// wrong table's key into an unregister call.
type LoaderID uint64
type LoaderCallbackID uint64
type InterfaceID uint64
type InterfaceCallbackID uint64

// Loader is an opaque module loader implementation; the registry only
// tracks it by loader-type name, it never calls into it.
type Loader interface{}

// LoaderCallback fires whenever a loader of the matching type is
// registered or unregistered.
type LoaderCallback func(id LoaderID, loaderType string, registered bool)

// InterfaceCallback fires whenever an interface matching the
// callback's descriptor is registered or unregistered.
type InterfaceCallback func(id InterfaceID, desc manifest.InterfaceDescriptor, registered bool)

type loaderEntry struct {
	loaderType string
	loader     Loader
}

type loaderCallbackEntry struct {
	loaderType string
	cb         LoaderCallback
}

type interfaceEntry struct {
	desc  manifest.InterfaceDescriptor
	iface interface{}
}

type interfaceCallbackEntry struct {
	desc manifest.InterfaceDescriptor
	cb   InterfaceCallback
}

// Registry is the module registry (spec §5). All mutation that needs
// to observe a consistent snapshot of the tables goes through Enter,
// which - like sync.Mutex - is not safe to call reentrantly from the
// same goroutine.
type Registry struct {
	mu sync.RWMutex

	nextID uint64

	loaders            map[LoaderID]*loaderEntry
	loaderCallbacks    map[LoaderCallbackID]*loaderCallbackEntry
	interfaces         map[InterfaceID]*interfaceEntry
	interfaceCallbacks map[InterfaceCallbackID]*interfaceCallbackEntry
	loaderTypeIndex    map[string]LoaderID
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{
		loaders:            make(map[LoaderID]*loaderEntry),
		loaderCallbacks:    make(map[LoaderCallbackID]*loaderCallbackEntry),
		interfaces:         make(map[InterfaceID]*interfaceEntry),
		interfaceCallbacks: make(map[InterfaceCallbackID]*interfaceCallbackEntry),
		loaderTypeIndex:    make(map[string]LoaderID),
	}
}

func (r *Registry) allocID() (uint64, error) {
	id := atomic.AddUint64(&r.nextID, 1)
	if id == 0 {
		return 0, ferr.New(ferr.CodeIDExhausted, "registry id space exhausted")
	}
	return id, nil
}

// Enter runs fn with the registry's write lock held (spec §5's
// "enter-with-closure" mutation API). fn must not call Enter, View, or
// any Register*/unregister* method itself — like sync.Mutex, the lock
// is not reentrant, and doing so deadlocks the calling goroutine.
// Loader/interface callbacks invoked from inside fn may safely read
// the two id arguments they're given but must defer any further
// registry mutation until after Enter returns.
func (r *Registry) Enter(fn func(*Registry) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r)
}

// View runs fn with the read lock held, for lookups that don't mutate
// any table.
func (r *Registry) View(fn func(*Registry)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r)
}

// RegisterLoader adds a loader under loaderType, firing any matching
// loader callbacks, and returns a handle whose Close unregisters it.
// Fails with DuplicateLoaderType if loaderType is already claimed.
func (r *Registry) RegisterLoader(loaderType string, loader Loader) (*LoaderHandle, error) {
	var handle *LoaderHandle
	err := r.Enter(func(r *Registry) error {
		if _, exists := r.loaderTypeIndex[loaderType]; exists {
			return ferr.Newf(ferr.CodeDuplicateLoaderType, "loader type %q already registered", loaderType)
		}
		raw, err := r.allocID()
		if err != nil {
			return err
		}
		id := LoaderID(raw)
		r.loaders[id] = &loaderEntry{loaderType: loaderType, loader: loader}
		r.loaderTypeIndex[loaderType] = id
		for _, cbe := range r.loaderCallbacks {
			if cbe.loaderType == loaderType {
				cbe.cb(id, loaderType, true)
			}
		}
		handle = &LoaderHandle{reg: r, id: id}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

func (r *Registry) unregisterLoader(id LoaderID) error {
	return r.Enter(func(r *Registry) error {
		entry, ok := r.loaders[id]
		if !ok {
			return ferr.New(ferr.CodeUnknownLoaderID, "unknown loader id")
		}
		delete(r.loaders, id)
		delete(r.loaderTypeIndex, entry.loaderType)
		for _, cbe := range r.loaderCallbacks {
			if cbe.loaderType == entry.loaderType {
				cbe.cb(id, entry.loaderType, false)
			}
		}
		return nil
	})
}

// LoaderFromType resolves the loader registered under loaderType.
func (r *Registry) LoaderFromType(loaderType string) (LoaderID, Loader, error) {
	var (
		id     LoaderID
		loader Loader
		err    error
	)
	r.View(func(r *Registry) {
		lid, ok := r.loaderTypeIndex[loaderType]
		if !ok {
			err = ferr.New(ferr.CodeUnknownLoaderType, "no loader registered for type")
			return
		}
		id, loader = lid, r.loaders[lid].loader
	})
	return id, loader, err
}

// RegisterLoaderCallback invokes cb for every loader of loaderType
// registered before or after this call, returning a handle for
// deregistration.
func (r *Registry) RegisterLoaderCallback(loaderType string, cb LoaderCallback) (*LoaderCallbackHandle, error) {
	var handle *LoaderCallbackHandle
	err := r.Enter(func(r *Registry) error {
		raw, err := r.allocID()
		if err != nil {
			return err
		}
		id := LoaderCallbackID(raw)
		r.loaderCallbacks[id] = &loaderCallbackEntry{loaderType: loaderType, cb: cb}
		if lid, ok := r.loaderTypeIndex[loaderType]; ok {
			cb(lid, loaderType, true)
		}
		handle = &LoaderCallbackHandle{reg: r, id: id}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

func (r *Registry) unregisterLoaderCallback(id LoaderCallbackID) error {
	return r.Enter(func(r *Registry) error {
		if _, ok := r.loaderCallbacks[id]; !ok {
			return ferr.New(ferr.CodeUnknownLoaderCallbackID, "unknown loader callback id")
		}
		delete(r.loaderCallbacks, id)
		return nil
	})
}

// RegisterInterface publishes iface under desc. Fails with
// DuplicateInterface if an equal descriptor is already registered.
func (r *Registry) RegisterInterface(desc manifest.InterfaceDescriptor, iface interface{}) (*InterfaceHandle, error) {
	var handle *InterfaceHandle
	err := r.Enter(func(r *Registry) error {
		for _, e := range r.interfaces {
			if e.desc.Equal(desc) {
				return ferr.Newf(ferr.CodeDuplicateInterface, "%s already registered", desc.Name)
			}
		}
		raw, err := r.allocID()
		if err != nil {
			return err
		}
		id := InterfaceID(raw)
		r.interfaces[id] = &interfaceEntry{desc: desc, iface: iface}
		for _, cbe := range r.interfaceCallbacks {
			if cbe.desc.Equal(desc) {
				cbe.cb(id, desc, true)
			}
		}
		handle = &InterfaceHandle{reg: r, id: id}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

func (r *Registry) unregisterInterface(id InterfaceID) error {
	return r.Enter(func(r *Registry) error {
		entry, ok := r.interfaces[id]
		if !ok {
			return ferr.New(ferr.CodeUnknownInterfaceID, "unknown interface id")
		}
		delete(r.interfaces, id)
		for _, cbe := range r.interfaceCallbacks {
			if cbe.desc.Equal(entry.desc) {
				cbe.cb(id, entry.desc, false)
			}
		}
		return nil
	})
}

// InterfaceFromDescriptor looks up a registered interface compatible
// with desc.
func (r *Registry) InterfaceFromDescriptor(desc manifest.InterfaceDescriptor) (InterfaceID, interface{}, error) {
	var (
		id  InterfaceID
		val interface{}
		err error
	)
	r.View(func(r *Registry) {
		for iid, e := range r.interfaces {
			if e.desc.Equal(desc) {
				id, val = iid, e.iface
				return
			}
		}
		err = ferr.New(ferr.CodeUnknownInterface, "no interface matches descriptor")
	})
	return id, val, err
}

// DescriptorsFromName returns every registered descriptor with the
// given interface name, regardless of version/extension compatibility.
func (r *Registry) DescriptorsFromName(name string) []manifest.InterfaceDescriptor {
	var out []manifest.InterfaceDescriptor
	r.View(func(r *Registry) {
		for _, e := range r.interfaces {
			if e.desc.Name == name {
				out = append(out, e.desc)
			}
		}
	})
	return out
}

// CompatibleDescriptors returns every registered descriptor matching
// required's name, version-compatible with it, and whose extension set
// is a superset of required's (spec §4.3
// get_compatible_interface_descriptors): a registered descriptor must
// offer at least every extension the caller asked for, not the other
// way around, so this checks HasExtensions rather than Equal's
// symmetric subset rule.
func (r *Registry) CompatibleDescriptors(required manifest.InterfaceDescriptor) []manifest.InterfaceDescriptor {
	var out []manifest.InterfaceDescriptor
	r.View(func(r *Registry) {
		for _, e := range r.interfaces {
			if e.desc.Name != required.Name {
				continue
			}
			if !e.desc.Version.IsCompatible(required.Version) && !required.Version.IsCompatible(e.desc.Version) {
				continue
			}
			if !e.desc.HasExtensions(required.Extensions) {
				continue
			}
			out = append(out, e.desc)
		}
	})
	return out
}

// RegisterInterfaceCallback invokes cb for every currently-registered
// interface compatible with desc, and for every future (un)registration
// of a compatible interface.
func (r *Registry) RegisterInterfaceCallback(desc manifest.InterfaceDescriptor, cb InterfaceCallback) (*InterfaceCallbackHandle, error) {
	var handle *InterfaceCallbackHandle
	err := r.Enter(func(r *Registry) error {
		raw, err := r.allocID()
		if err != nil {
			return err
		}
		id := InterfaceCallbackID(raw)
		r.interfaceCallbacks[id] = &interfaceCallbackEntry{desc: desc, cb: cb}
		for iid, e := range r.interfaces {
			if e.desc.Equal(desc) {
				cb(iid, e.desc, true)
			}
		}
		handle = &InterfaceCallbackHandle{reg: r, id: id}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

func (r *Registry) unregisterInterfaceCallback(id InterfaceCallbackID) error {
	return r.Enter(func(r *Registry) error {
		if _, ok := r.interfaceCallbacks[id]; !ok {
			return ferr.New(ferr.CodeUnknownInterfaceCallbackID, "unknown interface callback id")
		}
		delete(r.interfaceCallbacks, id)
		return nil
	})
}
