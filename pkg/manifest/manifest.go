// Package manifest defines the in-memory schema for module manifests
// and interface descriptors (spec §3, §6). JSON parsing of module.json
// is an external collaborator's concern; this package models only the
// parsed shape and the InterfaceDescriptor equality/hash rules the
// dependency engine and registry rely on.
package manifest

import (
	"golang.org/x/exp/maps"

	"github.com/fimoengine/fimo/pkg/version"
)

// InterfaceDescriptor identifies an exported capability (spec §3).
// Equality is name-equal AND bidirectionally version-compatible AND
// self.Extensions subset-of other.Extensions; Hash/map-keying uses the
// name alone, which stays equality-consistent because equal
// descriptors always share a name.
type InterfaceDescriptor struct {
	Name       string
	Version    version.Version
	Extensions map[string]struct{}
}

// NewInterfaceDescriptor builds a descriptor from a name, version and
// an optional extension list.
func NewInterfaceDescriptor(name string, v version.Version, extensions ...string) InterfaceDescriptor {
	set := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		set[e] = struct{}{}
	}
	return InterfaceDescriptor{Name: name, Version: v, Extensions: set}
}

// Equal implements the descriptor equality rule from spec §3.
func (d InterfaceDescriptor) Equal(o InterfaceDescriptor) bool {
	if d.Name != o.Name {
		return false
	}
	if !d.Version.IsCompatible(o.Version) && !o.Version.IsCompatible(d.Version) {
		return false
	}
	return isSubset(d.Extensions, o.Extensions)
}

// HasExtensions reports whether d's extension set is a superset of
// required, used by the registry's compatible-descriptor lookup.
func (d InterfaceDescriptor) HasExtensions(required map[string]struct{}) bool {
	return isSubset(required, d.Extensions)
}

func isSubset(sub, super map[string]struct{}) bool {
	for k := range sub {
		if _, ok := super[k]; !ok {
			return false
		}
	}
	return true
}

// ExtensionList returns a stable, sorted slice of d's extensions; used
// for deterministic logging/printing, not for equality.
func (d InterfaceDescriptor) ExtensionList() []string {
	keys := maps.Keys(d.Extensions)
	sortStrings(keys)
	return keys
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Manifest is the in-memory schema for a v0 module manifest (spec §6):
// an object with schema "0" and a nested manifest body naming the
// module, its loader type and version, and its dependency/export
// interface lists.
type Manifest struct {
	Schema   string
	Name     string
	Version  version.Version
	LoaderType    string
	LoaderVersion string
	LoadDeps      []InterfaceDescriptor
	RuntimeDeps   []InterfaceDescriptor
	Exports       []InterfaceDescriptor
}

// CoreInterfaceName is the reserved interface name a "core" module
// must export at a version compatible with the runtime's target
// version (spec §3).
const CoreInterfaceName = "fimo::interfaces::core::module::core_interface"
