package depgraph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fimoengine/fimo/internal/ferr"
	"github.com/fimoengine/fimo/pkg/manifest"
	"github.com/fimoengine/fimo/pkg/version"
)

func coreManifest() *manifest.Manifest {
	v := version.NewShort(1, 0, 0)
	return &manifest.Manifest{
		Schema:  "0",
		Name:    "fimo_core",
		Version: v,
		Exports: []manifest.InterfaceDescriptor{
			manifest.NewInterfaceDescriptor(manifest.CoreInterfaceName, v),
		},
	}
}

func iface(name string) manifest.InterfaceDescriptor {
	return manifest.NewInterfaceDescriptor(name, version.NewShort(1, 0, 0))
}

func req(name string) ExportRequest {
	return ExportRequest{Name: name, Version: version.NewShort(1, 0, 0)}
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(coreManifest(), version.NewShort(1, 0, 0), nil)
	require.NoError(t, err)
	return e
}

func TestNewRejectsCoreWithDeps(t *testing.T) {
	core := coreManifest()
	core.LoadDeps = []manifest.InterfaceDescriptor{iface("whatever")}
	_, err := New(core, version.NewShort(1, 0, 0), nil)
	require.Error(t, err)
	assert.True(t, ferr.HasCode(err, ferr.CodeInvalidCoreModule))
}

func TestNewRejectsMissingCoreInterface(t *testing.T) {
	core := coreManifest()
	core.Exports = nil
	_, err := New(core, version.NewShort(1, 0, 0), nil)
	require.Error(t, err)
	assert.True(t, ferr.HasCode(err, ferr.CodeCoreInterfaceNotFound))
}

func TestAddModuleMissingExport(t *testing.T) {
	e := newEngine(t)
	m := &manifest.Manifest{Name: "mod_a", Version: version.NewShort(1, 0, 0)}
	err := e.AddModule(m, []ExportRequest{req("nope")}, nil, nil)
	require.Error(t, err)
	assert.True(t, ferr.HasCode(err, ferr.CodeMissingExport))
}

func TestAddModuleDuplicateInterface(t *testing.T) {
	e := newEngine(t)
	v := version.NewShort(1, 0, 0)
	a := &manifest.Manifest{Name: "mod_a", Version: v, Exports: []manifest.InterfaceDescriptor{iface("shared")}}
	require.NoError(t, e.AddModule(a, []ExportRequest{req("shared")}, nil, nil))

	b := &manifest.Manifest{Name: "mod_b", Version: v, Exports: []manifest.InterfaceDescriptor{iface("shared")}}
	err := e.AddModule(b, []ExportRequest{req("shared")}, nil, nil)
	require.Error(t, err)
	assert.True(t, ferr.HasCode(err, ferr.CodeDuplicateInterface))
}

func TestGenerateLoadOrderMissingDependencies(t *testing.T) {
	e := newEngine(t)
	v := version.NewShort(1, 0, 0)
	m := &manifest.Manifest{
		Name:     "mod_a",
		Version:  v,
		LoadDeps: []manifest.InterfaceDescriptor{iface("never_exported")},
	}
	require.NoError(t, e.AddModule(m, nil, nil, nil))

	_, err := e.GenerateLoadOrder()
	require.Error(t, err)
	assert.True(t, ferr.HasCode(err, ferr.CodeMissingDependencies))
}

func TestGenerateLoadOrderCyclicDependencies(t *testing.T) {
	e := newEngine(t)
	v := version.NewShort(1, 0, 0)

	a := &manifest.Manifest{
		Name:     "mod_a",
		Version:  v,
		LoadDeps: []manifest.InterfaceDescriptor{iface("b_iface")},
		Exports:  []manifest.InterfaceDescriptor{iface("a_iface")},
	}
	require.NoError(t, e.AddModule(a, []ExportRequest{req("a_iface")}, nil, nil))

	b := &manifest.Manifest{
		Name:     "mod_b",
		Version:  v,
		LoadDeps: []manifest.InterfaceDescriptor{iface("a_iface")},
		Exports:  []manifest.InterfaceDescriptor{iface("b_iface")},
	}
	require.NoError(t, e.AddModule(b, []ExportRequest{req("b_iface")}, nil, nil))

	// Adding b resolves a's pending load-dep on b_iface (Load(a) ->
	// Init(b)); b's own load-dep on a_iface resolves immediately
	// (Load(b) -> Init(a)). Combined with the universal Init->Load
	// self edges, Init(a) -> Load(a) -> Init(b) -> Load(b) -> Init(a)
	// closes a cycle.
	_, err := e.GenerateLoadOrder()
	require.Error(t, err)
	assert.True(t, ferr.HasCode(err, ferr.CodeCyclicDependencies))
}

func TestGenerateLoadOrderSingleDependency(t *testing.T) {
	e := newEngine(t)
	v := version.NewShort(1, 0, 0)

	provider := &manifest.Manifest{Name: "provider", Version: v, Exports: []manifest.InterfaceDescriptor{iface("p_iface")}}
	require.NoError(t, e.AddModule(provider, []ExportRequest{req("p_iface")}, nil, nil))

	consumer := &manifest.Manifest{
		Name:     "consumer",
		Version:  v,
		LoadDeps: []manifest.InterfaceDescriptor{iface("p_iface")},
	}
	require.NoError(t, e.AddModule(consumer, nil, nil, nil))

	order, err := e.GenerateLoadOrder()
	require.NoError(t, err)

	want := []Node{
		{Kind: NodeRoot},
		{Kind: NodeLoad, Index: 1},
		{Kind: NodeInit, Index: 1},
		{Kind: NodeLoad, Index: 2},
		{Kind: NodeInit, Index: 2},
	}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Fatalf("load order mismatch (-want +got):\n%s", diff)
	}
}

// TestGenerateLoadOrderSixModulePinned reconstructs a six-module graph
// whose deterministic schedule is [Root, Load4, Init4, Load3, Init3,
// Load2, Init2, Load6, Init6, Load1, Load5, Init5, Init1]: module4 has
// no inter-module dependency and is scheduled first among the
// non-root nodes; modules 3, 2 and 6 each chain-load off the previous
// one's export; modules 1 and 5 both load-depend on module 6's export
// (so both become ready together once Init6 completes, with module 1
// winning the numeric tiebreak), and module 1 additionally carries a
// runtime dependency on module 5's export, pinning Init1 last.
func TestGenerateLoadOrderSixModulePinned(t *testing.T) {
	e := newEngine(t)
	v := version.NewShort(1, 0, 0)

	module1 := &manifest.Manifest{
		Name:        "module1",
		Version:     v,
		LoadDeps:    []manifest.InterfaceDescriptor{iface("iface6")},
		RuntimeDeps: []manifest.InterfaceDescriptor{iface("iface5")},
		Exports:     []manifest.InterfaceDescriptor{iface("iface1")},
	}
	require.NoError(t, e.AddModule(module1, []ExportRequest{req("iface1")}, nil, nil))

	module2 := &manifest.Manifest{
		Name:     "module2",
		Version:  v,
		LoadDeps: []manifest.InterfaceDescriptor{iface("iface3")},
		Exports:  []manifest.InterfaceDescriptor{iface("iface2")},
	}
	require.NoError(t, e.AddModule(module2, []ExportRequest{req("iface2")}, nil, nil))

	module3 := &manifest.Manifest{
		Name:     "module3",
		Version:  v,
		LoadDeps: []manifest.InterfaceDescriptor{iface("iface4")},
		Exports:  []manifest.InterfaceDescriptor{iface("iface3")},
	}
	require.NoError(t, e.AddModule(module3, []ExportRequest{req("iface3")}, nil, nil))

	module4 := &manifest.Manifest{
		Name:    "module4",
		Version: v,
		Exports: []manifest.InterfaceDescriptor{iface("iface4")},
	}
	require.NoError(t, e.AddModule(module4, []ExportRequest{req("iface4")}, nil, nil))

	module5 := &manifest.Manifest{
		Name:     "module5",
		Version:  v,
		LoadDeps: []manifest.InterfaceDescriptor{iface("iface6")},
		Exports:  []manifest.InterfaceDescriptor{iface("iface5")},
	}
	require.NoError(t, e.AddModule(module5, []ExportRequest{req("iface5")}, nil, nil))

	module6 := &manifest.Manifest{
		Name:     "module6",
		Version:  v,
		LoadDeps: []manifest.InterfaceDescriptor{iface("iface2")},
		Exports:  []manifest.InterfaceDescriptor{iface("iface6")},
	}
	require.NoError(t, e.AddModule(module6, []ExportRequest{req("iface6")}, nil, nil))

	order, err := e.GenerateLoadOrder()
	require.NoError(t, err)

	want := []Node{
		{Kind: NodeRoot},
		{Kind: NodeLoad, Index: 4}, {Kind: NodeInit, Index: 4},
		{Kind: NodeLoad, Index: 3}, {Kind: NodeInit, Index: 3},
		{Kind: NodeLoad, Index: 2}, {Kind: NodeInit, Index: 2},
		{Kind: NodeLoad, Index: 6}, {Kind: NodeInit, Index: 6},
		{Kind: NodeLoad, Index: 1},
		{Kind: NodeLoad, Index: 5}, {Kind: NodeInit, Index: 5},
		{Kind: NodeInit, Index: 1},
	}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Fatalf("load order mismatch (-want +got):\n%s", diff)
	}
}
