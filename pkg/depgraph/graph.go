// Package depgraph builds the module dependency DAG and emits a
// deterministic load/init schedule (spec §3, §4.2), grounded on
// fimo_bootstrap_rs/src/dependency_list.rs of the original
// implementation. Manifest text parsing is out of scope (spec §1
// Non-goals); callers supply already-parsed *manifest.Manifest values.
package depgraph

import (
	"sort"

	"github.com/fimoengine/fimo/internal/ferr"
	"github.com/fimoengine/fimo/pkg/manifest"
	"github.com/fimoengine/fimo/pkg/version"
)

// NodeKind distinguishes the three node shapes of the dependency graph.
type NodeKind int

const (
	NodeLoad NodeKind = iota
	NodeInit
	NodeRoot
)

// Node identifies a position in the emitted schedule: Root, or
// Load(i)/Init(i) for the i'th added module (module 0 is the core
// module and is represented solely by Root).
type Node struct {
	Kind  NodeKind
	Index int
}

func (n Node) String() string {
	switch n.Kind {
	case NodeRoot:
		return "Root"
	case NodeLoad:
		return "Load"
	default:
		return "Init"
	}
}

// ModuleCallback runs when a module's corresponding node is reached in
// the emitted schedule; the dependency engine itself never invokes
// these, it only carries them for the caller driving the schedule.
type ModuleCallback func()

// ExportRequest names an export a module wants to claim by name and a
// compatible version, mirroring the original `&[(&str, Version)]`
// parameter.
type ExportRequest struct {
	Name    string
	Version version.Version
}

// moduleRecord is one tracked module (index 0 is always the core
// module supplied to New).
type moduleRecord struct {
	manifest *manifest.Manifest
	exports  []manifest.InterfaceDescriptor
	loadCB   ModuleCallback
	initCB   ModuleCallback
}

// incompleteNode tracks a module whose load/runtime deps are not all
// resolved yet; later AddModule calls may resolve them.
type incompleteNode struct {
	moduleIdx  int
	loadDeps   []manifest.InterfaceDescriptor
	runtimeDeps []manifest.InterfaceDescriptor
}

// interfaceEntry is one export bucketed by name (mirrors the Hash-by-
// name, Eq-by-descriptor-compat semantics of the original's
// HashMap<InterfaceExport, usize>).
type interfaceEntry struct {
	desc      manifest.InterfaceDescriptor
	moduleIdx int
}

// Engine is the dependency graph builder (spec §4.2's "List").
type Engine struct {
	modules       []moduleRecord
	interfaces    map[string][]interfaceEntry
	incomplete    []incompleteNode
	outgoing      map[nodeID]map[nodeID]struct{}
	targetVersion version.Version
}

// nodeID is the graph's internal, order-preserving node identity:
// Root=0; Load(i)=2i-1; Init(i)=2i for i>=1.
type nodeID int

func rootID() nodeID          { return 0 }
func loadID(i int) nodeID     { return nodeID(2*i - 1) }
func initID(i int) nodeID     { return nodeID(2 * i) }

func (e *Engine) nodeFor(id nodeID) Node {
	if id == rootID() {
		return Node{Kind: NodeRoot}
	}
	if id%2 == 1 {
		return Node{Kind: NodeLoad, Index: int((id + 1) / 2)}
	}
	return Node{Kind: NodeInit, Index: int(id / 2)}
}

func (e *Engine) addEdge(from, to nodeID) {
	if e.outgoing[from] == nil {
		e.outgoing[from] = make(map[nodeID]struct{})
	}
	e.outgoing[from][to] = struct{}{}
}

// New initializes the engine with the core module, failing per spec
// §4.2: InvalidCoreModule if the core manifest declares any load/
// runtime dep, CoreInterfaceNotFound if it doesn't export the reserved
// interface at a version compatible with target, MissingExport /
// DuplicateInterface if the requested exports can't be claimed.
func New(core *manifest.Manifest, target version.Version, exports []ExportRequest) (*Engine, error) {
	if len(core.LoadDeps) > 0 || len(core.RuntimeDeps) > 0 {
		return nil, ferr.New(ferr.CodeInvalidCoreModule, "core module must declare no load/runtime dependencies")
	}

	var coreIface *manifest.InterfaceDescriptor
	for i := range core.Exports {
		d := core.Exports[i]
		if d.Name == manifest.CoreInterfaceName && target.IsCompatible(d.Version) {
			coreIface = &core.Exports[i]
			break
		}
	}
	if coreIface == nil {
		return nil, ferr.New(ferr.CodeCoreInterfaceNotFound, "core module does not export the reserved core interface")
	}

	e := &Engine{
		modules:       []moduleRecord{{manifest: core, exports: []manifest.InterfaceDescriptor{*coreIface}}},
		interfaces:    make(map[string][]interfaceEntry),
		outgoing:      make(map[nodeID]map[nodeID]struct{}),
		targetVersion: target,
	}
	e.addInterface(*coreIface, 0)

	resolved, err := e.claimExports(core, exports)
	if err != nil {
		return nil, err
	}
	for _, d := range resolved {
		e.addInterface(d, 0)
	}
	e.modules[0].exports = append(e.modules[0].exports, resolved...)

	return e, nil
}

func (e *Engine) addInterface(d manifest.InterfaceDescriptor, moduleIdx int) {
	e.interfaces[d.Name] = append(e.interfaces[d.Name], interfaceEntry{desc: d, moduleIdx: moduleIdx})
}

func (e *Engine) lookupInterface(d manifest.InterfaceDescriptor) (int, bool) {
	for _, entry := range e.interfaces[d.Name] {
		if entry.desc.Equal(d) {
			return entry.moduleIdx, true
		}
	}
	return 0, false
}

func (e *Engine) claimExports(m *manifest.Manifest, requests []ExportRequest) ([]manifest.InterfaceDescriptor, error) {
	claimed := make([]manifest.InterfaceDescriptor, 0, len(requests))
	for _, req := range requests {
		var found *manifest.InterfaceDescriptor
		for i := range m.Exports {
			d := m.Exports[i]
			if d.Name == req.Name && req.Version.IsCompatible(d.Version) {
				found = &m.Exports[i]
				break
			}
		}
		if found == nil {
			return nil, ferr.Newf(ferr.CodeMissingExport, "%s does not export %q", m.Name, req.Name)
		}
		if _, exists := e.lookupInterface(*found); exists {
			return nil, ferr.Newf(ferr.CodeDuplicateInterface, "%s@%s already registered", found.Name, found.Version)
		}
		claimed = append(claimed, *found)
	}
	return claimed, nil
}

// AddModule registers a new module. It implicitly injects a load
// dependency on the core interface at the module's own version if the
// manifest doesn't already declare one (spec §4.2). Resolved load/init
// edges are added immediately against already-registered interfaces;
// anything unresolved goes on the incomplete list.
func (e *Engine) AddModule(m *manifest.Manifest, exports []ExportRequest, loadCB, initCB ModuleCallback) error {
	claimed, err := e.claimExports(m, exports)
	if err != nil {
		return err
	}

	loadDeps := append([]manifest.InterfaceDescriptor(nil), m.LoadDeps...)
	hasCoreDep := false
	for _, d := range loadDeps {
		if d.Name == manifest.CoreInterfaceName && d.Version.CompareStrong(m.Version) == 0 {
			hasCoreDep = true
			break
		}
	}
	if !hasCoreDep {
		loadDeps = append(loadDeps, manifest.NewInterfaceDescriptor(manifest.CoreInterfaceName, m.Version))
	}

	idx := len(e.modules)
	e.modules = append(e.modules, moduleRecord{manifest: m, exports: claimed, loadCB: loadCB, initCB: initCB})

	load, init := loadID(idx), initID(idx)
	e.addEdge(init, load)

	for _, d := range claimed {
		e.addInterface(d, idx)
	}

	// Re-check previously incomplete modules against the newly added
	// exports.
	still := e.incomplete[:0]
	for _, inc := range e.incomplete {
		inc.loadDeps = e.resolveAgainst(inc.loadDeps, loadID(inc.moduleIdx))
		inc.runtimeDeps = e.resolveAgainst(inc.runtimeDeps, initID(inc.moduleIdx))
		if len(inc.loadDeps) > 0 || len(inc.runtimeDeps) > 0 {
			still = append(still, inc)
		}
	}
	e.incomplete = still

	missingLoad := e.resolveAgainst(loadDeps, load)
	missingRuntime := e.resolveAgainst(m.RuntimeDeps, init)

	if len(missingLoad) > 0 || len(missingRuntime) > 0 {
		e.incomplete = append(e.incomplete, incompleteNode{moduleIdx: idx, loadDeps: missingLoad, runtimeDeps: missingRuntime})
	}

	return nil
}

// resolveAgainst adds an edge from `node` to Init(j) for every dep
// already satisfied by a registered interface, returning the remaining
// unresolved deps.
func (e *Engine) resolveAgainst(deps []manifest.InterfaceDescriptor, node nodeID) []manifest.InterfaceDescriptor {
	remaining := deps[:0:0]
	for _, d := range deps {
		if ownerIdx, ok := e.lookupInterface(d); ok {
			e.addEdge(node, initID(ownerIdx))
			continue
		}
		remaining = append(remaining, d)
	}
	return remaining
}

// GenerateLoadOrder emits the deterministic schedule (spec §4.2): at
// each step, among nodes with zero remaining outgoing edges, pick the
// numerically smallest node id. Fails with MissingDependencies if any
// module still has unresolved deps, CyclicDependencies if a full pass
// finds no zero-out-edge node while nodes remain.
func (e *Engine) GenerateLoadOrder() ([]Node, error) {
	if len(e.incomplete) > 0 {
		return nil, ferr.New(ferr.CodeMissingDependencies, "unresolved module dependencies remain")
	}

	outDegree := make(map[nodeID]int)
	allNodes := []nodeID{rootID()}
	for i := 1; i < len(e.modules); i++ {
		allNodes = append(allNodes, loadID(i), initID(i))
	}
	for _, n := range allNodes {
		outDegree[n] = len(e.outgoing[n])
	}

	order := make([]Node, 0, len(allNodes))
	for len(outDegree) > 0 {
		ready := make([]nodeID, 0, 4)
		for n, deg := range outDegree {
			if deg == 0 {
				ready = append(ready, n)
			}
		}
		if len(ready) == 0 {
			return nil, ferr.New(ferr.CodeCyclicDependencies, "dependency graph contains a cycle")
		}
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		picked := ready[0]

		order = append(order, e.nodeFor(picked))
		delete(outDegree, picked)

		for from, tos := range e.outgoing {
			if _, ok := outDegree[from]; !ok {
				continue
			}
			if _, hasEdge := tos[picked]; hasEdge {
				outDegree[from]--
			}
		}
	}

	return order, nil
}

// ModuleCallbacks returns the (loadCB, initCB) registered for module
// index i (1-based as assigned by AddModule), used by a caller driving
// the schedule returned by GenerateLoadOrder.
func (e *Engine) ModuleCallbacks(i int) (load, init ModuleCallback) {
	m := e.modules[i]
	return m.loadCB, m.initCB
}
