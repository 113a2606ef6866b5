// Command fimo-node bootstraps a single-process fimo runtime: it builds
// a dependency graph for a small set of modules, drives the emitted
// load/init schedule against a module registry, then hands off to a
// worker group that runs a batch of tasks under a command buffer.
package main

import (
	"os"
	"time"

	"github.com/fimoengine/fimo/internal/ferr"
	"github.com/fimoengine/fimo/internal/logx"
	"github.com/fimoengine/fimo/pkg/depgraph"
	"github.com/fimoengine/fimo/pkg/manifest"
	"github.com/fimoengine/fimo/pkg/registry"
	"github.com/fimoengine/fimo/pkg/tasks"
	"github.com/fimoengine/fimo/pkg/version"
)

func main() {
	log := logx.Default().With("node")
	log.Info("fimo node starting")

	if err := run(log); err != nil {
		log.Error("fimo node exited with error", logx.Err(err))
		os.Exit(1)
	}
	log.Info("fimo node shut down cleanly")
}

func run(log *logx.Logger) error {
	target := version.NewShort(1, 0, 0)
	reg := registry.New()

	graph, err := bootstrapGraph(target, reg, log)
	if err != nil {
		return ferr.Wrap(ferr.CodeInvalidManifest, "failed to bootstrap dependency graph", err)
	}

	order, err := graph.GenerateLoadOrder()
	if err != nil {
		return err
	}
	log.Info("generated load order", logx.Int("nodes", len(order)))

	for _, node := range order {
		if node.Kind == depgraph.NodeRoot {
			continue
		}
		load, init := graph.ModuleCallbacks(node.Index)
		switch node.Kind {
		case depgraph.NodeLoad:
			if load != nil {
				load()
			}
		case depgraph.NodeInit:
			if init != nil {
				init()
			}
		}
	}

	group := tasks.NewWorkerGroup(4, 8, tasks.StackPoolMetrics{})
	defer group.Close()

	cb := group.NewCommandBuffer()
	results := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		cb.SpawnTask(func(ctx *tasks.Context) error {
			time.Sleep(time.Millisecond)
			results <- i
			return nil
		})
	}

	if err := cb.Join(); err != nil {
		return err
	}
	close(results)
	total := 0
	for range results {
		total++
	}
	log.Info("command buffer drained", logx.Int("tasks_completed", total))
	return nil
}

// bootstrapGraph registers a minimal core module plus two dependent
// modules: a storage module, and a scheduler module that depends on
// storage's export.
func bootstrapGraph(target version.Version, reg *registry.Registry, log *logx.Logger) (*depgraph.Engine, error) {
	coreVersion := version.NewShort(1, 0, 0)
	core := &manifest.Manifest{
		Schema:  "0",
		Name:    "core",
		Version: coreVersion,
		Exports: []manifest.InterfaceDescriptor{
			manifest.NewInterfaceDescriptor(manifest.CoreInterfaceName, coreVersion),
		},
	}

	graph, err := depgraph.New(core, target, nil)
	if err != nil {
		return nil, err
	}

	storageVersion := version.NewShort(1, 0, 0)
	storageIface := manifest.NewInterfaceDescriptor("fimo::storage", storageVersion)
	storage := &manifest.Manifest{
		Schema:  "0",
		Name:    "storage",
		Version: storageVersion,
		Exports: []manifest.InterfaceDescriptor{storageIface},
	}
	if err := graph.AddModule(storage, []depgraph.ExportRequest{{Name: storageIface.Name, Version: storageVersion}},
		func() { registerLoader(reg, "storage", log) },
		func() { log.Info("storage module initialized") },
	); err != nil {
		return nil, err
	}

	schedulerVersion := version.NewShort(1, 0, 0)
	scheduler := &manifest.Manifest{
		Schema:   "0",
		Name:     "scheduler",
		Version:  schedulerVersion,
		LoadDeps: []manifest.InterfaceDescriptor{storageIface},
	}
	if err := graph.AddModule(scheduler, nil,
		func() { registerLoader(reg, "scheduler", log) },
		func() { log.Info("scheduler module initialized") },
	); err != nil {
		return nil, err
	}

	return graph, nil
}

func registerLoader(reg *registry.Registry, loaderType string, log *logx.Logger) {
	handle, err := reg.RegisterLoader(loaderType, nil)
	if err != nil {
		log.Error("failed to register loader", logx.String("loader_type", loaderType), logx.Err(err))
		return
	}
	log.Info("loader registered", logx.String("loader_type", loaderType), logx.Uint64("id", uint64(handle.ID())))
}
