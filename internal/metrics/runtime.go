package metrics

import (
	"context"
	"runtime"

	"github.com/GriffinCanCode/apmagent/model"
)

// RuntimeProvider reports Go runtime statistics.
type RuntimeProvider struct {
	lastNumGC uint32
}

// NewRuntimeProvider creates a runtime provider.
func NewRuntimeProvider() *RuntimeProvider {
	return &RuntimeProvider{}
}

// Name implements Provider.
func (p *RuntimeProvider) Name() string { return "runtime" }

// Gather implements Provider.
func (p *RuntimeProvider) Gather(_ context.Context, ms *model.MetricSet) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	ms.Add("golang.goroutines", float64(runtime.NumGoroutine()))

	ms.Add("golang.heap.allocations.mallocs", float64(mem.Mallocs))
	ms.Add("golang.heap.allocations.frees", float64(mem.Frees))
	ms.Add("golang.heap.allocations.objects", float64(mem.HeapObjects))
	ms.Add("golang.heap.allocations.total", float64(mem.TotalAlloc))
	ms.Add("golang.heap.allocations.allocated", float64(mem.HeapAlloc))
	ms.Add("golang.heap.allocations.idle", float64(mem.HeapIdle))
	ms.Add("golang.heap.allocations.active", float64(mem.HeapInuse))

	ms.Add("golang.heap.system.total", float64(mem.Sys))
	ms.Add("golang.heap.system.obtained", float64(mem.HeapSys))
	ms.Add("golang.heap.system.stack", float64(mem.StackSys))
	ms.Add("golang.heap.system.released", float64(mem.HeapReleased))

	ms.Add("golang.heap.gc.next_gc_limit", float64(mem.NextGC))
	ms.Add("golang.heap.gc.total_count", float64(mem.NumGC))
	ms.Add("golang.heap.gc.total_pause.ns", float64(mem.PauseTotalNs))
	ms.Add("golang.heap.gc.cpu_fraction", mem.GCCPUFraction)

	// Cycles completed since the previous sample
	ms.Add("golang.heap.gc.count", float64(mem.NumGC-p.lastNumGC))
	p.lastNumGC = mem.NumGC
	return nil
}
