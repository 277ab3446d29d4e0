package metrics

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/prometheus/procfs"

	"github.com/GriffinCanCode/apmagent/model"
)

// ProcessProvider reports CPU and memory usage of the current process.
type ProcessProvider struct {
	mountPoint string
	fs         *procfs.FS

	lastCPU  float64
	lastWall time.Time
	now      func() time.Time
}

// NewProcessProvider creates a process provider reading the default /proc.
func NewProcessProvider() *ProcessProvider {
	return &ProcessProvider{mountPoint: procfs.DefaultMountPoint, now: time.Now}
}

// Name implements Provider.
func (p *ProcessProvider) Name() string { return "process" }

// Gather implements Provider. CPU percentage is only reported from the second
// sample on, since it needs a previous reading.
func (p *ProcessProvider) Gather(_ context.Context, ms *model.MetricSet) error {
	fs, err := openFS(&p.fs, p.mountPoint)
	if err != nil {
		return err
	}
	proc, err := fs.Self()
	if err != nil {
		return fmt.Errorf("read self: %w", err)
	}
	stat, err := proc.Stat()
	if err != nil {
		return fmt.Errorf("read process stat: %w", err)
	}

	ms.Add("system.process.memory.size", float64(stat.VirtualMemory()))
	ms.Add("system.process.memory.rss.bytes", float64(stat.ResidentMemory()))

	now := p.now()
	cpu := stat.CPUTime()
	if !p.lastWall.IsZero() {
		if wall := now.Sub(p.lastWall).Seconds(); wall > 0 {
			pct := (cpu - p.lastCPU) / wall
			ms.Add("system.process.cpu.total.pct", pct)
			ms.Add("system.process.cpu.total.norm.pct", pct/float64(runtime.NumCPU()))
		}
	}
	p.lastCPU = cpu
	p.lastWall = now
	return nil
}

// SystemProvider reports host memory and CPU usage.
type SystemProvider struct {
	mountPoint string
	fs         *procfs.FS

	lastBusy  float64
	lastTotal float64
}

// NewSystemProvider creates a system provider reading the default /proc.
func NewSystemProvider() *SystemProvider {
	return &SystemProvider{mountPoint: procfs.DefaultMountPoint}
}

// Name implements Provider.
func (p *SystemProvider) Name() string { return "system" }

// Gather implements Provider.
func (p *SystemProvider) Gather(_ context.Context, ms *model.MetricSet) error {
	fs, err := openFS(&p.fs, p.mountPoint)
	if err != nil {
		return err
	}

	mem, err := fs.Meminfo()
	if err != nil {
		return fmt.Errorf("read meminfo: %w", err)
	}
	if mem.MemTotal != nil {
		ms.Add("system.memory.total", float64(*mem.MemTotal*1024))
	}
	if mem.MemAvailable != nil {
		ms.Add("system.memory.actual.free", float64(*mem.MemAvailable*1024))
	}

	stat, err := fs.Stat()
	if err != nil {
		return fmt.Errorf("read stat: %w", err)
	}
	c := stat.CPUTotal
	idle := c.Idle + c.Iowait
	total := c.User + c.Nice + c.System + idle + c.IRQ + c.SoftIRQ + c.Steal
	busy := total - idle
	if p.lastTotal > 0 {
		if dt := total - p.lastTotal; dt > 0 {
			ms.Add("system.cpu.total.norm.pct", (busy-p.lastBusy)/dt)
		}
	}
	p.lastBusy = busy
	p.lastTotal = total
	return nil
}

func openFS(cached **procfs.FS, mountPoint string) (*procfs.FS, error) {
	if *cached != nil {
		return *cached, nil
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	*cached = &fs
	return *cached, nil
}
