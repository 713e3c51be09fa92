// Package accel abstracts the shared accelerator device. The resource
// layer only needs the memory-hygiene surface: release cached
// allocations, wait for pending device work, and trigger host garbage
// collection. Concrete accelerator backends implement Device; the host
// device backs CPU-only builds and tests.
package accel

import (
	"runtime"
	"sync/atomic"
)

// Device is the accelerator handle shared by all resource slots in a
// process. Implementations must be safe for concurrent use.
type Device interface {
	// Name identifies the device, e.g. "cuda" or "cpu".
	Name() string
	// ReleaseCache returns cached allocations to the device allocator.
	ReleaseCache() error
	// Synchronize blocks until pending device operations complete.
	Synchronize() error
	// Collect triggers a host garbage collection pass.
	Collect()
}

// HostDevice is the CPU fallback. ReleaseCache and Synchronize are
// no-ops because host memory is managed by the Go runtime.
type HostDevice struct {
	collects atomic.Uint64
}

func NewHostDevice() *HostDevice { return &HostDevice{} }

func (d *HostDevice) Name() string { return "cpu" }

func (d *HostDevice) ReleaseCache() error { return nil }

func (d *HostDevice) Synchronize() error { return nil }

func (d *HostDevice) Collect() {
	d.collects.Add(1)
	runtime.GC()
}

// Collects reports how many collection passes ran; used by status
// reporting and tests.
func (d *HostDevice) Collects() uint64 { return d.collects.Load() }
