// Package pid allocates process IDs and, via addrspace, each process's
// kernel-stack virtual region. Both are released automatically when
// their Handle is dropped.
//
// Grounded on the cursor-plus-free-list shape biscuit and
// original_source both use for resource IDs (biscuit/src/mem/mem.go's
// frame allocator pattern; original_source's task/pid.rs).
package pid

import (
	"fmt"
	"sync"

	"rv39kernel/addrspace"
	"rv39kernel/memaddr"
)

// Allocator hands out PIDs from a monotone cursor plus a free-list,
// identical in shape to the frame allocator (spec §4.6).
type Allocator struct {
	mu      sync.Mutex
	current int
	free    map[int]bool
}

// NewAllocator creates a PID allocator starting at 1 (PID 0 is reserved
// for "no task").
func NewAllocator() *Allocator {
	return &Allocator{current: 1, free: make(map[int]bool)}
}

// Handle owns exactly one PID and, once attached via Bind, that PID's
// kernel-stack region in kernel space. Release tears both down.
type Handle struct {
	a    *Allocator
	pid  int
	ks   *addrspace.MemorySet
	top  memaddr.VirtAddr
	used bool
}

// PID returns the owned process ID.
func (h *Handle) PID() int { return h.pid }

// Alloc reserves a new PID, popping the free list first.
func (a *Allocator) Alloc() *Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	for p := range a.free {
		delete(a.free, p)
		return &Handle{a: a, pid: p}
	}
	p := a.current
	a.current++
	return &Handle{a: a, pid: p}
}

// Release returns the PID to the pool. Fatal on double release.
func (h *Handle) Release() {
	h.a.mu.Lock()
	defer h.a.mu.Unlock()
	if h.a.free[h.pid] {
		panic(fmt.Sprintf("pid: double free of pid %d", h.pid))
	}
	h.a.free[h.pid] = true
}

// BindKernelStack maps this PID's kernel-stack region into kernel space
// and records enough to unmap it again on release.
func (h *Handle) BindKernelStack(kernel *addrspace.MemorySet) memaddr.VirtAddr {
	h.ks = kernel
	h.top = kernel.MapKernelStack(h.pid)
	return h.top
}

// KernelStackTop returns the previously bound kernel-stack top.
func (h *Handle) KernelStackTop() memaddr.VirtAddr { return h.top }

// ReleaseKernelStack unmaps the kernel-stack region. Called once, before
// or as part of Release, from the same ownership point (spec §9 RAII
// discipline).
func (h *Handle) ReleaseKernelStack() {
	if h.ks != nil {
		h.ks.UnmapKernelStack(h.pid)
		h.ks = nil
	}
}
