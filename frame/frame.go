// Package frame implements the physical frame allocator and a simulated
// backing store for physical RAM.
//
// Real hardware addresses physical memory directly; a portable Go process
// cannot. PhysMem models the region [0, MemoryEnd) as a sparse, per-PPN
// store allocated on first touch, so every PPN the allocator hands out is
// still a stable, independently addressable 4 KiB array — the page-table
// and address-space logic built on top never has to know the backing
// store is simulated. This choice is recorded in DESIGN.md; every
// accounting invariant from spec §4.1/§8 (range, uniqueness, zeroing,
// free-list exactness) is enforced exactly as specified.
//
// Grounded on biscuit's mem.Pa_t/Bytepg_t newtype-and-fixed-array style
// (biscuit/src/mem/mem.go) and on the allocator shape described in
// original_source's frame_allocator.rs.
package frame

import (
	"fmt"
	"sync"
	"unsafe"

	"rv39kernel/memaddr"
)

// Page is one 4 KiB physical frame's contents.
type Page [4096]byte

// PhysMem is the process-wide simulated physical memory store.
type PhysMem struct {
	mu     sync.Mutex
	frames map[memaddr.PPN]*Page
}

// NewPhysMem creates an empty backing store.
func NewPhysMem() *PhysMem {
	return &PhysMem{frames: make(map[memaddr.PPN]*Page)}
}

// Page returns the backing array for ppn, creating it (zeroed) on first
// access.
func (m *PhysMem) Page(ppn memaddr.PPN) *Page {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.frames[ppn]
	if !ok {
		p = &Page{}
		m.frames[ppn] = p
	}
	return p
}

// Bytes returns the frame's contents as a byte slice.
func (m *PhysMem) Bytes(ppn memaddr.PPN) []byte {
	return m.Page(ppn)[:]
}

// PTEs views the frame as 512 64-bit page-table entries, aliasing the
// same backing bytes. Mirrors biscuit's Pmap_t/Bytepg_t dual view of a
// single physical page (mem/mem.go).
func (m *PhysMem) PTEs(ppn memaddr.PPN) *[512]uint64 {
	return (*[512]uint64)(unsafe.Pointer(m.Page(ppn)))
}

// Allocator hands out and reclaims frames from [start, end). It matches
// spec §4.1: a monotone cursor, a free-list consulted first, and a fatal
// double-free / out-of-range check in Dealloc.
type Allocator struct {
	mu      sync.Mutex
	mem     *PhysMem
	current memaddr.PPN
	end     memaddr.PPN
	free    map[memaddr.PPN]bool
}

// NewAllocator creates an allocator managing [start, end).
func NewAllocator(mem *PhysMem, start, end memaddr.PPN) *Allocator {
	return &Allocator{
		mem:     mem,
		current: start,
		end:     end,
		free:    make(map[memaddr.PPN]bool),
	}
}

// Handle owns exactly one PPN; dropping it (Release) returns the PPN to
// the pool. Target languages without destructors must route every
// release through this single method, from exactly one ownership point.
type Handle struct {
	a   *Allocator
	ppn memaddr.PPN
}

// PPN returns the owned physical page number.
func (h *Handle) PPN() memaddr.PPN { return h.ppn }

// Page returns the zeroed-on-alloc backing storage for this frame.
func (h *Handle) Page() *Page { return h.a.mem.Page(h.ppn) }

// Release returns the frame to the allocator. Safe to call at most once;
// calling it twice is a double free and is fatal, matching spec §7.
func (h *Handle) Release() {
	h.a.dealloc(h.ppn)
}

// Alloc pops a frame from the free list, or advances the cursor if the
// free list is empty. It returns false when the region is exhausted.
func (a *Allocator) Alloc() (*Handle, bool) {
	a.mu.Lock()
	var ppn memaddr.PPN
	got := false
	for p := range a.free {
		ppn = p
		got = true
		break
	}
	if got {
		delete(a.free, ppn)
	} else if a.current < a.end {
		ppn = a.current
		a.current++
		got = true
	}
	a.mu.Unlock()
	if !got {
		return nil, false
	}
	page := a.mem.Page(ppn)
	for i := range page {
		page[i] = 0
	}
	return &Handle{a: a, ppn: ppn}, true
}

// MustAlloc allocates a frame, panicking (fatal, per spec §4.1/§7) if the
// region is exhausted. Used by trusted kernel setup that cannot tolerate
// exhaustion.
func (a *Allocator) MustAlloc() *Handle {
	h, ok := a.Alloc()
	if !ok {
		panic("frame: allocator exhausted during trusted setup")
	}
	return h
}

func (a *Allocator) dealloc(ppn memaddr.PPN) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ppn >= a.current {
		panic(fmt.Sprintf("frame: dealloc of never-allocated ppn %#x", ppn))
	}
	if a.free[ppn] {
		panic(fmt.Sprintf("frame: double free of ppn %#x", ppn))
	}
	a.free[ppn] = true
}

// Recycled reports the set of PPNs currently on the free list: every
// PPN whose handle has been released and not re-allocated. Exposed for
// the accounting property in spec §8.
func (a *Allocator) Recycled() map[memaddr.PPN]bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[memaddr.PPN]bool, len(a.free))
	for k := range a.free {
		out[k] = true
	}
	return out
}

// InUse reports how many frames are currently handed out and not on the
// free list: the cursor position minus everything released back onto
// the free list. Not an absolute count (the cursor never retreats), but
// stable across an alloc/release cycle — exposed so tests can assert a
// baseline is restored after a task's frames are all released.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.current) - len(a.free)
}
