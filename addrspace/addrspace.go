// Package addrspace implements MemorySet: a page table plus an ordered
// collection of MapAreas, covering kernel-space construction, per-user
// ELF loading, fork-copy, heap shrink/grow, and mmap/munmap.
//
// Grounded on biscuit's Vm_t/Vmregion_t (biscuit/src/vm/as.go) for the
// region-list-plus-pagetable shape, and on original_source's
// mm/memory_set.rs for the exact SV39/ELF/trap-context layout this spec
// requires.
package addrspace

import (
	"bytes"
	"debug/elf"
	"fmt"

	"rv39kernel/config"
	"rv39kernel/frame"
	"rv39kernel/memaddr"
	"rv39kernel/pagetable"
)

// MapType distinguishes identity maps (kernel) from framed maps (owned
// data frames).
type MapType int

const (
	Identical MapType = iota
	Framed
)

// Perm is the R/W/X/U subset of pagetable.Flags a MapArea is allowed to
// carry; V/G/A/D are managed by the mapper itself.
type Perm = pagetable.Flags

const (
	PermR = pagetable.FlagR
	PermW = pagetable.FlagW
	PermX = pagetable.FlagX
	PermU = pagetable.FlagU
)

// MapArea is a half-open VPN range with a uniform permission set and
// (for Framed areas) one owned data frame per VPN.
type MapArea struct {
	Start, End memaddr.VPN
	Typ        MapType
	Perm       Perm
	Frames     map[memaddr.VPN]*frame.Handle
}

func newArea(start, end memaddr.VPN, typ MapType, perm Perm) *MapArea {
	a := &MapArea{Start: start, End: end, Typ: typ, Perm: perm}
	if typ == Framed {
		a.Frames = make(map[memaddr.VPN]*frame.Handle)
	}
	return a
}

// contains reports whether vpn falls in this area's range.
func (a *MapArea) contains(vpn memaddr.VPN) bool { return vpn >= a.Start && vpn < a.End }

// mapInto installs every page of the area into pt, allocating frames
// for Framed areas.
func (a *MapArea) mapInto(pt *pagetable.Table, alloc *frame.Allocator) {
	for vpn := a.Start; vpn < a.End; vpn++ {
		switch a.Typ {
		case Identical:
			pt.Map(vpn, memaddr.PPN(vpn), a.Perm)
		case Framed:
			h := alloc.MustAlloc()
			a.Frames[vpn] = h
			pt.Map(vpn, h.PPN(), a.Perm)
		}
	}
}

// unmapFrom removes every page of the area from pt and releases owned
// frames.
func (a *MapArea) unmapFrom(pt *pagetable.Table) {
	for vpn := a.Start; vpn < a.End; vpn++ {
		pt.Unmap(vpn)
		if a.Typ == Framed {
			if h, ok := a.Frames[vpn]; ok {
				h.Release()
				delete(a.Frames, vpn)
			}
		}
	}
}

// copyDataPages copies file bytes into a Framed area page by page,
// zero-filling the tail, starting at the area's first page.
func (a *MapArea) copyDataPages(mem *frame.PhysMem, data []byte) {
	off := 0
	for vpn := a.Start; vpn < a.End && off < len(data); vpn++ {
		h := a.Frames[vpn]
		page := mem.Bytes(h.PPN())
		n := len(data) - off
		if n > len(page) {
			n = len(page)
		}
		copy(page, data[off:off+n])
		for i := n; i < len(page); i++ {
			page[i] = 0
		}
		off += n
	}
}

// MemorySet is a page table plus its ordered, non-overlapping MapAreas.
type MemorySet struct {
	mem      *frame.PhysMem
	alloc    *frame.Allocator
	PT       *pagetable.Table
	Areas    []*MapArea
	trampPPN memaddr.PPN
	hasTramp bool
}

func newEmpty(mem *frame.PhysMem, alloc *frame.Allocator) *MemorySet {
	return &MemorySet{mem: mem, alloc: alloc, PT: pagetable.New(mem, alloc)}
}

// mapTrampoline maps the shared trampoline page (R+X, kernel-only) at
// the fixed top-of-address-space virtual address. The trampoline's
// physical frame is owned by the kernel image, not by any MapArea —
// the one exception to "every mapped VPN belongs to exactly one area"
// (spec §3).
func (ms *MemorySet) mapTrampoline(trampPPN memaddr.PPN) {
	ms.trampPPN = trampPPN
	ms.hasTramp = true
	ms.PT.Map(memaddr.VirtAddr(config.Trampoline).Floor(), trampPPN, PermR|PermX)
}

// KernelImage describes the linker-provided section boundaries used to
// build kernel space's identity mappings. Values are physical page
// numbers; in this simulation they delimit synthetic, non-overlapping
// ranges standing in for the boot image's sections (spec §6 treats the
// real linker glue as out of scope).
type KernelImage struct {
	Stext, Etext     memaddr.PPN
	Srodata, Erodata memaddr.PPN
	Sdata, Ebss      memaddr.PPN
	Ekernel          memaddr.PPN
}

// NewKernelSpace builds the kernel's identity-mapped address space:
// .text (R+X), .rodata (R), .data/.bss (R+W), the physical-memory tail
// [ekernel, memoryEnd) (R+W), and the trampoline.
func NewKernelSpace(mem *frame.PhysMem, alloc *frame.Allocator, img KernelImage, memoryEnd memaddr.PPN, trampPPN memaddr.PPN) *MemorySet {
	ms := newEmpty(mem, alloc)
	add := func(start, end memaddr.PPN, perm Perm) {
		if start >= end {
			return
		}
		a := newArea(memaddr.VPN(start), memaddr.VPN(end), Identical, perm)
		a.mapInto(ms.PT, alloc)
		ms.Areas = append(ms.Areas, a)
	}
	add(img.Stext, img.Etext, PermR|PermX)
	add(img.Srodata, img.Erodata, PermR)
	add(img.Sdata, img.Ebss, PermR|PermW)
	add(img.Ekernel, memoryEnd, PermR|PermW)
	ms.mapTrampoline(trampPPN)
	return ms
}

// kstackRange returns the VPN range of pid's kernel stack, per spec
// §4.6: top(pid) = TRAMPOLINE - pid*(KERNEL_STACK_SIZE+PAGE_SIZE).
func kstackRange(pid int) (start, end memaddr.VPN) {
	top := config.Trampoline - uint64(pid)*(config.KernelStackSize+config.PageSize)
	bottom := top - config.KernelStackSize
	return memaddr.VirtAddr(bottom).Floor(), memaddr.VirtAddr(top).Floor()
}

// MapKernelStack inserts pid's framed, R+W kernel-stack region into
// kernel space and returns its top virtual address.
func (ms *MemorySet) MapKernelStack(pid int) memaddr.VirtAddr {
	start, end := kstackRange(pid)
	a := newArea(start, end, Framed, PermR|PermW)
	a.mapInto(ms.PT, ms.alloc)
	ms.Areas = append(ms.Areas, a)
	return end.Addr()
}

// UnmapKernelStack removes the kernel-stack region for pid, releasing
// its frames.
func (ms *MemorySet) UnmapKernelStack(pid int) {
	start, _ := kstackRange(pid)
	ms.removeAreaStartingAt(start)
}

func (ms *MemorySet) removeAreaStartingAt(start memaddr.VPN) bool {
	for i, a := range ms.Areas {
		if a.Start == start {
			a.unmapFrom(ms.PT)
			ms.Areas = append(ms.Areas[:i], ms.Areas[i+1:]...)
			return true
		}
	}
	return false
}

// elfFlagsToPerm converts an ELF PT_LOAD flags field to our Perm bits,
// always adding U (every ELF segment belongs to a user space).
func elfFlagsToPerm(f elf.ProgFlag) Perm {
	var p Perm = PermU
	if f&elf.PF_R != 0 {
		p |= PermR
	}
	if f&elf.PF_W != 0 {
		p |= PermW
	}
	if f&elf.PF_X != 0 {
		p |= PermX
	}
	return p
}

// FromELF builds a fresh user address space from a statically linked
// ELF image: one framed area per PT_LOAD header (R/W/X derived from the
// header, U always set), a guard page, a user stack, an optional
// zero-sized brk area, and the trap-context page at TRAP_CONTEXT_BASE.
// Returns the address space, the user stack top, and the entry point.
func FromELF(mem *frame.PhysMem, alloc *frame.Allocator, trampPPN memaddr.PPN, data []byte, withBrk bool) (*MemorySet, memaddr.VirtAddr, memaddr.VirtAddr, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("addrspace: bad elf: %w", err)
	}
	if f.Type != elf.ET_EXEC {
		return nil, 0, 0, fmt.Errorf("addrspace: not a static executable")
	}

	ms := newEmpty(mem, alloc)
	var maxEnd memaddr.VPN
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		segData := make([]byte, p.Filesz)
		if _, err := p.ReadAt(segData, 0); err != nil {
			return nil, 0, 0, fmt.Errorf("addrspace: reading segment: %w", err)
		}
		start := memaddr.VirtAddr(p.Vaddr).Floor()
		end := memaddr.VirtAddr(p.Vaddr + p.Memsz).Ceil()
		a := newArea(start, end, Framed, elfFlagsToPerm(p.Flags))
		a.mapInto(ms.PT, alloc)
		// Copy is offset-aware: the segment need not start on a page
		// boundary, so pad the logical buffer with its leading offset.
		padded := make([]byte, uint64(p.Vaddr)-uint64(start.Addr())+uint64(len(segData)))
		copy(padded[uint64(p.Vaddr)-uint64(start.Addr()):], segData)
		a.copyDataPages(mem, padded)
		ms.Areas = append(ms.Areas, a)
		if end > maxEnd {
			maxEnd = end
		}
	}

	// Guard page, then the user stack.
	guardEnd := maxEnd + 1
	stackStart := guardEnd
	stackEnd := stackStart + memaddr.VPN(config.UserStackSize/config.PageSize)
	stackArea := newArea(stackStart, stackEnd, Framed, PermR|PermW|PermU)
	stackArea.mapInto(ms.PT, alloc)
	ms.Areas = append(ms.Areas, stackArea)
	userSP := stackEnd.Addr()

	if withBrk {
		brk := newArea(stackEnd, stackEnd, Framed, PermR|PermW|PermU)
		ms.Areas = append(ms.Areas, brk)
	}

	// Trap-context page, just below the trampoline.
	tcVPN := memaddr.VirtAddr(config.TrapContextBase).Floor()
	tcArea := newArea(tcVPN, tcVPN+1, Framed, PermR|PermW)
	tcArea.mapInto(ms.PT, alloc)
	ms.Areas = append(ms.Areas, tcArea)

	ms.mapTrampoline(trampPPN)

	return ms, userSP, memaddr.VirtAddr(f.Entry), nil
}

// TrapContextPPN returns the physical frame backing TRAP_CONTEXT_BASE.
func (ms *MemorySet) TrapContextPPN() memaddr.PPN {
	pte, ok := ms.PT.Translate(memaddr.VirtAddr(config.TrapContextBase).Floor())
	if !ok {
		panic("addrspace: trap context page not mapped")
	}
	return pte.PPN()
}

// FromExistedUser deep-copies src: an empty space is built, every area
// in src gets a matching framed area in the destination, and every
// source frame is byte-copied into the new frame. Layout and
// permissions are preserved exactly; no frames are shared (spec §8
// fork-isolation property).
func FromExistedUser(mem *frame.PhysMem, alloc *frame.Allocator, trampPPN memaddr.PPN, src *MemorySet) *MemorySet {
	ms := newEmpty(mem, alloc)
	for _, sa := range src.Areas {
		da := newArea(sa.Start, sa.End, Framed, sa.Perm)
		da.mapInto(ms.PT, alloc)
		for vpn := sa.Start; vpn < sa.End; vpn++ {
			srcH := sa.Frames[vpn]
			dstH := da.Frames[vpn]
			copy(mem.Bytes(dstH.PPN()), mem.Bytes(srcH.PPN()))
		}
		ms.Areas = append(ms.Areas, da)
	}
	ms.mapTrampoline(trampPPN)
	return ms
}

// findAreaAt returns the area whose Start equals vpn, if any.
func (ms *MemorySet) findAreaAt(vpn memaddr.VPN) *MapArea {
	for _, a := range ms.Areas {
		if a.Start == vpn {
			return a
		}
	}
	return nil
}

// ShrinkHeapTo retracts the heap area (the Framed area starting at
// heapBottom) so that it ends at newEnd, unmapping and freeing the high
// pages. Returns false if no matching area is found.
func (ms *MemorySet) ShrinkHeapTo(heapBottom, newEnd memaddr.VPN) bool {
	a := ms.findAreaAt(heapBottom)
	if a == nil {
		return false
	}
	for vpn := newEnd; vpn < a.End; vpn++ {
		ms.PT.Unmap(vpn)
		if h, ok := a.Frames[vpn]; ok {
			h.Release()
			delete(a.Frames, vpn)
		}
	}
	a.End = newEnd
	return true
}

// GrowHeapTo extends the heap area to newEnd, allocating and mapping the
// new pages. Returns false if no matching area is found, or if growth
// would straddle another area (e.g. an mmap'd region) already mapped
// in [a.End, newEnd).
func (ms *MemorySet) GrowHeapTo(heapBottom, newEnd memaddr.VPN) bool {
	a := ms.findAreaAt(heapBottom)
	if a == nil {
		return false
	}
	if newEnd > a.End && ms.overlapsAny(a.End, newEnd) {
		return false
	}
	for vpn := a.End; vpn < newEnd; vpn++ {
		h := ms.alloc.MustAlloc()
		a.Frames[vpn] = h
		ms.PT.Map(vpn, h.PPN(), a.Perm)
	}
	a.End = newEnd
	return true
}

// overlapsAny reports whether any page in [start, end) is already
// mapped by some existing area.
func (ms *MemorySet) overlapsAny(start, end memaddr.VPN) bool {
	for _, a := range ms.Areas {
		if start < a.End && a.Start < end {
			return true
		}
	}
	return false
}

// Mmap inserts a new framed, U-plus-port area over [start, start+len).
// Returns false (caller reports -1) if start isn't page aligned, port
// carries unsupported bits, port grants no permission, or any page in
// range is already mapped.
func (ms *MemorySet) Mmap(start memaddr.VirtAddr, length uint64, port uint64) bool {
	if uint64(start)%config.PageSize != 0 {
		return false
	}
	if port&^uint64(0x7) != 0 {
		return false
	}
	if port&0x7 == 0 {
		return false
	}
	startVPN := start.Floor()
	endVPN := memaddr.VirtAddr(uint64(start) + length).Ceil()
	if ms.overlapsAny(startVPN, endVPN) {
		return false
	}
	var perm Perm = PermU
	if port&0x1 != 0 {
		perm |= PermR
	}
	if port&0x2 != 0 {
		perm |= PermW
	}
	if port&0x4 != 0 {
		perm |= PermX
	}
	a := newArea(startVPN, endVPN, Framed, perm)
	a.mapInto(ms.PT, ms.alloc)
	ms.Areas = append(ms.Areas, a)
	return true
}

// Munmap removes exactly the areas fully contained in [start,
// start+len). Returns false if start isn't page aligned or any page in
// range is unmapped.
func (ms *MemorySet) Munmap(start memaddr.VirtAddr, length uint64) bool {
	if uint64(start)%config.PageSize != 0 {
		return false
	}
	startVPN := start.Floor()
	endVPN := memaddr.VirtAddr(uint64(start) + length).Ceil()
	for vpn := startVPN; vpn < endVPN; vpn++ {
		if _, ok := ms.PT.Translate(vpn); !ok {
			return false
		}
	}
	var keep []*MapArea
	for _, a := range ms.Areas {
		if a.Start >= startVPN && a.End <= endVPN {
			a.unmapFrom(ms.PT)
			continue
		}
		keep = append(keep, a)
	}
	ms.Areas = keep
	return true
}

// Activate writes the table's satp token and flushes the TLB. Returns
// the token so callers (e.g. trap context construction) can record it.
func (ms *MemorySet) Activate() uint64 {
	tok := ms.PT.Token()
	// sfence.vma is a hardware TLB flush with no portable Go
	// equivalent; this simulation's page table is consulted on every
	// lookup, so there is nothing to flush. Call site preserved to
	// mirror the real sequence (write satp, then sfence.vma).
	return tok
}

// RecycleDataPages drops every MapArea (freeing their frames) without
// dropping the page table itself yet, mirroring exit's "recycle data
// pages" step (spec §4.7) which happens before the task's PCB is torn
// down.
func (ms *MemorySet) RecycleDataPages() {
	for _, a := range ms.Areas {
		a.unmapFrom(ms.PT)
	}
	ms.Areas = nil
}

// UserBuffer resolves [va, va+length) through the page table into a
// list of (possibly non-contiguous) physical byte slices, the same
// shape as original_source's translated_byte_buffer. User pointers are
// always translated this way; the kernel never dereferences them
// directly (spec §4.8).
func (ms *MemorySet) UserBuffer(va memaddr.VirtAddr, length int) ([][]byte, bool) {
	var out [][]byte
	start := uint64(va)
	end := start + uint64(length)
	for start < end {
		startVA := memaddr.VirtAddr(start)
		vpn := startVA.Floor()
		pte, ok := ms.PT.Translate(vpn)
		if !ok {
			return nil, false
		}
		page := ms.mem.Bytes(pte.PPN())
		pageBase := uint64(vpn.Addr())
		pageEnd := pageBase + config.PageSize
		sliceEndAbs := pageEnd
		if end < sliceEndAbs {
			sliceEndAbs = end
		}
		out = append(out, page[start-pageBase:sliceEndAbs-pageBase])
		start = sliceEndAbs
	}
	return out, true
}
