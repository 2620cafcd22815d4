// Package pagetable implements the three-level SV39 page-table walker:
// map, unmap, translate, and the borrowed (lookup-only) table built from
// a satp token.
//
// Grounded on biscuit's vm.Vm_t page-walking style (biscuit/src/vm/as.go)
// generalized from biscuit's single-level x86-64 radix walk to the
// explicit three-level SV39 walk in original_source's page_table.rs.
package pagetable

import (
	"fmt"

	"rv39kernel/frame"
	"rv39kernel/memaddr"
)

// Flags is the low byte of a PTE: V,R,W,X,U,G,A,D.
type Flags uint64

const (
	FlagV Flags = 1 << 0
	FlagR Flags = 1 << 1
	FlagW Flags = 1 << 2
	FlagX Flags = 1 << 3
	FlagU Flags = 1 << 4
	FlagG Flags = 1 << 5
	FlagA Flags = 1 << 6
	FlagD Flags = 1 << 7
)

const ppnShift = 10

// PTE is a single 64-bit SV39 page-table entry.
type PTE uint64

// Valid reports whether the V bit is set.
func (p PTE) Valid() bool { return Flags(p)&FlagV != 0 }

// Flags returns the flag bits of the entry.
func (p PTE) Flags() Flags { return Flags(p) & 0xff }

// PPN returns the physical page number the entry points at.
func (p PTE) PPN() memaddr.PPN { return memaddr.PPN(uint64(p) >> ppnShift) }

func mkPTE(ppn memaddr.PPN, flags Flags) PTE {
	return PTE(uint64(ppn)<<ppnShift | uint64(flags))
}

// Table is a page table rooted at RootPPN. An owning table allocates and
// frees its own intermediate nodes; a borrowed table (From) owns
// nothing and is used only for lookups.
type Table struct {
	mem      *frame.PhysMem
	alloc    *frame.Allocator
	RootPPN  memaddr.PPN
	owned    []*frame.Handle
	borrowed bool
}

// New creates an empty, owning page table with a freshly allocated root.
func New(mem *frame.PhysMem, alloc *frame.Allocator) *Table {
	root := alloc.MustAlloc()
	return &Table{mem: mem, alloc: alloc, RootPPN: root.PPN(), owned: []*frame.Handle{root}}
}

// From builds a borrowed table from a satp token. It owns no frames and
// must not be used to Map/Unmap.
func From(mem *frame.PhysMem, satp uint64) *Table {
	return &Table{mem: mem, RootPPN: memaddr.RootFromToken(satp), borrowed: true}
}

// Token returns the satp value for this table.
func (t *Table) Token() uint64 { return memaddr.Token(t.RootPPN) }

// findOrCreate walks to the leaf PTE for vpn, allocating zeroed
// intermediate nodes as needed. Panics on a borrowed table, which is
// lookup-only (so Map and Unmap panic on it too).
func (t *Table) findOrCreate(vpn memaddr.VPN) *PTE {
	if t.borrowed {
		panic("pagetable: borrowed table is lookup-only")
	}
	idx := vpn.Indexes()
	ppn := t.RootPPN
	for level := 0; level < 3; level++ {
		ptes := t.mem.PTEs(ppn)
		pte := (*PTE)(&ptes[idx[level]])
		if level == 2 {
			return pte
		}
		if !pte.Valid() {
			h := t.alloc.MustAlloc()
			t.owned = append(t.owned, h)
			*pte = mkPTE(h.PPN(), FlagV)
		}
		ppn = pte.PPN()
	}
	panic("unreachable")
}

// find walks read-only, returning nil if any intermediate is invalid.
func (t *Table) find(vpn memaddr.VPN) *PTE {
	idx := vpn.Indexes()
	ppn := t.RootPPN
	for level := 0; level < 3; level++ {
		ptes := t.mem.PTEs(ppn)
		pte := (*PTE)(&ptes[idx[level]])
		if level == 2 {
			return pte
		}
		if !pte.Valid() {
			return nil
		}
		ppn = pte.PPN()
	}
	panic("unreachable")
}

// Map installs vpn -> ppn with the given flags (V is added
// automatically). Fatal if vpn is already mapped (spec §4.2/§7).
func (t *Table) Map(vpn memaddr.VPN, ppn memaddr.PPN, flags Flags) {
	pte := t.findOrCreate(vpn)
	if pte.Valid() {
		panic(fmt.Sprintf("pagetable: vpn %#x mapped before mapping", vpn))
	}
	*pte = mkPTE(ppn, flags|FlagV)
}

// Unmap clears the leaf mapping for vpn. Fatal if vpn is not currently
// mapped.
func (t *Table) Unmap(vpn memaddr.VPN) {
	pte := t.findOrCreate(vpn)
	if !pte.Valid() {
		panic(fmt.Sprintf("pagetable: vpn %#x not mapped before unmapping", vpn))
	}
	*pte = 0
}

// Translate performs a read-only walk, returning the leaf PTE and
// whether it is present.
func (t *Table) Translate(vpn memaddr.VPN) (PTE, bool) {
	pte := t.find(vpn)
	if pte == nil || !pte.Valid() {
		return 0, false
	}
	return *pte, true
}

// TranslateVA resolves a full virtual address to its physical address,
// honoring the in-page offset.
func (t *Table) TranslateVA(va memaddr.VirtAddr) (memaddr.PhysAddr, bool) {
	pte, ok := t.Translate(va.Floor())
	if !ok {
		return 0, false
	}
	base := pte.PPN().Addr()
	return memaddr.PhysAddr(uint64(base) + va.PageOffset()), true
}

// Drop releases every frame this table owns (root + intermediates). A
// borrowed table releases nothing.
func (t *Table) Drop() {
	if t.borrowed {
		return
	}
	for _, h := range t.owned {
		h.Release()
	}
	t.owned = nil
}
