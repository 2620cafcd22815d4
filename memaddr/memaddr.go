// Package memaddr defines the typed physical/virtual address and page
// number arithmetic used throughout the kernel, along with SV39 index
// extraction. It mirrors biscuit's mem.Pa_t newtype style, generalized to
// carry both the physical and virtual sides and the three-level SV39
// walk that biscuit's single-level x86 mapper never needed.
package memaddr

import "rv39kernel/config"

// PhysAddr is a byte-granular physical address.
type PhysAddr uint64

// VirtAddr is a byte-granular virtual address.
type VirtAddr uint64

// PPN is a physical page number (PhysAddr >> PageSizeBits).
type PPN uint64

// VPN is a virtual page number (VirtAddr >> PageSizeBits).
type VPN uint64

// PageOffset returns the in-page byte offset of the address.
func (a PhysAddr) PageOffset() uint64 {
	return uint64(a) & (config.PageSize - 1)
}

// PageOffset returns the in-page byte offset of the address.
func (a VirtAddr) PageOffset() uint64 {
	return uint64(a) & (config.PageSize - 1)
}

// Floor returns the page number containing a.
func (a PhysAddr) Floor() PPN { return PPN(uint64(a) >> config.PageSizeBits) }

// Ceil returns the page number of the first page at or after a.
func (a PhysAddr) Ceil() PPN {
	if a == 0 {
		return 0
	}
	return PPN((uint64(a) + config.PageSize - 1) >> config.PageSizeBits)
}

// Floor returns the page number containing a.
func (a VirtAddr) Floor() VPN { return VPN(uint64(a) >> config.PageSizeBits) }

// Ceil returns the page number of the first page at or after a.
func (a VirtAddr) Ceil() VPN {
	if a == 0 {
		return 0
	}
	return VPN((uint64(a) + config.PageSize - 1) >> config.PageSizeBits)
}

// Addr returns the base byte address of the page.
func (p PPN) Addr() PhysAddr { return PhysAddr(uint64(p) << config.PageSizeBits) }

// Addr returns the base byte address of the page.
func (p VPN) Addr() VirtAddr { return VirtAddr(uint64(p) << config.PageSizeBits) }

// Indexes returns the three 9-bit SV39 page-table indices for the VPN,
// ordered from the root level (index 0) to the leaf level (index 2).
func (v VPN) Indexes() [3]uint64 {
	n := uint64(v)
	var idx [3]uint64
	for i := 2; i >= 0; i-- {
		idx[i] = n & 0x1ff
		n >>= 9
	}
	return idx
}

// VPNFromIndexes rebuilds a VPN from three 9-bit SV39 indices, the
// inverse of Indexes. Used by tests and by the fault path to reconstruct
// the faulting page from a partial walk.
func VPNFromIndexes(idx [3]uint64) VPN {
	var n uint64
	for i := 0; i < 3; i++ {
		n = (n << 9) | (idx[i] & 0x1ff)
	}
	return VPN(n)
}

// Token encodes a satp value: mode in the top 4 bits, root PPN in the
// low 44 bits (spec §4.2).
func Token(root PPN) uint64 {
	return config.SatpModeSV39<<60 | (uint64(root) & ((1 << 44) - 1))
}

// RootFromToken extracts the root PPN from a satp token.
func RootFromToken(satp uint64) PPN {
	return PPN(satp & ((1 << 44) - 1))
}
