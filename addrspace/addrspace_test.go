package addrspace

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"rv39kernel/config"
	"rv39kernel/frame"
	"rv39kernel/memaddr"
)

const (
	testELFHeaderSize        = 64
	testELFProgramHeaderSize = 56
)

// buildTestELF hand-assembles a minimal statically linked RISC-V
// ET_EXEC image: one ELF64 header, one PT_LOAD program header, and
// code as its file contents, loaded at vaddr. No compiler is involved
// (out of scope for this whole exercise); the byte layout follows
// debug/elf's Header64/Prog64 field order directly, the same way
// tinyrange-cc's internal/asm/{amd64,arm64}/elf.go hand-assemble a
// standalone ELF for a different architecture.
func buildTestELF(vaddr, entry uint64, code []byte) []byte {
	var buf bytes.Buffer
	buf.Write(make([]byte, testELFHeaderSize+testELFProgramHeaderSize))
	buf.Write(code)
	out := buf.Bytes()

	out[0], out[1], out[2], out[3] = 0x7f, 'E', 'L', 'F'
	out[4] = 2 // ELFCLASS64
	out[5] = 1 // little-endian
	out[6] = 1 // EV_CURRENT

	binary.LittleEndian.PutUint16(out[16:], uint16(elf.ET_EXEC))
	binary.LittleEndian.PutUint16(out[18:], 243) // EM_RISCV
	binary.LittleEndian.PutUint32(out[20:], uint32(elf.EV_CURRENT))
	binary.LittleEndian.PutUint64(out[24:], entry)
	binary.LittleEndian.PutUint64(out[32:], testELFHeaderSize) // e_phoff
	binary.LittleEndian.PutUint16(out[52:], testELFHeaderSize)
	binary.LittleEndian.PutUint16(out[54:], testELFProgramHeaderSize)
	binary.LittleEndian.PutUint16(out[56:], 1) // e_phnum

	ph := out[testELFHeaderSize:]
	binary.LittleEndian.PutUint32(ph[0:], uint32(elf.PT_LOAD))
	binary.LittleEndian.PutUint32(ph[4:], uint32(elf.PF_R|elf.PF_W|elf.PF_X))
	binary.LittleEndian.PutUint64(ph[8:], testELFHeaderSize+testELFProgramHeaderSize) // p_offset
	binary.LittleEndian.PutUint64(ph[16:], vaddr)
	binary.LittleEndian.PutUint64(ph[24:], vaddr)
	binary.LittleEndian.PutUint64(ph[32:], uint64(len(code)))
	binary.LittleEndian.PutUint64(ph[40:], uint64(len(code)))
	binary.LittleEndian.PutUint64(ph[48:], config.PageSize)

	return out
}

func newTestAllocator() (*frame.PhysMem, *frame.Allocator) {
	mem := frame.NewPhysMem()
	return mem, frame.NewAllocator(mem, 0, 4096)
}

func TestFromELFMapsSegmentStackAndTrapContext(t *testing.T) {
	mem, alloc := newTestAllocator()
	tramp := alloc.MustAlloc()

	code := make([]byte, 16)
	copy(code, []byte{0xde, 0xad, 0xbe, 0xef})
	data := buildTestELF(0x1000, 0x1000, code)

	ms, sp, entry, err := FromELF(mem, alloc, tramp.PPN(), data, true)
	if err != nil {
		t.Fatalf("FromELF: %v", err)
	}
	if entry != 0x1000 {
		t.Fatalf("entry = %#x, want 0x1000", entry)
	}
	if sp == 0 {
		t.Fatalf("expected non-zero user stack pointer")
	}

	pte, ok := ms.PT.Translate(memaddr.VirtAddr(0x1000).Floor())
	if !ok {
		t.Fatalf("expected segment page mapped")
	}
	got := mem.Bytes(pte.PPN())[:4]
	if !bytes.Equal(got, []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatalf("segment contents = %v, want deadbeef prefix", got)
	}

	if _, ok := ms.PT.Translate(sp.Floor() - 1); !ok {
		t.Fatalf("expected a stack page mapped below sp")
	}

	tcVPN := memaddr.VirtAddr(config.TrapContextBase).Floor()
	if _, ok := ms.PT.Translate(tcVPN); !ok {
		t.Fatalf("expected trap context page mapped")
	}
	_ = ms.TrapContextPPN()
}

func TestFromELFRejectsNonExecType(t *testing.T) {
	mem, alloc := newTestAllocator()
	tramp := alloc.MustAlloc()
	data := buildTestELF(0x1000, 0x1000, []byte{0, 0, 0, 0})
	binary.LittleEndian.PutUint16(data[16:], uint16(elf.ET_DYN))

	if _, _, _, err := FromELF(mem, alloc, tramp.PPN(), data, true); err == nil {
		t.Fatalf("expected rejection of a non-ET_EXEC image")
	}
}

func TestFromExistedUserCopiesIndependentFrames(t *testing.T) {
	mem, alloc := newTestAllocator()
	tramp := alloc.MustAlloc()
	data := buildTestELF(0x1000, 0x1000, []byte{1, 2, 3, 4})

	src, _, _, err := FromELF(mem, alloc, tramp.PPN(), data, true)
	if err != nil {
		t.Fatalf("FromELF: %v", err)
	}
	dst := FromExistedUser(mem, alloc, tramp.PPN(), src)

	srcPTE, _ := src.PT.Translate(memaddr.VirtAddr(0x1000).Floor())
	dstPTE, _ := dst.PT.Translate(memaddr.VirtAddr(0x1000).Floor())
	if srcPTE.PPN() == dstPTE.PPN() {
		t.Fatalf("expected fork copy to use a distinct physical frame")
	}
	mem.Bytes(srcPTE.PPN())[0] = 0xff
	if mem.Bytes(dstPTE.PPN())[0] == 0xff {
		t.Fatalf("expected writes to the parent frame not to reach the child's copy")
	}
}

func TestMmapRejectsOverlapAndUnalignedStart(t *testing.T) {
	mem, alloc := newTestAllocator()
	tramp := alloc.MustAlloc()
	ms := NewKernelSpace(mem, alloc, KernelImage{Ekernel: 8}, 64, tramp.PPN())

	if ms.Mmap(memaddr.VirtAddr(1), config.PageSize, 0x1) {
		t.Fatalf("expected unaligned start to be rejected")
	}
	if !ms.Mmap(memaddr.VirtAddr(0x10_0000), config.PageSize, 0x3) {
		t.Fatalf("expected a fresh mapping to succeed")
	}
	if ms.Mmap(memaddr.VirtAddr(0x10_0000), config.PageSize, 0x3) {
		t.Fatalf("expected overlapping mapping to be rejected")
	}
	if !ms.Munmap(memaddr.VirtAddr(0x10_0000), config.PageSize) {
		t.Fatalf("expected munmap of the mapped range to succeed")
	}
	if ms.Munmap(memaddr.VirtAddr(0x10_0000), config.PageSize) {
		t.Fatalf("expected munmap of an already-unmapped range to fail")
	}
}

func TestMmapRejectsZeroPort(t *testing.T) {
	mem, alloc := newTestAllocator()
	tramp := alloc.MustAlloc()
	ms := NewKernelSpace(mem, alloc, KernelImage{Ekernel: 8}, 64, tramp.PPN())

	if ms.Mmap(memaddr.VirtAddr(0x10_0000), config.PageSize, 0x0) {
		t.Fatalf("expected port=0 (no permission bits set) to be rejected")
	}
}

func TestGrowHeapRejectsOverlapWithAnotherArea(t *testing.T) {
	mem, alloc := newTestAllocator()
	tramp := alloc.MustAlloc()
	data := buildTestELF(0x1000, 0x1000, []byte{1, 2, 3, 4})
	ms, _, _, err := FromELF(mem, alloc, tramp.PPN(), data, true)
	if err != nil {
		t.Fatalf("FromELF: %v", err)
	}

	var heapBottom memaddr.VPN
	for _, a := range ms.Areas {
		if a.Typ == Framed && a.Start == a.End {
			heapBottom = a.Start
		}
	}

	mmapStart := memaddr.VirtAddr(uint64(heapBottom.Addr()) + config.PageSize)
	if !ms.Mmap(mmapStart, config.PageSize, 0x3) {
		t.Fatalf("expected mmap just past the heap to succeed")
	}

	if ms.GrowHeapTo(heapBottom, heapBottom+2) {
		t.Fatalf("expected heap growth straddling the mmap'd region to be rejected")
	}
	if _, ok := ms.PT.Translate(heapBottom); ok {
		t.Fatalf("expected the rejected growth not to have mapped any page")
	}
}

func TestGrowAndShrinkHeap(t *testing.T) {
	mem, alloc := newTestAllocator()
	tramp := alloc.MustAlloc()
	data := buildTestELF(0x1000, 0x1000, []byte{1, 2, 3, 4})
	ms, _, _, err := FromELF(mem, alloc, tramp.PPN(), data, true)
	if err != nil {
		t.Fatalf("FromELF: %v", err)
	}

	var heapBottom memaddr.VPN
	for _, a := range ms.Areas {
		if a.Typ == Framed && a.Start == a.End {
			heapBottom = a.Start
		}
	}

	if !ms.GrowHeapTo(heapBottom, heapBottom+2) {
		t.Fatalf("expected heap growth to succeed")
	}
	if _, ok := ms.PT.Translate(heapBottom); !ok {
		t.Fatalf("expected grown heap page mapped")
	}
	if !ms.ShrinkHeapTo(heapBottom, heapBottom) {
		t.Fatalf("expected heap shrink to succeed")
	}
	if _, ok := ms.PT.Translate(heapBottom); ok {
		t.Fatalf("expected shrunk heap page unmapped")
	}
}
