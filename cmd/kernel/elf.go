package main

import (
	"debug/elf"
	"encoding/binary"
)

const (
	elfHeaderSize        = 64
	elfProgramHeaderSize = 56
)

// buildELF hand-assembles a minimal statically linked RISC-V ET_EXEC
// image: one ELF64 header, one PT_LOAD program header mapped R+W+X,
// and len bytes of zeroed "code" as its file contents, loaded at
// vaddr. No compiler toolchain is available in this environment (the
// same constraint every package's _test.go notes); the demo programs
// below never actually execute machine code, so the segment's
// contents don't matter — only its presence drives
// addrspace.FromELF's mapping, exactly as each package's
// test-only ELF builder does for unit tests.
func buildELF(vaddr, entry uint64, size int) []byte {
	buf := make([]byte, elfHeaderSize+elfProgramHeaderSize+size)

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4], buf[5], buf[6] = 2, 1, 1

	binary.LittleEndian.PutUint16(buf[16:], uint16(elf.ET_EXEC))
	binary.LittleEndian.PutUint16(buf[18:], 243) // EM_RISCV
	binary.LittleEndian.PutUint32(buf[20:], uint32(elf.EV_CURRENT))
	binary.LittleEndian.PutUint64(buf[24:], entry)
	binary.LittleEndian.PutUint64(buf[32:], elfHeaderSize)
	binary.LittleEndian.PutUint16(buf[52:], elfHeaderSize)
	binary.LittleEndian.PutUint16(buf[54:], elfProgramHeaderSize)
	binary.LittleEndian.PutUint16(buf[56:], 1)

	ph := buf[elfHeaderSize:]
	binary.LittleEndian.PutUint32(ph[0:], uint32(elf.PT_LOAD))
	binary.LittleEndian.PutUint32(ph[4:], uint32(elf.PF_R|elf.PF_W|elf.PF_X))
	binary.LittleEndian.PutUint64(ph[8:], elfHeaderSize+elfProgramHeaderSize)
	binary.LittleEndian.PutUint64(ph[16:], vaddr)
	binary.LittleEndian.PutUint64(ph[24:], vaddr)
	binary.LittleEndian.PutUint64(ph[32:], uint64(size))
	binary.LittleEndian.PutUint64(ph[40:], 0x1000)
	binary.LittleEndian.PutUint64(ph[48:], 0x1000)
	return buf
}
