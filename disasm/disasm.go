// Package disasm decodes the faulting instruction word for the trap
// handler's illegal-instruction path (spec §4, trap cause
// IllegalInstruction): before killing the offending task, log the
// mnemonic of the instruction that faulted rather than just its raw
// encoding.
//
// This is new code enriching the kernel beyond what biscuit itself
// does (biscuit targets x86_64 and has no RISC-V decode path), wiring
// golang.org/x/arch's riscv64asm package — present in the teacher's
// go.mod as the x86 sibling package's module but otherwise unused by
// biscuit's kernel proper — into an actual kernel component, the
// direct RISC-V analogue of why biscuit depends on x/arch at all.
package disasm

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/riscv64/riscv64asm"
)

// Describe decodes a little-endian 32-bit RISC-V instruction word and
// returns a human-readable mnemonic, or a hex dump if it cannot be
// decoded (compressed 16-bit encodings, reserved opcodes, and similar
// are all reported this way rather than causing a second fault).
func Describe(word uint32) string {
	var enc [4]byte
	binary.LittleEndian.PutUint32(enc[:], word)
	inst, err := riscv64asm.Decode(enc[:])
	if err != nil {
		return fmt.Sprintf("<undecodable 0x%08x>", word)
	}
	return inst.String()
}
