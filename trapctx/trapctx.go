// Package trapctx defines the fixed-layout trap context saved and
// restored on every user/kernel privilege transition, plus an
// enumeration of trap causes.
//
// On real hardware this record is filled in by the trampoline's
// assembly save path and consumed by its restore path (spec §4.4); here
// the same struct and the same fields are populated directly by package
// task when it creates, forks or execs a task (and by package syscall,
// which sets a forked child's a0), since a portable Go process has no
// sepc/sstatus/satp CSRs of its own to snapshot. See DESIGN.md for the
// simulation-model note.
//
// Grounded on original_source's trap/context.rs, restyled in biscuit's
// `_t`-suffixed struct idiom (biscuit/src/mem/mem.go).
package trapctx

import (
	"unsafe"

	"rv39kernel/frame"
	"rv39kernel/memaddr"
)

const NumGPR = 32

// SstatusSPP is the bit recording the privilege level the hart was in
// before the trap (0 = user, 1 = supervisor).
const SstatusSPP uint64 = 1 << 8

// TrapContext_t is the fixed-layout record saved/restored across a
// user<->kernel transition: the 32 general registers, sstatus, sepc, the
// kernel satp token, the kernel stack pointer, and the kernel trap
// handler's address.
type TrapContext_t struct {
	X           [NumGPR]uint64
	Sstatus     uint64
	Sepc        uint64
	KernelSatp  uint64
	KernelSP    uint64
	TrapHandler uint64
}

// SetSP writes the stack-pointer register (x2).
func (c *TrapContext_t) SetSP(sp uint64) { c.X[2] = sp }

// A0 returns the first argument/return register (x10).
func (c *TrapContext_t) A0() uint64 { return c.X[10] }

// SetA0 writes the first argument/return register (x10).
func (c *TrapContext_t) SetA0(v uint64) { c.X[10] = v }

// Syscall returns the syscall number (x17) and its four argument
// registers (x10..x13), per spec §4.4.
func (c *TrapContext_t) Syscall() (num uint64, args [4]uint64) {
	num = c.X[17]
	args = [4]uint64{c.X[10], c.X[11], c.X[12], c.X[13]}
	return
}

// AppInitContext builds the initial trap context for a freshly loaded
// task: SPP is forced to User so sret drops privilege, sepc is the ELF
// entry point, and x2 (sp) is the user stack top.
func AppInitContext(entry, sp, kernelSatp, kernelSP, trapHandler uint64) TrapContext_t {
	c := TrapContext_t{
		Sepc:        entry,
		KernelSatp:  kernelSatp,
		KernelSP:    kernelSP,
		TrapHandler: trapHandler,
	}
	c.Sstatus &^= SstatusSPP // SPP = User
	c.SetSP(sp)
	return c
}

// At views the trap-context page at ppn as a *TrapContext_t, aliasing
// the physical frame's backing bytes directly (the same dual-view
// pattern frame.PhysMem.PTEs uses for page-table nodes). This is how
// the trampoline's save/restore path addresses the trap context
// through TRAP_CONTEXT_BASE on real hardware; here the kernel reaches
// it through this aliased view.
func At(mem *frame.PhysMem, ppn memaddr.PPN) *TrapContext_t {
	return (*TrapContext_t)(unsafe.Pointer(mem.Page(ppn)))
}

// Cause enumerates the trap causes of spec §4.4. Package trap's Handle
// dispatches on its own trap.Cause type, not on this one.
type Cause int

const (
	UserEnvCall Cause = iota
	StoreFault
	LoadFault
	InstructionFault
	PageFault
	IllegalInstruction
	SupervisorTimer
	Other
)
