// Package trap implements the kernel-side half of the fault/exception
// arm of spec §4.4's trap handler dispatch: the cases that are not a
// syscall (package syscall covers UserEnvCall separately). This
// simulation has no real scause/stval register pair to read (no
// instruction interpreter ever actually raises a hardware exception —
// see task.Kernel.RegisterProgram's doc comment), so a task's Body
// calls Handle directly wherever spec says the real trap_handler
// would have classified the cause and dispatched here.
//
// Grounded on original_source's trap/mod.rs match arms for
// StoreFault/LoadFault/InstructionFault/PageFault (exit -2) and
// IllegalInstruction (exit -3), with the faulting word decoded through
// package disasm before the task is killed.
package trap

import (
	"fmt"

	"rv39kernel/disasm"
	"rv39kernel/task"
)

// Cause enumerates the non-syscall trap causes spec §4.4 names.
type Cause int

const (
	StoreFault Cause = iota
	LoadFault
	InstructionFault
	PageFault
	IllegalInstruction
)

func (c Cause) String() string {
	switch c {
	case StoreFault:
		return "store fault"
	case LoadFault:
		return "load fault"
	case InstructionFault:
		return "instruction fault"
	case PageFault:
		return "page fault"
	case IllegalInstruction:
		return "illegal instruction"
	default:
		return fmt.Sprintf("Cause(%d)", int(c))
	}
}

// Handle logs cause and terminates t with the exit code spec §4.4
// assigns it: -2 for a Store/Load/Instruction/page fault, -3 for an
// illegal instruction (badWord is decoded through package disasm for
// the log line; it is ignored for the other causes). Like
// task.Kernel.Exit, Handle never returns to its caller.
func Handle(k *task.Kernel, t *task.PCB, cause Cause, badWord uint32) {
	switch cause {
	case IllegalInstruction:
		k.Log.Errorf("pid %d: illegal instruction %s, killed", t.Pid.PID(), disasm.Describe(badWord))
		k.Exit(t, -3)
	case StoreFault, LoadFault, InstructionFault, PageFault:
		k.Log.Errorf("pid %d: %s, killed", t.Pid.PID(), cause)
		k.Exit(t, -2)
	default:
		panic(fmt.Sprintf("trap: unsupported cause %v", cause))
	}
}
