// Package taskctx defines the callee-saved task context used by the
// in-kernel cooperative context switch, and the priming rule that makes
// a freshly created task's first switch-in land in trap_return.
//
// On real hardware, Switch is an assembly routine exchanging registers
// between two context records (spec §4.5); a Go process cannot swap its
// own call stack's registers portably. This package keeps the
// ABI-faithful data shape and priming rule, while package task drives
// actual control transfer with Go's own cooperative primitive —
// goroutines parked on a channel — documented in DESIGN.md as the
// simulation model for this component.
//
// Grounded on original_source's task/context.rs and task/switch.rs, and
// on biscuit's register-bank style (biscuit/src/mem/mem.go's fixed-size
// array types).
package taskctx

// Context_t is the callee-saved register bank: return address, stack
// pointer, and s0..s11.
type Context_t struct {
	RA uint64
	SP uint64
	S  [12]uint64
}

// TrapReturnMarker is the sentinel RA value a freshly primed context
// carries, standing in for the real address of trap_return: the first
// switch-in of a new task must resume there rather than at some
// arbitrary return address.
const TrapReturnMarker uint64 = 1

// PrimeForEntry builds the initial context for a brand new task: RA is
// primed to land in trap_return, SP to the top of its kernel stack.
func PrimeForEntry(kernelStackTop uint64) Context_t {
	return Context_t{RA: TrapReturnMarker, SP: kernelStackTop}
}

// Zero returns an empty scratch context, used as the "current" side of
// a switch that will never be switched back into (spec §4.7 exit).
func Zero() Context_t { return Context_t{} }
