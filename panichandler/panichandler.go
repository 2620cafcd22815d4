// Package panichandler implements spec §7's fatal-error path: "Fatal
// reaches the panic handler which prints and calls SBI shutdown(true)".
// Every kernel invariant violation named in spec §7 (re-entrant
// interior-mutability borrow, double-free of a frame or PID, mapping
// an already-mapped VPN, frame-allocator exhaustion during trusted
// setup, and so on) surfaces as a plain Go panic from the package that
// detected it; this package is the single place that panic is expected
// to be recovered, logged with a call-stack dump, and turned into a
// firmware shutdown request.
//
// There is no Rust #[panic_handler] / global allocator error hook to
// port (this is host Go, not a bare-metal target), so the shape here
// is the idiomatic Go equivalent: a deferred recover at the top of the
// scheduling loop. The call-stack dump is adapted from biscuit's
// caller.Callerdump (see package caller's doc comment).
package panichandler

import (
	"rv39kernel/caller"
	"rv39kernel/klog"
	"rv39kernel/sbi"
)

// Recover must be deferred at the top of the kernel's main scheduling
// loop (see cmd/kernel/main.go). On a kernel panic it logs the panic
// value and a call-stack dump through log, asks fw to shut down with
// fail=true, and re-panics so the host process's own exit status still
// reflects the fatal condition (there is no real hardware to halt).
func Recover(fw sbi.Firmware_i, log *klog.Logger) {
	r := recover()
	if r == nil {
		return
	}
	log.Errorf("kernel panic: %v", r)
	log.Errorf("%s", caller.Dump(2))
	fw.Shutdown(true)
	panic(r)
}
