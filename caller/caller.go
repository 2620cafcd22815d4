// Package caller prints call-stack traces for the kernel panic handler
// (spec §7: "Fatal reaches the panic handler which prints").
//
// Adapted from biscuit's caller.Callerdump (biscuit/src/caller/caller.go),
// trimmed to just the dump routine; biscuit's Distinct_caller_t
// (deduplicating repeated panic sites) has no consumer in this spec and
// is not carried forward — see DESIGN.md.
package caller

import (
	"fmt"
	"runtime"
)

// Dump returns the call stack starting at the given frame, one frame
// per line, formatted for the panic handler to print before shutting
// down.
func Dump(start int) string {
	i := start
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	return s
}
