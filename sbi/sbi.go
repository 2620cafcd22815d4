// Package sbi defines the opaque SBI firmware surface the kernel relies
// on: console_putchar, console_getchar, set_timer, and shutdown (spec §6).
// The firmware itself is out of scope; only the interface the core uses
// is specified here, plus a host-side simulated implementation for
// tests, grounded on original_source's sbi.rs call numbers.
package sbi

import (
	"fmt"
	"os"
)

// Call numbers, kept for documentation parity with original_source's
// sbi.rs even though this package never issues a real `ecall`.
const (
	CallSetTimer      = 0
	CallConsolePutchr = 1
	CallConsoleGetchr = 2
	CallShutdown      = 8
)

// Firmware_i is the opaque SBI surface the kernel depends on.
type Firmware_i interface {
	SetTimer(deadline uint64)
	ConsolePutchar(c uint8)
	ConsoleGetchar() (c uint8, ok bool)
	Shutdown(fail bool)
}

// Sim is a host-process stand-in for real SBI firmware: console output
// goes to the file Out (or nowhere when Out is nil), console input is
// fed from an explicit queue, SetTimer records its last deadline, and
// Shutdown appends each request to ShutdownLog for assertions.
type Sim struct {
	Out         *os.File
	input       []uint8
	LastTimer   uint64
	ShutdownLog []bool
}

// NewSim creates a simulated firmware writing console output to out
// (nil means discard).
func NewSim(out *os.File) *Sim {
	return &Sim{Out: out}
}

// Feed queues bytes to be returned by subsequent ConsoleGetchar calls.
func (s *Sim) Feed(b ...uint8) { s.input = append(s.input, b...) }

// SetTimer records the requested deadline.
func (s *Sim) SetTimer(deadline uint64) { s.LastTimer = deadline }

// ConsolePutchar writes one byte to the console sink.
func (s *Sim) ConsolePutchar(c uint8) {
	if s.Out != nil {
		fmt.Fprintf(s.Out, "%c", c)
	}
}

// ConsoleGetchar returns the next queued input byte, or ok=false if
// none is queued (the real SBI call returns 0 for "no data").
func (s *Sim) ConsoleGetchar() (uint8, bool) {
	if len(s.input) == 0 {
		return 0, false
	}
	c := s.input[0]
	s.input = s.input[1:]
	return c, true
}

// Shutdown records the shutdown request; it does not actually exit the
// host process.
func (s *Sim) Shutdown(fail bool) {
	s.ShutdownLog = append(s.ShutdownLog, fail)
}
