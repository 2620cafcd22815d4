// Package timer tracks the kernel's notion of elapsed cycles and
// programs the next timer interrupt through the firmware (spec §6,
// "S-mode timer interrupts... scheduler relies on these to preempt the
// currently running task").
//
// Grounded on original_source's timer.rs (get_time/get_time_ms/
// get_time_us/set_next_trigger), adapted since Go has no `riscv::register::time`
// cycle-counter register to read: cycles are modeled as an explicit
// atomic counter the caller advances (Tick), matching the same
// simulation-model decision made for context switching in package
// taskctx.
package timer

import (
	"sync/atomic"

	"rv39kernel/config"
	"rv39kernel/sbi"
)

const microPerSec = 1_000_000
const msecPerSec = 1_000

// Clock is a monotone cycle counter plus the firmware used to arm the
// next interrupt.
type Clock struct {
	cycles atomic.Uint64
	fw     sbi.Firmware_i
}

// New creates a clock starting at cycle 0.
func New(fw sbi.Firmware_i) *Clock {
	return &Clock{fw: fw}
}

// Tick advances the cycle counter by n (the host-side stand-in for the
// real mtime register advancing on its own).
func (c *Clock) Tick(n uint64) {
	c.cycles.Add(n)
}

// GetTime returns the raw cycle count.
func (c *Clock) GetTime() uint64 {
	return c.cycles.Load()
}

// GetTimeMs returns elapsed milliseconds since the clock was created.
func (c *Clock) GetTimeMs() uint64 {
	return c.GetTime() * msecPerSec / config.ClockFreq
}

// GetTimeUs returns elapsed microseconds since the clock was created.
func (c *Clock) GetTimeUs() uint64 {
	return c.GetTime() * microPerSec / config.ClockFreq
}

// SetNextTrigger arms the firmware timer to fire after one scheduling
// slice (config.ClockFreq / config.TicksPerSec cycles from now).
func (c *Clock) SetNextTrigger() {
	c.fw.SetTimer(c.GetTime() + config.ClockFreq/config.TicksPerSec)
}
