// Package taskinfo defines the user-ABI-stable task status and
// TaskInfo record returned by the task_info syscall (spec §3, §6).
//
// Adapted from biscuit's tinfo.Threadinfo_t (biscuit/src/tinfo/tinfo.go):
// kept the per-task-note shape, dropped its runtime.Gptr/Setgptr hooks,
// which hang a pointer off the goroutine itself and require biscuit's
// forked Go runtime — with no vanilla-Go equivalent, "current task" is
// instead threaded explicitly through package task's Kernel (Kernel.Current; see
// DESIGN.md). The MAX_SYSCALL_NUM ceiling is biscuit's limits.Syslimit_t
// pattern (a fixed capacity constant) applied to the syscall-count table.
package taskinfo

import "rv39kernel/config"

// Status is the user-visible task status.
type Status int

const (
	UnInit Status = iota
	Ready
	Running
	Zombie
)

func (s Status) String() string {
	switch s {
	case UnInit:
		return "UnInit"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Zombie:
		return "Zombie"
	default:
		return "Unknown"
	}
}

// TaskInfo_t is written into user memory by the task_info syscall.
type TaskInfo_t struct {
	Status       Status
	SyscallTimes [config.MaxSyscallNum]uint32
	TimeMs       uint64
}
