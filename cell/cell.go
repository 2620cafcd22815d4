// Package cell implements the single-processor interior-mutability
// primitive spec §5 requires for every process-wide global (frame
// allocator, PID allocator, kernel address space, task manager, root
// inode): exclusive access that panics on a re-entrant borrow, rather
// than a real mutex that would just deadlock. The kernel is
// single-threaded, so a re-entrant borrow is always a logic bug, not
// legitimate contention — this makes that bug loud instead of hanging.
//
// Grounded on original_source's sync.UPSafeCell (a RefCell wrapper
// whose exclusive_access panics if already borrowed); biscuit itself
// has no equivalent since it targets a real multiprocessor and uses
// ordinary mutexes throughout, so this primitive is new code
// supplementing biscuit's idiom with the single-processor model this
// spec actually describes.
package cell

import "sync/atomic"

// Cell grants exclusive access to a value of type T, panicking if
// Access is called again before the previous access returns.
type Cell[T any] struct {
	borrowed atomic.Bool
	v        T
}

// New creates a cell holding v.
func New[T any](v T) *Cell[T] {
	return &Cell[T]{v: v}
}

// Access calls f with exclusive access to the held value. Panics if
// called while another Access on the same cell is already in
// progress (a re-entrant borrow).
func (c *Cell[T]) Access(f func(*T)) {
	if !c.borrowed.CompareAndSwap(false, true) {
		panic("cell: re-entrant exclusive access")
	}
	defer c.borrowed.Store(false)
	f(&c.v)
}
