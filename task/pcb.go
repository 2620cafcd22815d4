// Package task implements the process control block, ready queue,
// stride scheduler, and fork/exec/spawn/waitpid/exit lifecycle spec
// §4.6–§4.7 describe.
//
// Cooperative context switching (spec §4.5) has no portable Go
// equivalent of an assembly register-bank exchange; this package
// drives control transfer with Go's own cooperative primitive instead:
// each task's body runs in its own goroutine, parked on a channel
// whenever it is not the scheduler's current pick. A channel receive
// blocks exactly where spec's switch() would return into the kernel
// scheduling loop or into trap_return, so the taskctx.Context_t shape
// is kept (and primed) faithfully even though it is never literally
// loaded into registers. See DESIGN.md for the full simulation-model
// note.
//
// Grounded on original_source's task/task.rs (TaskControlBlock field
// list) generalized to the fuller PCB spec §3 describes, and on
// biscuit's caller/callee idiom for RAII-style resource teardown.
package task

import (
	"weak"

	"rv39kernel/accounting"
	"rv39kernel/addrspace"
	"rv39kernel/cell"
	"rv39kernel/fdtable"
	"rv39kernel/memaddr"
	"rv39kernel/pid"
	"rv39kernel/taskctx"
	"rv39kernel/taskinfo"
)

// Body is a task's user-program logic. It runs in its own goroutine
// and must eventually call Kernel.Exit (directly, or indirectly via
// the exit syscall) — falling off the end without exiting is a kernel
// bug, not a supported implicit exit(0), mirroring a real kernel never
// getting control back from a process that didn't trap.
type Body func(k *Kernel, t *PCB)

type pcbInner struct {
	trapCtxPPN memaddr.PPN
	baseSize   uint64
	taskCtx    taskctx.Context_t
	status     taskinfo.Status
	memSet     *addrspace.MemorySet
	parent     weak.Pointer[PCB]
	children   []*PCB
	exitCode   int32
	acc        *accounting.Accnt_t
	heapBottom memaddr.VPN
	brk        memaddr.VPN
	priority   int64
	stride     uint64
	fds        *fdtable.Table
}

// PCB is a process control block. Pid and KStackTop are set once at
// creation and never change; everything else lives behind inner's
// single-processor exclusive-access cell (spec §9).
type PCB struct {
	Pid       *pid.Handle
	KStackTop uint64

	inner *cell.Cell[pcbInner]

	resumeCh chan struct{}
	yieldCh  chan struct{}
	started  bool
	body     Body
}

// execRestart unwinds a task's body goroutine back to its run loop
// when exec replaces the running image: the old call stack represents
// the old program's logic and must never be resumed, exactly as a real
// exec() never returns to its caller on success.
type execRestart struct {
	body Body
}

func newPCB(pidHandle *pid.Handle, kstackTop uint64, priority int64, body Body) *PCB {
	t := &PCB{
		Pid:       pidHandle,
		KStackTop: kstackTop,
		resumeCh:  make(chan struct{}),
		yieldCh:   make(chan struct{}),
		body:      body,
	}
	t.inner = cell.New(pcbInner{
		status:   taskinfo.UnInit,
		acc:      &accounting.Accnt_t{},
		priority: priority,
		taskCtx:  taskctx.PrimeForEntry(kstackTop),
	})
	return t
}

// run is the task's goroutine driver: it waits for the scheduler's
// first resume signal, then runs body to completion, restarting with a
// new body whenever Exec unwinds the stack via execRestart. Exit
// terminates the goroutine directly (runtime.Goexit, inside Kernel.Exit)
// and never returns control here.
func (t *PCB) run(k *Kernel) {
	body := t.body
	for {
		<-t.resumeCh
		func() {
			defer func() {
				if r := recover(); r != nil {
					restart, ok := r.(execRestart)
					if !ok {
						panic(r) // a genuine bug in the body; let it crash the process
					}
					body = restart.body
				}
			}()
			body(k, t)
		}()
	}
}

// Body returns the task's original program logic, the continuation
// fork hands to the child (spec §4.7: the child runs the same program
// as the parent, distinguished only by its trap context's a0).
func (t *PCB) Body() Body { return t.body }

// Status returns the task's current status.
func (t *PCB) Status() taskinfo.Status {
	var s taskinfo.Status
	t.inner.Access(func(in *pcbInner) { s = in.status })
	return s
}

func (t *PCB) setStatus(s taskinfo.Status) {
	t.inner.Access(func(in *pcbInner) { in.status = s })
}

// ExitCode returns the exit code recorded by Exit; meaningful only
// once Status() == taskinfo.Zombie.
func (t *PCB) ExitCode() int32 {
	var c int32
	t.inner.Access(func(in *pcbInner) { c = in.exitCode })
	return c
}

// Accnt returns the task's syscall-counting/first-run accounting
// record.
func (t *PCB) Accnt() *accounting.Accnt_t {
	var a *accounting.Accnt_t
	t.inner.Access(func(in *pcbInner) { a = in.acc })
	return a
}

// FDs returns the task's file descriptor table.
func (t *PCB) FDs() *fdtable.Table {
	var f *fdtable.Table
	t.inner.Access(func(in *pcbInner) { f = in.fds })
	return f
}

// MemSet returns the task's address space.
func (t *PCB) MemSet() *addrspace.MemorySet {
	var m *addrspace.MemorySet
	t.inner.Access(func(in *pcbInner) { m = in.memSet })
	return m
}

// TrapCtxPPN returns the physical frame backing this task's trap
// context page.
func (t *PCB) TrapCtxPPN() memaddr.PPN {
	var p memaddr.PPN
	t.inner.Access(func(in *pcbInner) { p = in.trapCtxPPN })
	return p
}

// Parent returns the task's parent, or nil if it has none or the
// parent has already been collected.
func (t *PCB) Parent() *PCB {
	var p *PCB
	t.inner.Access(func(in *pcbInner) { p = in.parent.Value() })
	return p
}

// Children returns a snapshot of the task's current children.
func (t *PCB) Children() []*PCB {
	var out []*PCB
	t.inner.Access(func(in *pcbInner) {
		out = make([]*PCB, len(in.children))
		copy(out, in.children)
	})
	return out
}

func (t *PCB) addChild(c *PCB) {
	t.inner.Access(func(in *pcbInner) { in.children = append(in.children, c) })
}

// stride and priority, read by the scheduler's Fetch.
func (t *PCB) stride() uint64 {
	var s uint64
	t.inner.Access(func(in *pcbInner) { s = in.stride })
	return s
}

func (t *PCB) priority() int64 {
	var p int64
	t.inner.Access(func(in *pcbInner) { p = in.priority })
	return p
}

// SetPriority implements set_prio: p <= 1 is rejected.
func (t *PCB) SetPriority(p int64) bool {
	if p <= 1 {
		return false
	}
	t.inner.Access(func(in *pcbInner) { in.priority = p })
	return true
}

// advanceStride adds BIG_STRIDE/priority to the task's stride, per
// spec §4.7 Pick.
func (t *PCB) advanceStride(bigStride uint64) {
	t.inner.Access(func(in *pcbInner) {
		in.stride += bigStride / uint64(in.priority)
	})
}

// Brk returns the current heap bottom and program break VPNs.
func (t *PCB) Brk() (heapBottom, brk memaddr.VPN) {
	t.inner.Access(func(in *pcbInner) { heapBottom, brk = in.heapBottom, in.brk })
	return
}

func (t *PCB) setBrk(v memaddr.VPN) {
	t.inner.Access(func(in *pcbInner) { in.brk = v })
}
