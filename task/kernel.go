package task

import (
	"runtime"
	"sync"
	"time"

	"rv39kernel/addrspace"
	"rv39kernel/blockio"
	"rv39kernel/circbuf"
	"rv39kernel/config"
	"rv39kernel/fdtable"
	"rv39kernel/frame"
	"rv39kernel/klog"
	"rv39kernel/memaddr"
	"rv39kernel/pid"
	"rv39kernel/sbi"
	"rv39kernel/taskinfo"
	"rv39kernel/timer"
	"rv39kernel/trapctx"
	"rv39kernel/vfs"
	"weak"
)

// consoleBufSize bounds the console-input ring buffer package circbuf
// feeds stdin from; an arbitrary but generous depth (spec places no
// bound on it, unlike the block-request queue).
const consoleBufSize = 256

// diskBlocks and diskMaxInFlight size the simulated root filesystem's
// backing store and its request-queue depth.
const (
	diskBlocks      = 8192
	diskMaxInFlight = 4
)

// Kernel bundles every process-wide singleton spec §5 groups under one
// exclusive-access discipline: the frame and PID allocators, kernel
// address space, ready queue, clock, and firmware console.
type Kernel struct {
	Mem         *frame.PhysMem
	Alloc       *frame.Allocator
	Pids        *pid.Allocator
	KernelSpace *addrspace.MemorySet
	TrampPPN    memaddr.PPN
	Manager     *Manager
	Clock       *timer.Clock
	FW          sbi.Firmware_i
	Log         *klog.Logger
	ConsoleIn   *circbuf.Circbuf_t
	FS          *vfs.Fs

	mu       sync.Mutex
	current  *PCB
	initProc *PCB

	progMu   sync.Mutex
	programs map[string]Body
}

// defaultKernelImage gives each synthetic linker section a
// non-overlapping PPN range; the real boot image's sizes are out of
// scope (spec §1), so these are just large enough to hold this
// simulation's small embedded images.
var defaultKernelImage = addrspace.KernelImage{
	Stext: 0, Etext: 16,
	Srodata: 16, Erodata: 24,
	Sdata: 24, Ebss: 64,
	Ekernel: 64,
}

// NewKernel builds kernel address space and process-wide allocators,
// ready to create and run tasks, and starts the console-input pump
// that feeds ConsoleIn from fw.ConsoleGetchar.
func NewKernel(fw sbi.Firmware_i, log *klog.Logger) *Kernel {
	mem := frame.NewPhysMem()
	memoryEndPPN := memaddr.PPN(config.MemoryEnd / config.PageSize)
	alloc := frame.NewAllocator(mem, defaultKernelImage.Ekernel, memoryEndPPN)

	trampHandle := alloc.MustAlloc()
	trampPPN := trampHandle.PPN()

	ks := addrspace.NewKernelSpace(mem, alloc, defaultKernelImage, memoryEndPPN, trampPPN)
	disk := blockio.NewMemDisk(diskBlocks)
	queue := blockio.NewQueue(disk, diskMaxInFlight)

	k := &Kernel{
		Mem:         mem,
		Alloc:       alloc,
		Pids:        pid.NewAllocator(),
		KernelSpace: ks,
		TrampPPN:    trampPPN,
		Manager:     NewManager(),
		Clock:       timer.New(fw),
		FW:          fw,
		Log:         log,
		ConsoleIn:   circbuf.New(consoleBufSize),
		FS:          vfs.New(queue),
		programs:    make(map[string]Body),
	}
	go k.pumpConsole()
	return k
}

// pumpConsole polls the firmware console for input and feeds it into
// ConsoleIn, standing in for the real UART receive interrupt (spec §5:
// stdin is fed "a byte at a time" from the console device).
func (k *Kernel) pumpConsole() {
	for {
		if c, ok := k.FW.ConsoleGetchar(); ok {
			k.ConsoleIn.PutChar(c)
			continue
		}
		time.Sleep(time.Millisecond)
	}
}

// Current returns the task the scheduler is presently driving, or nil
// if the idle loop itself is running.
func (k *Kernel) Current() *PCB {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current
}

// buildTask allocates a PID, kernel stack, loads elfData, and wires up
// the initial trap context and task context, common to initproc
// creation, Fork's target, and Spawn.
func (k *Kernel) buildTask(elfData []byte, body Body, withBrk bool) (*PCB, error) {
	pidHandle := k.Pids.Alloc()
	kstackTop := pidHandle.BindKernelStack(k.KernelSpace)

	ms, userSP, entry, err := addrspace.FromELF(k.Mem, k.Alloc, k.TrampPPN, elfData, withBrk)
	if err != nil {
		pidHandle.ReleaseKernelStack()
		pidHandle.Release()
		return nil, err
	}

	t := newPCB(pidHandle, uint64(kstackTop), config.DefaultPriority, body)
	tcPPN := ms.TrapContextPPN()
	tc := trapctx.At(k.Mem, tcPPN)
	*tc = trapctx.AppInitContext(uint64(entry), uint64(userSP), k.KernelSpace.Activate(), uint64(kstackTop), 0)

	heapBottom := memaddr.VirtAddr(userSP).Floor()
	t.inner.Access(func(in *pcbInner) {
		in.memSet = ms
		in.trapCtxPPN = tcPPN
		in.status = taskinfo.Ready
		in.fds = k.defaultFDTable()
		in.heapBottom = heapBottom
		in.brk = heapBottom
	})
	return t, nil
}

// defaultFDTable builds the standard 0=stdin, 1=stdout, 2=stderr
// table for a freshly created task (spec §3's FD table initial
// entries). Stdin is shared across a fork like any other descriptor
// (fdtable.Table.Clone); whichever task actually calls read(0, ...)
// supplies its own suspend callback at call time (see syscall.sysRead),
// so the descriptor itself holds no reference to the task that opened
// it.
func (k *Kernel) defaultFDTable() *fdtable.Table {
	fds := fdtable.NewTable()
	stdin := fdtable.NewStdin(k.ConsoleIn)
	fds.Install(stdin)
	fds.Install(fdtable.NewStdout(k.Log))
	fds.Install(fdtable.NewStdout(k.Log)) // stderr: console output, same as stdout
	return fds
}

// Spawn creates a fresh task from elfData with no parent relationship
// implied yet; the caller (the spawn syscall, via AttachChild) attaches
// it where appropriate and enqueues it.
func (k *Kernel) Spawn(elfData []byte, body Body) (*PCB, error) {
	return k.buildTask(elfData, body, true)
}

// NewInitProc creates and enqueues the root process, recording it as
// the kernel's reparenting target for orphaned children.
func (k *Kernel) NewInitProc(elfData []byte, body Body) (*PCB, error) {
	t, err := k.buildTask(elfData, body, true)
	if err != nil {
		return nil, err
	}
	k.initProc = t
	k.Manager.Add(t)
	return t, nil
}

// InitProc returns the root process, or nil before NewInitProc has run.
func (k *Kernel) InitProc() *PCB { return k.initProc }

// RegisterProgram associates name (a root-directory file name, the
// same one exec/spawn look up by path) with the Go logic that should
// run once its image is loaded. This is this simulation's bridge for
// "the ELF's machine code" — a host process has no RISC-V instruction
// interpreter, so the bytes served from FS only drive address-space
// construction (spec §4.7's from_elf), while the behavior a freshly
// exec'd or spawned task exhibits comes from this registry instead.
// The loader package populates it when it seeds the root filesystem
// with embedded application images (see DESIGN.md).
func (k *Kernel) RegisterProgram(name string, body Body) {
	k.progMu.Lock()
	defer k.progMu.Unlock()
	k.programs[name] = body
}

// ProgramBody looks up the Go logic registered for name.
func (k *Kernel) ProgramBody(name string) (Body, bool) {
	k.progMu.Lock()
	defer k.progMu.Unlock()
	b, ok := k.programs[name]
	return b, ok
}

// AttachChild records child as a ready child of parent, for spawn's
// "attach as a child of the caller, enqueue" step (spec §4.7).
func (k *Kernel) AttachChild(parent, child *PCB) {
	parent.addChild(child)
	k.Manager.Add(child)
}

// RunOne performs one schedule: fetch the minimum-stride ready task,
// mark it Running, switch into it (starting its goroutine on first
// use), and block until it yields control back (suspend or exit).
// Returns false if the ready queue was empty.
func (k *Kernel) RunOne() bool {
	t, ok := k.Manager.Fetch()
	if !ok {
		return false
	}
	t.setStatus(taskinfo.Running)
	t.Accnt().MarkFirstRun(time.Now())

	k.mu.Lock()
	k.current = t
	k.mu.Unlock()

	if !t.started {
		t.started = true
		go t.run(k)
	}
	t.resumeCh <- struct{}{}
	<-t.yieldCh

	k.mu.Lock()
	k.current = nil
	k.mu.Unlock()
	return true
}

// Run drives the idle loop forever, the real kernel's main scheduling
// loop (spec §4.7 "Idle loop"). Used by cmd/kernel; tests call RunOne
// directly for deterministic single-step control.
func (k *Kernel) Run() {
	for k.RunOne() {
	}
}

// Suspend implements voluntary yield and the timer-interrupt
// preemption point: mark t Ready, re-enqueue, hand control back to
// the scheduler, and block until rescheduled.
func (k *Kernel) Suspend(t *PCB) {
	t.setStatus(taskinfo.Ready)
	k.Manager.Add(t)
	t.yieldCh <- struct{}{}
	<-t.resumeCh
}

// Exit implements spec §4.7 Exit(code): mark Zombie, record the exit
// code, reparent every child to initproc, recycle the address space's
// data pages, and hand control back to the scheduler for good. Never
// returns to its caller.
func (k *Kernel) Exit(t *PCB, code int32) {
	var children []*PCB
	t.inner.Access(func(in *pcbInner) {
		in.status = taskinfo.Zombie
		in.exitCode = code
		children = in.children
		in.children = nil
		if in.memSet != nil {
			in.memSet.RecycleDataPages()
		}
	})
	if k.initProc != nil && k.initProc != t {
		for _, c := range children {
			c.inner.Access(func(in *pcbInner) { in.parent = weak.Make(k.initProc) })
			k.initProc.addChild(c)
		}
	}
	t.yieldCh <- struct{}{}
	runtime.Goexit()
}

// Exec implements spec §4.7 exec(bytes): build a fresh address space
// from elfData, replace t's memory_set and trap-context frame, rewrite
// the trap context with the new entry/sp/satp/kernel-sp, and swap in
// newBody — preserving PID, kernel stack, parent, children, and fd
// table exactly. Never returns to its caller on success.
func (k *Kernel) Exec(t *PCB, elfData []byte, newBody Body) bool {
	ms, userSP, entry, err := addrspace.FromELF(k.Mem, k.Alloc, k.TrampPPN, elfData, true)
	if err != nil {
		return false
	}
	tcPPN := ms.TrapContextPPN()
	tc := trapctx.At(k.Mem, tcPPN)
	*tc = trapctx.AppInitContext(uint64(entry), uint64(userSP), k.KernelSpace.Activate(), t.KStackTop, 0)

	heapBottom := memaddr.VirtAddr(userSP).Floor()
	t.inner.Access(func(in *pcbInner) {
		in.memSet = ms
		in.trapCtxPPN = tcPPN
		in.status = taskinfo.Ready
		in.heapBottom = heapBottom
		in.brk = heapBottom
	})
	k.Manager.Add(t)
	t.yieldCh <- struct{}{}
	panic(execRestart{body: newBody})
}

// Sbrk implements spec §4.7 sbrk(delta): grows or shrinks t's heap by
// delta bytes, rounded to whole pages, returning the heap break
// virtual address from before the change. ok is false if a shrink
// would retract past heapBottom or the address space rejects a grow.
func (k *Kernel) Sbrk(t *PCB, delta int64) (oldBrk uint64, ok bool) {
	ms := t.MemSet()
	heapBottom, brk := t.Brk()
	oldBrk = uint64(brk.Addr())
	if delta == 0 {
		return oldBrk, true
	}
	newEndByte := int64(brk.Addr()) + delta
	if newEndByte < int64(heapBottom.Addr()) {
		return oldBrk, false
	}
	newEnd := memaddr.VirtAddr(uint64(newEndByte)).Ceil()
	if delta > 0 {
		if !ms.GrowHeapTo(heapBottom, newEnd) {
			return oldBrk, false
		}
	} else {
		if !ms.ShrinkHeapTo(heapBottom, newEnd) {
			return oldBrk, false
		}
	}
	t.setBrk(newEnd)
	return oldBrk, true
}

// Fork implements spec §4.7 fork: deep-copies the address space,
// allocates a new PID and kernel stack, clones the fd table, copies
// priority, resets stride/exit-code, and attaches as parent's child.
// body runs the child's half of the fork (conventionally reading
// trap-context A0()==0 to recognize itself as the child).
func (k *Kernel) Fork(parent *PCB, body Body) *PCB {
	pidHandle := k.Pids.Alloc()
	kstackTop := pidHandle.BindKernelStack(k.KernelSpace)

	parentMS := parent.MemSet()
	childMS := addrspace.FromExistedUser(k.Mem, k.Alloc, k.TrampPPN, parentMS)

	child := newPCB(pidHandle, uint64(kstackTop), parent.priority(), body)
	tcPPN := childMS.TrapContextPPN()
	tc := trapctx.At(k.Mem, tcPPN)
	tc.KernelSP = uint64(kstackTop)
	tc.KernelSatp = k.KernelSpace.Activate()

	child.inner.Access(func(in *pcbInner) {
		in.memSet = childMS
		in.trapCtxPPN = tcPPN
		in.status = taskinfo.Ready
		in.fds = parent.FDs().Clone()
		hb, brk := parent.Brk()
		in.heapBottom = hb
		in.brk = brk
		in.parent = weak.Make(parent)
	})
	parent.addChild(child)
	k.Manager.Add(child)
	return child
}

// WaitpidResult is the outcome of Waitpid.
type WaitpidResult int

const (
	// WaitFound means a matching zombie was reaped; Pid/ExitCode are set.
	WaitFound WaitpidResult = iota
	// WaitNoChild means no living or zombie child matches pid (-1).
	WaitNoChild
	// WaitPending means a matching child exists but hasn't exited yet (-2).
	WaitPending
)

// Waitpid implements spec §4.7 waitpid(pid, *status): pid == -1
// matches any child.
func (k *Kernel) Waitpid(parent *PCB, pid int) (result WaitpidResult, reapedPID int, exitCode int32) {
	var matchIdx = -1
	var anyMatch bool
	children := parent.Children()
	for i, c := range children {
		if pid != -1 && c.Pid.PID() != pid {
			continue
		}
		anyMatch = true
		if c.Status() == taskinfo.Zombie {
			matchIdx = i
			break
		}
	}
	if !anyMatch {
		return WaitNoChild, 0, 0
	}
	if matchIdx < 0 {
		return WaitPending, 0, 0
	}
	zombie := children[matchIdx]
	parent.inner.Access(func(in *pcbInner) {
		for i, c := range in.children {
			if c == zombie {
				in.children = append(in.children[:i], in.children[i+1:]...)
				break
			}
		}
	})
	code := zombie.ExitCode()
	if ms := zombie.MemSet(); ms != nil {
		ms.PT.Drop()
	}
	zombie.Pid.ReleaseKernelStack()
	zombie.Pid.Release()
	return WaitFound, zombie.Pid.PID(), code
}
