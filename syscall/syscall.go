// Package syscall implements the numeric system-call dispatch table
// spec §4.8 defines: one case per recognized ID, each translating its
// user pointers through the calling task's page table before touching
// them, mirroring original_source's syscall/mod.rs switch and the ABI
// types original_source's syscall/process.rs and fs.rs define.
//
// Grounded on biscuit's syscall.go dispatch-by-number style
// (biscuit/src/syscall/syscall.go) for the overall table shape, with
// pointer arguments resolved exclusively through
// addrspace.MemorySet.UserBuffer per spec §4.8's "the kernel never
// dereferences them directly".
package syscall

import (
	"time"
	"unsafe"

	"rv39kernel/fdtable"
	"rv39kernel/memaddr"
	"rv39kernel/task"
	"rv39kernel/taskinfo"
	"rv39kernel/trapctx"
	"rv39kernel/vfs"
)

// Numeric syscall IDs, part of the external user ABI (spec §4.8).
const (
	Unlinkat = 35
	Linkat   = 37
	Open     = 56
	Close    = 57
	Read     = 63
	Write    = 64
	Fstat    = 80
	Exit     = 93
	Yield    = 124
	SetPrio  = 140
	GetTime  = 169
	Getpid   = 172
	Sbrk     = 214
	Munmap   = 215
	Fork     = 220
	Exec     = 221
	Mmap     = 222
	Waitpid  = 260
	Spawn    = 400
	TaskInfo = 410
)

const pathMaxLen = 256

// OpenFlags bit layout (spec §4.8's open row).
const (
	OpenWriteOnly = 1 << 0
	OpenReadWrite = 1 << 1
	OpenCreate    = 1 << 9
	OpenTrunc     = 1 << 10
)

// TimeVal mirrors the user-ABI-stable {sec, usec} record get_time
// writes (spec §6).
type TimeVal struct {
	Sec  uint64
	Usec uint64
}

// structBytes views v's backing memory as a byte slice, the same
// dual-view trick stat.Stat_t.Bytes and frame.PhysMem.PTEs use,
// generalized with a type parameter so every fixed-layout ABI record
// can share one copy-out path.
func structBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), int(unsafe.Sizeof(*v)))
}

func copyOut(t *task.PCB, va uint64, data []byte) bool {
	bufs, ok := t.MemSet().UserBuffer(memaddr.VirtAddr(va), len(data))
	if !ok {
		return false
	}
	off := 0
	for _, b := range bufs {
		n := copy(b, data[off:])
		off += n
	}
	return true
}

func copyIn(t *task.PCB, va uint64, dst []byte) bool {
	bufs, ok := t.MemSet().UserBuffer(memaddr.VirtAddr(va), len(dst))
	if !ok {
		return false
	}
	off := 0
	for _, b := range bufs {
		n := copy(dst[off:], b)
		off += n
	}
	return true
}

// readCString reads a NUL-terminated string starting at va, up to
// pathMaxLen bytes.
func readCString(t *task.PCB, va uint64) (string, bool) {
	buf := make([]byte, pathMaxLen)
	if !copyIn(t, va, buf) {
		return "", false
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), true
		}
	}
	return "", false
}

// readFile loads name's full contents from k.FS, or ok=false if it
// does not exist.
func readFile(k *task.Kernel, name string) ([]byte, bool) {
	ino, ok := k.FS.Find(name)
	if !ok {
		return nil, false
	}
	data := make([]byte, int(ino.Size()))
	vfs.Open(k.FS, ino).ReadAt(0, [][]byte{data})
	return data, true
}

// Dispatch runs syscall num with args (x10..x13), counting it against
// t's per-number accounting first (spec §4.8: "each call updates the
// current task's per-number counter before dispatch"). Returns the
// value to place in the trap context's a0 on return. exec dispatches
// through task.Kernel.Exec, which never returns to its caller on
// success (it unwinds via panic/recover instead); Dispatch's own
// return value in that case is therefore unreachable.
func Dispatch(k *task.Kernel, t *task.PCB, num uint64, args [4]uint64) int64 {
	t.Accnt().CountSyscall(int(num))
	switch num {
	case Unlinkat:
		return sysUnlinkat(k, t, args)
	case Linkat:
		return sysLinkat(k, t, args)
	case Open:
		return sysOpen(k, t, args)
	case Close:
		return sysClose(t, args)
	case Read:
		return sysRead(k, t, args)
	case Write:
		return sysWrite(t, args)
	case Fstat:
		return sysFstat(t, args)
	case Exit:
		k.Exit(t, int32(args[0]))
		return 0 // unreachable: Exit never returns
	case Yield:
		k.Suspend(t)
		return 0
	case SetPrio:
		return sysSetPrio(t, args)
	case GetTime:
		return sysGetTime(k, t, args)
	case Getpid:
		return int64(t.Pid.PID())
	case Sbrk:
		return sysSbrk(k, t, args)
	case Munmap:
		return sysMunmap(t, args)
	case Fork:
		return sysFork(k, t)
	case Exec:
		return sysExec(k, t, args)
	case Mmap:
		return sysMmap(t, args)
	case Waitpid:
		return sysWaitpid(k, t, args)
	case Spawn:
		return sysSpawn(k, t, args)
	case TaskInfo:
		return sysTaskInfo(k, t, args)
	default:
		return -1
	}
}

func sysUnlinkat(k *task.Kernel, t *task.PCB, args [4]uint64) int64 {
	path, ok := readCString(t, args[0])
	if !ok {
		return -1
	}
	if !k.FS.Unlinkat(path) {
		return -1
	}
	return 0
}

func sysLinkat(k *task.Kernel, t *task.PCB, args [4]uint64) int64 {
	oldPath, ok1 := readCString(t, args[0])
	newPath, ok2 := readCString(t, args[1])
	if !ok1 || !ok2 || oldPath == newPath {
		return -1
	}
	if !k.FS.Linkat(oldPath, newPath) {
		return -1
	}
	return 0
}

func sysOpen(k *task.Kernel, t *task.PCB, args [4]uint64) int64 {
	path, ok := readCString(t, args[0])
	if !ok {
		return -1
	}
	flags := args[1]
	ino, exists := k.FS.Find(path)
	if !exists {
		if flags&OpenCreate == 0 {
			return -1
		}
		ino = k.FS.Create(path)
	} else if flags&OpenTrunc != 0 {
		k.FS.Unlinkat(path)
		ino = k.FS.Create(path)
	}
	readable := flags&OpenWriteOnly == 0
	writable := flags&(OpenWriteOnly|OpenReadWrite) != 0
	h := fdtable.NewRegular(vfs.Open(k.FS, ino), readable, writable)
	return int64(t.FDs().Install(h))
}

func sysClose(t *task.PCB, args [4]uint64) int64 {
	if !t.FDs().Close(int(args[0])) {
		return -1
	}
	return 0
}

func sysRead(k *task.Kernel, t *task.PCB, args [4]uint64) int64 {
	f, ok := t.FDs().Get(int(args[0]))
	if !ok || !f.Readable() {
		return -1
	}
	bufs, ok := t.MemSet().UserBuffer(memaddr.VirtAddr(args[1]), int(args[2]))
	if !ok {
		return -1
	}
	return f.Read(bufs, func() { k.Suspend(t) })
}

func sysWrite(t *task.PCB, args [4]uint64) int64 {
	f, ok := t.FDs().Get(int(args[0]))
	if !ok || !f.Writable() {
		return -1
	}
	bufs, ok := t.MemSet().UserBuffer(memaddr.VirtAddr(args[1]), int(args[2]))
	if !ok {
		return -1
	}
	return f.Write(bufs)
}

func sysFstat(t *task.PCB, args [4]uint64) int64 {
	f, ok := t.FDs().Get(int(args[0]))
	if !ok {
		return -1
	}
	st, ok := f.Stat()
	if !ok {
		return -1
	}
	if !copyOut(t, args[1], st.Bytes()) {
		return -1
	}
	return 0
}

func sysSetPrio(t *task.PCB, args [4]uint64) int64 {
	p := int64(args[0])
	if !t.SetPriority(p) {
		return -1
	}
	return p
}

func sysGetTime(k *task.Kernel, t *task.PCB, args [4]uint64) int64 {
	tv := TimeVal{Sec: k.Clock.GetTimeMs() / 1000, Usec: k.Clock.GetTimeUs() % 1_000_000}
	if !copyOut(t, args[0], structBytes(&tv)) {
		return -1
	}
	return 0
}

func sysSbrk(k *task.Kernel, t *task.PCB, args [4]uint64) int64 {
	old, ok := k.Sbrk(t, int64(args[0]))
	if !ok {
		return -1
	}
	return int64(old)
}

func sysMunmap(t *task.PCB, args [4]uint64) int64 {
	if !t.MemSet().Munmap(memaddr.VirtAddr(args[0]), args[1]) {
		return -1
	}
	return 0
}

func sysMmap(t *task.PCB, args [4]uint64) int64 {
	if !t.MemSet().Mmap(memaddr.VirtAddr(args[0]), args[1], args[2]) {
		return -1
	}
	return 0
}

// sysFork implements the fork row: the child shares the parent's
// program logic (same Go body, distinguished only by trap-context a0),
// per spec §4.7's "dispatcher... parent's x10 becomes the child's PID
// and the child's x10 is set to 0".
func sysFork(k *task.Kernel, parent *task.PCB) int64 {
	child := k.Fork(parent, parent.Body())
	trapctx.At(k.Mem, child.TrapCtxPPN()).SetA0(0)
	return int64(child.Pid.PID())
}

// sysExec implements the exec row: open path, read its bytes (driving
// the vfs/fd path exactly as spec §4.8 prescribes), then hand off to
// task.Kernel.Exec with the Go logic registered for that path name
// (see Kernel.RegisterProgram's doc comment for why a registry stands
// in for a real instruction interpreter here).
func sysExec(k *task.Kernel, t *task.PCB, args [4]uint64) int64 {
	path, ok := readCString(t, args[0])
	if !ok {
		return -1
	}
	data, ok := readFile(k, path)
	if !ok {
		return -1
	}
	body, ok := k.ProgramBody(path)
	if !ok {
		return -1
	}
	k.Exec(t, data, body) // never returns to this call on success
	return -1
}

func sysWaitpid(k *task.Kernel, t *task.PCB, args [4]uint64) int64 {
	result, pid, code := k.Waitpid(t, int(int32(args[0])))
	switch result {
	case task.WaitNoChild:
		return -1
	case task.WaitPending:
		return -2
	default:
		if args[1] != 0 {
			c := code
			copyOut(t, args[1], structBytes(&c))
		}
		return int64(pid)
	}
}

func sysSpawn(k *task.Kernel, t *task.PCB, args [4]uint64) int64 {
	path, ok := readCString(t, args[0])
	if !ok {
		return -1
	}
	data, ok := readFile(k, path)
	if !ok {
		return -1
	}
	body, ok := k.ProgramBody(path)
	if !ok {
		return -1
	}
	child, err := k.Spawn(data, body)
	if err != nil {
		return -1
	}
	k.AttachChild(t, child)
	return int64(child.Pid.PID())
}

func sysTaskInfo(k *task.Kernel, t *task.PCB, args [4]uint64) int64 {
	info := taskinfo.TaskInfo_t{Status: t.Status(), TimeMs: t.Accnt().ElapsedMs(time.Now())}
	for i := range info.SyscallTimes {
		info.SyscallTimes[i] = t.Accnt().SyscallCount(i)
	}
	if !copyOut(t, args[0], structBytes(&info)) {
		return -1
	}
	return 0
}
