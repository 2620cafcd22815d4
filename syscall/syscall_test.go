package syscall

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"testing"

	"rv39kernel/klog"
	"rv39kernel/sbi"
	"rv39kernel/task"
	"rv39kernel/taskinfo"
	"rv39kernel/trapctx"
)

const (
	testELFHeaderSize        = 64
	testELFProgramHeaderSize = 56
)

// buildTestELF hand-assembles a minimal RISC-V ET_EXEC image whose
// single PT_LOAD segment is readable, writable, and executable, so
// tests can use any address past the loaded code as writable scratch
// space without needing to locate the stack or mmap anything extra.
// See addrspace's test copy for the full rationale (no compiler
// toolchain is available, grounded on tinyrange-cc's hand-built ELF
// writer).
func buildTestELF(vaddr, entry uint64, code []byte) []byte {
	buf := make([]byte, testELFHeaderSize+testELFProgramHeaderSize+len(code))
	copy(buf[testELFHeaderSize+testELFProgramHeaderSize:], code)

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4], buf[5], buf[6] = 2, 1, 1

	binary.LittleEndian.PutUint16(buf[16:], uint16(elf.ET_EXEC))
	binary.LittleEndian.PutUint16(buf[18:], 243) // EM_RISCV
	binary.LittleEndian.PutUint32(buf[20:], uint32(elf.EV_CURRENT))
	binary.LittleEndian.PutUint64(buf[24:], entry)
	binary.LittleEndian.PutUint64(buf[32:], testELFHeaderSize)
	binary.LittleEndian.PutUint16(buf[52:], testELFHeaderSize)
	binary.LittleEndian.PutUint16(buf[54:], testELFProgramHeaderSize)
	binary.LittleEndian.PutUint16(buf[56:], 1)

	ph := buf[testELFHeaderSize:]
	binary.LittleEndian.PutUint32(ph[0:], uint32(elf.PT_LOAD))
	binary.LittleEndian.PutUint32(ph[4:], uint32(elf.PF_R|elf.PF_W|elf.PF_X))
	binary.LittleEndian.PutUint64(ph[8:], testELFHeaderSize+testELFProgramHeaderSize)
	binary.LittleEndian.PutUint64(ph[16:], vaddr)
	binary.LittleEndian.PutUint64(ph[24:], vaddr)
	binary.LittleEndian.PutUint64(ph[32:], uint64(len(code)))
	binary.LittleEndian.PutUint64(ph[40:], 0x1000) // whole page mapped, not just len(code)
	binary.LittleEndian.PutUint64(ph[48:], 0x1000)
	return buf
}

// scratchBase is an address within the loaded page but past its tiny
// code prefix, safe to use as writable test scratch space.
const scratchBase = 0x1000 + 512

var trivialELF = buildTestELF(0x1000, 0x1000, bytes.Repeat([]byte{0}, 16))

func testKernel(t *testing.T) *task.Kernel {
	t.Helper()
	fw := sbi.NewSim(os.Stdout)
	log := klog.New(fw, klog.Off)
	return task.NewKernel(fw, log)
}

// runSyscall drives a single task whose entire body issues one
// syscall then exits, returning the syscall's result.
func runSyscall(t *testing.T, k *task.Kernel, num uint64, args [4]uint64) int64 {
	t.Helper()
	var got int64
	body := func(k *task.Kernel, pcb *task.PCB) {
		got = Dispatch(k, pcb, num, args)
		k.Exit(pcb, 0)
	}
	if _, err := k.NewInitProc(trivialELF, body); err != nil {
		t.Fatalf("NewInitProc: %v", err)
	}
	if !k.RunOne() {
		t.Fatalf("expected the task to run")
	}
	return got
}

func TestGetpidReturnsCallingTaskPID(t *testing.T) {
	k := testKernel(t)
	var pid, got int64
	body := func(k *task.Kernel, pcb *task.PCB) {
		pid = int64(pcb.Pid.PID())
		got = Dispatch(k, pcb, Getpid, [4]uint64{})
		k.Exit(pcb, 0)
	}
	k.NewInitProc(trivialELF, body)
	k.RunOne()

	if got != pid {
		t.Fatalf("getpid = %d, want %d", got, pid)
	}
}

func TestOpenCreateWriteReadRoundTrip(t *testing.T) {
	k := testKernel(t)
	var fd, writeN, readN int64
	var readBuf [16]byte
	path := "hello.txt"
	payload := []byte("hi there!")

	body := func(k *task.Kernel, pcb *task.PCB) {
		pathVA := uint64(scratchBase)
		mustCopyOut(t, pcb, pathVA, append([]byte(path), 0))

		dataVA := pathVA + 64
		mustCopyOut(t, pcb, dataVA, payload)

		fd = Dispatch(k, pcb, Open, [4]uint64{pathVA, OpenReadWrite | OpenCreate, 0, 0})
		if fd < 0 {
			k.Exit(pcb, 1)
			return
		}
		writeN = Dispatch(k, pcb, Write, [4]uint64{uint64(fd), dataVA, uint64(len(payload)), 0})
		Dispatch(k, pcb, Close, [4]uint64{uint64(fd), 0, 0, 0})

		fd = Dispatch(k, pcb, Open, [4]uint64{pathVA, 0, 0, 0})
		readVA := dataVA + 64
		readN = Dispatch(k, pcb, Read, [4]uint64{uint64(fd), readVA, uint64(len(readBuf)), 0})
		mustCopyIn(t, pcb, readVA, readBuf[:])
		k.Exit(pcb, 0)
	}

	if _, err := k.NewInitProc(trivialELF, body); err != nil {
		t.Fatalf("NewInitProc: %v", err)
	}
	if !k.RunOne() {
		t.Fatalf("expected task to run")
	}
	if fd < 0 {
		t.Fatalf("open failed")
	}
	if writeN != int64(len(payload)) {
		t.Fatalf("write = %d, want %d", writeN, len(payload))
	}
	if readN != int64(len(payload)) {
		t.Fatalf("read = %d, want %d", readN, len(payload))
	}
	if !bytes.Equal(readBuf[:readN], payload) {
		t.Fatalf("read contents = %q, want %q", readBuf[:readN], payload)
	}
}

func mustCopyOut(t *testing.T, pcb *task.PCB, va uint64, data []byte) {
	t.Helper()
	if !copyOut(pcb, va, data) {
		t.Fatalf("copyOut at %#x failed", va)
	}
}

func mustCopyIn(t *testing.T, pcb *task.PCB, va uint64, dst []byte) {
	t.Helper()
	if !copyIn(pcb, va, dst) {
		t.Fatalf("copyIn at %#x failed", va)
	}
}

func TestForkChildTrapContextA0IsZero(t *testing.T) {
	k := testKernel(t)
	var parentRet int64
	var childA0 uint64
	var childPID int

	body := func(k *task.Kernel, pcb *task.PCB) {
		parentRet = sysFork(k, pcb)
		kids := pcb.Children()
		if len(kids) != 1 {
			t.Errorf("expected fork to record exactly one child, got %d", len(kids))
		} else {
			childPID = kids[0].Pid.PID()
			childA0 = trapctx.At(k.Mem, kids[0].TrapCtxPPN()).A0()
		}
		k.Exit(pcb, 0)
	}
	k.NewInitProc(trivialELF, body)
	k.RunOne()

	if parentRet != int64(childPID) {
		t.Fatalf("parent's fork return = %d, want child PID %d", parentRet, childPID)
	}
	if childA0 != 0 {
		t.Fatalf("child's trap-context a0 = %d, want 0", childA0)
	}
}

func TestWaitpidNoChildAndPending(t *testing.T) {
	k := testKernel(t)
	var noChild, pending int64

	body := func(k *task.Kernel, pcb *task.PCB) {
		noChild = Dispatch(k, pcb, Waitpid, [4]uint64{^uint64(0), 0, 0, 0})
		sysFork(k, pcb)
		childPID := pcb.Children()[0].Pid.PID()
		pending = Dispatch(k, pcb, Waitpid, [4]uint64{uint64(childPID), 0, 0, 0})
		k.Exit(pcb, 0)
	}
	k.NewInitProc(trivialELF, body)
	k.RunOne()

	if noChild != -1 {
		t.Fatalf("waitpid with no matching child = %d, want -1", noChild)
	}
	if pending != -2 {
		t.Fatalf("waitpid on a still-running child = %d, want -2", pending)
	}
}

func TestSetPrioRejectsPriorityBelowTwo(t *testing.T) {
	k := testKernel(t)
	if got := runSyscall(t, k, SetPrio, [4]uint64{1, 0, 0, 0}); got != -1 {
		t.Fatalf("set_prio(1) = %d, want -1", got)
	}

	k2 := testKernel(t)
	if got := runSyscall(t, k2, SetPrio, [4]uint64{5, 0, 0, 0}); got != 5 {
		t.Fatalf("set_prio(5) = %d, want 5", got)
	}
}

func TestTaskInfoReportsSyscallCounts(t *testing.T) {
	k := testKernel(t)
	var info taskinfo.TaskInfo_t

	body := func(k *task.Kernel, pcb *task.PCB) {
		Dispatch(k, pcb, Getpid, [4]uint64{})
		Dispatch(k, pcb, Getpid, [4]uint64{})
		va := uint64(scratchBase)
		if got := Dispatch(k, pcb, TaskInfo, [4]uint64{va, 0, 0, 0}); got != 0 {
			t.Errorf("task_info = %d, want 0", got)
		}
		mustCopyIn(t, pcb, va, structBytes(&info))
		k.Exit(pcb, 0)
	}
	k.NewInitProc(trivialELF, body)
	k.RunOne()

	if info.SyscallTimes[Getpid] != 2 {
		t.Fatalf("getpid count = %d, want 2", info.SyscallTimes[Getpid])
	}
}

func TestUnknownSyscallReturnsError(t *testing.T) {
	k := testKernel(t)
	if got := runSyscall(t, k, 999999, [4]uint64{}); got != -1 {
		t.Fatalf("unknown syscall = %d, want -1", got)
	}
}
