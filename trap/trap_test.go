package trap

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
)

const (
	testELFHeaderSize        = 64
	testELFProgramHeaderSize = 56
)

// buildTestELF hand-assembles a minimal RISC-V ET_EXEC image; see
// addrspace_test.go's copy for the rationale.
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
	binary.LittleEndian.PutUint64(ph[40:], 0x1000)
	binary.LittleEndian.PutUint64(ph[48:], 0x1000)
	return buf
}

func testKernel(t *testing.T) *task.Kernel {
	t.Helper()
	fw := sbi.NewSim(os.Stdout)
	log := klog.New(fw, klog.Off)
	return task.NewKernel(fw, log)
}

var trivialELF = buildTestELF(0x1000, 0x1000, bytes.Repeat([]byte{0}, 16))

func TestHandleIllegalInstructionExitsWithMinus3(t *testing.T) {
	k := testKernel(t)
	body := func(k *task.Kernel, t *task.PCB) {
		Handle(k, t, IllegalInstruction, 0xffffffff)
	}
	p, err := k.NewInitProc(trivialELF, body)
	if err != nil {
		t.Fatalf("NewInitProc: %v", err)
	}
	k.RunOne()
	if p.Status() != taskinfo.Zombie {
		t.Fatalf("status = %v, want Zombie", p.Status())
	}
	if p.ExitCode() != -3 {
		t.Fatalf("exit code = %d, want -3", p.ExitCode())
	}
}

func TestHandlePageFaultExitsWithMinus2(t *testing.T) {
	k := testKernel(t)
	body := func(k *task.Kernel, t *task.PCB) {
		Handle(k, t, PageFault, 0)
	}
	p, err := k.NewInitProc(trivialELF, body)
	if err != nil {
		t.Fatalf("NewInitProc: %v", err)
	}
	k.RunOne()
	if p.ExitCode() != -2 {
		t.Fatalf("exit code = %d, want -2", p.ExitCode())
	}
}

func TestCauseStringCoversEveryFaultKind(t *testing.T) {
	for _, c := range []Cause{StoreFault, LoadFault, InstructionFault, PageFault, IllegalInstruction} {
		if c.String() == "" {
			t.Fatalf("Cause(%d).String() is empty", int(c))
		}
	}
}
