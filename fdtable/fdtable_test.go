package fdtable

import (
	"testing"

	"rv39kernel/circbuf"
	"rv39kernel/stat"
)

type memInode struct {
	data []byte
}

func (m *memInode) ReadAt(offset int64, bufs [][]byte) int64 {
	var n int64
	for _, b := range bufs {
		for i := range b {
			if offset+n >= int64(len(m.data)) {
				return n
			}
			b[i] = m.data[offset+n]
			n++
		}
	}
	return n
}

func (m *memInode) WriteAt(offset int64, bufs [][]byte) int64 {
	var n int64
	for _, b := range bufs {
		for _, c := range b {
			idx := offset + n
			if idx == int64(len(m.data)) {
				m.data = append(m.data, 0)
			}
			m.data[idx] = c
			n++
		}
	}
	return n
}

func (m *memInode) Stat() stat.Stat_t { return stat.Stat_t{Mode: stat.ModeFile} }

func TestTableInstallReusesLowestFreeIndex(t *testing.T) {
	tbl := NewTable()
	a := tbl.Install(NewRegular(&memInode{}, true, true))
	b := tbl.Install(NewRegular(&memInode{}, true, true))
	if a != 0 || b != 1 {
		t.Fatalf("expected fds 0,1, got %d,%d", a, b)
	}
	tbl.Close(0)
	c := tbl.Install(NewRegular(&memInode{}, true, true))
	if c != 0 {
		t.Fatalf("expected reused fd 0, got %d", c)
	}
}

func TestRegularReadWriteAdvancesOffset(t *testing.T) {
	ino := &memInode{}
	f := NewRegular(ino, true, true)
	buf := [][]byte{[]byte("hello")}
	if n := f.Write(buf); n != 5 {
		t.Fatalf("expected to write 5 bytes, wrote %d", n)
	}
	if n := f.Read([][]byte{make([]byte, 5)}, nil); n != 0 {
		t.Fatalf("expected the writer's offset to sit at EOF after writing, read %d", n)
	}
	out := make([]byte, 5)
	f2 := NewRegular(ino, true, true)
	if n := f2.Read([][]byte{out}, nil); n != 5 || string(out) != "hello" {
		t.Fatalf("expected to read back 'hello', got %q (%d)", out, n)
	}
}

func TestStdinBlocksUntilDataAvailable(t *testing.T) {
	cb := circbuf.New(4)
	stdin := NewStdin(cb)
	suspended := 0
	suspend := func() {
		suspended++
		if suspended == 2 {
			cb.PutChar('x')
		}
	}
	out := make([]byte, 1)
	n := stdin.Read([][]byte{out}, suspend)
	if n != 1 || out[0] != 'x' {
		t.Fatalf("expected to read 'x', got %q (%d)", out, n)
	}
	if suspended < 2 {
		t.Fatalf("expected stdin to suspend while waiting, got %d suspends", suspended)
	}
}

// TestStdinSharedAcrossForkSuspendsCallingTask simulates the fork
// scenario the maintainer flagged: a stdin descriptor cloned into a
// second table (standing in for a forked child's FD table) must
// suspend whoever actually calls Read, not whoever constructed the
// descriptor.
func TestStdinSharedAcrossForkSuspendsCallingTask(t *testing.T) {
	cb := circbuf.New(4)
	tbl := NewTable()
	tbl.Install(NewStdin(cb))
	child := tbl.Clone()

	f, ok := child.Get(0)
	if !ok {
		t.Fatalf("expected cloned table to carry fd 0")
	}
	var childSuspended, parentSuspended int
	childSuspend := func() {
		childSuspended++
		if childSuspended == 1 {
			cb.PutChar('y')
		}
	}
	out := make([]byte, 1)
	n := f.Read([][]byte{out}, childSuspend)
	if n != 1 || out[0] != 'y' {
		t.Fatalf("expected child's read to see 'y', got %q (%d)", out, n)
	}
	if parentSuspended != 0 {
		t.Fatalf("parent's suspend callback must never run for the child's read")
	}
}

func TestCloneSharesUnderlyingFiles(t *testing.T) {
	tbl := NewTable()
	ino := &memInode{}
	tbl.Install(NewRegular(ino, true, true))
	clone := tbl.Clone()
	f, ok := clone.Get(0)
	if !ok {
		t.Fatalf("expected clone to carry fd 0")
	}
	f.Write([][]byte{[]byte("hi")})
	if len(ino.data) != 2 {
		t.Fatalf("expected write through cloned fd to affect shared inode")
	}
}
