package vfs

import (
	"testing"

	"rv39kernel/blockio"
)

func newTestFs() *Fs {
	return New(blockio.NewQueue(blockio.NewMemDisk(256), 4))
}

func TestCreateFindWriteReadRoundTrip(t *testing.T) {
	fs := newTestFs()
	ino := fs.Create("a.txt")
	n := ino.WriteAt(fs, 0, []byte("hello world"))
	if n != 11 {
		t.Fatalf("expected to write 11 bytes, wrote %d", n)
	}
	found, ok := fs.Find("a.txt")
	if !ok || found != ino {
		t.Fatalf("expected find to return the same cached inode")
	}
	buf := make([]byte, 11)
	if got := found.ReadAt(fs, 0, buf); got != 11 || string(buf) != "hello world" {
		t.Fatalf("read back mismatch: %q (%d)", buf, got)
	}
}

func TestWriteAtSpanningBlocks(t *testing.T) {
	fs := newTestFs()
	ino := fs.Create("big")
	data := make([]byte, blockio.BlockSize+10)
	for i := range data {
		data[i] = byte(i)
	}
	n := ino.WriteAt(fs, 0, data)
	if n != int64(len(data)) {
		t.Fatalf("expected full write across block boundary, got %d/%d", n, len(data))
	}
	out := make([]byte, len(data))
	if got := ino.ReadAt(fs, 0, out); got != int64(len(data)) {
		t.Fatalf("expected full read-back, got %d", got)
	}
	for i := range data {
		if out[i] != data[i] {
			t.Fatalf("byte %d mismatch: want %d got %d", i, data[i], out[i])
		}
	}
}

func TestLinkatDoesNotOverwriteExistingName(t *testing.T) {
	fs := newTestFs()
	fs.Create("src")
	fs.Create("dst")
	if fs.Linkat("src", "dst") {
		t.Fatalf("expected linkat onto existing name to fail")
	}
}

func TestLinkatIncrementsNlinkAndUnlinkatDecrements(t *testing.T) {
	fs := newTestFs()
	ino := fs.Create("src")
	if !fs.Linkat("src", "alias") {
		t.Fatalf("expected linkat to succeed")
	}
	if got := ino.GetNlink(); got != 2 {
		t.Fatalf("expected nlink 2 after linkat, got %d", got)
	}
	if !fs.Unlinkat("alias") {
		t.Fatalf("expected unlinkat to succeed")
	}
	if got := ino.GetNlink(); got != 1 {
		t.Fatalf("expected nlink 1 after removing alias, got %d", got)
	}
	if !fs.Unlinkat("src") {
		t.Fatalf("expected final unlinkat to succeed")
	}
	if got := ino.GetNlink(); got != 0 {
		t.Fatalf("expected nlink 0 after last unlink, got %d", got)
	}
}

func TestLsListsCreatedNames(t *testing.T) {
	fs := newTestFs()
	fs.Create("one")
	fs.Create("two")
	names := fs.Ls()
	if len(names) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(names))
	}
}

func TestHandleSatisfiesFdtableInodeInterface(t *testing.T) {
	fs := newTestFs()
	ino := fs.Create("f")
	h := Open(fs, ino)
	h.WriteAt(0, [][]byte{[]byte("abc")})
	out := make([]byte, 3)
	if n := h.ReadAt(0, [][]byte{out}); n != 3 || string(out) != "abc" {
		t.Fatalf("handle read/write mismatch: %q (%d)", out, n)
	}
}
