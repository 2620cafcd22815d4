// Package fdtable implements the per-task file descriptor table: open
// file handles over stdin/stdout and regular files, allocated at the
// lowest free index, inherited by fork and closed independently per
// task (spec §5, "FD table... close(fd) only affects the calling
// task's table").
//
// Grounded on biscuit's fd.Fd_t (biscuit/src/fd/fd.go) for the
// descriptor/permission-bit shape, and on original_source's
// fs/stdio.rs for the Stdin/Stdout behavior (stdin blocks a byte at a
// time, suspending the caller between polls; stdout writes straight
// through). Unlike original_source, whose stdio panics on get_stat,
// Stat here reports ok=false for both. Regular files are defined here only
// against an Inode_i seam implemented by package vfs, to avoid an
// import cycle.
package fdtable

import (
	"rv39kernel/circbuf"
	"rv39kernel/klog"
	"rv39kernel/stat"
)

// File_i is anything openable as a file descriptor.
type File_i interface {
	Readable() bool
	Writable() bool
	// Read copies into bufs (page-fragmented user buffers, as produced by
	// addrspace.MemorySet.UserBuffer) and returns the byte count; a read
	// with no data available keeps waiting rather than returning. suspend
	// yields the *calling* task when a read would otherwise block — it
	// is supplied fresh by the caller at read time (not captured at
	// FD-table construction), since a descriptor shared across a fork
	// may be read by either the parent or the child.
	Read(bufs [][]byte, suspend func()) int64
	Write(bufs [][]byte) int64
	// Stat reports file metadata, or ok=false if this file type has
	// none (stdin/stdout).
	Stat() (st stat.Stat_t, ok bool)
}

// Stdin is the console input file: reads block one byte at a time,
// polling suspend between empty reads.
type Stdin struct {
	buf *circbuf.Circbuf_t
}

// NewStdin creates a stdin file fed by buf.
func NewStdin(buf *circbuf.Circbuf_t) *Stdin {
	return &Stdin{buf: buf}
}

func (s *Stdin) Readable() bool { return true }
func (s *Stdin) Writable() bool { return false }

// Read fills bufs one byte at a time, suspending the calling task
// between empty polls, exactly mirroring original_source's busy-wait
// loop.
func (s *Stdin) Read(bufs [][]byte, suspend func()) int64 {
	var n int64
	for _, b := range bufs {
		for i := range b {
			var one [1]byte
			for s.buf.TryRead(one[:]) == 0 {
				if suspend != nil {
					suspend()
				}
			}
			b[i] = one[0]
			n++
		}
	}
	return n
}

func (s *Stdin) Write(bufs [][]byte) int64 {
	panic("fdtable: cannot write to stdin")
}

func (s *Stdin) Stat() (stat.Stat_t, bool) { return stat.Stat_t{}, false }

// Stdout is the console output file, writing through a logger at Info
// level.
type Stdout struct {
	Log *klog.Logger
}

func NewStdout(l *klog.Logger) *Stdout { return &Stdout{Log: l} }

func (s *Stdout) Readable() bool { return false }
func (s *Stdout) Writable() bool { return true }

func (s *Stdout) Read(bufs [][]byte, suspend func()) int64 {
	panic("fdtable: cannot read from stdout")
}

func (s *Stdout) Write(bufs [][]byte) int64 {
	var n int64
	for _, b := range bufs {
		s.Log.Infof("%s", string(b))
		n += int64(len(b))
	}
	return n
}

func (s *Stdout) Stat() (stat.Stat_t, bool) { return stat.Stat_t{}, false }

// Inode_i is the subset of a vfs inode a regular file needs; package
// vfs's inode type satisfies it.
type Inode_i interface {
	ReadAt(offset int64, bufs [][]byte) int64
	WriteAt(offset int64, bufs [][]byte) int64
	Stat() stat.Stat_t
}

// Regular is a file descriptor over a vfs inode, with its own
// read/write cursor (spec: each open fd has an independent offset).
type Regular struct {
	inode    Inode_i
	readable bool
	writable bool
	offset   int64
}

// NewRegular opens inode for the given permissions.
func NewRegular(inode Inode_i, readable, writable bool) *Regular {
	return &Regular{inode: inode, readable: readable, writable: writable}
}

func (r *Regular) Readable() bool { return r.readable }
func (r *Regular) Writable() bool { return r.writable }

func (r *Regular) Read(bufs [][]byte, suspend func()) int64 {
	n := r.inode.ReadAt(r.offset, bufs)
	r.offset += n
	return n
}

func (r *Regular) Write(bufs [][]byte) int64 {
	n := r.inode.WriteAt(r.offset, bufs)
	r.offset += n
	return n
}

func (r *Regular) Stat() (stat.Stat_t, bool) { return r.inode.Stat(), true }

// Table is a per-task table of open file descriptors, allocated at the
// lowest free index.
type Table struct {
	files []File_i // nil entry means the slot is free
}

// NewTable creates an empty table.
func NewTable() *Table { return &Table{} }

// Install opens f at the lowest free descriptor index and returns it.
func (t *Table) Install(f File_i) int {
	for i, existing := range t.files {
		if existing == nil {
			t.files[i] = f
			return i
		}
	}
	t.files = append(t.files, f)
	return len(t.files) - 1
}

// Get returns the file at fd, or ok=false if fd is closed or
// out-of-range.
func (t *Table) Get(fd int) (File_i, bool) {
	if fd < 0 || fd >= len(t.files) || t.files[fd] == nil {
		return nil, false
	}
	return t.files[fd], true
}

// Close closes fd, freeing its index for reuse. Returns false if fd
// was not open.
func (t *Table) Close(fd int) bool {
	if fd < 0 || fd >= len(t.files) || t.files[fd] == nil {
		return false
	}
	t.files[fd] = nil
	return true
}

// Clone duplicates the table for fork: every open descriptor is
// shared (same File_i, same underlying cursor for regular files) per
// spec's fork semantics, not deep-copied.
func (t *Table) Clone() *Table {
	nt := &Table{files: make([]File_i, len(t.files))}
	copy(nt.files, t.files)
	return nt
}
