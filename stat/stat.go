// Package stat defines the user-ABI-stable Stat_t record returned by
// fstat (spec §3, §6).
//
// Kept close to biscuit's stat.Stat_t (biscuit/src/stat/stat.go): a
// struct of setters plus a Bytes() escape hatch for copying the raw
// layout into a user buffer, re-fielded to this spec's {dev, ino, mode,
// nlink, pad[7]} layout instead of biscuit's own.
package stat

import "unsafe"

// Mode enumerates the file types fstat can report.
type Mode uint64

const (
	ModeFile Mode = 0
	ModeDir  Mode = 1
)

// Stat_t mirrors a file's stat information. Field order and width are
// part of the external user ABI and must not change.
type Stat_t struct {
	Dev   uint64
	Ino   uint64
	Mode  Mode
	Nlink uint32
	_pad0 uint32 // keeps Pad 8-byte aligned without changing the ABI width
	Pad   [7]uint64
}

// Wdev stores the device ID.
func (s *Stat_t) Wdev(v uint64) { s.Dev = v }

// Wino stores the inode number.
func (s *Stat_t) Wino(v uint64) { s.Ino = v }

// Wmode records the file type.
func (s *Stat_t) Wmode(v Mode) { s.Mode = v }

// Wnlink records the hard-link count.
func (s *Stat_t) Wnlink(v uint32) { s.Nlink = v }

// Bytes exposes the raw bytes of the structure, as copied into a user
// buffer by the fstat syscall.
func (s *Stat_t) Bytes() []uint8 {
	const sz = unsafe.Sizeof(*s)
	sl := (*[sz]uint8)(unsafe.Pointer(s))
	return sl[:]
}
