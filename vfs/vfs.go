// Package vfs implements the external inode contract spec §1 names for
// the on-disk file system ("treated as a block-backed hierarchical
// store exposing inodes with read_at, write_at, find, create, clear,
// ls, linkat, unlinkat, get_nlink, and block-metadata queries"). The
// real easy-fs on-disk layout is out of scope; this package is a flat,
// single-directory in-memory filesystem that stores inode data through
// package blockio so the block-device interface is still exercised.
//
// Grounded on biscuit's ufs.Ufs_t facade (biscuit/src/ufs/ufs.go) for
// the MkFile/Unlink/Ls/Stat-shaped operation set, and on
// original_source's fs/inode.rs for the flat easy-fs root-directory
// semantics (create/find/linkat/unlinkat/clear operate on a single
// directory inode with fixed-size name/inode-id entries). Open inodes
// are cached by path in a hashtable so linkat's nlink bookkeeping
// stays consistent across repeat lookups of the same name.
package vfs

import (
	"sync"

	"rv39kernel/blockio"
	"rv39kernel/hashtable"
	"rv39kernel/stat"
)

const blocksPerInode = 16 // modest fixed allocation, easy-fs-shaped direct blocks only

// Inode is an in-memory file: a name, a link count, and its data
// blocks on the backing queue.
type Inode struct {
	mu     sync.Mutex
	name   string
	nlink  uint32
	size   int64
	blocks []uint64 // block ids on the queue, allocated lazily
}

// Fs is the root filesystem: one flat directory of named inodes, all
// data stored on a blockio.Queue.
type Fs struct {
	mu      sync.Mutex
	q       *blockio.Queue
	nextBlk uint64
	dir     map[string]*Inode
	cache   *hashtable.Hashtable_t[string, *Inode]
}

// New creates an empty filesystem backed by q.
func New(q *blockio.Queue) *Fs {
	return &Fs{
		q:     q,
		dir:   make(map[string]*Inode),
		cache: hashtable.NewStringKeyed[*Inode](64),
	}
}

func (fs *Fs) allocBlock() uint64 {
	id := fs.nextBlk
	fs.nextBlk++
	if id >= fs.q.NumBlocks() {
		panic("vfs: backing disk exhausted")
	}
	return id
}

// Create makes a new empty file named name, or returns the existing
// one if it is already present (matching easy-fs's create-is-idempotent
// open(O_CREAT) semantics).
func (fs *Fs) Create(name string) *Inode {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if ino, ok := fs.dir[name]; ok {
		return ino
	}
	ino := &Inode{name: name, nlink: 1}
	fs.dir[name] = ino
	fs.cache.Set(name, ino)
	return ino
}

// Find looks up name, returning the cached inode object so repeated
// lookups observe the same nlink/size state.
func (fs *Fs) Find(name string) (*Inode, bool) {
	if ino, ok := fs.cache.Get(name); ok {
		return ino, true
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ino, ok := fs.dir[name]
	return ino, ok
}

// Ls lists the names present in the root directory.
func (fs *Fs) Ls() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	names := make([]string, 0, len(fs.dir))
	for n := range fs.dir {
		names = append(names, n)
	}
	return names
}

// Linkat creates a second directory entry newName for the inode
// currently at oldName, incrementing its link count. Fails if newName
// already exists (spec Open Question: linkat never overwrites).
func (fs *Fs) Linkat(oldName, newName string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, exists := fs.dir[newName]; exists {
		return false
	}
	ino, ok := fs.dir[oldName]
	if !ok {
		return false
	}
	ino.mu.Lock()
	ino.nlink++
	ino.mu.Unlock()
	fs.dir[newName] = ino
	fs.cache.Set(newName, ino)
	return true
}

// Unlinkat removes the directory entry name, dropping the inode's
// data once its link count reaches zero.
func (fs *Fs) Unlinkat(name string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ino, ok := fs.dir[name]
	if !ok {
		return false
	}
	delete(fs.dir, name)
	fs.cache.Del(name)
	ino.mu.Lock()
	ino.nlink--
	shouldClear := ino.nlink == 0
	ino.mu.Unlock()
	if shouldClear {
		ino.clear()
	}
	return true
}

// GetNlink returns an inode's current link count.
func (ino *Inode) GetNlink() uint32 {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.nlink
}

// clear releases an inode's data, per the external contract's "clear"
// operation; called automatically once nlink drops to zero.
func (ino *Inode) clear() {
	ino.blocks = nil
	ino.size = 0
}

func (ino *Inode) blockFor(fs *Fs, idx int) uint64 {
	for len(ino.blocks) <= idx {
		ino.blocks = append(ino.blocks, fs.allocBlock())
	}
	return ino.blocks[idx]
}

// ReadAt copies up to len(dst) bytes starting at offset into dst,
// returning the number of bytes actually read (short at end-of-file).
func (ino *Inode) ReadAt(fs *Fs, offset int64, dst []byte) int64 {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	var n int64
	for n < int64(len(dst)) && offset+n < ino.size {
		pos := offset + n
		blkIdx := int(pos / blockio.BlockSize)
		blkOff := int(pos % blockio.BlockSize)
		blk := fs.q.Read(ino.blocks[blkIdx])
		avail := blockio.BlockSize - blkOff
		remaining := int(ino.size - pos)
		if avail > remaining {
			avail = remaining
		}
		want := len(dst) - int(n)
		if want < avail {
			avail = want
		}
		copy(dst[n:n+int64(avail)], blk[blkOff:blkOff+avail])
		n += int64(avail)
	}
	return n
}

// WriteAt writes src starting at offset, allocating new blocks and
// extending size as needed.
func (ino *Inode) WriteAt(fs *Fs, offset int64, src []byte) int64 {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	var n int64
	for n < int64(len(src)) {
		pos := offset + n
		blkIdx := int(pos / blockio.BlockSize)
		if blkIdx >= blocksPerInode {
			break // fixed direct-block allocation exhausted
		}
		blkOff := int(pos % blockio.BlockSize)
		id := ino.blockFor(fs, blkIdx)
		blk := fs.q.Read(id)
		room := blockio.BlockSize - blkOff
		want := int(int64(len(src)) - n)
		if want < room {
			room = want
		}
		copy(blk[blkOff:blkOff+room], src[int(n):int(n)+room])
		fs.q.Write(id, blk)
		n += int64(room)
		if offset+n > ino.size {
			ino.size = offset + n
		}
	}
	return n
}

// Stat reports inode metadata for the fstat syscall.
func (ino *Inode) Stat() stat.Stat_t {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	st := stat.Stat_t{Mode: stat.ModeFile, Nlink: ino.nlink}
	return st
}

// Size reports the current byte length.
func (ino *Inode) Size() int64 {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.size
}

// Handle binds an inode to its owning filesystem, satisfying
// fdtable.Inode_i (which works in terms of page-fragmented user
// buffers, plural, rather than this package's single contiguous
// byte slice).
type Handle struct {
	fs  *Fs
	ino *Inode
}

// Open returns a Handle for ino within fs, for installing into a task's
// file descriptor table.
func Open(fs *Fs, ino *Inode) *Handle {
	return &Handle{fs: fs, ino: ino}
}

func (h *Handle) ReadAt(offset int64, bufs [][]byte) int64 {
	var total int64
	for _, b := range bufs {
		n := h.ino.ReadAt(h.fs, offset+total, b)
		total += n
		if n < int64(len(b)) {
			break
		}
	}
	return total
}

func (h *Handle) WriteAt(offset int64, bufs [][]byte) int64 {
	var total int64
	for _, b := range bufs {
		n := h.ino.WriteAt(h.fs, offset+total, b)
		total += n
		if n < int64(len(b)) {
			break
		}
	}
	return total
}

func (h *Handle) Stat() stat.Stat_t { return h.ino.Stat() }
