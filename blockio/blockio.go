// Package blockio fronts the block device described in spec §1 as an
// external collaborator ("the block device driver, a VirtIO MMIO block
// device... treated only through the interface the core uses"). It
// supplies that interface plus the in-memory simulation package vfs
// stores its inode data on, since no real VirtIO MMIO device is
// reachable from a host-run Go binary.
//
// Grounded on biscuit's Disk_i/Bdev_block_t request shape
// (biscuit/src/fs/blk.go: BDEV_READ/BDEV_WRITE/BDEV_FLUSH commands
// against fixed-size blocks) and on ufs's ahci_disk_t
// (biscuit/src/ufs/driver.go), which plays the same "disk is really a
// byte store behind a mutex" role this package's MemDisk plays.
// Outstanding request concurrency is bounded with
// golang.org/x/sync/semaphore, the Go-idiomatic equivalent of a
// hardware request-queue depth limit.
package blockio

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// BlockSize is the device sector size, matching the standard VirtIO
// block device sector.
const BlockSize = 512

// Disk_i is the block device surface the rest of the kernel depends
// on.
type Disk_i interface {
	ReadBlock(id uint64, buf []byte)
	WriteBlock(id uint64, buf []byte)
	NumBlocks() uint64
}

// MemDisk is a host-memory stand-in for the VirtIO MMIO block device:
// a fixed number of zero-initialized BlockSize-byte sectors.
type MemDisk struct {
	blocks [][]byte
}

// NewMemDisk creates a disk of n blocks, all zeroed.
func NewMemDisk(n uint64) *MemDisk {
	d := &MemDisk{blocks: make([][]byte, n)}
	for i := range d.blocks {
		d.blocks[i] = make([]byte, BlockSize)
	}
	return d
}

func (d *MemDisk) NumBlocks() uint64 { return uint64(len(d.blocks)) }

func (d *MemDisk) ReadBlock(id uint64, buf []byte) {
	if id >= uint64(len(d.blocks)) {
		panic("blockio: read of out-of-range block")
	}
	copy(buf, d.blocks[id])
}

func (d *MemDisk) WriteBlock(id uint64, buf []byte) {
	if id >= uint64(len(d.blocks)) {
		panic("blockio: write of out-of-range block")
	}
	copy(d.blocks[id], buf)
}

// Queue bounds the number of block requests in flight against an
// underlying disk, mirroring a real device's finite request-queue
// depth.
type Queue struct {
	disk Disk_i
	sem  *semaphore.Weighted
}

// NewQueue wraps disk, admitting at most maxInFlight concurrent
// requests.
func NewQueue(disk Disk_i, maxInFlight int64) *Queue {
	return &Queue{disk: disk, sem: semaphore.NewWeighted(maxInFlight)}
}

// Read blocks until a queue slot is free, then reads block id.
func (q *Queue) Read(id uint64) []byte {
	_ = q.sem.Acquire(context.Background(), 1)
	defer q.sem.Release(1)
	buf := make([]byte, BlockSize)
	q.disk.ReadBlock(id, buf)
	return buf
}

// Write blocks until a queue slot is free, then writes buf to block
// id. buf must be exactly BlockSize bytes.
func (q *Queue) Write(id uint64, buf []byte) {
	if len(buf) != BlockSize {
		panic("blockio: write buffer is not one block")
	}
	_ = q.sem.Acquire(context.Background(), 1)
	defer q.sem.Release(1)
	q.disk.WriteBlock(id, buf)
}

// NumBlocks reports the disk's total block count.
func (q *Queue) NumBlocks() uint64 { return q.disk.NumBlocks() }
