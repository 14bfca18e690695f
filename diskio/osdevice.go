// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"context"
	"fmt"
	"io"
	"os"
)

// OSDevice is a Device backed by an *os.File, addressed at arbitrary byte
// offsets (blocknr*blocksize) the way the reference file-backed device uses
// lseek/read/write/fsync. Len falls back to seeking to the end of the file
// when the underlying descriptor is not a block device exposing
// BLKGETSIZE64 (this build targets any os.File, not just Linux block
// devices, so that default is the only portable option; a host that wants
// the BLKGETSIZE64/BLKGETSIZE ioctl fast path can wrap OSDevice).
type OSDevice struct {
	file      *os.File
	blockSize uint32
}

var _ Device = (*OSDevice)(nil)

// OpenOSDevice opens path for reading and writing, with the given initial
// block size (callers probing a superblock may call SetBlockSize again once
// the real value is known).
func OpenOSDevice(path string, blockSize uint32) (*OSDevice, error) {
	if !isPowerOfTwo(blockSize) {
		return nil, fmt.Errorf("diskio: block size %d is not a power of two", blockSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("diskio: open %s: %w", path, err)
	}
	return &OSDevice{file: f, blockSize: blockSize}, nil
}

// CreateOSDevice creates (or truncates) path and sizes it to lenBlocks
// blocks of blockSize bytes each.
func CreateOSDevice(path string, blockSize uint32, lenBlocks BlockAddr) (*OSDevice, error) {
	if !isPowerOfTwo(blockSize) {
		return nil, fmt.Errorf("diskio: block size %d is not a power of two", blockSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("diskio: create %s: %w", path, err)
	}
	if err := f.Truncate(int64(lenBlocks) * int64(blockSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("diskio: truncate %s: %w", path, err)
	}
	return &OSDevice{file: f, blockSize: blockSize}, nil
}

func (d *OSDevice) Name() string { return d.file.Name() }

func (d *OSDevice) Len() (BlockAddr, error) {
	size, err := d.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("diskio: %s: %w", d.Name(), err)
	}
	return BlockAddr(uint64(size) / uint64(d.blockSize)), nil
}

func (d *OSDevice) BlockSize() uint32 { return d.blockSize }

func (d *OSDevice) SetBlockSize(n uint32) error {
	if !isPowerOfTwo(n) {
		return fmt.Errorf("diskio: block size %d is not a power of two", n)
	}
	d.blockSize = n
	return nil
}

func (d *OSDevice) ReadBlock(_ context.Context, blk BlockAddr, buf []byte) error {
	off := int64(blk) * int64(d.blockSize)
	if _, err := d.file.ReadAt(buf[:d.blockSize], off); err != nil {
		return fmt.Errorf("diskio: %s: read block %d: %w", d.Name(), blk, err)
	}
	return nil
}

func (d *OSDevice) WriteBlock(_ context.Context, blk BlockAddr, buf []byte) error {
	off := int64(blk) * int64(d.blockSize)
	if _, err := d.file.WriteAt(buf[:d.blockSize], off); err != nil {
		return fmt.Errorf("diskio: %s: write block %d: %w", d.Name(), blk, err)
	}
	return nil
}

func (d *OSDevice) Sync(_ context.Context) error {
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("diskio: %s: sync: %w", d.Name(), err)
	}
	return nil
}

func (d *OSDevice) Equal(other Device) bool {
	o, ok := other.(*OSDevice)
	if !ok {
		return false
	}
	if o == d {
		return true
	}
	si, err1 := d.file.Stat()
	sj, err2 := o.file.Stat()
	if err1 != nil || err2 != nil {
		return d.Name() == o.Name()
	}
	return os.SameFile(si, sj)
}

func (d *OSDevice) Close() error {
	if err := d.file.Close(); err != nil {
		return fmt.Errorf("diskio: %s: close: %w", d.Name(), err)
	}
	return nil
}
