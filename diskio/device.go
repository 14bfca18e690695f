// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package diskio provides the block-granular device abstraction the
// filesystem engine is built on, along with a file-backed and a
// memory-backed implementation.
package diskio

import "context"

// BlockAddr identifies a block by its zero-based block number. It is a
// distinct type from a byte offset so the two cannot be silently confused.
type BlockAddr uint32

// Device is the contract every collaborator of the engine must satisfy: a
// sized, block-granular random-access reader/writer with a stable identity
// for equality and an error string for the last failed operation.
//
// blocksize may change during superblock probing (SetBlockSize is called
// once the real on-disk block size is known); every other component samples
// it lazily through the Device and must tolerate it changing between the
// probe and the final SetBlockSize call.
type Device interface {
	// Name returns a human-readable identifier (e.g. a file path) for
	// error messages and logging.
	Name() string

	// Len returns the device size in blocks, at the device's current
	// block size.
	Len() (BlockAddr, error)

	// BlockSize returns the device's current block size in bytes.
	BlockSize() uint32
	// SetBlockSize changes the device's block size. n must be a power
	// of two; SetBlockSize returns an error otherwise.
	SetBlockSize(n uint32) error

	// ReadBlock reads exactly one block into buf, which must be at
	// least BlockSize() bytes.
	ReadBlock(ctx context.Context, blk BlockAddr, buf []byte) error
	// WriteBlock writes exactly one block from buf, which must be at
	// least BlockSize() bytes.
	WriteBlock(ctx context.Context, blk BlockAddr, buf []byte) error

	// Sync flushes any buffering between this Device and stable
	// storage.
	Sync(ctx context.Context) error

	// Equal reports whether other refers to the same underlying
	// storage as this Device (by name or stat identity).
	Equal(other Device) bool

	// Close releases any resources held by the device.
	Close() error
}

func isPowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}
