package diskio

import (
	"context"
	"fmt"
)

// MemDevice is an in-memory Device, used by tests and by a scratch-space
// destination for a filesystem copy that doesn't need to touch an actual
// file on disk.
type MemDevice struct {
	name      string
	blockSize uint32
	data      []byte
}

var _ Device = (*MemDevice)(nil)

// NewMemDevice allocates a zeroed memory device of lenBlocks blocks of
// blockSize bytes each.
func NewMemDevice(name string, blockSize uint32, lenBlocks BlockAddr) *MemDevice {
	return &MemDevice{
		name:      name,
		blockSize: blockSize,
		data:      make([]byte, uint64(lenBlocks)*uint64(blockSize)),
	}
}

func (d *MemDevice) Name() string { return d.name }

func (d *MemDevice) Len() (BlockAddr, error) {
	return BlockAddr(uint64(len(d.data)) / uint64(d.blockSize)), nil
}

func (d *MemDevice) BlockSize() uint32 { return d.blockSize }

func (d *MemDevice) SetBlockSize(n uint32) error {
	if !isPowerOfTwo(n) {
		return fmt.Errorf("diskio: block size %d is not a power of two", n)
	}
	d.blockSize = n
	return nil
}

func (d *MemDevice) blockRange(blk BlockAddr) (int, int, error) {
	start := uint64(blk) * uint64(d.blockSize)
	end := start + uint64(d.blockSize)
	if end > uint64(len(d.data)) {
		return 0, 0, fmt.Errorf("diskio: %s: block %d out of range (len=%d blocks)",
			d.name, blk, uint64(len(d.data))/uint64(d.blockSize))
	}
	return int(start), int(end), nil
}

func (d *MemDevice) ReadBlock(_ context.Context, blk BlockAddr, buf []byte) error {
	start, end, err := d.blockRange(blk)
	if err != nil {
		return err
	}
	copy(buf[:d.blockSize], d.data[start:end])
	return nil
}

func (d *MemDevice) WriteBlock(_ context.Context, blk BlockAddr, buf []byte) error {
	start, end, err := d.blockRange(blk)
	if err != nil {
		return err
	}
	copy(d.data[start:end], buf[:d.blockSize])
	return nil
}

func (d *MemDevice) Sync(_ context.Context) error { return nil }

func (d *MemDevice) Equal(other Device) bool {
	o, ok := other.(*MemDevice)
	return ok && o == d
}

func (d *MemDevice) Close() error { return nil }

// Grow extends (or shrinks, discarding the tail) the device to lenBlocks
// blocks, used by the end-to-end resize scenarios in tests.
func (d *MemDevice) Grow(lenBlocks BlockAddr) {
	want := int(uint64(lenBlocks) * uint64(d.blockSize))
	if want <= len(d.data) {
		d.data = d.data[:want]
		return
	}
	grown := make([]byte, want)
	copy(grown, d.data)
	d.data = grown
}
