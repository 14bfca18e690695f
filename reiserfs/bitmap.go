package reiserfs

import (
	"context"
	"fmt"

	"github.com/reiserfs-ng/reiserfs-ng/diskio"
)

// Bitmap tracks block allocation with one bit per block, split across
// device blocks at regular blockSize*8 intervals (§4.3's "pipe" layout): a
// fresh bitmap block begins at every multiple of blockSize*8, interleaved
// with the data blocks it describes.
type Bitmap struct {
	dev         diskio.Device
	blockSize   uint32
	start       diskio.BlockAddr
	totalBlocks uint32
	usedBlocks  uint32
	bits        []byte
}

func bitmapByteSize(totalBlocks uint32) uint32 { return (totalBlocks + 7) / 8 }

func testBit(bits []byte, i uint32) bool { return bits[i>>3]&(1<<(i&7)) != 0 }
func setBit(bits []byte, i uint32)       { bits[i>>3] |= 1 << (i & 7) }
func clearBit(bits []byte, i uint32)     { bits[i>>3] &^= 1 << (i & 7) }

func newBitmap(totalBlocks uint32) *Bitmap {
	return &Bitmap{
		totalBlocks: totalBlocks,
		bits:        make([]byte, bitmapByteSize(totalBlocks)),
	}
}

// Use marks blk allocated, a no-op if it already is.
func (b *Bitmap) Use(blk uint32) error {
	if blk >= b.totalBlocks {
		return fmt.Errorf("reiserfs: bitmap: block %d out of range (0-%d)", blk, b.totalBlocks)
	}
	if testBit(b.bits, blk) {
		return nil
	}
	setBit(b.bits, blk)
	b.usedBlocks++
	return nil
}

// Unuse marks blk free, a no-op if it already is.
func (b *Bitmap) Unuse(blk uint32) error {
	if blk >= b.totalBlocks {
		return fmt.Errorf("reiserfs: bitmap: block %d out of range (0-%d)", blk, b.totalBlocks)
	}
	if !testBit(b.bits, blk) {
		return nil
	}
	clearBit(b.bits, blk)
	b.usedBlocks--
	return nil
}

// Test reports whether blk is allocated.
func (b *Bitmap) Test(blk uint32) (bool, error) {
	if blk >= b.totalBlocks {
		return false, fmt.Errorf("reiserfs: bitmap: block %d out of range (0-%d)", blk, b.totalBlocks)
	}
	return testBit(b.bits, blk), nil
}

// FindFree returns the first free block at or after start, or (0, false)
// if none remain.
func (b *Bitmap) FindFree(start uint32) (uint32, bool) {
	if start >= b.totalBlocks {
		return 0, false
	}
	for i := start; i < b.totalBlocks; i++ {
		if !testBit(b.bits, i) {
			return i, true
		}
	}
	return 0, false
}

// calcInArea counts used (isFree=false) or free (isFree=true) blocks in
// [start,end), with a 64-bit-word fast path over fully-set or fully-clear
// words, mirroring reiserfs_bitmap_calc.
func (b *Bitmap) calcInArea(start, end uint32, isFree bool) uint32 {
	var count uint32
	i := start
	for i < end {
		if i%64 == 0 && i+64 <= end && i/8+8 <= uint32(len(b.bits)) {
			allSet := true
			allClear := true
			for k := uint32(0); k < 8; k++ {
				byt := b.bits[i/8+k]
				if byt != 0xff {
					allSet = false
				}
				if byt != 0 {
					allClear = false
				}
				if !allSet && !allClear {
					break
				}
			}
			if isFree && allClear {
				count += 64
				i += 64
				continue
			}
			if !isFree && allSet {
				count += 64
				i += 64
				continue
			}
		}
		used := testBit(b.bits, i)
		if used == !isFree {
			count++
		}
		i++
	}
	return count
}

func (b *Bitmap) CalcUsed() uint32   { return b.calcInArea(0, b.totalBlocks, false) }
func (b *Bitmap) CalcUnused() uint32 { return b.calcInArea(0, b.totalBlocks, true) }
func (b *Bitmap) CalcUsedInArea(start, end uint32) uint32   { return b.calcInArea(start, end, false) }
func (b *Bitmap) CalcUnusedInArea(start, end uint32) uint32 { return b.calcInArea(start, end, true) }

func (b *Bitmap) Used() uint32   { return b.usedBlocks }
func (b *Bitmap) Unused() uint32 { return b.totalBlocks - b.usedBlocks }

// Check reports whether the cached usedBlocks counter still matches a full
// recount, catching accounting drift.
func (b *Bitmap) Check() bool { return b.CalcUsed() == b.usedBlocks }

// pipe walks the bitmap's on-disk chunks, one device block at a time,
// starting at `start` and advancing to the next blockSize*8-aligned block
// boundary after each chunk, matching reiserfs_bitmap_pipe's stride.
func (b *Bitmap) pipe(fn func(blk diskio.BlockAddr, chunk []byte) error) error {
	blk := b.start
	left := uint32(len(b.bits))
	off := uint32(0)
	for left > 0 {
		chunk := b.blockSize
		if left < chunk {
			chunk = left
		}
		if err := fn(blk, b.bits[off:off+chunk]); err != nil {
			return err
		}
		blk = diskio.BlockAddr((uint32(blk)/(b.blockSize*8) + 1) * (b.blockSize * 8))
		off += chunk
		left -= chunk
	}
	return nil
}

// OpenBitmap reads an existing bitmap of `length` blocks starting at device
// block `start`.
func OpenBitmap(ctx context.Context, dev diskio.Device, start diskio.BlockAddr, length uint32) (*Bitmap, error) {
	b := newBitmap(length)
	b.dev = dev
	b.blockSize = dev.BlockSize()
	b.start = start

	err := b.pipe(func(blk diskio.BlockAddr, chunk []byte) error {
		buf := make([]byte, b.blockSize)
		if err := dev.ReadBlock(ctx, blk, buf); err != nil {
			return fmt.Errorf("reiserfs: bitmap: read block %d: %w", blk, err)
		}
		copy(chunk, buf)
		return nil
	})
	if err != nil {
		return nil, err
	}

	unusedBits := uint32(len(b.bits))*8 - b.totalBlocks
	for i := uint32(0); i < unusedBits; i++ {
		clearBit(b.bits, b.totalBlocks+i)
	}
	b.usedBlocks = b.CalcUsed()
	return b, nil
}

// CreateBitmap lays out a fresh bitmap of `length` blocks starting at
// device block `start`, marking its own blocks used.
func CreateBitmap(dev diskio.Device, start diskio.BlockAddr, length uint32) *Bitmap {
	b := newBitmap(length)
	b.dev = dev
	b.blockSize = dev.BlockSize()
	b.start = start

	_ = b.Use(uint32(start))

	bmapBlkNr := (length-1)/(b.blockSize*8) + 1
	for i := uint32(1); i < bmapBlkNr; i++ {
		_ = b.Use(i * b.blockSize * 8)
	}
	return b
}

// resizeMap reallocates the bitmap's byte storage for a new [start,end)
// range (both relative to the current total_blocks count) and shifts its
// bits to match, preserving the blocks below the journal (which never
// move), mirroring reiserfs_bitmap_resize_map's directional-shift logic.
func (b *Bitmap) resizeMap(start, end int64, journalEnd uint32) []byte {
	size := uint32((end - start + 7) / 8)

	if start == 0 {
		if size == uint32(len(b.bits)) {
			return b.bits
		}
		grown := make([]byte, size)
		copy(grown, b.bits)
		return grown
	}

	newBits := make([]byte, size)
	offset := int64(journalEnd)
	copyUpto := offset/8 + 1
	if copyUpto > int64(len(b.bits)) {
		copyUpto = int64(len(b.bits))
	}
	copy(newBits, b.bits[:copyUpto])

	right := end
	if right > int64(b.totalBlocks) {
		right = int64(b.totalBlocks)
	}

	if start < 0 {
		for i := right - 1; i >= offset+1; i-- {
			if testBit(b.bits, uint32(i)) && i+start > offset+1 {
				setBit(newBits, uint32(i+start))
			}
		}
	} else {
		for i := start + offset + 1; i < right; i++ {
			if testBit(b.bits, uint32(i)) {
				setBit(newBits, uint32(i-start))
			}
		}
	}
	return newBits
}

// Resize grows or shrinks the bitmap to cover [start,end) relative to its
// current range, shifting bits in the direction implied by a non-zero
// start (negative: grow at the front; positive: shrink from the front;
// zero: resize purely at the end). journalEnd is the last block index
// occupied by the superblock+journal, which resizeMap never shifts.
func (b *Bitmap) Resize(start, end int64, journalEnd uint32) error {
	if end-start <= 0 {
		return fmt.Errorf("reiserfs: bitmap: invalid resize range [%d,%d)", start, end)
	}
	newBits := b.resizeMap(start, end, journalEnd)

	oldBmapBlkNr := uint32(len(b.bits)) / b.blockSize
	newBmapBlkNr := uint32(end-start-1)/(b.blockSize*8) + 1

	b.bits = newBits
	b.totalBlocks = uint32(end - start)

	if newBmapBlkNr > oldBmapBlkNr {
		for i := oldBmapBlkNr; i < newBmapBlkNr; i++ {
			if err := b.Use(i * b.blockSize * 8); err != nil {
				return err
			}
		}
	}
	return nil
}

// Sync writes every bitmap chunk back to its device block, padding the
// trailing partial byte's unused high bits as used (matching the flush
// callback's "mark rest of last byte used" step) so that stray zero bits
// past total_blocks never read back as free.
func (b *Bitmap) Sync(ctx context.Context) error {
	return b.pipe(func(blk diskio.BlockAddr, chunk []byte) error {
		buf := make([]byte, b.blockSize)
		copy(buf, chunk)
		if uint32(len(chunk)) < b.blockSize {
			// last chunk: pad only the bits beyond the flattened
			// bitmap's own length, not the whole remaining block,
			// so neighboring data blocks aren't clobbered with 0xff.
			unusedBits := uint32(len(b.bits))*8 - b.totalBlocks
			base := b.totalBlocks % (b.blockSize * 8)
			for i := uint32(0); i < unusedBits; i++ {
				setBit(buf, base+i)
			}
		}
		if err := b.dev.WriteBlock(ctx, blk, buf); err != nil {
			return fmt.Errorf("reiserfs: bitmap: write block %d: %w", blk, err)
		}
		return nil
	})
}

// Clone deep-copies the bitmap, for speculative resize/relocate planning.
func (b *Bitmap) Clone() *Bitmap {
	c := &Bitmap{
		dev:         b.dev,
		blockSize:   b.blockSize,
		start:       b.start,
		totalBlocks: b.totalBlocks,
		usedBlocks:  b.usedBlocks,
		bits:        make([]byte, len(b.bits)),
	}
	copy(c.bits, b.bits)
	return c
}
