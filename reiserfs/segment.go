package reiserfs

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/reiserfs-ng/reiserfs-ng/diskio"
	"github.com/reiserfs-ng/reiserfs-ng/internal/devpool"
	"github.com/reiserfs-ng/reiserfs-ng/internal/oidmap"
)

var blockPool devpool.BlockPool

// Segment is a contiguous run of device blocks [Start, End), the unit a
// relocation or resize pass works over. Mirrors reiserfs_segment_t.
type Segment struct {
	Dev   diskio.Device
	Start uint32
	End   uint32
}

func NewSegment(dev diskio.Device, start, end uint32) *Segment {
	return &Segment{Dev: dev, Start: start, End: end}
}

// Len mirrors reiserfs_segment_len.
func (s *Segment) Len() uint32 { return s.End - s.Start }

// TestInside mirrors reiserfs_segment_test_inside.
func (s *Segment) TestInside(blk uint32) bool { return blk >= s.Start && blk < s.End }

// TestOverlap mirrors reiserfs_segment_test_overlap: segments on different
// devices never overlap, regardless of their numeric ranges.
func (s *Segment) TestOverlap(other *Segment) bool {
	if !s.Dev.Equal(other.Dev) {
		return false
	}
	if s.Start < other.Start {
		return s.End > other.Start
	}
	return other.End > s.Start
}

// SegmentFunc is invoked once per block moved or filled, receiving the
// block's index within its segment and its raw content.
type SegmentFunc func(idx uint32, buf []byte) error

// Move copies every block of src to the matching offset in dst. Whenever
// dst starts after src (whether or not the two ranges share a device or
// overlap), blocks are walked from the last to the first, so that an
// overlapping forward move never overwrites a block before it has been
// read, mirroring reiserfs_segment_move's direction choice (the shift-right
// half of a memmove).
func Move(ctx context.Context, dst, src *Segment, fn SegmentFunc) error {
	n := src.Len()
	if dst.Len() != n {
		return fmt.Errorf("reiserfs: segment: move: length mismatch (%d != %d)", n, dst.Len())
	}
	buf := blockPool.Get(src.Dev.BlockSize())
	defer blockPool.Put(buf)

	step := func(i uint32) error {
		if err := src.Dev.ReadBlock(ctx, diskio.BlockAddr(src.Start+i), buf); err != nil {
			return fmt.Errorf("reiserfs: segment: move: read block %d: %w", src.Start+i, err)
		}
		if err := dst.Dev.WriteBlock(ctx, diskio.BlockAddr(dst.Start+i), buf); err != nil {
			return fmt.Errorf("reiserfs: segment: move: write block %d: %w", dst.Start+i, err)
		}
		if fn != nil {
			return fn(i, buf)
		}
		return nil
	}

	if src.Start < dst.Start {
		for i := n; i > 0; i-- {
			if err := step(i - 1); err != nil {
				return err
			}
		}
		return nil
	}
	for i := uint32(0); i < n; i++ {
		if err := step(i); err != nil {
			return err
		}
	}
	return nil
}

// Fill writes a c-filled block to every block of segment, mirroring
// reiserfs_segment_fill.
func Fill(ctx context.Context, segment *Segment, c byte, fn SegmentFunc) error {
	buf := blockPool.Get(segment.Dev.BlockSize())
	defer blockPool.Put(buf)
	for i := range buf {
		buf[i] = c
	}
	for i := uint32(0); i < segment.Len(); i++ {
		if err := segment.Dev.WriteBlock(ctx, diskio.BlockAddr(segment.Start+i), buf); err != nil {
			return fmt.Errorf("reiserfs: segment: fill: write block %d: %w", segment.Start+i, err)
		}
		if fn != nil {
			if err := fn(i, buf); err != nil {
				return err
			}
		}
	}
	return nil
}

// RelocateParams bundles the source and destination context a relocation
// pass moves a subtree between: the tree being walked, the bitmap and
// object-id map of whichever filesystem the moved blocks land in, and the
// two segments bounding the move.
type RelocateParams struct {
	SrcTree    *Tree
	SrcDev     diskio.Device
	SrcBitmap  *Bitmap
	SrcSegment *Segment

	DstDev     diskio.Device
	DstBitmap  *Bitmap
	DstOidMap  *oidmap.Map
	DstSegment *Segment

	// Smart mirrors the reference's smart/dumb distinction: a dumb
	// relocation (Smart=false) short-circuits any node that, on the same
	// device, already sits inside DstSegment and hasn't been touched —
	// it is cheaper but leaves such nodes exactly where they are rather
	// than packing everything into the destination contiguously.
	Smart bool

	// Progress is called with a 0-100 completion estimate as blocks are
	// relocated; nil-checked at every call site, never read from an
	// implicit or global source.
	Progress func(percent int)
}

// Relocate walks SrcTree, copying every node and every unformatted data
// block an indirect item points at into DstSegment, rewriting indirect item
// block pointers and internal node child pointers to match, and returns the
// new root block address. Mirrors reiserfs_segment_relocate.
func Relocate(ctx context.Context, p RelocateParams) (BlockNr, error) {
	sameDevice := p.DstDev.Equal(p.SrcDev)
	var counter uint32
	srcLen := p.SrcSegment.Len()
	if srcLen == 0 {
		srcLen = 1
	}
	progress := func() {
		if p.Progress != nil {
			p.Progress(int(counter * 100 / srcLen))
		}
		counter++
	}

	// genericNodeWrite relocates one raw block — a formatted tree node or
	// an unformatted data block reached via an indirect item — to a free
	// block inside DstSegment, mirroring generic_node_write.
	genericNodeWrite := func(blk BlockNr, buf []byte) (BlockNr, error) {
		if !p.Smart && sameDevice && p.DstSegment.TestInside(uint32(blk)) {
			// Dumb relocation on the same device: a block already
			// inside the destination area is left where it is.
			return blk, nil
		}
		progress()

		if sameDevice {
			// The bitmap addresses blocks at their un-shifted location;
			// the reference subtracts the *magnitude* of the tree's
			// in-memory offset here regardless of its sign.
			off := p.SrcTree.Offset()
			if off < 0 {
				off = -off
			}
			if err := p.SrcBitmap.Unuse(uint32(blk) - uint32(off)); err != nil {
				return 0, err
			}
		}

		var offset uint32
		if p.Smart {
			offset = p.DstSegment.Start - p.SrcSegment.Start
		}
		hint := p.DstSegment.Start
		if p.SrcSegment.Start < p.DstSegment.Start {
			hint -= offset
		}
		dstBlk, ok := p.DstBitmap.FindFree(hint)
		if !ok || dstBlk >= p.DstSegment.End {
			return 0, fmt.Errorf("reiserfs: segment: couldn't find free block inside allowed area (%d - %d)", p.DstSegment.Start, p.DstSegment.End)
		}
		newBlk := dstBlk
		if p.SrcSegment.Start < p.DstSegment.Start {
			newBlk += offset
		}
		if err := p.DstBitmap.Use(dstBlk); err != nil {
			return 0, err
		}
		if err := p.DstDev.WriteBlock(ctx, diskio.BlockAddr(newBlk), buf); err != nil {
			return 0, fmt.Errorf("reiserfs: segment: write block %d: %w", newBlk, err)
		}
		return BlockNr(newBlk), nil
	}

	dirty := make(map[*Node]bool)

	onNode := NodeFunc(func(n *Node) error {
		progress()
		if !n.Header.IsLeaf() {
			return nil
		}
		for i, ih := range n.ItemHeads {
			if !sameDevice && ih.IsStatData() {
				p.DstOidMap.Use(ih.Key.ObjID)
			}
			if !ih.IsIndirect() {
				continue
			}
			body, err := n.ItemBody(i)
			if err != nil {
				return err
			}
			for u := 0; u+4 <= len(body); u += 4 {
				blkNr := binary.LittleEndian.Uint32(body[u : u+4])
				if blkNr == 0 {
					continue
				}
				srcBlk := BlockNr(blkNr) + BlockNr(p.SrcTree.Offset())
				buf := blockPool.Get(p.SrcDev.BlockSize())
				if err := p.SrcDev.ReadBlock(ctx, diskio.BlockAddr(srcBlk), buf); err != nil {
					blockPool.Put(buf)
					return fmt.Errorf("reiserfs: segment: read block %d: %w", srcBlk, err)
				}
				newBlk, err := genericNodeWrite(srcBlk, buf)
				blockPool.Put(buf)
				if err != nil {
					return err
				}
				binary.LittleEndian.PutUint32(body[u:u+4], uint32(newBlk))
			}
		}
		return nil
	})

	onChild := ChildFunc(func(parent *Node, idx int, newChildBlk BlockNr) error {
		parent.Children[idx].BlockNr = u32le(uint32(newChildBlk))
		dirty[parent] = true
		return nil
	})

	after := AfterNodeFunc(func(n *Node) (BlockNr, error) {
		if !p.Smart && sameDevice && p.DstSegment.TestInside(uint32(n.Addr)) && !dirty[n] {
			return n.Addr, nil
		}
		buf, err := n.Encode()
		if err != nil {
			return 0, err
		}
		return genericNodeWrite(n.Addr, buf)
	})

	return p.SrcTree.Traverse(ctx, nil, onNode, onChild, after)
}
