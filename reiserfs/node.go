package reiserfs

import (
	"fmt"

	"github.com/reiserfs-ng/reiserfs-ng/binstruct"
)

const (
	// LeafLevel is the level value a leaf node's header carries.
	LeafLevel = 1
	// MaxHeight bounds both a tree's height and a descent Path's depth.
	MaxHeight = 5
)

// NodeHeader is the 24-byte header at the start of every tree node block.
type NodeHeader struct {
	Level      binstruct.U16le `bin:"off=0x00,siz=0x2"`
	NumItems   binstruct.U16le `bin:"off=0x02,siz=0x2"`
	FreeSpace  binstruct.U16le `bin:"off=0x04,siz=0x2"`
	Reserved   [9]binstruct.U16le `bin:"off=0x06,siz=0x12"`
	binstruct.End `bin:"off=0x18"`
}

// IsLeaf reports whether a node at this level holds items rather than keys
// and child pointers.
func (h NodeHeader) IsLeaf() bool { return uint16(h.Level) == LeafLevel }

// IsInternal reports whether a node at this level holds keys and child
// pointers (invariant N1: level in [2,5]).
func (h NodeHeader) IsInternal() bool {
	return uint16(h.Level) > LeafLevel && uint16(h.Level) <= MaxHeight
}

// DiskChild is one child pointer of an internal node: the child's block
// number plus bookkeeping fields carried for historical compatibility.
type DiskChild struct {
	BlockNr       binstruct.U32le `bin:"off=0x00,siz=0x4"`
	Size          binstruct.U16le `bin:"off=0x04,siz=0x2"`
	Reserved      binstruct.U16le `bin:"off=0x06,siz=0x2"`
	binstruct.End `bin:"off=0x08"`
}

// ItemHead describes one item inside a leaf: its key, the union of
// free-space (for the last item only, historically) or directory
// entry-count, its length, its byte offset from the start of the node (its
// "location"), and its format bit.
type ItemHead struct {
	Key Key `bin:"off=0x00,siz=0x10"`
	// FreeSpaceOrEntryCount is ih_free_space for non-directory items and
	// ih_entry_count for directory items; which is meaningful is
	// determined by Key.Type().
	FreeSpaceOrEntryCount binstruct.U16le `bin:"off=0x10,siz=0x2"`
	ItemLen               binstruct.U16le `bin:"off=0x12,siz=0x2"`
	ItemLocation          binstruct.U16le `bin:"off=0x14,siz=0x2"`
	Format                binstruct.U16le `bin:"off=0x16,siz=0x2"`
	binstruct.End         `bin:"off=0x18"`
}

const (
	ItemFormat1 = 0 // ITEM_FORMAT_1
	ItemFormat2 = 1 // ITEM_FORMAT_2
)

func (ih ItemHead) IsStatData() bool { return ih.Key.Type() == ItemStatData }
func (ih ItemHead) IsIndirect() bool { return ih.Key.Type() == ItemIndirect }
func (ih ItemHead) IsDirect() bool   { return ih.Key.Type() == ItemDirect }
func (ih ItemHead) IsDirEntry() bool { return ih.Key.Type() == ItemDirEntry }

func (ih ItemHead) EntryCount() uint16 { return uint16(ih.FreeSpaceOrEntryCount) }

// Node is a decoded tree node block: its header plus, depending on level,
// either internal-node keys+children or leaf items+bodies.
//
// A leaf's item bodies grow down from the end of the block, indexed by each
// ItemHead's ItemLocation; this mirrors the on-disk layout exactly (items
// are not copied out of place) so that re-marshaling a Node that hasn't
// been mutated reproduces the original bytes.
type Node struct {
	Addr      BlockNr
	BlockSize uint32
	Header    NodeHeader

	// Internal-node fields (Header.IsInternal()).
	Keys     []Key
	Children []DiskChild

	// Leaf-node fields (Header.IsLeaf()).
	ItemHeads []ItemHead
	// raw holds the full block; item bodies are sliced out of it
	// on demand via ItemBody, rather than copied into a parallel
	// slice, matching the reference's in-place leaf layout.
	raw []byte
}

// BlockNr is a 32-bit on-disk block number.
type BlockNr uint32

// DecodeNode parses a raw block buffer (of len BlockSize) into a Node.
func DecodeNode(addr BlockNr, blockSize uint32, buf []byte) (*Node, error) {
	if uint32(len(buf)) < blockSize {
		return nil, fmt.Errorf("reiserfs: node %d: short block buffer (%d < %d)", addr, len(buf), blockSize)
	}
	n := &Node{Addr: addr, BlockSize: blockSize}
	hdrSize := binstruct.StaticSize(NodeHeader{})
	if _, err := binstruct.Unmarshal(buf[:hdrSize], &n.Header); err != nil {
		return nil, fmt.Errorf("reiserfs: node %d: header: %w", addr, err)
	}
	if err := n.validateHeader(); err != nil {
		return nil, err
	}

	nritems := int(n.Header.NumItems)
	if n.Header.IsLeaf() {
		n.raw = buf
		ihSize := binstruct.StaticSize(ItemHead{})
		off := hdrSize
		n.ItemHeads = make([]ItemHead, nritems)
		for i := 0; i < nritems; i++ {
			if off+ihSize > len(buf) {
				return nil, fmt.Errorf("reiserfs: node %d: item head %d overruns block", addr, i)
			}
			if _, err := binstruct.Unmarshal(buf[off:off+ihSize], &n.ItemHeads[i]); err != nil {
				return nil, fmt.Errorf("reiserfs: node %d: item head %d: %w", addr, i, err)
			}
			off += ihSize
		}
	} else {
		keySize := binstruct.StaticSize(Key{})
		dcSize := binstruct.StaticSize(DiskChild{})
		off := hdrSize
		n.Keys = make([]Key, nritems)
		for i := 0; i < nritems; i++ {
			if off+keySize > len(buf) {
				return nil, fmt.Errorf("reiserfs: node %d: key %d overruns block", addr, i)
			}
			if _, err := binstruct.Unmarshal(buf[off:off+keySize], &n.Keys[i]); err != nil {
				return nil, fmt.Errorf("reiserfs: node %d: key %d: %w", addr, i, err)
			}
			off += keySize
		}
		n.Children = make([]DiskChild, nritems+1)
		for i := 0; i < nritems+1; i++ {
			if off+dcSize > len(buf) {
				return nil, fmt.Errorf("reiserfs: node %d: child %d overruns block", addr, i)
			}
			if _, err := binstruct.Unmarshal(buf[off:off+dcSize], &n.Children[i]); err != nil {
				return nil, fmt.Errorf("reiserfs: node %d: child %d: %w", addr, i, err)
			}
			off += dcSize
		}
	}
	return n, nil
}

func (n *Node) validateHeader() error {
	lvl := uint16(n.Header.Level)
	if lvl < LeafLevel || lvl > MaxHeight {
		return fmt.Errorf("reiserfs: node %d: level %d out of range [%d,%d]", n.Addr, lvl, LeafLevel, MaxHeight)
	}
	return nil
}

// ItemBody returns the raw bytes of the i-th item in a leaf node.
func (n *Node) ItemBody(i int) ([]byte, error) {
	if !n.Header.IsLeaf() {
		return nil, fmt.Errorf("reiserfs: node %d: not a leaf", n.Addr)
	}
	if i < 0 || i >= len(n.ItemHeads) {
		return nil, fmt.Errorf("reiserfs: node %d: item %d out of range", n.Addr, i)
	}
	ih := n.ItemHeads[i]
	start := int(ih.ItemLocation)
	end := start + int(ih.ItemLen)
	if start < 0 || end > len(n.raw) || start > end {
		return nil, fmt.Errorf("reiserfs: node %d: item %d body out of range [%d,%d)", n.Addr, i, start, end)
	}
	return n.raw[start:end], nil
}

// Encode re-serializes the node back into a BlockSize-length buffer.
func (n *Node) Encode() ([]byte, error) {
	buf := make([]byte, n.BlockSize)
	if n.Header.IsLeaf() && n.raw != nil {
		copy(buf, n.raw)
	}
	hdr, err := binstruct.Marshal(n.Header)
	if err != nil {
		return nil, err
	}
	copy(buf[0:len(hdr)], hdr)

	if n.Header.IsLeaf() {
		off := len(hdr)
		for i, ih := range n.ItemHeads {
			bs, err := binstruct.Marshal(ih)
			if err != nil {
				return nil, fmt.Errorf("reiserfs: node %d: item head %d: %w", n.Addr, i, err)
			}
			copy(buf[off:off+len(bs)], bs)
			off += len(bs)
		}
		return buf, nil
	}

	off := len(hdr)
	for i, k := range n.Keys {
		bs, err := binstruct.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("reiserfs: node %d: key %d: %w", n.Addr, i, err)
		}
		copy(buf[off:off+len(bs)], bs)
		off += len(bs)
	}
	for i, dc := range n.Children {
		bs, err := binstruct.Marshal(dc)
		if err != nil {
			return nil, fmt.Errorf("reiserfs: node %d: child %d: %w", n.Addr, i, err)
		}
		copy(buf[off:off+len(bs)], bs)
		off += len(bs)
	}
	return buf, nil
}

// MaxChildSize / MaxFreeSpace reproduce MAX_CHILD_SIZE/MAX_FREE_SPACE: the
// usable body of a node once its header is subtracted.
func MaxChildSize(blockSize uint32) uint32 {
	return blockSize - uint32(binstruct.StaticSize(NodeHeader{}))
}

func MaxFreeSpace(blockSize uint32) uint32 { return MaxChildSize(blockSize) }
