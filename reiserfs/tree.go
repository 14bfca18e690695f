package reiserfs

import (
	"context"
	"fmt"
	"time"

	"github.com/reiserfs-ng/reiserfs-ng/diskio"
)

// Tree is the balanced-tree façade: node I/O plus root/height bookkeeping
// taken from the owning superblock.
type Tree struct {
	dev diskio.Device
	sb  *loadedSuperblock
	// offset shifts every child block number read during a descent by a
	// fixed amount; it exists purely in memory (never persisted) to let a
	// relocation pass address nodes at their *new* location while still
	// walking pointers recorded at their *old* one. Zero in the common
	// case.
	offset int32
}

func OpenTree(dev diskio.Device, sb *loadedSuperblock) *Tree {
	return &Tree{dev: dev, sb: sb}
}

func (t *Tree) Root() BlockNr  { return BlockNr(t.sb.RootBlock) }
func (t *Tree) Height() int    { return int(t.sb.TreeHeight) }
func (t *Tree) Offset() int32  { return t.offset }

func (t *Tree) SetRoot(blk BlockNr) { t.sb.RootBlock = u32le(uint32(blk)) }

func (t *Tree) SetHeight(h int) {
	if h >= MaxHeight {
		return
	}
	t.sb.TreeHeight = u16le(uint16(h))
}

// SetOffset shifts subsequent descents by `offset` blocks, returning an
// error if its magnitude exceeds the device's length, matching reiserfs_tree_set_offset's sign convention
// (tree->offset stores the negation of the caller's value).
func (t *Tree) SetOffset(offset int32) error {
	devLen, err := t.dev.Len()
	if err != nil {
		return err
	}
	if offset < 0 {
		if uint32(-offset) > uint32(devLen) {
			return fmt.Errorf("reiserfs: tree: offset %d out of range for device length %d", offset, devLen)
		}
	} else if uint32(offset) > uint32(devLen) {
		return fmt.Errorf("reiserfs: tree: offset %d out of range for device length %d", offset, devLen)
	}
	t.offset = -offset
	return nil
}

func (t *Tree) readNode(ctx context.Context, blk BlockNr) (*Node, error) {
	buf := make([]byte, t.dev.BlockSize())
	if err := t.dev.ReadBlock(ctx, diskio.BlockAddr(blk), buf); err != nil {
		return nil, fmt.Errorf("reiserfs: tree: read node %d: %w", blk, err)
	}
	return DecodeNode(blk, t.dev.BlockSize(), buf)
}

// fastSearchKeys binary-searches a run of keys for needle under cmp,
// mirroring reiserfs_tools_fast_search: found reports an exact match at
// pos; otherwise pos is the insertion point that keeps the run ordered.
func fastSearchKeys(keys []Key, needle Key, cmp Comparator) (found bool, pos int) {
	if len(keys) == 0 {
		return false, 0
	}
	left, right := 0, len(keys)-1
	for left <= right {
		i := (left + right) / 2
		switch sign(cmp(keys[i], needle)) {
		case -1:
			left = i + 1
		case 1:
			if i == 0 {
				return false, left
			}
			right = i - 1
		case 0:
			return true, i
		}
	}
	return false, left
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}

func itemKeys(n *Node) []Key {
	keys := make([]Key, len(n.ItemHeads))
	for i, ih := range n.ItemHeads {
		keys[i] = ih.Key
	}
	return keys
}

// lookupNode is the shared core of LookupInternal/LookupLeaf: it descends
// from block `from`, optionally all the way to a leaf (forLeaf), using cmp
// to order keys, and records every visited frame in path.
func (t *Tree) lookupNode(ctx context.Context, from BlockNr, cmp Comparator, needle Key, forLeaf bool, path *Path) (bool, error) {
	path.clear()
	blk := from
	for {
		node, err := t.readNode(ctx, blk)
		if err != nil {
			return false, err
		}
		if int(node.Header.Level) > t.Height()-1 {
			return false, fmt.Errorf("reiserfs: tree: invalid node level %d, expected less than %d", node.Header.Level, t.Height())
		}
		if !forLeaf && node.Header.IsLeaf() {
			return false, nil
		}

		var keys []Key
		if node.Header.IsLeaf() {
			keys = itemKeys(node)
		} else {
			keys = node.Keys
		}
		found, pos := fastSearchKeys(keys, needle, cmp)

		framePos := pos
		if found && node.Header.IsInternal() {
			framePos = pos + 1
		}
		if err := path.push(node, framePos); err != nil {
			return false, err
		}

		if node.Header.IsLeaf() {
			return found, nil
		}
		if int(node.Header.Level) == LeafLevel+1 && !forLeaf {
			return true, nil
		}
		if found {
			pos++
		}
		blk = BlockNr(int64(node.Children[pos].BlockNr) + int64(t.offset))
	}
}

// LookupInternal descends only as far as the lowest internal node that
// would contain needle, stopping one level above the leaves.
func (t *Tree) LookupInternal(ctx context.Context, from BlockNr, cmp Comparator, needle Key, path *Path) (bool, error) {
	if t.Height() < 2 {
		return false, fmt.Errorf("reiserfs: tree: height %d too small", t.Height())
	}
	return t.lookupNode(ctx, from, cmp, needle, false, path)
}

// LookupLeaf descends all the way to the leaf that would contain needle.
func (t *Tree) LookupLeaf(ctx context.Context, from BlockNr, cmp Comparator, needle Key, path *Path) (bool, error) {
	if t.Height() < 2 {
		return false, fmt.Errorf("reiserfs: tree: height %d too small", t.Height())
	}
	return t.lookupNode(ctx, from, cmp, needle, true, path)
}

// BeforeNodeFunc/NodeFunc/ChildFunc/AfterNodeFunc are the four traversal
// hooks Traverse wires together, mirroring the reference's
// before_node/node/chld/after_node callback quartet. Segment relocation is
// the motivating consumer: a node's subtree is fully relocated (and may end
// up at a new block address) before its parent's own address is decided, so
// the value that threads through the recursion is the block a node was
// ultimately written to, not a plain continue/stop flag.
type (
	BeforeNodeFunc func(n *Node) (bool, error)
	NodeFunc       func(n *Node) error
	ChildFunc      func(parent *Node, childIndex int, newChildBlk BlockNr) error
	AfterNodeFunc  func(n *Node) (BlockNr, error)
)

func (t *Tree) nodeTraverse(ctx context.Context, blk BlockNr, before BeforeNodeFunc, onNode NodeFunc, onChild ChildFunc, after AfterNodeFunc) (BlockNr, error) {
	node, err := t.readNode(ctx, blk)
	if err != nil {
		return 0, err
	}
	if !node.Header.IsLeaf() && !node.Header.IsInternal() {
		return 0, fmt.Errorf("reiserfs: tree: unknown node type at block %d", blk)
	}

	if before != nil {
		ok, err := before(node)
		if err != nil {
			return 0, err
		}
		if !ok {
			return blk, nil
		}
	}

	if onNode != nil {
		if err := onNode(node); err != nil {
			return 0, err
		}
	}

	if node.Header.IsInternal() {
		for i := 0; i <= len(node.Keys); i++ {
			childBlk := BlockNr(int64(node.Children[i].BlockNr) + int64(t.offset))
			newChildBlk, err := t.nodeTraverse(ctx, childBlk, before, onNode, onChild, after)
			if err != nil {
				return 0, err
			}
			if onChild != nil {
				if err := onChild(node, i, newChildBlk); err != nil {
					return 0, err
				}
			}
		}
	}

	if after != nil {
		return after(node)
	}
	return blk, nil
}

// SimpleTraverse walks every node reachable from the root, calling onNode
// on each, with no before/child/after hooks.
func (t *Tree) SimpleTraverse(ctx context.Context, onNode NodeFunc) (bool, error) {
	if t.Root() < 2 {
		return true, nil
	}
	_, err := t.nodeTraverse(ctx, BlockNr(int64(t.Root())+int64(t.offset)), nil, onNode, nil, nil)
	return err == nil, err
}

// Traverse walks every node reachable from the root, invoking all four
// hooks, and returns the root's own post-traversal block address (the value
// that After returned for it); used by the segment relocator to both visit
// and rewrite nodes.
func (t *Tree) Traverse(ctx context.Context, before BeforeNodeFunc, onNode NodeFunc, onChild ChildFunc, after AfterNodeFunc) (BlockNr, error) {
	if t.Height() < 2 {
		return t.Root(), nil
	}
	return t.nodeTraverse(ctx, BlockNr(int64(t.Root())+int64(t.offset)), before, onNode, onChild, after)
}

// CreateRootParams bundles the inputs needed to lay out the two-item
// root leaf a fresh filesystem starts with: a stat-data item for the root
// directory followed by a directory item holding "." and "..".
type CreateRootParams struct {
	Format    Format
	BlockSize uint32
	UID, GID  uint32
	Now       time.Time
}

// CreateRoot builds the initial root leaf in memory (stat-data for the
// root directory, plus its "." / ".." directory item), matching
// make_empty_dir's exact byte layout.
func CreateRoot(p CreateRootParams) *Node {
	sdLen := binstructSizeStatData(p.Format)
	dirLen := emptyDirSize(p.Format)
	ihSize := 24 // binstruct.StaticSize(ItemHead{}), avoiding an import cycle concern

	sdLoc := uint16(p.BlockSize) - uint16(sdLen)
	dirLoc := sdLoc - uint16(dirLen)

	n := &Node{
		Addr:      0,
		BlockSize: p.BlockSize,
		Header: NodeHeader{
			Level:     u16le(LeafLevel),
			NumItems:  u16le(2),
			FreeSpace: u16le(uint16(p.BlockSize) - uint16(ihSize)*2 - uint16(sdLen) - uint16(dirLen)),
		},
	}

	sdKey := NewKey(RootDirID, RootObjID, sdOffset, ItemStatData, keyFormatFor(p.Format))
	dirKey := NewKey(RootDirID, RootObjID, DotOffset, ItemDirEntry, keyFormatFor(p.Format))

	n.ItemHeads = []ItemHead{
		{
			Key:          sdKey,
			ItemLen:      u16le(uint16(sdLen)),
			ItemLocation: u16le(sdLoc),
			Format:       u16le(itemFormatFor(p.Format)),
		},
		{
			Key:                   dirKey,
			FreeSpaceOrEntryCount: u16le(2),
			ItemLen:               u16le(uint16(dirLen)),
			ItemLocation:          u16le(dirLoc),
			Format:                u16le(itemFormatFor(p.Format)),
		},
	}

	raw := make([]byte, p.BlockSize)
	writeRootStatData(raw, sdLoc, p)
	writeRootDirEntries(raw, dirLoc, p.Format)
	n.raw = raw

	return n
}

const sdOffset = 0

func keyFormatFor(f Format) KeyFormat {
	if f == Format3_6 {
		return KeyFormatV2
	}
	return KeyFormatV1
}

func itemFormatFor(f Format) uint16 {
	if f == Format3_6 {
		return ItemFormat2
	}
	return ItemFormat1
}

func binstructSizeStatData(f Format) int {
	if f == Format3_6 {
		return 44
	}
	return 32
}

func emptyDirSize(f Format) int {
	if f == Format3_6 {
		return EmptyDirV2Size()
	}
	return EmptyDirV1Size()
}

func writeRootStatData(raw []byte, loc uint16, p CreateRootParams) {
	const modeDirDefault = ModeFmtDir | 0o755
	off := int(loc)
	now := uint32(p.Now.Unix())
	if p.Format == Format3_6 {
		sd := StatDataV2{
			Mode:   u16le(modeDirDefault),
			NLink:  u32le(3),
			Size:   u64le(uint64(emptyDirSize(p.Format))),
			UID:    u32le(p.UID),
			GID:    u32le(p.GID),
			ATime:  u32le(now),
			MTime:  u32le(now),
			CTime:  u32le(now),
			Blocks: u32le(stBlocks(emptyDirSize(p.Format))),
		}
		putStruct(raw, off, sd)
	} else {
		sd := StatDataV1{
			Mode:  u16le(modeDirDefault),
			NLink: u16le(3),
			UID:   u16le(uint16(p.UID)),
			GID:   u16le(uint16(p.GID)),
			Size:  u32le(uint32(emptyDirSize(p.Format))),
			ATime: u32le(now),
			MTime: u32le(now),
			CTime: u32le(now),
			RdevOrBlocks: u32le(stBlocks(emptyDirSize(p.Format))),
			FirstDirectByte: u32le(NoFirstDirectByte),
		}
		putStruct(raw, off, sd)
	}
}

func stBlocks(size int) uint32 { return uint32((size + 511) / 512) }

func writeRootDirEntries(raw []byte, loc uint16, format Format) {
	dehSize := 16 // binstruct.StaticSize(DirEntryHead{})
	entriesStart := int(loc)

	dotLoc := uint16(emptyDirSize(format)) - 1
	dotDotLoc := dotLoc - 2

	dot := DirEntryHead{
		Offset:   u32le(DotOffset),
		DirID:    u32le(RootDirID),
		ObjID:    u32le(RootObjID),
		Location: u16le(dotLoc),
		State:    u16le(DirEntryVisible),
	}
	dotdot := DirEntryHead{
		Offset: u32le(DotDotOffset),
		// the root has no parent directory: its ".." carries a zero
		// dirid and RootDirID as the (otherwise-unresolvable) objid,
		// matching make_empty_dir's (par_dirid=0, par_objid=ROOT_DIR_ID).
		DirID:    u32le(0),
		ObjID:    u32le(RootDirID),
		Location: u16le(dotDotLoc),
		State:    u16le(DirEntryVisible),
	}
	putStruct(raw, entriesStart, dot)
	putStruct(raw, entriesStart+dehSize, dotdot)

	copy(raw[entriesStart+int(dotLoc):], ".")
	copy(raw[entriesStart+int(dotDotLoc):], "..")
}
