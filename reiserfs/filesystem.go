package reiserfs

import (
	"context"
	"fmt"
	"time"

	"github.com/reiserfs-ng/reiserfs-ng/diskio"
)

// Filesystem ties a device, superblock, bitmap, optional journal, and tree
// together into the object every consumer of this package actually opens.
// Mirrors reiserfs_fs_t, minus the libreiserfs gauge global: progress
// reporting is threaded explicitly through RelocateParams.Progress instead.
type Filesystem struct {
	dev        diskio.Device
	journalDev diskio.Device

	sb      *loadedSuperblock
	bitmap  *Bitmap
	journal *Journal
	tree    *Tree

	// superOff is fs->super_off: the block the superblock's own record
	// lives at, distinct from sb.blockAddr during a smart resize's
	// mid-flight bookkeeping (the field is restored to the canonical
	// offset once the resize commits).
	superOff uint32

	superDirty   bool
	bitmapDirty  bool
	journalDirty bool
}

func (fs *Filesystem) Device() diskio.Device  { return fs.dev }
func (fs *Filesystem) Bitmap() *Bitmap        { return fs.bitmap }
func (fs *Filesystem) Tree() *Tree            { return fs.tree }
func (fs *Filesystem) Superblock() *loadedSuperblock { return fs.sb }

func (fs *Filesystem) markSuperDirty()   { fs.superDirty = true }
func (fs *Filesystem) markBitmapDirty()  { fs.bitmapDirty = true }
func (fs *Filesystem) markJournalDirty() { fs.journalDirty = true }

// JournalArea is how many blocks the journal (plus its trailing head
// record) occupies, or the caller-declared reservation for a relocated
// journal that lives on another device, mirroring reiserfs_fs_journal_area.
func (fs *Filesystem) JournalArea() uint32 {
	if fs.journalRelocated() {
		return uint32(fs.sb.ReservedForJournal)
	}
	return uint32(fs.sb.Journal.Len) + 1
}

func (fs *Filesystem) journalRelocated() bool {
	return fs.journalDev != nil && !fs.journalDev.Equal(fs.dev)
}

// Size mirrors reiserfs_fs_size: the filesystem's total block count.
func (fs *Filesystem) Size() uint32 { return uint32(fs.sb.BlockCount) }

// FreeSize mirrors reiserfs_fs_free_size.
func (fs *Filesystem) FreeSize() uint32 { return uint32(fs.sb.FreeBlocks) }

// MetadataSize mirrors reiserfs_fs_metadata_size: the block run occupied by
// the superblock, its bitmap, and the journal, before the tree begins.
func (fs *Filesystem) MetadataSize() uint32 {
	return fs.superOff + uint32(fs.sb.BmapNr) + fs.JournalArea()
}

// TreeHeight mirrors reiserfs_fs_tree_height.
func (fs *Filesystem) TreeHeight() int { return fs.tree.Height() }

// OpenParams bundles OpenFilesystem's inputs.
type OpenParams struct {
	Device     diskio.Device
	JournalDev diskio.Device // nil: journal lives on Device itself
	// WithBitmap mirrors reiserfs_fs_open vs reiserfs_fs_open_fast: a
	// fast open skips the bitmap (and so cannot allocate), used by
	// read-only tools like fsck's stub that only walk the tree.
	WithBitmap bool
}

// OpenFilesystem opens an existing filesystem, mirroring
// reiserfs_fs_open_as: probe the superblock, optionally refuse to proceed
// on an inconsistent read-write device, open the journal (re-reading the
// superblock afterward, since a pending journal replay may have logged a
// newer copy of it), then the bitmap and tree.
func OpenFilesystem(ctx context.Context, p OpenParams) (*Filesystem, error) {
	sb, err := OpenSuperblock(ctx, p.Device)
	if err != nil {
		return nil, err
	}

	fs := &Filesystem{
		dev:        p.Device,
		journalDev: p.JournalDev,
		sb:         sb,
		superOff:   uint32(sb.blockAddr),
	}

	if p.WithBitmap && !sb.IsConsistent() {
		return nil, fmt.Errorf("reiserfs: filesystem: not consistent, refusing to open for write")
	}

	if p.JournalDev != nil {
		if uint32(sb.Journal.Device) != 0 && p.JournalDev.Equal(p.Device) {
			return nil, fmt.Errorf("reiserfs: filesystem: journal marked relocated but host device given as journal device")
		}
		j, err := OpenJournal(ctx, p.JournalDev, uint32(sb.Journal.Start), uint32(sb.Journal.Len), fs.journalRelocated())
		if err != nil {
			return nil, fmt.Errorf("reiserfs: filesystem: open journal: %w", err)
		}
		fs.journal = j

		// Re-probe the superblock: a journal carrying an unflushed
		// transaction that touches it must win over the copy just read
		// directly off the device.
		sb2, err := OpenSuperblock(ctx, p.Device)
		if err != nil {
			return nil, fmt.Errorf("reiserfs: filesystem: reopen superblock after journal: %w", err)
		}
		fs.sb = sb2
	}

	if p.WithBitmap {
		bm, err := OpenBitmap(ctx, p.Device, diskio.BlockAddr(fs.superOff+1), uint32(fs.sb.BlockCount))
		if err != nil {
			return nil, fmt.Errorf("reiserfs: filesystem: open bitmap: %w", err)
		}
		fs.bitmap = bm
	}

	fs.tree = OpenTree(p.Device, fs.sb)
	return fs, nil
}

// CreateParams bundles CreateFilesystem's inputs.
type CreateParams struct {
	Device     diskio.Device
	JournalDev diskio.Device // nil: journal lives on Device itself

	Format    Format
	BlockSize uint32
	FSLen     uint32

	Hash Hash

	JournalStart    uint32
	JournalLen      uint32
	JournalMaxTrans uint32

	Label string
	UUID  [16]byte

	UID, GID uint32
	Now      time.Time
}

// minTreeStart mirrors reiserfs_fs_create_check's tree_start computation,
// the smallest sane fs_len for a given layout.
func minTreeStart(blockSize, journalLen uint32, relocated bool) uint32 {
	sbBlk := uint32(DefaultSuperOffset / blockSize)
	overhead := journalLen + 1
	if relocated {
		overhead = 0
	}
	return sbBlk + 2 + overhead
}

// CreateFilesystem lays out a brand new filesystem: bitmap first (since
// every later step marks blocks used through it), then superblock, then an
// optional journal, then the tree's root leaf, reserving the root's two
// object ids before syncing everything to disk. Mirrors reiserfs_fs_create.
func CreateFilesystem(ctx context.Context, p CreateParams) (*Filesystem, error) {
	if p.BlockSize < 1024 || p.BlockSize&(p.BlockSize-1) != 0 {
		return nil, fmt.Errorf("reiserfs: filesystem: block size %d must be a power of two no smaller than 1024", p.BlockSize)
	}
	if p.BlockSize > DefaultSuperOffset {
		return nil, fmt.Errorf("reiserfs: filesystem: block size %d too large", p.BlockSize)
	}
	devLen, err := p.Device.Len()
	if err != nil {
		return nil, err
	}
	if p.FSLen == 0 || p.FSLen > uint32(devLen) {
		return nil, fmt.Errorf("reiserfs: filesystem: invalid size %d for device of %d blocks", p.FSLen, devLen)
	}

	relocated := p.JournalDev != nil && !p.JournalDev.Equal(p.Device)
	if want := minTreeStart(p.BlockSize, p.JournalLen, relocated) + 100; p.FSLen <= want {
		return nil, fmt.Errorf("reiserfs: filesystem: size %d too small, must be at least %d blocks", p.FSLen, want+1)
	}

	if err := p.Device.SetBlockSize(p.BlockSize); err != nil {
		return nil, err
	}

	fs := &Filesystem{dev: p.Device, journalDev: p.JournalDev}

	fs.bitmap = CreateBitmap(p.Device, 0, p.FSLen)

	fs.sb = CreateSuperblock(CreateSuperblockParams{
		Format:           p.Format,
		BlockSize:        p.BlockSize,
		FSLen:            p.FSLen,
		Hash:             p.Hash,
		JournalDevice:    boolToU32(relocated),
		JournalStart:     p.JournalStart,
		JournalLen:       p.JournalLen,
		JournalRelocated: relocated,
		Label:            p.Label,
		UUID:             p.UUID,
	})
	fs.superOff = uint32(fs.sb.blockAddr)
	for b := uint32(0); b <= fs.superOff; b++ {
		if err := fs.bitmap.Use(b); err != nil {
			return nil, err
		}
	}
	fs.markSuperDirty()
	fs.markBitmapDirty()

	if p.JournalDev != nil {
		j, err := CreateJournal(ctx, p.JournalDev, p.JournalStart, p.JournalLen, p.JournalMaxTrans, relocated)
		if err != nil {
			return nil, fmt.Errorf("reiserfs: filesystem: create journal: %w", err)
		}
		fs.journal = j
		fs.markJournalDirty()
	}

	fs.tree = OpenTree(p.Device, fs.sb)
	root := CreateRoot(CreateRootParams{
		Format:    p.Format,
		BlockSize: p.BlockSize,
		UID:       p.UID,
		GID:       p.GID,
		Now:       p.Now,
	})
	rootBlk, ok := fs.bitmap.FindFree(fs.superOff + 1)
	if !ok {
		return nil, fmt.Errorf("reiserfs: filesystem: no free block for root leaf")
	}
	if err := fs.bitmap.Use(rootBlk); err != nil {
		return nil, err
	}
	root.Addr = BlockNr(rootBlk)
	rootBuf, err := root.Encode()
	if err != nil {
		return nil, err
	}
	if err := p.Device.WriteBlock(ctx, diskio.BlockAddr(rootBlk), rootBuf); err != nil {
		return nil, fmt.Errorf("reiserfs: filesystem: write root leaf: %w", err)
	}
	fs.tree.SetRoot(BlockNr(rootBlk))
	fs.sb.OidMap.Use(RootDirID)
	fs.sb.OidMap.Use(RootObjID)
	fs.markSuperDirty()
	fs.markBitmapDirty()

	if err := fs.Sync(ctx); err != nil {
		return nil, err
	}
	return fs, nil
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Sync flushes the superblock, bitmap, and journal, in that order, each
// gated on its own dirty flag, mirroring reiserfs_fs_sync.
func (fs *Filesystem) Sync(ctx context.Context) error {
	if fs.superDirty {
		if err := fs.sb.Sync(ctx, fs.dev); err != nil {
			return err
		}
		fs.superDirty = false
	}
	if fs.bitmap != nil && fs.bitmapDirty {
		if err := fs.bitmap.Sync(ctx); err != nil {
			return err
		}
		fs.bitmapDirty = false
	}
	if fs.journal != nil && fs.journalDirty {
		if err := fs.journal.Sync(ctx); err != nil {
			return err
		}
		fs.journalDirty = false
	}
	return nil
}

// Close syncs and releases a filesystem, mirroring reiserfs_fs_close's
// sync-then-journal-then-bitmap ordering (the tree and superblock carry no
// open resources of their own in this package, so there is nothing left to
// release after the sync).
func (fs *Filesystem) Close(ctx context.Context) error {
	return fs.Sync(ctx)
}

// IsConsistent reports the superblock's clean/consistent state.
func (fs *Filesystem) IsConsistent() bool { return fs.sb.IsConsistent() }

// IsResizeable mirrors reiserfs_fs_is_resizeable.
func (fs *Filesystem) IsResizeable() bool { return fs.superOff != 2 }

// Clobber zero-fills every historical superblock candidate offset, so a
// stale signature can't be mistaken for a live filesystem by a later probe.
// Mirrors reiserfs_fs_clobber.
func Clobber(ctx context.Context, dev diskio.Device) error {
	blockSize := dev.BlockSize()
	zero := make([]byte, blockSize)
	for _, off4k := range superProbeOffsets {
		blk := diskio.BlockAddr(off4k * 4096 / int64(blockSize))
		if err := dev.WriteBlock(ctx, blk, zero); err != nil {
			return fmt.Errorf("reiserfs: filesystem: clobber block %d: %w", blk, err)
		}
	}
	return nil
}

// Direction picks which side of the filesystem absorbs a smart resize's
// change in size, the façade-level translation of the bitmap layer's signed
// start parameter (see Bitmap.Resize).
type Direction int

const (
	// ShiftLeft grows the filesystem by making room before the existing
	// metadata (a negative bitmap start); valid only when growing.
	ShiftLeft Direction = iota
	// ShiftRight shrinks the filesystem by dropping blocks from the
	// front, shifting everything after them left (a positive bitmap
	// start); valid only when shrinking.
	ShiftRight
	// FromRight resizes purely at the tail — the only mode a dumb resize
	// supports, and the common case for a smart resize too.
	FromRight
)

func (d Direction) String() string {
	switch d {
	case ShiftLeft:
		return "shift-left"
	case ShiftRight:
		return "shift-right"
	case FromRight:
		return "from-right"
	default:
		return "unknown"
	}
}

func (fs *Filesystem) resizeCheck() error {
	if !fs.IsResizeable() {
		return fmt.Errorf("reiserfs: filesystem: resize: old-format filesystem at block 2 can't be resized")
	}
	if !fs.sb.IsConsistent() {
		return fmt.Errorf("reiserfs: filesystem: resize: filesystem isn't in a clean, consistent state")
	}
	return nil
}

// metadataMove relocates the superblock+bitmap+journal run (fs.superOff's
// 2-block head plus JournalArea) between old and new offsets implied by
// start, mirroring reiserfs_fs_metadata_move.
func (fs *Filesystem) metadataMove(ctx context.Context, start int64) error {
	abs := func(v int64) uint32 {
		if v < 0 {
			return uint32(-v)
		}
		return uint32(v)
	}
	oldOff := fs.superOff
	newOff := fs.superOff
	if start < 0 {
		oldOff += abs(start)
	} else {
		newOff += abs(start)
	}
	metaLen := 2 + fs.JournalArea()

	src := NewSegment(fs.dev, oldOff, oldOff+metaLen)
	dst := NewSegment(fs.dev, newOff, newOff+metaLen)
	return Move(ctx, dst, src, nil)
}

// treeMove relocates every block reachable from the tree root out of the
// segment the old metadata run used to occupy and into [start,end), via the
// same relocator a segment-to-segment copy uses, mirroring
// reiserfs_fs_tree_move.
func (fs *Filesystem) treeMove(ctx context.Context, start, end int64) (BlockNr, error) {
	oldOff := fs.superOff
	newOff := fs.superOff
	if start < 0 {
		oldOff += uint32(-start)
	} else {
		newOff += uint32(start)
	}
	metaLen := 2 + fs.JournalArea()

	var treeOffset int32
	if start < 0 {
		treeOffset = int32(start)
	}
	if err := fs.tree.SetOffset(-treeOffset); err != nil {
		return 0, err
	}
	defer fs.tree.SetOffset(0) //nolint:errcheck

	src := NewSegment(fs.dev, oldOff+metaLen, uint32(int64(fs.Size())-start))
	dst := NewSegment(fs.dev, newOff+metaLen, uint32(end))

	return Relocate(ctx, RelocateParams{
		SrcTree:    fs.tree,
		SrcDev:     fs.dev,
		SrcBitmap:  fs.bitmap,
		SrcSegment: src,
		DstDev:     fs.dev,
		DstBitmap:  fs.bitmap,
		DstOidMap:  fs.sb.OidMap,
		DstSegment: dst,
		Smart:      true,
	})
}

// resizeSmart is ResizeSmart's literal (start,end) core, mirroring
// reiserfs_fs_resize_smart: a positive start shrinks from the front, a
// negative one grows at the front, and the metadata/tree move order flips
// depending on which.
func (fs *Filesystem) resizeSmart(ctx context.Context, start, end int64) error {
	if err := fs.resizeCheck(); err != nil {
		return err
	}
	oldLen := fs.Size()
	if start == 0 && end == int64(oldLen) {
		return fmt.Errorf("reiserfs: filesystem: resize: new boundaries match the current ones")
	}
	if end < start {
		return fmt.Errorf("reiserfs: filesystem: resize: invalid boundaries start=%d end=%d", start, end)
	}

	newLen := uint32(end - start)
	newBmapNr := (newLen-1)/(8*uint32(fs.sb.BlockSize)) + 1

	if oldLen > newLen {
		if oldLen-newLen > fs.FreeSize()+uint32(fs.sb.BmapNr)-newBmapNr {
			return fmt.Errorf("reiserfs: filesystem: resize: too many blocks already allocated to shrink")
		}
	}

	if err := fs.bitmap.Resize(start, end, fs.MetadataSize()); err != nil {
		return err
	}
	fs.markBitmapDirty()

	var rootBlk BlockNr
	var err error
	if start < 0 {
		if err = fs.metadataMove(ctx, start); err != nil {
			return err
		}
		if rootBlk, err = fs.treeMove(ctx, start, end); err != nil {
			return err
		}
	} else {
		if rootBlk, err = fs.treeMove(ctx, start, end); err != nil {
			return err
		}
		if err = fs.metadataMove(ctx, start); err != nil {
			return err
		}
	}

	if start <= 0 {
		// superOff unchanged
	} else {
		fs.superOff += uint32(start)
	}

	fs.tree.SetRoot(rootBlk)
	fs.sb.FreeBlocks = u32le(uint32(fs.FreeSize()) - (oldLen - newLen) + (uint32(fs.sb.BmapNr) - newBmapNr))
	fs.sb.BlockCount = u32le(newLen)
	fs.sb.BmapNr = u16le(uint16(newBmapNr))
	fs.markBitmapDirty()
	fs.markSuperDirty()

	if err := fs.Sync(ctx); err != nil {
		return err
	}
	fs.superOff = uint32(DefaultSuperOffset / fs.dev.BlockSize())
	return nil
}

// ResizeSmart grows or shrinks the filesystem to newLen blocks by
// relocating the superblock, journal, and every tree node rather than just
// resizing the bitmap, per dir's choice of which side of the filesystem
// absorbs the change. Mirrors reiserfs_fs_resize_smart.
func (fs *Filesystem) ResizeSmart(ctx context.Context, dir Direction, newLen uint32) error {
	oldLen := fs.Size()
	switch dir {
	case ShiftLeft:
		if newLen <= oldLen {
			return fmt.Errorf("reiserfs: filesystem: resize: shift-left only grows the filesystem")
		}
		return fs.resizeSmart(ctx, -(int64(newLen) - int64(oldLen)), int64(oldLen))
	case ShiftRight:
		if newLen >= oldLen {
			return fmt.Errorf("reiserfs: filesystem: resize: shift-right only shrinks the filesystem")
		}
		return fs.resizeSmart(ctx, int64(oldLen)-int64(newLen), int64(oldLen))
	case FromRight:
		return fs.resizeSmart(ctx, 0, int64(newLen))
	default:
		return fmt.Errorf("reiserfs: filesystem: resize: unknown direction %v", dir)
	}
}

// shrink is the dumb-resize shrink path: relocate everything above fsLen
// down into the space just past the metadata run (smart=false: a node
// already inside the destination area is left in place), then shrink the
// bitmap. Mirrors reiserfs_fs_shrink.
func (fs *Filesystem) shrink(ctx context.Context, fsLen uint32) error {
	newBmapNr := (fsLen-1)/(8*uint32(fs.sb.BlockSize)) + 1
	oldLen := fs.Size()
	if oldLen-fsLen > fs.FreeSize()+uint32(fs.sb.BmapNr)-newBmapNr {
		return fmt.Errorf("reiserfs: filesystem: resize: too many blocks already allocated to shrink")
	}

	src := NewSegment(fs.dev, fsLen, oldLen)
	dst := NewSegment(fs.dev, fs.superOff+2+fs.JournalArea(), fsLen)

	fs.sb.FsState = u16le(FSNotConsistent)
	fs.markSuperDirty()

	rootBlk, err := Relocate(ctx, RelocateParams{
		SrcTree:    fs.tree,
		SrcDev:     fs.dev,
		SrcBitmap:  fs.bitmap,
		SrcSegment: src,
		DstDev:     fs.dev,
		DstBitmap:  fs.bitmap,
		DstOidMap:  fs.sb.OidMap,
		DstSegment: dst,
		Smart:      false,
	})
	if err != nil {
		return err
	}

	if err := fs.bitmap.Resize(0, int64(fsLen), fs.MetadataSize()); err != nil {
		return err
	}

	fs.tree.SetRoot(rootBlk)
	fs.sb.FreeBlocks = u32le(fs.FreeSize() - (oldLen - fsLen) + (uint32(fs.sb.BmapNr) - newBmapNr))
	fs.sb.BlockCount = u32le(fsLen)
	fs.sb.BmapNr = u16le(uint16(newBmapNr))
	fs.sb.FsState = u16le(FSConsistent)
	fs.markBitmapDirty()
	fs.markSuperDirty()
	return nil
}

// expand is the dumb-resize grow path: no relocation is needed, since
// appending free space past the current end never disturbs existing
// blocks — only the bitmap grows. Mirrors reiserfs_fs_expand.
func (fs *Filesystem) expand(ctx context.Context, fsLen uint32) error {
	devLen, err := fs.dev.Len()
	if err != nil {
		return err
	}
	if fsLen > uint32(devLen) {
		return fmt.Errorf("reiserfs: filesystem: resize: device too small for %d blocks", fsLen)
	}

	oldBmapNr := uint32(fs.sb.BmapNr)
	newBmapNr := (fsLen-1)/(8*uint32(fs.sb.BlockSize)) + 1

	fs.sb.FsState = u16le(FSNotConsistent)
	fs.markSuperDirty()

	if err := fs.bitmap.Resize(0, int64(fsLen), fs.MetadataSize()); err != nil {
		return err
	}

	fs.sb.FreeBlocks = u32le(fs.FreeSize() + (fsLen - fs.Size()) - (newBmapNr - oldBmapNr))
	fs.sb.BlockCount = u32le(fsLen)
	fs.sb.BmapNr = u16le(uint16(newBmapNr))
	fs.sb.FsState = u16le(FSConsistent)
	fs.markBitmapDirty()
	fs.markSuperDirty()
	return nil
}

// ResizeDumb grows or shrinks the filesystem to newLen blocks purely at the
// tail, the cheap resize mode that never moves the superblock, journal, or
// any tree node already below the new boundary. dir must be FromRight — a
// dumb resize has no notion of shifting metadata toward the front, unlike
// ResizeSmart. Mirrors reiserfs_fs_resize_dumb.
func (fs *Filesystem) ResizeDumb(ctx context.Context, dir Direction, newLen uint32) error {
	if dir != FromRight {
		return fmt.Errorf("reiserfs: filesystem: resize: dumb resize only supports %v, got %v", FromRight, dir)
	}
	if err := fs.resizeCheck(); err != nil {
		return err
	}
	oldLen := fs.Size()
	if newLen == oldLen {
		return fmt.Errorf("reiserfs: filesystem: resize: new size matches the current one")
	}

	var err error
	if newLen > oldLen {
		err = fs.expand(ctx, newLen)
	} else {
		err = fs.shrink(ctx, newLen)
	}
	if err != nil {
		return err
	}
	return fs.Sync(ctx)
}

// SetLabel rewrites the filesystem's volume label and marks the superblock
// dirty. Mirrors tunefs's -l handling.
func (fs *Filesystem) SetLabel(label string) {
	fs.sb.Label = [16]byte{}
	copy(fs.sb.Label[:], label)
	fs.markSuperDirty()
}

// SetUUID rewrites the filesystem's UUID and marks the superblock dirty.
// Mirrors tunefs's -i handling.
func (fs *Filesystem) SetUUID(uuid [16]byte) {
	fs.sb.UUID = uuid
	fs.markSuperDirty()
}

// RelocateJournal moves the journal to a new device/start/length/max-trans,
// mirroring tunefs's -j/-d bookkeeping: the new placement is validated the
// same way CreateFilesystem validates one, a fresh (empty) journal is laid
// down at the new location, and the superblock's journal fields are
// rewritten to match. The old journal's pending transactions, if any, are
// not carried over — tunefs requires a clean, consistent filesystem before
// touching the journal, same as resizeCheck's own precondition.
func (fs *Filesystem) RelocateJournal(ctx context.Context, newDev diskio.Device, start, length, maxTrans uint32) error {
	if err := fs.resizeCheck(); err != nil {
		return err
	}
	relocated := !newDev.Equal(fs.dev)
	devLen, err := newDev.Len()
	if err != nil {
		return err
	}
	if err := CheckJournalParams(devLen, newDev.BlockSize(), start, length, relocated); err != nil {
		return err
	}

	j, err := CreateJournal(ctx, newDev, start, length, maxTrans, relocated)
	if err != nil {
		return fmt.Errorf("reiserfs: filesystem: relocate journal: %w", err)
	}

	fs.journal = j
	fs.journalDev = newDev
	fs.sb.Journal.Device = u32le(boolToU32(relocated))
	fs.sb.Journal.Start = u32le(start)
	fs.sb.Journal.Len = u32le(length)
	fs.sb.Journal.MaxTrans = u32le(JournalMaxTransLen(maxTrans, length, newDev.BlockSize()))
	fs.sb.Journal.MaxBatch = u32le(uint32(fs.sb.Journal.MaxTrans) * JournalMaxBatch / JournalMaxTrans)
	if relocated {
		fs.sb.ReservedForJournal = u16le(uint16(length + 1))
	} else {
		fs.sb.ReservedForJournal = 0
	}
	fs.markSuperDirty()
	fs.markJournalDirty()
	return nil
}

// CopyFilesystem clones src's tree and used blocks onto a brand new
// filesystem on dst, created fresh with the same format/hash/blocksize.
// Mirrors reiserfs_fs_copy, minus label/uuid (left blank on the copy, as
// the reference does).
func CopyFilesystem(ctx context.Context, src *Filesystem, dst diskio.Device) (*Filesystem, error) {
	if dst.BlockSize() != src.dev.BlockSize() {
		return nil, fmt.Errorf("reiserfs: filesystem: copy: block size mismatch (src %d, dst %d)", src.dev.BlockSize(), dst.BlockSize())
	}
	if !src.sb.IsConsistent() {
		return nil, fmt.Errorf("reiserfs: filesystem: copy: source isn't consistent")
	}

	dstLen, err := dst.Len()
	if err != nil {
		return nil, err
	}
	needed := src.bitmap.Used()
	if uint32(dstLen) < needed {
		return nil, fmt.Errorf("reiserfs: filesystem: copy: destination too small for %d used blocks", needed)
	}

	dstFs, err := CreateFilesystem(ctx, CreateParams{
		Device:          dst,
		JournalDev:      dst,
		Format:          src.sb.Format(),
		BlockSize:       src.dev.BlockSize(),
		FSLen:           uint32(dstLen),
		Hash:            src.sb.Hash(),
		JournalStart:    uint32(src.sb.Journal.Start),
		JournalLen:      uint32(src.sb.Journal.Len),
		JournalMaxTrans: uint32(src.sb.Journal.MaxTrans),
	})
	if err != nil {
		return nil, err
	}

	srcSeg := NewSegment(src.dev, src.superOff+2+src.JournalArea(), src.Size())
	dstSeg := NewSegment(dst, dstFs.superOff+2+dstFs.JournalArea(), dstFs.Size())

	dstFs.sb.FsState = u16le(FSNotConsistent)
	dstFs.markSuperDirty()

	if err := dstFs.bitmap.Unuse(uint32(dstFs.tree.Root())); err != nil {
		return nil, err
	}

	rootBlk, err := Relocate(ctx, RelocateParams{
		SrcTree:    src.tree,
		SrcDev:     src.dev,
		SrcBitmap:  src.bitmap,
		SrcSegment: srcSeg,
		DstDev:     dst,
		DstBitmap:  dstFs.bitmap,
		DstOidMap:  dstFs.sb.OidMap,
		DstSegment: dstSeg,
		Smart:      false,
	})
	if err != nil {
		return nil, err
	}

	dstFs.tree.SetRoot(rootBlk)
	dstFs.sb.FreeBlocks = u32le(dstFs.bitmap.Unused())
	dstFs.sb.TreeHeight = src.sb.TreeHeight
	dstFs.sb.FsState = u16le(FSConsistent)
	dstFs.markSuperDirty()
	dstFs.markBitmapDirty()

	if err := dstFs.Sync(ctx); err != nil {
		return nil, err
	}
	return dstFs, nil
}
