package reiserfs

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/reiserfs-ng/reiserfs-ng/binstruct"
	"github.com/reiserfs-ng/reiserfs-ng/diskio"
	"github.com/reiserfs-ng/reiserfs-ng/internal/oidmap"
	"github.com/reiserfs-ng/reiserfs-ng/internal/rerr"
)

// Format is the on-disk format revision: 3.5 (v1 keys/stat-data by default)
// or 3.6 (v2 keys/stat-data by default).
type Format int

// Values match sb_format / FS_FORMAT_3_5 / FS_FORMAT_3_6 exactly, so a
// Format round-trips through the on-disk FormatRaw field without
// translation.
const (
	Format3_5 Format = 0
	Format3_6 Format = 2
)

func (f Format) String() string {
	if f == Format3_5 {
		return "3.5"
	}
	return "3.6"
}

// Magic signatures, one per (format, relocated-journal) combination.
const (
	Magic3_5   = "ReIsErFs"
	Magic3_6   = "ReIsEr2Fs"
	MagicJRReloc = "ReIsEr3Fs"
)

// Filesystem consistency states (sb_fs_state / sb_umount_state).
const (
	FSConsistent   = 0
	FSNotConsistent = 1

	UmountClean   = 1
	UmountUnclean = 2
)

// DefaultSuperOffset is the byte offset of the superblock on a freshly
// created filesystem (64KiB in). Existing filesystems may instead carry
// their superblock at block 2, the historical fallback probed second.
const DefaultSuperOffset = 64 * 1024

// superProbeOffsets lists the super-block locations probed in order, in
// units of 4096-byte blocks (16 is the 64KiB default, 2 the 8KiB fallback);
// each is read through a blocksize-1024 probing pass, done before the
// device's real blocksize is known.
var superProbeOffsets = []int64{16, 2}

// SUPER_V1_SIZE / SUPER_V2_SIZE: the packed byte length of the v1 and v2
// on-disk superblock records, used only to size sb_oid_maxsize at create
// time (oid_maxsize = (blocksize - SUPER_vN_SIZE) / sizeof(uint32) / 2 * 2).
const (
	superV1Size = 76
	superV2Size = 204
)

// JournalParams is the embedded journal-location/size descriptor carried
// inside the superblock.
type JournalParams struct {
	Start        binstruct.U32le `bin:"off=0x00,siz=0x4"`
	Device       binstruct.U32le `bin:"off=0x04,siz=0x4"`
	Len          binstruct.U32le `bin:"off=0x08,siz=0x4"`
	MaxTrans     binstruct.U32le `bin:"off=0x0c,siz=0x4"`
	Magic        binstruct.U32le `bin:"off=0x10,siz=0x4"`
	MaxBatch     binstruct.U32le `bin:"off=0x14,siz=0x4"`
	MaxCommitAge binstruct.U32le `bin:"off=0x18,siz=0x4"`
	MaxTransAge  binstruct.U32le `bin:"off=0x1c,siz=0x4"`
	binstruct.End `bin:"off=0x20"`
}

// Superblock is the packed 3.5/3.6 superblock record (§6's exact layout).
type Superblock struct {
	BlockCount  binstruct.U32le `bin:"off=0x00,siz=0x4"`
	FreeBlocks  binstruct.U32le `bin:"off=0x04,siz=0x4"`
	RootBlock   binstruct.U32le `bin:"off=0x08,siz=0x4"`
	Journal     JournalParams   `bin:"off=0x0c,siz=0x20"`
	BlockSize   binstruct.U16le `bin:"off=0x2c,siz=0x2"`
	OidMaxSize  binstruct.U16le `bin:"off=0x2e,siz=0x2"`
	OidCurSize  binstruct.U16le `bin:"off=0x30,siz=0x2"`
	UmountState binstruct.U16le `bin:"off=0x32,siz=0x2"`
	Magic       [10]byte        `bin:"off=0x34,siz=0xa"`
	FsState     binstruct.U16le `bin:"off=0x3e,siz=0x2"`
	HashCode    binstruct.U32le `bin:"off=0x40,siz=0x4"`
	TreeHeight  binstruct.U16le `bin:"off=0x44,siz=0x2"`
	BmapNr      binstruct.U16le `bin:"off=0x46,siz=0x2"`
	FormatRaw   binstruct.U16le `bin:"off=0x48,siz=0x2"`
	ReservedForJournal binstruct.U16le `bin:"off=0x4a,siz=0x2"`

	// 3.6-only trailer; present and zeroed on 3.5 filesystems too, since
	// SUPER_V1_SIZE is only used to compute oid_maxsize, not to
	// shorten the on-disk record's layout.
	InodeGeneration binstruct.U32le `bin:"off=0x4c,siz=0x4"`
	Flags           binstruct.U32le `bin:"off=0x50,siz=0x4"`
	UUID            [16]byte        `bin:"off=0x54,siz=0x10"`
	Label           [16]byte        `bin:"off=0x64,siz=0x10"`
	Unused          [88]byte        `bin:"off=0x74,siz=0x58"`
	binstruct.End   `bin:"off=0xcc"`
}

// loadedSuperblock pairs a Superblock with blockAddr, the block number it
// was found at / written to; that number is not part of the on-disk record,
// since the record carries no self-describing location.
type loadedSuperblock struct {
	Superblock
	blockAddr diskio.BlockAddr
	// resizeable mirrors reiserfs_fs_is_resizeable: false when the
	// super lives at the degenerate fallback offset (block 2), since
	// growing the filesystem would then collide with the super itself.
	resizeable bool
	// OidMap is get_sb_objectid_map's target: a []uint32 region living
	// immediately after the fixed superblock record in the same block,
	// sized by OidCurSize and capped at OidMaxSize entries.
	OidMap *oidmap.Map
}

// oidMapByteOffset is where the objectid map begins within the
// superblock's own block: right after the fixed-size record, matching
// get_sb_objectid_map's "(uint32_t *)(sb + 1)" pointer arithmetic.
func oidMapByteOffset() int { return binstruct.StaticSize(Superblock{}) }

// decodeOidMap reads OidCurSize uint32s starting at oidMapByteOffset() out
// of a superblock's full block buffer.
func decodeOidMap(full []byte, sb Superblock) (*oidmap.Map, error) {
	off := oidMapByteOffset()
	n := int(sb.OidCurSize)
	end := off + n*4
	if end > len(full) {
		return nil, fmt.Errorf("reiserfs: superblock: objectid map (cursize %d) overruns block", n)
	}
	extents := make([]uint32, n)
	for i := 0; i < n; i++ {
		extents[i] = binary.LittleEndian.Uint32(full[off+i*4 : off+i*4+4])
	}
	return oidmap.New(extents, int(sb.OidMaxSize)), nil
}

// encodeOidMap writes m's extents back into full's objectid-map region and
// updates sb.OidCurSize to match, mirroring the kernel's set_sb_oid_cursize
// bookkeeping that accompanies every map mutation.
func encodeOidMap(full []byte, sb *Superblock, m *oidmap.Map) error {
	off := oidMapByteOffset()
	end := off + len(m.Extents)*4
	if end > len(full) {
		return fmt.Errorf("reiserfs: superblock: objectid map (%d entries) overruns block", len(m.Extents))
	}
	for i, v := range m.Extents {
		binary.LittleEndian.PutUint32(full[off+i*4:off+i*4+4], v)
	}
	sb.OidCurSize = binstruct.U16le(len(m.Extents))
	return nil
}

func anySignature(magic [10]byte) bool {
	s := bytes.TrimRight(magic[:], "\x00")
	return bytes.Equal(s, []byte(Magic3_5)) || bytes.Equal(s, []byte(Magic3_6)) || bytes.Equal(s, []byte(MagicJRReloc))
}

func magicFormat(magic [10]byte) (Format, bool) {
	s := bytes.TrimRight(magic[:], "\x00")
	switch {
	case bytes.Equal(s, []byte(Magic3_5)):
		return Format3_5, true
	case bytes.Equal(s, []byte(Magic3_6)), bytes.Equal(s, []byte(MagicJRReloc)):
		return Format3_6, true
	default:
		return 0, false
	}
}

// setMagic fills Magic per reiserfs_fs_super_magic_update: 3.6 format (or a
// relocated journal, regardless of format) writes the "2Fs"/"3Fs" variant;
// otherwise the bare 3.5 signature is used.
func (sb *Superblock) setMagic(format Format, journalRelocated bool) {
	var s string
	switch {
	case journalRelocated:
		s = MagicJRReloc
	case format == Format3_6:
		s = Magic3_6
	default:
		s = Magic3_5
	}
	var buf [10]byte
	copy(buf[:], s)
	sb.Magic = buf
}

// OpenSuperblock probes a device for a valid superblock, trying the
// canonical offset (64KiB) first and the historical fallback (block 2)
// second, exactly as reiserfs_fs_super_probe does. It sets the device's
// blocksize once a candidate's own BlockSize field is known.
func OpenSuperblock(ctx context.Context, dev diskio.Device) (*loadedSuperblock, error) {
	probeBlockSize := uint32(1024)
	sbSize := binstruct.StaticSize(Superblock{})

	for _, off4k := range superProbeOffsets {
		blk := diskio.BlockAddr(off4k * 4096 / int64(probeBlockSize))
		buf := make([]byte, probeBlockSize)
		if err := dev.ReadBlock(ctx, blk, buf); err != nil {
			continue
		}
		if len(buf) < sbSize {
			continue
		}
		var sb Superblock
		if _, err := binstruct.Unmarshal(buf[:sbSize], &sb); err != nil {
			continue
		}
		if !anySignature(sb.Magic) {
			continue
		}
		if err := dev.SetBlockSize(uint32(sb.BlockSize)); err != nil {
			return nil, fmt.Errorf("reiserfs: superblock: set blocksize %d: %w", sb.BlockSize, err)
		}
		realBlk := diskio.BlockAddr(off4k * 4096 / int64(sb.BlockSize))
		full := make([]byte, sb.BlockSize)
		if err := dev.ReadBlock(ctx, realBlk, full); err != nil {
			return nil, fmt.Errorf("reiserfs: superblock: reread at blocksize %d: %w", sb.BlockSize, err)
		}
		if _, err := binstruct.Unmarshal(full[:sbSize], &sb); err != nil {
			return nil, fmt.Errorf("reiserfs: superblock: reparse: %w", err)
		}
		if err := checkOpen(ctx, dev, sb); err != nil {
			return nil, err
		}
		oids, err := decodeOidMap(full, sb)
		if err != nil {
			return nil, err
		}
		return &loadedSuperblock{
			Superblock: sb,
			blockAddr:  realBlk,
			resizeable: off1k != 2,
			OidMap:     oids,
		}, nil
	}
	return nil, fmt.Errorf("reiserfs: superblock: no valid signature found at offsets %v", superProbeOffsets)
}

// checkOpen mirrors reiserfs_fs_super_open_check: a journal-device/magic
// relocation-flag mismatch is reported as a warning (never fatal), then the
// block_count must not exceed the device's own length.
func checkOpen(ctx context.Context, dev diskio.Device, sb Superblock) error {
	isJournalDev := sb.Journal.Device != 0
	isJournalMagic := bytes.Equal(journalSignatureOf(sb.Magic), []byte(MagicJRReloc))
	if isJournalDev != isJournalMagic {
		if err := rerr.Report(ctx, rerr.New(rerr.SeverityWarning,
			fmt.Sprintf("journal relocation flags mismatch: journal device %d, magic %q", sb.Journal.Device, sb.Magic),
			nil)); err != nil {
			return err
		}
	}

	devLen, err := dev.Len()
	if err != nil {
		return err
	}
	if uint64(sb.BlockCount) > uint64(devLen) {
		return fmt.Errorf("reiserfs: superblock: block_count %d exceeds device length %d", sb.BlockCount, devLen)
	}
	return nil
}

// journalSignatureOf returns the leading bytes of magic up to the length of
// the relocated-journal signature, mirroring reiserfs_tools_journal_signature's
// strncmp-bounded-by-the-needle comparison.
func journalSignatureOf(magic [10]byte) []byte {
	n := len(MagicJRReloc)
	if n > len(magic) {
		n = len(magic)
	}
	return magic[:n]
}

// CreateSuperblockParams bundles the inputs to CreateSuperblock that aren't
// otherwise derivable from the device.
type CreateSuperblockParams struct {
	Format           Format
	BlockSize        uint32
	FSLen            uint32 // total blocks
	Hash             Hash
	JournalDevice    uint32
	JournalStart     uint32
	JournalLen       uint32
	JournalRelocated bool
	Label            string
	UUID             [16]byte
}

// CreateSuperblock lays out a new superblock in memory, following
// reiserfs_fs_super_create's exact arithmetic for free_blocks, bmap_nr, and
// oid_maxsize. It does not write anything to the device; callers combine it
// with a freshly created Bitmap (which marks the superblock's own block
// used) before syncing.
func CreateSuperblock(p CreateSuperblockParams) *loadedSuperblock {
	sbBlk := uint32(DefaultSuperOffset / p.BlockSize)
	bmapNr := (p.FSLen-1)/(8*p.BlockSize) + 1

	journalOverhead := p.JournalLen + 1
	if p.JournalRelocated {
		journalOverhead = 0
	}
	freeBlocks := p.FSLen - sbBlk - 1 - journalOverhead - bmapNr - 1

	var oidMaxSize uint16
	if p.Format == Format3_6 {
		oidMaxSize = uint16((p.BlockSize-superV2Size)/4/2*2)
	} else {
		oidMaxSize = uint16((p.BlockSize-superV1Size)/4/2*2)
	}

	sb := Superblock{
		BlockCount: binstruct.U32le(p.FSLen),
		FreeBlocks: binstruct.U32le(freeBlocks),
		BlockSize:  binstruct.U16le(p.BlockSize),
		OidMaxSize: binstruct.U16le(oidMaxSize),
		UmountState: binstruct.U16le(UmountClean),
		FsState:    binstruct.U16le(FSConsistent),
		HashCode:   binstruct.U32le(p.Hash),
		TreeHeight: binstruct.U16le(LeafLevel + 1),
		BmapNr:     binstruct.U16le(bmapNr),
		FormatRaw:  binstruct.U16le(p.Format),
		Journal: JournalParams{
			Device: binstruct.U32le(p.JournalDevice),
			Start:  binstruct.U32le(p.JournalStart),
			Len:    binstruct.U32le(p.JournalLen),
			MaxTrans: binstruct.U32le(JournalDefaultMaxTrans),
			MaxBatch: binstruct.U32le(JournalDefaultMaxBatch),
			MaxCommitAge: binstruct.U32le(JournalDefaultMaxCommitAge),
			MaxTransAge: binstruct.U32le(JournalDefaultMaxTransAge),
		},
	}
	sb.setMagic(p.Format, p.JournalRelocated)
	if p.Label != "" {
		copy(sb.Label[:], p.Label)
	}
	if p.UUID != ([16]byte{}) {
		sb.UUID = p.UUID
	}

	return &loadedSuperblock{
		Superblock: sb,
		blockAddr:  diskio.BlockAddr(sbBlk),
		resizeable: true,
		OidMap:     oidmap.NewEmpty(int(oidMaxSize)),
	}
}

// Sync marshals and writes the superblock back to its own block, then
// clears the "dirty" umount state, matching reiserfs_fs_super_sync.
func (s *loadedSuperblock) Sync(ctx context.Context, dev diskio.Device) error {
	s.UmountState = binstruct.U16le(UmountClean)
	buf := make([]byte, dev.BlockSize())
	if s.OidMap != nil {
		if err := encodeOidMap(buf, &s.Superblock, s.OidMap); err != nil {
			return err
		}
	}
	bs, err := binstruct.Marshal(s.Superblock)
	if err != nil {
		return fmt.Errorf("reiserfs: superblock: marshal: %w", err)
	}
	copy(buf, bs)
	return dev.WriteBlock(ctx, s.blockAddr, buf)
}

// IsConsistent mirrors reiserfs_fs_is_consistent.
func (s *loadedSuperblock) IsConsistent() bool {
	return uint16(s.FsState) == FSConsistent && uint16(s.UmountState) == UmountClean
}

// IsResizeable mirrors reiserfs_fs_is_resizeable: a superblock found at the
// historical fallback offset (block 2) is not grown, since growing the
// device would shift where a from-scratch probe expects to find it.
func (s *loadedSuperblock) IsResizeable() bool { return s.resizeable }

func (s *loadedSuperblock) Format() Format { return Format(s.FormatRaw) }
func (s *loadedSuperblock) Hash() Hash     { return Hash(s.HashCode) }
func (s *loadedSuperblock) KeyFormat() KeyFormat { return keyFormatFor(s.Format()) }

// JournalHeadBlock is the device block the journal's head record lives at,
// (sb_journal.start + sb_journal.len).
func (s *loadedSuperblock) JournalHeadBlock() diskio.BlockAddr {
	return diskio.BlockAddr(uint32(s.Journal.Start) + uint32(s.Journal.Len))
}
