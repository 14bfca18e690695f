package reiserfs

import (
	"bytes"
	"context"
	"fmt"

	"github.com/reiserfs-ng/reiserfs-ng/binstruct"
	"github.com/reiserfs-ng/reiserfs-ng/diskio"
	"github.com/reiserfs-ng/reiserfs-ng/internal/journalcache"
)

// JournalDescSignature marks a journal descriptor block.
const JournalDescSignature = "ReIsErLB"

// Journal size/transaction tuning defaults, mirroring the reference's
// JOURNAL_MAX_TRANS/JOURNAL_MIN_TRANS/JOURNAL_MIN_RATIO/JOURNAL_MAX_BATCH/
// JOURNAL_MAX_COMMIT_AGE/JOURNAL_MAX_TRANS_AGE/JOURNAL_MIN_SIZE family.
const (
	JournalMaxTrans   = 1024
	JournalMinTrans   = 256
	JournalMinRatio   = 2
	JournalMaxBatch   = 900
	JournalMinSize    = 513
	JournalDefaultMaxTrans     = JournalMaxTrans
	JournalDefaultMaxBatch     = JournalMaxBatch
	JournalDefaultMaxCommitAge = 30
	JournalDefaultMaxTransAge  = 30
)

// JournalHead is the 44-byte record written at block (start+len), trailing
// the transaction ring: bookkeeping plus the embedded JournalParams.
type JournalHead struct {
	LastFlushTransID      binstruct.U32le `bin:"off=0x00,siz=0x4"`
	FirstUnflushedOffset  binstruct.U32le `bin:"off=0x04,siz=0x4"`
	MountID               binstruct.U32le `bin:"off=0x08,siz=0x4"`
	Params                JournalParams   `bin:"off=0x0c,siz=0x20"`
	binstruct.End         `bin:"off=0x2c"`
}

// JournalDescHeader is the fixed part of a transaction's descriptor block;
// it is followed by TransLen real-block-number u32s (possibly spilling into
// the commit block once they exceed a half-block, per journalTransHalf).
type JournalDescHeader struct {
	TransID   binstruct.U32le `bin:"off=0x00,siz=0x4"`
	TransLen  binstruct.U32le `bin:"off=0x04,siz=0x4"`
	MountID   binstruct.U32le `bin:"off=0x08,siz=0x4"`
	binstruct.End `bin:"off=0x0c"`
}

// JournalCommitHeader is the fixed part of a transaction's commit block.
type JournalCommitHeader struct {
	TransID  binstruct.U32le `bin:"off=0x00,siz=0x4"`
	TransLen binstruct.U32le `bin:"off=0x04,siz=0x4"`
	binstruct.End `bin:"off=0x08"`
}

// journalTransHalf is how many real-block-number slots a descriptor block
// can hold before a transaction's remaining block numbers spill into the
// tail of the commit block.
func journalTransHalf(blockSize uint32) uint32 {
	descHdr := uint32(binstruct.StaticSize(JournalDescHeader{})) + uint32(len(JournalDescSignature))
	return (blockSize - descHdr) / 4
}

// Journal is an opened transaction ring: a fixed run of blockSize blocks on
// the device, bracketed by a trailing JournalHead. It supports
// read-through lookup (the newest transaction mentioning a block wins) but
// never replays a transaction's blocks back into the tree — callers that
// need a clean, fully-flushed tree must have already let the journal drain
// via normal Sync traffic.
type Journal struct {
	dev       diskio.Device
	blockSize uint32
	head      JournalHead
	headBlock diskio.BlockAddr
	cache     *journalcache.Cache
}

// CheckJournalParams validates a proposed (start, len, relocated) journal
// placement, mirroring reiserfs_journal_params_check: a same-device journal
// must start exactly 2 blocks past the canonical superblock position, and
// len must fit within the device (or within blockSize*8 blocks, same-device)
// and be at least JournalMinSize.
func CheckJournalParams(devLen diskio.BlockAddr, blockSize uint32, start, length uint32, relocated bool) error {
	if !relocated {
		superBlk := uint32(DefaultSuperOffset / blockSize)
		if start != 0 && start != superBlk+2 {
			return fmt.Errorf("reiserfs: journal: invalid start %d for same-device journal (want %d)", start, superBlk+2)
		}
	}
	var maxLen uint32
	if relocated {
		maxLen = uint32(devLen) - start - 1
	} else {
		maxLen = blockSize*8 - start - 1
	}
	if length > maxLen {
		return fmt.Errorf("reiserfs: journal: size %d exceeds max %d for blocksize %d", length, maxLen, blockSize)
	}
	if length != 0 && length < JournalMinSize {
		return fmt.Errorf("reiserfs: journal: size %d smaller than minimum %d", length, JournalMinSize)
	}
	return nil
}

// JournalMaxTransLen derives a transaction-length cap for the given journal
// length and blocksize, mirroring reiserfs_journal_max_trans.
func JournalMaxTransLen(requested, length uint32, blockSize uint32) uint32 {
	ratio := uint32(1)
	if blockSize < 4096 {
		ratio = 4096 / blockSize
	}
	maxTrans := requested
	if maxTrans == 0 {
		maxTrans = JournalMaxTrans / ratio
	}
	if length/maxTrans < JournalMinRatio {
		maxTrans = length / JournalMinRatio
	}
	if maxTrans > JournalMaxTrans/ratio {
		maxTrans = JournalMaxTrans / ratio
	}
	if maxTrans < JournalMinTrans/ratio {
		maxTrans = JournalMinTrans / ratio
	}
	return maxTrans
}

// OpenJournal reads and validates the journal head at block (start+len).
func OpenJournal(ctx context.Context, dev diskio.Device, start, length uint32, relocated bool) (*Journal, error) {
	blockSize := dev.BlockSize()
	headBlk := diskio.BlockAddr(start + length)
	buf := make([]byte, blockSize)
	if err := dev.ReadBlock(ctx, headBlk, buf); err != nil {
		return nil, fmt.Errorf("reiserfs: journal: read head block %d: %w", headBlk, err)
	}
	var head JournalHead
	if _, err := binstruct.Unmarshal(buf[:binstruct.StaticSize(JournalHead{})], &head); err != nil {
		return nil, fmt.Errorf("reiserfs: journal: decode head: %w", err)
	}
	if err := CheckJournalParams(mustLen(ctx, dev), blockSize, uint32(head.Params.Start), uint32(head.Params.Len), relocated); err != nil {
		return nil, fmt.Errorf("reiserfs: journal: invalid parameters: %w", err)
	}
	if uint32(head.FirstUnflushedOffset) >= start+length {
		return nil, fmt.Errorf("reiserfs: journal: invalid replay offset %d for journal [%d,%d)", head.FirstUnflushedOffset, start, start+length)
	}
	return &Journal{dev: dev, blockSize: blockSize, head: head, headBlock: headBlk, cache: journalcache.New(int(length))}, nil
}

func mustLen(ctx context.Context, dev diskio.Device) diskio.BlockAddr {
	l, err := dev.Len()
	if err != nil {
		return 0
	}
	return l
}

// CreateJournal lays out a fresh, empty journal: the block range is
// zero-filled and a head record is written at (start+len).
func CreateJournal(ctx context.Context, dev diskio.Device, start, length, maxTrans uint32, relocated bool) (*Journal, error) {
	blockSize := dev.BlockSize()
	if err := CheckJournalParams(mustLen(ctx, dev), blockSize, start, length, relocated); err != nil {
		return nil, err
	}
	zero := make([]byte, blockSize)
	for b := diskio.BlockAddr(start); b < diskio.BlockAddr(start+length); b++ {
		if err := dev.WriteBlock(ctx, b, zero); err != nil {
			return nil, fmt.Errorf("reiserfs: journal: zero-fill block %d: %w", b, err)
		}
	}
	var dev32 uint32
	if relocated {
		dev32 = 1
	}
	params := JournalParams{
		Start:        binstruct.U32le(start),
		Device:       binstruct.U32le(dev32),
		Len:          binstruct.U32le(length),
		MaxTrans:     binstruct.U32le(JournalMaxTransLen(maxTrans, length, blockSize)),
		MaxBatch:     binstruct.U32le(JournalMaxTransLen(maxTrans, length, blockSize) * JournalMaxBatch / JournalMaxTrans),
		MaxCommitAge: binstruct.U32le(JournalDefaultMaxCommitAge),
		MaxTransAge:  binstruct.U32le(JournalDefaultMaxTransAge),
	}
	head := JournalHead{Params: params}
	headBlk := diskio.BlockAddr(start + length)
	buf := make([]byte, blockSize)
	bs, err := binstruct.Marshal(head)
	if err != nil {
		return nil, fmt.Errorf("reiserfs: journal: marshal head: %w", err)
	}
	copy(buf, bs)
	if err := dev.WriteBlock(ctx, headBlk, buf); err != nil {
		return nil, fmt.Errorf("reiserfs: journal: write head: %w", err)
	}
	return &Journal{dev: dev, blockSize: blockSize, head: head, headBlock: headBlk, cache: journalcache.New(int(length))}, nil
}

func (j *Journal) Sync(ctx context.Context) error {
	buf := make([]byte, j.blockSize)
	bs, err := binstruct.Marshal(j.head)
	if err != nil {
		return err
	}
	copy(buf, bs)
	return j.dev.WriteBlock(ctx, j.headBlock, buf)
}

// descMagicOffset is where the 8-byte "ReIsErLB" signature sits within a
// descriptor block, directly after JournalDescHeader.
const descMagicOffset = 0x0c

func (j *Journal) readDescHeader(ctx context.Context, blk diskio.BlockAddr) (JournalDescHeader, []byte, bool, error) {
	buf := make([]byte, j.blockSize)
	if err := j.dev.ReadBlock(ctx, blk, buf); err != nil {
		return JournalDescHeader{}, nil, false, err
	}
	var hdr JournalDescHeader
	if _, err := binstruct.Unmarshal(buf[:binstruct.StaticSize(JournalDescHeader{})], &hdr); err != nil {
		return JournalDescHeader{}, nil, false, err
	}
	sigEnd := descMagicOffset + len(JournalDescSignature)
	if sigEnd > len(buf) || !bytes.Equal(buf[descMagicOffset:sigEnd], []byte(JournalDescSignature)) {
		return hdr, buf, false, nil
	}
	valid := uint32(hdr.TransLen) > 0
	return hdr, buf, valid, nil
}

// descCommitBlock / descNextBlock reproduce reiserfs_journal_desc_comm /
// reiserfs_journal_desc_next: the ring-wrapped offset of a descriptor's
// commit block, and of where the next transaction's descriptor would begin.
func (j *Journal) descProp(descBlk diskio.BlockAddr, transLen uint32, prop uint32) diskio.BlockAddr {
	start := uint32(j.head.Params.Start)
	length := uint32(j.head.Params.Len)
	offset := uint32(descBlk) - start
	return diskio.BlockAddr(start + (offset+transLen+prop)%length)
}

func (j *Journal) descCommitBlock(descBlk diskio.BlockAddr, transLen uint32) diskio.BlockAddr {
	return j.descProp(descBlk, transLen, 1)
}

func (j *Journal) descNextBlock(descBlk diskio.BlockAddr, transLen uint32) diskio.BlockAddr {
	return j.descProp(descBlk, transLen, 2)
}

// PipeFunc is invoked once per well-formed transaction found while walking
// the journal ring starting at `from`; returning false stops the walk.
type PipeFunc func(descBlk diskio.BlockAddr, desc JournalDescHeader, descBody []byte, commit JournalCommitHeader, commitBody []byte, offset uint32) (bool, error)

// Pipe walks the journal's transaction ring starting at block offset
// `from` (relative to Start), stopping at the first invalid descriptor or
// when `from` wraps past Len, matching reiserfs_journal_pipe.
func (j *Journal) Pipe(ctx context.Context, from uint32, fn PipeFunc) error {
	start := uint32(j.head.Params.Start)
	length := uint32(j.head.Params.Len)
	if from >= length {
		return fmt.Errorf("reiserfs: journal: invalid pipe start %d for length %d", from, length)
	}
	for curr := from; curr < length; {
		descBlk := diskio.BlockAddr(start + curr)
		desc, descBody, ok, err := j.readDescHeader(ctx, descBlk)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		commitBlk := j.descCommitBlock(descBlk, uint32(desc.TransLen))
		commitBuf := make([]byte, j.blockSize)
		if err := j.dev.ReadBlock(ctx, commitBlk, commitBuf); err != nil {
			return err
		}
		var commit JournalCommitHeader
		if _, err := binstruct.Unmarshal(commitBuf[:binstruct.StaticSize(JournalCommitHeader{})], &commit); err != nil {
			return err
		}
		if uint32(commit.TransID) != uint32(desc.TransID) || uint32(commit.TransLen) != uint32(desc.TransLen) {
			return nil
		}
		cont, err := fn(descBlk, desc, descBody, commit, commitBuf, curr)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
		curr += uint32(desc.TransLen) + 1
	}
	return nil
}

// JournalTransaction describes one committed transaction discovered while
// walking the journal ring, mirroring reiserfs_journal_trans_t.
type JournalTransaction struct {
	MountID         uint32
	TransID         uint32
	DescBlock       diskio.BlockAddr
	TransLen        uint32
	CommitBlock     diskio.BlockAddr
	NextTransOffset uint32
}

// descToTrans fills a JournalTransaction from a descriptor block, mirroring
// reiserfs_journal_desc_desc2trans.
func (j *Journal) descToTrans(descBlk diskio.BlockAddr, desc JournalDescHeader) JournalTransaction {
	transLen := uint32(desc.TransLen)
	return JournalTransaction{
		MountID:         uint32(desc.MountID),
		TransID:         uint32(desc.TransID),
		DescBlock:       descBlk,
		TransLen:        transLen,
		CommitBlock:     j.descCommitBlock(descBlk, transLen),
		NextTransOffset: uint32(j.descNextBlock(descBlk, transLen)) - uint32(j.head.Params.Len),
	}
}

// BoundaryTransactions walks the entire journal ring from its start,
// mirroring reiserfs_journal_boundary_transactions: it reports the
// transactions with the minimum and maximum trans_id seen, plus the total
// count of valid transactions walked.
func (j *Journal) BoundaryTransactions(ctx context.Context) (oldest, newest JournalTransaction, count uint32, err error) {
	oldestID := uint32(0xffffffff)
	newestID := uint32(0)

	err = j.Pipe(ctx, 0, func(descBlk diskio.BlockAddr, desc JournalDescHeader, descBody []byte, commit JournalCommitHeader, commitBody []byte, offset uint32) (bool, error) {
		count++
		id := uint32(desc.TransID)
		if id < oldestID {
			oldestID = id
			oldest = j.descToTrans(descBlk, desc)
		}
		if id > newestID {
			newestID = id
			newest = j.descToTrans(descBlk, desc)
		}
		return true, nil
	})
	return oldest, newest, count, err
}

// Read looks up which journal-ring block (if any) holds the most recently
// committed copy of device block `blk`, per reiserfs_journal_read: later
// transactions in the walk overwrite earlier findings, so the last match
// wins without ever writing the result back to `blk`'s real location.
func (j *Journal) Read(ctx context.Context, blk diskio.BlockAddr) (diskio.BlockAddr, bool, error) {
	if j.cache != nil {
		if e, ok := j.cache.Get(blk); ok {
			return e.JournalBlock, e.Found, nil
		}
	}

	start := uint32(j.head.Params.Start)
	length := uint32(j.head.Params.Len) - 1
	transHalf := journalTransHalf(j.blockSize)

	var found diskio.BlockAddr
	var foundOK bool

	err := j.Pipe(ctx, uint32(j.head.FirstUnflushedOffset), func(descBlk diskio.BlockAddr, desc JournalDescHeader, descBody []byte, commit JournalCommitHeader, commitBody []byte, offset uint32) (bool, error) {
		realBlockAt := func(i uint32) uint32 {
			if i < transHalf {
				off := descMagicOffset + len(JournalDescSignature) + int(i)*4
				return uint32(descBody[off]) | uint32(descBody[off+1])<<8 | uint32(descBody[off+2])<<16 | uint32(descBody[off+3])<<24
			}
			j2 := i - transHalf
			off := binstruct.StaticSize(JournalCommitHeader{}) + int(j2)*4
			return uint32(commitBody[off]) | uint32(commitBody[off+1])<<8 | uint32(commitBody[off+2])<<16 | uint32(commitBody[off+3])<<24
		}
		for i := uint32(0); i < uint32(desc.TransLen); i++ {
			if realBlockAt(i) == uint32(blk) {
				found = diskio.BlockAddr((start + offset + i + 1) % (length + 1))
				foundOK = true
			}
		}
		return true, nil
	})
	if err != nil {
		return 0, false, err
	}
	if foundOK && uint32(found) > start+length {
		found, foundOK = 0, false
	}
	if j.cache != nil {
		j.cache.Add(blk, journalcache.Entry{JournalBlock: found, Found: foundOK})
	}
	return found, foundOK, nil
}
