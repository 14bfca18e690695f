package reiserfs_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reiserfs-ng/reiserfs-ng/binstruct"
	"github.com/reiserfs-ng/reiserfs-ng/diskio"
	"github.com/reiserfs-ng/reiserfs-ng/reiserfs"
)

func TestCheckJournalParamsSameDeviceStart(t *testing.T) {
	t.Parallel()
	// blockSize 1024 => superBlk = 65536/1024 = 64, so a same-device
	// journal must start at 0 or 66.
	assert.NoError(t, reiserfs.CheckJournalParams(700, 1024, 0, reiserfs.JournalMinSize, false))
	assert.NoError(t, reiserfs.CheckJournalParams(700, 1024, 66, reiserfs.JournalMinSize, false))
	assert.Error(t, reiserfs.CheckJournalParams(700, 1024, 10, reiserfs.JournalMinSize, false))
}

func TestCheckJournalParamsSizeBounds(t *testing.T) {
	t.Parallel()
	assert.Error(t, reiserfs.CheckJournalParams(700, 1024, 66, reiserfs.JournalMinSize-1, false),
		"below JournalMinSize must be rejected")
	assert.NoError(t, reiserfs.CheckJournalParams(700, 1024, 66, 0, false),
		"zero length is a valid 'no journal requested' sentinel")
	assert.Error(t, reiserfs.CheckJournalParams(700, 1024, 66, 1024*8, false),
		"a length exceeding blockSize*8-start-1 must be rejected")
}

func TestCheckJournalParamsRelocated(t *testing.T) {
	t.Parallel()
	// relocated journals aren't pinned to superBlk+2 and are bounded by
	// the device length instead of blockSize*8.
	assert.NoError(t, reiserfs.CheckJournalParams(1000, 1024, 5, reiserfs.JournalMinSize, true))
	assert.Error(t, reiserfs.CheckJournalParams(1000, 1024, 5, 995, true))
}

func TestJournalMaxTransLen(t *testing.T) {
	t.Parallel()
	got := reiserfs.JournalMaxTransLen(0, reiserfs.JournalMinSize, 1024)
	assert.LessOrEqual(t, got, uint32(reiserfs.JournalMaxTrans))
	assert.GreaterOrEqual(t, got, uint32(1))

	// an explicit request within bounds is honored as-is.
	got = reiserfs.JournalMaxTransLen(300, 4096, 4096)
	assert.Equal(t, uint32(300), got)
}

func TestCreateJournalThenOpenRoundTrips(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := diskio.NewMemDevice("test", 1024, 700)

	const start, length = 66, reiserfs.JournalMinSize
	_, err := reiserfs.CreateJournal(ctx, dev, start, length, reiserfs.JournalDefaultMaxTrans, false)
	require.NoError(t, err)

	j, err := reiserfs.OpenJournal(ctx, dev, start, length, false)
	require.NoError(t, err)
	require.NoError(t, j.Sync(ctx))

	// a freshly created journal has no transactions to replay: any block
	// read comes back not-found rather than erroring.
	_, found, err := j.Read(ctx, 10)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestJournalBoundaryTransactionsSingleTrans(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := diskio.NewMemDevice("test", 1024, 700)

	const start, length = 66, reiserfs.JournalMinSize
	_, err := reiserfs.CreateJournal(ctx, dev, start, length, reiserfs.JournalDefaultMaxTrans, false)
	require.NoError(t, err)

	j, err := reiserfs.OpenJournal(ctx, dev, start, length, false)
	require.NoError(t, err)

	// hand-craft a single committed transaction at ring offset 0: a
	// descriptor block (header + "ReIsErLB" signature + one real block
	// number) followed by its matching commit block.
	descBuf := make([]byte, 1024)
	descHdr := reiserfs.JournalDescHeader{TransID: 5, TransLen: 1, MountID: 7}
	descBytes, err := binstruct.Marshal(descHdr)
	require.NoError(t, err)
	copy(descBuf, descBytes)
	copy(descBuf[12:20], []byte("ReIsErLB"))
	require.NoError(t, dev.WriteBlock(ctx, start, descBuf))

	commitBuf := make([]byte, 1024)
	commitHdr := reiserfs.JournalCommitHeader{TransID: 5, TransLen: 1}
	commitBytes, err := binstruct.Marshal(commitHdr)
	require.NoError(t, err)
	copy(commitBuf, commitBytes)
	require.NoError(t, dev.WriteBlock(ctx, start+2, commitBuf))

	oldest, newest, count, err := j.BoundaryTransactions(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), count)
	assert.Equal(t, uint32(5), oldest.TransID)
	assert.Equal(t, uint32(5), newest.TransID)
	assert.Equal(t, uint32(7), oldest.MountID)
	assert.Equal(t, diskio.BlockAddr(start), oldest.DescBlock)
	assert.Equal(t, diskio.BlockAddr(start+2), oldest.CommitBlock)
}

func TestJournalBoundaryTransactionsEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := diskio.NewMemDevice("test", 1024, 700)

	const start, length = 66, reiserfs.JournalMinSize
	_, err := reiserfs.CreateJournal(ctx, dev, start, length, reiserfs.JournalDefaultMaxTrans, false)
	require.NoError(t, err)

	j, err := reiserfs.OpenJournal(ctx, dev, start, length, false)
	require.NoError(t, err)

	_, _, count, err := j.BoundaryTransactions(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "a freshly created journal has no transactions to find")
}

func TestCreateJournalRejectsBadParams(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := diskio.NewMemDevice("test", 1024, 700)

	_, err := reiserfs.CreateJournal(ctx, dev, 10, reiserfs.JournalMinSize, reiserfs.JournalDefaultMaxTrans, false)
	assert.Error(t, err, "start 10 is neither 0 nor superBlk+2 for a same-device journal")
}
