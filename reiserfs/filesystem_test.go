package reiserfs_test

import (
	"testing"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reiserfs-ng/reiserfs-ng/diskio"
	"github.com/reiserfs-ng/reiserfs-ng/reiserfs"
)

const (
	testBlockSize = 1024
	testFSLen     = 700
	testJournal   = reiserfs.JournalMinSize
)

func createTestFilesystem(t *testing.T) (*reiserfs.Filesystem, *diskio.MemDevice) {
	t.Helper()
	ctx := dlog.NewTestContext(t, false)
	dev := diskio.NewMemDevice("test", testBlockSize, testFSLen)

	fs, err := reiserfs.CreateFilesystem(ctx, reiserfs.CreateParams{
		Device:          dev,
		JournalDev:      dev,
		Format:          reiserfs.Format3_6,
		BlockSize:       testBlockSize,
		FSLen:           testFSLen,
		Hash:            reiserfs.HashR5,
		JournalLen:      testJournal,
		JournalMaxTrans: reiserfs.JournalDefaultMaxTrans,
		Label:           "test-label",
		Now:             time.Unix(1700000000, 0),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close(ctx) })
	return fs, dev
}

func TestCreateFilesystemThenOpen(t *testing.T) {
	t.Parallel()
	fs, dev := createTestFilesystem(t)
	ctx := dlog.NewTestContext(t, false)

	assert.Equal(t, uint32(testFSLen), fs.Size())
	assert.True(t, fs.IsConsistent())
	assert.Less(t, uint32(0), fs.FreeSize())

	require.NoError(t, fs.Close(ctx))

	reopened, err := reiserfs.OpenFilesystem(ctx, reiserfs.OpenParams{
		Device:     dev,
		JournalDev: dev,
		WithBitmap: true,
	})
	require.NoError(t, err)
	defer reopened.Close(ctx)

	assert.Equal(t, uint32(testFSLen), reopened.Size())
	assert.Equal(t, fs.FreeSize(), reopened.FreeSize())
	assert.True(t, reopened.IsConsistent())
}

func TestCreateFilesystemRejectsUndersizedDevice(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dev := diskio.NewMemDevice("tiny", testBlockSize, 10)

	_, err := reiserfs.CreateFilesystem(ctx, reiserfs.CreateParams{
		Device:     dev,
		JournalDev: dev,
		Format:     reiserfs.Format3_6,
		BlockSize:  testBlockSize,
		FSLen:      10,
		Hash:       reiserfs.HashR5,
		JournalLen: testJournal,
	})
	assert.Error(t, err)
}

func TestCreateFilesystemRejectsBadBlockSize(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dev := diskio.NewMemDevice("test", testBlockSize, testFSLen)

	_, err := reiserfs.CreateFilesystem(ctx, reiserfs.CreateParams{
		Device:     dev,
		JournalDev: dev,
		Format:     reiserfs.Format3_6,
		BlockSize:  1000,
		FSLen:      testFSLen,
		Hash:       reiserfs.HashR5,
		JournalLen: testJournal,
	})
	assert.Error(t, err)
}

func TestSetLabelAndUUID(t *testing.T) {
	t.Parallel()
	fs, _ := createTestFilesystem(t)

	fs.SetLabel("renamed")
	uuid := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	fs.SetUUID(uuid)

	var wantLabel [16]byte
	copy(wantLabel[:], "renamed")
	assert.Equal(t, wantLabel, fs.Superblock().Label)
	assert.Equal(t, uuid, fs.Superblock().UUID)
}
