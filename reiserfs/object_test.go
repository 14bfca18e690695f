package reiserfs_test

import (
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reiserfs-ng/reiserfs-ng/reiserfs"
)

func TestOpenObjectRoot(t *testing.T) {
	t.Parallel()
	fs, _ := createTestFilesystem(t)
	ctx := dlog.NewTestContext(t, false)

	obj, err := reiserfs.OpenObject(ctx, fs.Tree(), fs.Superblock().Hash(), "", false)
	require.NoError(t, err)

	assert.True(t, obj.IsDir())
	assert.False(t, obj.IsReg())
	assert.False(t, obj.IsLnk())
	assert.Equal(t, uint32(reiserfs.RootDirID), obj.Key().DirID)
	assert.Equal(t, uint32(reiserfs.RootObjID), obj.Key().ObjID)
	assert.Equal(t, uint32(3), obj.Stat.NLink, "fresh root dir starts with nlink 3: itself, '.', and '..'")
}

func TestOpenObjectDot(t *testing.T) {
	t.Parallel()
	fs, _ := createTestFilesystem(t)
	ctx := dlog.NewTestContext(t, false)

	dot, err := reiserfs.OpenObject(ctx, fs.Tree(), fs.Superblock().Hash(), ".", false)
	require.NoError(t, err)
	assert.True(t, dot.IsDir())
}

// The root has no parent: its ".." direntry carries a zero dirid that no
// stat-data item can ever match, so resolving straight through it errors
// rather than silently looping back to the root.
func TestOpenObjectDotDotAboveRootErrors(t *testing.T) {
	t.Parallel()
	fs, _ := createTestFilesystem(t)
	ctx := dlog.NewTestContext(t, false)

	_, err := reiserfs.OpenObject(ctx, fs.Tree(), fs.Superblock().Hash(), "..", false)
	assert.Error(t, err)
}

func TestOpenObjectMissingPathErrors(t *testing.T) {
	t.Parallel()
	fs, _ := createTestFilesystem(t)
	ctx := dlog.NewTestContext(t, false)

	_, err := reiserfs.OpenObject(ctx, fs.Tree(), fs.Superblock().Hash(), "no/such/file", false)
	assert.Error(t, err)
}
