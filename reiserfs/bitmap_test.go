package reiserfs_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reiserfs-ng/reiserfs-ng/diskio"
	"github.com/reiserfs-ng/reiserfs-ng/reiserfs"
)

func TestBitmapCreateMarksOwnBlocksUsed(t *testing.T) {
	t.Parallel()
	dev := diskio.NewMemDevice("test", 1024, 100)
	b := reiserfs.CreateBitmap(dev, 16, 100)

	used, err := b.Test(16)
	require.NoError(t, err)
	assert.True(t, used, "the bitmap's own start block must be marked used")
	assert.Equal(t, uint32(1), b.Used())
}

func TestBitmapUseUnuseTest(t *testing.T) {
	t.Parallel()
	dev := diskio.NewMemDevice("test", 1024, 100)
	b := reiserfs.CreateBitmap(dev, 16, 100)

	ok, err := b.Test(50)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Use(50))
	ok, err = b.Test(50)
	require.NoError(t, err)
	assert.True(t, ok)

	// using an already-used block is a no-op, not a double count
	before := b.Used()
	require.NoError(t, b.Use(50))
	assert.Equal(t, before, b.Used())

	require.NoError(t, b.Unuse(50))
	ok, err = b.Test(50)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBitmapUseOutOfRange(t *testing.T) {
	t.Parallel()
	dev := diskio.NewMemDevice("test", 1024, 100)
	b := reiserfs.CreateBitmap(dev, 16, 100)

	assert.Error(t, b.Use(100))
	_, err := b.Test(200)
	assert.Error(t, err)
}

func TestBitmapFindFree(t *testing.T) {
	t.Parallel()
	dev := diskio.NewMemDevice("test", 1024, 100)
	b := reiserfs.CreateBitmap(dev, 0, 100)

	for i := uint32(1); i < 10; i++ {
		require.NoError(t, b.Use(i))
	}

	free, ok := b.FindFree(0)
	require.True(t, ok)
	assert.Equal(t, uint32(10), free)

	_, ok = b.FindFree(100)
	assert.False(t, ok)
}

func TestBitmapCalcUsedMatchesCachedCounter(t *testing.T) {
	t.Parallel()
	dev := diskio.NewMemDevice("test", 1024, 100)
	b := reiserfs.CreateBitmap(dev, 0, 100)

	for _, blk := range []uint32{5, 6, 7, 40, 41, 99} {
		require.NoError(t, b.Use(blk))
	}

	assert.Equal(t, b.Used(), b.CalcUsed())
	assert.Equal(t, b.Unused(), b.CalcUnused())
	assert.True(t, b.Check())
}

func TestBitmapSyncThenOpenRoundTrips(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := diskio.NewMemDevice("test", 1024, 100)
	b := reiserfs.CreateBitmap(dev, 0, 100)

	for _, blk := range []uint32{3, 17, 63, 64, 99} {
		require.NoError(t, b.Use(blk))
	}
	require.NoError(t, b.Sync(ctx))

	reopened, err := reiserfs.OpenBitmap(ctx, dev, 0, 100)
	require.NoError(t, err)

	for blk := uint32(0); blk < 100; blk++ {
		want, err := b.Test(blk)
		require.NoError(t, err)
		got, err := reopened.Test(blk)
		require.NoError(t, err)
		assert.Equal(t, want, got, "block %d", blk)
	}
	assert.Equal(t, b.Used(), reopened.Used())
}

func TestBitmapClone(t *testing.T) {
	t.Parallel()
	dev := diskio.NewMemDevice("test", 1024, 100)
	b := reiserfs.CreateBitmap(dev, 0, 100)
	require.NoError(t, b.Use(50))

	c := b.Clone()
	require.NoError(t, c.Use(51))

	ok, err := b.Test(51)
	require.NoError(t, err)
	assert.False(t, ok, "mutating the clone must not affect the original")

	ok, err = c.Test(50)
	require.NoError(t, err)
	assert.True(t, ok, "the clone must carry over blocks used before cloning")
}
