package reiserfs_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reiserfs-ng/reiserfs-ng/diskio"
	"github.com/reiserfs-ng/reiserfs-ng/reiserfs"
)

func TestSegmentTestInside(t *testing.T) {
	t.Parallel()
	dev := diskio.NewMemDevice("test", 1024, 100)
	seg := reiserfs.NewSegment(dev, 10, 20)

	assert.Equal(t, uint32(10), seg.Len())
	assert.True(t, seg.TestInside(10))
	assert.True(t, seg.TestInside(19))
	assert.False(t, seg.TestInside(20))
	assert.False(t, seg.TestInside(9))
}

func TestSegmentTestOverlap(t *testing.T) {
	t.Parallel()
	devA := diskio.NewMemDevice("a", 1024, 100)
	devB := diskio.NewMemDevice("b", 1024, 100)

	a := reiserfs.NewSegment(devA, 10, 20)
	b := reiserfs.NewSegment(devA, 15, 25)
	c := reiserfs.NewSegment(devA, 20, 30)
	d := reiserfs.NewSegment(devB, 10, 20)

	assert.True(t, a.TestOverlap(b))
	assert.True(t, b.TestOverlap(a))
	assert.False(t, a.TestOverlap(c), "adjacent, non-overlapping ranges [10,20) and [20,30) must not overlap")
	assert.False(t, a.TestOverlap(d), "segments on different devices never overlap regardless of range")
}

func TestSegmentMoveNonOverlapping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := diskio.NewMemDevice("test", 16, 10)

	for i := diskio.BlockAddr(0); i < 5; i++ {
		buf := make([]byte, 16)
		for j := range buf {
			buf[j] = byte(i) + 1
		}
		require.NoError(t, dev.WriteBlock(ctx, i, buf))
	}

	src := reiserfs.NewSegment(dev, 0, 5)
	dst := reiserfs.NewSegment(dev, 5, 10)

	var seen []uint32
	require.NoError(t, reiserfs.Move(ctx, dst, src, func(idx uint32, buf []byte) error {
		seen = append(seen, idx)
		return nil
	}))
	assert.Equal(t, []uint32{4, 3, 2, 1, 0}, seen)

	for i := diskio.BlockAddr(0); i < 5; i++ {
		want := make([]byte, 16)
		got := make([]byte, 16)
		for j := range want {
			want[j] = byte(i) + 1
		}
		require.NoError(t, dev.ReadBlock(ctx, i+5, got))
		assert.Equal(t, want, got)
	}
}

func TestSegmentMoveLengthMismatchErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := diskio.NewMemDevice("test", 16, 10)

	src := reiserfs.NewSegment(dev, 0, 5)
	dst := reiserfs.NewSegment(dev, 5, 8)

	assert.Error(t, reiserfs.Move(ctx, dst, src, nil))
}

func TestSegmentFill(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := diskio.NewMemDevice("test", 16, 10)
	seg := reiserfs.NewSegment(dev, 2, 5)

	require.NoError(t, reiserfs.Fill(ctx, seg, 0xAB, nil))

	want := make([]byte, 16)
	for i := range want {
		want[i] = 0xAB
	}
	for _, blk := range []diskio.BlockAddr{2, 3, 4} {
		got := make([]byte, 16)
		require.NoError(t, dev.ReadBlock(ctx, blk, got))
		assert.Equal(t, want, got)
	}

	// blocks outside the segment must be untouched.
	untouched := make([]byte, 16)
	require.NoError(t, dev.ReadBlock(ctx, 0, untouched))
	assert.Zero(t, untouched[0])
}
