package diskio_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reiserfs-ng/reiserfs-ng/diskio"
)

func TestMemDeviceReadWriteBlock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := diskio.NewMemDevice("test", 1024, 4)

	n, err := dev.Len()
	require.NoError(t, err)
	assert.Equal(t, diskio.BlockAddr(4), n)

	want := make([]byte, 1024)
	for i := range want {
		want[i] = byte(i)
	}
	require.NoError(t, dev.WriteBlock(ctx, 2, want))

	got := make([]byte, 1024)
	require.NoError(t, dev.ReadBlock(ctx, 2, got))
	assert.Equal(t, want, got)

	other := make([]byte, 1024)
	require.NoError(t, dev.ReadBlock(ctx, 0, other))
	assert.Zero(t, other[0])
}

func TestMemDeviceOutOfRangeBlock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := diskio.NewMemDevice("test", 1024, 2)

	buf := make([]byte, 1024)
	assert.Error(t, dev.ReadBlock(ctx, 5, buf))
	assert.Error(t, dev.WriteBlock(ctx, 5, buf))
}

func TestMemDeviceGrowAndShrink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := diskio.NewMemDevice("test", 512, 2)

	dev.Grow(4)
	n, err := dev.Len()
	require.NoError(t, err)
	assert.Equal(t, diskio.BlockAddr(4), n)

	buf := make([]byte, 512)
	assert.NoError(t, dev.ReadBlock(ctx, 3, buf))

	dev.Grow(1)
	n, err = dev.Len()
	require.NoError(t, err)
	assert.Equal(t, diskio.BlockAddr(1), n)
	assert.Error(t, dev.ReadBlock(ctx, 1, buf))
}

func TestMemDeviceEqual(t *testing.T) {
	t.Parallel()
	a := diskio.NewMemDevice("a", 512, 1)
	b := diskio.NewMemDevice("b", 512, 1)

	assert.True(t, a.Equal(a))
	assert.False(t, a.Equal(b))
}

func TestMemDeviceSetBlockSizeRejectsNonPowerOfTwo(t *testing.T) {
	t.Parallel()
	dev := diskio.NewMemDevice("test", 1024, 1)
	assert.Error(t, dev.SetBlockSize(1000))
	assert.NoError(t, dev.SetBlockSize(4096))
	assert.Equal(t, uint32(4096), dev.BlockSize())
}
