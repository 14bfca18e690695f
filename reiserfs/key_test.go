package reiserfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reiserfs-ng/reiserfs-ng/reiserfs"
)

func TestKeyV1RoundTrip(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		DirID, ObjID uint32
		Offset       uint32
		Type         reiserfs.ItemType
	}
	testcases := map[string]TestCase{
		"stat-data": {DirID: 1, ObjID: 2, Offset: 0, Type: reiserfs.ItemStatData},
		"direct":    {DirID: 10, ObjID: 20, Offset: 4096, Type: reiserfs.ItemDirect},
		"indirect":  {DirID: 10, ObjID: 20, Offset: 8192, Type: reiserfs.ItemIndirect},
		"direntry":  {DirID: 1, ObjID: 2, Offset: 0x1234, Type: reiserfs.ItemDirEntry},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			k := reiserfs.NewKeyV1(tc.DirID, tc.ObjID, tc.Offset, tc.Type)
			assert.Equal(t, reiserfs.KeyFormatV1, k.Format())
			assert.Equal(t, tc.Type, k.Type())
			assert.Equal(t, uint64(tc.Offset), k.Offset())

			dat, err := k.MarshalBinary()
			assert.NoError(t, err)
			assert.Len(t, dat, 16)

			var k2 reiserfs.Key
			n, err := k2.UnmarshalBinary(dat)
			assert.NoError(t, err)
			assert.Equal(t, 16, n)
			assert.Equal(t, k, k2)
		})
	}
}

func TestKeyV2RoundTrip(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		DirID, ObjID uint32
		Offset       uint64
		Type         reiserfs.ItemType
	}
	testcases := map[string]TestCase{
		"direct":   {DirID: 10, ObjID: 20, Offset: 1 << 40, Type: reiserfs.ItemDirect},
		"indirect": {DirID: 10, ObjID: 20, Offset: 0, Type: reiserfs.ItemIndirect},
		"direntry": {DirID: 1, ObjID: 2, Offset: 0xdeadbeef, Type: reiserfs.ItemDirEntry},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			k := reiserfs.NewKeyV2(tc.DirID, tc.ObjID, tc.Offset, tc.Type)
			assert.Equal(t, reiserfs.KeyFormatV2, k.Format())
			assert.Equal(t, tc.Type, k.Type())
			assert.Equal(t, tc.Offset, k.Offset())

			dat, err := k.MarshalBinary()
			assert.NoError(t, err)

			var k2 reiserfs.Key
			_, err = k2.UnmarshalBinary(dat)
			assert.NoError(t, err)
			assert.Equal(t, k, k2)
		})
	}
}

func TestKeyCompareFour(t *testing.T) {
	t.Parallel()
	a := reiserfs.NewKeyV1(1, 2, 0, reiserfs.ItemStatData)
	b := reiserfs.NewKeyV1(1, 2, 0, reiserfs.ItemDirect)
	c := reiserfs.NewKeyV1(1, 3, 0, reiserfs.ItemStatData)

	assert.Negative(t, reiserfs.CompareFour(a, b))
	assert.Positive(t, reiserfs.CompareFour(b, a))
	assert.Zero(t, reiserfs.CompareFour(a, a))
	assert.Negative(t, reiserfs.CompareTwo(a, c))
	assert.Zero(t, reiserfs.CompareObjects(a, b))
}

func TestItemTypeString(t *testing.T) {
	t.Parallel()
	testcases := map[string]struct {
		Type reiserfs.ItemType
		Want string
	}{
		"stat-data": {reiserfs.ItemStatData, "stat-data"},
		"indirect":  {reiserfs.ItemIndirect, "indirect"},
		"direct":    {reiserfs.ItemDirect, "direct"},
		"direntry":  {reiserfs.ItemDirEntry, "direntry"},
		"unknown":   {reiserfs.ItemType(7), "unknown(7)"},
	}
	for name, tc := range testcases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.Want, tc.Type.String())
		})
	}
}
