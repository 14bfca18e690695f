package oidmap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reiserfs-ng/reiserfs-ng/internal/oidmap"
)

func TestEmptyMap(t *testing.T) {
	t.Parallel()
	m := oidmap.NewEmpty(16)
	assert.False(t, m.Test(1))
	assert.False(t, m.Test(0))
}

func TestUseInsertsFreshExtent(t *testing.T) {
	t.Parallel()
	m := oidmap.NewEmpty(16)
	assert.True(t, m.Use(10))
	assert.True(t, m.Test(10))
	assert.False(t, m.Test(9))
	assert.False(t, m.Test(11))
	assert.Equal(t, []uint32{10, 11}, m.Extents)
}

func TestUseGrowsExtentRight(t *testing.T) {
	t.Parallel()
	m := oidmap.New([]uint32{10, 11}, 16)
	assert.True(t, m.Use(10))
	assert.True(t, m.Use(11))
	assert.Equal(t, []uint32{10, 12}, m.Extents)
	assert.True(t, m.Test(11))
}

func TestUseGrowsExtentLeft(t *testing.T) {
	t.Parallel()
	m := oidmap.New([]uint32{10, 11}, 16)
	assert.True(t, m.Use(9))
	assert.Equal(t, []uint32{9, 11}, m.Extents)
}

func TestUseMergesAdjacentExtents(t *testing.T) {
	t.Parallel()
	m := oidmap.New([]uint32{1, 2, 3, 4}, 16)
	assert.True(t, m.Use(2))
	assert.Equal(t, []uint32{1, 4}, m.Extents)
	assert.True(t, m.Test(2))
	assert.True(t, m.Test(3))
}

func TestUseIsIdempotent(t *testing.T) {
	t.Parallel()
	m := oidmap.New([]uint32{1, 2, 3, 4}, 16)
	before := append([]uint32(nil), m.Extents...)
	assert.True(t, m.Use(1))
	assert.True(t, m.Use(3))
	assert.Equal(t, before, m.Extents)
}

func TestUseInsertsNewDisjointExtent(t *testing.T) {
	t.Parallel()
	m := oidmap.New([]uint32{1, 2, 10, 11}, 16)
	assert.True(t, m.Use(5))
	assert.Equal(t, []uint32{1, 2, 5, 6, 10, 11}, m.Extents)
}

func TestUseAtCapacityWidensNearestExtentInsteadOfInserting(t *testing.T) {
	t.Parallel()
	m := oidmap.New([]uint32{10, 11}, 2)
	assert.True(t, m.Use(5))
	assert.Equal(t, []uint32{5, 11}, m.Extents)
}

func TestUseAppendsWhenBelowCapacity(t *testing.T) {
	t.Parallel()
	m := oidmap.New([]uint32{1, 2}, 4)
	assert.True(t, m.Use(100))
	assert.Equal(t, []uint32{1, 2, 100, 101}, m.Extents)
}

func TestUseExtendsTrailingExtentAtExactCapacity(t *testing.T) {
	t.Parallel()
	m := oidmap.New([]uint32{1, 2}, 2)
	assert.True(t, m.Use(2))
	assert.Equal(t, []uint32{1, 3}, m.Extents)
}
