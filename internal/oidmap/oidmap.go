// Package oidmap tracks which object IDs are in use, the way reiserfs does
// it directly in the superblock: a small sorted list of [start, end)
// extents, each pair of adjacent uint32s describing one run of allocated
// IDs. Looking up an ID is a linear scan of the extents (there are rarely
// more than a handful); inserting a new ID tries to grow an existing
// extent before adding a new one, exactly as reiserfs_object_use does.
package oidmap

import "golang.org/x/exp/slices"

// Map is the decoded form of a superblock's objectid_map:
// Extents[2*i], Extents[2*i+1] is one [start, end) allocated range, sorted
// and non-adjacent (two ranges that would touch are always merged).
type Map struct {
	Extents []uint32
	MaxSize int
}

// New wraps an existing extent list (as read from a superblock's
// objectid_map) without copying or validating it; callers that build a
// fresh map use NewEmpty.
func New(extents []uint32, maxSize int) *Map {
	return &Map{Extents: extents, MaxSize: maxSize}
}

// NewEmpty creates a map with no IDs in use yet.
func NewEmpty(maxSize int) *Map {
	return &Map{Extents: nil, MaxSize: maxSize}
}

// Test reports whether id falls inside any allocated extent, mirroring
// reiserfs_object_test.
func (m *Map) Test(id uint32) bool {
	for i := 0; i+1 < len(m.Extents); i += 2 {
		start, end := m.Extents[i], m.Extents[i+1]
		if id == start || (id > start && id < end) {
			return true
		}
		if id < start {
			break
		}
	}
	return false
}

// Use marks id allocated, growing, merging, or inserting an extent as
// needed, mirroring reiserfs_object_use's in-place array surgery.
func (m *Map) Use(id uint32) bool {
	if m.Test(id) {
		return true
	}

	for i := 0; i+1 < len(m.Extents); i += 2 {
		start, end := m.Extents[i], m.Extents[i+1]

		if id >= start && id < end {
			return true
		}
		if id+1 == start {
			m.Extents[i] = id
			return true
		}
		if id == end {
			m.Extents[i+1] = end + 1
			if i+2 < len(m.Extents) && m.Extents[i+1] == m.Extents[i+2] {
				m.Extents = slices.Delete(m.Extents, i+1, i+3)
			}
			return true
		}
		if id < start {
			if len(m.Extents) >= m.MaxSize {
				m.Extents[i] = id
				return true
			}
			m.Extents = slices.Insert(m.Extents, i, id, id+1)
			return true
		}
	}

	if len(m.Extents) < m.MaxSize {
		m.Extents = append(m.Extents, id, id+1)
		return true
	}
	if len(m.Extents) == m.MaxSize && len(m.Extents) > 0 {
		m.Extents[len(m.Extents)-1] = id + 1
		return true
	}
	return false
}
