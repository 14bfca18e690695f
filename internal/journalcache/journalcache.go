// Package journalcache bounds the cost of repeated journal read-through
// lookups: a Journal.Read call walks the whole transaction ring to find the
// newest committed copy of a block, and a single cpfs/fsck pass often asks
// about the same home block many times in a row. Cache remembers the most
// recent answers so repeat lookups skip the walk entirely.
package journalcache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/reiserfs-ng/reiserfs-ng/diskio"
)

// Entry is a resolved journal lookup: Found is false when the home block has
// no pending copy in the journal (a cached negative, same as a positive).
type Entry struct {
	JournalBlock diskio.BlockAddr
	Found        bool
}

// Cache maps a home block address to its most recently resolved Entry. A
// zero Cache is usable; use New to pick a capacity other than the default.
type Cache struct {
	initOnce sync.Once
	size     int
	inner    *lru.Cache
}

// New returns a Cache capped at size entries, sized by the caller to the
// journal's own length (§4.5: the ring can't usefully hold more distinct
// pending blocks than it has slots for).
func New(size int) *Cache {
	c := &Cache{size: size}
	c.init()
	return c
}

func (c *Cache) init() {
	c.initOnce.Do(func() {
		size := c.size
		if size <= 0 {
			size = 128
		}
		c.inner, _ = lru.New(size)
	})
}

// Get returns the cached lookup result for home, if any.
func (c *Cache) Get(home diskio.BlockAddr) (Entry, bool) {
	c.init()
	v, ok := c.inner.Get(home)
	if !ok {
		return Entry{}, false
	}
	return v.(Entry), true
}

// Add records the lookup result for home.
func (c *Cache) Add(home diskio.BlockAddr, e Entry) {
	c.init()
	c.inner.Add(home, e)
}

// Purge drops every cached entry, used after a transaction commits or flushes
// and the ring's contents have changed underneath the cache.
func (c *Cache) Purge() {
	c.init()
	c.inner.Purge()
}
