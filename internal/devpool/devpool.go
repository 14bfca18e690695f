// Package devpool pools the backing buffers used to shuttle whole blocks
// between a device and the engine, the way lib/containers.SlicePool pools
// slices in the donor: blocks are read, processed, and discarded constantly
// during a traverse or relocate pass, and reusing the backing array avoids
// handing the allocator a fresh []byte on every single block.
package devpool

import (
	"git.lukeshu.com/go/typedsync"
)

// BlockPool hands out []byte buffers sized to a device's block size. It is
// safe for concurrent use; a zero BlockPool is ready to use.
type BlockPool struct {
	inner typedsync.Pool[[]byte]
}

// Get returns a buffer of exactly size bytes, reusing a previously Put
// buffer when one of sufficient capacity is available.
func (p *BlockPool) Get(size uint32) []byte {
	if size == 0 {
		return nil
	}
	buf, ok := p.inner.Get()
	if ok && cap(buf) >= int(size) {
		return buf[:size]
	}
	return make([]byte, size)
}

// Put returns buf to the pool for reuse. Callers must not touch buf after
// calling Put.
func (p *BlockPool) Put(buf []byte) {
	if buf == nil {
		return
	}
	p.inner.Put(buf)
}
