package reiserfs

import "fmt"

// pathFrame is one level of a tree descent: the node visited and the item
// (leaf) or child (internal) position a search settled on within it.
type pathFrame struct {
	Node *Node
	Pos  int
}

// Path is a bounded stack of descent frames, root first, leaf last. Unlike
// a general-purpose tree library's path type, this format's height is
// capped at MaxHeight, so a fixed-capacity slice suffices; there is no need
// for the richer "rebalance in progress" variant a mutating B-tree would
// carry.
type Path struct {
	frames []pathFrame
}

func (p *Path) clear() { p.frames = p.frames[:0] }

func (p *Path) push(n *Node, pos int) error {
	if len(p.frames) >= MaxHeight {
		return fmt.Errorf("reiserfs: path: descent deeper than max height %d", MaxHeight)
	}
	p.frames = append(p.frames, pathFrame{Node: n, Pos: pos})
	return nil
}

// Last returns the most recently pushed frame, i.e. the innermost node
// reached so far.
func (p *Path) Last() (pathFrame, bool) {
	if len(p.frames) == 0 {
		return pathFrame{}, false
	}
	return p.frames[len(p.frames)-1], true
}

// Leaf returns the leaf-node frame a completed leaf lookup settled on.
func (p *Path) Leaf() (pathFrame, bool) {
	f, ok := p.Last()
	if !ok || !f.Node.Header.IsLeaf() {
		return pathFrame{}, false
	}
	return f, true
}

// Frames exposes the full root-to-leaf descent, for callers that need
// ancestry (e.g. dumping a path for diagnostics).
func (p *Path) Frames() []pathFrame { return p.frames }

// RetreatLast steps the innermost frame's position back by one, mirroring
// the reference's "lookup missed the exact key, fall back to the slot
// before it" leaf->pos-- pattern used after an unsuccessful fast search.
func (p *Path) RetreatLast() {
	if n := len(p.frames); n > 0 {
		p.frames[n-1].Pos--
	}
}

func (p *Path) Depth() int { return len(p.frames) }
