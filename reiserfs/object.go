package reiserfs

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/reiserfs-ng/reiserfs-ng/binstruct"
)

// Object is a resolved filesystem entry: a key plus its decoded stat-data,
// reachable by walking a Tree from the root. It mirrors reiserfs_object_t,
// minus the OS-process notion of a current working directory — every
// lookup here is relative to the filesystem root, never a caller's cwd.
type Object struct {
	tree *Tree
	hash Hash

	key  Key
	path Path
	Stat Stat
}

func (o *Object) Key() Key    { return o.key }
func (o *Object) Path() *Path { return &o.path }

func (o *Object) IsReg() bool { return ModeIsReg(o.Stat.Mode) }
func (o *Object) IsDir() bool { return ModeIsDir(o.Stat.Mode) }
func (o *Object) IsLnk() bool { return ModeIsLnk(o.Stat.Mode) }

// MaxDirectItemLen bounds the body length of a direct item holding a
// symlink target, mirroring MAX_DIRECT_ITEM_LEN: a block's usable space
// once a node header, a stat-data item head and body, and the following
// direct item's own head are subtracted.
func MaxDirectItemLen(blockSize uint32) int {
	const ihSize = 24 // binstruct.StaticSize(ItemHead{})
	const sdV1Size = 32
	return int(blockSize) - 24 /*NodeHeader*/ - 2*ihSize - sdV1Size - 4
}

// SeekByOffset repositions this object's key to (offset, typ) within its
// own (dirid, objid) and descends to the owning leaf under cmp, recording
// the descent in o.Path(). Mirrors reiserfs_object_seek_by_offset.
func (o *Object) SeekByOffset(ctx context.Context, offset uint64, typ ItemType, cmp Comparator) (bool, error) {
	o.key = NewKey(o.key.DirID, o.key.ObjID, offset, typ, o.tree.sb.KeyFormat())
	return o.tree.LookupLeaf(ctx, o.tree.Root(), cmp, o.key, &o.path)
}

func decodeStat(objID uint32, format uint16, body []byte, blockSize uint32) (Stat, error) {
	if format == ItemFormat2 {
		var sd StatDataV2
		if _, err := binstruct.Unmarshal(body, &sd); err != nil {
			return Stat{}, fmt.Errorf("reiserfs: object: stat-data v2: %w", err)
		}
		return StatFromV2(objID, sd, blockSize), nil
	}
	var sd StatDataV1
	if _, err := binstruct.Unmarshal(body, &sd); err != nil {
		return Stat{}, fmt.Errorf("reiserfs: object: stat-data v1: %w", err)
	}
	return StatFromV1(objID, sd, blockSize), nil
}

// FindStat locates this object's stat-data item and decodes it into Stat,
// mirroring reiserfs_object_find_stat / object_fill_stat.
func (o *Object) FindStat(ctx context.Context) error {
	found, err := o.SeekByOffset(ctx, sdOffset, ItemStatData, CompareFour)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("reiserfs: object: couldn't find stat data of object (%d %d)", o.key.DirID, o.key.ObjID)
	}
	frame, ok := o.path.Leaf()
	if !ok || frame.Pos >= len(frame.Node.ItemHeads) {
		return fmt.Errorf("reiserfs: object: stat data lookup did not settle on an item")
	}
	ih := frame.Node.ItemHeads[frame.Pos]
	body, err := frame.Node.ItemBody(frame.Pos)
	if err != nil {
		return err
	}
	stat, err := decodeStat(o.key.ObjID, uint16(ih.Format), body, o.tree.dev.BlockSize())
	if err != nil {
		return err
	}
	o.Stat = stat
	return nil
}

// readLink returns the symlink target stored in the direct item that
// follows a stat-data item at leaf position pos, mirroring
// reiserfs_object_link.
func readLink(leaf *Node, pos int) (string, bool, error) {
	if pos+1 >= len(leaf.ItemHeads) {
		return "", false, nil
	}
	ih := leaf.ItemHeads[pos+1]
	if !ih.IsDirect() {
		return "", false, nil
	}
	body, err := leaf.ItemBody(pos + 1)
	if err != nil {
		return "", false, err
	}
	s := string(body)
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return s, true, nil
}

// fastSearchEntries binary-searches a directory item's decoded entries by
// hashed offset, the entry-level counterpart of fastSearchKeys (the
// reference uses the same reiserfs_tools_fast_search routine for both, over
// different element strides).
func fastSearchEntries(entries []DirEntry, hash uint32) (found bool, pos int) {
	if len(entries) == 0 {
		return false, 0
	}
	left, right := 0, len(entries)-1
	for left <= right {
		i := (left + right) / 2
		switch sign(int(int64(uint32(entries[i].Head.Offset)) - int64(hash))) {
		case -1:
			left = i + 1
		case 1:
			if i == 0 {
				return false, left
			}
			right = i - 1
		case 0:
			return true, i
		}
	}
	return false, left
}

// findEntry resolves hash to a child (dirid, objid) inside the directory
// item at leaf position pos, mirroring reiserfs_object_find_entry.
func findEntry(leaf *Node, pos int, hash uint32) (Key, bool, error) {
	if pos < 0 || pos >= len(leaf.ItemHeads) {
		return Key{}, false, fmt.Errorf("reiserfs: object: entry lookup position %d out of range", pos)
	}
	ih := leaf.ItemHeads[pos]
	if !ih.IsDirEntry() {
		return Key{}, false, fmt.Errorf("reiserfs: object: invalid key type %s, expected %s", ih.Key.Type(), ItemDirEntry)
	}
	body, err := leaf.ItemBody(pos)
	if err != nil {
		return Key{}, false, err
	}
	entries, err := DecodeDirEntries(body, int(ih.EntryCount()))
	if err != nil {
		return Key{}, false, err
	}
	found, idx := fastSearchEntries(entries, hash)
	if !found {
		return Key{}, false, nil
	}
	e := entries[idx].Head
	return Key{DirID: uint32(e.DirID), ObjID: uint32(e.ObjID)}, true, nil
}

// FindPath resolves name, a '/'-separated path read relative to the
// filesystem root, advancing o.key component by component and following
// any symlink encountered along the way. asLink leaves a symlink that is
// itself the final path component unresolved (o.key ends up addressing the
// link's own stat-data, not its target's) — used when the caller wants to
// operate on the link itself. Mirrors reiserfs_object_find_path.
func (o *Object) FindPath(ctx context.Context, name string, dirKey Key, asLink bool) error {
	clean := strings.Trim(name, "/")
	var parts []string
	if clean != "" {
		parts = strings.Split(clean, "/")
	}

	i := 0
	for {
		found, err := o.SeekByOffset(ctx, sdOffset, ItemStatData, CompareFour)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("reiserfs: object: couldn't find stat data of directory (%d %d)", o.key.DirID, o.key.ObjID)
		}
		frame, ok := o.path.Leaf()
		if !ok || frame.Pos >= len(frame.Node.ItemHeads) {
			return fmt.Errorf("reiserfs: object: lookup did not settle on an item")
		}
		body, err := frame.Node.ItemBody(frame.Pos)
		if err != nil {
			return err
		}
		if len(body) < 2 {
			return fmt.Errorf("reiserfs: object: stat-data item too short")
		}
		mode := binary.LittleEndian.Uint16(body[0:2])

		switch {
		case ModeIsLnk(mode):
			isTerminator := i == len(parts)
			if !asLink || !isTerminator {
				target, ok, err := readLink(frame.Node, frame.Pos)
				if err != nil {
					return err
				}
				if !ok || target == "" {
					return fmt.Errorf("reiserfs: object: couldn't read link target")
				}
				if strings.HasPrefix(target, "/") {
					o.key = Key{DirID: RootDirID, ObjID: RootObjID}
				} else {
					o.key = Key{DirID: dirKey.DirID, ObjID: dirKey.ObjID}
				}
				if err := o.FindPath(ctx, target, dirKey, true); err != nil {
					return fmt.Errorf("reiserfs: object: couldn't follow link %q: %w", target, err)
				}
			}
		case ModeIsDir(mode), ModeIsReg(mode):
		default:
			return fmt.Errorf("reiserfs: object: invalid object type (mode %#o)", mode)
		}

		dirKey = Key{DirID: o.key.DirID, ObjID: o.key.ObjID}

		if i >= len(parts) {
			break
		}
		comp := parts[i]
		i++
		if comp == "" {
			continue
		}

		hash := HashValue(o.hash, comp)
		found, err = o.SeekByOffset(ctx, uint64(hash), ItemDirEntry, CompareFour)
		if err != nil {
			return err
		}
		if !found {
			o.path.RetreatLast()
		}
		frame, ok = o.path.Leaf()
		if !ok {
			return fmt.Errorf("reiserfs: object: lookup did not settle on a leaf")
		}
		entryKey, ok, err := findEntry(frame.Node, frame.Pos, hash)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("reiserfs: object: couldn't find entry %q", comp)
		}
		o.key = entryKey
	}
	return nil
}

// OpenObject resolves name against the filesystem root, following symlinks,
// and returns the decoded object. Mirrors reiserfs_object_create (which,
// despite the name, opens an existing entry rather than making a new one —
// this format's tree has no write path beyond initial creation).
func OpenObject(ctx context.Context, tree *Tree, hash Hash, name string, asLink bool) (*Object, error) {
	format := tree.sb.KeyFormat()
	o := &Object{
		tree: tree,
		hash: hash,
		key:  NewKey(RootDirID, RootObjID, sdOffset, ItemStatData, format),
	}
	dirKey := NewKey(RootDirID-1, RootObjID-1, sdOffset, ItemStatData, format)

	if err := o.FindPath(ctx, name, dirKey, asLink); err != nil {
		return nil, err
	}
	if err := o.FindStat(ctx); err != nil {
		return nil, err
	}
	return o, nil
}
