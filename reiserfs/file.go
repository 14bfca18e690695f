package reiserfs

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/reiserfs-ng/reiserfs-ng/diskio"
)

// File is a sequential, seekable reader over a regular file or symlink
// object's data, spread across one direct item (short files, packed into
// the tail of the stat-data's leaf) or a chain of indirect items pointing
// at whole data blocks. Mirrors reiserfs_file_t; there is no write side,
// since the tree has no write path beyond initial creation.
type File struct {
	obj *Object
	dev diskio.Device

	size   uint64
	offset uint64
	// offsetIt indexes the unformatted-block-pointer array of the current
	// indirect item; offsetDt is the byte offset into the current direct
	// item's body. Exactly one is meaningful, depending on which kind of
	// item the current path position addresses.
	offsetIt uint32
	offsetDt uint64
}

// OpenFile resolves name to a regular file or symlink and positions a File
// at its start, mirroring reiserfs_file_open_as.
func OpenFile(ctx context.Context, tree *Tree, dev diskio.Device, hash Hash, name string, asLink bool) (*File, error) {
	obj, err := OpenObject(ctx, tree, hash, name, asLink)
	if err != nil {
		return nil, err
	}
	if !obj.IsReg() && !obj.IsLnk() {
		return nil, fmt.Errorf("reiserfs: file: %q isn't a regular file or link", name)
	}
	f := &File{obj: obj, dev: dev, size: obj.Stat.Size}
	if err := f.Rewind(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Size() uint64   { return f.size }
func (f *File) Offset() uint64 { return f.offset }
func (f *File) Inode() uint32  { return f.obj.Key().ObjID }
func (f *File) Stat() Stat     { return f.obj.Stat }

// Rewind repositions the file at its first byte, choosing the direct or
// indirect item type its size implies, mirroring reiserfs_file_rewind.
func (f *File) Rewind(ctx context.Context) error {
	typ := ItemDirect
	if f.size > uint64(MaxDirectItemLen(f.dev.BlockSize())) {
		typ = ItemIndirect
	}
	found, err := f.obj.SeekByOffset(ctx, 1, typ, CompareFour)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("reiserfs: file: couldn't find first block")
	}
	f.offset = 0
	f.offsetDt = 0
	f.offsetIt = 0
	return nil
}

// Seek repositions the file at offset, re-descending the tree to find the
// item that owns it. It reports false (with no error) once offset reaches
// the end of the file or lands outside this object's own items — the
// caller-visible end-of-data signal reiserfs_file_seek's return value
// doubles as. Mirrors reiserfs_file_seek.
func (f *File) Seek(ctx context.Context, offset uint64) (bool, error) {
	if offset >= f.size {
		return false, nil
	}
	frame, ok := f.obj.Path().Leaf()
	if !ok || frame.Pos >= len(frame.Node.ItemHeads) {
		return false, fmt.Errorf("reiserfs: file: seek: no current item")
	}
	curIH := frame.Node.ItemHeads[frame.Pos]
	if f.offsetIt >= unformattedCount(curIH) {
		return false, nil
	}

	found, err := f.obj.SeekByOffset(ctx, offset+1, ItemStatData, CompareThree)
	if err != nil {
		return false, err
	}
	if !found {
		f.obj.Path().RetreatLast()
	}
	frame, ok = f.obj.Path().Leaf()
	if !ok || frame.Pos < 0 || frame.Pos >= len(frame.Node.ItemHeads) {
		return false, fmt.Errorf("reiserfs: file: seek: position out of range")
	}
	ih := frame.Node.ItemHeads[frame.Pos]

	if CompareTwo(ih.Key, f.obj.Key()) != 0 {
		return false, nil
	}

	f.offset = offset
	var delta uint64
	if itemOffset := ih.Key.Offset(); offset > itemOffset {
		delta = offset - itemOffset
	}
	bs := uint64(f.dev.BlockSize())
	f.offsetIt = uint32(delta / bs)
	f.offsetDt = delta
	return true, nil
}

func unformattedCount(ih ItemHead) uint32 { return uint32(uint16(ih.ItemLen)) / 4 }

// Read fills buf with up to len(buf) bytes starting at the current offset,
// advancing it, mirroring reiserfs_file_read's seek-then-read-one-item
// loop.
func (f *File) Read(ctx context.Context, buf []byte) (int, error) {
	if f.offset >= f.size {
		return 0, nil
	}
	read := 0
	for read < len(buf) {
		ok, err := f.Seek(ctx, f.offset)
		if err != nil {
			return read, err
		}
		if !ok {
			break
		}
		n, err := f.readItem(ctx, buf[read:])
		if err != nil {
			return read, err
		}
		if n == 0 {
			break
		}
		read += n
	}
	return read, nil
}

func (f *File) readItem(ctx context.Context, buf []byte) (int, error) {
	frame, ok := f.obj.Path().Leaf()
	if !ok || frame.Pos >= len(frame.Node.ItemHeads) {
		return 0, fmt.Errorf("reiserfs: file: read: no current item")
	}
	ih := frame.Node.ItemHeads[frame.Pos]
	if ih.IsDirect() {
		return f.readDirect(frame.Node, frame.Pos, buf)
	}
	return f.readIndirect(ctx, frame.Node, frame.Pos, buf)
}

// readDirect copies as much of the current direct item's tail as fits in
// buf, mirroring reiserfs_file_read_direct.
func (f *File) readDirect(leaf *Node, pos int, buf []byte) (int, error) {
	ih := leaf.ItemHeads[pos]
	body, err := leaf.ItemBody(pos)
	if err != nil {
		return 0, err
	}
	avail := uint64(uint16(ih.ItemLen)) - f.offsetDt
	if avail == 0 {
		return 0, nil
	}
	chunk := avail
	if chunk > uint64(len(buf)) {
		chunk = uint64(len(buf))
	}
	n := copy(buf, body[f.offsetDt:f.offsetDt+chunk])
	f.offset += uint64(n)
	f.offsetDt += uint64(n)
	return n, nil
}

func (f *File) readIndirect(ctx context.Context, leaf *Node, pos int, buf []byte) (int, error) {
	ih := leaf.ItemHeads[pos]
	body, err := leaf.ItemBody(pos)
	if err != nil {
		return 0, err
	}
	unfmNr := unformattedCount(ih)
	bs := f.dev.BlockSize()
	read := 0
	for ; f.offsetIt < unfmNr && read < len(buf); f.offsetIt++ {
		blkNr := binary.LittleEndian.Uint32(body[f.offsetIt*4 : f.offsetIt*4+4])
		if blkNr == 0 {
			continue
		}
		blkBuf := make([]byte, bs)
		if err := f.dev.ReadBlock(ctx, diskio.BlockAddr(blkNr), blkBuf); err != nil {
			return read, fmt.Errorf("reiserfs: file: read block %d: %w", blkNr, err)
		}
		off := f.offset % uint64(bs)
		chunk := uint64(bs) - off
		if chunk > uint64(len(buf)-read) {
			chunk = uint64(len(buf) - read)
		}
		copy(buf[read:], blkBuf[off:off+chunk])
		read += int(chunk)
		f.offset += chunk
	}
	return read, nil
}
