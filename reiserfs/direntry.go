package reiserfs

import (
	"fmt"

	"github.com/reiserfs-ng/reiserfs-ng/binstruct"
)

// DirEntryHead is one directory-entry header inside a directory item; the
// entry's name is packed from the end of the item, located by Location.
type DirEntryHead struct {
	Offset        binstruct.U32le `bin:"off=0x00,siz=0x4"` // the hashed name, this entry's DR-item offset tier
	DirID         binstruct.U32le `bin:"off=0x04,siz=0x4"`
	ObjID         binstruct.U32le `bin:"off=0x08,siz=0x4"`
	Location      binstruct.U16le `bin:"off=0x0c,siz=0x2"`
	State         binstruct.U16le `bin:"off=0x0e,siz=0x2"`
	binstruct.End `bin:"off=0x10"`
}

// DirEntryVisible is the DE_VISIBLE state bit.
const DirEntryVisible = 1 << 1

func (h DirEntryHead) Visible() bool { return uint16(h.State)&DirEntryVisible != 0 }

// Dot/DotDot offsets: "." always hashes to 1, ".." to 2, regardless of the
// filesystem's configured hash (§4.11).
const (
	DotOffset    = 1
	DotDotOffset = 2
)

// DirEntry pairs a decoded DirEntryHead with its name, sliced directly out
// of the owning item body.
type DirEntry struct {
	Head DirEntryHead
	Name string
}

// DecodeDirEntries decodes every entry in a directory item's body. Entry
// name length is derived from the gap between adjacent entries' Location
// fields (or the item's end, for the first entry, whose name sits last in
// the body), matching the reference's
// "no explicit name length field" layout.
func DecodeDirEntries(body []byte, entryCount int) ([]DirEntry, error) {
	dehSize := binstruct.StaticSize(DirEntryHead{})
	if len(body) < dehSize*entryCount {
		return nil, fmt.Errorf("reiserfs: direntry: body too short for %d entries", entryCount)
	}
	heads := make([]DirEntryHead, entryCount)
	for i := 0; i < entryCount; i++ {
		off := i * dehSize
		if _, err := binstruct.Unmarshal(body[off:off+dehSize], &heads[i]); err != nil {
			return nil, fmt.Errorf("reiserfs: direntry: head %d: %w", i, err)
		}
	}
	entries := make([]DirEntry, entryCount)
	for i, h := range heads {
		nameEnd := len(body)
		if i > 0 {
			nameEnd = int(heads[i-1].Location)
		}
		nameStart := int(h.Location)
		if nameStart < 0 || nameEnd > len(body) || nameStart > nameEnd {
			return nil, fmt.Errorf("reiserfs: direntry: entry %d name range [%d,%d) invalid", i, nameStart, nameEnd)
		}
		name := body[nameStart:nameEnd]
		// Names are NUL-padded to keep structures aligned; trim
		// trailing NULs.
		for len(name) > 0 && name[len(name)-1] == 0 {
			name = name[:len(name)-1]
		}
		entries[i] = DirEntry{Head: h, Name: string(name)}
	}
	return entries, nil
}

// EmptyDirV1Size / EmptyDirV2Size are the exact byte sizes of a freshly
// created root directory item's body (two entries: "." and ".."), for the
// v1 and v2 item-head/entry-head formats respectively. Mirrors
// EMPTY_DIR_V1_SIZE / EMPTY_DIR_V2_SIZE.
func EmptyDirV1Size() int {
	dehSize := binstruct.StaticSize(DirEntryHead{})
	return 2*dehSize + len(".") + len("..")
}

func EmptyDirV2Size() int { return EmptyDirV1Size() }
