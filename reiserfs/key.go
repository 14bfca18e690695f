package reiserfs

import (
	"encoding/binary"
	"fmt"

	"github.com/reiserfs-ng/reiserfs-ng/binstruct/binutil"
)

// ItemType is the decoded "type" tier of a Key: which of the four item
// kinds (stat-data, indirect, direct, directory) the key addresses.
type ItemType uint8

const (
	ItemStatData ItemType = 0
	ItemIndirect ItemType = 1
	ItemDirect   ItemType = 2
	ItemDirEntry ItemType = 3
	ItemUnknown  ItemType = 15
)

func (t ItemType) String() string {
	switch t {
	case ItemStatData:
		return "stat-data"
	case ItemIndirect:
		return "indirect"
	case ItemDirect:
		return "direct"
	case ItemDirEntry:
		return "direntry"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// v1 keys don't carry a type directly; they carry a "uniqueness" value that
// collides into a handful of well-known constants, one per item type, plus
// a catch-all "unknown" value.
const (
	uniqSD = 0
	uniqDR = 500
	uniqIT = 0xfffffffe
	uniqDT = 0xffffffff
	uniqUN = 555
)

func uniqToType(uniq uint32) ItemType {
	switch uniq {
	case uniqSD:
		return ItemStatData
	case uniqIT:
		return ItemIndirect
	case uniqDT:
		return ItemDirect
	case uniqDR:
		return ItemDirEntry
	default:
		return ItemUnknown
	}
}

func typeToUniq(t ItemType) uint32 {
	switch t {
	case ItemStatData:
		return uniqSD
	case ItemIndirect:
		return uniqIT
	case ItemDirect:
		return uniqDT
	case ItemDirEntry:
		return uniqDR
	default:
		return uniqUN
	}
}

// KeyFormat is the on-disk encoding a Key's offset+type tail uses.
type KeyFormat int

const (
	KeyFormatV1 KeyFormat = iota + 1
	KeyFormatV2
)

func (f KeyFormat) String() string {
	if f == KeyFormatV1 {
		return "v1"
	}
	return "v2"
}

const (
	keyOffsetMaskV2 = 0x0fffffffffffffff
	keyTypeMaskV2   = 0xf000000000000000
)

// Key is the 16-byte packed identifier that totally orders every item in the
// tree: (dirid, objid, offset, type). It has two on-disk encodings that
// overlay the same 8 trailing bytes:
//
//   - v1: offset (u32) followed by a "uniqueness" u32 that encodes the type.
//   - v2: a single u64 whose low 60 bits are the offset and whose top 4
//     bits are the type directly.
//
// A v1-encoded key naturally collides into a v2 top-nibble of 0 or 15
// (because v1's uniqueness constants either have their top four bits clear,
// for stat-data, direntry and unknown (0, 500, 555), or set, for direct and
// indirect (0xffffffff, 0xfffffffe)); the
// decoder uses exactly that collision to tell the two formats apart, mirroring
// the reference implementation's reiserfs_key_format.
type Key struct {
	DirID uint32
	ObjID uint32
	// tail holds the raw little-endian bit pattern of the trailing 8
	// bytes, uninterpreted; Format/Type/Offset decode it on demand so
	// that a key read from disk round-trips byte for byte even when its
	// encoding is ambiguous or foreign.
	tail uint64
}

func (Key) BinaryStaticSize() int { return 16 }

func (k Key) MarshalBinary() ([]byte, error) {
	var buf [16]byte
	binary.LittleEndian.PutUint32(buf[0:4], k.DirID)
	binary.LittleEndian.PutUint32(buf[4:8], k.ObjID)
	binary.LittleEndian.PutUint64(buf[8:16], k.tail)
	return buf[:], nil
}

func (k *Key) UnmarshalBinary(dat []byte) (int, error) {
	if err := binutil.NeedNBytes(dat, 16); err != nil {
		return 0, err
	}
	k.DirID = binary.LittleEndian.Uint32(dat[0:4])
	k.ObjID = binary.LittleEndian.Uint32(dat[4:8])
	k.tail = binary.LittleEndian.Uint64(dat[8:16])
	return 16, nil
}

// NewKeyV1 builds a key using the v1 (offset u32, uniqueness u32) encoding.
func NewKeyV1(dirID, objID, offset uint32, typ ItemType) Key {
	return Key{
		DirID: dirID,
		ObjID: objID,
		tail:  uint64(offset) | uint64(typeToUniq(typ))<<32,
	}
}

// NewKeyV2 builds a key using the v2 (60-bit offset, 4-bit type) encoding.
// typ must be in [1,14]; callers that need type SD or UN must use
// NewKeyV1, since those values are indistinguishable from v1 on decode.
func NewKeyV2(dirID, objID uint32, offset uint64, typ ItemType) Key {
	return Key{
		DirID: dirID,
		ObjID: objID,
		tail:  (offset & keyOffsetMaskV2) | (uint64(typ) << 60),
	}
}

// NewKey builds a key using whichever encoding the given format implies,
// matching reiserfs_key_form.
func NewKey(dirID, objID uint32, offset uint64, typ ItemType, format KeyFormat) Key {
	if format == KeyFormatV1 {
		return NewKeyV1(dirID, objID, uint32(offset), typ)
	}
	return NewKeyV2(dirID, objID, offset, typ)
}

// Format reports which encoding this key's tail decodes as.
func (k Key) Format() KeyFormat {
	v2Type := uint8(k.tail >> 60)
	if v2Type == 0 || v2Type == 15 {
		return KeyFormatV1
	}
	return KeyFormatV2
}

// Type decodes this key's item type tier.
func (k Key) Type() ItemType {
	if k.Format() == KeyFormatV1 {
		uniq := uint32(k.tail >> 32)
		return uniqToType(uniq)
	}
	return ItemType(k.tail >> 60)
}

// Offset decodes this key's offset tier.
func (k Key) Offset() uint64 {
	if k.Format() == KeyFormatV1 {
		return uint64(uint32(k.tail))
	}
	return k.tail & keyOffsetMaskV2
}

func (k Key) String() string {
	return fmt.Sprintf("[%d %d %d %s]", k.DirID, k.ObjID, k.Offset(), k.Type())
}

// CompareDirs compares only the dirid tier.
func CompareDirs(a, b Key) int {
	switch {
	case a.DirID < b.DirID:
		return -1
	case a.DirID > b.DirID:
		return 1
	default:
		return 0
	}
}

// CompareObjects compares only the objid tier.
func CompareObjects(a, b Key) int {
	switch {
	case a.ObjID < b.ObjID:
		return -1
	case a.ObjID > b.ObjID:
		return 1
	default:
		return 0
	}
}

// CompareTwo compares dirid then objid.
func CompareTwo(a, b Key) int {
	if c := CompareDirs(a, b); c != 0 {
		return c
	}
	return CompareObjects(a, b)
}

// CompareThree compares dirid, objid, then offset.
func CompareThree(a, b Key) int {
	if c := CompareTwo(a, b); c != 0 {
		return c
	}
	ao, bo := a.Offset(), b.Offset()
	switch {
	case ao < bo:
		return -1
	case ao > bo:
		return 1
	default:
		return 0
	}
}

// CompareFour compares dirid, objid, offset, then type: the canonical total
// order that items in a node must respect (invariant K1).
func CompareFour(a, b Key) int {
	if c := CompareThree(a, b); c != 0 {
		return c
	}
	at, bt := a.Type(), b.Type()
	switch {
	case at < bt:
		return -1
	case at > bt:
		return 1
	default:
		return 0
	}
}

// Comparator is one of the four tiered key comparators; tree searches pick
// the tier they need.
type Comparator func(a, b Key) int

const (
	// RootDirID and RootObjID identify the filesystem root object
	// (invariant O1).
	RootDirID = 1
	RootObjID = 2
)
