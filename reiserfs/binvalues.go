package reiserfs

import "github.com/reiserfs-ng/reiserfs-ng/binstruct"

// u16le/u32le/u64le are terse constructors for the packed little-endian
// field types, used when building records in memory (root creation,
// superblock/journal defaults) rather than decoding them off disk.
func u16le(v uint16) binstruct.U16le { return binstruct.U16le(v) }
func u32le(v uint32) binstruct.U32le { return binstruct.U32le(v) }
func u64le(v uint64) binstruct.U64le { return binstruct.U64le(v) }

// putStruct marshals v and copies it into buf at off, panicking only on a
// programmer error (a type with no static size or a broken MarshalBinary),
// never on bad input data — callers always pass fixed-layout types built
// in this package.
func putStruct(buf []byte, off int, v interface{}) {
	bs, err := binstruct.Marshal(v)
	if err != nil {
		panic(err)
	}
	copy(buf[off:], bs)
}
