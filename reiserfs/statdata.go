package reiserfs

import "github.com/reiserfs-ng/reiserfs-ng/binstruct"

// StatDataV1 is the 32-byte 3.5-format inode metadata item: the body of
// every object's first (stat-data) item when the filesystem was created
// with 16-bit uid/gid and no 64-bit size.
type StatDataV1 struct {
	Mode      binstruct.U16le `bin:"off=0x00,siz=0x2"`
	NLink     binstruct.U16le `bin:"off=0x02,siz=0x2"`
	UID       binstruct.U16le `bin:"off=0x04,siz=0x2"`
	GID       binstruct.U16le `bin:"off=0x06,siz=0x2"`
	Size      binstruct.U32le `bin:"off=0x08,siz=0x4"`
	ATime     binstruct.U32le `bin:"off=0x0c,siz=0x4"`
	MTime     binstruct.U32le `bin:"off=0x10,siz=0x4"`
	CTime     binstruct.U32le `bin:"off=0x14,siz=0x4"`
	// RdevOrBlocks is sd_rdev for device special files, sd_blocks
	// otherwise — which is meaningful is determined by Mode.
	RdevOrBlocks    binstruct.U32le `bin:"off=0x18,siz=0x4"`
	FirstDirectByte binstruct.U32le `bin:"off=0x1c,siz=0x4"`
	binstruct.End   `bin:"off=0x20"`
}

// NoFirstDirectByte is the sentinel FirstDirectByte value meaning "this
// object has no direct-item tail" (all of its data, if any, lives in
// indirect items). Write support never produces any other value (the tree
// has no write path beyond initial root creation), but existing images may
// carry a real one and fsck-adjacent tooling reads it as-is.
const NoFirstDirectByte = 0xffffffff

// StatDataV2 is the 44-byte 3.6-format inode metadata item: wider
// size/nlink/uid/gid fields and an attrs word in place of the v1 layout.
type StatDataV2 struct {
	Mode          binstruct.U16le `bin:"off=0x00,siz=0x2"`
	Attrs         binstruct.U16le `bin:"off=0x02,siz=0x2"`
	NLink         binstruct.U32le `bin:"off=0x04,siz=0x4"`
	Size          binstruct.U64le `bin:"off=0x08,siz=0x8"`
	UID           binstruct.U32le `bin:"off=0x10,siz=0x4"`
	GID           binstruct.U32le `bin:"off=0x14,siz=0x4"`
	ATime         binstruct.U32le `bin:"off=0x18,siz=0x4"`
	MTime         binstruct.U32le `bin:"off=0x1c,siz=0x4"`
	CTime         binstruct.U32le `bin:"off=0x20,siz=0x4"`
	Blocks        binstruct.U32le `bin:"off=0x24,siz=0x4"`
	Rdev          binstruct.U32le `bin:"off=0x28,siz=0x4"`
	binstruct.End `bin:"off=0x2c"`
}

// Stat is the POSIX-like metadata struct §4.10 describes being populated
// from either stat-data format.
type Stat struct {
	Ino     uint32
	Mode    uint16
	NLink   uint32
	UID     uint32
	GID     uint32
	Size    uint64
	ATime   uint32
	MTime   uint32
	CTime   uint32
	Blocks  uint32
	Rdev    uint32
	BlkSize uint32
}

// StatFromV1 fills a Stat from a decoded StatDataV1 item, per §4.10 "stat
// filling".
func StatFromV1(objID uint32, sd StatDataV1, blockSize uint32) Stat {
	return Stat{
		Ino:     objID,
		Mode:    uint16(sd.Mode),
		NLink:   uint32(sd.NLink),
		UID:     uint32(sd.UID),
		GID:     uint32(sd.GID),
		Size:    uint64(sd.Size),
		ATime:   uint32(sd.ATime),
		MTime:   uint32(sd.MTime),
		CTime:   uint32(sd.CTime),
		Blocks:  uint32(sd.RdevOrBlocks),
		Rdev:    uint32(sd.RdevOrBlocks),
		BlkSize: blockSize,
	}
}

// StatFromV2 fills a Stat from a decoded StatDataV2 item.
func StatFromV2(objID uint32, sd StatDataV2, blockSize uint32) Stat {
	return Stat{
		Ino:     objID,
		Mode:    uint16(sd.Mode),
		NLink:   uint32(sd.NLink),
		UID:     uint32(sd.UID),
		GID:     uint32(sd.GID),
		Size:    uint64(sd.Size),
		ATime:   uint32(sd.ATime),
		MTime:   uint32(sd.MTime),
		CTime:   uint32(sd.CTime),
		Blocks:  uint32(sd.Blocks),
		Rdev:    uint32(sd.Rdev),
		BlkSize: blockSize,
	}
}

// POSIX file-type bits used by mode-validation during path resolution
// (§4.10: "validate mode in {reg, dir, lnk}").
const (
	ModeFmtMask = 0o170000
	ModeFmtReg  = 0o100000
	ModeFmtDir  = 0o040000
	ModeFmtLnk  = 0o120000
)

func ModeIsReg(mode uint16) bool { return mode&ModeFmtMask == ModeFmtReg }
func ModeIsDir(mode uint16) bool { return mode&ModeFmtMask == ModeFmtDir }
func ModeIsLnk(mode uint16) bool { return mode&ModeFmtMask == ModeFmtLnk }
