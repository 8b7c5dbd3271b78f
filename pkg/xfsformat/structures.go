// Package xfsformat describes the on-disk layout of the allocation-group
// structured, extent-based filesystem format the scanner understands:
// magic numbers, header structures, and B+tree record shapes. Nothing in
// this package touches a device; it only decodes bytes that pkg/blockio
// has already fetched.
package xfsformat

const (
	SBMagic   = 0x58465342 // "XFSB"
	AGFMagic  = 0x58414746 // "XAGF"
	AGIMagic  = 0x58414749 // "XAGI"
	AGFLMagic = 0x5841464c // "XAFL" (CRC, v5; non-CRC AGFL carries no magic)

	// AGFLHeaderSizeCRC is the v5 AGFL block's header size before its
	// array of free-list AG-block numbers begins; non-CRC filesystems
	// have no such header and the array starts at offset 0.
	AGFLHeaderSizeCRC = 36

	// Freespace-by-offset / freespace-by-count short B+trees.
	ABTBMagic    = 0x41425442 // "ABTB" (non-CRC)
	ABTBMagicCRC = 0x41423342 // "AB3B" (CRC, v5)
	ABTCMagic    = 0x41425443 // "ABTC" (non-CRC)
	ABTCMagicCRC = 0x41423343 // "AB3C" (CRC, v5)

	// Allocation inode tree / free-inode tree short B+trees.
	IBTMagic     = 0x49414254 // "IABT" (non-CRC)
	IBTMagicCRC  = 0x49414233 // "IAB3" (CRC, v5)
	FIBTMagic    = 0x46494254 // "FIBT" (non-CRC)
	FIBTMagicCRC = 0x46494233 // "FIB3" (CRC, v5)

	// Per-inode extent (bmbt) long B+tree.
	BMAPMagic    = 0x424d4150 // "BMAP" (non-CRC)
	BMAPMagicCRC = 0x424d4133 // "BMA3" (CRC, v5)

	InodeMagic = 0x494e // "IN"

	InodeFormatDev     = 0
	InodeFormatLocal   = 1
	InodeFormatExtents = 2
	InodeFormatBTree   = 3

	// Version2LazySBCountBit indicates the superblock carries lazily
	// maintained AGF/AGI counters, which relaxes the agf_btreeblks
	// cross-check (see pkg/xfsrepair's AG scanner).
	Version2LazySBCountBit = 0x00000002
	Version2CRCBit         = 0x00000100

	// RoCompatFinobtBit (MoreFeatures) and IncompatSpInodesBit
	// (BadFeatures) gate the free-inode btree and sparse inode chunks
	// respectively; both only mean anything on a CRC-bearing filesystem.
	RoCompatFinobtBit   = 0x00000004
	IncompatSpInodesBit = 0x00000004

	// NullAGBlock is the short-pointer sentinel for "no sibling" /
	// "no such block".
	NullAGBlock uint32 = 0xFFFFFFFF
	// NullBlock is the long-pointer equivalent.
	NullBlock uint64 = 0xFFFFFFFFFFFFFFFF
)

// SuperBlock is the filesystem superblock, replicated (read-only) at the
// start of every AG.
type SuperBlock struct {
	MagicNumber                     uint32   // 0
	BlockSize                       uint32   // 4
	DataBlocks                      uint64   // 8
	RealtimeBlocks                  uint64   // 16
	RealtimeExtents                 uint64   // 24
	UUID                             [16]byte // 32
	LogStart                        uint64   // 48
	RootInode                       uint64   // 56
	RealtimeBitmapInode             uint64   // 64
	RealtimeSummaryInode            uint64   // 72
	RealtimeExtentBlocks            uint32   // 80
	AGBlocks                        uint32   // 84
	AGCount                         uint32   // 88
	RealtimeBitmapBlocks            uint32   // 92
	LogBlocks                       uint32   // 96
	VersionNum                      uint16   // 100
	SectorSize                      uint16   // 102
	InodeSize                       uint16   // 104
	InodesPerBlock                  uint16   // 106
	FSName                          [12]byte // 108
	BlockSizeLogarithmic            uint8    // 120
	SectorSizeLogarithmic           uint8    // 121
	InodeSizeLogarithmic            uint8    // 122
	InodesPerBlockLogarithmic       uint8    // 123
	AGBlocksLogarithmic             uint8    // 124
	RealtimeExtentBlocksLogarithmic uint8    // 125
	InProgress                      uint8    // 126
	InodesMaxPercentage             uint8    // 127
	InodesAllocated                 uint64   // 128
	InodesFree                      uint64   // 136
	DataFree                        uint64   // 144
	RealtimeExtentsFree             uint64   // 152
	UserQuotasInode                 uint64   // 160
	GroupQuotasInode                uint64   // 168
	QuotaFlags                      uint16   // 176
	MiscFlags                       uint8    // 178
	SharedVN                        uint8    // 179
	InodeChunkAlignment             uint32   // 180
	StripeUnitBlocks                uint32   // 184
	StripeWidthBlocks               uint32   // 188
	DirectoryBlocksLogarithmic      uint8    // 192
	LogSectorSizeLogarithmic        uint8    // 193
	LogSectorSize                   uint16   // 194
	LogStripeUnit                   uint32   // 196
	MoreFeatures                    uint32   // 200
	BadFeatures                     uint32   // 204
	Features2                       uint32   // 208, holds Version2* bits on v5
}

// HasLazySBCount reports whether AGF/AGI counters are maintained lazily,
// which the AG scanner's accounting cross-check must take into account.
func (sb *SuperBlock) HasLazySBCount() bool {
	return sb.Features2&Version2LazySBCountBit != 0
}

// HasCRC reports whether this is a v5, CRC-bearing filesystem.
func (sb *SuperBlock) HasCRC() bool {
	return sb.Features2&Version2CRCBit != 0
}

// HasFinobt reports whether the AGI carries a free-inode btree
// alongside the allocation inode btree.
func (sb *SuperBlock) HasFinobt() bool {
	return sb.HasCRC() && sb.MoreFeatures&RoCompatFinobtBit != 0
}

// HasSparseInodes reports whether inode chunk records may carry holes
// (a non-zero hole mask) instead of always describing 64 contiguous
// inodes.
func (sb *SuperBlock) HasSparseInodes() bool {
	return sb.HasCRC() && sb.BadFeatures&IncompatSpInodesBit != 0
}

// AGF is the per-AG freespace header.
type AGF struct {
	Magic       uint32    // 0
	Version     uint32    // 4
	SeqNo       uint32    // 8
	Length      uint32    // 12
	Roots       [2]uint32 // 16, indexed by TreeBNO / TreeCNT
	Spare0      uint32    // 24
	Levels      [2]uint32 // 28
	Spare1      uint32    // 36
	FLFirst     uint32    // 40
	FLLast      uint32    // 44
	FLCount     uint32    // 48
	FreeBlocks  uint32    // 52
	Longest     uint32    // 56
	BTreeBlocks uint32    // 60
}

// Freespace tree indices into AGF.Roots / AGF.Levels.
const (
	TreeBNO = 0 // freespace-by-offset
	TreeCNT = 1 // freespace-by-count
)

// AGI is the per-AG inode header.
type AGI struct {
	Magic     uint32     // 0
	Version   uint32     // 4
	SeqNo     uint32     // 8
	Length    uint32     // 12
	Count     uint32     // 16
	Root      uint32     // 20
	Level     uint32     // 24
	FreeCount uint32     // 28
	NewIno    uint32     // 32
	DirIno    uint32     // 36
	Unlinked  [64]uint32 // 40
	FreeRoot  uint32     // free-inode tree root; zero if absent
	FreeLevel uint32
}

// ShortBtreeHeader is the AG-local ("short pointer") B+tree node header
// shared by the freespace and inode B+trees on a non-CRC filesystem.
type ShortBtreeHeader struct {
	Magic    uint32 // 0
	Level    uint16 // 4
	NumRecs  uint16 // 6
	LeftSib  uint32 // 8
	RightSib uint32 // 12
}

// ShortBtreeHeaderCRC is the v5 variant, self-describing enough for the
// buffer gateway's verifier to confirm the block thinks it is what the
// caller asked for.
type ShortBtreeHeaderCRC struct {
	ShortBtreeHeader
	BlkNo uint64 // AG-relative block number of this node
	LSN   uint64
	CRC   uint32
	UUID  [16]byte
	Owner uint32 // owning AG number
}

// LongBtreeHeader is the file-extent ("long pointer") B+tree node
// header as decoded by DecodeLongHeader: the common fields are always
// populated, BlkNo/UUID/Owner only when the filesystem is CRC-bearing
// (they stay zero otherwise).
type LongBtreeHeader struct {
	Magic    uint32 // 0
	Level    uint16 // 4
	NumRecs  uint16 // 6
	LeftSib  uint64 // 8
	RightSib uint64 // 16
	BlkNo    uint64 // 24, CRC variant only: this node's own block number
	UUID     [16]byte
	Owner    uint64
}

// LongBtreeHeaderCRC is the v5 variant: the embedded LongBtreeHeader
// carries BlkNo/UUID/Owner already, so only LSN and CRC are added here.
// Owner is the inode number that owns this extent tree, used by the
// extent-tree visitor's CRC-bearing ownership check.
type LongBtreeHeaderCRC struct {
	LongBtreeHeader
	LSN uint64
	CRC uint32
}

// AllocRecord is a freespace-tree leaf record: a run of AG-blocks.
type AllocRecord struct {
	StartBlock uint32
	BlockCount uint32
}

// AllocKeyPtr is a freespace-tree interior entry: a key plus the
// AG-block of the child it points at.
type AllocKeyPtr struct {
	StartBlock uint32
	Ptr        uint32
}

// InodeRecord is an inobt/finobt leaf record, decoded into a single
// shape regardless of whether the on-disk record used the sparse
// (holemask/count/freecount) or legacy (32-bit freecount) layout.
type InodeRecord struct {
	StartIno  uint32
	HoleMask  uint16 // 0 when the record came from a non-sparse filesystem
	Count     uint8  // valid (non-hole) inode count; 64 when non-sparse
	FreeCount uint8
	Free      uint64 // bit N set means inode N of the chunk is free
}

// InodeKeyPtr is an inobt/finobt interior entry.
type InodeKeyPtr struct {
	StartIno uint32
	Ptr      uint32
}

// ChunkSize is the fixed number of inodes tracked by one inode chunk
// record.
const ChunkSize = 64

// Timestamp is an on-disk inode timestamp.
type Timestamp struct {
	Sec  uint32
	NSec uint32
}

// InodeCore is the fixed-size portion of an on-disk inode, trimmed to
// the fields the scanner actually consults (ownership, link count,
// format, extent counts); attribute-fork and literal-area bytes that
// follow it on disk are not modeled here.
type InodeCore struct {
	Magic        uint16    // 0
	Mode         uint16    // 2
	Version      uint8     // 4
	Format       uint8     // 5
	Onlink       uint16    // 6
	UID          uint32    // 8
	GID          uint32    // 12
	Nlink        uint32    // 16
	ProjID       uint16    // 20
	Pad          [8]byte   // 22
	FlushIter    uint16    // 30
	ATime        Timestamp // 32
	MTime        Timestamp // 40
	CTime        Timestamp // 48
	Size         int64     // 56
	NBlocks      uint64    // 64
	ExtSize      uint32    // 72
	NExtents     int32     // 76
	ANExtents    int16     // 80
	ForkOff      uint8     // 82
	AFormat      int8      // 83
	DMevMask     uint32    // 84
	DMState      uint16    // 88
	Flags        uint16    // 90
	Gen          uint32    // 92
	NextUnlinked uint32    // 96
} // 100
