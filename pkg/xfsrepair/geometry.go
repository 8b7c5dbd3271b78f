package xfsrepair

import (
	"github.com/vorteil/xfsrepair/pkg/blockio"
	"github.com/vorteil/xfsrepair/pkg/xfsformat"
)

// Geometry holds the handful of superblock-derived constants every
// walker and visitor needs to turn an AG-relative or filesystem-wide
// block number into a device address, and to decide which magic
// numbers and record layouts apply.
type Geometry struct {
	BlockSize    uint32 // bytes
	SectorSize   uint32 // bytes
	AGBlocks     uint32 // blocks in a full AG; the last AG may be shorter
	AGCount      uint32
	InodeSize    uint16
	CRC          bool // v5, CRC-bearing filesystem
	SparseInodes bool
	HasFinobt    bool
	LazySBCount  bool
	UUID         [16]byte

	// ChunkAlignBlocks is the inode chunk alignment in AG-blocks when
	// the filesystem is marked inode-aligned; zero disables the check.
	ChunkAlignBlocks uint32

	// AG0LogFirstIno/AG0LogLastIno bound the reserved log
	// pre-allocation region in AG 0, the one place an INUSE_FS block
	// may legitimately transition to INO.
	AG0LogFirstIno uint32
	AG0LogLastIno  uint32
}

// InodesPerBlock is how many on-disk inodes fit in one filesystem
// block.
func (g *Geometry) InodesPerBlock() uint32 {
	return g.BlockSize / uint32(g.InodeSize)
}

// SectorsPerBlock is how many device sectors make up one filesystem
// block.
func (g *Geometry) SectorsPerBlock() uint32 {
	return g.BlockSize / g.SectorSize
}

// AGBlockAddr returns the device address of AG-relative block blk
// within AG ag.
func (g *Geometry) AGBlockAddr(ag int, blk uint32) blockio.Address {
	fsblock := g.FSBlock(ag, blk)
	return blockio.Address{
		Sector:   fsblock * uint64(g.SectorsPerBlock()),
		NSectors: g.SectorsPerBlock(),
	}
}

// FSBlock composes an AG number and AG-relative block into a single
// filesystem-wide ("long pointer") block number.
func (g *Geometry) FSBlock(ag int, agbno uint32) uint64 {
	return uint64(ag)*uint64(g.AGBlocks) + uint64(agbno)
}

// DecomposeFSBlock splits a filesystem-wide block number into its
// owning AG and the AG-relative block within it.
func (g *Geometry) DecomposeFSBlock(fsbno uint64) (ag int, agbno uint32) {
	ag = int(fsbno / uint64(g.AGBlocks))
	agbno = uint32(fsbno % uint64(g.AGBlocks))
	return
}

// AbsoluteInode composes an AG number and an AG-relative inode number
// (as stored in inobt/finobt records) into a filesystem-wide inode
// number, the number CRC-bearing extent trees record as their owner.
func (g *Geometry) AbsoluteInode(ag int, agIno uint32) uint64 {
	perAG := uint64(g.AGBlocks) * uint64(g.InodesPerBlock())
	return uint64(ag)*perAG + uint64(agIno)
}

// FSBlockAddr returns the device address of a filesystem-wide block
// number.
func (g *Geometry) FSBlockAddr(fsbno uint64) blockio.Address {
	return blockio.Address{
		Sector:   fsbno * uint64(g.SectorsPerBlock()),
		NSectors: g.SectorsPerBlock(),
	}
}

// shortHeaderSize and longHeaderSize return the on-disk header size a
// short/long B+tree block reserves before its records begin.
func (g *Geometry) shortHeaderSize() int {
	if g.CRC {
		return 56
	}
	return 16
}

func (g *Geometry) longHeaderSize() int {
	if g.CRC {
		return 72
	}
	return 24
}

// recBounds computes [min, max] record counts for a node given its
// record size, following the standard xfs btree invariant: max is
// however many records fit after the header, min is max/2 (the root
// node is exempt from the minimum).
func recBounds(blockSize uint32, headerSize, recSize int) (min, max int) {
	max = (int(blockSize) - headerSize) / recSize
	min = max / 2
	return
}

func (g *Geometry) AllocRecBounds() (min, max int) {
	return recBounds(g.BlockSize, g.shortHeaderSize(), xfsformat.AllocRecSize)
}

func (g *Geometry) InodeRecBounds() (min, max int) {
	return recBounds(g.BlockSize, g.shortHeaderSize(), xfsformat.InodeRecSize)
}

func (g *Geometry) BmbtRecBounds() (min, max int) {
	return recBounds(g.BlockSize, g.longHeaderSize(), xfsformat.BmbtRecSize)
}
