package xfsrepair

import (
	"context"
	"testing"

	"github.com/vorteil/xfsrepair/internal/rlog"
	"github.com/vorteil/xfsrepair/pkg/blockio"
	"github.com/vorteil/xfsrepair/pkg/xfsformat"
)

func buildFreespaceLeaf(magic uint32, numRecs int, recs [][2]uint32) []byte {
	data := make([]byte, 16+numRecs*xfsformat.AllocRecSize)
	putBE32(data[0:4], magic)
	putBE16(data[4:6], 0)
	putBE16(data[6:8], uint16(numRecs))
	putBE32(data[8:12], xfsformat.NullAGBlock)
	putBE32(data[12:16], xfsformat.NullAGBlock)
	for i, r := range recs {
		off := 16 + i*xfsformat.AllocRecSize
		putBE32(data[off:off+4], r[0])
		putBE32(data[off+4:off+8], r[1])
	}
	return data
}

func TestFreespaceVisitorByOffsetClaimsFree1(t *testing.T) {
	geo := testGeometry()
	gw := newMemGateway(int(geo.SectorSize), false)
	sm := NewStateMap([]uint32{geo.AGBlocks})
	log := &rlog.CLI{}

	data := buildFreespaceLeaf(xfsformat.ABTBMagic, 2, [][2]uint32{{10, 5}, {20, 3}})
	gw.putBlock(geo.AGBlockAddr(0, 7), data)

	w := NewFreespaceWalk(sm, FreespaceByOffset)
	ok := WalkShortTree(context.Background(), gw, geo, 0, 7, 0, false, true,
		blockio.KindFreespace, xfsformat.ABTBMagic, FreespaceVisitor(gw, geo, log, FreespaceByOffset), w)
	if !ok {
		t.Fatal("expected ok=true")
	}
	for _, blk := range []uint32{10, 11, 12, 13, 14, 20, 21, 22} {
		if got := sm.Get(0, blk); got != Free1 {
			t.Errorf("block %d state = %s, want FREE1", blk, got)
		}
	}
}

func TestFreespaceVisitorByCountAccumulatesAndUpgrades(t *testing.T) {
	geo := testGeometry()
	gw := newMemGateway(int(geo.SectorSize), false)
	sm := NewStateMap([]uint32{geo.AGBlocks})
	log := &rlog.CLI{}

	// Seed block 10..14 as FREE1 first, as a real scan would from the
	// by-offset tree, so the by-count pass exercises the FREE1->FREE
	// upgrade rather than starting from UNKNOWN.
	sm.SetExtent(0, 10, 5, Free1)

	data := buildFreespaceLeaf(xfsformat.ABTCMagic, 1, [][2]uint32{{10, 5}})
	gw.putBlock(geo.AGBlockAddr(0, 8), data)

	w := NewFreespaceWalk(sm, FreespaceByCount)
	WalkShortTree(context.Background(), gw, geo, 0, 8, 0, false, true,
		blockio.KindFreespace, xfsformat.ABTCMagic, FreespaceVisitor(gw, geo, log, FreespaceByCount), w)

	if w.Accumulator().FreeBlocks != 5 {
		t.Errorf("FreeBlocks = %d, want 5", w.Accumulator().FreeBlocks)
	}
	if w.Accumulator().Longest != 5 {
		t.Errorf("Longest = %d, want 5", w.Accumulator().Longest)
	}
	for _, blk := range []uint32{10, 11, 12, 13, 14} {
		if got := sm.Get(0, blk); got != Free {
			t.Errorf("block %d state = %s, want FREE after by-count confirmation", blk, got)
		}
	}
}

func buildFreespaceInterior(magic uint32, level uint16, keys, ptrs []uint32) []byte {
	n := len(keys)
	data := make([]byte, 16+n*4+n*4)
	putBE32(data[0:4], magic)
	putBE16(data[4:6], level)
	putBE16(data[6:8], uint16(n))
	putBE32(data[8:12], xfsformat.NullAGBlock)
	putBE32(data[12:16], xfsformat.NullAGBlock)
	for i, k := range keys {
		putBE32(data[16+i*4:16+i*4+4], k)
	}
	for i, p := range ptrs {
		putBE32(data[16+n*4+i*4:16+n*4+i*4+4], p)
	}
	return data
}

// TestFreespaceVisitorCountsNonRootBlocksAsFree confirms that a
// non-root node of the by-count tree contributes to FreeBlocks in
// addition to the leaf-record lengths it sums: those nodes are
// themselves allocated out of the AG's free pool, and agf_freeblks
// counts them alongside the free extents it lists.
func TestFreespaceVisitorCountsNonRootBlocksAsFree(t *testing.T) {
	geo := testGeometry()
	gw := newMemGateway(int(geo.SectorSize), false)
	sm := NewStateMap([]uint32{geo.AGBlocks})
	log := &rlog.CLI{}

	leaf := buildFreespaceLeaf(xfsformat.ABTCMagic, 1, [][2]uint32{{100, 5}})
	gw.putBlock(geo.AGBlockAddr(0, 31), leaf)

	root := buildFreespaceInterior(xfsformat.ABTCMagic, 1, []uint32{100}, []uint32{31})
	gw.putBlock(geo.AGBlockAddr(0, 30), root)

	w := NewFreespaceWalk(sm, FreespaceByCount)
	ok := WalkShortTree(context.Background(), gw, geo, 0, 30, 1, false, true,
		blockio.KindFreespace, xfsformat.ABTCMagic, FreespaceVisitor(gw, geo, log, FreespaceByCount), w)
	if !ok {
		t.Fatalf("expected ok=true, got warnings=%d", log.Warnings())
	}

	// 5 blocks from the leaf's own record, plus 1 for the leaf node
	// itself (a non-root block); the interior root isn't counted.
	if w.Accumulator().FreeBlocks != 6 {
		t.Errorf("FreeBlocks = %d, want 6 (5 free + 1 non-root tree block)", w.Accumulator().FreeBlocks)
	}
	if w.Accumulator().TreeBlocks != 1 {
		t.Errorf("TreeBlocks = %d, want 1", w.Accumulator().TreeBlocks)
	}
}

func TestFreespaceVisitorWarnsOnOutOfOrderRecords(t *testing.T) {
	geo := testGeometry()
	gw := newMemGateway(int(geo.SectorSize), false)
	sm := NewStateMap([]uint32{geo.AGBlocks})
	log := &rlog.CLI{}

	// Second record's start block is not greater than the first's.
	data := buildFreespaceLeaf(xfsformat.ABTBMagic, 2, [][2]uint32{{50, 2}, {10, 2}})
	gw.putBlock(geo.AGBlockAddr(0, 9), data)

	w := NewFreespaceWalk(sm, FreespaceByOffset)
	WalkShortTree(context.Background(), gw, geo, 0, 9, 0, false, true,
		blockio.KindFreespace, xfsformat.ABTBMagic, FreespaceVisitor(gw, geo, log, FreespaceByOffset), w)

	if log.Warnings() == 0 {
		t.Error("expected a warning about out-of-order freespace records")
	}
}
