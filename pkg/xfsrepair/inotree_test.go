package xfsrepair

import (
	"context"
	"testing"

	"github.com/vorteil/xfsrepair/internal/rlog"
	"github.com/vorteil/xfsrepair/pkg/blockio"
	"github.com/vorteil/xfsrepair/pkg/inoinv"
	"github.com/vorteil/xfsrepair/pkg/xfsformat"
)

func inodeTestGeometry() *Geometry {
	return &Geometry{
		BlockSize:  512,
		SectorSize: 64,
		AGBlocks:   1000,
		AGCount:    1,
		InodeSize:  64, // 8 inodes/block
		CRC:        false,
	}
}

func buildInodeLeaf(magic uint32, startIno uint32, freeCount uint32, free uint64) []byte {
	data := make([]byte, 16+xfsformat.InodeRecSize)
	putBE32(data[0:4], magic)
	putBE16(data[4:6], 0)
	putBE16(data[6:8], 1)
	putBE32(data[8:12], xfsformat.NullAGBlock)
	putBE32(data[12:16], xfsformat.NullAGBlock)
	putBE32(data[16:20], startIno)
	putBE32(data[20:24], freeCount)
	putBE64(data[24:32], free)
	return data
}

func TestInodeTreeVisitorClaimsAllocChunkBlocks(t *testing.T) {
	geo := inodeTestGeometry()
	gw := newMemGateway(int(geo.SectorSize), false)
	sm := NewStateMap([]uint32{geo.AGBlocks})
	inv := inoinv.New()
	log := &rlog.CLI{}

	data := buildInodeLeaf(xfsformat.IBTMagic, 0, 0, 0)
	gw.putBlock(geo.AGBlockAddr(0, 3), data)

	w := NewInodeTreeWalk(sm, inv, InodeTreeAlloc)
	ok := WalkShortTree(context.Background(), gw, geo, 0, 3, 0, false, true,
		blockio.KindInode, xfsformat.IBTMagic, InodeTreeVisitor(gw, geo, log, InodeTreeAlloc), w)
	if !ok {
		t.Fatal("expected ok=true")
	}

	if w.Accumulator().Count != 64 {
		t.Errorf("Count = %d, want 64", w.Accumulator().Count)
	}
	if w.Accumulator().FreeCount != 0 {
		t.Errorf("FreeCount = %d, want 0", w.Accumulator().FreeCount)
	}
	for blk := uint32(0); blk < 8; blk++ {
		if got := sm.Get(0, blk); got != Ino {
			t.Errorf("block %d state = %s, want INO", blk, got)
		}
	}

	recs := inv.RecordsForAG(0)
	if len(recs) != 1 || recs[0].StartIno != 0 {
		t.Fatalf("expected one imported chunk record starting at 0, got %+v", recs)
	}
}

func TestInodeTreeVisitorTracksFreeInodes(t *testing.T) {
	geo := inodeTestGeometry()
	gw := newMemGateway(int(geo.SectorSize), false)
	sm := NewStateMap([]uint32{geo.AGBlocks})
	inv := inoinv.New()
	log := &rlog.CLI{}

	// Inodes 0 and 1 free (bits 0,1 set); stored free count agrees (2).
	data := buildInodeLeaf(xfsformat.IBTMagic, 0, 2, 0x3)
	gw.putBlock(geo.AGBlockAddr(0, 3), data)

	w := NewInodeTreeWalk(sm, inv, InodeTreeAlloc)
	WalkShortTree(context.Background(), gw, geo, 0, 3, 0, false, true,
		blockio.KindInode, xfsformat.IBTMagic, InodeTreeVisitor(gw, geo, log, InodeTreeAlloc), w)

	if w.Accumulator().FreeCount != 2 {
		t.Errorf("FreeCount = %d, want 2", w.Accumulator().FreeCount)
	}
	if log.Warnings() != 0 {
		t.Errorf("expected no warnings for a self-consistent chunk, got %d", log.Warnings())
	}
}

// TestFreeInodeTreeReusesAllocRecord confirms that a chunk visited by
// both the allocation tree and the free-inode tree - the common case,
// since any chunk with a free inode appears in both - reuses the
// allocation tree's authoritative record instead of filing a second
// one, and that agreement between the two trees produces no warnings.
func TestFreeInodeTreeReusesAllocRecord(t *testing.T) {
	geo := inodeTestGeometry()
	gw := newMemGateway(int(geo.SectorSize), false)
	sm := NewStateMap([]uint32{geo.AGBlocks})
	inv := inoinv.New()
	log := &rlog.CLI{}

	allocData := buildInodeLeaf(xfsformat.IBTMagic, 0, 2, 0x3)
	gw.putBlock(geo.AGBlockAddr(0, 3), allocData)

	ibt := NewInodeTreeWalk(sm, inv, InodeTreeAlloc)
	WalkShortTree(context.Background(), gw, geo, 0, 3, 0, false, true,
		blockio.KindInode, xfsformat.IBTMagic, InodeTreeVisitor(gw, geo, log, InodeTreeAlloc), ibt)

	if log.Warnings() != 0 {
		t.Fatalf("unexpected warnings after the allocation-tree pass: %d", log.Warnings())
	}

	// The free-inode tree lists the same chunk, at a different block,
	// agreeing bit-for-bit with the allocation tree's record.
	finoData := buildInodeLeaf(xfsformat.FIBTMagic, 0, 2, 0x3)
	gw.putBlock(geo.AGBlockAddr(0, 4), finoData)

	finobt := NewInodeTreeWalk(sm, inv, InodeTreeFree)
	WalkShortTree(context.Background(), gw, geo, 0, 4, 0, false, true,
		blockio.KindInode, xfsformat.FIBTMagic, InodeTreeVisitor(gw, geo, log, InodeTreeFree), finobt)

	if log.Warnings() != 0 {
		t.Errorf("expected no warnings when the finobt record agrees with the allocation tree's, got %d", log.Warnings())
	}

	recs := inv.RecordsForAG(0)
	if len(recs) != 1 {
		t.Fatalf("expected the finobt pass to reuse the allocation tree's record rather than filing a second one, got %d records", len(recs))
	}
}

// TestFreeInodeTreeDetectsDivergenceFromAllocRecord confirms the
// divergence check still fires when the finobt record genuinely
// disagrees with the allocation tree's authoritative record for the
// same chunk.
func TestFreeInodeTreeDetectsDivergenceFromAllocRecord(t *testing.T) {
	geo := inodeTestGeometry()
	gw := newMemGateway(int(geo.SectorSize), false)
	sm := NewStateMap([]uint32{geo.AGBlocks})
	inv := inoinv.New()
	log := &rlog.CLI{}

	allocData := buildInodeLeaf(xfsformat.IBTMagic, 0, 2, 0x3)
	gw.putBlock(geo.AGBlockAddr(0, 3), allocData)

	ibt := NewInodeTreeWalk(sm, inv, InodeTreeAlloc)
	WalkShortTree(context.Background(), gw, geo, 0, 3, 0, false, true,
		blockio.KindInode, xfsformat.IBTMagic, InodeTreeVisitor(gw, geo, log, InodeTreeAlloc), ibt)

	// The free-inode tree disagrees: it also claims inode 2 free (bit 2
	// set), which the allocation tree's record does not show.
	finoData := buildInodeLeaf(xfsformat.FIBTMagic, 0, 3, 0x7)
	gw.putBlock(geo.AGBlockAddr(0, 4), finoData)

	finobt := NewInodeTreeWalk(sm, inv, InodeTreeFree)
	WalkShortTree(context.Background(), gw, geo, 0, 4, 0, false, true,
		blockio.KindInode, xfsformat.FIBTMagic, InodeTreeVisitor(gw, geo, log, InodeTreeFree), finobt)

	if finobt.Accumulator().SuspectChunks == 0 {
		t.Error("expected the divergence to be counted as a suspect chunk")
	}
}

func TestCheckChunkAlignmentRejectsMisalignedStart(t *testing.T) {
	geo := inodeTestGeometry()
	// ipb=8 < ChunkSize(64): startIno must be a multiple of 8.
	if !checkChunkAlignment(3, geo) {
		t.Error("expected startIno=3 to fail alignment (not a multiple of inodes-per-block)")
	}
	if checkChunkAlignment(8, geo) {
		t.Error("expected startIno=8 to pass alignment")
	}
}
