package xfsrepair

import (
	"context"

	"github.com/vorteil/xfsrepair/internal/rlog"
	"github.com/vorteil/xfsrepair/pkg/blockio"
	"github.com/vorteil/xfsrepair/pkg/xfsformat"
)

// AGResult is one AG's scan outcome: the accounting totals the
// dispatcher folds into the filesystem-wide cross-check against the
// superblock, plus whether the AG had to be abandoned outright.
type AGResult struct {
	AG         int
	Abandoned  bool
	FreeBlocks uint64
	InodeCount uint64
	FreeInodes uint64
}

// ScanAG reads one AG's AGF and AGI headers, walks its AGFL, freespace
// trees, and inode trees, then walks the data fork of every inode the
// inode trees reported as in use. A header I/O failure abandons the
// whole AG; everything else is recorded as a warning and the scan
// continues.
func ScanAG(ctx context.Context, gw blockio.Gateway, geo *Geometry, sm *StateMap, inv Inventory, log rlog.Logger, ag int, modifyMode bool) AGResult {
	res := AGResult{AG: ag}

	agfBuf, err := gw.Read(ctx, geo.AGBlockAddr(ag, 1), blockio.Ops{Kind: blockio.KindAGF, WantMagic: xfsformat.AGFMagic, RequireCRC: geo.CRC})
	if err != nil {
		log.Errorf("ag %d: failed to read AGF: %v", ag, err)
		res.Abandoned = true
		return res
	}
	if agfBuf.Status == blockio.StatusStructInvalid {
		log.Errorf("ag %d: AGF failed its magic check, abandoning AG", ag)
		gw.Release(agfBuf)
		res.Abandoned = true
		return res
	}
	agf := xfsformat.DecodeAGF(agfBuf.Data)
	gw.Release(agfBuf)

	agiBuf, err := gw.Read(ctx, geo.AGBlockAddr(ag, 2), blockio.Ops{Kind: blockio.KindAGI, WantMagic: xfsformat.AGIMagic, RequireCRC: geo.CRC})
	if err != nil {
		log.Errorf("ag %d: failed to read AGI: %v", ag, err)
		res.Abandoned = true
		return res
	}
	if agiBuf.Status == blockio.StatusStructInvalid {
		log.Errorf("ag %d: AGI failed its magic check, abandoning AG", ag)
		gw.Release(agiBuf)
		res.Abandoned = true
		return res
	}
	agi := xfsformat.DecodeAGI(agiBuf.Data)
	gw.Release(agiBuf)

	sm.Set(ag, 0, FSMap) // superblock copy
	sm.Set(ag, 1, FSMap) // AGF
	sm.Set(ag, 2, FSMap) // AGI

	scanAGFL(ctx, gw, geo, sm, log, ag, agf)

	bno := NewFreespaceWalk(sm, FreespaceByOffset)
	WalkShortTree(ctx, gw, geo, ag, agf.Roots[xfsformat.TreeBNO], int(agf.Levels[xfsformat.TreeBNO]), false, true,
		blockio.KindFreespace, FreespaceByOffset.magic(geo.CRC), FreespaceVisitor(gw, geo, log, FreespaceByOffset), bno)

	cnt := NewFreespaceWalk(sm, FreespaceByCount)
	WalkShortTree(ctx, gw, geo, ag, agf.Roots[xfsformat.TreeCNT], int(agf.Levels[xfsformat.TreeCNT]), false, true,
		blockio.KindFreespace, FreespaceByCount.magic(geo.CRC), FreespaceVisitor(gw, geo, log, FreespaceByCount), cnt)

	ibt := NewInodeTreeWalk(sm, inv, InodeTreeAlloc)
	WalkShortTree(ctx, gw, geo, ag, agi.Root, int(agi.Level), false, true,
		blockio.KindInode, InodeTreeAlloc.magic(geo.CRC), InodeTreeVisitor(gw, geo, log, InodeTreeAlloc), ibt)

	var finobt *inodeTreeWalk
	if geo.HasFinobt && agi.FreeRoot != 0 {
		finobt = NewInodeTreeWalk(sm, inv, InodeTreeFree)
		WalkShortTree(ctx, gw, geo, ag, agi.FreeRoot, int(agi.FreeLevel), false, true,
			blockio.KindInode, InodeTreeFree.magic(geo.CRC), InodeTreeVisitor(gw, geo, log, InodeTreeFree), finobt)
	}

	for _, rec := range inv.RecordsForAG(ag) {
		for j := 0; j < 64; j++ {
			if rec.Sparse[j] || rec.Free[j] {
				continue
			}
			agIno := rec.StartIno + uint32(j)
			absIno := geo.AbsoluteInode(ag, agIno)
			if !scanInodeDataFork(ctx, gw, geo, sm, log, ag, agIno, absIno, modifyMode) {
				log.Warnf("ag %d: inode %d's data fork abandoned", ag, agIno)
			}
		}
	}

	res.FreeBlocks = bno.Accumulator().FreeBlocks + cnt.Accumulator().FreeBlocks
	res.InodeCount = uint64(ibt.Accumulator().Count)
	res.FreeInodes = uint64(ibt.Accumulator().FreeCount)

	checkAGCounters(log, ag, agf, agi, cnt.Accumulator(), bno.Accumulator(), ibt.Accumulator(), finobt, geo)

	return res
}

// scanAGFL walks the AG free list, claiming every listed block FREE
// and warning on a flcount mismatch against the number of entries
// actually present between FLFirst and FLLast. An AGF whose flcount
// is 0 has an empty free list, and the AGFL block is not read.
func scanAGFL(ctx context.Context, gw blockio.Gateway, geo *Geometry, sm *StateMap, log rlog.Logger, ag int, agf xfsformat.AGF) {
	if agf.FLCount == 0 {
		return
	}
	buf, err := gw.Read(ctx, geo.AGBlockAddr(ag, 3), blockio.Ops{Kind: blockio.KindAGFL, RequireCRC: geo.CRC})
	if err != nil {
		log.Errorf("ag %d: failed to read AGFL: %v", ag, err)
		return
	}
	defer gw.Release(buf)

	headerSize := 0
	slots := geo.BlockSize / 4
	if geo.CRC {
		headerSize = xfsformat.AGFLHeaderSizeCRC
		slots = (geo.BlockSize - uint32(xfsformat.AGFLHeaderSizeCRC)) / 4
	}

	blocks := xfsformat.DecodeAGFL(buf.Data, headerSize, slots, agf.FLFirst, agf.FLLast)
	if agf.FLCount > 0 && uint32(len(blocks)) != agf.FLCount {
		log.Warnf("ag %d: AGFL lists %d blocks, agf_flcount says %d", ag, len(blocks), agf.FLCount)
	}

	for _, blk := range blocks {
		if !xfsformat.VerifyAGBlockPointer(blk, geo.AGBlocks) {
			log.Warnf("ag %d: AGFL entry %d out of range, skipped", ag, blk)
			continue
		}
		cr := sm.Set(ag, blk, Free)
		if cr.Conflict {
			log.Warnf("ag %d: AGFL block %d already claimed as %s", ag, blk, cr.Claimant)
		}
	}
}

// checkAGCounters compares the AGF/AGI's self-reported totals against
// what the scan actually observed, warning on every mismatch; lazy
// superblock counting relaxes the btree-block check since AGF's own
// agf_btreeblks becomes advisory rather than authoritative in that
// mode.
func checkAGCounters(log rlog.Logger, ag int, agf xfsformat.AGF, agi xfsformat.AGI, cntAcc, bnoAcc *FreespaceAcc, ibtAcc *InodeTreeAcc, finobt *inodeTreeWalk, geo *Geometry) {
	observedFreeBlocks := bnoAcc.FreeBlocks + cntAcc.FreeBlocks
	if uint64(agf.FreeBlocks) != observedFreeBlocks {
		log.Warnf("ag %d: agf_freeblks=%d, scan found %d free blocks", ag, agf.FreeBlocks, observedFreeBlocks)
	}
	if agf.Longest != cntAcc.Longest {
		log.Warnf("ag %d: agf_longest=%d, scan found %d", ag, agf.Longest, cntAcc.Longest)
	}
	if !geo.LazySBCount {
		observedBtreeBlocks := bnoAcc.TreeBlocks + cntAcc.TreeBlocks
		if agf.BTreeBlocks != observedBtreeBlocks {
			log.Warnf("ag %d: agf_btreeblks=%d, scan found %d", ag, agf.BTreeBlocks, observedBtreeBlocks)
		}
	}

	if uint64(agi.Count) != uint64(ibtAcc.Count) {
		log.Warnf("ag %d: agi_count=%d, scan found %d", ag, agi.Count, ibtAcc.Count)
	}
	if uint64(agi.FreeCount) != uint64(ibtAcc.FreeCount) {
		log.Warnf("ag %d: agi_freecount=%d, scan found %d", ag, agi.FreeCount, ibtAcc.FreeCount)
	}
	if finobt != nil {
		facc := finobt.Accumulator()
		if uint64(agi.FreeCount) != uint64(facc.FreeCount) {
			log.Warnf("ag %d: agi_freecount=%d, finobt scan found %d", ag, agi.FreeCount, facc.FreeCount)
		}
	}
}
