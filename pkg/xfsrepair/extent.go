package xfsrepair

import (
	"context"

	"github.com/vorteil/xfsrepair/internal/rlog"
	"github.com/vorteil/xfsrepair/pkg/blockio"
	"github.com/vorteil/xfsrepair/pkg/xfsformat"
)

// ExtentAcc is the per-inode accumulator the extent-tree visitor
// mutates; levelsTouched records which cursor levels were actually
// visited so the caller can assert "rightmost node's right-sibling is
// null" only for levels the walk reached.
type ExtentAcc struct {
	levelsTouched [MaxBtreeDepth]bool
}

// ScanExtentTree walks inode ino's extent tree rooted at fsbno (Mode A,
// normal scan). It claims every block the tree itself occupies and
// every extent it lists against the AG-sharded state map, validating
// sibling chaining and (in the CRC-bearing variant) node ownership
// along the way. A false return means the inode must be discarded.
func ScanExtentTree(ctx context.Context, gw blockio.Gateway, geo *Geometry, sm *StateMap, log rlog.Logger, fsbno uint64, levels int, ino uint64, modifyMode bool) (ok bool, tot, nex uint64) {
	cursor := &Cursor{}
	acc := &ExtentAcc{}

	visitor := extentVisitor(gw, geo, sm, log, modifyMode)
	ok = WalkLongTree(ctx, gw, geo, fsbno, levels-1, ino, false, true, magicFor(geo), visitor, cursor, &tot, &nex, acc)

	for lvl := 0; lvl < MaxBtreeDepth; lvl++ {
		if !acc.levelsTouched[lvl] {
			continue
		}
		if cursor.Levels[lvl].RightSib != xfsformat.NullBlock {
			log.Warnf("inode %d: extent tree level %d's rightmost node has a non-null right sibling", ino, lvl)
			ok = false
		}
	}
	return
}

func extentVisitor(gw blockio.Gateway, geo *Geometry, sm *StateMap, log rlog.Logger, modifyMode bool) LongTreeVisitor {
	var visit LongTreeVisitor
	visit = func(ctx context.Context, node *blockio.Buffer, level int, fsbno uint64, ino uint64, suspect bool, isRoot bool, cursor *Cursor, tot, nex *uint64, accAny interface{}) LongTreeResult {
		acc := accAny.(*ExtentAcc)
		acc.levelsTouched[level] = true

		hdr := DecodeLongHeader(node.Data, geo.CRC)
		ok := true

		if hdr.Magic != magicFor(geo) || int(hdr.Level) != level {
			log.Warnf("inode %d: extent tree block %d bad header (magic/level mismatch)", ino, fsbno)
			if suspect {
				return LongTreeResult{OK: false}
			}
			suspect = true
		}

		headerSize := geo.longHeaderSize()

		if geo.CRC {
			if hdr.Owner != ino {
				log.Warnf("inode %d: extent tree block %d claims owner %d", ino, fsbno, hdr.Owner)
				suspect = true
			}
			if hdr.BlkNo != fsbno {
				log.Warnf("inode %d: extent tree block %d's self-address field says %d", ino, fsbno, hdr.BlkNo)
				suspect = true
			}
			if hdr.UUID != geo.UUID {
				log.Warnf("inode %d: extent tree block %d carries a foreign filesystem UUID", ino, fsbno)
				suspect = true
			}
		}

		ag, agbno := geo.DecomposeFSBlock(fsbno)
		cr := sm.Set(ag, agbno, Inuse)
		switch cr.Claimant {
		case Unknown, Free1, Free:
			// expected path, no warning
		case FSMap, Inuse:
			log.Warnf("ag %d: block %d already claimed as %s, extent tree of inode %d also claims it", ag, agbno, cr.Claimant, ino)
		case Mult, InuseFS:
			// remains MULT / stays visible; intentionally not
			// re-warned on every subsequent shared block.
		}

		*tot++

		firstOnLevel := !cursor.Levels[level].HaveBlock
		if !checkSibling(cursor, level, fsbno, hdr.LeftSib, hdr.RightSib, firstOnLevel) {
			log.Warnf("inode %d: extent tree level %d sibling chain broken at block %d", ino, level, fsbno)
			ok = false
		}

		min, max := geo.BmbtRecBounds()
		numRecs := int(hdr.NumRecs)
		if numRecs > max || (!isRoot && numRecs < min) {
			log.Warnf("inode %d: extent tree block %d record count %d out of bounds [%d,%d]", ino, fsbno, numRecs, min, max)
		}

		if level == 0 {
			if !processBmbtRecList(node.Data[headerSize:], numRecs, geo, sm, log, ino, nex) {
				ok = false
			}
			var firstKey uint64
			if numRecs > 0 {
				firstKey = xfsformat.DecodeBmbtRec(node.Data[headerSize : headerSize+xfsformat.BmbtRecSize]).StartOff
			}
			if !firstOnLevel && firstKey < cursor.Levels[level].FirstKey {
				log.Warnf("inode %d: extent tree leaf first-key ordering violated at block %d", ino, fsbno)
				ok = false
			}
			cursor.Levels[level].FirstKey = firstKey
			return LongTreeResult{OK: ok}
		}

		// Interior node: descend each child, then compare its first
		// key to the stored key in this parent.
		const keySize = 8
		const ptrSize = 8
		keysOff := headerSize
		ptrsOff := headerSize + numRecs*keySize

		dirty := false
		for i := 0; i < numRecs; i++ {
			key := beUint64(node.Data[keysOff+i*keySize : keysOff+i*keySize+keySize])
			ptr := beUint64(node.Data[ptrsOff+i*ptrSize : ptrsOff+i*ptrSize+ptrSize])

			childTot, childNex := uint64(0), uint64(0)
			childOK := WalkLongTree(ctx, gw, geo, ptr, level-1, ino, suspect, false, magicFor(geo), visit, cursor, &childTot, &childNex, accAny)
			*tot += childTot
			*nex += childNex
			if !childOK {
				ok = false
				continue
			}

			childFirstKey := cursor.Levels[level-1].FirstKey
			if childFirstKey != key {
				if modifyMode && !suspect {
					binaryPutUint64(node.Data[keysOff+i*keySize:keysOff+i*keySize+keySize], childFirstKey)
					dirty = true
					continue
				}
				log.Warnf("inode %d: bad btree key (is %d, should be %d)", ino, key, childFirstKey)
			}
		}

		if numRecs > 0 {
			cursor.Levels[level].FirstKey = beUint64(node.Data[keysOff : keysOff+keySize])
		}
		return LongTreeResult{OK: ok, Dirty: dirty}
	}
	return visit
}

func magicFor(geo *Geometry) uint32 {
	if geo.CRC {
		return xfsformat.BMAPMagicCRC
	}
	return xfsformat.BMAPMagic
}

// processBmbtRecList decodes and claims every extent listed in a bmbt
// leaf node against the AG-sharded state map.
func processBmbtRecList(data []byte, numRecs int, geo *Geometry, sm *StateMap, log rlog.Logger, ino uint64, nex *uint64) bool {
	ok := true
	for i := 0; i < numRecs; i++ {
		rec := xfsformat.DecodeBmbtRec(data[i*xfsformat.BmbtRecSize : (i+1)*xfsformat.BmbtRecSize])
		*nex++

		recAG, recAGBno := geo.DecomposeFSBlock(rec.StartBlock)
		for _, c := range sm.SetExtent(recAG, recAGBno, rec.BlockCount, Inuse) {
			log.Warnf("ag %d: block %d multiply claimed (was %s), inode %d's extent tree also claims it", recAG, c.Block, c.Claimant, ino)
		}
	}
	return ok
}

func binaryPutUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// ScanDupExtentTree walks inode ino's extent tree rooted at fsbno in
// Mode B: a duplicate-extent pass that consults and populates dup
// against every leaf extent, without touching the state map or the
// sibling/key cursor a normal scan enforces. realtime selects whether
// the inode's extents live on the realtime device (flat block numbers)
// or the data device (AG-decomposed).
func ScanDupExtentTree(ctx context.Context, gw blockio.Gateway, geo *Geometry, dup DupIndex, log rlog.Logger, fsbno uint64, levels int, ino uint64, realtime bool) bool {
	cursor := &Cursor{}
	var tot, nex uint64
	visitor := dupExtentVisitor(gw, geo, dup, log, ino, realtime)
	return WalkLongTree(ctx, gw, geo, fsbno, levels-1, ino, false, true, magicFor(geo), visitor, cursor, &tot, &nex, nil)
}

func dupExtentVisitor(gw blockio.Gateway, geo *Geometry, dup DupIndex, log rlog.Logger, ino uint64, realtime bool) LongTreeVisitor {
	var visit LongTreeVisitor
	visit = func(ctx context.Context, node *blockio.Buffer, level int, fsbno uint64, visitIno uint64, suspect bool, isRoot bool, cursor *Cursor, tot, nex *uint64, acc interface{}) LongTreeResult {
		hdr := DecodeLongHeader(node.Data, geo.CRC)
		if hdr.Magic != magicFor(geo) || int(hdr.Level) != level {
			return LongTreeResult{OK: false}
		}

		headerSize := geo.longHeaderSize()
		numRecs := int(hdr.NumRecs)

		if level == 0 {
			for i := 0; i < numRecs; i++ {
				rec := xfsformat.DecodeBmbtRec(node.Data[headerSize+i*xfsformat.BmbtRecSize : headerSize+(i+1)*xfsformat.BmbtRecSize])
				*nex++

				if realtime {
					end := rec.StartBlock + uint64(rec.BlockCount)
					if dup.SearchRTDupExtent(rec.StartBlock, end) {
						log.Warnf("inode %d: realtime extent [%d,%d) duplicates a previously claimed extent", ino, rec.StartBlock, end)
					}
					dup.ClaimRealtime(rec.StartBlock, end)
					continue
				}

				ag, agbno := geo.DecomposeFSBlock(rec.StartBlock)
				end := agbno + rec.BlockCount
				if dup.SearchDupExtent(ag, agbno, end) {
					log.Warnf("inode %d: extent [ag %d, %d,%d) duplicates a previously claimed extent", ino, ag, agbno, end)
				}
				dup.Claim(ag, agbno, end)
			}
			return LongTreeResult{OK: true}
		}

		const ptrSize = 8
		ptrsOff := headerSize + numRecs*8
		for i := 0; i < numRecs; i++ {
			ptr := beUint64(node.Data[ptrsOff+i*ptrSize : ptrsOff+i*ptrSize+ptrSize])
			var childTot, childNex uint64
			if !WalkLongTree(ctx, gw, geo, ptr, level-1, ino, suspect, false, magicFor(geo), visit, cursor, &childTot, &childNex, acc) {
				return LongTreeResult{OK: false}
			}
			*tot += childTot
			*nex += childNex
		}
		return LongTreeResult{OK: true}
	}
	return visit
}
