package xfsrepair

import (
	"context"

	"github.com/vorteil/xfsrepair/internal/rlog"
	"github.com/vorteil/xfsrepair/pkg/blockio"
	"github.com/vorteil/xfsrepair/pkg/xfsformat"
)

// FreespaceKind distinguishes the two freespace B+trees sharing one
// visitor implementation.
type FreespaceKind int

const (
	FreespaceByOffset FreespaceKind = iota // bnobt: indexed by start block
	FreespaceByCount                       // cntbt: indexed by length
)

func (k FreespaceKind) magic(crc bool) uint32 {
	switch {
	case k == FreespaceByOffset && crc:
		return xfsformat.ABTBMagicCRC
	case k == FreespaceByOffset:
		return xfsformat.ABTBMagic
	case k == FreespaceByCount && crc:
		return xfsformat.ABTCMagicCRC
	default:
		return xfsformat.ABTCMagic
	}
}

// FreespaceAcc is the per-AG, per-tree accumulator the freespace
// visitor mutates. One is created per tree (bno and cnt each get their
// own) and folded into the AG scanner's totals afterward.
type FreespaceAcc struct {
	Kind         FreespaceKind
	HeaderErrors int
	TreeBlocks   uint32 // non-root nodes visited
	FreeBlocks   uint64 // by-count leaf lengths (cnt tree) plus non-root tree blocks (both trees)
	Longest      uint32
	lastStart    uint32 // previous leaf record's start block, for monotonicity
	lastLength   uint32 // previous leaf record's length, for monotonicity
	haveLast     bool
}

// FreespaceVisitor returns a ShortTreeVisitor bound to one AG and one
// freespace tree (by-offset or by-count). geo, sm and log are shared
// read-only/thread-safe collaborators; acc (passed back through
// WalkShortTree's opaque parameter) must be a *FreespaceAcc.
func FreespaceVisitor(gw blockio.Gateway, geo *Geometry, log rlog.Logger, kind FreespaceKind) ShortTreeVisitor {
	magic := kind.magic(geo.CRC)

	var visit ShortTreeVisitor
	visit = func(ctx context.Context, node *blockio.Buffer, level int, blockNum uint32, ag int, suspect bool, isRoot bool, accAny interface{}) bool {
		acc := accAny.(*freespaceWalk)

		hdr := DecodeShortHeader(node.Data, geo.CRC)
		if hdr.Magic != magic || int(hdr.Level) != level {
			acc.acc.HeaderErrors++
			if suspect {
				return false
			}
			suspect = true
		}

		if !isRoot {
			acc.acc.TreeBlocks++
			// A non-root freespace-tree block is itself allocated out of
			// the AG's free pool; agf_freeblks counts it alongside the
			// by-count tree's own leaf-record lengths.
			acc.acc.FreeBlocks++
			cr := acc.sm.Set(ag, blockNum, FSMap)
			if cr.Conflict {
				log.Warnf("ag %d: freespace btree block %d already claimed as %s", ag, blockNum, cr.Claimant)
			}
		}

		min, max := geo.AllocRecBounds()
		numRecs := int(hdr.NumRecs)
		if numRecs > max || (!isRoot && numRecs < min) {
			log.Warnf("ag %d: freespace tree block %d record count %d out of bounds [%d,%d]", ag, blockNum, numRecs, min, max)
		}

		headerSize := geo.shortHeaderSize()

		if level == 0 {
			visitFreespaceLeaf(node.Data[headerSize:], numRecs, ag, geo, acc, log)
			return true
		}

		// Interior node: key array followed by pointer array, each
		// entry 4 bytes (an AG-block number).
		const keySize = 4
		const ptrSize = 4
		keysOff := headerSize
		ptrsOff := headerSize + numRecs*keySize

		for i := 0; i < numRecs; i++ {
			kp := xfsformat.DecodeAllocKeyPtr(
				node.Data[keysOff+i*keySize:keysOff+i*keySize+keySize],
				node.Data[ptrsOff+i*ptrSize:ptrsOff+i*ptrSize+ptrSize],
			)
			if !xfsformat.VerifyAGBlockPointer(kp.Ptr, geo.AGBlocks) {
				log.Warnf("ag %d: freespace tree interior record %d has out-of-range child pointer %d", ag, i, kp.Ptr)
				continue
			}
			WalkShortTree(ctx, gw, geo, ag, kp.Ptr, level-1, suspect, false, blockio.KindFreespace, magic, visit, accAny)
		}

		return true
	}

	return visit
}

// freespaceWalk bundles the mutable per-call accumulator with the
// read-only collaborators the visitor closure needs but that WalkShortTree's
// signature has no room for.
type freespaceWalk struct {
	acc *FreespaceAcc
	sm  *StateMap
}

// NewFreespaceWalk wraps an accumulator for use as WalkShortTree's acc
// parameter.
func NewFreespaceWalk(sm *StateMap, kind FreespaceKind) *freespaceWalk {
	return &freespaceWalk{acc: &FreespaceAcc{Kind: kind}, sm: sm}
}

func (w *freespaceWalk) Accumulator() *FreespaceAcc { return w.acc }

func visitFreespaceLeaf(data []byte, numRecs int, ag int, geo *Geometry, w *freespaceWalk, log rlog.Logger) {
	for i := 0; i < numRecs; i++ {
		rec := xfsformat.DecodeAllocRecord(data[i*xfsformat.AllocRecSize : (i+1)*xfsformat.AllocRecSize])

		if !xfsformat.VerifyAGBlockRange(rec.StartBlock, rec.BlockCount, geo.AGBlocks) {
			log.Warnf("ag %d: freespace record start=%d len=%d out of range, skipped", ag, rec.StartBlock, rec.BlockCount)
			continue
		}

		switch w.acc.Kind {
		case FreespaceByOffset:
			if w.acc.haveLast && rec.StartBlock <= w.acc.lastStart {
				log.Warnf("ag %d: freespace-by-offset record out of order at start=%d", ag, rec.StartBlock)
			}
		case FreespaceByCount:
			if w.acc.haveLast && rec.BlockCount < w.acc.lastLength {
				log.Warnf("ag %d: freespace-by-count record out of order at len=%d", ag, rec.BlockCount)
			}
			w.acc.FreeBlocks += uint64(rec.BlockCount)
			if rec.BlockCount > w.acc.Longest {
				w.acc.Longest = rec.BlockCount
			}
		}
		w.acc.lastStart = rec.StartBlock
		w.acc.lastLength = rec.BlockCount
		w.acc.haveLast = true

		claim := Free1
		if w.acc.Kind == FreespaceByCount {
			claim = Free
		}
		for _, c := range w.sm.SetExtent(ag, rec.StartBlock, rec.BlockCount, claim) {
			log.Warnf("ag %d: block %d multiply claimed (was %s, freespace record claims %s)", ag, c.Block, c.Claimant, claim)
		}
	}
}
