package xfsrepair

import (
	"context"

	"github.com/vorteil/xfsrepair/internal/rlog"
	"github.com/vorteil/xfsrepair/pkg/blockio"
	"github.com/vorteil/xfsrepair/pkg/inoinv"
	"github.com/vorteil/xfsrepair/pkg/xfsformat"
)

// InodeTreeKind distinguishes the allocation inode tree (source of
// truth for chunk allocation) from the free-inode tree (lists chunks
// with free inodes), which share a record format but apply different
// block-state policies.
type InodeTreeKind int

const (
	InodeTreeAlloc InodeTreeKind = iota
	InodeTreeFree
)

func (k InodeTreeKind) magic(crc bool) uint32 {
	switch {
	case k == InodeTreeAlloc && crc:
		return xfsformat.IBTMagicCRC
	case k == InodeTreeAlloc:
		return xfsformat.IBTMagic
	case k == InodeTreeFree && crc:
		return xfsformat.FIBTMagicCRC
	default:
		return xfsformat.FIBTMagic
	}
}

// InodeTreeAcc accumulates per-AG, per-tree inode-tree totals.
type InodeTreeAcc struct {
	Kind          InodeTreeKind
	HeaderErrors  int
	Count         int // non-sparse inodes observed
	FreeCount     int // free, non-sparse inodes observed
	SuspectChunks int
}

type inodeTreeWalk struct {
	acc *InodeTreeAcc
	sm  *StateMap
	inv Inventory
}

// NewInodeTreeWalk wraps an accumulator for use as WalkShortTree's acc
// parameter.
func NewInodeTreeWalk(sm *StateMap, inv Inventory, kind InodeTreeKind) *inodeTreeWalk {
	return &inodeTreeWalk{acc: &InodeTreeAcc{Kind: kind}, sm: sm, inv: inv}
}

func (w *inodeTreeWalk) Accumulator() *InodeTreeAcc { return w.acc }

// InodeTreeVisitor returns a ShortTreeVisitor bound to one AG and one
// inode tree (allocation or free-inode).
func InodeTreeVisitor(gw blockio.Gateway, geo *Geometry, log rlog.Logger, kind InodeTreeKind) ShortTreeVisitor {
	magic := kind.magic(geo.CRC)

	var visit ShortTreeVisitor
	visit = func(ctx context.Context, node *blockio.Buffer, level int, blockNum uint32, ag int, suspect bool, isRoot bool, accAny interface{}) bool {
		w := accAny.(*inodeTreeWalk)

		hdr := DecodeShortHeader(node.Data, geo.CRC)
		if hdr.Magic != magic || int(hdr.Level) != level {
			w.acc.HeaderErrors++
			if suspect {
				return false
			}
			suspect = true
		}

		if !isRoot {
			cr := w.sm.Set(ag, blockNum, FSMap)
			if cr.Conflict {
				log.Warnf("ag %d: inode btree block %d already claimed as %s", ag, blockNum, cr.Claimant)
			}
		}

		min, max := geo.InodeRecBounds()
		numRecs := int(hdr.NumRecs)
		if numRecs > max || (!isRoot && numRecs < min) {
			log.Warnf("ag %d: inode tree block %d record count %d out of bounds [%d,%d]", ag, blockNum, numRecs, min, max)
		}

		headerSize := geo.shortHeaderSize()

		if level == 0 {
			visitInodeLeaf(ctx, node.Data[headerSize:], numRecs, ag, suspect, geo, log, w)
			return true
		}

		const keySize = 4
		const ptrSize = 4
		keysOff := headerSize
		ptrsOff := headerSize + numRecs*keySize
		for i := 0; i < numRecs; i++ {
			kp := xfsformat.DecodeInodeKeyPtr(
				node.Data[keysOff+i*keySize:keysOff+i*keySize+keySize],
				node.Data[ptrsOff+i*ptrSize:ptrsOff+i*ptrSize+ptrSize],
			)
			if !xfsformat.VerifyAGBlockPointer(kp.Ptr, geo.AGBlocks) {
				log.Warnf("ag %d: inode tree interior record %d has out-of-range child pointer %d", ag, i, kp.Ptr)
				continue
			}
			WalkShortTree(ctx, gw, geo, ag, kp.Ptr, level-1, suspect, false, blockio.KindInode, magic, visit, accAny)
		}
		return true
	}

	return visit
}

func visitInodeLeaf(ctx context.Context, data []byte, numRecs int, ag int, suspect bool, geo *Geometry, log rlog.Logger, w *inodeTreeWalk) {
	for i := 0; i < numRecs; i++ {
		rec := xfsformat.DecodeInodeRecord(data[i*xfsformat.InodeRecSize:(i+1)*xfsformat.InodeRecSize], geo.SparseInodes)

		if skip := checkChunkAlignment(rec.StartIno, geo); skip {
			log.Warnf("ag %d: inode chunk at %d fails alignment check, skipped", ag, rec.StartIno)
			continue
		}

		var nonSparse, freeNonSparse int

		switch w.acc.Kind {
		case InodeTreeAlloc:
			// The allocation tree is the source of truth: overlap
			// against any prior record is suspicious, and a non-suspect
			// chunk becomes the authoritative record the free-inode
			// tree's pass cross-checks against.
			checkChunkOverlap(w.inv, ag, rec.StartIno, log)
			var chunkRec *inoinv.ChunkRecord
			chunkRec, nonSparse, freeNonSparse = importChunk(w.inv, ag, rec, suspect, log)
			scanAllocChunk(w, geo, ag, rec, chunkRec, suspect, log)
		case InodeTreeFree:
			// Every chunk with a free inode also appears in the
			// allocation tree; look up its authoritative record instead
			// of filing a second one, or the divergence check below
			// would only ever compare the finobt record against itself.
			nonSparse, freeNonSparse = countChunkBits(ag, rec, log)
			var chunkRec *inoinv.ChunkRecord
			if !suspect {
				if rec2, ok := w.inv.FindRecord(ag, rec.StartIno); ok {
					chunkRec = rec2
				} else {
					log.Warnf("ag %d: undiscovered finobt record at inode %d", ag, rec.StartIno)
				}
			}
			scanFreeChunk(w, geo, ag, rec, chunkRec, log)
		}

		w.acc.Count += nonSparse
		w.acc.FreeCount += freeNonSparse
		if suspect {
			w.acc.SuspectChunks++
		}
	}
}

// checkChunkAlignment rejects chunks whose starting inode violates the
// block/chunk alignment rules described in the data model, or whose
// range cannot fit inside the AG.
func checkChunkAlignment(startIno uint32, geo *Geometry) bool {
	ipb := geo.InodesPerBlock()
	if ipb == 0 {
		return true
	}

	if ipb >= xfsformat.ChunkSize {
		if startIno%xfsformat.ChunkSize != 0 {
			return true
		}
	} else {
		if startIno%ipb != 0 {
			return true
		}
	}

	startBlock := startIno / ipb
	if geo.ChunkAlignBlocks > 0 && startBlock%geo.ChunkAlignBlocks != 0 {
		return true
	}

	endBlock := (startIno + xfsformat.ChunkSize - 1) / ipb
	return endBlock >= geo.AGBlocks
}

// checkChunkOverlap warns if an already-imported chunk record overlaps
// the one about to be imported; it must run before importChunk files
// the new record, or the new chunk would always overlap itself. It only
// warns: the overlapping chunk is still imported as usual, and none of
// its inodes are filed as uncertain here.
func checkChunkOverlap(inv Inventory, ag int, startIno uint32, log rlog.Logger) {
	first, _, found := inv.FindRecRange(ag, startIno, startIno+xfsformat.ChunkSize)
	if !found {
		return
	}
	if first == startIno {
		log.Warnf("ag %d: inode chunk %d overlaps an existing record at the same start, corruption suspected", ag, startIno)
	} else {
		log.Warnf("ag %d: inode chunk %d overlaps existing record starting at %d", ag, startIno, first)
	}
}

// importChunk creates an authoritative chunk record (not suspect) or
// files every inode as uncertain (suspect) when the chunk's header was
// unreliable. It returns the created record (nil if suspect) and the
// non-sparse / free non-sparse inode counts.
func importChunk(inv Inventory, ag int, rec xfsformat.InodeRecord, suspect bool, log rlog.Logger) (chunk *inoinv.ChunkRecord, nonSparse, freeNonSparse int) {
	if suspect {
		for j := 0; j < xfsformat.ChunkSize; j++ {
			if isHole(rec, j) {
				continue
			}
			inv.AddUncertain(ag, rec.StartIno+uint32(j), isFreeBit(rec, j))
		}
		nonSparse, freeNonSparse = countChunkBits(ag, rec, log)
		return nil, nonSparse, freeNonSparse
	}

	chunk = inv.AllocateChunk(ag, rec.StartIno)
	nonSparse, freeNonSparse = countChunkBits(ag, rec, log)
	for j := 0; j < xfsformat.ChunkSize; j++ {
		if isHole(rec, j) {
			inv.SetSparse(chunk, j)
			continue
		}
		if isFreeBit(rec, j) {
			inv.SetFree(chunk, j)
		} else {
			inv.SetUsed(chunk, j)
		}
	}
	return chunk, nonSparse, freeNonSparse
}

// countChunkBits tallies the non-sparse and free-non-sparse inodes a
// chunk record's own on-disk bitmap lists, independent of whether the
// chunk has an authoritative Inventory record filed for it yet.
func countChunkBits(ag int, rec xfsformat.InodeRecord, log rlog.Logger) (nonSparse, freeNonSparse int) {
	for j := 0; j < xfsformat.ChunkSize; j++ {
		free := isFreeBit(rec, j)
		if isHole(rec, j) {
			if !free {
				log.Warnf("ag %d: chunk %d inode %d is sparse but not marked free", ag, rec.StartIno, j)
			}
			continue
		}
		nonSparse++
		if free {
			freeNonSparse++
		}
	}
	return
}

func isHole(rec xfsformat.InodeRecord, j int) bool {
	if rec.HoleMask == 0 {
		return false
	}
	return rec.HoleMask&(1<<uint(j/4)) != 0
}

func isFreeBit(rec xfsformat.InodeRecord, j int) bool {
	return rec.Free&(1<<uint(j)) != 0
}

// scanAllocChunk implements the allocation-tree chunk scan: block
// claims and the free-count/sparse-count cross-checks (overlap with
// existing records is checked by checkChunkOverlap).
func scanAllocChunk(w *inodeTreeWalk, geo *Geometry, ag int, rec xfsformat.InodeRecord, chunk *inoinv.ChunkRecord, suspect bool, log rlog.Logger) {
	ipb := geo.InodesPerBlock()
	if ipb == 0 {
		return
	}

	lastBlock := uint32(0xFFFFFFFF)
	for j := 0; j < xfsformat.ChunkSize; j++ {
		if isHole(rec, j) {
			continue
		}
		block := (rec.StartIno + uint32(j)) / ipb
		if block == lastBlock {
			continue
		}
		lastBlock = block

		claim := Ino
		current := w.sm.Get(ag, block)
		inAG0Prealloc := ag == 0 && rec.StartIno+uint32(j) >= geo.AG0LogFirstIno && rec.StartIno+uint32(j) < geo.AG0LogLastIno

		if current == InuseFS && !inAG0Prealloc {
			log.Warnf("ag %d: inode chunk %d claims block %d already reserved (not in AG0 log prealloc range)", ag, rec.StartIno, block)
		}
		cr := w.sm.Set(ag, block, claim)
		if cr.Conflict && !(cr.Claimant == InuseFS && inAG0Prealloc) {
			log.Warnf("ag %d: block %d multiply claimed (was %s, inode chunk %d claims INO)", ag, block, cr.Claimant, rec.StartIno)
		}
	}

	if chunk == nil {
		return
	}

	bitmapFree := popcount64(rec.Free)
	if int(rec.FreeCount) != bitmapFree {
		log.Warnf("ag %d: inode chunk %d stored free count %d != bitmap free count %d", ag, rec.StartIno, rec.FreeCount, bitmapFree)
	}
	if rec.HoleMask != 0 {
		validCount := 0
		for j := 0; j < xfsformat.ChunkSize; j++ {
			if !isHole(rec, j) {
				validCount++
			}
		}
		if int(rec.Count) != validCount {
			log.Warnf("ag %d: inode chunk %d stored valid-inode count %d != bitmap-derived %d", ag, rec.StartIno, rec.Count, validCount)
		}
	}
}

// scanFreeChunk implements the free-inode-tree chunk scan: block-state
// cross-check against the allocation tree's result, plus a divergence
// check against chunk, the allocation tree's own record for the same
// StartIno (nil if the caller found none, or the chunk was suspect).
func scanFreeChunk(w *inodeTreeWalk, geo *Geometry, ag int, rec xfsformat.InodeRecord, chunk *inoinv.ChunkRecord, log rlog.Logger) {
	ipb := geo.InodesPerBlock()
	if ipb == 0 {
		return
	}

	if rec.FreeCount == 0 {
		log.Warnf("ag %d: free-inode tree lists chunk %d with zero free inodes", ag, rec.StartIno)
	}

	lastBlock := uint32(0xFFFFFFFF)
	for j := 0; j < xfsformat.ChunkSize; j++ {
		block := (rec.StartIno + uint32(j)) / ipb
		if block == lastBlock {
			continue
		}
		lastBlock = block

		state := w.sm.Get(ag, block)
		if isHole(rec, j) {
			if state == Ino {
				log.Warnf("ag %d: free-inode tree chunk %d has sparse inode at block %d already marked INO", ag, rec.StartIno, block)
			}
			continue
		}
		if state != Ino {
			log.Warnf("ag %d: free-inode tree chunk %d block %d not previously marked INO by the allocation tree", ag, rec.StartIno, block)
		}
	}

	if chunk == nil {
		return
	}

	divergence := false
	for j := 0; j < xfsformat.ChunkSize; j++ {
		if isHole(rec, j) != w.inv.IsSparse(chunk, j) {
			divergence = true
		}
		if !isHole(rec, j) && isFreeBit(rec, j) != w.inv.IsFree(chunk, j) {
			divergence = true
		}
	}
	if divergence {
		w.acc.SuspectChunks++
		log.Warnf("ag %d: free-inode tree chunk %d diverges from the allocation tree's record", ag, rec.StartIno)
	}
}

func popcount64(x uint64) int {
	n := 0
	for x != 0 {
		x &= x - 1
		n++
	}
	return n
}
