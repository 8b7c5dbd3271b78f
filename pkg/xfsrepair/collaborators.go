package xfsrepair

import "github.com/vorteil/xfsrepair/pkg/inoinv"

// Inventory is the narrow contract the inode-tree visitor uses to file
// chunk records; pkg/inoinv.Inventory satisfies it.
type Inventory interface {
	AllocateChunk(ag int, startIno uint32) *inoinv.ChunkRecord
	SetFree(rec *inoinv.ChunkRecord, j int)
	SetUsed(rec *inoinv.ChunkRecord, j int)
	SetSparse(rec *inoinv.ChunkRecord, j int)
	IsFree(rec *inoinv.ChunkRecord, j int) bool
	IsSparse(rec *inoinv.ChunkRecord, j int) bool
	AddUncertain(ag int, ino uint32, isFree bool)
	FindRecRange(ag int, lo, hi uint32) (first, last uint32, found bool)
	FindRecord(ag int, startIno uint32) (*inoinv.ChunkRecord, bool)
	RecordsForAG(ag int) []*inoinv.ChunkRecord
}

// DupIndex is the narrow contract the extent-tree visitor's
// duplicate-scan mode uses; pkg/dupindex.Index satisfies it.
type DupIndex interface {
	Claim(ag int, start, end uint32)
	ClaimRealtime(start, end uint64)
	SearchDupExtent(ag int, start, end uint32) bool
	SearchRTDupExtent(start, end uint64) bool
}
