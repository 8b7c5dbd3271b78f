// Package inoinv is the in-core inode inventory: the authoritative
// record of every inode chunk the scan has imported, plus the
// "uncertain" entries filed when a chunk's surrounding metadata was
// suspect. It outlives any single scan and is shared by every AG
// worker, so every exported method is safe for concurrent use.
package inoinv

import (
	"sort"
	"sync"
)

// ChunkRecord is one authoritative inode chunk: 64 consecutive inodes
// starting at StartIno, plus their free/used/sparse status.
type ChunkRecord struct {
	AG       int
	StartIno uint32
	Free     [64]bool
	Sparse   [64]bool
	Count    int // number of valid (non-hole) inodes in this chunk
}

// UncertainEntry is filed for an inode observed inside a suspect
// chunk, carrying only its presumed free/used status.
type UncertainEntry struct {
	AG     int
	Ino    uint32
	IsFree bool
}

// Inventory is the concrete, thread-safe in-core inode inventory.
type Inventory struct {
	mu        sync.Mutex
	records   []*ChunkRecord // sorted by (AG, StartIno)
	uncertain []UncertainEntry
}

// New returns an empty inventory.
func New() *Inventory {
	return &Inventory{}
}

// AllocateChunk creates and files a new authoritative chunk record
// starting at startIno in ag, with every inode initially marked used
// (the caller then calls SetFree/SetSparse per-inode from the on-disk
// bitmap).
func (inv *Inventory) AllocateChunk(ag int, startIno uint32) *ChunkRecord {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	rec := &ChunkRecord{AG: ag, StartIno: startIno, Count: 64}
	i := sort.Search(len(inv.records), func(i int) bool {
		return inv.records[i].AG > ag || (inv.records[i].AG == ag && inv.records[i].StartIno >= startIno)
	})
	inv.records = append(inv.records, nil)
	copy(inv.records[i+1:], inv.records[i:])
	inv.records[i] = rec
	return rec
}

// SetFree marks inode j of rec free.
func (inv *Inventory) SetFree(rec *ChunkRecord, j int) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	rec.Free[j] = true
}

// SetUsed marks inode j of rec used.
func (inv *Inventory) SetUsed(rec *ChunkRecord, j int) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	rec.Free[j] = false
}

// SetSparse marks inode j of rec as a hole (absent from the chunk).
func (inv *Inventory) SetSparse(rec *ChunkRecord, j int) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	rec.Sparse[j] = true
}

// IsFree reports whether inode j of rec is currently marked free.
func (inv *Inventory) IsFree(rec *ChunkRecord, j int) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return rec.Free[j]
}

// IsSparse reports whether inode j of rec is a hole.
func (inv *Inventory) IsSparse(rec *ChunkRecord, j int) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return rec.Sparse[j]
}

// AddUncertain files an inode observed in a suspect chunk, when the
// caller cannot trust the chunk enough to create an authoritative
// record.
func (inv *Inventory) AddUncertain(ag int, ino uint32, isFree bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.uncertain = append(inv.uncertain, UncertainEntry{AG: ag, Ino: ino, IsFree: isFree})
}

// Uncertain returns a snapshot of the uncertain entries filed so far.
func (inv *Inventory) Uncertain() []UncertainEntry {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make([]UncertainEntry, len(inv.uncertain))
	copy(out, inv.uncertain)
	return out
}

// RecordsForAG returns a snapshot of the authoritative chunk records
// filed for ag, in StartIno order, for the AG scanner's used-inode
// walk once the inode trees have been imported.
func (inv *Inventory) RecordsForAG(ag int) []*ChunkRecord {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	var out []*ChunkRecord
	for _, rec := range inv.records {
		if rec.AG == ag {
			out = append(out, rec)
		}
	}
	return out
}

// FindRecord returns the authoritative chunk record filed in ag at
// exactly startIno, if any. Used by the free-inode-tree scan to locate
// the allocation tree's record for the same chunk, rather than filing
// a second, independent record for it.
func (inv *Inventory) FindRecord(ag int, startIno uint32) (*ChunkRecord, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	for _, rec := range inv.records {
		if rec.AG == ag && rec.StartIno == startIno {
			return rec, true
		}
	}
	return nil, false
}

// FindRecRange reports whether any authoritative chunk record in ag
// overlaps the inode range [lo, hi), returning the lowest starting inode
// and the highest end inode (exclusive) among such records.
func (inv *Inventory) FindRecRange(ag int, lo, hi uint32) (first, last uint32, found bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	for _, rec := range inv.records {
		if rec.AG != ag {
			continue
		}
		recEnd := rec.StartIno + 64
		if rec.StartIno < hi && recEnd > lo {
			if !found || rec.StartIno < first {
				first = rec.StartIno
			}
			if !found || recEnd > last {
				last = recEnd
			}
			found = true
		}
	}
	return
}
