// Package dupindex is the duplicate-extent index: per-AG (and
// per-realtime-device) sets of block ranges already claimed by some
// file, consulted by the extent-tree visitor's duplicate-scan mode to
// find blocks shared between two files without touching the
// block-state map.
package dupindex

import "sync"

type extentRange struct {
	start, end uint64 // end exclusive
}

// Index is a concrete, thread-safe duplicate-extent index.
type Index struct {
	mu sync.Mutex
	ag map[int][]extentRange
	rt []extentRange
}

// New returns an empty index.
func New() *Index {
	return &Index{ag: make(map[int][]extentRange)}
}

// Claim records that [start, end) in AG ag belongs to some file,
// making later overlapping claims detectable as duplicates.
func (idx *Index) Claim(ag int, start, end uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.ag[ag] = append(idx.ag[ag], extentRange{uint64(start), uint64(end)})
}

// ClaimRealtime is Claim's realtime-device equivalent, addressed by a
// flat block number rather than (AG, AG-block).
func (idx *Index) ClaimRealtime(start, end uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.rt = append(idx.rt, extentRange{start, end})
}

// SearchDupExtent reports whether [start, end) in AG ag overlaps any
// previously claimed range.
func (idx *Index) SearchDupExtent(ag int, start, end uint32) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return overlaps(idx.ag[ag], uint64(start), uint64(end))
}

// SearchRTDupExtent is SearchDupExtent's realtime-device equivalent.
func (idx *Index) SearchRTDupExtent(start, end uint64) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return overlaps(idx.rt, start, end)
}

func overlaps(ranges []extentRange, start, end uint64) bool {
	for _, r := range ranges {
		if start < r.end && end > r.start {
			return true
		}
	}
	return false
}
