// Package xfsrepair is the filesystem-scan core: the per-AG dispatcher,
// the short- and long-pointer B+tree walkers, the freespace/inode/extent
// visitors that ride them, and the block-state map they all reconcile
// against.
package xfsrepair

import (
	"fmt"
	"sync"
)

// State is one point in the block-state lattice every AG-block occupies
// by the end of a scan.
type State uint8

const (
	Unknown State = iota
	Free1         // seen in the by-offset freespace tree only
	Free          // confirmed in both freespace trees
	Ino           // holds inode chunk data
	FSMap         // filesystem metadata: a B+tree block or the AGFL
	Inuse         // claimed by a file or directory for user data
	InuseFS       // pre-allocated reserved metadata region (AG 0 log)
	Mult          // multiply claimed
	BadState      // invalid transition observed
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "UNKNOWN"
	case Free1:
		return "FREE1"
	case Free:
		return "FREE"
	case Ino:
		return "INO"
	case FSMap:
		return "FS_MAP"
	case Inuse:
		return "INUSE"
	case InuseFS:
		return "INUSE_FS"
	case Mult:
		return "MULT"
	case BadState:
		return "BAD_STATE"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// agState is one AG's dense block-state array plus the lock that
// serializes every access to it. Held only across the state
// reads/writes and the associated warning, never across I/O.
type agState struct {
	mu     sync.Mutex
	blocks []State
}

// StateMap is the scanner-scoped block-accounting map (C1): one
// independently-locked array per AG, created when the scan starts and
// discarded when it completes. It carries no process-wide handles; all
// workers share one map, and each AG's array has its own lock.
type StateMap struct {
	ags []agState
}

// NewStateMap allocates a state map for an AG count where AG i has
// agBlocks[i] blocks.
func NewStateMap(agBlocks []uint32) *StateMap {
	m := &StateMap{ags: make([]agState, len(agBlocks))}
	for i, n := range agBlocks {
		m.ags[i].blocks = make([]State, n)
	}
	return m
}

// AGCount returns the number of allocation groups tracked.
func (m *StateMap) AGCount() int {
	return len(m.ags)
}

// AGBlocks returns the number of blocks tracked for AG ag.
func (m *StateMap) AGBlocks(ag int) uint32 {
	return uint32(len(m.ags[ag].blocks))
}

// Get returns the current state of one block.
func (m *StateMap) Get(ag int, blk uint32) State {
	a := &m.ags[ag]
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blocks[blk]
}

// GetExtent returns the state of blk and the run length of identical
// state starting there, up to end (exclusive).
func (m *StateMap) GetExtent(ag int, blk, end uint32) (State, uint32) {
	a := &m.ags[ag]
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.blocks[blk]
	run := uint32(1)
	for i := blk + 1; i < end && a.blocks[i] == s; i++ {
		run++
	}
	return s, run
}

// ClaimResult is the outcome of one visitor's attempt to record a
// block's role: the resulting state, whether the claim conflicted with
// an existing one (warn-worthy), and the state the block held before.
type ClaimResult struct {
	Result    State
	Conflict  bool
	Claimant  State // the previous state, for warning text
}

// reconcile is the single rule every visitor's claim goes through:
//   - UNKNOWN always yields to the claim.
//   - FREE1 yields only to a FREE claim (by-count confirming by-offset).
//   - MULT never leaves MULT.
//   - anything else disagreeing becomes MULT.
func reconcile(current, claim State) ClaimResult {
	if current == Mult {
		return ClaimResult{Result: Mult, Conflict: true, Claimant: current}
	}
	if current == Unknown {
		return ClaimResult{Result: claim, Conflict: false, Claimant: current}
	}
	if current == Free1 && claim == Free {
		return ClaimResult{Result: Free, Conflict: false, Claimant: current}
	}
	if current == claim {
		return ClaimResult{Result: current, Conflict: false, Claimant: current}
	}
	return ClaimResult{Result: Mult, Conflict: true, Claimant: current}
}

// Set applies the reconciliation rule to one block and returns the
// outcome for the caller to log.
func (m *StateMap) Set(ag int, blk uint32, claim State) ClaimResult {
	a := &m.ags[ag]
	a.mu.Lock()
	defer a.mu.Unlock()

	cr := reconcile(a.blocks[blk], claim)
	a.blocks[blk] = cr.Result
	return cr
}

// SetExtent applies Set across [blk, blk+length), coalescing the lock
// acquisition into one hold for the whole run. It returns one conflict
// per conflicting block (empty if none), each naming the block and the
// state it held before the claim.
type ExtentConflict struct {
	Block    uint32
	Claimant State
}

func (m *StateMap) SetExtent(ag int, blk uint32, length uint32, claim State) []ExtentConflict {
	a := &m.ags[ag]
	a.mu.Lock()
	defer a.mu.Unlock()

	var conflicts []ExtentConflict
	for i := blk; i < blk+length; i++ {
		cr := reconcile(a.blocks[i], claim)
		a.blocks[i] = cr.Result
		if cr.Conflict {
			conflicts = append(conflicts, ExtentConflict{Block: i, Claimant: cr.Claimant})
		}
	}
	return conflicts
}

// CountStates tallies the final state of every block in AG ag; used by
// tests asserting the universal "exactly one terminal state per block"
// property.
func (m *StateMap) CountStates(ag int) map[State]uint32 {
	a := &m.ags[ag]
	a.mu.Lock()
	defer a.mu.Unlock()

	counts := make(map[State]uint32)
	for _, s := range a.blocks {
		counts[s]++
	}
	return counts
}
