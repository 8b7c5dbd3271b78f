package xfsrepair

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/vorteil/xfsrepair/internal/rlog"
	"github.com/vorteil/xfsrepair/pkg/blockio"
	"github.com/vorteil/xfsrepair/pkg/xfsformat"
)

// DefaultWorkers bounds concurrent AG scans absent an explicit worker
// count.
const DefaultWorkers = 32

// Config is what the dispatcher needs to scan a whole filesystem:
// geometry decoded from its superblock, the collaborators every AG
// worker shares, and run-time knobs.
type Config struct {
	Geometry   Geometry
	Inventory  Inventory
	Logger     rlog.Logger
	Progress   *rlog.Progress
	ModifyMode bool
	Workers    int
}

// Report is the filesystem-wide outcome of a full scan: the per-AG
// results plus the superblock cross-check.
type Report struct {
	AGs            []AGResult
	AbandonedAGs   int
	FreeBlocks     uint64
	InodeCount     uint64
	FreeInodes     uint64
	SBFreeBlocks   uint64
	SBInodeCount   uint64
	SBFreeInodes   uint64
}

// ScanFilesystem builds a StateMap sized to sb, then runs one ScanAG
// task per allocation group under a bounded worker pool. A single AG's
// fatal error (an unreadable AGF or AGI) only abandons that AG; the
// scan as a whole always completes and returns a Report. No worker
// returns an error, so the returned error is nil; a cancelled ctx shows
// up as abandoned AGs and failed tree walks, not as an early abort.
func ScanFilesystem(ctx context.Context, gw blockio.Gateway, cfg Config, sb xfsformat.SuperBlock) (Report, error) {
	geo := cfg.Geometry
	agBlocks := make([]uint32, sb.AGCount)
	for i := range agBlocks {
		agBlocks[i] = sb.AGBlocks
	}
	if sb.AGCount > 0 {
		last := sb.DataBlocks - uint64(sb.AGCount-1)*uint64(sb.AGBlocks)
		agBlocks[sb.AGCount-1] = uint32(last)
	}
	sm := NewStateMap(agBlocks)

	results := make([]AGResult, sb.AGCount)

	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < int(sb.AGCount); i++ {
		ag := i
		g.Go(func() error {
			results[ag] = ScanAG(gctx, gw, &geo, sm, cfg.Inventory, cfg.Logger, ag, cfg.ModifyMode)
			if cfg.Progress != nil {
				cfg.Progress.AGDone()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	if cfg.Progress != nil {
		cfg.Progress.Wait()
	}

	rep := Report{
		AGs:          results,
		SBFreeBlocks: sb.DataFree,
		SBInodeCount: sb.InodesAllocated,
		SBFreeInodes: sb.InodesFree,
	}
	for _, r := range results {
		if r.Abandoned {
			rep.AbandonedAGs++
			continue
		}
		rep.FreeBlocks += r.FreeBlocks
		rep.InodeCount += r.InodeCount
		rep.FreeInodes += r.FreeInodes
	}

	if rep.AbandonedAGs == 0 {
		if rep.FreeBlocks != rep.SBFreeBlocks {
			cfg.Logger.Warnf("superblock free block count %d disagrees with the scan's %d", rep.SBFreeBlocks, rep.FreeBlocks)
		}
		if rep.InodeCount != rep.SBInodeCount {
			cfg.Logger.Warnf("superblock allocated inode count %d disagrees with the scan's %d", rep.SBInodeCount, rep.InodeCount)
		}
		if rep.FreeInodes != rep.SBFreeInodes {
			cfg.Logger.Warnf("superblock free inode count %d disagrees with the scan's %d", rep.SBFreeInodes, rep.FreeInodes)
		}
	}

	return rep, nil
}
