// Package coordinator drives the per-file state machine described in §4.7:
// PENDING → STREAMING → AWAITING_WRITES → COMMITTING → COMMITTED. It owns
// the index — the only component that touches it for writes — and is the
// sole place a wall-clock deadline or a poisoned pipeline is observed.
package coordinator

import (
	"context"
	"time"

	"github.com/coldvault/coldvault/internal/engerr"
	"github.com/coldvault/coldvault/internal/index"
	"github.com/coldvault/coldvault/internal/pipeline"
	"github.com/coldvault/coldvault/internal/scanner"
)

// Result summarizes one backup run.
type Result struct {
	FilesCommitted  int
	FilesSkipped    int // unchanged since their last alias, not re-read
	FilesFailed     int
	TimedOut        bool // deadline elapsed before every pending file was processed
	PrunedAliases   int
	ReclaimedBlocks int
	Errors          []engerr.FileError
}

// Config parameterizes one run.
type Config struct {
	Deadline      time.Duration // 0 means no limit
	RetentionDays int
}

// Coordinator ties the scanner, pipeline, and index together for one
// backup run against one source root.
type Coordinator struct {
	idx        *index.Index
	pl         *pipeline.Pipeline
	sourceRoot string
}

// New returns a Coordinator for one run. idx and pl must already be open;
// the caller closes them afterward.
func New(idx *index.Index, pl *pipeline.Pipeline, sourceRoot string) *Coordinator {
	return &Coordinator{idx: idx, pl: pl, sourceRoot: sourceRoot}
}

// Run scans sourceRoot and processes every changed file through the
// pipeline, honoring cfg.Deadline, then runs the null-alias detection pass
// and the retention cleanup pass.
func (c *Coordinator) Run(ctx context.Context, cfg Config) (Result, error) {
	var result Result

	startMs := time.Now().UnixMilli()

	entries, err := scanner.Scan(c.sourceRoot)
	if err != nil {
		return result, err
	}

	var deadline time.Time
	hasDeadline := cfg.Deadline > 0
	if hasDeadline {
		deadline = time.Now().Add(cfg.Deadline)
	}

	observed := scanner.ObservedPaths(entries)

	for _, entry := range entries {
		if hasDeadline && time.Now().After(deadline) {
			result.TimedOut = true
			break
		}

		// PENDING -> change detection: skip files whose mtime does not
		// exceed the latest recorded alias.
		mtimeMs := entry.ModTime.UnixMilli()
		latest, ok, err := c.idx.LatestAliasTimestamp(ctx, entry.RelPath)
		if err != nil {
			return result, err
		}
		if ok && mtimeMs <= latest {
			result.FilesSkipped++
			continue
		}

		// STREAMING -> AWAITING_WRITES: the pipeline call blocks until
		// every block of this file has been durably written.
		blocks, err := c.pl.ProcessFile(ctx, entry.AbsPath, c.idx)
		if err != nil {
			if engerr.IsFatal(err) {
				return result, err
			}
			result.FilesFailed++
			result.Errors = append(result.Errors, engerr.FileError{Path: entry.RelPath, Err: err})
			continue
		}

		// COMMITTING -> COMMITTED
		plans := make([]index.BlockPlan, len(blocks))
		for i, b := range blocks {
			plans[i] = index.BlockPlan{Hash: b.Hash, Size: b.Size}
		}
		if err := c.idx.CommitFile(ctx, entry.RelPath, mtimeMs, plans); err != nil {
			if engerr.IsFatal(err) {
				return result, err
			}
			result.FilesFailed++
			result.Errors = append(result.Errors, engerr.FileError{Path: entry.RelPath, Err: err})
			continue
		}
		result.FilesCommitted++
	}

	if err := c.detectDeletions(ctx, startMs, observed); err != nil {
		return result, err
	}

	pruned, reclaimed, err := c.Cleanup(ctx, cfg.RetentionDays)
	if err != nil {
		return result, err
	}
	result.PrunedAliases = pruned
	result.ReclaimedBlocks = reclaimed

	return result, nil
}

// detectDeletions is SPEC_FULL's supplemented null-alias pass: any path
// visible before this run started but not observed by the scanner gets a
// null alias timestamped at the scan's start time. It is a separate pass,
// not folded into the scanner, so that a partial or timed-out run never
// marks a file deleted just because the run didn't get to it.
func (c *Coordinator) detectDeletions(ctx context.Context, startMs int64, observed map[string]bool) error {
	previouslyVisible, err := c.idx.VisiblePathsAt(ctx, startMs-1)
	if err != nil {
		return err
	}
	for path := range previouslyVisible {
		if observed[path] {
			continue
		}
		if err := c.idx.CommitNullAlias(ctx, path, startMs); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup removes superseded aliases older than retentionDays and any
// block objects/rows that become unreferenced as a result (§4.4, §4.7).
// Object is removed before row, per §3's Lifecycle note.
func (c *Coordinator) Cleanup(ctx context.Context, retentionDays int) (prunedAliases, reclaimedBlocks int, err error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()

	prunedAliases, err = c.idx.PruneSupersededAliases(ctx, cutoff)
	if err != nil {
		return 0, 0, err
	}

	unreferenced, err := c.idx.UnreferencedBlocks(ctx)
	if err != nil {
		return prunedAliases, 0, err
	}

	store := c.pl.Store()
	for _, b := range unreferenced {
		if err := store.Delete(b.Hash); err != nil {
			return prunedAliases, reclaimedBlocks, err
		}
		if err := c.idx.DeleteBlockRow(ctx, b.ID); err != nil {
			return prunedAliases, reclaimedBlocks, err
		}
		reclaimedBlocks++
	}
	return prunedAliases, reclaimedBlocks, nil
}
