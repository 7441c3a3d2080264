package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/blog-autopilot/internal/db"
	"github.com/jonathan/blog-autopilot/internal/types"
)

// Replayer restarts terminal runs. Both modes go through the store's
// claim semantics, so a replay can never race a live run for the same
// job.
type Replayer struct {
	Executor *Executor
}

// Start claims a fresh run for the job and drives it to a terminal
// state. db.ErrJobRunning passes through untouched so callers can treat
// a concurrent run as a no-op.
func (r *Replayer) Start(ctx context.Context, jobID uuid.UUID) (RunResult, error) {
	run, err := r.Executor.Store.ClaimRun(ctx, jobID)
	if err != nil {
		return RunResult{}, err
	}
	return r.Executor.Advance(ctx, run.ID)
}

// Resume reclaims a failed or replayable run and continues it from the
// step after its last durable outcome. Ledgered media uploads and the
// post reference are reused, never recreated.
func (r *Replayer) Resume(ctx context.Context, runID uuid.UUID) (RunResult, error) {
	run, err := r.Executor.Store.ReclaimRun(ctx, runID)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to reclaim run %s: %w", runID, err)
	}
	return r.Executor.Advance(ctx, run.ID)
}

// FromScratch supersedes the job's terminal runs and claims a new one.
// Generation restarts at the first step but the idempotency ledger
// still applies: remote artifacts from superseded runs are updated in
// place, not duplicated.
func (r *Replayer) FromScratch(ctx context.Context, jobID uuid.UUID) (RunResult, error) {
	if err := r.Executor.Store.SupersedeRuns(ctx, jobID); err != nil {
		return RunResult{}, fmt.Errorf("failed to supersede runs for job %s: %w", jobID, err)
	}
	run, err := r.Executor.Store.ClaimRun(ctx, jobID)
	if err != nil {
		return RunResult{}, err
	}
	return r.Executor.Advance(ctx, run.ID)
}

// LatestReplayable returns the job's most recent non-superseded run
// that can be resumed, or db.ErrNotFound.
func (r *Replayer) LatestReplayable(ctx context.Context, jobID uuid.UUID) (*types.Run, error) {
	runs, err := r.Executor.Store.ListRuns(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for i := len(runs) - 1; i >= 0; i-- {
		run := &runs[i]
		if run.Superseded {
			continue
		}
		if run.Status == types.RunReplayable || run.Status == types.RunFailed {
			return run, nil
		}
	}
	return nil, db.ErrNotFound
}
