// Package db provides PostgreSQL persistence for jobs, runs, step
// outcomes and the idempotency ledger.
package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/blog-autopilot/internal/types"
)

// ErrJobRunning is returned by ClaimRun when the job already has a
// running run. Claiming is the per-job mutual exclusion lock.
var ErrJobRunning = errors.New("job already has a running run")

// ErrNotFound is returned when a job or run id does not exist.
var ErrNotFound = errors.New("not found")

// Store is the durable state shared by the scheduler and the pipeline
// executor. All mutations are single-row upserts keyed by job or run id
// and are atomic, so racing workers cannot create duplicate remote
// artifacts. Implemented by *DB (PostgreSQL) and memstore.Store.
type Store interface {
	CreateJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*types.Job, error)
	ListJobs(ctx context.Context, limit int) ([]types.Job, error)
	// ListRecurring returns every job with a cron expression, for
	// re-arming triggers on scheduler startup.
	ListRecurring(ctx context.Context) ([]types.Job, error)
	RequestCancel(ctx context.Context, jobID uuid.UUID) error
	CancelRequested(ctx context.Context, jobID uuid.UUID) (bool, error)

	// ClaimRun atomically creates a running run for the job, failing
	// with ErrJobRunning when one exists.
	ClaimRun(ctx context.Context, jobID uuid.UUID) (*types.Run, error)
	// ReclaimRun atomically moves a failed or replayable run back to
	// running for replay, honoring the same exclusion lock.
	ReclaimRun(ctx context.Context, runID uuid.UUID) (*types.Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (*types.Run, error)
	ListRuns(ctx context.Context, jobID uuid.UUID) ([]types.Run, error)
	SetCurrentStep(ctx context.Context, runID uuid.UUID, step string) error
	FinishRun(ctx context.Context, runID uuid.UUID, status types.RunStatus, kind types.ErrorKind, detail string) error
	// SupersedeRuns invalidates (never deletes) a job's terminal runs
	// before a from-scratch replay.
	SupersedeRuns(ctx context.Context, jobID uuid.UUID) error

	RecordOutcome(ctx context.Context, outcome *types.StepOutcome) error
	ListOutcomes(ctx context.Context, runID uuid.UUID) ([]types.StepOutcome, error)

	GetMedia(ctx context.Context, jobID uuid.UUID, contentHash string) (int64, bool, error)
	PutMedia(ctx context.Context, jobID uuid.UUID, contentHash string, mediaID int64) error
	GetPostRef(ctx context.Context, jobID uuid.UUID) (*types.PostRef, error)
	PutPostRef(ctx context.Context, ref *types.PostRef) error

	CountPublishesSince(ctx context.Context, since time.Time) (int, error)
	RecordPublish(ctx context.Context, jobID, runID uuid.UUID, at time.Time) error
}
