// Package memstore provides an in-process Store implementation with the
// same atomicity guarantees as the PostgreSQL store. It backs unit tests
// and local dry runs that have no database available.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/blog-autopilot/internal/db"
	"github.com/jonathan/blog-autopilot/internal/types"
)

// Store keeps all state behind one mutex so that claim operations are
// atomic, mirroring the partial unique index the SQL schema uses for
// the per-job lock.
type Store struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*types.Job
	runs      map[uuid.UUID]*types.Run
	outcomes  map[uuid.UUID][]types.StepOutcome
	media     map[string]int64
	postRefs  map[uuid.UUID]types.PostRef
	publishes []time.Time
}

var _ db.Store = (*Store)(nil)

// New creates an empty in-process store.
func New() *Store {
	return &Store{
		jobs:     make(map[uuid.UUID]*types.Job),
		runs:     make(map[uuid.UUID]*types.Run),
		outcomes: make(map[uuid.UUID][]types.StepOutcome),
		media:    make(map[string]int64),
		postRefs: make(map[uuid.UUID]types.PostRef),
	}
}

func (s *Store) CreateJob(_ context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *Store) ListJobs(_ context.Context, limit int) ([]types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]types.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *Store) ListRecurring(_ context.Context) ([]types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []types.Job
	for _, job := range s.jobs {
		if job.CronExpr != "" {
			jobs = append(jobs, *job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

func (s *Store) RequestCancel(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return db.ErrNotFound
	}
	job.CancelRequested = true
	return nil
}

func (s *Store) CancelRequested(_ context.Context, jobID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, db.ErrNotFound
	}
	return job.CancelRequested, nil
}

func (s *Store) ClaimRun(_ context.Context, jobID uuid.UUID) (*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.runs {
		if run.JobID == jobID && run.Status == types.RunRunning {
			return nil, db.ErrJobRunning
		}
	}
	run := &types.Run{
		ID:        uuid.New(),
		JobID:     jobID,
		Status:    types.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	s.runs[run.ID] = run
	copied := *run
	return &copied, nil
}

func (s *Store) ReclaimRun(_ context.Context, runID uuid.UUID) (*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok || run.Superseded || (run.Status != types.RunFailed && run.Status != types.RunReplayable) {
		return nil, db.ErrNotFound
	}
	for _, other := range s.runs {
		if other.JobID == run.JobID && other.Status == types.RunRunning {
			return nil, db.ErrJobRunning
		}
	}
	run.Status = types.RunRunning
	run.FailureKind = ""
	run.FailureDetail = ""
	run.FinishedAt = nil
	copied := *run
	return &copied, nil
}

func (s *Store) GetRun(_ context.Context, id uuid.UUID) (*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *run
	return &copied, nil
}

func (s *Store) ListRuns(_ context.Context, jobID uuid.UUID) ([]types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var runs []types.Run
	for _, run := range s.runs {
		if run.JobID == jobID {
			runs = append(runs, *run)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	return runs, nil
}

func (s *Store) SetCurrentStep(_ context.Context, runID uuid.UUID, step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return db.ErrNotFound
	}
	run.CurrentStep = step
	return nil
}

func (s *Store) FinishRun(_ context.Context, runID uuid.UUID, status types.RunStatus, kind types.ErrorKind, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return db.ErrNotFound
	}
	now := time.Now().UTC()
	run.Status = status
	run.FailureKind = kind
	run.FailureDetail = detail
	run.FinishedAt = &now
	return nil
}

func (s *Store) SupersedeRuns(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.runs {
		if run.JobID == jobID && run.Status != types.RunRunning {
			run.Superseded = true
		}
	}
	return nil
}

func (s *Store) RecordOutcome(_ context.Context, outcome *types.StepOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if outcome.ID == uuid.Nil {
		outcome.ID = uuid.New()
	}
	if outcome.CreatedAt.IsZero() {
		outcome.CreatedAt = time.Now().UTC()
	}
	copied := *outcome
	if outcome.Draft != nil {
		draft := outcome.Draft.Next()
		draft.Version = outcome.Draft.Version
		copied.Draft = &draft
	}
	s.outcomes[outcome.RunID] = append(s.outcomes[outcome.RunID], copied)
	return nil
}

func (s *Store) ListOutcomes(_ context.Context, runID uuid.UUID) ([]types.StepOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.StepOutcome(nil), s.outcomes[runID]...), nil
}

func (s *Store) GetMedia(_ context.Context, jobID uuid.UUID, contentHash string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.media[jobID.String()+"/"+contentHash]
	return id, ok, nil
}

func (s *Store) PutMedia(_ context.Context, jobID uuid.UUID, contentHash string, mediaID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := jobID.String() + "/" + contentHash
	if _, exists := s.media[key]; !exists {
		s.media[key] = mediaID
	}
	return nil
}

func (s *Store) GetPostRef(_ context.Context, jobID uuid.UUID) (*types.PostRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.postRefs[jobID]
	if !ok {
		return nil, nil
	}
	return &ref, nil
}

func (s *Store) PutPostRef(_ context.Context, ref *types.PostRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now().UTC()
	}
	s.postRefs[ref.JobID] = *ref
	return nil
}

func (s *Store) CountPublishesSince(_ context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, at := range s.publishes {
		if !at.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) RecordPublish(_ context.Context, _, _ uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishes = append(s.publishes, at)
	return nil
}
