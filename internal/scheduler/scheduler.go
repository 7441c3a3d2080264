// Package scheduler accepts jobs and dispatches pipeline runs across a
// bounded worker pool. Triggers are immediate, one-shot, or recurring
// cron expressions; the publish quota defers dispatch instead of
// dropping work.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/blog-autopilot/internal/db"
	"github.com/jonathan/blog-autopilot/internal/pipeline"
	"github.com/jonathan/blog-autopilot/internal/types"
)

// Runner drives one run to a terminal state. Implemented by
// *pipeline.Replayer.
type Runner interface {
	Start(ctx context.Context, jobID uuid.UUID) (pipeline.RunResult, error)
	Resume(ctx context.Context, runID uuid.UUID) (pipeline.RunResult, error)
}

// Scheduler owns the dispatch queue, the cron engine and the quota
// gate. One Scheduler runs per process; per-job exclusion is enforced
// by the store's claim, so even misconfigured overlapping triggers
// cannot start a second run for the same job.
type Scheduler struct {
	Store  db.Store
	Runner Runner

	// Workers bounds concurrent runs.
	Workers int
	// MaxPublishesPerDay caps publish and schedule actions in a rolling
	// 24h window. Zero disables the daily quota.
	MaxPublishesPerDay int
	// MaxPublishesPerHour caps the same actions in a rolling 1h window.
	// Zero disables the hourly quota.
	MaxPublishesPerHour int
	// RequeueDelay is how long a quota-deferred job waits before its
	// next dispatch attempt.
	RequeueDelay time.Duration
	// RequeueJitter is the fraction of RequeueDelay added as random
	// jitter so deferred jobs do not stampede. Zero disables jitter.
	RequeueJitter float64
	// AutoReplayAttempts bounds how many times a replayable run is
	// resumed automatically before it is left for an operator.
	AutoReplayAttempts int
	Verbose            bool

	// Test hooks.
	NowFunc   func() time.Time
	SleepFunc func(ctx context.Context, d time.Duration) error
	Float64   func() float64

	initOnce sync.Once
	queue    chan uuid.UUID
	cron     *cron.Cron

	mu    sync.Mutex
	armed map[uuid.UUID]cron.EntryID
	// inflight holds publish-mode jobs admitted past the quota gate
	// whose runs have not yet recorded their publish. Counting them
	// keeps concurrent workers from overshooting the quota between
	// their own checks.
	inflight map[uuid.UUID]bool
}

const (
	dayWindow  = 24 * time.Hour
	hourWindow = time.Hour
)

// init builds the queue, the cron engine and the bookkeeping maps
// exactly once, so Submit, Enqueue and Run can race freely.
func (s *Scheduler) init() {
	s.initOnce.Do(func() {
		s.queue = make(chan uuid.UUID, 256)
		s.cron = cron.New()
		s.armed = make(map[uuid.UUID]cron.EntryID)
		s.inflight = make(map[uuid.UUID]bool)
	})
}

func (s *Scheduler) now() time.Time {
	if s.NowFunc != nil {
		return s.NowFunc()
	}
	return time.Now()
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	if s.SleepFunc != nil {
		return s.SleepFunc(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Scheduler) rand() float64 {
	if s.Float64 != nil {
		return s.Float64()
	}
	return rand.Float64()
}

// Submit persists the job and arms its trigger. Jobs without a cron
// expression are queued for immediate dispatch; recurring jobs fire on
// their schedule for as long as the cron engine lives.
func (s *Scheduler) Submit(ctx context.Context, job *types.Job) error {
	if job.CronExpr != "" {
		if _, err := cron.ParseStandard(job.CronExpr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", job.CronExpr, err)
		}
	}
	if err := s.Store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to persist job: %w", err)
	}
	if job.CronExpr != "" {
		return s.armCron(job)
	}
	s.Enqueue(job.ID)
	return nil
}

// Enqueue queues a job for dispatch. Safe to call from cron callbacks
// and HTTP handlers concurrently.
func (s *Scheduler) Enqueue(jobID uuid.UUID) {
	s.init()
	select {
	case s.queue <- jobID:
	default:
		// Queue full: the job is durable, a later trigger or manual
		// replay picks it up.
		log.Printf("dispatch queue full, dropping trigger for job %s", jobID)
	}
}

// armCron registers the job's recurring trigger and starts the cron
// engine. Arming is idempotent per job, so re-arming on worker startup
// cannot double-fire a trigger; AddFunc and Start are both safe on a
// running engine.
func (s *Scheduler) armCron(job *types.Job) error {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.armed[job.ID]; ok {
		return nil
	}
	jobID := job.ID
	entry, err := s.cron.AddFunc(job.CronExpr, func() { s.Enqueue(jobID) })
	if err != nil {
		return fmt.Errorf("failed to arm cron trigger: %w", err)
	}
	s.armed[job.ID] = entry
	s.cron.Start()
	return nil
}

// rearmRecurring arms every persisted recurring job so cron schedules
// survive process restarts. Called on Run startup.
func (s *Scheduler) rearmRecurring(ctx context.Context) error {
	jobs, err := s.Store.ListRecurring(ctx)
	if err != nil {
		return fmt.Errorf("failed to load recurring jobs: %w", err)
	}
	for i := range jobs {
		job := &jobs[i]
		if job.CancelRequested {
			continue
		}
		if err := s.armCron(job); err != nil {
			log.Printf("scheduler: job %s: %v", job.ID, err)
		}
	}
	return nil
}

// Run blocks dispatching queued jobs across the worker pool until ctx
// is cancelled. Persisted recurring jobs are re-armed first, so their
// triggers fire even when they were submitted by an earlier process.
func (s *Scheduler) Run(ctx context.Context) error {
	s.init()
	if err := s.rearmRecurring(ctx); err != nil {
		log.Printf("scheduler: %v", err)
	}
	s.cron.Start()
	defer s.cron.Stop()

	workers := s.Workers
	if workers <= 0 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case jobID := <-s.queue:
					s.Dispatch(ctx, jobID)
				}
			}
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Dispatch runs one job now, honoring the quota gate and the claim
// lock. Quota exhaustion requeues the job after a jittered delay; a
// concurrent run makes this trigger a logged no-op.
func (s *Scheduler) Dispatch(ctx context.Context, jobID uuid.UUID) {
	job, err := s.Store.GetJob(ctx, jobID)
	if err != nil {
		log.Printf("dispatch: failed to load job %s: %v", jobID, err)
		return
	}
	if job.CancelRequested {
		if s.Verbose {
			log.Printf("dispatch: job %s cancelled, skipping", jobID)
		}
		return
	}

	if deferFor, err := s.admitPublish(ctx, job); err != nil {
		log.Printf("dispatch: quota check failed for job %s: %v", jobID, err)
		return
	} else if deferFor > 0 {
		log.Printf("dispatch: publish quota reached, deferring job %s for %s", jobID, deferFor)
		go func() {
			if s.sleep(context.WithoutCancel(ctx), deferFor) == nil {
				s.Enqueue(jobID)
			}
		}()
		return
	}
	defer s.releasePublish(jobID)

	result, err := s.Runner.Start(ctx, jobID)
	if errors.Is(err, db.ErrJobRunning) {
		log.Printf("dispatch: job %s already running, trigger ignored", jobID)
		return
	}
	if err != nil {
		log.Printf("dispatch: job %s run failed: %v", jobID, err)
		return
	}
	s.settle(ctx, job, result)
}

// settle logs the terminal state and, for replayable runs, resumes up
// to AutoReplayAttempts times before leaving the run to an operator.
func (s *Scheduler) settle(ctx context.Context, job *types.Job, result pipeline.RunResult) {
	for replay := 0; result.Status == types.RunReplayable && replay < s.AutoReplayAttempts; replay++ {
		if s.Verbose {
			log.Printf("job %s run %s replayable (%s), auto-replay %d/%d",
				job.ID, result.RunID, result.FailureKind, replay+1, s.AutoReplayAttempts)
		}
		next, err := s.Runner.Resume(ctx, result.RunID)
		if err != nil {
			log.Printf("job %s auto-replay failed: %v", job.ID, err)
			return
		}
		result = next
	}

	switch result.Status {
	case types.RunSucceeded:
		if result.PostRef != nil {
			log.Printf("job %s published: post %d (%s)", job.ID, result.PostRef.PostID, result.PostRef.Status)
		} else {
			log.Printf("job %s succeeded", job.ID)
		}
	case types.RunReplayable:
		log.Printf("job %s run %s left replayable after %d auto-replays: %s",
			job.ID, result.RunID, s.AutoReplayAttempts, result.Detail)
	default:
		log.Printf("job %s failed (%s): %s", job.ID, result.FailureKind, result.Detail)
	}
}

// admitPublish reserves a quota slot for the job, or returns how long
// the dispatch must wait. Draft-mode jobs never wait. The reservation
// is held in inflight until the run finishes, closing the gap between
// a worker's quota read and its run recording the publish.
func (s *Scheduler) admitPublish(ctx context.Context, job *types.Job) (time.Duration, error) {
	if !job.Schedule.CountsAgainstQuota() {
		return 0, nil
	}
	if s.MaxPublishesPerDay <= 0 && s.MaxPublishesPerHour <= 0 {
		return 0, nil
	}
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, window := range []struct {
		max  int
		span time.Duration
	}{
		{s.MaxPublishesPerDay, dayWindow},
		{s.MaxPublishesPerHour, hourWindow},
	} {
		if window.max <= 0 {
			continue
		}
		count, err := s.Store.CountPublishesSince(ctx, now.Add(-window.span))
		if err != nil {
			return 0, err
		}
		if count+len(s.inflight) >= window.max {
			return s.requeueAfter(), nil
		}
	}
	s.inflight[job.ID] = true
	return 0, nil
}

// releasePublish drops the job's quota reservation. Safe to call for
// jobs that never reserved one.
func (s *Scheduler) releasePublish(jobID uuid.UUID) {
	s.mu.Lock()
	delete(s.inflight, jobID)
	s.mu.Unlock()
}

func (s *Scheduler) requeueAfter() time.Duration {
	delay := s.RequeueDelay
	if delay <= 0 {
		delay = 15 * time.Minute
	}
	return delay + time.Duration(s.rand()*s.RequeueJitter*float64(delay))
}
