package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/blog-autopilot/internal/db"
	"github.com/jonathan/blog-autopilot/internal/db/memstore"
	"github.com/jonathan/blog-autopilot/internal/pipeline"
	"github.com/jonathan/blog-autopilot/internal/types"
)

type stubRunner struct {
	mu      sync.Mutex
	starts  int
	resumes int

	startErr     error
	startResult  pipeline.RunResult
	resumeResult pipeline.RunResult
}

func (r *stubRunner) Start(_ context.Context, jobID uuid.UUID) (pipeline.RunResult, error) {
	r.mu.Lock()
	r.starts++
	r.mu.Unlock()
	if r.startErr != nil {
		return pipeline.RunResult{}, r.startErr
	}
	result := r.startResult
	result.JobID = jobID
	return result, nil
}

func (r *stubRunner) Resume(_ context.Context, runID uuid.UUID) (pipeline.RunResult, error) {
	r.mu.Lock()
	r.resumes++
	r.mu.Unlock()
	result := r.resumeResult
	result.RunID = runID
	return result, nil
}

func (r *stubRunner) counts() (starts, resumes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.resumes
}

func newScheduler(store db.Store, runner Runner) *Scheduler {
	return &Scheduler{
		Store:        store,
		Runner:       runner,
		Workers:      1,
		RequeueDelay: time.Minute,
		Float64:      func() float64 { return 0 },
	}
}

func submitJob(t *testing.T, s *Scheduler, spec types.ScheduleSpec) *types.Job {
	t.Helper()
	job := &types.Job{ID: uuid.New(), Topic: "Compost Basics", Schedule: spec}
	require.NoError(t, s.Submit(context.Background(), job))
	return job
}

func TestSubmitQueuesImmediateJob(t *testing.T) {
	store := memstore.New()
	runner := &stubRunner{startResult: pipeline.RunResult{Status: types.RunSucceeded}}
	s := newScheduler(store, runner)

	job := submitJob(t, s, types.ScheduleSpec{Mode: types.ModeDraft})

	stored, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Topic, stored.Topic)

	select {
	case queued := <-s.queue:
		assert.Equal(t, job.ID, queued)
	default:
		t.Fatal("job was not enqueued")
	}
}

func TestSubmitRejectsInvalidCron(t *testing.T) {
	s := newScheduler(memstore.New(), &stubRunner{})
	job := &types.Job{ID: uuid.New(), Topic: "Weekly roundup", CronExpr: "not a cron"}

	err := s.Submit(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}

func TestDispatchRunsJob(t *testing.T) {
	store := memstore.New()
	runner := &stubRunner{startResult: pipeline.RunResult{Status: types.RunSucceeded}}
	s := newScheduler(store, runner)
	job := submitJob(t, s, types.ScheduleSpec{Mode: types.ModeDraft})

	s.Dispatch(context.Background(), job.ID)
	assert.Equal(t, 1, runner.starts)
}

func TestDispatchSkipsCancelledJob(t *testing.T) {
	store := memstore.New()
	runner := &stubRunner{}
	s := newScheduler(store, runner)
	job := submitJob(t, s, types.ScheduleSpec{Mode: types.ModeDraft})
	require.NoError(t, store.RequestCancel(context.Background(), job.ID))

	s.Dispatch(context.Background(), job.ID)
	assert.Zero(t, runner.starts)
}

func TestDispatchIgnoresConcurrentRun(t *testing.T) {
	store := memstore.New()
	runner := &stubRunner{startErr: db.ErrJobRunning}
	s := newScheduler(store, runner)
	job := submitJob(t, s, types.ScheduleSpec{Mode: types.ModeDraft})

	// Must not panic, replay, or requeue: the trigger is a no-op.
	s.Dispatch(context.Background(), job.ID)
	assert.Equal(t, 1, runner.starts)
	assert.Zero(t, runner.resumes)
}

func TestDispatchDefersWhenQuotaReached(t *testing.T) {
	store := memstore.New()
	runner := &stubRunner{startResult: pipeline.RunResult{Status: types.RunSucceeded}}
	s := newScheduler(store, runner)
	s.MaxPublishesPerDay = 1

	require.NoError(t, store.RecordPublish(context.Background(), uuid.New(), uuid.New(), time.Now()))

	slept := make(chan time.Duration, 1)
	s.SleepFunc = func(_ context.Context, d time.Duration) error {
		slept <- d
		return nil
	}

	job := submitJob(t, s, types.ScheduleSpec{Mode: types.ModePublish})
	<-s.queue // drain the submit trigger

	s.Dispatch(context.Background(), job.ID)
	assert.Zero(t, runner.starts, "quota-blocked job must not run")

	select {
	case d := <-slept:
		assert.Equal(t, time.Minute, d, "deferral is the requeue delay plus jitter")
	case <-time.After(time.Second):
		t.Fatal("deferred job never slept")
	}
	require.Eventually(t, func() bool { return len(s.queue) == 1 }, time.Second, 10*time.Millisecond,
		"deferred job must be requeued, not dropped")
}

func TestDispatchDraftExemptFromQuota(t *testing.T) {
	store := memstore.New()
	runner := &stubRunner{startResult: pipeline.RunResult{Status: types.RunSucceeded}}
	s := newScheduler(store, runner)
	s.MaxPublishesPerDay = 1
	require.NoError(t, store.RecordPublish(context.Background(), uuid.New(), uuid.New(), time.Now()))

	job := submitJob(t, s, types.ScheduleSpec{Mode: types.ModeDraft})
	s.Dispatch(context.Background(), job.ID)
	assert.Equal(t, 1, runner.starts)
}

func TestAutoReplayIsBounded(t *testing.T) {
	store := memstore.New()
	runner := &stubRunner{
		startResult:  pipeline.RunResult{Status: types.RunReplayable, FailureKind: types.KindTransient},
		resumeResult: pipeline.RunResult{Status: types.RunReplayable, FailureKind: types.KindTransient},
	}
	s := newScheduler(store, runner)
	s.AutoReplayAttempts = 2

	job := submitJob(t, s, types.ScheduleSpec{Mode: types.ModeDraft})
	s.Dispatch(context.Background(), job.ID)

	assert.Equal(t, 1, runner.starts)
	assert.Equal(t, 2, runner.resumes, "auto-replay stops at its bound")
}

func TestAutoReplayStopsOnSuccess(t *testing.T) {
	store := memstore.New()
	runner := &stubRunner{
		startResult:  pipeline.RunResult{Status: types.RunReplayable, FailureKind: types.KindTransient},
		resumeResult: pipeline.RunResult{Status: types.RunSucceeded},
	}
	s := newScheduler(store, runner)
	s.AutoReplayAttempts = 5

	job := submitJob(t, s, types.ScheduleSpec{Mode: types.ModeDraft})
	s.Dispatch(context.Background(), job.ID)

	assert.Equal(t, 1, runner.resumes)
}

func TestSubmitArmsCronTrigger(t *testing.T) {
	store := memstore.New()
	s := newScheduler(store, &stubRunner{})

	job := &types.Job{ID: uuid.New(), Topic: "Weekly roundup", CronExpr: "0 9 * * 1",
		Schedule: types.ScheduleSpec{Mode: types.ModeDraft}}
	require.NoError(t, s.Submit(context.Background(), job))
	defer s.cron.Stop()

	assert.Len(t, s.cron.Entries(), 1)
	assert.Empty(t, s.queue, "recurring jobs fire on their schedule, not at submit")
}

func TestArmCronIsIdempotentPerJob(t *testing.T) {
	s := newScheduler(memstore.New(), &stubRunner{})
	job := &types.Job{ID: uuid.New(), CronExpr: "@hourly"}

	require.NoError(t, s.armCron(job))
	require.NoError(t, s.armCron(job))
	defer s.cron.Stop()

	assert.Len(t, s.cron.Entries(), 1, "re-arming must not double the trigger")
}

func TestRunRearmsPersistedRecurringJobs(t *testing.T) {
	store := memstore.New()
	s := newScheduler(store, &stubRunner{})
	s.init()

	recurring := &types.Job{ID: uuid.New(), Topic: "Weekly roundup", CronExpr: "0 9 * * 1",
		Schedule: types.ScheduleSpec{Mode: types.ModePublish}}
	cancelled := &types.Job{ID: uuid.New(), Topic: "Old series", CronExpr: "@daily",
		CancelRequested: true}
	require.NoError(t, store.CreateJob(context.Background(), recurring))
	require.NoError(t, store.CreateJob(context.Background(), cancelled))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.armed) == 1
	}, time.Second, 10*time.Millisecond, "a restart must re-arm surviving recurring jobs")
	s.mu.Lock()
	_, armed := s.armed[recurring.ID]
	s.mu.Unlock()
	assert.True(t, armed)

	cancel()
	assert.NoError(t, <-done)
}

func TestDispatchDefersWhenHourlyQuotaReached(t *testing.T) {
	store := memstore.New()
	runner := &stubRunner{startResult: pipeline.RunResult{Status: types.RunSucceeded}}
	s := newScheduler(store, runner)
	s.MaxPublishesPerHour = 1

	require.NoError(t, store.RecordPublish(context.Background(), uuid.New(), uuid.New(),
		time.Now().Add(-30*time.Minute)))

	slept := make(chan time.Duration, 1)
	s.SleepFunc = func(_ context.Context, d time.Duration) error {
		slept <- d
		return nil
	}

	job := submitJob(t, s, types.ScheduleSpec{Mode: types.ModePublish})
	<-s.queue

	s.Dispatch(context.Background(), job.ID)
	assert.Zero(t, runner.starts, "hourly quota must gate publish dispatch")

	select {
	case <-slept:
	case <-time.After(time.Second):
		t.Fatal("deferred job never slept")
	}
}

func TestHourlyQuotaIgnoresOldPublishes(t *testing.T) {
	store := memstore.New()
	runner := &stubRunner{startResult: pipeline.RunResult{Status: types.RunSucceeded}}
	s := newScheduler(store, runner)
	s.MaxPublishesPerHour = 1

	require.NoError(t, store.RecordPublish(context.Background(), uuid.New(), uuid.New(),
		time.Now().Add(-2*time.Hour)))

	job := submitJob(t, s, types.ScheduleSpec{Mode: types.ModePublish})
	<-s.queue

	s.Dispatch(context.Background(), job.ID)
	assert.Equal(t, 1, runner.starts)
}

type blockingRunner struct {
	stubRunner
	started chan struct{}
	release chan struct{}
}

func (r *blockingRunner) Start(_ context.Context, jobID uuid.UUID) (pipeline.RunResult, error) {
	r.mu.Lock()
	r.starts++
	r.mu.Unlock()
	r.started <- struct{}{}
	<-r.release
	return pipeline.RunResult{JobID: jobID, Status: types.RunSucceeded}, nil
}

func TestConcurrentDispatchReservesQuotaSlot(t *testing.T) {
	store := memstore.New()
	runner := &blockingRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := newScheduler(store, runner)
	s.MaxPublishesPerDay = 1

	slept := make(chan time.Duration, 1)
	s.SleepFunc = func(_ context.Context, d time.Duration) error {
		slept <- d
		return nil
	}

	first := submitJob(t, s, types.ScheduleSpec{Mode: types.ModePublish})
	second := submitJob(t, s, types.ScheduleSpec{Mode: types.ModePublish})
	<-s.queue
	<-s.queue

	firstDone := make(chan struct{})
	go func() {
		s.Dispatch(context.Background(), first.ID)
		close(firstDone)
	}()
	<-runner.started

	// No publish is recorded yet, but the first run holds the only slot.
	s.Dispatch(context.Background(), second.ID)
	starts, _ := runner.counts()
	assert.Equal(t, 1, starts, "second worker must not sneak past the quota mid-run")

	select {
	case <-slept:
	case <-time.After(time.Second):
		t.Fatal("quota-blocked job was not deferred")
	}

	close(runner.release)
	<-firstDone
}

func TestRunProcessesQueue(t *testing.T) {
	store := memstore.New()
	runner := &stubRunner{startResult: pipeline.RunResult{Status: types.RunSucceeded}}
	s := newScheduler(store, runner)
	job := submitJob(t, s, types.ScheduleSpec{Mode: types.ModeDraft})
	_ = job

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { starts, _ := runner.counts(); return starts == 1 },
		time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
