package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/blog-autopilot/internal/db"
	"github.com/jonathan/blog-autopilot/internal/db/memstore"
	"github.com/jonathan/blog-autopilot/internal/generate"
	"github.com/jonathan/blog-autopilot/internal/retry"
	"github.com/jonathan/blog-autopilot/internal/types"
	"github.com/jonathan/blog-autopilot/internal/wp"
)

// fakeGen implements all four generation interfaces with counters and
// injectable transient failures.
type fakeGen struct {
	calls    map[string]int
	failures map[string]int
}

func newFakeGen() *fakeGen {
	return &fakeGen{calls: map[string]int{}, failures: map[string]int{}}
}

func (g *fakeGen) step(name string) error {
	g.calls[name]++
	if g.failures[name] > 0 {
		g.failures[name]--
		return types.Transient(name+" flaked", errors.New("synthetic"))
	}
	return nil
}

func (g *fakeGen) Research(_ context.Context, d types.ContentDraft) (types.ContentDraft, error) {
	if err := g.step(StepResearch); err != nil {
		return d, err
	}
	next := d.Next()
	next.ResearchNotes = []string{"note one", "note two"}
	return next, nil
}

func (g *fakeGen) Outline(_ context.Context, d types.ContentDraft) (types.ContentDraft, error) {
	if err := g.step(StepOutline); err != nil {
		return d, err
	}
	next := d.Next()
	next.Outline = []string{"Intro", "Body", "Conclusion"}
	return next, nil
}

func (g *fakeGen) Write(_ context.Context, d types.ContentDraft) (types.ContentDraft, error) {
	if err := g.step(StepDraft); err != nil {
		return d, err
	}
	next := d.Next()
	next.Title = "Generated Title"
	next.BodyHTML = "<p>" + strings.Repeat("word ", 600) + "</p>"
	return next, nil
}

func (g *fakeGen) Rewrite(_ context.Context, d types.ContentDraft) (types.ContentDraft, error) {
	if err := g.step(StepRewriteSEO); err != nil {
		return d, err
	}
	next := d.Next()
	next.Title = "SEO Title"
	next.Excerpt = strings.Repeat("an excerpt long enough to pass the gate ", 3)
	next.Slug = "seo-title"
	next.SEOKeywords = []string{"seo", "title"}
	return next, nil
}

func (g *fakeGen) suite() generate.Suite {
	return generate.Suite{Researcher: g, Outliner: g, Writer: g, SEO: g}
}

// fakeAdapter counts each adapter call and supports transient failure
// injection per operation.
type fakeAdapter struct {
	upserts, uploads, taxonomies, schedules, reads int

	failTaxonomy int
	failUpload   int
	failRead     int

	nextMediaID int64
	// effDate overrides the effective datetime ReadPost reports; nil
	// means echo the requested schedule back exactly.
	effDate *time.Time

	lastDraft types.ContentDraft
	lastSpec  types.ScheduleSpec
}

func (a *fakeAdapter) UpsertPost(_ context.Context, fingerprint string, draft types.ContentDraft, prior *types.PostRef) (types.PostRef, error) {
	a.upserts++
	a.lastDraft = draft
	postID := int64(101)
	if prior != nil {
		postID = prior.PostID
	}
	return types.PostRef{
		Fingerprint: fingerprint,
		PostID:      postID,
		URL:         "https://example.test/?p=101",
		Status:      "draft",
	}, nil
}

func (a *fakeAdapter) UploadMedia(_ context.Context, _ string, _ []byte, _, _, _ string) (wp.MediaRef, error) {
	a.uploads++
	if a.failUpload > 0 {
		a.failUpload--
		return wp.MediaRef{}, types.Transient("upload flaked", errors.New("synthetic"))
	}
	a.nextMediaID++
	return wp.MediaRef{ID: a.nextMediaID, SourceURL: fmt.Sprintf("https://example.test/media/%d", a.nextMediaID)}, nil
}

func (a *fakeAdapter) ResolveTaxonomy(_ context.Context, _ wp.TaxonomyKind, names []string) ([]wp.TermRef, error) {
	a.taxonomies++
	if a.failTaxonomy > 0 {
		a.failTaxonomy--
		return nil, types.Transient("taxonomy flaked", errors.New("synthetic"))
	}
	terms := make([]wp.TermRef, len(names))
	for i, n := range names {
		terms[i] = wp.TermRef{ID: int64(i + 1), Name: n}
	}
	return terms, nil
}

func (a *fakeAdapter) SetSchedule(_ context.Context, ref types.PostRef, spec types.ScheduleSpec) (wp.EffectiveStatus, error) {
	a.schedules++
	a.lastSpec = spec
	return a.effective(spec), nil
}

func (a *fakeAdapter) ReadPost(_ context.Context, _ types.PostRef) (wp.EffectiveStatus, error) {
	a.reads++
	if a.failRead > 0 {
		a.failRead--
		return wp.EffectiveStatus{}, types.Transient("read flaked", errors.New("synthetic"))
	}
	return a.effective(a.lastSpec), nil
}

func (a *fakeAdapter) effective(spec types.ScheduleSpec) wp.EffectiveStatus {
	eff := wp.EffectiveStatus{Status: "draft"}
	switch spec.Mode {
	case types.ModePublish:
		eff.Status = "publish"
	case types.ModeSchedule:
		eff.Status = "future"
		eff.Date = spec.At
		if a.effDate != nil {
			eff.Date = a.effDate
		}
	}
	return eff
}

// fakeMedia picks one synthetic asset; fakeReader serves its bytes.
type fakeMedia struct {
	selects int
	asset   *types.ImageAsset
}

func (m *fakeMedia) Select(_ context.Context, d types.ContentDraft) (types.ContentDraft, error) {
	m.selects++
	next := d.Next()
	if m.asset != nil {
		next.Images = append(next.Images, *m.asset)
	}
	return next, nil
}

func (m *fakeMedia) Read(_ context.Context, _ types.ImageAsset) ([]byte, string, error) {
	return []byte("png-bytes"), "image/png", nil
}

type passChecker struct{ checks int }

func (c *passChecker) Check(_ context.Context, _ types.ContentDraft) (types.QualityVerdict, error) {
	c.checks++
	return types.QualityVerdict{Passed: true, Score: 95}, nil
}

type vetoChecker struct{}

func (vetoChecker) Check(_ context.Context, _ types.ContentDraft) (types.QualityVerdict, error) {
	return types.QualityVerdict{Passed: false, Score: 40, Issues: []string{"body too short"}}, nil
}

type env struct {
	store   *memstore.Store
	adapter *fakeAdapter
	gen     *fakeGen
	media   *fakeMedia
	quality *passChecker
	exec    *Executor
	sleeps  []time.Duration
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:   memstore.New(),
		adapter: &fakeAdapter{},
		gen:     newFakeGen(),
		media: &fakeMedia{asset: &types.ImageAsset{
			Path:        "/img/gopher.png",
			AltText:     "a gopher",
			Featured:    true,
			ContentHash: types.ContentHash([]byte("png-bytes")),
		}},
		quality: &passChecker{},
	}
	policy := retry.Default()
	policy.MaxNetworkAttempts = 3
	policy.Float64 = func() float64 { return 0.5 }
	e.exec = &Executor{
		Store:   e.store,
		Adapter: e.adapter,
		Gen:     e.gen.suite(),
		Media:   e.media,
		Reader:  e.media,
		Quality: e.quality,
		Policy:  policy,
		SleepFunc: func(_ context.Context, d time.Duration) error {
			e.sleeps = append(e.sleeps, d)
			return nil
		},
	}
	return e
}

func (e *env) newJob(t *testing.T, spec types.ScheduleSpec) *types.Job {
	t.Helper()
	job := &types.Job{
		ID:         uuid.New(),
		Topic:      "Growing Tomatoes Indoors",
		Schedule:   spec,
		Categories: []string{"Gardening"},
		Tags:       []string{"tomatoes", "indoor"},
	}
	require.NoError(t, e.store.CreateJob(context.Background(), job))
	return job
}

func (e *env) claim(t *testing.T, jobID uuid.UUID) *types.Run {
	t.Helper()
	run, err := e.store.ClaimRun(context.Background(), jobID)
	require.NoError(t, err)
	return run
}

func TestAdvanceHappyPathDraftMode(t *testing.T) {
	e := newEnv(t)
	job := e.newJob(t, types.ScheduleSpec{Mode: types.ModeDraft})
	run := e.claim(t, job.ID)

	result, err := e.exec.Advance(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, result.Status)
	require.NotNil(t, result.PostRef)
	assert.Equal(t, int64(101), result.PostRef.PostID)

	outcomes, err := e.store.ListOutcomes(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, len(Sequence))
	for i, o := range outcomes {
		assert.Equal(t, Sequence[i], o.Step, "outcomes must be recorded in pipeline order")
		assert.Equal(t, types.StepCompleted, o.Status)
		assert.Equal(t, 1, o.Attempt)
	}

	assert.Equal(t, 1, e.adapter.upserts)
	assert.Equal(t, 1, e.adapter.uploads)
	assert.Equal(t, 2, e.adapter.taxonomies, "one resolve per taxonomy kind")
	assert.Equal(t, 1, e.adapter.schedules)
	assert.Equal(t, 1, e.adapter.reads)

	// Drafts do not count against the publish quota.
	n, err := e.store.CountPublishesSince(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAdvanceRecordsPublishForQuotaModes(t *testing.T) {
	e := newEnv(t)
	job := e.newJob(t, types.ScheduleSpec{Mode: types.ModePublish})
	run := e.claim(t, job.ID)

	result, err := e.exec.Advance(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, types.RunSucceeded, result.Status)

	n, err := e.store.CountPublishesSince(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTransientFailureRetriesWithinStep(t *testing.T) {
	e := newEnv(t)
	e.gen.failures[StepResearch] = 2

	job := e.newJob(t, types.ScheduleSpec{Mode: types.ModeDraft})
	run := e.claim(t, job.ID)

	result, err := e.exec.Advance(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, result.Status)
	assert.Equal(t, 3, e.gen.calls[StepResearch])
	assert.Len(t, e.sleeps, 2)
	assert.Less(t, e.sleeps[0], e.sleeps[1], "backoff must grow between attempts")

	outcomes, err := e.store.ListOutcomes(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, outcomes[0].Attempt, "completing attempt is the one persisted")
}

func TestExhaustedTransientLeavesRunReplayable(t *testing.T) {
	e := newEnv(t)
	e.gen.failures[StepResearch] = 10

	job := e.newJob(t, types.ScheduleSpec{Mode: types.ModeDraft})
	run := e.claim(t, job.ID)

	result, err := e.exec.Advance(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunReplayable, result.Status)
	assert.Equal(t, types.KindTransient, result.FailureKind)
	assert.Equal(t, 3, e.gen.calls[StepResearch], "attempts capped by policy")
	assert.Zero(t, e.adapter.upserts, "no remote call before the failing step")

	stored, err := e.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunReplayable, stored.Status)
}

func TestQualityVetoIsTerminal(t *testing.T) {
	e := newEnv(t)
	e.exec.Quality = vetoChecker{}

	job := e.newJob(t, types.ScheduleSpec{Mode: types.ModeDraft})
	run := e.claim(t, job.ID)

	result, err := e.exec.Advance(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, result.Status)
	assert.Equal(t, types.KindQualityVeto, result.FailureKind)
	assert.Contains(t, result.Detail, "body too short")

	// Vetoed content never reaches the platform.
	assert.Zero(t, e.adapter.uploads)
	assert.Zero(t, e.adapter.upserts)
	assert.Zero(t, e.adapter.schedules)
}

func TestResumeSkipsDurablyCompletedSteps(t *testing.T) {
	e := newEnv(t)
	e.adapter.failTaxonomy = 10

	job := e.newJob(t, types.ScheduleSpec{Mode: types.ModeDraft})
	run := e.claim(t, job.ID)

	result, err := e.exec.Advance(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, types.RunReplayable, result.Status)
	assert.Equal(t, types.KindPartialFailure, result.FailureKind,
		"media already uploaded, so the failure is partial")
	assert.Equal(t, 1, e.adapter.uploads)

	genCallsBefore := map[string]int{}
	for k, v := range e.gen.calls {
		genCallsBefore[k] = v
	}

	e.adapter.failTaxonomy = 0
	replayer := &Replayer{Executor: e.exec}
	result, err = replayer.Resume(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, result.Status)

	// Generation steps completed durably in the first pass and must not
	// re-execute.
	assert.Equal(t, genCallsBefore, e.gen.calls)
	assert.Equal(t, 1, e.media.selects)
	// The uploaded asset is served from the ledger, not re-uploaded.
	assert.Equal(t, 1, e.adapter.uploads)
	assert.Equal(t, 1, e.adapter.upserts)
}

func TestReplayReusesLedgeredUpload(t *testing.T) {
	e := newEnv(t)
	e.adapter.failUpload = 1

	job := e.newJob(t, types.ScheduleSpec{Mode: types.ModeDraft})
	run := e.claim(t, job.ID)

	result, err := e.exec.Advance(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, types.RunSucceeded, result.Status, "one flake retries within the step")
	assert.Equal(t, 2, e.adapter.uploads)

	// A from-scratch replay regenerates content but the ledger still
	// short-circuits the upload and the post is updated, not duplicated.
	replayer := &Replayer{Executor: e.exec}
	result, err = replayer.FromScratch(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, types.RunSucceeded, result.Status)
	assert.Equal(t, 2, e.adapter.uploads, "ledger hit skips the adapter")
	require.NotNil(t, result.PostRef)
	assert.Equal(t, int64(101), result.PostRef.PostID, "same remote post across replays")
}

func TestScheduleFidelityConfirmed(t *testing.T) {
	e := newEnv(t)
	at := time.Date(2026, 9, 14, 9, 30, 0, 0, time.UTC)
	job := e.newJob(t, types.ScheduleSpec{Mode: types.ModeSchedule, At: &at})
	run := e.claim(t, job.ID)

	result, err := e.exec.Advance(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, result.Status)
	assert.Equal(t, "future", e.adapter.effective(e.adapter.lastSpec).Status)

	n, err := e.store.CountPublishesSince(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "scheduling counts against the quota like publishing")
}

func TestScheduleDriftBeyondToleranceFails(t *testing.T) {
	e := newEnv(t)
	e.exec.ScheduleTolerance = time.Minute

	at := time.Date(2026, 9, 14, 9, 30, 0, 0, time.UTC)
	drifted := at.Add(5 * time.Minute)
	e.adapter.effDate = &drifted

	job := e.newJob(t, types.ScheduleSpec{Mode: types.ModeSchedule, At: &at})
	run := e.claim(t, job.ID)

	result, err := e.exec.Advance(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, result.Status)
	assert.Equal(t, types.KindPermanent, result.FailureKind)
	assert.Contains(t, result.Detail, "drift")
}

func TestScheduleDriftWithinToleranceAccepted(t *testing.T) {
	e := newEnv(t)
	e.exec.ScheduleTolerance = time.Minute

	at := time.Date(2026, 9, 14, 9, 30, 0, 0, time.UTC)
	drifted := at.Add(30 * time.Second)
	e.adapter.effDate = &drifted

	job := e.newJob(t, types.ScheduleSpec{Mode: types.ModeSchedule, At: &at})
	run := e.claim(t, job.ID)

	result, err := e.exec.Advance(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, result.Status)
}

func TestCancelHonoredAtStepBoundary(t *testing.T) {
	e := newEnv(t)
	job := e.newJob(t, types.ScheduleSpec{Mode: types.ModeDraft})
	run := e.claim(t, job.ID)
	require.NoError(t, e.store.RequestCancel(context.Background(), job.ID))

	result, err := e.exec.Advance(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, result.Status)
	assert.Equal(t, types.KindCancelled, result.FailureKind)
	assert.Zero(t, e.gen.calls[StepResearch], "no step starts after cancellation")
}

func TestClaimEnforcesSingleRunningRun(t *testing.T) {
	e := newEnv(t)
	job := e.newJob(t, types.ScheduleSpec{Mode: types.ModeDraft})
	_ = e.claim(t, job.ID)

	_, err := e.store.ClaimRun(context.Background(), job.ID)
	assert.ErrorIs(t, err, db.ErrJobRunning)
}

func TestRetryAfterHintOverridesBackoff(t *testing.T) {
	policy := retry.Default()
	policy.Float64 = func() float64 { return 0.5 }

	d := policy.Decide(1, retry.ClassNetwork, types.KindTransient, 30*time.Second)
	require.True(t, d.Retry)
	assert.Equal(t, 30*time.Second, d.After)
}

func TestLatestReplayable(t *testing.T) {
	e := newEnv(t)
	e.gen.failures[StepResearch] = 10
	job := e.newJob(t, types.ScheduleSpec{Mode: types.ModeDraft})
	run := e.claim(t, job.ID)

	_, err := e.exec.Advance(context.Background(), run.ID)
	require.NoError(t, err)

	replayer := &Replayer{Executor: e.exec}
	found, err := replayer.LatestReplayable(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, found.ID)

	require.NoError(t, e.store.SupersedeRuns(context.Background(), job.ID))
	_, err = replayer.LatestReplayable(context.Background(), job.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}
