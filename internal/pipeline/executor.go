package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/blog-autopilot/internal/db"
	"github.com/jonathan/blog-autopilot/internal/generate"
	"github.com/jonathan/blog-autopilot/internal/media"
	"github.com/jonathan/blog-autopilot/internal/quality"
	"github.com/jonathan/blog-autopilot/internal/retry"
	"github.com/jonathan/blog-autopilot/internal/types"
	"github.com/jonathan/blog-autopilot/internal/wp"
)

// RunResult reports the terminal state Advance left a run in.
type RunResult struct {
	RunID       uuid.UUID       `json:"run_id"`
	JobID       uuid.UUID       `json:"job_id"`
	Status      types.RunStatus `json:"status"`
	FailureKind types.ErrorKind `json:"failure_kind,omitempty"`
	Detail      string          `json:"detail,omitempty"`
	PostRef     *types.PostRef  `json:"post_ref,omitempty"`
}

// Executor runs one Run at a time through the step sequence. It is safe
// for concurrent use across distinct runs; the store's claim semantics
// guarantee no two workers ever hold the same run.
type Executor struct {
	Store   db.Store
	Adapter wp.Adapter
	Gen     generate.Suite
	Media   media.Selector
	Reader  media.Reader
	Quality quality.Checker
	Policy  retry.Policy

	// Validate, when set, checks every draft at a step boundary
	// (JSON-schema validation of the versioned payload).
	Validate func(types.ContentDraft) error

	// StepTimeout bounds each external call independently of backoff.
	StepTimeout time.Duration
	// ScheduleTolerance is the allowed drift between the requested and
	// effective publish datetime. Zero means exact.
	ScheduleTolerance time.Duration
	Verbose           bool

	// Test hooks; nil means real time.
	NowFunc   func() time.Time
	SleepFunc func(ctx context.Context, d time.Duration) error
}

func (e *Executor) now() time.Time {
	if e.NowFunc != nil {
		return e.NowFunc()
	}
	return time.Now()
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.SleepFunc != nil {
		return e.SleepFunc(ctx, d)
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

func (e *Executor) stepTimeout() time.Duration {
	if e.StepTimeout > 0 {
		return e.StepTimeout
	}
	return 2 * time.Minute
}

// Advance drives the run from its last durable step to a terminal
// state. No step is re-executed once it has durably succeeded: the
// resume point is derived from the persisted step outcomes, and every
// remote side effect is keyed by the job's fingerprint or the asset's
// content hash.
func (e *Executor) Advance(ctx context.Context, runID uuid.UUID) (RunResult, error) {
	run, err := e.Store.GetRun(ctx, runID)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to load run: %w", err)
	}
	job, err := e.Store.GetJob(ctx, run.JobID)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to load job: %w", err)
	}

	draft, startIdx, err := e.resumePoint(ctx, run, job)
	if err != nil {
		return RunResult{}, err
	}

	for i := startIdx; i < len(Sequence); i++ {
		step := Sequence[i]

		// Cancellation is honored at step boundaries only; in-flight
		// calls complete so the remote platform is never left half-written.
		cancelled, err := e.Store.CancelRequested(ctx, job.ID)
		if err != nil {
			return RunResult{}, fmt.Errorf("failed to read cancel flag: %w", err)
		}
		if cancelled {
			return e.finish(ctx, run, job, types.RunFailed, types.KindCancelled, "cancel requested by operator")
		}

		if err := e.Store.SetCurrentStep(ctx, run.ID, step); err != nil {
			return RunResult{}, err
		}
		if e.Verbose {
			log.Printf("run %s: step %d/%d %s", run.ID, i+1, len(Sequence), step)
		}

		next, stepErr := e.runStep(ctx, job, run, step, draft)
		if stepErr != nil {
			return e.finishFailed(ctx, run, job, step, stepErr)
		}
		draft = next
	}

	_ = e.Store.SetCurrentStep(ctx, run.ID, StepDone)
	if job.Schedule.CountsAgainstQuota() {
		if err := e.Store.RecordPublish(ctx, job.ID, run.ID, e.now().UTC()); err != nil {
			return RunResult{}, err
		}
	}
	return e.finish(ctx, run, job, types.RunSucceeded, "", "")
}

// resumePoint reconstructs the draft and the index of the next
// unstarted step from the run's persisted outcomes. Completed outcomes
// must form a contiguous prefix of the sequence; anything else is store
// corruption, not a business outcome.
func (e *Executor) resumePoint(ctx context.Context, run *types.Run, job *types.Job) (types.ContentDraft, int, error) {
	outcomes, err := e.Store.ListOutcomes(ctx, run.ID)
	if err != nil {
		return types.ContentDraft{}, 0, fmt.Errorf("failed to load outcomes: %w", err)
	}

	completed := make(map[string]*types.StepOutcome)
	for i := range outcomes {
		o := &outcomes[i]
		if o.Status == types.StepCompleted {
			if completed[o.Step] != nil {
				return types.ContentDraft{}, 0, fmt.Errorf("step %s completed twice for run %s", o.Step, run.ID)
			}
			completed[o.Step] = o
		}
	}

	idx := 0
	var last *types.StepOutcome
	for idx < len(Sequence) {
		o := completed[Sequence[idx]]
		if o == nil {
			break
		}
		last = o
		idx++
	}
	for step := range completed {
		if si := stepIndex(step); si >= idx {
			return types.ContentDraft{}, 0, fmt.Errorf("non-contiguous completed step %s for run %s", step, run.ID)
		}
	}

	if last == nil {
		return types.NewDraft(job), 0, nil
	}
	if last.Draft == nil {
		return types.ContentDraft{}, 0, fmt.Errorf("completed step %s has no draft snapshot for run %s", last.Step, run.ID)
	}
	return *last.Draft, idx, nil
}

// runStep executes one step with its retry loop. Exactly one outcome is
// persisted per step cycle: the completing attempt or the attempt that
// exhausted the policy.
func (e *Executor) runStep(ctx context.Context, job *types.Job, run *types.Run, step string, draft types.ContentDraft) (types.ContentDraft, error) {
	inputHash := types.Fingerprint(job.ID, draft)

	for attempt := 1; ; attempt++ {
		start := e.now()
		next, idemKey, err := e.invoke(ctx, job, step, draft)
		duration := e.now().Sub(start)

		if err == nil && e.Validate != nil && step != StepResearch && step != StepOutline {
			if verr := e.Validate(next); verr != nil {
				err = types.Permanent(fmt.Sprintf("draft failed validation after %s", step), verr)
			}
		}

		if err == nil {
			outcome := &types.StepOutcome{
				RunID:          run.ID,
				JobID:          job.ID,
				Step:           step,
				Attempt:        attempt,
				Status:         types.StepCompleted,
				InputHash:      inputHash,
				Draft:          &next,
				IdempotencyKey: idemKey,
				DurationMs:     duration.Milliseconds(),
			}
			if err := e.Store.RecordOutcome(ctx, outcome); err != nil {
				return draft, fmt.Errorf("failed to persist outcome: %w", err)
			}
			return next, nil
		}

		kind := types.KindOf(err)
		decision := e.Policy.Decide(attempt, stepClass(step), kind, types.RetryAfterHint(err))
		if decision.Retry {
			if e.Verbose {
				log.Printf("run %s: %s attempt %d failed (%s), retrying in %s", run.ID, step, attempt, kind, decision.After)
			}
			if serr := e.sleep(ctx, decision.After); serr != nil {
				return draft, types.Transient("interrupted while backing off", serr)
			}
			continue
		}

		outcome := &types.StepOutcome{
			RunID:          run.ID,
			JobID:          job.ID,
			Step:           step,
			Attempt:        attempt,
			Status:         types.StepFailed,
			InputHash:      inputHash,
			ErrorKind:      kind,
			ErrorDetail:    err.Error(),
			IdempotencyKey: idemKey,
			DurationMs:     duration.Milliseconds(),
		}
		if perr := e.Store.RecordOutcome(ctx, outcome); perr != nil {
			return draft, fmt.Errorf("failed to persist outcome: %w", perr)
		}
		return draft, err
	}
}

// finishFailed maps a step failure onto the run's terminal status:
// exhausted transient retries leave the run replayable, everything else
// is fatal. A replayable run whose ledger already holds remote
// artifacts is flagged as a partial failure so operators can see that
// platform-side state exists.
func (e *Executor) finishFailed(ctx context.Context, run *types.Run, job *types.Job, step string, stepErr error) (RunResult, error) {
	kind := types.KindOf(stepErr)
	status := types.RunFailed
	if kind == types.KindTransient {
		status = types.RunReplayable
		if e.hasRemoteArtifacts(ctx, job.ID) {
			kind = types.KindPartialFailure
		}
	}
	detail := fmt.Sprintf("%s: %s", step, stepErr.Error())
	return e.finish(ctx, run, job, status, kind, detail)
}

func (e *Executor) hasRemoteArtifacts(ctx context.Context, jobID uuid.UUID) bool {
	if ref, err := e.Store.GetPostRef(ctx, jobID); err == nil && ref != nil {
		return true
	}
	// Any ledgered upload counts: the media survives the failed run and
	// will be reused by a replay instead of re-uploaded.
	outcomes := false
	if runs, err := e.Store.ListRuns(ctx, jobID); err == nil {
		for _, r := range runs {
			if list, err := e.Store.ListOutcomes(ctx, r.ID); err == nil {
				for _, o := range list {
					if o.Step == StepMediaUpload && o.Status == types.StepCompleted {
						outcomes = true
					}
				}
			}
		}
	}
	return outcomes
}

func (e *Executor) finish(ctx context.Context, run *types.Run, job *types.Job, status types.RunStatus, kind types.ErrorKind, detail string) (RunResult, error) {
	if err := e.Store.FinishRun(ctx, run.ID, status, kind, detail); err != nil {
		return RunResult{}, err
	}
	result := RunResult{
		RunID:       run.ID,
		JobID:       job.ID,
		Status:      status,
		FailureKind: kind,
		Detail:      detail,
	}
	if ref, err := e.Store.GetPostRef(ctx, job.ID); err == nil && ref != nil {
		result.PostRef = ref
	}
	return result, nil
}

// invoke dispatches one attempt of a step. The returned string is the
// external idempotency key used, if any.
func (e *Executor) invoke(ctx context.Context, job *types.Job, step string, draft types.ContentDraft) (types.ContentDraft, string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.stepTimeout())
	defer cancel()

	switch step {
	case StepResearch:
		next, err := e.Gen.Researcher.Research(callCtx, draft)
		return next, "", err
	case StepOutline:
		next, err := e.Gen.Outliner.Outline(callCtx, draft)
		return next, "", err
	case StepDraft:
		next, err := e.Gen.Writer.Write(callCtx, draft)
		return next, "", err
	case StepRewriteSEO:
		next, err := e.Gen.SEO.Rewrite(callCtx, draft)
		if err == nil && next.Slug == "" {
			next.Slug = types.Slugify(next.Topic)
		}
		return next, "", err
	case StepImageSelect:
		next, err := e.Media.Select(callCtx, draft)
		return next, "", err
	case StepQualityGate:
		return e.qualityGate(callCtx, draft)
	case StepMediaUpload:
		return e.mediaUpload(callCtx, job, draft)
	case StepPostCreate:
		return e.postCreate(callCtx, job, draft)
	case StepScheduleConfirm:
		return e.scheduleConfirm(callCtx, job, draft)
	default:
		return draft, "", types.Permanent("unknown step "+step, nil)
	}
}

// qualityGate is the veto point: a failed deterministic rule is
// terminal for the run, while a failure of the check itself (network
// spell/link checks) retries like any transient error.
func (e *Executor) qualityGate(ctx context.Context, draft types.ContentDraft) (types.ContentDraft, string, error) {
	verdict, err := e.Quality.Check(ctx, draft)
	if err != nil {
		return draft, "", err
	}
	if !verdict.Passed {
		return draft, "", types.Veto(fmt.Sprintf("quality score %.0f: %s", verdict.Score, strings.Join(verdict.Issues, "; ")))
	}
	return draft.Next(), "", nil
}

// mediaUpload uploads every asset not yet in the ledger. A ledger hit
// short-circuits to the stored remote id without calling the adapter.
func (e *Executor) mediaUpload(ctx context.Context, job *types.Job, draft types.ContentDraft) (types.ContentDraft, string, error) {
	next := draft.Next()
	var keys []string
	for i := range next.Images {
		asset := &next.Images[i]
		if asset.RemoteID != 0 {
			continue
		}
		if asset.ContentHash == "" {
			return draft, "", types.Permanent("image asset has no content hash: "+asset.Path, nil)
		}
		keys = append(keys, asset.ContentHash)

		if mediaID, ok, err := e.Store.GetMedia(ctx, job.ID, asset.ContentHash); err != nil {
			return draft, "", err
		} else if ok {
			asset.RemoteID = mediaID
			continue
		}

		data, mimeType, err := e.Reader.Read(ctx, *asset)
		if err != nil {
			return draft, "", err
		}
		ref, err := e.Adapter.UploadMedia(ctx, asset.ContentHash, data, filenameOf(asset.Path), mimeType, asset.AltText)
		if err != nil {
			return draft, strings.Join(keys, ","), err
		}
		// Ledger before anything else can fail: a later crash must find
		// this upload and reuse it.
		if err := e.Store.PutMedia(ctx, job.ID, asset.ContentHash, ref.ID); err != nil {
			return draft, "", err
		}
		asset.RemoteID = ref.ID
	}
	return next, strings.Join(keys, ","), nil
}

// postCreate resolves taxonomy terms, then creates or updates the one
// remote post for the job. An existing post reference with the same
// fingerprint short-circuits the upsert; the schedule is (re)applied
// either way.
func (e *Executor) postCreate(ctx context.Context, job *types.Job, draft types.ContentDraft) (types.ContentDraft, string, error) {
	next := draft.Next()
	fingerprint := types.Fingerprint(job.ID, next)

	existing, err := e.Store.GetPostRef(ctx, job.ID)
	if err != nil {
		return draft, "", err
	}

	ref := existing
	if existing == nil || existing.Fingerprint != fingerprint {
		terms, err := e.Adapter.ResolveTaxonomy(ctx, wp.TaxonomyCategory, next.Categories)
		if err != nil {
			return draft, fingerprint, err
		}
		next.CategoryIDs = termIDs(terms)
		terms, err = e.Adapter.ResolveTaxonomy(ctx, wp.TaxonomyTag, next.Tags)
		if err != nil {
			return draft, fingerprint, err
		}
		next.TagIDs = termIDs(terms)

		created, err := e.Adapter.UpsertPost(ctx, fingerprint, next, existing)
		if err != nil {
			return draft, fingerprint, err
		}
		created.JobID = job.ID
		ref = &created
		if err := e.Store.PutPostRef(ctx, ref); err != nil {
			return draft, "", err
		}
	}

	effective, err := e.Adapter.SetSchedule(ctx, *ref, next.Schedule)
	if err != nil {
		return draft, fingerprint, err
	}
	ref.Status = effective.Status
	if err := e.Store.PutPostRef(ctx, ref); err != nil {
		return draft, "", err
	}
	return next, fingerprint, nil
}

// scheduleConfirm re-reads the remote post and verifies the platform
// resolved the requested mode and datetime. Silent drift is a fatal
// mismatch, never accepted.
func (e *Executor) scheduleConfirm(ctx context.Context, job *types.Job, draft types.ContentDraft) (types.ContentDraft, string, error) {
	ref, err := e.Store.GetPostRef(ctx, job.ID)
	if err != nil {
		return draft, "", err
	}
	if ref == nil {
		return draft, "", types.Permanent("no post reference recorded before schedule confirmation", nil)
	}

	effective, err := e.Adapter.ReadPost(ctx, *ref)
	if err != nil {
		return draft, ref.Fingerprint, err
	}

	want := expectedStatus(draft.Schedule.Mode)
	if effective.Status != want {
		return draft, ref.Fingerprint, types.Permanent(
			fmt.Sprintf("schedule mismatch: remote status %q, want %q", effective.Status, want), nil)
	}
	if draft.Schedule.Mode == types.ModeSchedule {
		if draft.Schedule.At == nil || effective.Date == nil {
			return draft, ref.Fingerprint, types.Permanent("scheduled post has no effective datetime", nil)
		}
		drift := effective.Date.Sub(*draft.Schedule.At)
		if drift < 0 {
			drift = -drift
		}
		if drift > e.ScheduleTolerance {
			return draft, ref.Fingerprint, types.Permanent(
				fmt.Sprintf("schedule drift %s exceeds tolerance %s: requested %s, effective %s",
					drift, e.ScheduleTolerance, draft.Schedule.At.Format(time.RFC3339), effective.Date.Format(time.RFC3339)), nil)
		}
	}
	return draft.Next(), ref.Fingerprint, nil
}

func expectedStatus(mode types.ScheduleMode) string {
	switch mode {
	case types.ModePublish:
		return "publish"
	case types.ModeSchedule:
		return "future"
	default:
		return "draft"
	}
}

func termIDs(terms []wp.TermRef) []int64 {
	if len(terms) == 0 {
		return nil
	}
	ids := make([]int64, len(terms))
	for i, t := range terms {
		ids[i] = t.ID
	}
	return ids
}

func filenameOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
