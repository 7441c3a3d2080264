package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/blog-autopilot/internal/types"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

var _ Store = (*DB)(nil)

// Connect establishes a connection pool to the database.
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// CreateJob stores an accepted job.
func (db *DB) CreateJob(ctx context.Context, job *types.Job) error {
	schedule, err := json.Marshal(job.Schedule)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO jobs (id, topic, schedule, categories, tags, tone, language, cron_expr, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.Topic, schedule, job.Categories, job.Tags, job.Tone, job.Language, job.CronExpr, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

const jobColumns = `id, topic, schedule, categories, tags, COALESCE(tone, ''), COALESCE(language, ''), COALESCE(cron_expr, ''), cancel_requested, created_at`

func scanJob(row pgx.Row) (*types.Job, error) {
	var job types.Job
	var schedule []byte
	err := row.Scan(&job.ID, &job.Topic, &schedule, &job.Categories, &job.Tags,
		&job.Tone, &job.Language, &job.CronExpr, &job.CancelRequested, &job.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(schedule, &job.Schedule); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule: %w", err)
	}
	return &job, nil
}

// GetJob retrieves a job by id.
func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	job, err := scanJob(db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs retrieves recent jobs, newest first.
func (db *DB) ListJobs(ctx context.Context, limit int) ([]types.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ListRecurring retrieves every job with a cron expression, oldest
// first, for trigger re-arming on scheduler startup.
func (db *DB) ListRecurring(ctx context.Context) ([]types.Job, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE COALESCE(cron_expr, '') <> '' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recurring jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// RequestCancel flags the job for cancellation at the next step boundary.
func (db *DB) RequestCancel(ctx context.Context, jobID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs SET cancel_requested = TRUE WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelRequested reads the job's cancel flag.
func (db *DB) CancelRequested(ctx context.Context, jobID uuid.UUID) (bool, error) {
	var flag bool
	err := db.pool.QueryRow(ctx,
		`SELECT cancel_requested FROM jobs WHERE id = $1`, jobID).Scan(&flag)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return flag, nil
}

// ClaimRun inserts a running run for the job. The partial unique index
// on (job_id) WHERE status = 'running' makes this the per-job lock: a
// concurrent claim hits a unique violation and gets ErrJobRunning.
func (db *DB) ClaimRun(ctx context.Context, jobID uuid.UUID) (*types.Run, error) {
	run := &types.Run{
		ID:        uuid.New(),
		JobID:     jobID,
		Status:    types.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO runs (id, job_id, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.JobID, run.Status, run.StartedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrJobRunning
		}
		return nil, fmt.Errorf("failed to claim run: %w", err)
	}
	return run, nil
}

// ReclaimRun transitions a failed or replayable run back to running.
// The same partial unique index guards against a concurrent run.
func (db *DB) ReclaimRun(ctx context.Context, runID uuid.UUID) (*types.Run, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET status = 'running', failure_kind = NULL, failure_detail = NULL, finished_at = NULL
		 WHERE id = $1 AND status IN ('failed', 'replayable') AND NOT superseded`,
		runID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrJobRunning
		}
		return nil, fmt.Errorf("failed to reclaim run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return db.GetRun(ctx, runID)
}

const runColumns = `id, job_id, status, COALESCE(current_step, ''), COALESCE(failure_kind, ''), COALESCE(failure_detail, ''), superseded, started_at, finished_at`

func scanRun(row pgx.Row) (*types.Run, error) {
	var run types.Run
	err := row.Scan(&run.ID, &run.JobID, &run.Status, &run.CurrentStep,
		&run.FailureKind, &run.FailureDetail, &run.Superseded, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun retrieves a run by id.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (*types.Run, error) {
	run, err := scanRun(db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves all runs for a job, oldest first.
func (db *DB) ListRuns(ctx context.Context, jobID uuid.UUID) ([]types.Run, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs WHERE job_id = $1 ORDER BY started_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []types.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// SetCurrentStep records the step the run is about to execute.
func (db *DB) SetCurrentStep(ctx context.Context, runID uuid.UUID, step string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE runs SET current_step = $1 WHERE id = $2`, step, runID)
	if err != nil {
		return fmt.Errorf("failed to set current step: %w", err)
	}
	return nil
}

// FinishRun moves the run to a terminal status.
func (db *DB) FinishRun(ctx context.Context, runID uuid.UUID, status types.RunStatus, kind types.ErrorKind, detail string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE runs SET status = $1, failure_kind = NULLIF($2, ''), failure_detail = NULLIF($3, ''), finished_at = NOW()
		 WHERE id = $4`,
		status, string(kind), detail, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// SupersedeRuns invalidates the job's terminal runs before a
// from-scratch replay. Superseded runs stay queryable for audit.
func (db *DB) SupersedeRuns(ctx context.Context, jobID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE runs SET superseded = TRUE WHERE job_id = $1 AND status <> 'running'`, jobID)
	if err != nil {
		return fmt.Errorf("failed to supersede runs: %w", err)
	}
	return nil
}

// RecordOutcome appends one step outcome. Outcomes are append-only; the
// unique (run_id, step, attempt) constraint rejects duplicate durable
// successes for the same step.
func (db *DB) RecordOutcome(ctx context.Context, outcome *types.StepOutcome) error {
	var draft []byte
	if outcome.Draft != nil {
		var err error
		draft, err = json.Marshal(outcome.Draft)
		if err != nil {
			return fmt.Errorf("failed to marshal draft snapshot: %w", err)
		}
	}
	if outcome.ID == uuid.Nil {
		outcome.ID = uuid.New()
	}
	if outcome.CreatedAt.IsZero() {
		outcome.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO step_outcomes
		   (id, run_id, job_id, step, attempt, status, input_hash, draft, error_kind, error_detail, idempotency_key, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), $12, $13)`,
		outcome.ID, outcome.RunID, outcome.JobID, outcome.Step, outcome.Attempt, outcome.Status,
		outcome.InputHash, draft, string(outcome.ErrorKind), outcome.ErrorDetail,
		outcome.IdempotencyKey, outcome.DurationMs, outcome.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome for %s: %w", outcome.Step, err)
	}
	return nil
}

// ListOutcomes retrieves a run's step outcomes in execution order.
func (db *DB) ListOutcomes(ctx context.Context, runID uuid.UUID) ([]types.StepOutcome, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, job_id, step, attempt, status, COALESCE(input_hash, ''), draft,
		        COALESCE(error_kind, ''), COALESCE(error_detail, ''), COALESCE(idempotency_key, ''),
		        duration_ms, created_at
		 FROM step_outcomes WHERE run_id = $1 ORDER BY created_at, attempt`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []types.StepOutcome
	for rows.Next() {
		var o types.StepOutcome
		var draft []byte
		if err := rows.Scan(&o.ID, &o.RunID, &o.JobID, &o.Step, &o.Attempt, &o.Status,
			&o.InputHash, &draft, &o.ErrorKind, &o.ErrorDetail, &o.IdempotencyKey,
			&o.DurationMs, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		if len(draft) > 0 {
			o.Draft = &types.ContentDraft{}
			if err := json.Unmarshal(draft, o.Draft); err != nil {
				return nil, fmt.Errorf("failed to unmarshal draft snapshot: %w", err)
			}
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// GetMedia looks up the ledger entry for (job, content hash).
func (db *DB) GetMedia(ctx context.Context, jobID uuid.UUID, contentHash string) (int64, bool, error) {
	var mediaID int64
	err := db.pool.QueryRow(ctx,
		`SELECT media_id FROM media_ledger WHERE job_id = $1 AND content_hash = $2`,
		jobID, contentHash).Scan(&mediaID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get media ledger entry: %w", err)
	}
	return mediaID, true, nil
}

// PutMedia records an uploaded attachment so a retried upload reuses it.
func (db *DB) PutMedia(ctx context.Context, jobID uuid.UUID, contentHash string, mediaID int64) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO media_ledger (job_id, content_hash, media_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (job_id, content_hash) DO NOTHING`,
		jobID, contentHash, mediaID)
	if err != nil {
		return fmt.Errorf("failed to put media ledger entry: %w", err)
	}
	return nil
}

// GetPostRef looks up the job's remote post reference. Returns nil when
// the job has not created a post yet.
func (db *DB) GetPostRef(ctx context.Context, jobID uuid.UUID) (*types.PostRef, error) {
	var ref types.PostRef
	err := db.pool.QueryRow(ctx,
		`SELECT job_id, fingerprint, post_id, COALESCE(url, ''), COALESCE(status, ''), created_at
		 FROM post_refs WHERE job_id = $1`,
		jobID).Scan(&ref.JobID, &ref.Fingerprint, &ref.PostID, &ref.URL, &ref.Status, &ref.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get post ref: %w", err)
	}
	return &ref, nil
}

// PutPostRef upserts the job's single remote post reference.
func (db *DB) PutPostRef(ctx context.Context, ref *types.PostRef) error {
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO post_refs (job_id, fingerprint, post_id, url, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (job_id) DO UPDATE SET fingerprint = $2, post_id = $3, url = $4, status = $5`,
		ref.JobID, ref.Fingerprint, ref.PostID, ref.URL, ref.Status, ref.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to put post ref: %w", err)
	}
	return nil
}

// CountPublishesSince counts publish actions recorded at or after the
// given instant, for quota enforcement.
func (db *DB) CountPublishesSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM publish_log WHERE published_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count publishes: %w", err)
	}
	return n, nil
}

// RecordPublish appends one publish action to the quota log.
func (db *DB) RecordPublish(ctx context.Context, jobID, runID uuid.UUID, at time.Time) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO publish_log (id, job_id, run_id, published_at) VALUES ($1, $2, $3, $4)`,
		uuid.New(), jobID, runID, at)
	if err != nil {
		return fmt.Errorf("failed to record publish: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
