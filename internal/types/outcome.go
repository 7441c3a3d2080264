package types

import (
	"time"

	"github.com/google/uuid"
)

// StepStatus constants for persisted step outcomes.
const (
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// QualityVerdict is the result of the quality gate over a draft.
type QualityVerdict struct {
	Passed      bool     `json:"passed"`
	Score       float64  `json:"score"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// StepOutcome is the immutable, append-only record of one step attempt
// cycle for a run. A run's state is fully reconstructible from its
// outcomes: the draft snapshot of the last completed outcome is the
// input to the next unstarted step.
type StepOutcome struct {
	ID             uuid.UUID     `json:"id"`
	RunID          uuid.UUID     `json:"run_id"`
	JobID          uuid.UUID     `json:"job_id"`
	Step           string        `json:"step"`
	Attempt        int           `json:"attempt"`
	Status         string        `json:"status"`
	InputHash      string        `json:"input_hash,omitempty"`
	Draft          *ContentDraft `json:"draft,omitempty"`
	ErrorKind      ErrorKind     `json:"error_kind,omitempty"`
	ErrorDetail    string        `json:"error_detail,omitempty"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	DurationMs     int64         `json:"duration_ms"`
	CreatedAt      time.Time     `json:"created_at"`
}
