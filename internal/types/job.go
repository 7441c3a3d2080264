// Package types provides type definitions for structured data used throughout the blog-autopilot system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleMode controls how a finished post is published.
type ScheduleMode string

const (
	ModeDraft    ScheduleMode = "draft"
	ModePublish  ScheduleMode = "publish"
	ModeSchedule ScheduleMode = "schedule"
)

// ScheduleSpec describes the requested publish behavior for a job.
// At is only set for ModeSchedule and is interpreted in the remote
// site's configured timezone, not the caller's.
type ScheduleSpec struct {
	Mode ScheduleMode `json:"mode"`
	At   *time.Time   `json:"at,omitempty"`
}

// CountsAgainstQuota reports whether this schedule produces a publish
// action. Drafts are exempt from the daily/hourly publish quota.
func (s ScheduleSpec) CountsAgainstQuota() bool {
	return s.Mode == ModePublish || s.Mode == ModeSchedule
}

// Job is a standing request to produce and publish one piece of content.
// A Job is immutable once accepted; only the cancel flag may change.
type Job struct {
	ID              uuid.UUID    `json:"id"`
	Topic           string       `json:"topic"`
	Schedule        ScheduleSpec `json:"schedule"`
	Categories      []string     `json:"categories,omitempty"`
	Tags            []string     `json:"tags,omitempty"`
	Tone            string       `json:"tone,omitempty"`
	Language        string       `json:"language,omitempty"`
	CronExpr        string       `json:"cron_expr,omitempty"`
	CancelRequested bool         `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// RunStatus is the overall state of one pipeline execution attempt.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunRunning    RunStatus = "running"
	RunSucceeded  RunStatus = "succeeded"
	RunFailed     RunStatus = "failed"
	RunReplayable RunStatus = "replayable"
)

// Terminal reports whether the status is an absorbing state.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunReplayable
}

// Run is one execution attempt of a Job through the pipeline. A Job may
// have many Runs (whole-run retries, manual replays) but at most one of
// them is running at any time.
type Run struct {
	ID            uuid.UUID  `json:"id"`
	JobID         uuid.UUID  `json:"job_id"`
	Status        RunStatus  `json:"status"`
	CurrentStep   string     `json:"current_step,omitempty"`
	FailureKind   ErrorKind  `json:"failure_kind,omitempty"`
	FailureDetail string     `json:"failure_detail,omitempty"`
	Superseded    bool       `json:"superseded,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// PostRef maps a job to the remote post it created. At most one
// non-failed PostRef exists per job; replays update the same remote
// post instead of creating a second one.
type PostRef struct {
	JobID       uuid.UUID `json:"job_id"`
	Fingerprint string    `json:"fingerprint"`
	PostID      int64     `json:"post_id"`
	URL         string    `json:"url,omitempty"`
	Status      string    `json:"status,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
