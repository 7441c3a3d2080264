package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a step failure for retry eligibility.
type ErrorKind string

const (
	// KindTransient covers network timeouts, rate limits and temporary
	// platform outages. Transient failures are retried per policy.
	KindTransient ErrorKind = "transient"
	// KindPermanent covers malformed payloads, rejected credentials and
	// validation failures. Never retried.
	KindPermanent ErrorKind = "permanent"
	// KindQualityVeto marks content rejected by a deterministic quality
	// rule. Terminal for the run, not a system error.
	KindQualityVeto ErrorKind = "quality_veto"
	// KindCancelled marks a run stopped at a step boundary after an
	// operator requested cancellation.
	KindCancelled ErrorKind = "cancelled"
	// KindPartialFailure marks a replayable run that already created
	// remote artifacts; the ledger guarantees a replay reuses them.
	KindPartialFailure ErrorKind = "partial_failure"
)

// StepError is a classified failure surfaced by a pipeline step or an
// adapter call. RetryAfter carries the platform's throttle hint when
// one was provided.
type StepError struct {
	Kind       ErrorKind
	Detail     string
	RetryAfter time.Duration
	Fields     map[string]string
	Cause      error
}

func (e *StepError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *StepError) Unwrap() error {
	return e.Cause
}

// Transient wraps err as a retryable failure.
func Transient(detail string, err error) *StepError {
	return &StepError{Kind: KindTransient, Detail: detail, Cause: err}
}

// Permanent wraps err as a fatal, non-retryable failure.
func Permanent(detail string, err error) *StepError {
	return &StepError{Kind: KindPermanent, Detail: detail, Cause: err}
}

// Veto builds a terminal quality rejection.
func Veto(detail string) *StepError {
	return &StepError{Kind: KindQualityVeto, Detail: detail}
}

// KindOf extracts the classification from err. Unclassified errors are
// treated as transient so that unknown infrastructure failures stay
// retryable; only explicit classification gives up early.
func KindOf(err error) ErrorKind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

// RetryAfterHint returns the throttle hint attached to err, if any.
func RetryAfterHint(err error) time.Duration {
	var se *StepError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}
