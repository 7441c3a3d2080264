// Package retry provides the shared backoff decision function applied
// to every retryable step failure.
package retry

import (
	"math/rand"
	"time"

	"github.com/jonathan/blog-autopilot/internal/types"
)

// StepClass selects the attempt ceiling for a step. Steps that call the
// network get more attempts than local validation work.
type StepClass int

const (
	ClassLocal StepClass = iota
	ClassNetwork
)

// Decision is the outcome of one retry evaluation.
type Decision struct {
	Retry bool
	After time.Duration
}

// Policy is a stateless exponential-backoff policy with jitter. The
// executor owns attempt counters; Decide never mutates state.
type Policy struct {
	Base               time.Duration
	Ceiling            time.Duration
	MaxNetworkAttempts int
	MaxLocalAttempts   int
	// Jitter is the fraction of the delay randomized in either
	// direction, 0..1.
	Jitter float64

	// rand source hook for deterministic tests.
	Float64 func() float64
}

// Default mirrors the configuration defaults: 1s base, 2m ceiling,
// 5 network attempts, 2 local attempts, 20% jitter.
func Default() Policy {
	return Policy{
		Base:               time.Second,
		Ceiling:            2 * time.Minute,
		MaxNetworkAttempts: 5,
		MaxLocalAttempts:   2,
		Jitter:             0.2,
	}
}

// Decide reports whether a failure of the given kind on the given
// attempt (1-based) should be retried, and after how long. Only
// transient kinds are eligible; permanent kinds and quality vetoes give
// up immediately regardless of the attempt count. A positive hint (the
// platform's Retry-After) overrides a shorter computed delay.
func (p Policy) Decide(attempt int, class StepClass, kind types.ErrorKind, hint time.Duration) Decision {
	if kind != types.KindTransient {
		return Decision{}
	}
	max := p.MaxLocalAttempts
	if class == ClassNetwork {
		max = p.MaxNetworkAttempts
	}
	if attempt >= max {
		return Decision{}
	}

	delay := p.Base << uint(attempt-1)
	if delay > p.Ceiling || delay <= 0 {
		delay = p.Ceiling
	}
	if p.Jitter > 0 {
		f := p.Float64
		if f == nil {
			f = rand.Float64
		}
		spread := float64(delay) * p.Jitter
		delay = time.Duration(float64(delay) - spread + 2*spread*f())
	}
	if hint > delay {
		delay = hint
	}
	return Decision{Retry: true, After: delay}
}
