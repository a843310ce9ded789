// Package retry decides whether a failed provider call should be retried
// and after what backoff. The decision is pure: the caller performs the
// wait and the re-invocation.
package retry

import (
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/postaudit/postaudit/pkg/evaluator"
)

// Prometheus metrics for retry decisions.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postaudit_retries_total",
		Help: "Total number of retry decisions by error class",
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postaudit_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// Decision is the outcome of a retry policy consultation.
type Decision struct {
	// Retry is true when the call should be attempted again.
	Retry bool

	// After is how long to wait before the next attempt.
	After time.Duration
}

// GiveUp is the terminal decision.
var GiveUp = Decision{}

// Policy holds the backoff configuration.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the backoff before the second attempt.
	InitialDelay time.Duration

	// Multiplier grows the backoff exponentially per attempt.
	Multiplier float64

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// Jitter randomizes each backoff by ±20% to avoid synchronized
	// retries.
	Jitter bool
}

// DefaultPolicy returns the standard retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		Jitter:       true,
	}
}

// Decide returns whether attempt number `attempt` (1-based) of a call
// that failed with the given error class should be retried. Permanent
// classes give up immediately; transient classes give up once attempts
// are exhausted.
func (p Policy) Decide(class evaluator.ErrorClass, attempt int) Decision {
	if !class.Transient() {
		return GiveUp
	}

	if attempt >= p.MaxAttempts {
		retryExhaustedTotal.WithLabelValues(string(class)).Inc()
		return GiveUp
	}

	backoff := p.InitialDelay
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * p.Multiplier)
	}
	if p.MaxDelay > 0 && backoff > p.MaxDelay {
		backoff = p.MaxDelay
	}

	if p.Jitter {
		backoff = time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
	}

	retriesTotal.WithLabelValues(string(class)).Inc()

	return Decision{Retry: true, After: backoff}
}
