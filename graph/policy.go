package graph

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// NodePolicy configures how the engine executes one node.
//
// The zero policy runs the node once with no timeout, which is how every
// workflow in this module runs unless configured otherwise.
type NodePolicy struct {
	// Timeout bounds a single attempt. Zero falls back to the engine's
	// default node timeout.
	Timeout time.Duration

	// RetryPolicy enables retries of failed attempts. Nil means no retries.
	RetryPolicy *RetryPolicy
}

// RetryPolicy describes automatic retries with exponential backoff.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt. Must be >= 1.
	MaxAttempts int

	// BaseDelay is the delay before the first retry; it doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the exponential delay. Zero leaves it uncapped.
	MaxDelay time.Duration

	// Retryable reports whether an error is worth retrying. Nil retries
	// everything except context cancellation.
	Retryable func(error) bool
}

// Validate checks the policy for obvious misconfiguration.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.BaseDelay < 0 || rp.MaxDelay < 0 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

func (rp *RetryPolicy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if rp.Retryable == nil {
		return true
	}
	return rp.Retryable(err)
}

// computeBackoff returns base*2^attempt capped at maxDelay, plus up to base
// of random jitter.
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}

	delay := base * (1 << attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	}

	return delay + jitter
}
