// Package retry re-invokes failing operations that look transient:
// timeouts and a small set of filesystem conditions (permission denied,
// resource busy, text file busy). Everything else fails immediately.
package retry

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy controls the retry schedule.
type Policy struct {
	// MaxRetries is the number of re-invocations after the first attempt.
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// Multiplier scales the delay between consecutive retries.
	Multiplier float64
}

// DefaultPolicy returns 3 retries starting at 1s, doubling each time.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, InitialDelay: time.Second, Multiplier: 2}
}

// Retryable reports whether err looks transient. Timeouts (context
// deadlines, net timeouts, I/O deadlines) and EACCES/EBUSY/ETXTBSY qualify;
// anything else does not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.EACCES, syscall.EBUSY, syscall.ETXTBSY} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// Do invokes fn, retrying per policy while the returned error is retryable.
// Non-retryable errors return immediately; after the retry budget is spent
// the last error is returned unchanged. Context cancellation stops the
// schedule between attempts.
func Do(ctx context.Context, policy Policy, fn func(context.Context) error) error {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = DefaultPolicy().MaxRetries
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = DefaultPolicy().InitialDelay
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = DefaultPolicy().Multiplier
	}

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = policy.InitialDelay
	schedule.Multiplier = policy.Multiplier
	schedule.RandomizationFactor = 0
	schedule.MaxElapsedTime = 0

	operation := func() error {
		err := fn(ctx)
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(schedule, uint64(policy.MaxRetries)), ctx))
}
