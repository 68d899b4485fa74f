// Package retry turns polling policy into a value: a bounded attempt count
// with a fixed or exponential interval, usable anywhere the corridor waits on
// an external service.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is returned once a policy's attempt bound is spent. The
// wrapped error is the last attempt's failure.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy is a reusable description of a bounded poll loop.
type Policy struct {
	// MaxAttempts bounds the total number of attempts, including the first.
	MaxAttempts uint64
	// Interval is the wait between attempts (the initial interval when
	// Exponential is set).
	Interval time.Duration
	// Exponential selects exponential backoff instead of a constant interval.
	Exponential bool
}

// Permanent marks err as non-retryable; Do stops immediately and returns it.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op under the policy until it succeeds, returns a permanent error,
// the context is done, or the attempt bound is spent. Exhaustion is reported
// as ErrExhausted wrapping the last attempt's error.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	var lastErr error

	var interval backoff.BackOff
	if p.Exponential {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.Interval
		eb.MaxElapsedTime = 0
		interval = eb
	} else {
		interval = backoff.NewConstantBackOff(p.Interval)
	}

	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	// WithMaxRetries counts retries after the first attempt.
	bo := backoff.WithContext(backoff.WithMaxRetries(interval, attempts-1), ctx)

	// backoff.Retry unwraps *backoff.PermanentError before returning, so the
	// permanent marker has to be captured inside the op wrapper.
	var perm *backoff.PermanentError

	err := backoff.Retry(func() error {
		r, err := op(ctx)
		if err != nil {
			lastErr = err
			errors.As(err, &perm)
			return err
		}
		result = r
		return nil
	}, bo)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if perm != nil {
			return result, perm.Err
		}
		return result, fmt.Errorf("%w: %w", ErrExhausted, lastErr)
	}

	return result, nil
}
