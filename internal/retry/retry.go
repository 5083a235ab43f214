// Package retry implements a generic exponential-backoff primitive (spec §4.7), grounded on
// the teacher's mitigation.Retry/RetryWithResult exponential backoff loop
// (internal/trading/mitigation/retry.go), generalized with a caller-supplied ShouldRetry
// predicate and jitter rather than the teacher's fixed net.Error classification.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Policy configures one retry loop: {maxRetries, baseDelayMs, maxDelayMs, jitter, shouldRetry,
// onRetry} per spec §4.7.
type Policy struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // fraction of the computed delay to randomize, e.g. 0.2 = ±20%
	ShouldRetry func(err error) bool
	OnRetry     func(attempt int, err error, wait time.Duration)
}

// Do runs operation, retrying on retryable errors with exponential backoff until MaxRetries is
// exhausted, ctx is cancelled, or operation succeeds.
func Do(ctx context.Context, p Policy, operation func() error) error {
	_, err := DoWithResult(ctx, p, func() (struct{}, error) {
		return struct{}{}, operation()
	})
	return err
}

// DoWithResult is Do but for operations that return a value.
func DoWithResult[T any](ctx context.Context, p Policy, operation func() (T, error)) (T, error) {
	var result T
	var err error
	wait := p.BaseDelay

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		result, err = operation()
		if err == nil {
			return result, nil
		}

		if p.ShouldRetry != nil && !p.ShouldRetry(err) {
			return result, err
		}

		if attempt == p.MaxRetries {
			return result, fmt.Errorf("retry: max retries (%d) exhausted: %w", p.MaxRetries, err)
		}

		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		actualWait := applyJitter(wait, p.Jitter)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, actualWait)
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(actualWait):
			wait *= 2
			if p.MaxDelay > 0 && wait > p.MaxDelay {
				wait = p.MaxDelay
			}
		}
	}

	return result, err
}

func applyJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := float64(d) * jitter
	offset := (rand.Float64()*2 - 1) * delta
	jittered := float64(d) + offset
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}
