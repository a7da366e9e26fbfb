package renew

import (
	"context"
	"math/rand"
	"time"
)

// Policy controls the bounded exponential backoff applied to gateway calls.
// Implemented once and reused for every call site rather than duplicating
// backoff loops.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt; the delay before
	// attempt n is BaseDelay * 2^(n-2). There is no delay before the first
	// attempt.
	BaseDelay time.Duration

	// Jitter, in [0,1], randomizes each delay by up to +Jitter*delay to
	// avoid thundering herds. Zero disables jitter.
	Jitter float64

	// Classify reports whether an error is retryable. If nil, nothing is
	// retried.
	Classify func(error) bool
}

// LinkerPolicy is the default policy for the interactive linking flow.
func LinkerPolicy(classify func(error) bool) Policy {
	return Policy{MaxAttempts: 5, BaseDelay: time.Second, Jitter: 0.2, Classify: classify}
}

// SweepPolicy is the default policy for the background renewal sweep, which
// can afford to defer to the next sweep rather than hang.
func SweepPolicy(classify func(error) bool) Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Jitter: 0.2, Classify: classify}
}

// Do runs op under the policy. Retries happen only for errors the
// classifier accepts; after the attempt budget is exhausted the last error
// is returned as an ordinary value, never re-panicked or wrapped into a new
// type. If ctx expires during a backoff delay, ctx.Err() is returned
// instead of issuing another attempt.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a result.
func DoValue[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, p.delay(attempt)); err != nil {
				return zero, err
			}
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if p.Classify == nil || !p.Classify(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

// delay computes the backoff before the given attempt (attempt >= 2).
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt-2)
	if d < 0 {
		d = p.BaseDelay
	}
	if p.Jitter > 0 {
		d += time.Duration(p.Jitter * rand.Float64() * float64(d))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
