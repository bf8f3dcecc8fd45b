package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Retrier bounds how many times an operation is attempted and how long to
// back off between attempts. The delay is multiplied after every failure.
type Retrier struct {
	MaxAttempts int
	Delay       time.Duration
	Multiplier  float64

	// OnRetry, if set, is called before each back-off sleep.
	OnRetry func(attempt int, delay time.Duration, err error)

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a retrier. Non-positive values fall back to 3 attempts and a
// 1.5x multiplier.
func New(maxAttempts int, delay time.Duration, multiplier float64) *Retrier {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if multiplier <= 0 {
		multiplier = 1.5
	}
	return &Retrier{
		MaxAttempts: maxAttempts,
		Delay:       delay,
		Multiplier:  multiplier,
		sleep:       Sleep,
	}
}

// WithSleeper replaces the back-off sleep. Tests use it to avoid real waits.
func (r *Retrier) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *Retrier {
	r.sleep = sleep
	return r
}

// Fetch runs op until it succeeds or MaxAttempts calls have failed, and
// returns the last error in the latter case.
func Fetch[T any](ctx context.Context, r *Retrier, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	delay := r.Delay
	sleep := r.sleep
	if sleep == nil {
		sleep = Sleep
	}

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == r.MaxAttempts {
			break
		}

		if r.OnRetry != nil {
			r.OnRetry(attempt, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return zero, errors.Join(lastErr, serr)
		}
		delay = time.Duration(float64(delay) * r.Multiplier)
	}

	return zero, fmt.Errorf("failed after %d attempts: %w", r.MaxAttempts, lastErr)
}

// Do is Fetch for operations without a result.
func Do(ctx context.Context, r *Retrier, op func(context.Context) error) error {
	_, err := Fetch(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
