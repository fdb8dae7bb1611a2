package engine

import (
	"context"
	"time"

	"rotation/internal/game"
)

type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 8, Initial: 75 * time.Millisecond, Max: 1200 * time.Millisecond}
}

// retry runs fn until it succeeds, fails with a non-transient error, or the
// attempts run out. The delay doubles up to Max.
func (p RetryPolicy) retry(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Initial
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn()
		if err == nil || !game.IsTransient(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		if serr := sleepWithContext(ctx, delay); serr != nil {
			return err
		}
		if delay < p.Max {
			delay *= 2
			if delay > p.Max {
				delay = p.Max
			}
		}
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
