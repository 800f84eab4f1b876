package httpclient

import (
	"context"
	"time"
)

// RetryPolicy is an attempt budget with exponential backoff.
// Attempt 1 runs immediately, attempt n waits BaseDelay * 2^(n-2).
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration

	// Sleep is used between attempts; nil means a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy is 3 attempts total with 500ms, then 1000ms waits.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: 500 * time.Millisecond}

// Delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.BaseDelay << (attempt - 1)
}

// Do runs fn until it succeeds or the budget is exhausted, returning the
// last error. onRetry, if set, is called before each wait.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error, onRetry func(attempt int, wait time.Duration, err error)) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == attempts {
			break
		}

		wait := p.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}
		if serr := p.sleep(ctx, wait); serr != nil {
			return serr
		}
	}
	return err
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
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
