package fetch

import (
	"context"
	"errors"
	"time"
)

type RetryOptions struct {
	Attempts  int           // total attempts, default 3
	BaseDelay time.Duration // default 500ms; retry n (from 0) waits BaseDelay * 2^n
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	return o
}

// Retry runs fn until it succeeds, returns a non-transient error or the
// attempts are exhausted. Only *FetchError values reporting Transient are
// retried, so HTTP status failures return immediately.
func Retry[T any](ctx context.Context, opt RetryOptions, fn func(context.Context) (T, error)) (T, error) {
	opt = opt.withDefaults()

	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt < opt.Attempts; attempt++ {
		if attempt > 0 {
			delay := opt.BaseDelay << (attempt - 1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, errors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

func retryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Transient()
	}
	return false
}
