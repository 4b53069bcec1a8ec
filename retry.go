package promptloop

import (
	"context"
	"time"

	"github.com/Songmu/flextime"
)

// RetryPolicy is a bounded exponential backoff.
type RetryPolicy struct {
	MaxAttempts     int // total attempts; -1 retries until the context is done
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy waits 500ms, 1s, 2s, 4s between five attempts.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     5,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     10 * time.Second,
}

// Backoff returns the wait before the given retry (1 for the first retry).
func (p RetryPolicy) Backoff(retry int) time.Duration {
	d := p.InitialInterval
	for i := 1; i < retry; i++ {
		d *= 2
		if p.MaxInterval > 0 && d >= p.MaxInterval {
			return p.MaxInterval
		}
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		return p.MaxInterval
	}
	return d
}

// Do calls fn until it succeeds, the attempts are used up or ctx is done.
// onError is called after each failed attempt with the attempt number.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error, onError func(attempt int, err error)) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if onError != nil {
			onError(attempt, err)
		}
		if p.MaxAttempts >= 0 && attempt >= p.MaxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-flextime.After(p.Backoff(attempt)):
		}
	}
}
