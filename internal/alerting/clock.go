package alerting

import (
	"context"
	"time"
)

// Clock provides wall-clock time and cancellable delays to the evaluators.
type Clock interface {
	Now() time.Time
	// Wait blocks for d or until ctx is done, returning ctx.Err() in that case.
	Wait(ctx context.Context, d time.Duration) error
}

// SystemClock is the real Clock in the local time zone.
type SystemClock struct{}

// Now returns the current local time.
func (SystemClock) Now() time.Time { return time.Now() }

// Wait sleeps on a timer that is released as soon as ctx is done.
func (SystemClock) Wait(ctx context.Context, d time.Duration) error {
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
