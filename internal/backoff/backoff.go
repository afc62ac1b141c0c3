// Package backoff implements exponential backoff with jitter for retry loops.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff computes successive retry delays.
type Backoff struct {
	Initial    time.Duration // first delay (default: 1s)
	Max        time.Duration // delay cap (default: 30s)
	Multiplier float64       // growth per attempt (default: 2.0)
	Jitter     float64       // jitter factor 0-1 (default: 0.1)

	attempt int
	mu      sync.Mutex
}

// New creates a Backoff with the default schedule.
func New() *Backoff {
	return &Backoff{
		Initial:    1 * time.Second,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// NewWithConfig creates a Backoff with a custom schedule.
func NewWithConfig(initial, max time.Duration, multiplier, jitter float64) *Backoff {
	return &Backoff{
		Initial:    initial,
		Max:        max,
		Multiplier: multiplier,
		Jitter:     jitter,
	}
}

// Next returns the next delay and advances the attempt counter.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(b.attempt))
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	// delay * (1 + random(-jitter, +jitter))
	if b.Jitter > 0 {
		jitterRange := delay * b.Jitter
		delay = delay + (rand.Float64()*2-1)*jitterRange
	}
	if delay < 0 {
		delay = float64(b.Initial)
	}

	b.attempt++
	return time.Duration(delay)
}

// Reset restarts the schedule from Initial.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}

// Attempt returns the number of delays handed out since the last Reset.
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

// Wait sleeps for the next delay or until ctx is done.
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry calls fn until it returns nil or ctx is done, waiting between
// attempts. onError, if set, observes every failure with the attempt number.
// There is no attempt limit.
func (b *Backoff) Retry(ctx context.Context, fn func(context.Context) error, onError func(attempt int, err error)) error {
	for {
		err := fn(ctx)
		if err == nil {
			b.Reset()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if onError != nil {
			onError(b.Attempt()+1, err)
		}
		if werr := b.Wait(ctx); werr != nil {
			return werr
		}
	}
}
