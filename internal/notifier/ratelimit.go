package notifier

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// ThrottleConfig holds per-configuration send rate settings.
type ThrottleConfig struct {
	PerSecond float64 // Sustained sends per second per configuration (default: 5)
	Burst     int     // Sends allowed back to back (default: 10)
	Enabled   bool    // Whether throttling is enabled
}

// DefaultThrottleConfig returns default throttle settings.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		PerSecond: 5,
		Burst:     10,
		Enabled:   true,
	}
}

// Throttle paces provider calls with one token bucket per delivery
// configuration. Sends are delayed, never dropped, so every attempt still
// yields a receipt.
type Throttle struct {
	mu       sync.Mutex
	config   ThrottleConfig
	limiters map[string]*rate.Limiter
	waits    int64
	delayed  int64
}

// NewThrottle creates a throttle with the given configuration.
func NewThrottle(config ThrottleConfig) *Throttle {
	if config.PerSecond <= 0 {
		config.PerSecond = 5
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	return &Throttle{
		config:   config,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *Throttle) limiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waits++
	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(t.config.PerSecond), t.config.Burst)
		t.limiters[key] = l
	}
	return l
}

// Wait blocks until a send through the configuration key is allowed.
// A nil or disabled throttle never blocks.
func (t *Throttle) Wait(ctx context.Context, key string) error {
	if t == nil || !t.config.Enabled {
		return nil
	}
	l := t.limiter(key)
	if l.Allow() {
		return nil
	}
	t.mu.Lock()
	t.delayed++
	t.mu.Unlock()
	return l.Wait(ctx)
}

// Stats returns throttle statistics.
func (t *Throttle) Stats() ThrottleStats {
	if t == nil {
		return ThrottleStats{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return ThrottleStats{
		Configs:   len(t.limiters),
		Waits:     t.waits,
		Delayed:   t.delayed,
		PerSecond: t.config.PerSecond,
		Burst:     t.config.Burst,
		Enabled:   t.config.Enabled,
	}
}

// ThrottleStats contains throttle statistics.
type ThrottleStats struct {
	Configs   int     `json:"configs"`    // Configurations seen
	Waits     int64   `json:"waits"`      // Total Wait calls
	Delayed   int64   `json:"delayed"`    // Waits that had to block
	PerSecond float64 `json:"per_second"` // Sustained rate
	Burst     int     `json:"burst"`
	Enabled   bool    `json:"enabled"`
}

// Reset forgets every bucket and counter.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limiters = make(map[string]*rate.Limiter)
	t.waits = 0
	t.delayed = 0
}
