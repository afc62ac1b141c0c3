package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff_Next(t *testing.T) {
	b := New()

	// First attempt should be around Initial (1s) +/- jitter
	d1 := b.Next()
	if d1 < 900*time.Millisecond || d1 > 1100*time.Millisecond {
		t.Errorf("first delay %v not within expected range [900ms, 1100ms]", d1)
	}

	d2 := b.Next()
	if d2 < 1800*time.Millisecond || d2 > 2200*time.Millisecond {
		t.Errorf("second delay %v not within expected range [1.8s, 2.2s]", d2)
	}
}

func TestBackoff_Max(t *testing.T) {
	b := NewWithConfig(1*time.Second, 5*time.Second, 2.0, 0)

	for i := 0; i < 10; i++ {
		if d := b.Next(); d > 5*time.Second {
			t.Errorf("delay %v exceeded max 5s", d)
		}
	}
}

func TestBackoff_NoJitter(t *testing.T) {
	b := NewWithConfig(100*time.Millisecond, 1*time.Second, 2.0, 0)

	delays := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1000 * time.Millisecond, // capped
	}
	for i, expected := range delays {
		if got := b.Next(); got != expected {
			t.Errorf("attempt %d: expected %v, got %v", i, expected, got)
		}
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := NewWithConfig(time.Millisecond, time.Second, 2.0, 0)
	b.Next()
	b.Next()
	if b.Attempt() != 2 {
		t.Fatalf("expected attempt 2, got %d", b.Attempt())
	}
	b.Reset()
	if b.Attempt() != 0 {
		t.Errorf("expected attempt 0 after reset, got %d", b.Attempt())
	}
}

func TestBackoff_WaitCancelled(t *testing.T) {
	b := NewWithConfig(time.Hour, time.Hour, 2.0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBackoff_RetryUntilSuccess(t *testing.T) {
	b := NewWithConfig(time.Millisecond, 5*time.Millisecond, 2.0, 0)

	calls := 0
	var seen []int
	err := b.Retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 4 {
			return errors.New("unavailable")
		}
		return nil
	}, func(attempt int, _ error) {
		seen = append(seen, attempt)
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Errorf("unexpected attempts %v", seen)
	}
	if b.Attempt() != 0 {
		t.Errorf("expected reset after success, got attempt %d", b.Attempt())
	}
}
