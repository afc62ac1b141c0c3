package alerting

import (
	"context"
	"sort"
	"time"
)

// window is a debounce window: every rule sharing the same timeout.
type window struct {
	delay   time.Duration
	members []int // indexes into the sorted rule slice
}

// buildWindows groups rules by timeout. delays must be sorted ascending.
func buildWindows(delays []time.Duration) []window {
	var windows []window
	for i, d := range delays {
		if n := len(windows); n > 0 && windows[n-1].delay == d {
			windows[n-1].members = append(windows[n-1].members, i)
			continue
		}
		windows = append(windows, window{delay: d, members: []int{i}})
	}
	return windows
}

// sortByDelay stably sorts idx by the delay of each entry.
func sortByDelay(idx []int, delay func(i int) time.Duration) {
	sort.SliceStable(idx, func(a, b int) bool {
		return delay(idx[a]) < delay(idx[b])
	})
}

// walkWindows waits out the incremental delay before each window and calls
// visit with it. Walking stops when visit returns true or ctx is cancelled.
func walkWindows(ctx context.Context, clock Clock, windows []window, visit func(w window, last bool) bool) error {
	var elapsed time.Duration
	for i, w := range windows {
		if err := clock.Wait(ctx, w.delay-elapsed); err != nil {
			return err
		}
		elapsed = w.delay
		if err := ctx.Err(); err != nil {
			return err
		}
		if visit(w, i == len(windows)-1) {
			return nil
		}
	}
	return nil
}
