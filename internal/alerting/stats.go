package alerting

import "sync/atomic"

// Stats tracks evaluator counters using atomic operations for lock-free access.
type Stats struct {
	Evaluations            atomic.Int64
	Triggered              atomic.Int64
	Cleared                atomic.Int64
	RulesSkipped           atomic.Int64
	NotificationsPublished atomic.Int64
	PublishErrors          atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats for reporting.
type StatsSnapshot struct {
	Evaluations            int64 `json:"evaluations"`
	Triggered              int64 `json:"triggered"`
	Cleared                int64 `json:"cleared"`
	RulesSkipped           int64 `json:"rules_skipped"`
	NotificationsPublished int64 `json:"notifications_published"`
	PublishErrors          int64 `json:"publish_errors"`
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Evaluations:            s.Evaluations.Load(),
		Triggered:              s.Triggered.Load(),
		Cleared:                s.Cleared.Load(),
		RulesSkipped:           s.RulesSkipped.Load(),
		NotificationsPublished: s.NotificationsPublished.Load(),
		PublishErrors:          s.PublishErrors.Load(),
	}
}
