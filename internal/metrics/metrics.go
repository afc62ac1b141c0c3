// Package metrics provides Prometheus metrics for blazealarm.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "blazealarm"
)

// Event source metrics
var (
	// EventsReceivedTotal counts events read from the event source.
	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "events_received_total",
			Help:      "Total events received by topic and origin (live, snapshot)",
		},
		[]string{"topic", "origin"},
	)

	// ReconnectsTotal counts subscription reconnect attempts.
	ReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "reconnects_total",
			Help:      "Total subscription reconnect attempts",
		},
		[]string{"topic"},
	)

	// StreamsLive tracks subscription streams currently delivering live events.
	StreamsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "streams_live",
			Help:      "Number of subscription streams in live state",
		},
	)
)

// Task supervisor metrics
var (
	// TasksActive tracks running evaluation tasks.
	TasksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "active",
			Help:      "Number of running evaluation tasks",
		},
	)

	// TasksStartedTotal counts spawned tasks by handler.
	TasksStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "started_total",
			Help:      "Total tasks started",
		},
		[]string{"handler"},
	)

	// TasksCancelledTotal counts tasks superseded by a newer event or a deletion.
	TasksCancelledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "cancelled_total",
			Help:      "Total tasks cancelled before completion",
		},
		[]string{"handler"},
	)

	// TasksFailedTotal counts tasks that returned an error or panicked.
	TasksFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "failed_total",
			Help:      "Total tasks that failed",
		},
		[]string{"handler"},
	)

	// TaskDuration tracks task run time.
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Task run time in seconds, including debounce waits",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"handler"},
	)
)

// Alarm metrics
var (
	// StatusTransitionsTotal counts alarm status writes.
	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alarms",
			Name:      "transitions_total",
			Help:      "Total alarm status transitions by evaluator and target status",
		},
		[]string{"evaluator", "status"},
	)

	// RulesSkippedTotal counts malformed rules ignored during evaluation.
	RulesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alarms",
			Name:      "rules_skipped_total",
			Help:      "Total malformed rules skipped",
		},
		[]string{"evaluator"},
	)

	// NotificationsPublishedTotal counts created notifications.
	NotificationsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alarms",
			Name:      "notifications_published_total",
			Help:      "Total notifications published by alarm kind",
		},
		[]string{"alarm"},
	)
)

// Delivery metrics
var (
	// DeliveriesTotal counts delivery receipts.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "receipts_total",
			Help:      "Total delivery receipts by channel and outcome",
		},
		[]string{"channel", "delivered"},
	)

	// DeliveryDuration tracks provider call latency.
	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "send_duration_seconds",
			Help:      "Provider send latency in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel"},
	)

	// ConfigHealth exposes delivery config health (1 operational, 0 degraded).
	ConfigHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "config_health",
			Help:      "Delivery configuration health (1 operational, 0 degraded)",
		},
		[]string{"config", "channel"},
	)

	// HealthFlipsTotal counts persisted health changes.
	HealthFlipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "health_flips_total",
			Help:      "Total delivery config health changes",
		},
		[]string{"channel", "health"},
	)
)

// Archive metrics
var (
	// ArchivePending tracks receipts waiting to be flushed to the archive.
	ArchivePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "pending_receipts",
			Help:      "Receipts waiting to be flushed to the archive",
		},
	)

	// ArchiveFlushesTotal counts flush operations.
	ArchiveFlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "flushes_total",
			Help:      "Total archive flush operations",
		},
	)

	// ArchiveFlushErrors counts failed flushes.
	ArchiveFlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "flush_errors_total",
			Help:      "Total archive flush errors",
		},
	)

	// ArchiveDroppedTotal counts receipts dropped because the archive buffer was full.
	ArchiveDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "dropped_total",
			Help:      "Total receipts not archived due to buffer overflow",
		},
	)
)

// Storage metrics
var (
	// StorageQueryDuration tracks query latency.
	StorageQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "query_duration_seconds",
			Help:      "Storage query latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation", "backend"},
	)

	// StorageErrors counts storage operation errors.
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Total storage operation errors",
		},
		[]string{"operation", "backend"},
	)
)

// HTTP metrics for the admin API.
var (
	// HTTPRequestsTotal counts admin API requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of admin API requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks admin API latency by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin API request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// BoolLabel renders a bool as a metric label value.
func BoolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
