// Package metrics exposes prometheus counters for the capture and
// notification pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Captured counts occurrences that produced or updated a group.
	Captured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "errtrack_captured_total",
		Help: "Occurrences captured into a group.",
	})

	// Ignored counts occurrences dropped by an ignore rule.
	Ignored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "errtrack_ignored_total",
		Help: "Occurrences dropped by ignore rules.",
	})

	// Sampled counts occurrences dropped by the sampling rate.
	Sampled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "errtrack_sampled_out_total",
		Help: "Occurrences dropped by sampling.",
	})

	// Failed counts captures that hit an internal error and failed open.
	Failed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "errtrack_capture_failures_total",
		Help: "Captures that failed internally (fail-open).",
	})

	// QueueDropped counts async captures dropped because the queue was full.
	QueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "errtrack_queue_dropped_total",
		Help: "Async captures dropped on a full queue.",
	})

	// Notified counts alerts passed to the webhook transport.
	Notified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "errtrack_notifications_total",
		Help: "Notifications dispatched.",
	})

	// Throttled counts alerts suppressed by cooldown or severity floor.
	Throttled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "errtrack_notifications_throttled_total",
		Help: "Notifications suppressed by throttling.",
	})

	// CaptureDuration observes end-to-end capture latency.
	CaptureDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "errtrack_capture_duration_seconds",
		Help:    "End-to-end capture pipeline latency.",
		Buckets: prometheus.DefBuckets,
	})
)
