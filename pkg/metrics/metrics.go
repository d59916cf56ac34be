// Package metrics exposes the engine's own operational counters on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webpulse_events_enqueued_total",
		Help: "Total number of events accepted onto the work queue.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webpulse_events_dropped_total",
		Help: "Total number of events rejected due to a full queue.",
	})

	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webpulse_events_processed_total",
		Help: "Total number of events fully processed, labelled by type.",
	}, []string{"type"})

	EventsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webpulse_events_skipped_total",
		Help: "Total number of duplicate deliveries skipped via the idempotency token.",
	})

	EventsMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webpulse_events_malformed_total",
		Help: "Total number of undecodable events dropped by the consumer.",
	})

	EventsDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webpulse_events_dead_lettered_total",
		Help: "Total number of events abandoned after exhausting redelivery attempts.",
	})

	CounterWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webpulse_counter_write_failures_total",
		Help: "Total number of hot-counter updates lost after a persisted event.",
	})

	DiffsBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webpulse_realtime_diffs_broadcast_total",
		Help: "Total number of non-empty snapshot diffs pushed to subscribers.",
	})

	SnapshotFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webpulse_realtime_snapshot_failures_total",
		Help: "Total number of snapshot ticks that failed and were skipped.",
	})

	RollupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webpulse_rollup_runs_total",
		Help: "Total number of rollup runs, labelled by window and status.",
	}, []string{"window", "status"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webpulse_queue_depth",
		Help: "Number of events currently waiting on the work queue.",
	})
)
