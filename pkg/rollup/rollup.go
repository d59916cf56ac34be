// Package rollup folds the raw event log into durable hourly and daily
// aggregates and enforces raw-event retention. Aggregates are upserted by
// window key, so re-running any window after a crash overwrites with
// identical results instead of double counting. Recomputation from the raw
// log is always safe until that log is pruned.
package rollup

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nicktill/webpulse/pkg/event"
	"github.com/nicktill/webpulse/pkg/eventlog"
	"github.com/nicktill/webpulse/pkg/metrics"
)

// Rollup reduces raw events and hourly aggregates into durable documents.
type Rollup struct {
	logStore  eventlog.Store
	retention time.Duration
}

// New creates a rollup engine with the given raw-event retention horizon.
func New(logStore eventlog.Store, retention time.Duration) *Rollup {
	return &Rollup{logStore: logStore, retention: retention}
}

// Hourly reduces raw events in [hourEnd-1h, hourEnd) into one aggregate
// keyed by the window start. hourEnd must be hour-truncated. A window with
// zero events is a logged no-op: nothing is written.
func (r *Rollup) Hourly(ctx context.Context, hourEnd time.Time) error {
	start := hourEnd.Add(-time.Hour)
	events, err := r.logStore.EventsInRange(ctx, start, hourEnd)
	if err != nil {
		metrics.RollupRuns.WithLabelValues("hourly", "error").Inc()
		return err
	}
	if len(events) == 0 {
		metrics.RollupRuns.WithLabelValues("hourly", "empty").Inc()
		log.Info().Time("window", start).Msg("hourly rollup: no events in window")
		return nil
	}

	agg := reduceEvents(start, events)
	if err := r.logStore.UpsertHourly(ctx, agg); err != nil {
		metrics.RollupRuns.WithLabelValues("hourly", "error").Inc()
		return err
	}
	metrics.RollupRuns.WithLabelValues("hourly", "ok").Inc()
	log.Info().Time("window", start).Int("events", len(events)).Msg("hourly aggregate updated")
	return nil
}

// Daily sums the hourly aggregates in [dayEnd-24h, dayEnd) into one daily
// aggregate keyed by the day start. dayEnd must be day-truncated.
func (r *Rollup) Daily(ctx context.Context, dayEnd time.Time) error {
	start := dayEnd.Add(-24 * time.Hour)
	hours, err := r.logStore.HourlyInRange(ctx, start, dayEnd)
	if err != nil {
		metrics.RollupRuns.WithLabelValues("daily", "error").Inc()
		return err
	}
	if len(hours) == 0 {
		metrics.RollupRuns.WithLabelValues("daily", "empty").Inc()
		log.Info().Time("window", start).Msg("daily rollup: no hourly data for day")
		return nil
	}

	day := eventlog.NewAggregate(start)
	for _, h := range hours {
		day.Merge(h)
	}
	if err := r.logStore.UpsertDaily(ctx, day); err != nil {
		metrics.RollupRuns.WithLabelValues("daily", "error").Inc()
		return err
	}
	metrics.RollupRuns.WithLabelValues("daily", "ok").Inc()
	log.Info().Time("window", start).Int("hours", len(hours)).Msg("daily aggregate updated")
	return nil
}

// Cleanup deletes raw events older than the retention horizon. Unconditional
// and irreversible: past this point the aggregates are the only record.
func (r *Rollup) Cleanup(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-r.retention)
	deleted, err := r.logStore.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		metrics.RollupRuns.WithLabelValues("cleanup", "error").Inc()
		return err
	}
	metrics.RollupRuns.WithLabelValues("cleanup", "ok").Inc()
	log.Info().Int("deleted", deleted).Time("cutoff", cutoff).Msg("retention cleanup complete")
	return nil
}

// reduceEvents folds raw records into one aggregate for the window.
func reduceEvents(window time.Time, events []eventlog.Record) eventlog.Aggregate {
	agg := eventlog.NewAggregate(window)
	for _, rec := range events {
		ev, err := event.Parse(rec.Type, rec.Payload)
		if err != nil {
			// A record that was persisted but no longer decodes is skipped;
			// it was never counted on ingest either.
			continue
		}
		switch e := ev.(type) {
		case *event.Pageview:
			url := e.URL
			if url == "" {
				url = "unknown"
			}
			agg.PageViews[url]++
		case *event.Action:
			agg.Actions[e.CounterKey()]++
		case *event.Performance:
			st := agg.Perf[e.MetricName()]
			st.Count++
			st.Sum += e.Value
			agg.Perf[e.MetricName()] = st
		}
	}
	return agg
}
