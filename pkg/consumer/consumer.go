// Package consumer turns raw queue jobs into durable events, session
// liveness, and hot counter increments.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nicktill/webpulse/pkg/counter"
	"github.com/nicktill/webpulse/pkg/event"
	"github.com/nicktill/webpulse/pkg/eventlog"
	"github.com/nicktill/webpulse/pkg/metrics"
	"github.com/nicktill/webpulse/pkg/queue"
)

// counterRetries bounds in-place retries of hot-counter updates after the
// event has already been persisted.
const counterRetries = 3

// Processor applies one event's full effect: idempotency check, durable
// append, session touch, and counter fan-out.
type Processor struct {
	logStore eventlog.Store
	counters *counter.Store

	// now is swappable for tests.
	now func() time.Time
}

// New creates a processor.
func New(logStore eventlog.Store, counters *counter.Store) *Processor {
	return &Processor{
		logStore: logStore,
		counters: counters,
		now:      time.Now,
	}
}

// SetClock overrides the processor's time source. Test use only.
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

// Handle adapts Process to the queue's handler signature. Malformed events
// are dropped here (never redelivered); everything else propagates so the
// queue can retry.
func (p *Processor) Handle(ctx context.Context, job queue.Job) error {
	_, err := p.Process(ctx, job.Type, job.Payload)
	if errors.Is(err, event.ErrMalformed) {
		metrics.EventsMalformed.Inc()
		log.Error().Err(err).Str("type", string(job.Type)).
			Msg("dropping malformed event")
		return nil
	}
	return err
}

// Process applies a single event. skipped=true means the delivery was a
// duplicate of an already-processed event (same idempotency token) and had
// no side effects.
//
// Persistence is the durability boundary: a failure before or during the
// append surfaces to the queue for redelivery, while counter and session
// failures after the append are retried in place and then dropped, since
// redelivering a persisted event would double count anything without a token.
func (p *Processor) Process(ctx context.Context, typ event.Type, payload json.RawMessage) (skipped bool, err error) {
	ev, err := event.Parse(typ, payload)
	if err != nil {
		return false, err
	}

	ts := ev.OccurredAt()
	if ts.IsZero() {
		ts = p.now()
	}
	ts = ts.UTC()

	// Idempotency: an absent token means no dedup; every delivery counts.
	if id := ev.EventID(); id != "" {
		seen, err := p.logStore.HasEvent(ctx, id)
		if err != nil {
			return false, err
		}
		if seen {
			metrics.EventsSkipped.Inc()
			return true, nil
		}
	}

	err = p.logStore.AppendEvent(ctx, eventlog.Record{
		EventID:   ev.EventID(),
		Type:      typ,
		Payload:   payload,
		SessionID: ev.SessionID(),
		CreatedAt: ts,
	})
	if errors.Is(err, eventlog.ErrDuplicateID) {
		// Lost the race against a concurrent redelivery; the winner's write
		// already carries this event's full effect.
		metrics.EventsSkipped.Inc()
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if sid := ev.SessionID(); sid != "" {
		// Session state is best-effort once the event is durable: surfacing
		// a touch failure here would redeliver, and a tokenless event would
		// be persisted and counted twice.
		if err := p.withRetry(ctx, func() error {
			return p.logStore.TouchSession(ctx, sid, ts)
		}); err != nil {
			p.reportCounterLoss(err, typ, "session record")
		}
		if err := p.withRetry(ctx, func() error {
			return p.counters.MarkSessionAlive(ctx, sid)
		}); err != nil {
			p.reportCounterLoss(err, typ, "session liveness")
		}
	}

	if err := p.withRetry(ctx, func() error {
		return p.count(ctx, ev, ts)
	}); err != nil {
		p.reportCounterLoss(err, typ, "bucket counters")
	}

	metrics.EventsProcessed.WithLabelValues(string(typ)).Inc()
	return false, nil
}

// count fans the event out into its minute and hour buckets.
func (p *Processor) count(ctx context.Context, ev event.Event, ts time.Time) error {
	minKey := counter.MinuteKey(ts)
	hourKey := counter.HourKey(ts)

	switch e := ev.(type) {
	case *event.Pageview:
		url := e.URL
		if url == "" {
			url = "unknown"
		}
		if err := p.counters.Incr(ctx, counter.BucketKey(minKey, counter.KindPageviews), url, 1, counter.MinuteBucketTTL); err != nil {
			return err
		}
		return p.counters.Incr(ctx, counter.BucketKey(hourKey, counter.KindPageviews), url, 1, counter.HourBucketTTL)

	case *event.Action:
		key := e.CounterKey()
		if err := p.counters.Incr(ctx, counter.BucketKey(minKey, counter.KindActions), key, 1, counter.MinuteBucketTTL); err != nil {
			return err
		}
		if err := p.counters.Incr(ctx, counter.BucketKey(hourKey, counter.KindActions), key, 1, counter.HourBucketTTL); err != nil {
			return err
		}
		// Sub-second precision matters here: the diff cursor compares the
		// feed head's Ts, and several actions per second is the normal case.
		return p.counters.PushRecentAction(ctx, counter.ActionRecord{
			Action:    e.Action,
			Category:  e.Category,
			Label:     e.Label,
			Ts:        ts.Format(time.RFC3339Nano),
			SessionID: e.Session,
		})

	case *event.Performance:
		countField := counter.PerfField{Metric: e.MetricName(), Kind: counter.PerfCount}.String()
		sumField := counter.PerfField{Metric: e.MetricName(), Kind: counter.PerfSum}.String()
		for _, bucket := range []struct {
			key string
			ttl time.Duration
		}{
			{counter.BucketKey(minKey, counter.KindPerformance), counter.MinuteBucketTTL},
			{counter.BucketKey(hourKey, counter.KindPerformance), counter.HourBucketTTL},
		} {
			if err := p.counters.Incr(ctx, bucket.key, countField, 1, bucket.ttl); err != nil {
				return err
			}
			if err := p.counters.IncrFloat(ctx, bucket.key, sumField, e.Value, bucket.ttl); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func (p *Processor) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < counterRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-time.After(time.Duration(i+1) * 50 * time.Millisecond):
		case <-ctx.Done():
			return err
		}
	}
	return err
}

// reportCounterLoss records a post-persist update that could not be applied.
// The durable log still has the event, so rollups recover the final numbers.
func (p *Processor) reportCounterLoss(err error, typ event.Type, what string) {
	metrics.CounterWriteFailures.Inc()
	log.Error().Err(err).Str("type", string(typ)).
		Msgf("failed to update %s after persist, live state will lag", what)
}
