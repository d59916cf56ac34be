// Package queue is the in-process work queue feeding the event consumer.
//
// Delivery is at-least-once: a job whose handler fails with a retryable error
// is re-enqueued with its attempt count bumped, until the attempt budget runs
// out and it is dead-lettered. Consumers therefore rely on the idempotency
// token, not the queue, for exactly-once counting.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nicktill/webpulse/pkg/event"
	"github.com/nicktill/webpulse/pkg/metrics"
)

// DefaultMaxAttempts bounds redelivery before a job is dead-lettered.
const DefaultMaxAttempts = 5

// Job is one unit of work: a validated event envelope off the wire.
type Job struct {
	Type     event.Type      `json:"type"`
	Payload  json.RawMessage `json:"event"`
	Attempts int             `json:"-"`
}

// Handler processes one job. A non-nil error requests redelivery.
type Handler func(ctx context.Context, job Job) error

// Queue is a bounded queue drained by a fixed pool of workers.
type Queue struct {
	jobs        chan Job
	maxAttempts int

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a queue with the given capacity.
func New(depth int) *Queue {
	return &Queue{
		jobs:        make(chan Job, depth),
		maxAttempts: DefaultMaxAttempts,
	}
}

// Enqueue adds a job without blocking. Returns false when the queue is full
// or shut down; callers surface that as backpressure (HTTP 429).
func (q *Queue) Enqueue(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- job:
		metrics.EventsEnqueued.Inc()
		metrics.QueueDepth.Set(float64(len(q.jobs)))
		return true
	default:
		metrics.EventsDropped.Inc()
		return false
	}
}

// Start launches n workers draining the queue through fn. Workers keep
// processing queued jobs after ctx is cancelled; cancellation stops intake
// (via Drain), not in-flight work.
func (q *Queue) Start(ctx context.Context, n int, fn Handler) {
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for job := range q.jobs {
				metrics.QueueDepth.Set(float64(len(q.jobs)))
				q.dispatch(ctx, job, fn)
			}
		}()
	}
}

func (q *Queue) dispatch(ctx context.Context, job Job, fn Handler) {
	err := fn(ctx, job)
	if err == nil {
		return
	}

	job.Attempts++
	if job.Attempts >= q.maxAttempts {
		metrics.EventsDeadLettered.Inc()
		log.Error().Err(err).Str("type", string(job.Type)).Int("attempts", job.Attempts).
			Msg("dead-lettering event after exhausting redelivery attempts")
		return
	}

	log.Warn().Err(err).Str("type", string(job.Type)).Int("attempt", job.Attempts).
		Msg("event processing failed, redelivering")

	// Brief pause so a flapping store is not hammered by an instant retry.
	select {
	case <-time.After(time.Duration(job.Attempts) * 100 * time.Millisecond):
	case <-ctx.Done():
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		metrics.EventsDeadLettered.Inc()
		return
	}
	select {
	case q.jobs <- job:
	default:
		metrics.EventsDeadLettered.Inc()
		log.Error().Str("type", string(job.Type)).Msg("queue full during redelivery, dead-lettering")
	}
}

// Len returns how many jobs are currently queued.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Drain stops intake and blocks until all queued and in-flight jobs finish.
func (q *Queue) Drain() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
