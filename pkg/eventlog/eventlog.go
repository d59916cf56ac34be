// Package eventlog defines the durable document store: the raw event log,
// session records, and hourly/daily aggregates. The raw log is the durability
// boundary: once an event is appended, rollups can always recover final
// numbers even if the hot counters are lost.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nicktill/webpulse/pkg/event"
)

var (
	// ErrDuplicateID is returned by AppendEvent when the record's idempotency
	// token already exists. Callers treat this as "already processed", not as
	// a failure.
	ErrDuplicateID = errors.New("eventlog: duplicate event id")

	// ErrUnavailable indicates the durable store could not be reached.
	// Retryable; never interpreted as "no data".
	ErrUnavailable = errors.New("eventlog: store unavailable")
)

// Record is one persisted raw event. Immutable once written; destroyed only
// by retention cleanup.
type Record struct {
	// EventID is the optional client idempotency token, unique across all
	// events when present.
	EventID   string          `json:"eventId,omitempty"`
	Type      event.Type      `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	SessionID string          `json:"sessionId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Session tracks the last activity time per session id. Liveness is derived
// from the hot store's TTL markers, not from this record's lifecycle.
type Session struct {
	SessionID string    `json:"sessionId"`
	LastSeen  time.Time `json:"lastSeen"`
}

// PerfStat accumulates count and sum for one performance metric.
type PerfStat struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
}

// Aggregate is one durable rollup document, keyed uniquely by its window
// start (an hour or a day). Written only by the rollup scheduler, via upsert,
// and never deleted.
type Aggregate struct {
	Window    time.Time           `json:"window"`
	PageViews map[string]int64    `json:"pageViews"`
	Actions   map[string]int64    `json:"actions"`
	Perf      map[string]PerfStat `json:"perf"`
}

// NewAggregate creates an empty aggregate for the given window start.
func NewAggregate(window time.Time) Aggregate {
	return Aggregate{
		Window:    window,
		PageViews: make(map[string]int64),
		Actions:   make(map[string]int64),
		Perf:      make(map[string]PerfStat),
	}
}

// Empty reports whether the aggregate holds no counts at all.
func (a Aggregate) Empty() bool {
	return len(a.PageViews) == 0 && len(a.Actions) == 0 && len(a.Perf) == 0
}

// Merge folds other's counts into a.
func (a *Aggregate) Merge(other Aggregate) {
	for url, n := range other.PageViews {
		a.PageViews[url] += n
	}
	for k, n := range other.Actions {
		a.Actions[k] += n
	}
	for m, st := range other.Perf {
		cur := a.Perf[m]
		cur.Count += st.Count
		cur.Sum += st.Sum
		a.Perf[m] = cur
	}
}

// Store is the durable document store contract.
//
// Implementations: memory (testing), badger (production).
type Store interface {
	// AppendEvent persists a raw event. When the record carries an EventID
	// that already exists, the write fails with ErrDuplicateID. Uniqueness
	// is enforced at write time so racing redeliveries cannot both land.
	AppendEvent(ctx context.Context, rec Record) error

	// HasEvent reports whether an event with the given idempotency token has
	// already been persisted. A single atomic existence check.
	HasEvent(ctx context.Context, eventID string) (bool, error)

	// EventsInRange returns raw events with CreatedAt in [start, end),
	// ordered by CreatedAt ascending.
	EventsInRange(ctx context.Context, start, end time.Time) ([]Record, error)

	// DeleteEventsBefore removes raw events older than cutoff and returns
	// how many were deleted. Unconditional and irreversible.
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// TouchSession upserts a session's LastSeen.
	TouchSession(ctx context.Context, sessionID string, lastSeen time.Time) error

	// Session returns a session record, or nil when unknown.
	Session(ctx context.Context, sessionID string) (*Session, error)

	// UpsertHourly writes an hourly aggregate keyed by its window start.
	// Re-running a rollup for the same window overwrites identically.
	UpsertHourly(ctx context.Context, agg Aggregate) error

	// HourlyInRange returns hourly aggregates with Window in [start, end),
	// ordered by Window ascending.
	HourlyInRange(ctx context.Context, start, end time.Time) ([]Aggregate, error)

	// LatestHourly returns the most recent hourly aggregate, or nil if none
	// exists yet. Used by the snapshotter's cold-start fallback.
	LatestHourly(ctx context.Context) (*Aggregate, error)

	// UpsertDaily writes a daily aggregate keyed by its window start.
	UpsertDaily(ctx context.Context, agg Aggregate) error

	// DailyInRange returns daily aggregates with Window in [start, end).
	DailyInRange(ctx context.Context, start, end time.Time) ([]Aggregate, error)

	// Close cleanly shuts down the store.
	Close() error
}
