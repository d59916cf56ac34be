// Package event defines the closed set of inbound event types. The upstream
// validation layer hands the consumer one of these variants; nothing in the
// core handles loosely-typed payload maps.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrMalformed marks a payload that cannot be decoded into its declared type.
// The consumer logs and drops such events; they are never retried.
var ErrMalformed = errors.New("event: malformed payload")

// Type is the event taxonomy.
type Type string

const (
	TypePageview    Type = "pageview"
	TypeAction      Type = "action"
	TypePerformance Type = "performance"
)

// Valid reports whether t names a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypePageview, TypeAction, TypePerformance:
		return true
	}
	return false
}

// Timestamp accepts an RFC 3339 string, a unix-seconds number, or a
// unix-milliseconds number. Anything else parses to the zero time; callers
// substitute "now" (clients ship malformed clocks more often than one would
// hope).
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			t.Time = parsed
		}
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		// Heuristic: values past the year-2286 mark in seconds are millis.
		if n > 1e12 {
			t.Time = time.UnixMilli(int64(n)).UTC()
		} else if n > 0 {
			t.Time = time.Unix(int64(n), 0).UTC()
		}
		return nil
	}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.UTC().Format(time.RFC3339))), nil
}

// Event is implemented by all three inbound variants.
type Event interface {
	// EventID returns the optional client-supplied idempotency token;
	// empty means no dedup is attempted for this delivery.
	EventID() string
	// SessionID returns the originating session, if any.
	SessionID() string
	// OccurredAt returns the client timestamp; zero when missing/unparseable.
	OccurredAt() time.Time
	// Kind returns the event type.
	Kind() Type
}

// Pageview is a single page load.
type Pageview struct {
	ID         string    `json:"eventId,omitempty"`
	URL        string    `json:"url"`
	Timestamp  Timestamp `json:"timestamp"`
	Session    string    `json:"sessionId,omitempty"`
	Referrer   string    `json:"referrer,omitempty"`
	DeviceType string    `json:"deviceType,omitempty"`
}

func (p *Pageview) EventID() string       { return p.ID }
func (p *Pageview) SessionID() string     { return p.Session }
func (p *Pageview) OccurredAt() time.Time { return p.Timestamp.Time }
func (p *Pageview) Kind() Type            { return TypePageview }

// Action is a discrete user interaction (click, signup, submit).
type Action struct {
	ID        string    `json:"eventId,omitempty"`
	Action    string    `json:"action"`
	Category  string    `json:"category,omitempty"`
	Label     string    `json:"label,omitempty"`
	Value     float64   `json:"value,omitempty"`
	Timestamp Timestamp `json:"timestamp"`
	Session   string    `json:"sessionId,omitempty"`
}

func (a *Action) EventID() string       { return a.ID }
func (a *Action) SessionID() string     { return a.Session }
func (a *Action) OccurredAt() time.Time { return a.Timestamp.Time }
func (a *Action) Kind() Type            { return TypeAction }

// CounterKey is the dimension an action is counted under: category when set,
// else the action name, else "unknown".
func (a *Action) CounterKey() string {
	if a.Category != "" {
		return a.Category
	}
	if a.Action != "" {
		return a.Action
	}
	return "unknown"
}

// Performance is a client performance sample (LCP, TTFB, custom timings).
type Performance struct {
	ID        string    `json:"eventId,omitempty"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp Timestamp `json:"timestamp"`
	Page      string    `json:"page,omitempty"`
	LoadTime  float64   `json:"loadTime,omitempty"`
	Session   string    `json:"sessionId,omitempty"`
}

func (p *Performance) EventID() string       { return p.ID }
func (p *Performance) SessionID() string     { return p.Session }
func (p *Performance) OccurredAt() time.Time { return p.Timestamp.Time }
func (p *Performance) Kind() Type            { return TypePerformance }

// MetricName returns the metric dimension, defaulting like the counters do.
func (p *Performance) MetricName() string {
	if p.Metric == "" {
		return "metric"
	}
	return p.Metric
}

// Parse decodes payload into the typed variant for typ.
func Parse(typ Type, payload json.RawMessage) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch typ {
	case TypePageview:
		var pv Pageview
		err = json.Unmarshal(payload, &pv)
		ev = &pv
	case TypeAction:
		var ac Action
		err = json.Unmarshal(payload, &ac)
		ev = &ac
	case TypePerformance:
		var pf Performance
		err = json.Unmarshal(payload, &pf)
		ev = &pf
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, typ)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return ev, nil
}
