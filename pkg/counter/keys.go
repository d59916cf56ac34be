package counter

import (
	"fmt"
	"strings"
	"time"
)

// Bucket kinds. A bucket is a hash of per-dimension accumulators keyed by
// (granularity key, kind).
type Kind string

const (
	KindPageviews   Kind = "pv" // field = URL
	KindActions     Kind = "ac" // field = action category
	KindPerformance Kind = "pf" // field = metric::count / metric::sum pair
)

// TTLs. Bucket TTLs are applied once, on first write, so a bucket's lifetime
// is fixed relative to its bucket start rather than its last write. Session
// markers are the exception: they are refreshed on every event.
const (
	MinuteBucketTTL  = 10 * time.Minute
	HourBucketTTL    = 7 * 24 * time.Hour
	SessionMarkerTTL = 10 * time.Minute
	RecentFeedTTL    = 7 * 24 * time.Hour
)

// Well-known keys.
const (
	ActiveSessionsKey = "active_sessions"
	RecentActionsKey  = "recent_actions"
	sessionMarkerPfx  = "sess_ttl:"
)

// RecentFeedCap bounds the recent-actions feed.
const RecentFeedCap = 500

// MinuteKey truncates ts to minute granularity, e.g. "min:2025-11-04T10:59".
// Truncation is on the UTC-normalized instant, so there is no timezone
// ambiguity in bucket identity.
func MinuteKey(ts time.Time) string {
	return "min:" + ts.UTC().Format("2006-01-02T15:04")
}

// HourKey truncates ts to hour granularity, e.g. "hour:2025-11-04T10".
func HourKey(ts time.Time) string {
	return "hour:" + ts.UTC().Format("2006-01-02T15")
}

// BucketKey joins a granularity key with a bucket kind: "min:...:pv".
func BucketKey(granKey string, kind Kind) string {
	return granKey + ":" + string(kind)
}

// SessionMarkerKey is the TTL'd liveness marker paired with a set member.
func SessionMarkerKey(sessionID string) string {
	return sessionMarkerPfx + sessionID
}

// PerfKind distinguishes the two accumulators kept per performance metric.
type PerfKind string

const (
	PerfCount PerfKind = "count"
	PerfSum   PerfKind = "sum"
)

// PerfField identifies one performance accumulator. The domain model stays
// typed; the flat "metric::count" encoding exists only at the store boundary.
type PerfField struct {
	Metric string
	Kind   PerfKind
}

// String serializes the field to the store's flat encoding.
func (f PerfField) String() string {
	return f.Metric + "::" + string(f.Kind)
}

// ParsePerfField decodes a flat performance field name.
func ParsePerfField(s string) (PerfField, error) {
	idx := strings.LastIndex(s, "::")
	if idx <= 0 {
		return PerfField{}, fmt.Errorf("malformed perf field %q", s)
	}
	kind := PerfKind(s[idx+2:])
	if kind != PerfCount && kind != PerfSum {
		return PerfField{}, fmt.Errorf("malformed perf field %q: unknown kind", s)
	}
	return PerfField{Metric: s[:idx], Kind: kind}, nil
}
