// Package realtime computes the live dashboard view from the hot counters and
// pushes minimal diffs to WebSocket subscribers.
package realtime

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/nicktill/webpulse/pkg/config"
	"github.com/nicktill/webpulse/pkg/counter"
	"github.com/nicktill/webpulse/pkg/eventlog"
)

// PageCount is one entry in the topPages ranking. Order is meaningful.
type PageCount struct {
	URL   string `json:"url"`
	Count int64  `json:"count"`
}

// Snapshot is the full derived realtime state, recomputed from scratch each
// tick. Never mutated after construction.
type Snapshot struct {
	EPM            int64                  `json:"epm"`
	TopPages       []PageCount            `json:"topPages"`
	Actions        map[string]int64       `json:"actions"`
	ActiveSessions int                    `json:"activeSessions"`
	RecentActions  []counter.ActionRecord `json:"recentActions"`
}

// Snapshotter recomputes snapshots from the counter store, with a durable
// fallback for cold starts.
type Snapshotter struct {
	counters *counter.Store
	logStore eventlog.Store

	// now is swappable for tests.
	now func() time.Time
}

// NewSnapshotter creates a snapshotter.
func NewSnapshotter(counters *counter.Store, logStore eventlog.Store) *Snapshotter {
	return &Snapshotter{
		counters: counters,
		logStore: logStore,
		now:      time.Now,
	}
}

// SetClock overrides the snapshotter's time source. Test use only.
func (s *Snapshotter) SetClock(now func() time.Time) {
	s.now = now
}

// Compute builds a fresh snapshot:
//
//   - epm: pageview total of the most recent minute bucket only
//   - topPages: pageview totals over the last 5 minute buckets, descending
//     top 10, ties broken by first-seen order (stable sort)
//   - actions: action totals over the same window
//   - activeSessions: live marker count, pruning dead members as it reads
//   - recentActions: current feed head, invalid entries dropped
//
// Cold start: when fewer than 5 distinct pages show up in the hot window
// (e.g. right after a restart), the most recent durable hourly aggregate is
// merged in. That mixes a full hour into a 5-minute view without weighting,
// an accepted approximation to keep the dashboard non-empty after restarts.
func (s *Snapshotter) Compute(ctx context.Context) (Snapshot, error) {
	now := s.now()
	minuteKeys := lastMinuteKeys(now, config.SnapshotMinutes)

	lastMin := minuteKeys[len(minuteKeys)-1]
	lastPv, err := s.counters.ReadAll(ctx, counter.BucketKey(lastMin, counter.KindPageviews))
	if err != nil {
		return Snapshot{}, err
	}
	var epm int64
	for _, v := range lastPv {
		epm += parseCount(v)
	}

	pages := newOrderedCounts()
	for _, mk := range minuteKeys {
		bucket, err := s.counters.ReadAll(ctx, counter.BucketKey(mk, counter.KindPageviews))
		if err != nil {
			return Snapshot{}, err
		}
		for url, v := range bucket {
			pages.add(url, parseCount(v))
		}
	}

	if pages.len() < config.ColdStartMinPages {
		latest, err := s.logStore.LatestHourly(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		if latest != nil {
			for url, n := range latest.PageViews {
				pages.add(url, n)
			}
		}
	}
	topPages := pages.top(config.TopPagesLimit)

	actions := make(map[string]int64)
	for _, mk := range minuteKeys {
		bucket, err := s.counters.ReadAll(ctx, counter.BucketKey(mk, counter.KindActions))
		if err != nil {
			return Snapshot{}, err
		}
		for k, v := range bucket {
			actions[k] += parseCount(v)
		}
	}

	live, err := s.counters.ActiveSessions(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	recent, err := s.counters.RecentActions(ctx, config.RecentFeedFetch)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		EPM:            epm,
		TopPages:       topPages,
		Actions:        actions,
		ActiveSessions: len(live),
		RecentActions:  recent,
	}, nil
}

// lastMinuteKeys returns the minute keys for the n-minute window ending at
// now, oldest first.
func lastMinuteKeys(now time.Time, n int) []string {
	keys := make([]string, 0, n)
	for i := n - 1; i >= 0; i-- {
		keys = append(keys, counter.MinuteKey(now.Add(-time.Duration(i)*time.Minute)))
	}
	return keys
}

func parseCount(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// orderedCounts accumulates counts while remembering first-seen insertion
// order, so the ranking's tie-break is stable across ticks.
type orderedCounts struct {
	order  []string
	counts map[string]int64
}

func newOrderedCounts() *orderedCounts {
	return &orderedCounts{counts: make(map[string]int64)}
}

func (o *orderedCounts) add(key string, n int64) {
	if _, seen := o.counts[key]; !seen {
		o.order = append(o.order, key)
	}
	o.counts[key] += n
}

func (o *orderedCounts) len() int {
	return len(o.counts)
}

// top returns the limit highest entries, descending by count, first-seen
// order breaking ties (stable sort over the insertion order).
func (o *orderedCounts) top(limit int) []PageCount {
	ranked := make([]PageCount, 0, len(o.order))
	for _, key := range o.order {
		ranked = append(ranked, PageCount{URL: key, Count: o.counts[key]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
