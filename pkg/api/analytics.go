package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nicktill/webpulse/pkg/config"
	"github.com/nicktill/webpulse/pkg/counter"
	"github.com/nicktill/webpulse/pkg/eventlog"
	"github.com/nicktill/webpulse/pkg/httpx"
	"github.com/nicktill/webpulse/pkg/realtime"
)

// AnalyticsHandler serves reads. The hot counter store is the fast path;
// durable aggregates fill in when the hot range has expired or never existed
// (cold start, queries older than the bucket TTLs).
type AnalyticsHandler struct {
	counters    *counter.Store
	logStore    eventlog.Store
	snapshotter *realtime.Snapshotter

	// now is swappable for tests.
	now func() time.Time
}

// NewAnalyticsHandler creates an analytics handler.
func NewAnalyticsHandler(counters *counter.Store, logStore eventlog.Store, snapshotter *realtime.Snapshotter) *AnalyticsHandler {
	return &AnalyticsHandler{
		counters:    counters,
		logStore:    logStore,
		snapshotter: snapshotter,
		now:         time.Now,
	}
}

// SetClock overrides the handler's time source. Test use only.
func (h *AnalyticsHandler) SetClock(now func() time.Time) {
	h.now = now
}

// HandleRealtime returns one snapshot computation: the same view pushed to
// WebSocket subscribers, for clients that poll instead.
func (h *AnalyticsHandler) HandleRealtime(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshotter.Compute(r.Context())
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, snap)
}

// hourEntry is one hour of summary data, either a durable aggregate or a
// not-yet-rolled-up hot hour bucket.
type hourEntry struct {
	Hour      time.Time                    `json:"hour"`
	PageViews map[string]int64             `json:"pageViews"`
	Actions   map[string]int64             `json:"actions"`
	Perf      map[string]eventlog.PerfStat `json:"perf"`
}

// summaryResponse is the /summary payload.
type summaryResponse struct {
	From  time.Time   `json:"from"`
	To    time.Time   `json:"to"`
	Hours []hourEntry `json:"hours"`
}

// HandleSummary returns per-hour data for a range: durable hourly aggregates
// plus hot hour buckets for recent hours the rollup has not flushed yet. The
// hot merge walks back from the range end and is capped at 48 hours; older
// hot buckets have expired anyway. Hours present in both sources appear
// twice, once per source.
func (h *AnalyticsHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.parseRange(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	aggs, err := h.logStore.HourlyInRange(r.Context(), from, to)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	hours := make([]hourEntry, 0, len(aggs))
	for _, agg := range aggs {
		hours = append(hours, hourEntry{
			Hour:      agg.Window,
			PageViews: agg.PageViews,
			Actions:   agg.Actions,
			Perf:      agg.Perf,
		})
	}

	span := hourSpan(from, to, config.SummaryMergeMaxHours)
	for i := 0; i <= span; i++ {
		at := to.Add(-time.Duration(i) * time.Hour)
		entry, err := h.hotHourEntry(r.Context(), at)
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		if entry != nil {
			hours = append(hours, *entry)
		}
	}

	httpx.RespondJSON(w, http.StatusOK, summaryResponse{From: from, To: to, Hours: hours})
}

// HandleTopPages returns the top 10 pages by pageviews over the range,
// summed from hot hour buckets with a durable fallback.
func (h *AnalyticsHandler) HandleTopPages(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.parseRange(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	totals, err := h.sumHotHours(r.Context(), from, to, counter.KindPageviews)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	if len(totals) == 0 {
		if err := h.sumDurable(r.Context(), from, to, func(agg eventlog.Aggregate) {
			for url, n := range agg.PageViews {
				totals[url] += n
			}
		}); err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
	}

	ranked := make([]realtime.PageCount, 0, len(totals))
	for url, n := range totals {
		ranked = append(ranked, realtime.PageCount{URL: url, Count: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].URL < ranked[j].URL
	})
	if len(ranked) > config.TopPagesLimit {
		ranked = ranked[:config.TopPagesLimit]
	}

	httpx.RespondJSON(w, http.StatusOK, map[string][]realtime.PageCount{"top": ranked})
}

// HandleActions returns action totals over the range.
func (h *AnalyticsHandler) HandleActions(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.parseRange(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	totals, err := h.sumHotHours(r.Context(), from, to, counter.KindActions)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	if len(totals) == 0 {
		if err := h.sumDurable(r.Context(), from, to, func(agg eventlog.Aggregate) {
			for k, n := range agg.Actions {
				totals[k] += n
			}
		}); err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
	}

	httpx.RespondJSON(w, http.StatusOK, map[string]map[string]int64{"totals": totals})
}

// perfResult is one metric's aggregate view.
type perfResult struct {
	Avg   float64 `json:"avg"`
	Count int64   `json:"count"`
}

// HandlePerformance returns avg and count per performance metric over the
// range.
func (h *AnalyticsHandler) HandlePerformance(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.parseRange(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	stats := make(map[string]eventlog.PerfStat)
	span := hourSpan(from, to, config.RangeScanMaxHours)
	for i := 0; i <= span; i++ {
		at := to.Add(-time.Duration(i) * time.Hour)
		bucket, err := h.counters.ReadAll(r.Context(), counter.BucketKey(counter.HourKey(at), counter.KindPerformance))
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		mergePerfBucket(stats, bucket)
	}

	if len(stats) == 0 {
		if err := h.sumDurable(r.Context(), from, to, func(agg eventlog.Aggregate) {
			for m, st := range agg.Perf {
				cur := stats[m]
				cur.Count += st.Count
				cur.Sum += st.Sum
				stats[m] = cur
			}
		}); err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
	}

	result := make(map[string]perfResult, len(stats))
	for m, st := range stats {
		var avg float64
		if st.Count > 0 {
			avg = st.Sum / float64(st.Count)
		}
		result[m] = perfResult{Avg: avg, Count: st.Count}
	}

	httpx.RespondJSON(w, http.StatusOK, map[string]map[string]perfResult{"result": result})
}

// parseRange reads from/to query params as RFC3339, defaulting to the last
// 24 hours.
func (h *AnalyticsHandler) parseRange(r *http.Request) (time.Time, time.Time, error) {
	now := h.now().UTC()
	from := now.Add(-24 * time.Hour)
	to := now

	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t.UTC()
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t.UTC()
	}
	return from, to, nil
}

// sumHotHours walks the hour buckets of the given kind from `to` back toward
// `from` (capped) and sums their fields.
func (h *AnalyticsHandler) sumHotHours(ctx context.Context, from, to time.Time, kind counter.Kind) (map[string]int64, error) {
	totals := make(map[string]int64)
	span := hourSpan(from, to, config.RangeScanMaxHours)
	for i := 0; i <= span; i++ {
		at := to.Add(-time.Duration(i) * time.Hour)
		bucket, err := h.counters.ReadAll(ctx, counter.BucketKey(counter.HourKey(at), kind))
		if err != nil {
			return nil, err
		}
		for k, v := range bucket {
			n, _ := strconv.ParseInt(v, 10, 64)
			totals[k] += n
		}
	}
	return totals, nil
}

// sumDurable folds every hourly aggregate in the range through fn.
func (h *AnalyticsHandler) sumDurable(ctx context.Context, from, to time.Time, fn func(eventlog.Aggregate)) error {
	aggs, err := h.logStore.HourlyInRange(ctx, from, to)
	if err != nil {
		return err
	}
	for _, agg := range aggs {
		fn(agg)
	}
	return nil
}

// hotHourEntry reads one hour's hot buckets and returns an entry, or nil
// when the hour holds no hot data at all.
func (h *AnalyticsHandler) hotHourEntry(ctx context.Context, at time.Time) (*hourEntry, error) {
	hk := counter.HourKey(at)

	pv, err := h.counters.ReadAll(ctx, counter.BucketKey(hk, counter.KindPageviews))
	if err != nil {
		return nil, err
	}
	ac, err := h.counters.ReadAll(ctx, counter.BucketKey(hk, counter.KindActions))
	if err != nil {
		return nil, err
	}
	pf, err := h.counters.ReadAll(ctx, counter.BucketKey(hk, counter.KindPerformance))
	if err != nil {
		return nil, err
	}
	if len(pv) == 0 && len(ac) == 0 && len(pf) == 0 {
		return nil, nil
	}

	perf := make(map[string]eventlog.PerfStat)
	mergePerfBucket(perf, pf)

	return &hourEntry{
		Hour:      at.UTC().Truncate(time.Hour),
		PageViews: parseCounts(pv),
		Actions:   parseCounts(ac),
		Perf:      perf,
	}, nil
}

// mergePerfBucket folds a raw hot performance hash into typed stats.
// Fields that fail to parse are logged and skipped.
func mergePerfBucket(into map[string]eventlog.PerfStat, bucket map[string]string) {
	for field, raw := range bucket {
		pf, err := counter.ParsePerfField(field)
		if err != nil {
			log.Warn().Str("field", field).Msg("skipping malformed performance field")
			continue
		}
		cur := into[pf.Metric]
		switch pf.Kind {
		case counter.PerfCount:
			n, _ := strconv.ParseInt(raw, 10, 64)
			cur.Count += n
		case counter.PerfSum:
			f, _ := strconv.ParseFloat(raw, 64)
			cur.Sum += f
		}
		into[pf.Metric] = cur
	}
}

func parseCounts(bucket map[string]string) map[string]int64 {
	out := make(map[string]int64, len(bucket))
	for k, v := range bucket {
		n, _ := strconv.ParseInt(v, 10, 64)
		out[k] += n
	}
	return out
}

// hourSpan returns the whole-hour distance between from and to, clamped to
// [0, max].
func hourSpan(from, to time.Time, max int) int {
	span := int(to.Sub(from).Round(time.Hour) / time.Hour)
	if span < 0 {
		span = 0
	}
	if span > max {
		span = max
	}
	return span
}
