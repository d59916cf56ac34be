package rollup

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nicktill/webpulse/pkg/event"
	"github.com/nicktill/webpulse/pkg/eventlog"
	logmem "github.com/nicktill/webpulse/pkg/eventlog/memory"
)

func appendAt(t *testing.T, store *logmem.Store, typ event.Type, payload string, at time.Time) {
	t.Helper()
	err := store.AppendEvent(context.Background(), eventlog.Record{
		Type:      typ,
		Payload:   []byte(payload),
		CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
}

func TestHourly_ReducesWindow(t *testing.T) {
	store := logmem.New()
	r := New(store, 30*24*time.Hour)
	ctx := context.Background()

	hourStart := time.Date(2025, 11, 4, 9, 0, 0, 0, time.UTC)

	appendAt(t, store, event.TypePageview, `{"url":"/home"}`, hourStart.Add(5*time.Minute))
	appendAt(t, store, event.TypePageview, `{"url":"/home"}`, hourStart.Add(25*time.Minute))
	appendAt(t, store, event.TypePageview, `{"url":"/about"}`, hourStart.Add(45*time.Minute))
	appendAt(t, store, event.TypeAction, `{"action":"click","category":"nav"}`, hourStart.Add(10*time.Minute))
	appendAt(t, store, event.TypePerformance, `{"metric":"lcp","value":120}`, hourStart.Add(20*time.Minute))
	appendAt(t, store, event.TypePerformance, `{"metric":"lcp","value":80}`, hourStart.Add(40*time.Minute))

	// Outside the window on both sides.
	appendAt(t, store, event.TypePageview, `{"url":"/home"}`, hourStart.Add(-time.Minute))
	appendAt(t, store, event.TypePageview, `{"url":"/home"}`, hourStart.Add(time.Hour))

	if err := r.Hourly(ctx, hourStart.Add(time.Hour)); err != nil {
		t.Fatalf("Hourly failed: %v", err)
	}

	aggs, err := store.HourlyInRange(ctx, hourStart, hourStart.Add(time.Hour))
	if err != nil {
		t.Fatalf("HourlyInRange failed: %v", err)
	}
	if len(aggs) != 1 {
		t.Fatalf("got %d aggregates, want 1", len(aggs))
	}
	agg := aggs[0]
	if agg.PageViews["/home"] != 2 || agg.PageViews["/about"] != 1 {
		t.Errorf("pageViews = %v", agg.PageViews)
	}
	if agg.Actions["nav"] != 1 {
		t.Errorf("actions = %v", agg.Actions)
	}
	if st := agg.Perf["lcp"]; st.Count != 2 || st.Sum != 200 {
		t.Errorf("perf = %+v, want count=2 sum=200", st)
	}
}

func TestHourly_RerunIsIdempotent(t *testing.T) {
	store := logmem.New()
	r := New(store, 30*24*time.Hour)
	ctx := context.Background()

	hourStart := time.Date(2025, 11, 4, 9, 0, 0, 0, time.UTC)
	appendAt(t, store, event.TypePageview, `{"url":"/home"}`, hourStart.Add(30*time.Minute))

	hourEnd := hourStart.Add(time.Hour)
	if err := r.Hourly(ctx, hourEnd); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if err := r.Hourly(ctx, hourEnd); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	aggs, _ := store.HourlyInRange(ctx, hourStart, hourEnd)
	if len(aggs) != 1 {
		t.Fatalf("got %d aggregates after rerun, want 1", len(aggs))
	}
	if aggs[0].PageViews["/home"] != 1 {
		t.Errorf("rerun double counted: %v", aggs[0].PageViews)
	}
}

func TestHourly_EmptyWindowWritesNothing(t *testing.T) {
	store := logmem.New()
	r := New(store, 30*24*time.Hour)
	ctx := context.Background()

	hourEnd := time.Date(2025, 11, 4, 10, 0, 0, 0, time.UTC)
	if err := r.Hourly(ctx, hourEnd); err != nil {
		t.Fatalf("Hourly failed: %v", err)
	}

	aggs, _ := store.HourlyInRange(ctx, hourEnd.Add(-time.Hour), hourEnd)
	if len(aggs) != 0 {
		t.Errorf("empty window wrote %v", aggs)
	}
}

func TestDaily_SumsHourlies(t *testing.T) {
	store := logmem.New()
	r := New(store, 30*24*time.Hour)
	ctx := context.Background()

	dayStart := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		agg := eventlog.NewAggregate(dayStart.Add(time.Duration(i) * time.Hour))
		agg.PageViews["/home"] = int64(10 * (i + 1))
		agg.Perf["lcp"] = eventlog.PerfStat{Count: 1, Sum: 100}
		store.UpsertHourly(ctx, agg)
	}
	// The next day's hour must stay out.
	outside := eventlog.NewAggregate(dayStart.Add(24 * time.Hour))
	outside.PageViews["/home"] = 999
	store.UpsertHourly(ctx, outside)

	if err := r.Daily(ctx, dayStart.Add(24*time.Hour)); err != nil {
		t.Fatalf("Daily failed: %v", err)
	}

	days, err := store.DailyInRange(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("DailyInRange failed: %v", err)
	}
	if len(days) != 1 {
		t.Fatalf("got %d daily aggregates, want 1", len(days))
	}
	if days[0].PageViews["/home"] != 60 {
		t.Errorf("daily /home = %d, want 60", days[0].PageViews["/home"])
	}
	if st := days[0].Perf["lcp"]; st.Count != 3 || st.Sum != 300 {
		t.Errorf("daily perf = %+v", st)
	}
}

func TestCleanup_RetentionBoundary(t *testing.T) {
	store := logmem.New()
	r := New(store, 30*24*time.Hour)
	ctx := context.Background()

	now := time.Date(2025, 11, 4, 10, 0, 0, 0, time.UTC)
	appendAt(t, store, event.TypePageview, `{"url":"/old"}`, now.Add(-31*24*time.Hour))
	appendAt(t, store, event.TypePageview, `{"url":"/fresh"}`, now.Add(-29*24*time.Hour))

	if err := r.Cleanup(ctx, now); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	remaining, _ := store.EventsInRange(ctx, now.Add(-40*24*time.Hour), now)
	if len(remaining) != 1 {
		t.Fatalf("remaining = %d events, want 1", len(remaining))
	}
	var pv struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(remaining[0].Payload, &pv); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if pv.URL != "/fresh" {
		t.Errorf("survivor = %q, want /fresh", pv.URL)
	}
}

func TestScheduler_NextFireTimes(t *testing.T) {
	s := NewScheduler(New(logmem.New(), 30*24*time.Hour), NewMonitor())

	now := time.Date(2025, 11, 4, 10, 2, 0, 0, time.UTC)
	if got, want := s.nextHourly(now), time.Date(2025, 11, 4, 10, 5, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("nextHourly before :05 = %v, want %v", got, want)
	}

	now = time.Date(2025, 11, 4, 10, 5, 0, 0, time.UTC)
	if got, want := s.nextHourly(now), time.Date(2025, 11, 4, 11, 5, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("nextHourly at :05 = %v, want %v", got, want)
	}

	now = time.Date(2025, 11, 4, 0, 9, 0, 0, time.UTC)
	if got, want := s.nextDaily(now), time.Date(2025, 11, 4, 0, 10, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("nextDaily before 00:10 = %v, want %v", got, want)
	}

	now = time.Date(2025, 11, 4, 12, 0, 0, 0, time.UTC)
	if got, want := s.nextDaily(now), time.Date(2025, 11, 5, 0, 10, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("nextDaily after 00:10 = %v, want %v", got, want)
	}
}

func TestMonitor_HealthTransitions(t *testing.T) {
	m := NewMonitor()

	if !m.IsHealthy() {
		t.Error("fresh monitor should be healthy while the first window is pending")
	}

	m.RecordSuccess()
	if !m.IsHealthy() {
		t.Error("monitor should be healthy after a success")
	}

	for i := 0; i < 4; i++ {
		m.RecordFailure(nil)
	}
	if m.IsHealthy() {
		t.Error("monitor should be unhealthy after repeated failures")
	}

	status := m.Status()
	if status.Healthy || status.ConsecutiveErrors != 4 {
		t.Errorf("status = %+v", status)
	}

	m.RecordSuccess()
	if !m.IsHealthy() {
		t.Error("a success should clear the failure streak")
	}
}

func TestMonitor_StartupGrace(t *testing.T) {
	m := NewMonitor()
	if !m.IsHealthy() {
		t.Error("a just-booted monitor must report healthy before the first hourly fire")
	}

	// Failures during startup still count against the streak.
	for i := 0; i < 4; i++ {
		m.RecordFailure(nil)
	}
	if m.IsHealthy() {
		t.Error("repeated failures during startup should report unhealthy")
	}

	// No success by the time the grace runs out means rollups never started.
	m = NewMonitor()
	m.startedAt = time.Now().Add(-3 * time.Hour)
	if m.IsHealthy() {
		t.Error("an expired grace without any success should report unhealthy")
	}
}
