package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nicktill/webpulse/pkg/eventlog"
	logmem "github.com/nicktill/webpulse/pkg/eventlog/memory"
)

func seedHourlies(t *testing.T, store *logmem.Store, start time.Time, hours int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < hours; i++ {
		agg := eventlog.NewAggregate(start.Add(time.Duration(i) * time.Hour))
		agg.PageViews["/home"] = int64(10 * (i + 1))
		agg.Actions["nav::click"] = 2
		agg.Perf["lcp"] = eventlog.PerfStat{Count: 4, Sum: 600}
		if err := store.UpsertHourly(ctx, agg); err != nil {
			t.Fatalf("UpsertHourly failed: %v", err)
		}
	}
}

func TestExportToJSON_RoundTrip(t *testing.T) {
	store := logmem.New()
	ctx := context.Background()

	start := time.Date(2025, 11, 4, 0, 0, 0, 0, time.UTC)
	seedHourlies(t, store, start, 3)

	exporter := NewExporter(store)
	buf := &bytes.Buffer{}
	opts := ExportOptions{Start: start, End: start.Add(24 * time.Hour)}

	result, err := exporter.ExportToJSON(ctx, buf, opts)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.AggregatesExported != 3 {
		t.Errorf("exported %d aggregates, want 3", result.AggregatesExported)
	}

	var backup BackupData
	if err := json.Unmarshal(buf.Bytes(), &backup); err != nil {
		t.Fatalf("envelope decode failed: %v", err)
	}
	if backup.Metadata.Window != WindowHourly || backup.Metadata.AggregateCount != 3 {
		t.Errorf("metadata = %+v", backup.Metadata)
	}
	if backup.Aggregates[0].PageViews["/home"] != 10 {
		t.Errorf("first aggregate = %+v", backup.Aggregates[0])
	}

	// Restore into a fresh store.
	restored := logmem.New()
	importer := NewImporter(restored)
	importResult, err := importer.ImportFromJSON(ctx, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if importResult.AggregatesImported != 3 {
		t.Errorf("imported %d aggregates, want 3", importResult.AggregatesImported)
	}

	aggs, err := restored.HourlyInRange(ctx, start, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("HourlyInRange failed: %v", err)
	}
	if len(aggs) != 3 {
		t.Fatalf("restored %d aggregates, want 3", len(aggs))
	}
	if aggs[2].PageViews["/home"] != 30 {
		t.Errorf("restored third hour = %+v", aggs[2])
	}
	if st := aggs[0].Perf["lcp"]; st.Count != 4 || st.Sum != 600 {
		t.Errorf("restored perf = %+v", st)
	}
}

func TestExportToCSV(t *testing.T) {
	store := logmem.New()
	ctx := context.Background()

	start := time.Date(2025, 11, 4, 0, 0, 0, 0, time.UTC)
	seedHourlies(t, store, start, 1)

	exporter := NewExporter(store)
	buf := &bytes.Buffer{}

	result, err := exporter.ExportToCSV(ctx, buf, ExportOptions{Start: start, End: start.Add(time.Hour)})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.AggregatesExported != 1 {
		t.Errorf("exported %d aggregates, want 1", result.AggregatesExported)
	}

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("CSV parse failed: %v", err)
	}
	// Header plus one row each for pageview, action and perf.
	if len(records) != 4 {
		t.Fatalf("got %d rows, want 4: %v", len(records), records)
	}
	if records[0][1] != "kind" {
		t.Errorf("header = %v", records[0])
	}
	if records[1][1] != "pageview" || records[1][2] != "/home" || records[1][3] != "10" {
		t.Errorf("pageview row = %v", records[1])
	}
	if records[3][1] != "perf" || records[3][4] != "600" {
		t.Errorf("perf row = %v", records[3])
	}
}

func TestImport_SkipsInvalidAggregates(t *testing.T) {
	store := logmem.New()
	importer := NewImporter(store)
	ctx := context.Background()

	// One valid hour, one off a boundary, one with no counts.
	body := `{
		"metadata": {"window": "hourly"},
		"aggregates": [
			{"window": "2025-11-04T09:00:00Z", "pageViews": {"/home": 5}},
			{"window": "2025-11-04T09:30:00Z", "pageViews": {"/home": 5}},
			{"window": "2025-11-04T10:00:00Z"}
		]
	}`

	result, err := importer.ImportFromJSON(ctx, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.AggregatesImported != 1 {
		t.Errorf("imported %d, want 1", result.AggregatesImported)
	}
	if len(result.Errors) != 2 {
		t.Errorf("errors = %v, want 2 entries", result.Errors)
	}
}

func TestImport_DailyWindow(t *testing.T) {
	store := logmem.New()
	importer := NewImporter(store)
	ctx := context.Background()

	body := `{
		"metadata": {"window": "daily"},
		"aggregates": [{"window": "2025-11-04T00:00:00Z", "pageViews": {"/home": 120}}]
	}`

	result, err := importer.ImportFromJSON(ctx, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.AggregatesImported != 1 {
		t.Errorf("imported %d, want 1", result.AggregatesImported)
	}

	day := time.Date(2025, 11, 4, 0, 0, 0, 0, time.UTC)
	days, err := store.DailyInRange(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("DailyInRange failed: %v", err)
	}
	if len(days) != 1 || days[0].PageViews["/home"] != 120 {
		t.Errorf("daily = %v", days)
	}
}

func TestHandleExport_BadParams(t *testing.T) {
	h := NewHandler(logmem.New())

	cases := []string{
		"/api/export?format=xml",
		"/api/export?window=weekly",
		"/api/export?start=2025-11-04T10:00:00Z&end=2025-11-04T09:00:00Z",
		"/api/export?start=2025-01-01T00:00:00Z&end=2025-11-04T00:00:00Z",
	}
	for _, url := range cases {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rr := httptest.NewRecorder()
		h.HandleExport(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", url, rr.Code)
		}
	}
}

func TestHandleExport_SetsDownloadHeaders(t *testing.T) {
	store := logmem.New()
	start := time.Date(2025, 11, 4, 0, 0, 0, 0, time.UTC)
	seedHourlies(t, store, start, 1)
	h := NewHandler(store)

	url := "/api/export?format=csv&start=2025-11-04T00:00:00Z&end=2025-11-04T06:00:00Z"
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rr := httptest.NewRecorder()
	h.HandleExport(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "webpulse-export-") {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestHandleImport_RequiresJSONContentType(t *testing.T) {
	h := NewHandler(logmem.New())

	req := httptest.NewRequest(http.MethodPost, "/api/import", strings.NewReader("window,kind"))
	req.Header.Set("Content-Type", "text/csv")
	rr := httptest.NewRecorder()
	h.HandleImport(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}
