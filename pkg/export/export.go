package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/nicktill/webpulse/pkg/eventlog"
)

const (
	// WindowHourly exports hourly rollup aggregates
	WindowHourly = "hourly"

	// WindowDaily exports daily rollup aggregates
	WindowDaily = "daily"

	// FormatVersion identifies the backup envelope layout
	FormatVersion = "1.0"
)

// Exporter handles exporting rollup aggregates to various formats
type Exporter struct {
	logs eventlog.Store
}

// NewExporter creates a new exporter backed by the durable store
func NewExporter(logs eventlog.Store) *Exporter {
	return &Exporter{logs: logs}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	Start  time.Time
	End    time.Time
	Window string // "hourly" or "daily"
	Format string // "json" or "csv"
}

// ExportResult contains stats about the export operation
type ExportResult struct {
	AggregatesExported int       `json:"aggregates_exported"`
	TimeRange          string    `json:"time_range"`
	Window             string    `json:"window"`
	Format             string    `json:"format"`
	ExportedAt         time.Time `json:"exported_at"`
}

// BackupMetadata describes a JSON backup envelope
type BackupMetadata struct {
	ExportedAt     time.Time `json:"exported_at"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Window         string    `json:"window"`
	AggregateCount int       `json:"aggregate_count"`
	Version        string    `json:"version"`
}

// BackupData is the JSON backup envelope. The importer accepts the same
// structure back.
type BackupData struct {
	Metadata   BackupMetadata       `json:"metadata"`
	Aggregates []eventlog.Aggregate `json:"aggregates"`
}

func (e *Exporter) fetch(ctx context.Context, opts ExportOptions) ([]eventlog.Aggregate, string, error) {
	window := opts.Window
	if window == "" {
		window = WindowHourly
	}
	switch window {
	case WindowDaily:
		aggs, err := e.logs.DailyInRange(ctx, opts.Start, opts.End)
		return aggs, window, err
	case WindowHourly:
		aggs, err := e.logs.HourlyInRange(ctx, opts.Start, opts.End)
		return aggs, window, err
	default:
		return nil, window, fmt.Errorf("unknown window %q", opts.Window)
	}
}

// ExportToJSON writes aggregates as a JSON backup envelope
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	aggs, window, err := e.fetch(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read aggregates: %w", err)
	}

	backup := BackupData{
		Metadata: BackupMetadata{
			ExportedAt:     time.Now().UTC(),
			StartTime:      opts.Start,
			EndTime:        opts.End,
			Window:         window,
			AggregateCount: len(aggs),
			Version:        FormatVersion,
		},
		Aggregates: aggs,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(backup); err != nil {
		return nil, fmt.Errorf("failed to encode backup: %w", err)
	}

	return &ExportResult{
		AggregatesExported: len(aggs),
		TimeRange:          formatTimeRange(opts.Start, opts.End),
		Window:             window,
		Format:             "json",
		ExportedAt:         backup.Metadata.ExportedAt,
	}, nil
}

// ExportToCSV writes aggregates as flattened CSV rows, one row per counted
// key. The kind column is "pageview", "action" or "perf"; the sum column is
// populated only for perf rows. CSV exports cannot be re-imported.
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	aggs, window, err := e.fetch(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read aggregates: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"window", "kind", "key", "count", "sum"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, agg := range aggs {
		ws := agg.Window.UTC().Format(time.RFC3339)
		for _, url := range sortedKeys(agg.PageViews) {
			row := []string{ws, "pageview", url, strconv.FormatInt(agg.PageViews[url], 10), ""}
			if err := cw.Write(row); err != nil {
				return nil, fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
		for _, key := range sortedKeys(agg.Actions) {
			row := []string{ws, "action", key, strconv.FormatInt(agg.Actions[key], 10), ""}
			if err := cw.Write(row); err != nil {
				return nil, fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
		for _, metric := range sortedPerfKeys(agg.Perf) {
			st := agg.Perf[metric]
			row := []string{
				ws, "perf", metric,
				strconv.FormatInt(st.Count, 10),
				strconv.FormatFloat(st.Sum, 'f', -1, 64),
			}
			if err := cw.Write(row); err != nil {
				return nil, fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return &ExportResult{
		AggregatesExported: len(aggs),
		TimeRange:          formatTimeRange(opts.Start, opts.End),
		Window:             window,
		Format:             "csv",
		ExportedAt:         time.Now().UTC(),
	}, nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedPerfKeys(m map[string]eventlog.PerfStat) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatTimeRange(start, end time.Time) string {
	return fmt.Sprintf("%s to %s",
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339))
}
