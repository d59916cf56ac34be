package export

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nicktill/webpulse/pkg/eventlog"
	"github.com/nicktill/webpulse/pkg/httpx"
)

const (
	// DefaultExportWindow is the default time range for exports (last 24 hours)
	DefaultExportWindow = 24 * time.Hour

	// MaxExportWindow is the maximum allowed export time range (30 days)
	MaxExportWindow = 30 * 24 * time.Hour
)

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
}

// NewHandler creates a new export/import handler
func NewHandler(logs eventlog.Store) *Handler {
	return &Handler{
		exporter: NewExporter(logs),
		importer: NewImporter(logs),
	}
}

// HandleExport handles GET /api/export
// Query params:
//   - format: "json" or "csv" (default: json)
//   - window: "hourly" or "daily" (default: hourly)
//   - start: RFC3339 timestamp (default: 24h ago)
//   - end: RFC3339 timestamp (default: now)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "format must be 'json' or 'csv'")
		return
	}

	window := query.Get("window")
	if window == "" {
		window = WindowHourly
	}
	if window != WindowHourly && window != WindowDaily {
		httpx.RespondErrorString(w, http.StatusBadRequest, "window must be 'hourly' or 'daily'")
		return
	}

	end := parseTimeParam(query.Get("end"), time.Now().UTC())
	start := parseTimeParam(query.Get("start"), end.Add(-DefaultExportWindow))

	if !start.Before(end) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "start must be before end")
		return
	}
	if end.Sub(start) > MaxExportWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("time range too large, maximum is %v", MaxExportWindow))
		return
	}

	opts := ExportOptions{
		Start:  start,
		End:    end,
		Window: window,
		Format: format,
	}

	timestamp := time.Now().UTC().Format("20060102-150405")
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=webpulse-export-%s.json", timestamp))
	} else {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=webpulse-export-%s.csv", timestamp))
	}

	var result *ExportResult
	var err error
	if format == "json" {
		result, err = h.exporter.ExportToJSON(r.Context(), w, opts)
	} else {
		result, err = h.exporter.ExportToCSV(r.Context(), w, opts)
	}
	if err != nil {
		// Headers are already written; the truncated body is the best we can do.
		log.Error().Err(err).Str("format", format).Msg("export failed")
		return
	}

	log.Info().
		Int("aggregates", result.AggregatesExported).
		Str("format", format).
		Str("window", window).
		Str("range", result.TimeRange).
		Msg("export completed")
}

// HandleImport handles POST /api/import
// Accepts JSON backup files and restores their aggregates
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Content-Type") != "application/json" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}

	result, err := h.importer.ImportFromJSON(r.Context(), r.Body)
	if err != nil {
		log.Error().Err(err).Msg("import failed")
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	if len(result.Errors) > 0 {
		log.Warn().
			Int("skipped", len(result.Errors)).
			Str("first", result.Errors[0]).
			Msg("import completed with validation errors")
	}
	log.Info().
		Int("aggregates", result.AggregatesImported).
		Str("window", result.Window).
		Str("range", result.TimeRange).
		Msg("import completed")

	httpx.RespondJSON(w, http.StatusOK, result)
}

// parseTimeParam parses a time parameter or returns the default
func parseTimeParam(param string, defaultTime time.Time) time.Time {
	if param == "" {
		return defaultTime
	}
	if t, err := time.Parse(time.RFC3339, param); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05", param); err == nil {
		return t
	}
	return defaultTime
}
