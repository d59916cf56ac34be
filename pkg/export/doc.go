// Package export provides backup and restore for rollup aggregates.
//
// # Overview
//
// The export package lets operators back up hourly and daily rollup
// aggregates to JSON or CSV files and restore them later. This is useful for:
//   - Backup and disaster recovery of rolled-up analytics
//   - Migrating data between WebPulse instances
//   - Exporting counts for analysis in external tools
//
// # Supported Formats
//
// JSON Format:
//   - Preserves the full aggregate documents (page views, actions, perf stats)
//   - Includes export metadata (timestamp, time range, aggregate count)
//   - Can be re-imported into WebPulse
//   - Human-readable with pretty-printing
//
// CSV Format:
//   - Flattened representation suitable for spreadsheets
//   - One row per counted key, with a kind column (pageview, action, perf)
//   - Good for analysis in Excel, pandas, or other tools
//   - Cannot be re-imported (export-only)
//
// # HTTP API
//
// Export endpoint: GET /api/export
// Query parameters:
//   - format: "json" or "csv" (default: json)
//   - window: "hourly" or "daily" (default: hourly)
//   - start: RFC3339 timestamp (default: 24h ago)
//   - end: RFC3339 timestamp (default: now)
//
// Example:
//
//	curl "http://localhost:4000/api/export?format=json&start=2025-11-18T00:00:00Z" \
//	  -o backup.json
//
// Import endpoint: POST /api/import
// Content-Type: application/json
//
// Example:
//
//	curl -X POST "http://localhost:4000/api/import" \
//	  -H "Content-Type: application/json" \
//	  -d @backup.json
//
// # Usage Limits
//
//   - Maximum export time range: 30 days
//   - Default export window: 24 hours
//   - Import validation: aggregates must sit on an hour (or day) boundary and
//     hold at least one count; invalid entries are skipped, not fatal
//
// # Data Format
//
// The JSON export format wraps the aggregates in a metadata envelope:
//
//	{
//	  "metadata": {
//	    "exported_at": "2025-11-19T03:00:00Z",
//	    "start_time": "2025-11-18T03:00:00Z",
//	    "end_time": "2025-11-19T03:00:00Z",
//	    "window": "hourly",
//	    "aggregate_count": 24,
//	    "version": "1.0"
//	  },
//	  "aggregates": [
//	    {
//	      "window": "2025-11-18T03:00:00Z",
//	      "pageViews": {"/home": 42},
//	      "actions": {"nav::click": 7},
//	      "perf": {"lcp": {"count": 10, "sum": 1480}}
//	    }
//	  ]
//	}
//
// Imports go through the same upserts the rollup scheduler uses, so restoring
// a backup twice leaves the store unchanged.
package export
