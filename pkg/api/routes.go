package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/webpulse/pkg/export"
	"github.com/nicktill/webpulse/pkg/httpx"
	"github.com/nicktill/webpulse/pkg/realtime"
	"github.com/nicktill/webpulse/pkg/rollup"
)

var startTime = time.Now()

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string               `json:"status"`
	Uptime string               `json:"uptime"`
	Rollup rollup.MonitorStatus `json:"rollup"`
}

// handleHealth returns service health status. The service reports degraded
// when rollups stop landing, since dashboards would silently go stale past
// the hot bucket TTLs.
func handleHealth(rollupMonitor *rollup.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if !rollupMonitor.IsHealthy() {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		httpx.RespondJSON(w, code, HealthResponse{
			Status: status,
			Uptime: time.Since(startTime).String(),
			Rollup: rollupMonitor.Status(),
		})
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(
	router *mux.Router,
	ingest *IngestHandler,
	analytics *AnalyticsHandler,
	backup *export.Handler,
	hub *realtime.Hub,
	rollupMonitor *rollup.Monitor,
	port string,
) {
	// CORS middleware for API access
	router.Use(corsMiddleware(port))

	api := router.PathPrefix("/api").Subrouter()

	// Event intake
	api.HandleFunc("/events/batch", ingest.HandleBatch).Methods("POST")
	api.HandleFunc("/events/{type}", ingest.HandleEvent).Methods("POST")

	// Analytics reads
	api.HandleFunc("/analytics/realtime", analytics.HandleRealtime).Methods("GET")
	api.HandleFunc("/analytics/summary", analytics.HandleSummary).Methods("GET")
	api.HandleFunc("/analytics/top-pages", analytics.HandleTopPages).Methods("GET")
	api.HandleFunc("/analytics/actions", analytics.HandleActions).Methods("GET")
	api.HandleFunc("/analytics/performance", analytics.HandlePerformance).Methods("GET")

	// Aggregate backup and restore
	api.HandleFunc("/export", backup.HandleExport).Methods("GET")
	api.HandleFunc("/import", backup.HandleImport).Methods("POST")

	// WebSocket for pushed diffs
	api.HandleFunc("/ws", realtime.ServeWS(hub)).Methods("GET")

	api.HandleFunc("/health", handleHealth(rollupMonitor)).Methods("GET")

	// Prometheus scrape endpoint
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Allow localhost origins for local development
			allowedOrigins := []string{
				"http://localhost:" + port,
				"http://127.0.0.1:" + port,
				"http://localhost:3000",
				"http://127.0.0.1:3000",
				"http://localhost:5173",
				"http://127.0.0.1:5173",
			}

			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if origin == allowedOrigin {
					allowed = true
					break
				}
			}

			// Only set CORS headers for allowed origins
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
