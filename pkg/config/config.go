// Package config holds the engine's tunables and env-driven settings.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Server defaults.
const (
	DefaultPort          = "4000"
	DefaultDataDir       = "./data/webpulse"
	DefaultRetentionDays = 30
	DefaultWorkers       = 4
	DefaultQueueDepth    = 1024
)

// Realtime cadence and windows.
const (
	SnapshotInterval  = 5 * time.Second
	SnapshotMinutes   = 5  // minute buckets folded into the live view
	TopPagesLimit     = 10 // entries kept in the topPages ranking
	RecentFeedFetch   = 50 // feed entries included per snapshot
	ColdStartMinPages = 5  // below this, merge the latest hourly aggregate
)

// Rollup schedule. Fire times are absolute next-occurrence instants, not
// polled guards.
const (
	HourlyRollupOffset = 5 * time.Minute  // runs at :05 past each hour
	DailyRollupAt      = 10 * time.Minute // runs at 00:10 UTC
	CleanupInterval    = 24 * time.Hour
)

// Range-query cost caps.
const (
	SummaryMergeMaxHours = 48  // hot hour buckets merged into /summary
	RangeScanMaxHours    = 168 // hot hour buckets scanned per range query (7d)
)

// HTTP server timeouts.
const (
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 10 * time.Second
	ShutdownTimeout    = 30 * time.Second
)

// WebSocket configuration.
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// Config is the env-driven runtime configuration.
type Config struct {
	Port          string
	DataDir       string
	RetentionDays int
	Workers       int
	QueueDepth    int
}

// Load reads configuration from the environment, honoring a local .env file
// when present.
func Load() Config {
	// Missing .env is the normal case in production.
	_ = godotenv.Load()

	return Config{
		Port:          envString("PORT", DefaultPort),
		DataDir:       envString("WEBPULSE_DATA_DIR", DefaultDataDir),
		RetentionDays: envInt("WEBPULSE_RETENTION_DAYS", DefaultRetentionDays),
		Workers:       envInt("WEBPULSE_WORKERS", DefaultWorkers),
		QueueDepth:    envInt("WEBPULSE_QUEUE_DEPTH", DefaultQueueDepth),
	}
}

// Retention returns the raw-event retention horizon as a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Int("default", fallback).
			Msg("invalid integer env value, using default")
		return fallback
	}
	return parsed
}
