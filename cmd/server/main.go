package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nicktill/webpulse/pkg/api"
	"github.com/nicktill/webpulse/pkg/config"
	"github.com/nicktill/webpulse/pkg/consumer"
	"github.com/nicktill/webpulse/pkg/counter"
	logbadger "github.com/nicktill/webpulse/pkg/eventlog/badger"
	"github.com/nicktill/webpulse/pkg/export"
	kvbadger "github.com/nicktill/webpulse/pkg/kv/badger"
	"github.com/nicktill/webpulse/pkg/queue"
	"github.com/nicktill/webpulse/pkg/realtime"
	"github.com/nicktill/webpulse/pkg/rollup"
)

const gcInterval = 10 * time.Minute

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Msg("starting webpulse server")

	cfg := config.Load()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("failed to create data directory")
	}

	// Hot counter store: TTL'd minute/hour buckets, session markers, feed.
	hot, err := kvbadger.New(kvbadger.Config{Path: filepath.Join(cfg.DataDir, "hot")})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open hot counter store")
	}
	defer hot.Close()

	// Durable store: raw event log, sessions, aggregates.
	logStore, err := logbadger.New(logbadger.Config{Path: filepath.Join(cfg.DataDir, "log")})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open event log store")
	}
	defer logStore.Close()
	log.Info().Str("dir", cfg.DataDir).Msg("storage initialized")

	counters := counter.New(hot)
	processor := consumer.New(logStore, counters)

	q := queue.New(cfg.QueueDepth)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// WebSocket hub and the snapshot/diff broadcaster.
	hub := realtime.NewHub()
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	snapshotter := realtime.NewSnapshotter(counters, logStore)
	broadcaster := realtime.NewBroadcaster(snapshotter, hub)
	wg.Add(1)
	go func() {
		defer wg.Done()
		broadcaster.Run(ctx)
	}()
	log.Info().Dur("interval", config.SnapshotInterval).Msg("realtime broadcaster started")

	// Consumer pool draining the intake queue.
	q.Start(ctx, cfg.Workers, processor.Handle)
	log.Info().Int("workers", cfg.Workers).Int("depth", cfg.QueueDepth).Msg("consumer pool started")

	// Rollup scheduler: hourly and daily aggregation plus retention cleanup.
	engine := rollup.New(logStore, cfg.Retention())
	rollupMonitor := rollup.NewMonitor()
	scheduler := rollup.NewScheduler(engine, rollupMonitor)
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()
	log.Info().Int("retention_days", cfg.RetentionDays).Msg("rollup scheduler started")

	// Badger value log GC keeps disk usage bounded.
	wg.Add(1)
	go func() {
		defer wg.Done()
		runStoreGC(ctx, hot, logStore)
	}()

	router := mux.NewRouter()
	api.SetupRoutes(
		router,
		api.NewIngestHandler(q),
		api.NewAnalyticsHandler(counters, logStore, snapshotter),
		export.NewHandler(logStore),
		hub,
		rollupMonitor,
		cfg.Port,
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received")

	// Shutdown order matters: stop intake first so no new jobs arrive, then
	// drain the queue so every accepted event is counted and persisted, then
	// stop the periodic tasks, then close the stores (deferred).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}

	log.Info().Int("queued", q.Len()).Msg("draining ingestion queue")
	q.Drain()

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Warn().Msg("some background tasks did not stop in time, forcing exit")
	}

	log.Info().Msg("webpulse exited cleanly")
}

// runStoreGC runs Badger value log GC on both stores periodically. Badger's
// LSM design accumulates dead data in the value log until GC rewrites it.
func runStoreGC(ctx context.Context, hot *kvbadger.Store, logStore *logbadger.Store) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			// ErrNoRewrite just means there was nothing worth reclaiming.
			hotErr := hot.RunGC(0.5)
			logErr := logStore.RunGC(0.5)
			log.Debug().
				Dur("took", time.Since(start)).
				Bool("hot_rewrote", hotErr == nil).
				Bool("log_rewrote", logErr == nil).
				Msg("badger GC pass complete")
		}
	}
}
