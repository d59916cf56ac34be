package rollup

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nicktill/webpulse/pkg/config"
)

// Scheduler fires the three maintenance jobs on their own timers:
//
//   - hourly rollup at 5 minutes past each hour, covering the hour that
//     just closed
//   - daily rollup at 00:10 UTC, covering the previous UTC day
//   - retention cleanup every 24 hours from startup
//
// Fire times are computed as absolute instants rather than fixed sleeps, so
// a long-running job body shifts nothing: the next fire is recomputed from
// the wall clock after each run. Bodies run serially per job and are never
// re-entered.
type Scheduler struct {
	rollup  *Rollup
	monitor *Monitor

	// now is swappable for tests.
	now func() time.Time
}

// NewScheduler creates a scheduler driving the given rollup engine.
func NewScheduler(r *Rollup, monitor *Monitor) *Scheduler {
	return &Scheduler{rollup: r, monitor: monitor, now: time.Now}
}

// Run starts the three job loops and blocks until ctx is cancelled and all
// in-flight bodies have returned.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		s.loop(ctx, s.nextHourly, s.runHourly)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, s.nextDaily, s.runDaily)
	}()
	go func() {
		defer wg.Done()
		s.cleanupLoop(ctx)
	}()

	wg.Wait()
}

// loop sleeps until the next absolute fire time, runs the body, and repeats.
func (s *Scheduler) loop(ctx context.Context, next func(time.Time) time.Time, body func(context.Context)) {
	for {
		fireAt := next(s.now())
		timer := time.NewTimer(fireAt.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			body(ctx)
		}
	}
}

func (s *Scheduler) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.rollup.Cleanup(ctx, s.now()); err != nil {
				log.Error().Err(err).Msg("retention cleanup failed")
			}
		}
	}
}

func (s *Scheduler) runHourly(ctx context.Context) {
	// Fired shortly after the hour boundary; the window that just closed
	// ends at the current truncated hour.
	hourEnd := s.now().UTC().Truncate(time.Hour)
	if err := s.rollup.Hourly(ctx, hourEnd); err != nil {
		s.monitor.RecordFailure(err)
		log.Error().Err(err).Time("hour_end", hourEnd).Msg("hourly rollup failed")
		return
	}
	s.monitor.RecordSuccess()
}

func (s *Scheduler) runDaily(ctx context.Context) {
	dayEnd := s.now().UTC().Truncate(24 * time.Hour)
	if err := s.rollup.Daily(ctx, dayEnd); err != nil {
		log.Error().Err(err).Time("day_end", dayEnd).Msg("daily rollup failed")
	}
}

// nextHourly returns the next instant at HourlyRollupOffset past an hour.
func (s *Scheduler) nextHourly(now time.Time) time.Time {
	fire := now.UTC().Truncate(time.Hour).Add(config.HourlyRollupOffset)
	if !fire.After(now) {
		fire = fire.Add(time.Hour)
	}
	return fire
}

// nextDaily returns the next instant at DailyRollupAt past UTC midnight.
func (s *Scheduler) nextDaily(now time.Time) time.Time {
	fire := now.UTC().Truncate(24 * time.Hour).Add(config.DailyRollupAt)
	if !fire.After(now) {
		fire = fire.Add(24 * time.Hour)
	}
	return fire
}
