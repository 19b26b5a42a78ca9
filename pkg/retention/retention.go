// Package retention implements the scheduled roll-up and deletion job
// (C7): hourly/daily aggregation followed by batched, retention-bounded
// deletion.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/wtower/uptime-monitor/pkg/store"
)

// firstRunDelay is the delay between process start and the job's first
// run (§4.7); every run after that follows the cron schedule below.
const firstRunDelay = 60 * time.Second

const batchPause = 100 * time.Millisecond

// Config holds the job's horizons and switches (§4.7, §6).
type Config struct {
	DetailRetentionDays int
	HourlyRetentionDays int
	DailyRetentionDays  int
	BatchSize           int
	DeleteEnabled       bool
}

// Job runs the retention pipeline on its own timer with its own reentrancy
// guard, independent of the scheduler's probe loops.
type Job struct {
	store *store.Store
	cfg   Config
	log   zerolog.Logger

	mu sync.Mutex
}

// New builds a Job. It does not schedule anything until Run is called.
func New(s *store.Store, cfg Config, log zerolog.Logger) *Job {
	return &Job{store: s, cfg: cfg, log: log.With().Str("component", "retention").Logger()}
}

// Run schedules the job's first execution firstRunDelay after the call,
// then every 24 hours via a cron.ConstantDelaySchedule, and blocks until
// ctx is cancelled.
func (j *Job) Run(ctx context.Context) {
	c := cron.New()
	c.Schedule(cron.ConstantDelaySchedule{Delay: 24 * time.Hour}, cron.FuncJob(func() {
		j.Trigger()
	}))
	c.Start()
	defer c.Stop()

	firstRun := time.AfterFunc(firstRunDelay, j.Trigger)
	defer firstRun.Stop()

	<-ctx.Done()
}

// Trigger runs the pipeline once, skipping if a previous run is still
// active (reentrancy guard per §4.7).
func (j *Job) Trigger() {
	if !j.mu.TryLock() {
		j.log.Info().Msg("retention run already in progress, skipping trigger")
		return
	}
	defer j.mu.Unlock()

	if !j.cfg.DeleteEnabled {
		j.log.Info().Msg("retention deletion disabled, skipping run")
		return
	}

	if err := j.run(); err != nil {
		j.log.Error().Err(err).Msg("retention run failed")
	}
}

// run executes §4.7's five steps in order. Steps 1-4 abort the run on
// failure (rethrown for operational visibility); step 5's failure is
// logged and swallowed.
func (j *Job) run() error {
	now := time.Now().UTC()
	agg := j.store.Aggregates()

	hourlySince := now.AddDate(0, 0, -j.cfg.HourlyRetentionDays)
	hourlyUntil := now.Truncate(time.Hour)
	if _, err := agg.UpsertHourlyFromChecks(hourlySince, hourlyUntil); err != nil {
		return fmt.Errorf("hourly roll-up failed: %w", err)
	}

	dailySince := now.AddDate(0, 0, -j.cfg.DailyRetentionDays)
	dailyUntil := hourlyUntil
	if _, err := agg.UpsertDailyFromChecks(dailySince, dailyUntil); err != nil {
		return fmt.Errorf("daily roll-up failed: %w", err)
	}

	if err := j.deleteDetailRows(now); err != nil {
		return fmt.Errorf("detail delete failed: %w", err)
	}

	hourlyCutoff := now.AddDate(0, 0, -j.cfg.HourlyRetentionDays)
	if _, err := agg.DeleteHourlyOlderThan(hourlyCutoff); err != nil {
		return fmt.Errorf("hourly aggregate delete failed: %w", err)
	}
	dailyCutoff := now.AddDate(0, 0, -j.cfg.DailyRetentionDays)
	if _, err := agg.DeleteDailyOlderThan(dailyCutoff); err != nil {
		return fmt.Errorf("daily aggregate delete failed: %w", err)
	}

	if err := agg.Vacuum(); err != nil {
		j.log.Warn().Err(err).Msg("vacuum/analyze failed, continuing")
	}

	return nil
}

// deleteDetailRows removes raw checks older than detailRetentionDays in
// batches, sleeping between batches to avoid lock pressure, halting once a
// batch returns zero rows.
func (j *Job) deleteDetailRows(now time.Time) error {
	cutoff := now.AddDate(0, 0, -j.cfg.DetailRetentionDays)
	batchSize := j.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10000
	}

	for {
		n, err := j.store.Checks().DeleteOlderThan(cutoff, batchSize)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		time.Sleep(batchPause)
	}
}
