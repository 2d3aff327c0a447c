package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/appwarden/internal/clock"
	"github.com/goodtune/appwarden/internal/storage"
	"github.com/rs/zerolog"
)

// Resetter performs the daily reset.
type Resetter interface {
	ResetDailyUsage(ctx context.Context) (int, error)
	List(ctx context.Context) ([]storage.AppRecord, error)
}

// ResetScheduler manages daily usage resets
type ResetScheduler struct {
	resetter  Resetter
	resetTime time.Time // Time of day to reset (only hour and minute are used)
	clock     clock.Clock
	logger    zerolog.Logger
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewResetScheduler creates a new reset scheduler
func NewResetScheduler(resetter Resetter, resetTime string, clk clock.Clock, logger zerolog.Logger) (*ResetScheduler, error) {
	// Parse reset time (HH:MM format)
	parsedTime, err := time.Parse("15:04", resetTime)
	if err != nil {
		return nil, fmt.Errorf("invalid reset time %q: %w", resetTime, err)
	}
	if clk == nil {
		clk = clock.Real{}
	}

	rs := &ResetScheduler{
		resetter:  resetter,
		resetTime: parsedTime,
		clock:     clk,
		logger:    logger.With().Str("component", "reset-scheduler").Logger(),
		stopChan:  make(chan struct{}),
	}

	return rs, nil
}

// Start catches up on a reset missed while the daemon was down, then begins
// the scheduler loop.
func (rs *ResetScheduler) Start(ctx context.Context) {
	rs.catchUp(ctx)

	rs.wg.Add(1)
	go rs.run(ctx)
	rs.logger.Info().
		Str("reset_time", rs.resetTime.Format("15:04")).
		Msg("Daily usage reset scheduler started")
}

// Stop stops the reset scheduler
func (rs *ResetScheduler) Stop() {
	close(rs.stopChan)
	rs.wg.Wait()
	rs.logger.Info().Msg("Daily usage reset scheduler stopped")
}

// run is the main scheduler loop
func (rs *ResetScheduler) run(ctx context.Context) {
	defer rs.wg.Done()

	for {
		// The wait is recomputed from the clock each round so the loop
		// does not drift and follows DST changes.
		nextReset := rs.calculateNextReset(rs.clock.Now())
		waitDuration := nextReset.Sub(rs.clock.Now())

		rs.logger.Info().
			Time("next_reset", nextReset).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next daily reset")

		// Wait until reset time or stop signal
		select {
		case <-time.After(waitDuration):
			rs.performReset(ctx)
		case <-rs.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// calculateNextReset calculates the next reset time
func (rs *ResetScheduler) calculateNextReset(now time.Time) time.Time {
	todayReset := rs.resetOn(now)

	// If we've already passed today's reset time, schedule for tomorrow
	if !now.Before(todayReset) {
		return todayReset.AddDate(0, 0, 1)
	}

	return todayReset
}

// lastReset returns the most recent reset boundary at or before now.
func (rs *ResetScheduler) lastReset(now time.Time) time.Time {
	todayReset := rs.resetOn(now)
	if now.Before(todayReset) {
		return todayReset.AddDate(0, 0, -1)
	}
	return todayReset
}

func (rs *ResetScheduler) resetOn(day time.Time) time.Time {
	return time.Date(
		day.Year(), day.Month(), day.Day(),
		rs.resetTime.Hour(), rs.resetTime.Minute(), 0, 0,
		day.Location(),
	)
}

// catchUp resets when any record still carries state from before the last
// reset boundary.
func (rs *ResetScheduler) catchUp(ctx context.Context) {
	records, err := rs.resetter.List(ctx)
	if err != nil {
		rs.logger.Error().Err(err).Msg("Failed to check for a missed daily reset")
		return
	}

	boundary := rs.lastReset(rs.clock.Now())
	for _, rec := range records {
		stale := rec.LastInteractTime.Before(boundary)
		dirty := rec.DailyUsageMs > 0 || rec.SessionState != storage.StateIdle
		if stale && dirty {
			rs.logger.Info().
				Str("app_id", rec.AppID).
				Time("boundary", boundary).
				Msg("Daily reset was missed, resetting now")
			rs.performReset(ctx)
			return
		}
	}
}

// performReset performs the daily usage reset
func (rs *ResetScheduler) performReset(ctx context.Context) {
	rs.logger.Info().Msg("Performing daily usage reset")

	count, err := rs.resetter.ResetDailyUsage(ctx)
	if err != nil {
		rs.logger.Error().Err(err).Msg("Failed to reset daily usage")
		return
	}

	rs.logger.Info().
		Int("records", count).
		Msg("Daily usage reset complete")
}
