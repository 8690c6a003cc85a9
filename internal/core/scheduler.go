package core

// scheduler.go runs the daily sync.
//
// Snapshots are captured by the export job during the day; once a day, at a
// fixed wall-clock time in the account's time zone, the scheduler diffs
// yesterday's snapshot of every configured project against the one before
// it. The scheduler is long-running and context-aware; a failed run is logged
// and the next one is scheduled as usual.

import (
	"context"
	"log/slog"
	"time"
)

// ScheduleConfig configures the daily sync.
type ScheduleConfig struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// ScheduleStatus is reported by the /schedule endpoint.
type ScheduleStatus struct {
	Enabled   bool      `json:"enabled"`
	Timezone  string    `json:"timezone"`
	Hour      int       `json:"hour"`
	Minute    int       `json:"minute"`
	NextRun   time.Time `json:"nextRun,omitempty"`
	LastRun   time.Time `json:"lastRun,omitempty"`
	LastRunID string    `json:"lastRunId,omitempty"`
}

// NextRun returns the first hour:minute in loc strictly after t.
func NextRun(t time.Time, hour, minute int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// ScheduleStatus returns the scheduler state.
func (s *Service) ScheduleStatus() ScheduleStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule
}

// StartDailyScheduler blocks, running a sync for yesterday at every
// scheduled time until ctx is cancelled.
func (s *Service) StartDailyScheduler(ctx context.Context, cfg ScheduleConfig) {
	if cfg.Location == nil {
		cfg.Location = s.cfg.Location
	}

	s.mu.Lock()
	s.schedule = ScheduleStatus{
		Enabled:  true,
		Timezone: cfg.Location.String(),
		Hour:     cfg.Hour,
		Minute:   cfg.Minute,
	}
	s.mu.Unlock()

	slog.Info("daily scheduler started",
		"timezone", cfg.Location.String(),
		"hour", cfg.Hour,
		"minute", cfg.Minute,
	)

	for {
		next := NextRun(s.now(), cfg.Hour, cfg.Minute, cfg.Location)
		s.mu.Lock()
		s.schedule.NextRun = next
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("daily scheduler stopped")
			return
		case <-timer.C:
			s.runScheduled(ctx)
		}
	}
}

// runScheduled performs one scheduled sync.
func (s *Service) runScheduled(ctx context.Context) {
	report, err := s.Sync(ctx, SyncRequest{}, "schedule")
	if err != nil {
		slog.Error("scheduled sync failed", "error", err, "code", MapError(err).Code)
		return
	}

	s.mu.Lock()
	s.schedule.LastRun = report.FinishedAt
	s.schedule.LastRunID = report.RunID
	s.mu.Unlock()
}
