package schedule

import (
	"context"
	"time"

	"xwatch/internal/jobs"
	"xwatch/internal/logging"
)

const DefaultInterval = time.Hour

// NextWindow returns the first time at or after now whose hour is not quiet.
func NextWindow(now time.Time, quietHours []int) time.Time {
	for i := 0; i < 48; i++ { // search up to 2 days ahead
		cand := now.Add(time.Duration(i) * time.Hour)
		if !IsQuiet(cand, quietHours) {
			if i == 0 {
				return now
			}
			return cand.Truncate(time.Hour)
		}
	}
	return now.Add(15 * time.Minute)
}

// IsQuiet reports whether t falls in one of the quiet hours.
func IsQuiet(t time.Time, quietHours []int) bool {
	for _, q := range quietHours {
		if q == t.Hour() { return true }
	}
	return false
}

// Runner is satisfied by *jobs.Pipeline.
type Runner interface {
	Run(ctx context.Context) (jobs.Summary, error)
}

// Pruner is the retention side of the delivery store.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Scheduler runs the pipeline once immediately and then on a fixed interval.
type Scheduler struct {
	Runner     Runner
	Interval   time.Duration
	QuietHours []int
	Location   *time.Location
	// Retention > 0 prunes delivery rows older than it after each tick.
	// A pruned id can be delivered again if a search still returns it.
	Retention time.Duration
	Store     Pruner

	nowFn func() time.Time
}

// Run blocks until ctx is done. Run errors are logged; the schedule goes on.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logging.Info("scheduler_start", map[string]any{"interval": interval.String(), "quiet_hours": s.QuietHours})
	s.tick(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info("scheduler_stop", nil)
			return nil
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	if IsQuiet(now, s.QuietHours) {
		logging.Info("run_quiet_hours", map[string]any{"next": NextWindow(now, s.QuietHours).Format(time.RFC3339)})
		return
	}
	if _, err := s.Runner.Run(ctx); err != nil && ctx.Err() == nil {
		logging.Warn("scheduled_run_failed", map[string]any{"error": err})
	}
	s.prune(ctx, now)
}

func (s *Scheduler) prune(ctx context.Context, now time.Time) {
	if s.Retention <= 0 || s.Store == nil || ctx.Err() != nil {
		return
	}
	n, err := s.Store.Prune(ctx, now.Add(-s.Retention))
	if err != nil {
		logging.Warn("prune_failed", map[string]any{"error": err})
		return
	}
	if n > 0 {
		logging.Info("pruned", map[string]any{"rows": n, "retention": s.Retention.String()})
	}
}

func (s *Scheduler) now() time.Time {
	now := time.Now()
	if s.nowFn != nil {
		now = s.nowFn()
	}
	if s.Location != nil {
		now = now.In(s.Location)
	}
	return now
}
