package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"home-tasks/internal/datetime"
	"home-tasks/internal/logging"
)

// Runner wraps cron-based jobs. A job never overlaps with its own previous
// run, and a panic in a job is logged instead of crashing the process.
type Runner struct {
	cron *cron.Cron
}

func NewRunner(loc *time.Location, log zerolog.Logger) *Runner {
	l := logging.CronLogger{Log: log}
	return &Runner{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
	}
}

// ScheduleDaily registers a daily job at the given HH:MM time string.
func (r *Runner) ScheduleDaily(timeStr string, job func()) (cron.EntryID, error) {
	spec, err := buildDailySpec(timeStr)
	if err != nil {
		return 0, err
	}
	return r.cron.AddFunc(spec, job)
}

// ScheduleInterval registers a periodic job every given duration.
func (r *Runner) ScheduleInterval(interval time.Duration, job func()) (cron.EntryID, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("interval must be positive")
	}
	// Convert to cron spec: every N seconds.
	seconds := int(interval.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	spec := fmt.Sprintf("@every %ds", seconds)
	return r.cron.AddFunc(spec, job)
}

func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts scheduling and waits for running jobs until ctx expires.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running jobs: %w", ctx.Err())
	}
}

func buildDailySpec(timeStr string) (string, error) {
	c, err := datetime.ParseClock(timeStr)
	if err != nil {
		return "", err
	}
	// cron format: second minute hour dom month dow
	return fmt.Sprintf("0 %d %d * * *", c.Minute, c.Hour), nil
}
