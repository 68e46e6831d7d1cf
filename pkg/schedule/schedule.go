package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule computes the next run time after a given instant.
type Schedule interface {
	Next(from time.Time) time.Time
}

// everySchedule runs at fixed intervals.
type everySchedule struct {
	interval time.Duration
}

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return &everySchedule{interval: d}
}

func (s *everySchedule) Next(from time.Time) time.Time {
	return from.Add(s.interval)
}

// cronSchedule wraps a parsed cron expression.
type cronSchedule struct {
	expr     string
	schedule cron.Schedule
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse parses a five-field cron expression or a descriptor.
func Parse(expr string) (Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &cronSchedule{expr: expr, schedule: s}, nil
}

// Cron is like Parse but panics on an invalid expression. It is meant for
// expressions fixed at compile time.
func Cron(expr string) Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(err.Error())
	}
	return s
}

func (s *cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

func (s *cronSchedule) String() string {
	return s.expr
}

// Run calls fn at every time produced by s until ctx ends. Calls never
// overlap: the next time is computed once fn returns. Errors from fn are
// logged and do not stop the loop.
func Run(ctx context.Context, s Schedule, name string, logger *slog.Logger, fn func(context.Context) error) {
	if logger == nil {
		logger = slog.Default()
	}

	for {
		now := time.Now()
		next := s.Next(now)
		if next.IsZero() {
			logger.Warn("schedule has no further runs", "task", name)
			return
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("scheduled task failed", "task", name, "error", err)
		}
	}
}
