package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// Gate repeats a pass on a cron schedule. Passes never overlap: a pass that
// outlasts its slot simply delays the next one.
type Gate struct {
	schedule cron.Schedule
	now      func() time.Time
}

// NewGate creates a gate from a cron expression
func NewGate(expr string) (*Gate, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}
	return &Gate{schedule: sched, now: time.Now}, nil
}

// Next returns the next scheduled time after t
func (g *Gate) Next(t time.Time) time.Time {
	return g.schedule.Next(t)
}

// Run blocks until the context is cancelled, invoking pass at each scheduled
// time. Pass errors are reported and the schedule keeps going.
func (g *Gate) Run(ctx context.Context, pass func(context.Context) error) error {
	for {
		next := g.schedule.Next(g.now())
		wait := time.Until(next)
		fmt.Printf("Next pass at %s\n", next.Format(time.RFC3339))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := pass(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Printf("Warning: scheduled pass failed: %v\n", err)
		}
	}
}
