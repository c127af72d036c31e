package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Scheduler runs a job at each tick of a cron expression evaluated in a
// fixed location.
type Scheduler struct {
	Name string
	Expr string
	Loc  *time.Location
	Job  func(ctx context.Context)

	now func() time.Time
}

// NewScheduler validates expr and returns a scheduler for job.
func NewScheduler(name, expr string, loc *time.Location, job func(ctx context.Context)) (*Scheduler, error) {
	if !gronx.IsValid(expr) {
		return nil, fmt.Errorf("%s: invalid cron expression %q", name, expr)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{Name: name, Expr: expr, Loc: loc, Job: job, now: time.Now}, nil
}

// Next returns the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.Expr, t.In(s.Loc), false)
}

// Start runs the schedule loop until ctx is done. Jobs run on the loop
// goroutine, so a slow job delays rather than overlaps the next tick.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("Scheduler started", "scheduler", s.Name, "cron", s.Expr, "timezone", s.Loc.String())
	for {
		next, err := s.Next(s.now())
		if err != nil {
			slog.Error("Computing next tick failed", "scheduler", s.Name, "cron", s.Expr, "error", err)
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				slog.Info("Scheduler stopping", "scheduler", s.Name)
				return
			}
		}

		wait := time.Until(next)
		slog.Debug("Next tick scheduled", "scheduler", s.Name, "at", next, "in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			slog.Info("Scheduler tick", "scheduler", s.Name)
			s.Job(ctx)
		case <-ctx.Done():
			timer.Stop()
			slog.Info("Scheduler stopping", "scheduler", s.Name)
			return
		}
	}
}
