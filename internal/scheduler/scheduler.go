// Package scheduler runs the assistant's recurring maintenance jobs on cron
// expressions, evaluated in the service time zone.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Maintenance cron expressions (5-field: min, hour, dom, month, dow).
const (
	// ExprNoticeCycleReset fires at midnight so a new day starts with a clean
	// out-of-hours notice cycle.
	ExprNoticeCycleReset = "0 0 * * *"
	// ExprSpamSweep fires hourly to drop idle spam-tracking state.
	ExprSpamSweep = "0 * * * *"
)

// DefaultSpamStateTTL is how long idle spam state is kept before a sweep
// removes it.
const DefaultSpamStateTTL = 24 * time.Hour

// Maintainer is the subset of pipeline operations the maintenance jobs need.
type Maintainer interface {
	ResetNoticeCycle() int
	SweepSpamState(ttl time.Duration) int
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler in the given time zone.
func NewScheduler(tz string) (*Scheduler, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduler timezone %s: %w", tz, err)
	}
	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic
	// recovery so one bad job cannot take down the scheduler.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(loc), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}, nil
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// RegisterMaintenance wires the daily notice-cycle reset and the hourly
// spam-state sweep.
func (s *Scheduler) RegisterMaintenance(m Maintainer) error {
	if err := s.AddJob(ExprNoticeCycleReset, func() {
		n := m.ResetNoticeCycle()
		slog.Debug("Notice cycle reset job ran", "conversations", n)
	}); err != nil {
		return fmt.Errorf("failed to schedule notice-cycle reset: %w", err)
	}
	if err := s.AddJob(ExprSpamSweep, func() {
		n := m.SweepSpamState(DefaultSpamStateTTL)
		slog.Debug("Spam sweep job ran", "removed", n)
	}); err != nil {
		return fmt.Errorf("failed to schedule spam sweep: %w", err)
	}
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
