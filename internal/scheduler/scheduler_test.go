package scheduler

import (
	"testing"
	"time"
)

type fakeMaintainer struct {
	resets int
	sweeps int
}

func (f *fakeMaintainer) ResetNoticeCycle() int                { f.resets++; return 0 }
func (f *fakeMaintainer) SweepSpamState(ttl time.Duration) int { f.sweeps++; return 0 }

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := NewScheduler("America/Bogota")
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestSchedulerAddJob(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
}

func TestSchedulerRejectsInvalidExpression(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("Expected error for invalid cron expression")
	}
}

func TestSchedulerRejectsUnknownTimezone(t *testing.T) {
	if _, err := NewScheduler("Mars/Olympus"); err == nil {
		t.Error("Expected error for unknown timezone")
	}
}

func TestRegisterMaintenance(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.RegisterMaintenance(&fakeMaintainer{}); err != nil {
		t.Errorf("RegisterMaintenance failed: %v", err)
	}
}
