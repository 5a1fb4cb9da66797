package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type stubRecomputer struct {
	calls atomic.Int64
	err   error
}

func (s *stubRecomputer) RecomputeAll(context.Context) error {
	s.calls.Add(1)
	return s.err
}

func TestNewSchedulerRequiresRecomputer(t *testing.T) {
	if _, err := NewScheduler(SchedulerConfig{}); err == nil {
		t.Fatal("expected constructor error without recomputer")
	}
}

func TestRunOnceInvokesRecompute(t *testing.T) {
	recomputer := &stubRecomputer{}
	scheduler, err := NewScheduler(SchedulerConfig{Recomputer: recomputer})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	scheduler.RunOnce(context.Background())
	if recomputer.calls.Load() != 1 {
		t.Fatalf("expected one recompute call, got %d", recomputer.calls.Load())
	}
}

func TestRunOnceSurvivesRecomputeFailure(t *testing.T) {
	recomputer := &stubRecomputer{err: errors.New("storage offline")}
	scheduler, err := NewScheduler(SchedulerConfig{Recomputer: recomputer})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	scheduler.RunOnce(context.Background())
	scheduler.RunOnce(context.Background())
	if recomputer.calls.Load() != 2 {
		t.Fatalf("expected recompute to keep running, got %d calls", recomputer.calls.Load())
	}
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	scheduler, err := NewScheduler(SchedulerConfig{Recomputer: &stubRecomputer{}, Spec: "not a cron spec"})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if err := scheduler.Start(context.Background()); err == nil {
		t.Fatal("expected invalid cron spec to fail")
	}
}
