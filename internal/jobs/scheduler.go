// Package jobs runs the background reconciliation schedule.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/ProPulseLabs/teamcore/internal/monitoring"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var errMissingRecomputer = errors.New("recomputer dependency required")

// Recomputer re-derives every member's materialized aggregates from the
// placement edges. It is the drift backstop behind the incremental write
// path.
type Recomputer interface {
	RecomputeAll(ctx context.Context) error
}

// SchedulerConfig describes the reconciliation schedule.
type SchedulerConfig struct {
	Recomputer Recomputer
	// Spec is a cron expression; the default runs every six hours offset
	// from the top of the hour to avoid colliding with other periodic load.
	Spec   string
	Logger *zap.Logger
}

// Scheduler owns the cron loop driving aggregate reconciliation.
type Scheduler struct {
	cron       *cron.Cron
	recomputer Recomputer
	spec       string
	logger     *zap.Logger
}

// NewScheduler constructs the scheduler. Jobs run in UTC.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Recomputer == nil {
		return nil, errMissingRecomputer
	}
	spec := cfg.Spec
	if spec == "" {
		spec = "17 */6 * * *"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		recomputer: cfg.Recomputer,
		spec:       spec,
		logger:     logger,
	}, nil
}

// Start registers the reconciliation job and begins the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("reconciliation scheduler started", zap.String("spec", s.spec))
	return nil
}

// RunOnce executes one reconciliation pass immediately.
func (s *Scheduler) RunOnce(ctx context.Context) {
	start := time.Now()
	if err := s.recomputer.RecomputeAll(ctx); err != nil {
		monitoring.RecomputeRunsTotal.WithLabelValues(monitoring.OutcomeError).Inc()
		s.logger.Error("aggregate reconciliation failed", zap.Error(err))
		return
	}
	monitoring.RecomputeRunsTotal.WithLabelValues(monitoring.OutcomeOK).Inc()
	s.logger.Info("aggregate reconciliation finished", zap.Duration("elapsed", time.Since(start)))
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("reconciliation scheduler stopped")
}
