package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"PlumFinder/internal/domain"
	"PlumFinder/internal/ports"
)

// Scheduler wires the cron-like driver with the pipeline use case.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	logger   *zap.Logger
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{driver: driver, pipeline: pipeline, logger: logger.Named("schedule")}
}

// Start registers a normal run with the provided scheduler. Run failures
// are logged and the schedule keeps going.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		s.logger.Info("scheduled run triggered", zap.Time("trigger", trigger))
		if _, err := s.pipeline.Run(ctx, domain.RunNormal); err != nil {
			s.logger.Error("scheduled run failed", zap.Error(err))
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
