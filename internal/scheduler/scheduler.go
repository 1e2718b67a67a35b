// Package scheduler turns the single-shot batch run into a recurring one
// when a cron schedule is configured.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Runner is the unit of work the scheduler invokes, satisfied by the batch
// ingestion strategy.
type Runner interface {
	Run(ctx context.Context) error
}

// Service wraps a cron instance around one runner.
type Service struct {
	schedule string
	runner   Runner
	cron     *cron.Cron
}

// New creates a scheduler for the given cron expression.
func New(schedule string, runner Runner) *Service {
	return &Service{
		schedule: schedule,
		runner:   runner,
		cron:     cron.New(),
	}
}

// Start registers the job and starts the cron loop. Overlapping runs are
// not prevented; batch runs are short relative to any sane schedule.
func (s *Service) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		logrus.Info("Starting scheduled batch run")
		if err := s.runner.Run(ctx); err != nil {
			logrus.Errorf("Scheduled batch run failed: %v", err)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	logrus.Infof("Scheduler started with schedule %q", s.schedule)
	return nil
}

// Stop stops the scheduler.
func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		logrus.Info("Scheduler stopped")
	}
}
