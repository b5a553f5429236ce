// Package cron triggers the daily sweep and decides which tasks are due.
package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"reportd/internal/config"
	"reportd/internal/generation"
	"reportd/internal/queue"
)

// SweepJob is the payload of a sweep job on the cron queue.
type SweepJob struct {
	Trigger string    `json:"trigger"`
	At      time.Time `json:"at"`
}

// Scheduler enqueues a sweep job on every tick of its schedule.
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	jobs   generation.Enqueuer
	logger *zap.Logger
}

// New creates a new cron scheduler.
func New(cfg config.CronConfig, jobs generation.Enqueuer, logger *zap.Logger) (*Scheduler, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid CRON_TIMEZONE %q: %w", tz, err)
	}
	if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).Parse(cfg.SweepSchedule); err != nil {
		return nil, fmt.Errorf("invalid CRON_SWEEP_SCHEDULE %q: %w", cfg.SweepSchedule, err)
	}
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		spec:   cfg.SweepSchedule,
		jobs:   jobs,
		logger: logger,
	}, nil
}

// Start registers the sweep trigger and starts the scheduler.
func (s *Scheduler) Start() error {
	s.logger.Info("Starting cron scheduler...", zap.String("sweep", s.spec))

	if _, err := s.cron.AddFunc(s.spec, func() {
		s.logger.Debug("Running: sweep trigger")
		s.TriggerSweep(context.Background(), "cron")
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("Cron scheduler started")
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// TriggerSweep pushes one sweep job on the cron queue.
func (s *Scheduler) TriggerSweep(ctx context.Context, trigger string) *queue.JobSummary {
	defer s.recoverFromPanic("sweep")

	job, err := s.jobs.Enqueue(ctx, queue.Cron, SweepJob{Trigger: trigger, At: time.Now().UTC()})
	if err != nil {
		s.logger.Error("Failed to enqueue sweep", zap.Error(err))
		return nil
	}
	s.logger.Info("Sweep enqueued", zap.String("job_id", job.ID), zap.String("trigger", trigger))
	return job
}

func (s *Scheduler) recoverFromPanic(jobName string) {
	if r := recover(); r != nil {
		s.logger.Error("Cron job panicked", zap.String("job", jobName), zap.Any("error", r))
	}
}
