package cron

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"reportd/internal/generation"
	"reportd/internal/mail"
	"reportd/internal/models"
	"reportd/internal/queue"
)

// OriginSweep tags failures of the sweep itself.
const OriginSweep = "index"

const sweepPageSize = 100

// TaskLister lists tasks page by page.
type TaskLister interface {
	FindAll(filter models.TaskFilter) ([]models.Task, error)
}

// Sweeper enqueues the generation of every task due today.
type Sweeper struct {
	tasks   TaskLister
	jobs    generation.Enqueuer
	catchUp bool
	logger  *zap.Logger
	now     func() time.Time
}

// NewSweeper builds a sweeper. With catchUp set, missed runs are enqueued
// instead of skipped.
func NewSweeper(tasks TaskLister, jobs generation.Enqueuer, catchUp bool, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		tasks:   tasks,
		jobs:    jobs,
		catchUp: catchUp,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Process is the cron queue processor.
func (s *Sweeper) Process(ctx context.Context, job *queue.Job) error {
	return s.Run(ctx, job.UpdateProgress)
}

// Run checks every enabled task against the current UTC day. Any error is
// also reported through the mail queue before being returned.
func (s *Sweeper) Run(ctx context.Context, progress func(context.Context, float64) error) (err error) {
	var stack string
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panic: %v", r)
			stack = string(debug.Stack())
		}
		if err != nil {
			s.reportFailure(ctx, err, stack)
		}
	}()

	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	tasks, err := s.enabledTasks()
	if err != nil {
		return err
	}

	var enqueued, skipped int
	for i, task := range tasks {
		next := task.NextRun.UTC()
		switch {
		case !next.Before(dayEnd):
		case !next.Before(dayStart):
			if err := s.enqueue(ctx, task); err != nil {
				return err
			}
			enqueued++
		case s.catchUp:
			s.logger.Warn("Task missed its run, catching up",
				zap.String("task_id", task.ID),
				zap.Time("next_run", next),
			)
			if err := s.enqueue(ctx, task); err != nil {
				return err
			}
			enqueued++
		default:
			s.logger.Warn("Task missed its run, skipping",
				zap.String("task_id", task.ID),
				zap.String("task", task.Name),
				zap.Time("next_run", next),
			)
			skipped++
		}

		if progress != nil {
			if err := progress(ctx, float64(i+1)/float64(len(tasks))); err != nil {
				s.logger.Debug("Failed to update sweep progress", zap.Error(err))
			}
		}
	}

	s.logger.Info("Sweep done",
		zap.Int("tasks", len(tasks)),
		zap.Int("enqueued", enqueued),
		zap.Int("skipped", skipped),
	)
	return nil
}

func (s *Sweeper) enabledTasks() ([]models.Task, error) {
	enabled := true
	filter := models.TaskFilter{Enabled: &enabled, Count: sweepPageSize}

	var all []models.Task
	for {
		page, err := s.tasks.FindAll(filter)
		if err != nil {
			return nil, fmt.Errorf("list enabled tasks: %w", err)
		}
		all = append(all, page...)
		if len(page) < sweepPageSize {
			return all, nil
		}
		filter.PreviousID = page[len(page)-1].ID
	}
}

func (s *Sweeper) enqueue(ctx context.Context, task models.Task) error {
	job, err := s.jobs.Enqueue(ctx, queue.Generation, generation.NewJobData(task, generation.OriginCron, true, false))
	if err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	s.logger.Info("Task enqueued", zap.String("task_id", task.ID), zap.String("job_id", job.ID))
	return nil
}

// reportFailure sends a pseudo-report through the failure mail path.
func (s *Sweeper) reportFailure(ctx context.Context, sweepErr error, stack string) {
	now := s.now()
	text := fmt.Sprintf("Name: %T\nMessage: %s\nDate: %s\n", sweepErr, sweepErr.Error(), now.Format(time.RFC3339))
	if stack != "" {
		text += "Stack:\n" + stack
	}

	msg := mail.Message{
		Kind: mail.KindFailure,
		Result: models.ReportResult{
			Success: false,
			Detail: models.ReportDetail{
				Date:   now,
				Origin: OriginSweep,
				Error:  &models.ReportError{Message: sweepErr.Error(), Stack: stack},
			},
		},
		Attachments: []mail.Attachment{{
			Name:        "error.txt",
			ContentType: "text/plain",
			Content:     []byte(text),
		}},
	}
	if _, err := s.jobs.Enqueue(ctx, queue.Mail, msg); err != nil {
		s.logger.Error("Failed to report sweep error", zap.NamedError("sweep_error", sweepErr), zap.Error(err))
	}
}
