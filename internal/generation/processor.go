package generation

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"reportd/internal/lock"
	"reportd/internal/mail"
	"reportd/internal/models"
	"reportd/internal/queue"
)

// Enqueuer pushes a job on a named queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, data interface{}) (*queue.JobSummary, error)
}

// progressByEvent maps generation events to the job progress they stand for.
var progressByEvent = map[string]float64{
	"creation":         0.05,
	"templateResolved": 0.1,
	"contactFound":     0.2,
	"templateFetched":  0.6,
	"generated":        0.95,
}

// Processor is the generation queue processor.
type Processor struct {
	generator *Generator
	locker    lock.TaskLocker
	jobs      Enqueuer
	logger    *zap.Logger
}

func NewProcessor(generator *Generator, locker lock.TaskLocker, jobs Enqueuer, logger *zap.Logger) *Processor {
	return &Processor{
		generator: generator,
		locker:    locker,
		jobs:      jobs,
		logger:    logger,
	}
}

// Process generates the report of one job and hands it to the mail queue.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	var data JobData
	if err := job.Decode(&data); err != nil {
		return queue.Permanent(models.NewArgumentError("invalid generation job: %v", err))
	}

	release, ok, err := p.locker.Acquire(ctx, data.Task.ID)
	if err != nil {
		p.logger.Warn("Task lock unavailable, generating without it",
			zap.String("task_id", data.Task.ID),
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		release, ok = func() {}, true
	}
	if !ok {
		p.logger.Warn("Task is already being generated, skipping job",
			zap.String("task_id", data.Task.ID),
			zap.String("job_id", job.ID),
		)
		return nil
	}
	defer release()

	result, err := p.generator.Generate(ctx, data, func(ev models.GenerationEvent) {
		if progress, ok := progressByEvent[ev.Name]; ok {
			if err := job.UpdateProgress(ctx, progress); err != nil {
				p.logger.Debug("Failed to update job progress", zap.String("job_id", job.ID), zap.Error(err))
			}
		}
	})
	if err != nil {
		genErr := &Error{Result: result, Err: err}
		if models.IsArgument(err) || models.IsNotFound(err) {
			return queue.Permanent(genErr)
		}
		return genErr
	}

	recipients := data.Recipients()
	if len(recipients) == 0 {
		p.logger.Info("Report has no recipient, not mailed", zap.String("task_id", data.Task.ID))
		return nil
	}
	// A recorded generation never fails on the mail hand-off.
	if _, err := p.jobs.Enqueue(ctx, queue.Mail, mail.Message{
		Kind:       mail.KindReport,
		TaskName:   data.Task.Name,
		Result:     *result,
		Recipients: recipients,
	}); err != nil {
		p.logger.Error("Failed to enqueue report mail",
			zap.String("task_id", data.Task.ID),
			zap.String("report", result.Detail.Files.Report),
			zap.Error(err),
		)
	}
	return nil
}

// OnFailed sends the failure of an exhausted job to the mail queue. The task
// is disabled only when generation itself failed; infrastructure failures
// such as a lost worker leave it enabled.
func (p *Processor) OnFailed(ctx context.Context, job *queue.Job, jobErr error) {
	var data JobData
	if err := job.Decode(&data); err != nil {
		p.logger.Error("Failed generation job has unreadable data", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	var result *models.ReportResult
	var genErr *Error
	if errors.As(jobErr, &genErr) && genErr.Result != nil {
		result = genErr.Result
		if err := p.generator.RecordFailure(data, result); err != nil {
			p.logger.Error("Failed to disable task", zap.String("task_id", data.Task.ID), zap.Error(err))
		}
	} else {
		result = &models.ReportResult{Detail: models.ReportDetail{
			Date:   p.generator.now(),
			TaskID: data.Task.ID,
			Origin: data.Origin,
			Error:  &models.ReportError{Message: jobErr.Error()},
		}}
		p.logger.Warn("Generation job failed outside generation, task left enabled",
			zap.String("task_id", data.Task.ID),
			zap.String("job_id", job.ID),
			zap.Error(jobErr),
		)
	}

	if _, err := p.jobs.Enqueue(ctx, queue.Mail, mail.Message{
		Kind:     mail.KindFailure,
		TaskName: data.Task.Name,
		Result:   *result,
	}); err != nil {
		p.logger.Error("Failed to enqueue failure mail", zap.String("task_id", data.Task.ID), zap.Error(err))
	}
}
