// Package queue implements durable named job queues backed by the queue_jobs table.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reportd/internal/models"
	"reportd/internal/pkg/utils"
	"reportd/internal/repository"
)

// Names of the queues run by the service.
const (
	Generation = "generation"
	Mail       = "mail"
	Cron       = "cron"
)

// ProcessFunc handles one claimed job. Returning an error fails the attempt.
type ProcessFunc func(ctx context.Context, job *Job) error

// FailedFunc is called once when a job exhausts its attempts.
type FailedFunc func(ctx context.Context, job *Job, err error)

// Options tunes a queue. An active job whose heartbeat is older than
// StallTimeout is considered abandoned by its worker.
type Options struct {
	Concurrency  int
	MaxAttempts  int
	Backoff      time.Duration
	PollInterval time.Duration
	StallTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = 5 * time.Minute
	}
	return o
}

// Queue is a named persistent FIFO-with-retry queue.
type Queue struct {
	name   string
	repo   *repository.QueueJobRepository
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	processor ProcessFunc
	onFailed  []FailedFunc
	started   bool

	wake chan struct{}
	wg   sync.WaitGroup
}

// New creates a queue. Workers do not run until Start is called.
func New(name string, repo *repository.QueueJobRepository, opts Options, logger *zap.Logger) *Queue {
	return &Queue{
		name:   name,
		repo:   repo,
		opts:   opts.withDefaults(),
		logger: logger.With(zap.String("queue", name)),
		now:    func() time.Time { return time.Now().UTC() },
		wake:   make(chan struct{}, 1),
	}
}

// Name returns the queue name jobs are stored under.
func (q *Queue) Name() string {
	return q.name
}

// Process registers the single processor of the queue.
func (q *Queue) Process(fn ProcessFunc) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.processor != nil {
		return fmt.Errorf("queue %s already has a processor", q.name)
	}
	q.processor = fn
	return nil
}

// OnFailed registers a hook for jobs that failed for good.
func (q *Queue) OnFailed(fn FailedFunc) {
	q.mu.Lock()
	q.onFailed = append(q.onFailed, fn)
	q.mu.Unlock()
}

// Enqueue stores data as a waiting job and returns without waiting for it to run.
func (q *Queue) Enqueue(ctx context.Context, data interface{}) (*JobSummary, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode job data: %w", err)
	}

	now := q.now()
	job := &models.QueueJob{
		ID:          uuid.NewString(),
		Queue:       q.name,
		Status:      models.JobWaiting,
		Data:        string(raw),
		MaxAttempts: q.opts.MaxAttempts,
		RunAt:       now,
		AddedAt:     now,
	}
	if err := q.repo.Create(job); err != nil {
		return nil, fmt.Errorf("enqueue on %s: %w", q.name, err)
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}

	paused, err := q.repo.IsPaused(q.name)
	if err != nil {
		return nil, err
	}
	return summarize(job, paused), nil
}

// Start launches the workers. They stop claiming when ctx is done; Wait blocks
// until in-flight jobs are finished.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.processor == nil {
		return fmt.Errorf("queue %s has no processor", q.name)
	}
	if q.started {
		return fmt.Errorf("queue %s already started", q.name)
	}
	q.started = true

	q.wg.Add(1)
	go q.reap(ctx)

	for i := 0; i < q.opts.Concurrency; i++ {
		q.wg.Add(1)
		go q.work(ctx, fmt.Sprintf("%s-%d-%s", q.name, i, uuid.NewString()[:8]))
	}
	q.logger.Info("Queue started", zap.Int("concurrency", q.opts.Concurrency))
	return nil
}

// Wait blocks until every worker has returned.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) work(ctx context.Context, workerID string) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		for ctx.Err() == nil {
			ran, err := q.runOnce(ctx, workerID)
			if err != nil {
				q.logger.Error("Queue worker error", zap.String("worker", workerID), zap.Error(err))
				break
			}
			if !ran {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-q.wake:
		}
	}
}

// runOnce claims and processes at most one job. It reports whether a job ran.
func (q *Queue) runOnce(ctx context.Context, workerID string) (bool, error) {
	paused, err := q.repo.IsPaused(q.name)
	if err != nil {
		return false, err
	}
	if paused {
		return false, nil
	}

	claimed, err := q.repo.Claim(q.name, workerID, q.now())
	if err != nil {
		return false, err
	}
	if claimed == nil {
		return false, nil
	}

	q.mu.Lock()
	processor := q.processor
	hooks := append([]FailedFunc(nil), q.onFailed...)
	q.mu.Unlock()

	// Active jobs run to completion even when the worker is asked to stop.
	jobCtx := context.WithoutCancel(ctx)
	job := newJob(q, claimed)
	stop := q.keepAlive(job.ID)
	procErr := q.safeProcess(jobCtx, processor, job)
	stop()
	return true, q.settle(jobCtx, job, procErr, hooks)
}

// keepAlive refreshes the heartbeat of a running job until stop is called.
func (q *Queue) keepAlive(id string) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(q.opts.StallTimeout / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := q.repo.Touch(id, q.now()); err != nil {
					q.logger.Warn("Failed to refresh job heartbeat", zap.String("job_id", id), zap.Error(err))
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// reap releases stalled jobs at start and then on every poll tick.
func (q *Queue) reap(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := q.recoverStalled(ctx); err != nil {
			q.logger.Error("Failed to recover stalled jobs", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// recoverStalled counts the lost run of every stalled job as a failed attempt:
// the job is delayed for a retry, or failed with the hooks called once its
// attempts are exhausted. It returns the number of released jobs.
func (q *Queue) recoverStalled(ctx context.Context) (int, error) {
	now := q.now()
	staleBefore := now.Add(-q.opts.StallTimeout)

	stalled, err := q.repo.FindStalled(q.name, staleBefore)
	if err != nil {
		return 0, err
	}

	q.mu.Lock()
	hooks := append([]FailedFunc(nil), q.onFailed...)
	q.mu.Unlock()

	released := 0
	for i := range stalled {
		m := &stalled[i]
		attempts := m.AttemptsMade + 1
		stallErr := fmt.Errorf("job stalled: worker %q stopped responding", m.LockedBy)
		terminal := attempts >= m.MaxAttempts

		var retryAt *time.Time
		if !terminal {
			at := now.Add(q.backoff(attempts))
			retryAt = &at
		}
		ok, err := q.repo.ReleaseStalled(m.ID, staleBefore, attempts, stallErr.Error(), retryAt, now)
		if err != nil {
			return released, err
		}
		if !ok {
			continue
		}
		released++

		q.logger.Warn("Recovered stalled job",
			zap.String("job_id", m.ID),
			zap.String("worker", m.LockedBy),
			zap.Int("attempts", attempts),
			zap.Bool("failed", terminal),
		)
		if terminal {
			job := newJob(q, m)
			job.AttemptsMade = attempts
			for _, hook := range hooks {
				q.runHook(context.WithoutCancel(ctx), hook, job, stallErr)
			}
		}
	}
	if released > 0 {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	return released, nil
}

func (q *Queue) safeProcess(ctx context.Context, fn ProcessFunc, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Panic in queue processor", zap.String("job_id", job.ID), zap.Any("panic", r))
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return fn(ctx, job)
}

func (q *Queue) settle(ctx context.Context, job *Job, procErr error, hooks []FailedFunc) error {
	attempts := job.AttemptsMade + 1
	now := q.now()

	if procErr == nil {
		return q.repo.Complete(job.ID, attempts, now)
	}

	msg := trimErr(procErr.Error())
	if attempts >= job.MaxAttempts || IsPermanent(procErr) {
		if err := q.repo.Fail(job.ID, attempts, msg, nil, now); err != nil {
			return err
		}
		q.logger.Error("Job failed",
			zap.String("job_id", job.ID),
			zap.Int("attempts", attempts),
			zap.Error(procErr),
		)
		job.AttemptsMade = attempts
		for _, hook := range hooks {
			q.runHook(ctx, hook, job, procErr)
		}
		return nil
	}

	retryAt := now.Add(q.backoff(attempts))
	q.logger.Debug("Job scheduled for retry",
		zap.String("job_id", job.ID),
		zap.Int("attempts", attempts),
		zap.Time("retry_at", retryAt),
	)
	return q.repo.Fail(job.ID, attempts, msg, &retryAt, now)
}

func (q *Queue) runHook(ctx context.Context, hook FailedFunc, job *Job, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Panic in failed-job hook", zap.String("job_id", job.ID), zap.Any("panic", r))
		}
	}()
	hook(ctx, job, err)
}

// backoff doubles the base delay for every attempt already made.
func (q *Queue) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(float64(q.opts.Backoff) * math.Pow(2, float64(attempts-1)))
}

// Pause stops workers from claiming new jobs. Active jobs finish.
func (q *Queue) Pause(ctx context.Context) error {
	if err := q.repo.SetPaused(q.name, true); err != nil {
		return err
	}
	q.logger.Info("Queue paused")
	return nil
}

// Resume lets workers claim jobs again.
func (q *Queue) Resume(ctx context.Context) error {
	if err := q.repo.SetPaused(q.name, false); err != nil {
		return err
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.logger.Info("Queue resumed")
	return nil
}

func (q *Queue) IsPaused(ctx context.Context) (bool, error) {
	return q.repo.IsPaused(q.name)
}

// DefaultListStatuses is used by ListJobs when no status is given.
var DefaultListStatuses = []models.JobStatus{models.JobActive, models.JobDelayed, models.JobPaused, models.JobWaiting}

// ListJobs returns the jobs whose resolved state is one of statuses.
// While the queue is paused its waiting jobs resolve to paused.
func (q *Queue) ListJobs(ctx context.Context, statuses []models.JobStatus) ([]JobSummary, error) {
	if len(statuses) == 0 {
		statuses = DefaultListStatuses
	}
	paused, err := q.repo.IsPaused(q.name)
	if err != nil {
		return nil, err
	}

	wanted := make(map[models.JobStatus]bool, len(statuses))
	stored := make([]models.JobStatus, 0, len(statuses))
	for _, st := range statuses {
		switch st {
		case models.JobWaiting, models.JobActive, models.JobDelayed, models.JobCompleted, models.JobFailed, models.JobPaused:
		default:
			return nil, models.NewArgumentError("unknown job status %q", st)
		}
		if wanted[st] {
			continue
		}
		wanted[st] = true
		if st == models.JobPaused {
			st = models.JobWaiting
		}
		stored = append(stored, st)
	}

	jobs, err := q.repo.ListByStatus(q.name, stored)
	if err != nil {
		return nil, err
	}

	out := make([]JobSummary, 0, len(jobs))
	for i := range jobs {
		s := summarize(&jobs[i], paused)
		if wanted[s.State] {
			out = append(out, *s)
		}
	}
	return out, nil
}

// GetJob returns the job summary, or nil when the job does not exist.
func (q *Queue) GetJob(ctx context.Context, id string) (*JobSummary, error) {
	job, err := q.repo.FindByID(q.name, id)
	if err != nil || job == nil {
		return nil, err
	}
	paused, err := q.repo.IsPaused(q.name)
	if err != nil {
		return nil, err
	}
	return summarize(job, paused), nil
}

// RetryJob moves a failed job back to waiting. It returns nil when the job does
// not exist and an ArgumentError when it is not failed.
func (q *Queue) RetryJob(ctx context.Context, id string) (*JobSummary, error) {
	job, err := q.repo.FindByID(q.name, id)
	if err != nil || job == nil {
		return nil, err
	}
	if job.Status != models.JobFailed {
		return nil, models.NewArgumentError("job %s is %s, only failed jobs can be retried", id, job.Status)
	}

	changed, err := q.repo.Retry(q.name, id, q.now())
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, models.NewArgumentError("job %s changed state before retry", id)
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return q.GetJob(ctx, id)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that the job fails without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err must not be retried. Argument errors never are.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p) || models.IsArgument(err)
}

func trimErr(msg string) string {
	return utils.Truncate(msg, 900)
}
