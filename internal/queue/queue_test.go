package queue

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reportd/internal/models"
	"reportd/internal/repository"
	"reportd/internal/testutil"
)

type payload struct {
	Name string `json:"name"`
}

func newTestQueue(t *testing.T, name string, opts Options) *Queue {
	t.Helper()
	repo := repository.NewQueueJobRepository(testutil.NewDB(t))
	return New(name, repo, opts, zap.NewNop())
}

// fixedClock lets a test move time forward by hand.
type fixedClock struct {
	at time.Time
}

func (c *fixedClock) now() time.Time { return c.at }

func TestEnqueueThenList(t *testing.T) {
	q := newTestQueue(t, Generation, Options{MaxAttempts: 3})
	ctx := context.Background()

	job, err := q.Enqueue(ctx, payload{Name: "weekly"})
	require.NoError(t, err)
	assert.Equal(t, models.JobWaiting, job.State)

	jobs, err := q.ListJobs(ctx, []models.JobStatus{models.JobWaiting})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
	assert.Equal(t, 0.0, jobs[0].Progress)
	assert.Equal(t, 1, jobs[0].Attempts)
	assert.JSONEq(t, `{"name":"weekly"}`, string(jobs[0].Data))
}

func TestPauseIsIdempotent(t *testing.T) {
	q := newTestQueue(t, Generation, Options{})
	ctx := context.Background()

	require.NoError(t, q.Pause(ctx))
	require.NoError(t, q.Pause(ctx))
	paused, err := q.IsPaused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	_, err = q.Enqueue(ctx, payload{})
	require.NoError(t, err)

	waiting, err := q.ListJobs(ctx, []models.JobStatus{models.JobWaiting})
	require.NoError(t, err)
	assert.Empty(t, waiting)

	pausedJobs, err := q.ListJobs(ctx, []models.JobStatus{models.JobPaused})
	require.NoError(t, err)
	require.Len(t, pausedJobs, 1)
	assert.Equal(t, models.JobPaused, pausedJobs[0].State)

	require.NoError(t, q.Process(func(ctx context.Context, job *Job) error { return nil }))
	ran, err := q.runOnce(ctx, "w")
	require.NoError(t, err)
	assert.False(t, ran, "a paused queue must not hand out jobs")

	require.NoError(t, q.Resume(ctx))
	require.NoError(t, q.Resume(ctx))
	ran, err = q.runOnce(ctx, "w")
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestProcessRegistersOnce(t *testing.T) {
	q := newTestQueue(t, Mail, Options{})
	noop := func(ctx context.Context, job *Job) error { return nil }

	require.NoError(t, q.Process(noop))
	assert.Error(t, q.Process(noop))
}

func TestSuccessfulJobCompletes(t *testing.T) {
	q := newTestQueue(t, Cron, Options{})
	ctx := context.Background()

	require.NoError(t, q.Process(func(ctx context.Context, job *Job) error {
		var p payload
		require.NoError(t, job.Decode(&p))
		assert.Equal(t, "sweep", p.Name)
		return job.UpdateProgress(ctx, 0.5)
	}))

	enqueued, err := q.Enqueue(ctx, payload{Name: "sweep"})
	require.NoError(t, err)

	ran, err := q.runOnce(ctx, "w")
	require.NoError(t, err)
	require.True(t, ran)

	job, err := q.GetJob(ctx, enqueued.ID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobCompleted, job.State)
	assert.Equal(t, 1.0, job.Progress)
	assert.Equal(t, 1, job.Attempts)
	assert.NotNil(t, job.EndedAt)
}

func TestRetriesWithBackoffThenFailsOnce(t *testing.T) {
	q := newTestQueue(t, Generation, Options{MaxAttempts: 3, Backoff: time.Minute})
	clock := &fixedClock{at: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
	q.now = clock.now
	ctx := context.Background()

	var calls, failures int32
	require.NoError(t, q.Process(func(ctx context.Context, job *Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("backend down")
	}))
	q.OnFailed(func(ctx context.Context, job *Job, err error) {
		atomic.AddInt32(&failures, 1)
		assert.Equal(t, 3, job.AttemptsMade)
		assert.EqualError(t, err, "backend down")
	})

	enqueued, err := q.Enqueue(ctx, payload{Name: "x"})
	require.NoError(t, err)

	ran, err := q.runOnce(ctx, "w")
	require.NoError(t, err)
	require.True(t, ran)

	job, err := q.GetJob(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobDelayed, job.State)
	assert.Equal(t, 2, job.Attempts)

	// Not due yet: first retry waits one backoff.
	clock.at = clock.at.Add(59 * time.Second)
	ran, err = q.runOnce(ctx, "w")
	require.NoError(t, err)
	assert.False(t, ran)

	clock.at = clock.at.Add(time.Second)
	ran, err = q.runOnce(ctx, "w")
	require.NoError(t, err)
	require.True(t, ran)

	// Second retry waits twice as long.
	clock.at = clock.at.Add(2 * time.Minute)
	ran, err = q.runOnce(ctx, "w")
	require.NoError(t, err)
	require.True(t, ran)

	job, err = q.GetJob(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.State)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, "backend down", job.Error)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&failures))

	clock.at = clock.at.Add(time.Hour)
	ran, err = q.runOnce(ctx, "w")
	require.NoError(t, err)
	assert.False(t, ran, "an exhausted job is not rescheduled")
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	q := newTestQueue(t, Generation, Options{MaxAttempts: 5})
	ctx := context.Background()

	var failures int32
	require.NoError(t, q.Process(func(ctx context.Context, job *Job) error {
		return Permanent(errors.New("bad template"))
	}))
	q.OnFailed(func(ctx context.Context, job *Job, err error) {
		atomic.AddInt32(&failures, 1)
	})

	enqueued, err := q.Enqueue(ctx, payload{})
	require.NoError(t, err)
	_, err = q.runOnce(ctx, "w")
	require.NoError(t, err)

	job, err := q.GetJob(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.State)
	assert.EqualValues(t, 1, failures)
	assert.True(t, IsPermanent(models.NewArgumentError("x")))
	assert.False(t, IsPermanent(errors.New("x")))
	assert.Nil(t, Permanent(nil))
}

func TestPanicFailsTheAttempt(t *testing.T) {
	q := newTestQueue(t, Generation, Options{})
	ctx := context.Background()

	require.NoError(t, q.Process(func(ctx context.Context, job *Job) error {
		panic("boom")
	}))
	enqueued, err := q.Enqueue(ctx, payload{})
	require.NoError(t, err)

	ran, err := q.runOnce(ctx, "w")
	require.NoError(t, err)
	require.True(t, ran)

	job, err := q.GetJob(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.State)
	assert.Contains(t, job.Error, "boom")
}

func TestGetAndRetryJob(t *testing.T) {
	q := newTestQueue(t, Mail, Options{})
	ctx := context.Background()

	missing, err := q.GetJob(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	retried, err := q.RetryJob(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, retried)

	enqueued, err := q.Enqueue(ctx, payload{})
	require.NoError(t, err)
	_, err = q.RetryJob(ctx, enqueued.ID)
	assert.True(t, models.IsArgument(err))

	require.NoError(t, q.Process(func(ctx context.Context, job *Job) error { return errors.New("smtp") }))
	_, err = q.runOnce(ctx, "w")
	require.NoError(t, err)

	retried, err = q.RetryJob(ctx, enqueued.ID)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, models.JobWaiting, retried.State)
	assert.Equal(t, 1, retried.Attempts)
	assert.Empty(t, retried.Error)
}

func TestListJobsRejectsUnknownStatus(t *testing.T) {
	q := newTestQueue(t, Mail, Options{})

	_, err := q.ListJobs(context.Background(), []models.JobStatus{"sleeping"})
	assert.True(t, models.IsArgument(err))
}

func TestWorkersProcessEnqueuedJobs(t *testing.T) {
	q := newTestQueue(t, Generation, Options{Concurrency: 2, PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan string, 3)
	require.NoError(t, q.Process(func(ctx context.Context, job *Job) error {
		done <- job.ID
		return nil
	}))
	require.NoError(t, q.Start(ctx))
	assert.Error(t, q.Start(ctx))

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, payload{})
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	for len(seen) < 3 {
		select {
		case id := <-done:
			assert.False(t, seen[id], "job %s processed twice", id)
			seen[id] = true
		case <-time.After(5 * time.Second):
			t.Fatal("workers did not process the jobs")
		}
	}

	cancel()
	q.Wait()
}

func TestManagerUnknownQueue(t *testing.T) {
	repo := repository.NewQueueJobRepository(testutil.NewDB(t))
	m := NewManager(New(Generation, repo, Options{}, zap.NewNop()))
	ctx := context.Background()

	_, err := m.ListJobs(ctx, "nope", nil)
	assert.True(t, models.IsNotFound(err))
	assert.True(t, models.IsNotFound(m.Pause(ctx, "nope")))
	_, err = m.GetJob(ctx, "nope", "id")
	assert.True(t, models.IsNotFound(err))
	_, err = m.RetryJob(ctx, "nope", "id")
	assert.True(t, models.IsNotFound(err))

	job, err := m.GetJob(ctx, Generation, "id")
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Equal(t, []string{Generation}, m.Names())
}

func TestStalledJobIsRecoveredAndRetried(t *testing.T) {
	repo := repository.NewQueueJobRepository(testutil.NewDB(t))
	clock := &fixedClock{at: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
	opts := Options{MaxAttempts: 3, StallTimeout: time.Minute}
	ctx := context.Background()

	crashed := New(Generation, repo, opts, zap.NewNop())
	crashed.now = clock.now
	enqueued, err := crashed.Enqueue(ctx, payload{Name: "weekly"})
	require.NoError(t, err)
	_, err = repo.Claim(Generation, "dead-worker", clock.at)
	require.NoError(t, err)

	restarted := New(Generation, repo, opts, zap.NewNop())
	restarted.now = clock.now
	var calls int32
	require.NoError(t, restarted.Process(func(ctx context.Context, job *Job) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	n, err := restarted.recoverStalled(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a job within its lease is left alone")

	clock.at = clock.at.Add(2 * time.Minute)
	n, err = restarted.recoverStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := restarted.GetJob(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobDelayed, job.State)
	assert.Equal(t, 2, job.Attempts)
	assert.Contains(t, job.Error, "dead-worker")

	ran, err := restarted.runOnce(ctx, "w")
	require.NoError(t, err)
	require.True(t, ran)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	job, err = restarted.GetJob(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.State)
}

func TestStalledJobOutOfAttemptsFailsOnce(t *testing.T) {
	repo := repository.NewQueueJobRepository(testutil.NewDB(t))
	clock := &fixedClock{at: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
	q := New(Generation, repo, Options{MaxAttempts: 1, StallTimeout: time.Minute}, zap.NewNop())
	q.now = clock.now
	ctx := context.Background()

	var hookErr error
	var failures int32
	q.OnFailed(func(ctx context.Context, job *Job, err error) {
		atomic.AddInt32(&failures, 1)
		hookErr = err
		assert.Equal(t, 1, job.AttemptsMade)
	})

	enqueued, err := q.Enqueue(ctx, payload{})
	require.NoError(t, err)
	_, err = repo.Claim(Generation, "dead-worker", clock.at)
	require.NoError(t, err)

	clock.at = clock.at.Add(time.Hour)
	for i := 0; i < 2; i++ {
		_, err = q.recoverStalled(ctx)
		require.NoError(t, err)
	}

	job, err := q.GetJob(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.State)
	assert.EqualValues(t, 1, atomic.LoadInt32(&failures))
	require.Error(t, hookErr)
	assert.Contains(t, hookErr.Error(), "stalled")

	retried, err := q.RetryJob(ctx, enqueued.ID)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, models.JobWaiting, retried.State)
}

func TestProgressKeepsJobAlive(t *testing.T) {
	repo := repository.NewQueueJobRepository(testutil.NewDB(t))
	clock := &fixedClock{at: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
	q := New(Generation, repo, Options{StallTimeout: time.Minute}, zap.NewNop())
	q.now = clock.now
	ctx := context.Background()

	_, err := q.Enqueue(ctx, payload{})
	require.NoError(t, err)
	claimed, err := repo.Claim(Generation, "slow-worker", clock.at)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	clock.at = clock.at.Add(50 * time.Second)
	require.NoError(t, newJob(q, claimed).UpdateProgress(ctx, 0.5))

	clock.at = clock.at.Add(50 * time.Second)
	n, err := q.recoverStalled(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWorkersRecoverStalledJobsOnStart(t *testing.T) {
	repo := repository.NewQueueJobRepository(testutil.NewDB(t))
	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, repo.Create(&models.QueueJob{
		ID:          "orphan",
		Queue:       Mail,
		Status:      models.JobWaiting,
		Data:        `{"name":"orphan"}`,
		MaxAttempts: 3,
		RunAt:       old,
		AddedAt:     old,
	}))
	_, err := repo.Claim(Mail, "dead-worker", old)
	require.NoError(t, err)

	q := New(Mail, repo, Options{PollInterval: 10 * time.Millisecond, StallTimeout: time.Minute}, zap.NewNop())
	done := make(chan string, 1)
	require.NoError(t, q.Process(func(ctx context.Context, job *Job) error {
		done <- job.ID
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Start(ctx))
	select {
	case id := <-done:
		assert.Equal(t, "orphan", id)
	case <-time.After(5 * time.Second):
		t.Fatal("stalled job was not picked up again")
	}
	cancel()
	q.Wait()
}

func TestTrimErrKeepsRunesWhole(t *testing.T) {
	msg := strings.Repeat("a", 899) + "é and more"
	trimmed := trimErr(msg)
	assert.True(t, utf8.ValidString(trimmed))
	assert.Equal(t, strings.Repeat("a", 899), trimmed)
}
