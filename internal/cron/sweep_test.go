package cron

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"reportd/internal/config"
	"reportd/internal/generation"
	"reportd/internal/mail"
	"reportd/internal/models"
	"reportd/internal/queue"
	"reportd/internal/repository"
	"reportd/internal/testutil"
)

type enqueued struct {
	queue string
	data  interface{}
}

type recordingEnqueuer struct {
	jobs []enqueued
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, name string, data interface{}) (*queue.JobSummary, error) {
	e.jobs = append(e.jobs, enqueued{queue: name, data: data})
	return &queue.JobSummary{ID: fmt.Sprintf("job-%d", len(e.jobs))}, nil
}

func (e *recordingEnqueuer) on(name string) []interface{} {
	var out []interface{}
	for _, j := range e.jobs {
		if j.queue == name {
			out = append(out, j.data)
		}
	}
	return out
}

type failingLister struct{}

func (failingLister) FindAll(models.TaskFilter) ([]models.Task, error) {
	return nil, errors.New("database is gone")
}

func newSweeper(t *testing.T, lister TaskLister, catchUp bool, now time.Time) (*Sweeper, *recordingEnqueuer, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	jobs := &recordingEnqueuer{}
	s := NewSweeper(lister, jobs, catchUp, zap.New(core))
	s.now = func() time.Time { return now }
	return s, jobs, logs
}

func weeklyTask(t *testing.T, repo *repository.TaskRepository, nextRun time.Time) *models.Task {
	t.Helper()
	task := &models.Task{
		Name:        "Weekly",
		Institution: "inst",
		Recurrence:  models.RecurrenceWeekly,
		Enabled:     true,
		NextRun:     nextRun,
		Template:    models.LayoutDescriptor{Extends: "basic"},
	}
	require.NoError(t, repo.Create(task, "alice"))
	return task
}

func TestSweepEnqueuesTaskDueToday(t *testing.T) {
	repo := repository.NewTaskRepository(testutil.NewDB(t))
	task := weeklyTask(t, repo, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))

	s, jobs, _ := newSweeper(t, repo, false, time.Date(2024, 3, 4, 23, 0, 0, 0, time.UTC))
	var progress []float64
	require.NoError(t, s.Run(context.Background(), func(_ context.Context, p float64) error {
		progress = append(progress, p)
		return nil
	}))

	gen := jobs.on(queue.Generation)
	require.Len(t, gen, 1)
	data := gen[0].(generation.JobData)
	assert.Equal(t, task.ID, data.Task.ID)
	assert.Equal(t, generation.OriginCron, data.Origin)
	assert.True(t, data.WriteHistory)
	assert.False(t, data.Debug)
	assert.Equal(t, []float64{1}, progress)
}

func TestSweepSkipsMissedRunWithWarning(t *testing.T) {
	repo := repository.NewTaskRepository(testutil.NewDB(t))
	task := weeklyTask(t, repo, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))

	s, jobs, logs := newSweeper(t, repo, false, time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC))
	require.NoError(t, s.Run(context.Background(), nil))

	assert.Empty(t, jobs.on(queue.Generation))
	warnings := logs.FilterLevelExact(zapcore.WarnLevel).FilterMessage("Task missed its run, skipping").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, task.ID, warnings[0].ContextMap()["task_id"])
}

func TestSweepCatchUpEnqueuesMissedRun(t *testing.T) {
	repo := repository.NewTaskRepository(testutil.NewDB(t))
	weeklyTask(t, repo, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))

	s, jobs, _ := newSweeper(t, repo, true, time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC))
	require.NoError(t, s.Run(context.Background(), nil))
	assert.Len(t, jobs.on(queue.Generation), 1)
}

func TestSweepIgnoresFutureAndDisabledTasks(t *testing.T) {
	repo := repository.NewTaskRepository(testutil.NewDB(t))
	weeklyTask(t, repo, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	disabled := weeklyTask(t, repo, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	_, err := repo.SetEnabled(disabled.ID, false, "", "alice")
	require.NoError(t, err)

	s, jobs, _ := newSweeper(t, repo, false, time.Date(2024, 3, 4, 23, 59, 59, 0, time.UTC))
	require.NoError(t, s.Run(context.Background(), nil))
	assert.Empty(t, jobs.jobs)
}

func TestSweepPagesThroughAllTasks(t *testing.T) {
	repo := repository.NewTaskRepository(testutil.NewDB(t))
	due := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	for i := 0; i < sweepPageSize+5; i++ {
		weeklyTask(t, repo, due)
	}

	s, jobs, _ := newSweeper(t, repo, false, due.Add(time.Hour))
	require.NoError(t, s.Run(context.Background(), nil))
	assert.Len(t, jobs.on(queue.Generation), sweepPageSize+5)
}

func TestSweepErrorIsMailed(t *testing.T) {
	s, jobs, _ := newSweeper(t, failingLister{}, false, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))

	err := s.Run(context.Background(), nil)
	require.Error(t, err)

	mails := jobs.on(queue.Mail)
	require.Len(t, mails, 1)
	msg := mails[0].(mail.Message)
	assert.Equal(t, mail.KindFailure, msg.Kind)
	assert.False(t, msg.Result.Success)
	assert.Equal(t, OriginSweep, msg.Result.Detail.Origin)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "text/plain", msg.Attachments[0].ContentType)
	assert.Contains(t, string(msg.Attachments[0].Content), "database is gone")
}

func TestSchedulerTriggersSweep(t *testing.T) {
	jobs := &recordingEnqueuer{}
	s, err := New(config.CronConfig{SweepSchedule: "0 0 0 * * *", Timezone: "UTC"}, jobs, zap.NewNop())
	require.NoError(t, err)

	job := s.TriggerSweep(context.Background(), "manual")
	require.NotNil(t, job)
	sweeps := jobs.on(queue.Cron)
	require.Len(t, sweeps, 1)
	assert.Equal(t, "manual", sweeps[0].(SweepJob).Trigger)
}

func TestSchedulerRejectsBadSettings(t *testing.T) {
	_, err := New(config.CronConfig{SweepSchedule: "not a schedule"}, &recordingEnqueuer{}, zap.NewNop())
	assert.Error(t, err)

	_, err = New(config.CronConfig{SweepSchedule: "0 0 0 * * *", Timezone: "Mars/Olympus"}, &recordingEnqueuer{}, zap.NewNop())
	assert.Error(t, err)
}
