package queue

import (
	"context"
	"encoding/json"
	"time"

	"reportd/internal/models"
)

// Job is the claimed job handed to a processor.
type Job struct {
	ID           string
	Queue        string
	Data         json.RawMessage
	AttemptsMade int
	MaxAttempts  int
	AddedAt      time.Time

	q *Queue
}

func newJob(q *Queue, m *models.QueueJob) *Job {
	return &Job{
		ID:           m.ID,
		Queue:        m.Queue,
		Data:         json.RawMessage(m.Data),
		AttemptsMade: m.AttemptsMade,
		MaxAttempts:  m.MaxAttempts,
		AddedAt:      m.AddedAt,
		q:            q,
	}
}

// Decode unmarshals the job data into v.
func (j *Job) Decode(v interface{}) error {
	return json.Unmarshal(j.Data, v)
}

// UpdateProgress stores a completion fraction, clamped to [0, 1]. It also
// refreshes the job heartbeat.
func (j *Job) UpdateProgress(ctx context.Context, progress float64) error {
	if j.q == nil {
		return nil
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	return j.q.repo.UpdateProgress(j.ID, progress, j.q.now())
}

// JobSummary is the introspection view of a job.
type JobSummary struct {
	ID        string           `json:"id"`
	Data      json.RawMessage  `json:"data"`
	Progress  float64          `json:"progress"`
	AddedAt   time.Time        `json:"addedAt"`
	StartedAt *time.Time       `json:"startedAt,omitempty"`
	EndedAt   *time.Time       `json:"endedAt,omitempty"`
	Attempts  int              `json:"attempts"`
	State     models.JobStatus `json:"state"`
	Error     string           `json:"error,omitempty"`
}

func summarize(m *models.QueueJob, queuePaused bool) *JobSummary {
	state := m.Status
	if state == models.JobWaiting && queuePaused {
		state = models.JobPaused
	}

	// The attempt in progress (or about to start) counts until the job is terminal.
	attempts := m.AttemptsMade
	if m.Status != models.JobCompleted && m.Status != models.JobFailed {
		attempts++
	}

	return &JobSummary{
		ID:        m.ID,
		Data:      json.RawMessage(m.Data),
		Progress:  m.Progress,
		AddedAt:   m.AddedAt,
		StartedAt: m.StartedAt,
		EndedAt:   m.EndedAt,
		Attempts:  attempts,
		State:     state,
		Error:     m.LastError,
	}
}
