// Package generation turns a generation job into a PDF report and its result artifact.
package generation

import (
	"reportd/internal/models"
)

// OriginCron marks jobs enqueued by the daily sweep.
const OriginCron = "daily-cron-job"

// JobData is the payload of a generation job. Task is a snapshot taken at
// enqueue time so test runs can override targets without touching the task.
type JobData struct {
	Task         models.Task    `json:"task"`
	Origin       string         `json:"origin"`
	WriteHistory bool           `json:"writeHistory"`
	Debug        bool           `json:"debug"`
	Period       *models.Period `json:"period,omitempty"`
	Targets      []string       `json:"targets,omitempty"`
}

// NewJobData snapshots task for a job. History is not carried along.
func NewJobData(task models.Task, origin string, writeHistory, debug bool) JobData {
	task.History = nil
	return JobData{
		Task:         task,
		Origin:       origin,
		WriteHistory: writeHistory,
		Debug:        debug,
	}
}

// Recipients returns the override targets when set, the task's otherwise.
func (d JobData) Recipients() []string {
	if len(d.Targets) > 0 {
		return d.Targets
	}
	return d.Task.Targets
}

// Error is a failed generation together with the result written for it.
type Error struct {
	Result *models.ReportResult
	Err    error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
