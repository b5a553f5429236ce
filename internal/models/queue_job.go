package models

import "time"

// JobStatus is the persisted state of a queued job.
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobDelayed   JobStatus = "delayed"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"

	// JobPaused is never stored: waiting jobs of a paused queue are reported with it.
	JobPaused JobStatus = "paused"
)

// QueueJob stores one unit of queued work processed by queue workers.
type QueueJob struct {
	ID           string     `gorm:"column:id;primaryKey;size:36" json:"id"`
	Queue        string     `gorm:"column:queue;size:50;index:idx_queue_jobs_queue_status,priority:1" json:"queue"`
	Status       JobStatus  `gorm:"column:status;size:20;index:idx_queue_jobs_queue_status,priority:2" json:"status"`
	Data         string     `gorm:"column:data;type:longtext" json:"data"`
	Progress     float64    `gorm:"column:progress;default:0" json:"progress"`
	AttemptsMade int        `gorm:"column:attempts_made;default:0" json:"attempts_made"`
	MaxAttempts  int        `gorm:"column:max_attempts;default:1" json:"max_attempts"`
	RunAt        time.Time  `gorm:"column:run_at;index" json:"run_at"`
	AddedAt      time.Time  `gorm:"column:added_at" json:"added_at"`
	StartedAt    *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	EndedAt      *time.Time `gorm:"column:ended_at" json:"ended_at,omitempty"`
	LockedBy     string     `gorm:"column:locked_by;size:100" json:"locked_by,omitempty"`
	HeartbeatAt  *time.Time `gorm:"column:heartbeat_at" json:"heartbeat_at,omitempty"`
	LastError    string     `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (QueueJob) TableName() string {
	return "queue_jobs"
}

// QueueState stores the pause flag of a named queue.
type QueueState struct {
	Name      string    `gorm:"column:name;primaryKey;size:50" json:"name"`
	Paused    bool      `gorm:"column:paused" json:"paused"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (QueueState) TableName() string {
	return "queue_states"
}
