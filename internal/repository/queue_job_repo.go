package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"reportd/internal/models"
)

var claimableStatuses = []models.JobStatus{models.JobWaiting, models.JobDelayed}

// QueueJobRepository handles queue-backed jobs and queue pause state.
type QueueJobRepository struct {
	db *gorm.DB
}

func NewQueueJobRepository(db *gorm.DB) *QueueJobRepository {
	return &QueueJobRepository{db: db}
}

// Create stores a new waiting job.
func (r *QueueJobRepository) Create(job *models.QueueJob) error {
	return r.db.Create(job).Error
}

// FindByID returns a job of the given queue, or nil when it does not exist.
func (r *QueueJobRepository) FindByID(queue, id string) (*models.QueueJob, error) {
	var job models.QueueJob
	err := r.db.Where("id = ? AND queue = ?", id, queue).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Claim moves the oldest runnable job of a queue to active and returns it.
// The conditional update makes the claim atomic: a job lost to another worker
// affects no row and the next candidate is tried.
func (r *QueueJobRepository) Claim(queue, workerID string, now time.Time) (*models.QueueJob, error) {
	for attempt := 0; attempt < 5; attempt++ {
		var candidate models.QueueJob
		err := r.db.Where("queue = ? AND status IN ? AND run_at <= ?", queue, claimableStatuses, now).
			Order("run_at ASC").
			Order("added_at ASC").
			First(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		res := r.db.Model(&models.QueueJob{}).
			Where("id = ? AND status IN ?", candidate.ID, claimableStatuses).
			Updates(map[string]interface{}{
				"status":     models.JobActive,
				"started_at":   now,
				"heartbeat_at": now,
				"locked_by":    workerID,
				"progress":     0,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}

		candidate.Status = models.JobActive
		candidate.StartedAt = &now
		candidate.LockedBy = workerID
		candidate.HeartbeatAt = &now
		candidate.Progress = 0
		return &candidate, nil
	}
	return nil, nil
}

// UpdateProgress stores the progress of an active job and refreshes its heartbeat.
func (r *QueueJobRepository) UpdateProgress(id string, progress float64, now time.Time) error {
	return r.db.Model(&models.QueueJob{}).
		Where("id = ? AND status = ?", id, models.JobActive).
		Updates(map[string]interface{}{
			"progress":     progress,
			"heartbeat_at": now,
		}).Error
}

// Touch refreshes the heartbeat of an active job.
func (r *QueueJobRepository) Touch(id string, now time.Time) error {
	return r.db.Model(&models.QueueJob{}).
		Where("id = ? AND status = ?", id, models.JobActive).
		Update("heartbeat_at", now).Error
}

// Complete marks an active job as completed.
func (r *QueueJobRepository) Complete(id string, attemptsMade int, now time.Time) error {
	return r.db.Model(&models.QueueJob{}).
		Where("id = ? AND status = ?", id, models.JobActive).
		Updates(map[string]interface{}{
			"status":        models.JobCompleted,
			"progress":      1,
			"attempts_made": attemptsMade,
			"ended_at":      now,
			"locked_by":     "",
		}).Error
}

// Fail records a failed attempt. A nil retryAt makes the failure terminal,
// otherwise the job is delayed until retryAt.
func (r *QueueJobRepository) Fail(id string, attemptsMade int, lastError string, retryAt *time.Time, now time.Time) error {
	return r.db.Model(&models.QueueJob{}).
		Where("id = ? AND status = ?", id, models.JobActive).
		Updates(failUpdates(attemptsMade, lastError, retryAt, now)).Error
}

// FindStalled returns the active jobs of a queue whose heartbeat is older than staleBefore.
func (r *QueueJobRepository) FindStalled(queue string, staleBefore time.Time) ([]models.QueueJob, error) {
	var jobs []models.QueueJob
	err := r.db.Where("queue = ? AND status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)", queue, models.JobActive, staleBefore).
		Order("started_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// ReleaseStalled fails the attempt of a stalled job like Fail does. The heartbeat
// is checked again so a worker that came back in the meantime keeps its job.
// It reports whether the job was released.
func (r *QueueJobRepository) ReleaseStalled(id string, staleBefore time.Time, attemptsMade int, lastError string, retryAt *time.Time, now time.Time) (bool, error) {
	res := r.db.Model(&models.QueueJob{}).
		Where("id = ? AND status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)", id, models.JobActive, staleBefore).
		Updates(failUpdates(attemptsMade, lastError, retryAt, now))
	return res.RowsAffected > 0, res.Error
}

func failUpdates(attemptsMade int, lastError string, retryAt *time.Time, now time.Time) map[string]interface{} {
	updates := map[string]interface{}{
		"attempts_made": attemptsMade,
		"last_error":    lastError,
		"locked_by":     "",
	}
	if retryAt == nil {
		updates["status"] = models.JobFailed
		updates["ended_at"] = now
	} else {
		updates["status"] = models.JobDelayed
		updates["run_at"] = *retryAt
	}
	return updates
}

// Retry moves a failed job back to waiting. It reports whether a row changed.
func (r *QueueJobRepository) Retry(queue, id string, now time.Time) (bool, error) {
	res := r.db.Model(&models.QueueJob{}).
		Where("id = ? AND queue = ? AND status = ?", id, queue, models.JobFailed).
		Updates(map[string]interface{}{
			"status":        models.JobWaiting,
			"attempts_made": 0,
			"progress":      0,
			"run_at":        now,
			"last_error":    "",
			"started_at":    nil,
			"ended_at":      nil,
		})
	return res.RowsAffected > 0, res.Error
}

// ListByStatus returns the jobs of a queue in the given states, oldest first.
func (r *QueueJobRepository) ListByStatus(queue string, statuses []models.JobStatus) ([]models.QueueJob, error) {
	var jobs []models.QueueJob
	if len(statuses) == 0 {
		return jobs, nil
	}
	err := r.db.Where("queue = ? AND status IN ?", queue, statuses).
		Order("added_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// IsPaused reads the pause flag of a queue.
func (r *QueueJobRepository) IsPaused(queue string) (bool, error) {
	var state models.QueueState
	err := r.db.Where("name = ?", queue).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return state.Paused, err
}

// SetPaused upserts the pause flag of a queue.
func (r *QueueJobRepository) SetPaused(queue string, paused bool) error {
	state := models.QueueState{Name: queue, Paused: paused}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"paused", "updated_at"}),
	}).Create(&state).Error
}
