package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"reportd/internal/models"
)

const defaultTaskPageSize = 15

// TaskRepository handles tasks and their history.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// NewHistoryEntry builds an entry stamped with the current time.
func NewHistoryEntry(taskID string, kind models.HistoryType, message string, data map[string]interface{}) models.HistoryEntry {
	return models.HistoryEntry{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Type:      kind,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

// Create inserts a task together with its creation entry.
func (r *TaskRepository) Create(task *models.Task, origin string) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.NextRun = task.NextRun.UTC()
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(task).Error; err != nil {
			return err
		}
		entry := NewHistoryEntry(task.ID, models.HistoryCreation, "Task created", originData(origin))
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		task.History = []models.HistoryEntry{entry}
		return nil
	})
}

// FindByID returns a task with its history, oldest entry first.
func (r *TaskRepository) FindByID(id string) (*models.Task, error) {
	var task models.Task
	err := r.db.Preload("History", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC")
	}).Where("id = ?", id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("Task", id)
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// FindAll lists tasks ordered by id, starting after filter.PreviousID.
func (r *TaskRepository) FindAll(filter models.TaskFilter) ([]models.Task, error) {
	db := r.db.Model(&models.Task{})
	if filter.Institution != "" {
		db = db.Where("institution = ?", filter.Institution)
	}
	if filter.Enabled != nil {
		db = db.Where("enabled = ?", *filter.Enabled)
	}
	if filter.PreviousID != "" {
		db = db.Where("id > ?", filter.PreviousID)
	}

	limit := filter.Count
	if limit <= 0 {
		limit = defaultTaskPageSize
	}

	var tasks []models.Task
	if err := db.Order("id ASC").Limit(limit).Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// Update applies mutate to the stored task and records the change with an entry
// of the given type. Both writes share one transaction.
func (r *TaskRepository) Update(id string, entry models.HistoryEntry, mutate func(*models.Task) error) (*models.Task, error) {
	var task models.Task
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&task).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("Task", id)
			}
			return err
		}
		if err := mutate(&task); err != nil {
			return err
		}
		task.NextRun = task.NextRun.UTC()
		if err := tx.Omit(clause.Associations).Save(&task).Error; err != nil {
			return err
		}
		entry.TaskID = task.ID
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		return nil, err
	}
	return r.FindByID(id)
}

// EditSilently updates columns without writing a history entry.
func (r *TaskRepository) EditSilently(id string, updates map[string]interface{}) error {
	res := r.db.Model(&models.Task{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Task", id)
	}
	return nil
}

// EditWithHistory updates columns and appends an entry in one transaction.
// It is used by generation, which edits the scheduling fields directly.
func (r *TaskRepository) EditWithHistory(id string, updates map[string]interface{}, entry models.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.TaskID = id
	return r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Task{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewNotFoundError("Task", id)
		}
		return tx.Create(&entry).Error
	})
}

// AppendHistory stores an entry for an existing task.
func (r *TaskRepository) AppendHistory(entry models.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return r.db.Create(&entry).Error
}

// SetEnabled switches a task on or off and records an enable or disable entry.
func (r *TaskRepository) SetEnabled(id string, enabled bool, message, origin string) (*models.Task, error) {
	kind, fallback := models.HistoryDisable, "Task disabled"
	if enabled {
		kind, fallback = models.HistoryEnable, "Task enabled"
	}
	if message == "" {
		message = fallback
	}
	entry := NewHistoryEntry(id, kind, message, originData(origin))
	return r.Update(id, entry, func(t *models.Task) error {
		t.Enabled = enabled
		return nil
	})
}

// Unsubscribe removes an address from the task targets. Matching ignores case.
func (r *TaskRepository) Unsubscribe(id, email, origin string) (*models.Task, error) {
	data := originData(origin)
	data["email"] = email
	entry := NewHistoryEntry(id, models.HistoryUnsubscription, fmt.Sprintf("%s unsubscribed", email), data)
	return r.Update(id, entry, func(t *models.Task) error {
		kept := t.Targets[:0:0]
		for _, target := range t.Targets {
			if !strings.EqualFold(target, email) {
				kept = append(kept, target)
			}
		}
		if len(kept) == len(t.Targets) {
			return models.NewArgumentError("%s is not a target of task %s", email, id)
		}
		t.Targets = kept
		return nil
	})
}

// Delete soft-deletes a task. History is kept.
func (r *TaskRepository) Delete(id string) error {
	res := r.db.Where("id = ?", id).Delete(&models.Task{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Task", id)
	}
	return nil
}

func originData(origin string) map[string]interface{} {
	data := map[string]interface{}{}
	if origin != "" {
		data["origin"] = origin
	}
	return data
}
