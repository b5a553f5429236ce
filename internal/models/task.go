package models

import (
	"time"

	"gorm.io/gorm"
)

// Recurrence is the cadence of a task, stored as its upper-case label.
type Recurrence string

const (
	RecurrenceDaily     Recurrence = "DAILY"
	RecurrenceWeekly    Recurrence = "WEEKLY"
	RecurrenceMonthly   Recurrence = "MONTHLY"
	RecurrenceQuarterly Recurrence = "QUARTERLY"
	RecurrenceBiennial  Recurrence = "BIENNIAL"
	RecurrenceYearly    Recurrence = "YEARLY"
)

// Task is a persisted, recurring report-generation configuration.
type Task struct {
	ID          string           `gorm:"column:id;primaryKey;size:36" json:"id"`
	Name        string           `gorm:"column:name;size:255" json:"name"`
	Institution string           `gorm:"column:institution;size:100;index:idx_tasks_institution" json:"institution"`
	Targets     []string         `gorm:"column:targets;type:text;serializer:json" json:"targets"`
	Recurrence  Recurrence       `gorm:"column:recurrence;size:20" json:"recurrence"`
	Enabled     bool             `gorm:"column:enabled;index:idx_tasks_enabled" json:"enabled"`
	NextRun     time.Time        `gorm:"column:next_run" json:"nextRun"`
	LastRun     *time.Time       `gorm:"column:last_run" json:"lastRun,omitempty"`
	Template    LayoutDescriptor `gorm:"column:template;type:text;serializer:json" json:"template"`
	History     []HistoryEntry   `gorm:"foreignKey:TaskID" json:"history,omitempty"`
	CreatedAt   time.Time        `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt   time.Time        `gorm:"column:updated_at" json:"updatedAt"`
	DeletedAt   gorm.DeletedAt   `gorm:"column:deleted_at;index" json:"-"`
}

func (Task) TableName() string {
	return "tasks"
}

// LayoutDescriptor references a base template and carries the task-specific
// overrides applied on top of it.
type LayoutDescriptor struct {
	Extends string                 `json:"extends"`
	Fetch   map[string]interface{} `json:"fetch,omitempty"`
	Inserts []LayoutInsert         `json:"inserts,omitempty"`
}

// LayoutInsert splices layouts into the base template at index At.
type LayoutInsert struct {
	At      int      `json:"at"`
	Layouts []Layout `json:"layouts"`
}

// Layout is one page of a report: the figures to draw and the data they are built from.
// Data and Fetch are keyed by dataset name; figures pick a dataset with DataKey.
// A layout carrying Data is drawn as-is, otherwise every Fetch entry is queried.
type Layout struct {
	Data    map[string]Dataset                `json:"data,omitempty"`
	Fetch   map[string]map[string]interface{} `json:"fetch,omitempty"`
	Figures []FigureSpec                      `json:"figures"`
}

// FigureSpec describes a figure before data is bound to it.
type FigureSpec struct {
	Type    string                 `json:"type"`
	Title   string                 `json:"title,omitempty"`
	DataKey string                 `json:"dataKey,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// HistoryType classifies a history entry.
type HistoryType string

const (
	HistoryCreation          HistoryType = "creation"
	HistoryEdition           HistoryType = "edition"
	HistoryGenerationSuccess HistoryType = "generation-success"
	HistoryGenerationError   HistoryType = "generation-error"
	HistoryUnsubscription    HistoryType = "unsubscription"
	HistoryEnable            HistoryType = "enable"
	HistoryDisable           HistoryType = "disable"
)

// HistoryEntry is an immutable audit record attached to a task.
type HistoryEntry struct {
	ID        string                 `gorm:"column:id;primaryKey;size:36" json:"id"`
	TaskID    string                 `gorm:"column:task_id;size:36;index:idx_task_history_task" json:"taskId"`
	Type      HistoryType            `gorm:"column:type;size:30" json:"type"`
	Message   string                 `gorm:"column:message;type:text" json:"message"`
	Data      map[string]interface{} `gorm:"column:data;type:text;serializer:json" json:"data,omitempty"`
	CreatedAt time.Time              `gorm:"column:created_at" json:"createdAt"`
}

func (HistoryEntry) TableName() string {
	return "task_history"
}

// Institution maps an institution to the identity and index scope used to fetch its data.
type Institution struct {
	ID        string    `gorm:"column:id;primaryKey;size:100" json:"id"`
	Name      string    `gorm:"column:name;size:255" json:"name"`
	Username  string    `gorm:"column:username;size:255" json:"username"`
	Index     string    `gorm:"column:index_scope;size:255" json:"index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Institution) TableName() string {
	return "institutions"
}
