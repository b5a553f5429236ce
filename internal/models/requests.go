package models

import "time"

// APIResponse is the standard response envelope of the HTTP API.
type APIResponse struct {
	Status bool        `json:"status"`
	Msg    string      `json:"msg"`
	Obj    interface{} `json:"obj"`
}

// CursorResponse wraps list results paginated by a previous-id cursor.
type CursorResponse struct {
	Data  interface{} `json:"data"`
	Count int         `json:"count"`
	Last  string      `json:"last,omitempty"`
}

// --- Task API Request Payloads ---

// CreateTaskRequest is the payload of POST /api/tasks.
type CreateTaskRequest struct {
	Name        string           `json:"name" validate:"required,max=255"`
	Institution string           `json:"institution" validate:"required"`
	Targets     []string         `json:"targets" validate:"dive,email"`
	Recurrence  Recurrence       `json:"recurrence" validate:"required,oneof=DAILY WEEKLY MONTHLY QUARTERLY BIENNIAL YEARLY"`
	Enabled     *bool            `json:"enabled"`
	NextRun     *time.Time       `json:"nextRun"`
	Template    LayoutDescriptor `json:"template"`
}

// UpdateTaskRequest is the payload of PUT /api/tasks/:id. Nil fields are left untouched.
type UpdateTaskRequest struct {
	Name       *string           `json:"name" validate:"omitempty,max=255"`
	Targets    []string          `json:"targets" validate:"omitempty,dive,email"`
	Recurrence *Recurrence       `json:"recurrence" validate:"omitempty,oneof=DAILY WEEKLY MONTHLY QUARTERLY BIENNIAL YEARLY"`
	Enabled    *bool             `json:"enabled"`
	NextRun    *time.Time        `json:"nextRun"`
	Template   *LayoutDescriptor `json:"template"`
}

// RunTaskRequest is the payload of POST /api/tasks/:id/run.
type RunTaskRequest struct {
	Targets      []string `json:"targets" validate:"omitempty,dive,email"`
	Period       *Period  `json:"period"`
	WriteHistory bool     `json:"writeHistory"`
	Debug        bool     `json:"debug"`
}

// UnsubscribeRequest is the payload of POST /api/tasks/:id/unsubscribe.
type UnsubscribeRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// TaskFilter narrows task listings. PreviousID and Count drive cursor pagination.
type TaskFilter struct {
	Institution string
	Enabled     *bool
	PreviousID  string
	Count       int
}

// PutInstitutionRequest is the payload of PUT /api/institutions/:id.
type PutInstitutionRequest struct {
	Name     string `json:"name" validate:"max=255"`
	Username string `json:"username" validate:"required,max=255"`
	Index    string `json:"index" validate:"max=255"`
}
