package models

import "time"

// Period is the half-open interval [Start, End) a report's data is scoped to.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ReportResult is the immutable artifact written once per generation attempt.
type ReportResult struct {
	Success bool         `json:"success"`
	Detail  ReportDetail `json:"detail"`
}

// ReportDetail holds what happened during a generation attempt.
// Exactly one of Stats and Error is set.
type ReportDetail struct {
	Date   time.Time         `json:"date"`
	Took   int64             `json:"took"`
	TaskID string            `json:"taskId"`
	Origin string            `json:"origin"`
	Files  ReportFiles       `json:"files"`
	SendTo []string          `json:"sendingTo,omitempty"`
	Period *Period           `json:"period,omitempty"`
	Auth   *ReportAuth       `json:"auth,omitempty"`
	Stats  *ReportStats      `json:"stats,omitempty"`
	Error  *ReportError      `json:"error,omitempty"`
	Events []GenerationEvent `json:"events,omitempty"`
}

// ReportFiles lists the artifact paths. Report is empty when rendering did not complete.
type ReportFiles struct {
	Detail string `json:"detail"`
	Report string `json:"report,omitempty"`
}

// ReportAuth is the identity used to run backend queries.
type ReportAuth struct {
	Username string `json:"username"`
}

// ReportStats describes the rendered document.
type ReportStats struct {
	Pages int   `json:"pageCount"`
	Size  int64 `json:"size"`
}

// ReportError is the failure cause of an attempt.
type ReportError struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// GenerationEvent is one instrumentation point recorded while generating.
type GenerationEvent struct {
	Name string                 `json:"name"`
	At   time.Time              `json:"at"`
	Data map[string]interface{} `json:"data,omitempty"`
}
