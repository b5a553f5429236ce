package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"reportd/internal/models"
)

// QueueHandler exposes job introspection and queue control.
type QueueHandler struct {
	deps   *Deps
	logger *zap.Logger
}

func NewQueueHandler(deps *Deps, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{deps: deps, logger: logger}
}

// ListJobs handles GET /api/queues/:queue/jobs?status=waiting,active
func (h *QueueHandler) ListJobs(c echo.Context) error {
	var statuses []models.JobStatus
	for _, raw := range strings.Split(c.QueryParam("status"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			statuses = append(statuses, models.JobStatus(strings.ToLower(raw)))
		}
	}

	jobs, err := h.deps.Queues.ListJobs(c.Request().Context(), c.Param("queue"), statuses)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return successResponse(c, "Successful", jobs)
}

// GetJob handles GET /api/queues/:queue/jobs/:id
func (h *QueueHandler) GetJob(c echo.Context) error {
	job, err := h.deps.Queues.GetJob(c.Request().Context(), c.Param("queue"), c.Param("id"))
	if err != nil {
		return handleError(c, h.logger, err)
	}
	if job == nil {
		return errorResponse(c, http.StatusNotFound, "Job not found")
	}
	return successResponse(c, "Successful", job)
}

// RetryJob handles POST /api/queues/:queue/jobs/:id/retry
func (h *QueueHandler) RetryJob(c echo.Context) error {
	job, err := h.deps.Queues.RetryJob(c.Request().Context(), c.Param("queue"), c.Param("id"))
	if err != nil {
		return handleError(c, h.logger, err)
	}
	if job == nil {
		return errorResponse(c, http.StatusNotFound, "Job not found")
	}
	h.logger.Info("Job retried", zap.String("queue", c.Param("queue")), zap.String("job_id", job.ID), zap.String("origin", origin(c)))
	return successResponse(c, "Job retried", job)
}

// Pause handles PUT /api/queues/:queue/pause
func (h *QueueHandler) Pause(c echo.Context) error {
	if err := h.deps.Queues.Pause(c.Request().Context(), c.Param("queue")); err != nil {
		return handleError(c, h.logger, err)
	}
	h.logger.Info("Queue paused", zap.String("queue", c.Param("queue")), zap.String("origin", origin(c)))
	return successResponse(c, "Queue paused", nil)
}

// Resume handles PUT /api/queues/:queue/resume
func (h *QueueHandler) Resume(c echo.Context) error {
	if err := h.deps.Queues.Resume(c.Request().Context(), c.Param("queue")); err != nil {
		return handleError(c, h.logger, err)
	}
	h.logger.Info("Queue resumed", zap.String("queue", c.Param("queue")), zap.String("origin", origin(c)))
	return successResponse(c, "Queue resumed", nil)
}
