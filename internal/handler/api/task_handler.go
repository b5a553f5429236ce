package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"reportd/internal/generation"
	"reportd/internal/models"
	"reportd/internal/queue"
	"reportd/internal/recurrence"
	"reportd/internal/repository"
)

// TaskHandler serves task CRUD and manual runs.
type TaskHandler struct {
	deps   *Deps
	logger *zap.Logger
	now    func() time.Time
}

func NewTaskHandler(deps *Deps, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		deps:   deps,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// List handles GET /api/tasks?institution=&enabled=&previous=&count=
func (h *TaskHandler) List(c echo.Context) error {
	filter := models.TaskFilter{
		Institution: c.QueryParam("institution"),
		PreviousID:  c.QueryParam("previous"),
	}
	if raw := c.QueryParam("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return handleError(c, h.logger, models.NewArgumentError("enabled must be a boolean"))
		}
		filter.Enabled = &enabled
	}
	if raw := c.QueryParam("count"); raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil || count <= 0 || count > 100 {
			return handleError(c, h.logger, models.NewArgumentError("count must be between 1 and 100"))
		}
		filter.Count = count
	}

	tasks, err := h.deps.Tasks.FindAll(filter)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	res := models.CursorResponse{Data: tasks, Count: len(tasks)}
	if len(tasks) > 0 {
		res.Last = tasks[len(tasks)-1].ID
	}
	return successResponse(c, "Successful", res)
}

// Create handles POST /api/tasks
func (h *TaskHandler) Create(c echo.Context) error {
	var req models.CreateTaskRequest
	if err := bindAndValidate(c, &req); err != nil {
		return handleError(c, h.logger, err)
	}
	rec, err := recurrence.Parse(string(req.Recurrence))
	if err != nil {
		return handleError(c, h.logger, err)
	}
	if err := h.deps.Templates.ValidateDescriptor(req.Template); err != nil {
		return handleError(c, h.logger, err)
	}

	task := &models.Task{
		Name:        strings.TrimSpace(req.Name),
		Institution: req.Institution,
		Targets:     normalizeTargets(req.Targets),
		Recurrence:  rec,
		Enabled:     req.Enabled == nil || *req.Enabled,
		Template:    req.Template,
	}
	if req.NextRun != nil {
		task.NextRun = req.NextRun.UTC()
		if task.Enabled && task.NextRun.Before(h.today()) {
			return handleError(c, h.logger, models.NewArgumentError("nextRun of an enabled task cannot be in the past"))
		}
	} else {
		next, err := recurrence.CalcNextDate(h.now(), rec)
		if err != nil {
			return handleError(c, h.logger, err)
		}
		task.NextRun = next
	}

	if err := h.deps.Tasks.Create(task, origin(c)); err != nil {
		return handleError(c, h.logger, err)
	}
	h.logger.Info("Task created", zap.String("task_id", task.ID), zap.String("origin", origin(c)))
	return successResponse(c, "Task created", task)
}

// Get handles GET /api/tasks/:id
func (h *TaskHandler) Get(c echo.Context) error {
	task, err := h.deps.Tasks.FindByID(c.Param("id"))
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return successResponse(c, "Successful", task)
}

// Update handles PUT /api/tasks/:id
func (h *TaskHandler) Update(c echo.Context) error {
	var req models.UpdateTaskRequest
	if err := bindAndValidate(c, &req); err != nil {
		return handleError(c, h.logger, err)
	}
	if req.Template != nil {
		if err := h.deps.Templates.ValidateDescriptor(*req.Template); err != nil {
			return handleError(c, h.logger, err)
		}
	}

	var fields []string
	data := map[string]interface{}{"origin": origin(c)}
	entry := repository.NewHistoryEntry(c.Param("id"), models.HistoryEdition, "Task edited", data)

	task, err := h.deps.Tasks.Update(c.Param("id"), entry, func(t *models.Task) error {
		if req.Name != nil {
			t.Name = strings.TrimSpace(*req.Name)
			fields = append(fields, "name")
		}
		if req.Targets != nil {
			t.Targets = normalizeTargets(req.Targets)
			fields = append(fields, "targets")
		}
		if req.Recurrence != nil {
			rec, err := recurrence.Parse(string(*req.Recurrence))
			if err != nil {
				return err
			}
			t.Recurrence = rec
			fields = append(fields, "recurrence")
		}
		if req.Enabled != nil {
			t.Enabled = *req.Enabled
			fields = append(fields, "enabled")
		}
		if req.NextRun != nil {
			t.NextRun = req.NextRun.UTC()
			fields = append(fields, "nextRun")
		}
		if req.Template != nil {
			t.Template = *req.Template
			fields = append(fields, "template")
		}
		if t.Enabled && t.NextRun.Before(h.today()) {
			if req.NextRun != nil {
				return models.NewArgumentError("nextRun of an enabled task cannot be in the past")
			}
			next, err := rollForward(t.NextRun, t.Recurrence, h.today())
			if err != nil {
				return err
			}
			t.NextRun = next
			fields = append(fields, "nextRun")
		}
		data["fields"] = fields
		return nil
	})
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return successResponse(c, "Task updated", task)
}

// Delete handles DELETE /api/tasks/:id
func (h *TaskHandler) Delete(c echo.Context) error {
	if err := h.deps.Tasks.Delete(c.Param("id")); err != nil {
		return handleError(c, h.logger, err)
	}
	h.logger.Info("Task deleted", zap.String("task_id", c.Param("id")), zap.String("origin", origin(c)))
	return successResponse(c, "Task deleted", nil)
}

// Run handles POST /api/tasks/:id/run. The job is enqueued and its handle returned.
func (h *TaskHandler) Run(c echo.Context) error {
	var req models.RunTaskRequest
	if err := bindAndValidate(c, &req); err != nil {
		return handleError(c, h.logger, err)
	}
	if req.Period != nil && !req.Period.Start.Before(req.Period.End) {
		return handleError(c, h.logger, models.NewArgumentError("period start must be before its end"))
	}

	task, err := h.deps.Tasks.FindByID(c.Param("id"))
	if err != nil {
		return handleError(c, h.logger, err)
	}

	data := generation.NewJobData(*task, origin(c), req.WriteHistory, req.Debug)
	data.Period = req.Period
	data.Targets = normalizeTargets(req.Targets)

	job, err := h.deps.Queues.Enqueue(c.Request().Context(), queue.Generation, data)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return successResponse(c, "Generation enqueued", job)
}

// Enable handles POST /api/tasks/:id/enable. A nextRun left in the past by
// the time the task was disabled is moved to the next future date.
func (h *TaskHandler) Enable(c echo.Context) error {
	task, err := h.deps.Tasks.SetEnabled(c.Param("id"), true, "", origin(c))
	if err != nil {
		return handleError(c, h.logger, err)
	}

	if task.NextRun.Before(h.today()) {
		next, err := rollForward(task.NextRun, task.Recurrence, h.today())
		if err != nil {
			return handleError(c, h.logger, err)
		}
		if err := h.deps.Tasks.EditSilently(task.ID, map[string]interface{}{"next_run": next}); err != nil {
			return handleError(c, h.logger, err)
		}
		task.NextRun = next
	}
	return successResponse(c, "Task enabled", task)
}

// Disable handles POST /api/tasks/:id/disable
func (h *TaskHandler) Disable(c echo.Context) error {
	task, err := h.deps.Tasks.SetEnabled(c.Param("id"), false, "", origin(c))
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return successResponse(c, "Task disabled", task)
}

// Unsubscribe handles POST /api/tasks/:id/unsubscribe
func (h *TaskHandler) Unsubscribe(c echo.Context) error {
	var req models.UnsubscribeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return handleError(c, h.logger, err)
	}
	task, err := h.deps.Tasks.Unsubscribe(c.Param("id"), req.Email, origin(c))
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return successResponse(c, "Unsubscribed", task)
}

// today is the start of the current UTC day. A nextRun on it still runs at the
// next sweep.
func (h *TaskHandler) today() time.Time {
	return h.now().UTC().Truncate(24 * time.Hour)
}

// rollForward advances next by whole recurrence steps until it is not before today.
func rollForward(next time.Time, rec models.Recurrence, today time.Time) (time.Time, error) {
	for next.Before(today) {
		n, err := recurrence.CalcNextDate(next, rec)
		if err != nil {
			return next, err
		}
		next = n
	}
	return next, nil
}

func normalizeTargets(targets []string) []string {
	if targets == nil {
		return nil
	}
	out := make([]string, 0, len(targets))
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
