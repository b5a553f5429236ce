package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reportd/internal/handler/api"
	"reportd/internal/models"
	"reportd/internal/queue"
	"reportd/internal/repository"
	"reportd/internal/template"
	"reportd/internal/testutil"
)

const testKey = "secret"

type envelope struct {
	Status bool            `json:"status"`
	Msg    string          `json:"msg"`
	Obj    json.RawMessage `json:"obj"`
}

func newServer(t *testing.T) *echo.Echo {
	t.Helper()
	db := testutil.NewDB(t)
	registry, err := template.NewRegistry()
	require.NoError(t, err)

	jobs := repository.NewQueueJobRepository(db)
	manager := queue.NewManager(
		queue.New(queue.Generation, jobs, queue.Options{}, zap.NewNop()),
		queue.New(queue.Mail, jobs, queue.Options{}, zap.NewNop()),
	)

	e := echo.New()
	Setup(e, db, &api.Deps{
		Tasks:        repository.NewTaskRepository(db),
		Institutions: repository.NewInstitutionRepository(db),
		Templates:    registry,
		Queues:       manager,
	}, zap.NewNop(), testKey)
	return e
}

func call(t *testing.T, e *echo.Echo, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Token", testKey)
	req.Header.Set(api.OriginHeader, "alice")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func createTask(t *testing.T, e *echo.Echo) models.Task {
	t.Helper()
	return createTaskFrom(t, e, "2099-03-02T00:00:00Z", true)
}

func createTaskFrom(t *testing.T, e *echo.Echo, nextRun string, enabled bool) models.Task {
	t.Helper()
	code, env := call(t, e, http.MethodPost, "/api/tasks", fmt.Sprintf(`{
		"name": "Weekly",
		"institution": "inst",
		"targets": ["a@example.org", "A@example.org", "b@example.org"],
		"recurrence": "WEEKLY",
		"enabled": %t,
		"nextRun": %q,
		"template": {"extends": "basic"}
	}`, enabled, nextRun))
	require.Equal(t, http.StatusOK, code, env.Msg)
	var task models.Task
	require.NoError(t, json.Unmarshal(env.Obj, &task))
	return task
}

func TestAPIRequiresToken(t *testing.T) {
	e := newServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Token", "wrong")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	e := newServer(t)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTaskRoundTrip(t *testing.T) {
	e := newServer(t)
	created := createTask(t, e)
	assert.Equal(t, []string{"a@example.org", "b@example.org"}, created.Targets)

	code, env := call(t, e, http.MethodGet, "/api/tasks/"+created.ID, "")
	require.Equal(t, http.StatusOK, code)
	var got models.Task
	require.NoError(t, json.Unmarshal(env.Obj, &got))
	assert.Equal(t, "Weekly", got.Name)
	assert.Equal(t, "inst", got.Institution)
	assert.Equal(t, models.RecurrenceWeekly, got.Recurrence)
	assert.True(t, got.Enabled)
	assert.Equal(t, "basic", got.Template.Extends)
	require.Len(t, got.History, 1)
	assert.Equal(t, "alice", got.History[0].Data["origin"])

	code, env = call(t, e, http.MethodPut, "/api/tasks/"+created.ID, `{"name": "Renamed"}`)
	require.Equal(t, http.StatusOK, code, env.Msg)
	require.NoError(t, json.Unmarshal(env.Obj, &got))
	assert.Equal(t, "Renamed", got.Name)
	require.Len(t, got.History, 2)
	assert.Equal(t, models.HistoryEdition, got.History[1].Type)

	code, _ = call(t, e, http.MethodGet, "/api/tasks?enabled=true&count=10", "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = call(t, e, http.MethodDelete, "/api/tasks/"+created.ID, "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = call(t, e, http.MethodGet, "/api/tasks/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateTaskValidation(t *testing.T) {
	e := newServer(t)

	code, env := call(t, e, http.MethodPost, "/api/tasks", `{"name": "x", "institution": "i", "recurrence": "HOURLY", "template": {"extends": "basic"}}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Msg, "Recurrence")

	code, env = call(t, e, http.MethodPost, "/api/tasks", `{"name": "x", "institution": "i", "recurrence": "DAILY", "targets": ["nope"], "template": {"extends": "basic"}}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Msg, "invalid email format")

	code, env = call(t, e, http.MethodPost, "/api/tasks", `{"name": "x", "institution": "i", "recurrence": "DAILY", "template": {"extends": "missing"}}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Msg, `unknown template "missing"`)
}

func TestEnableDisableAndUnsubscribe(t *testing.T) {
	e := newServer(t)
	task := createTaskFrom(t, e, "2024-03-04T00:00:00Z", false)
	assert.False(t, task.Enabled)

	code, env := call(t, e, http.MethodPost, "/api/tasks/"+task.ID+"/enable", "")
	require.Equal(t, http.StatusOK, code)
	var got models.Task
	require.NoError(t, json.Unmarshal(env.Obj, &got))
	assert.True(t, got.Enabled)
	assert.False(t, got.NextRun.Before(today()), "a past nextRun is moved forward on enable")
	assert.Equal(t, time.Monday, got.NextRun.Weekday())

	code, env = call(t, e, http.MethodPost, "/api/tasks/"+task.ID+"/disable", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Obj, &got))
	assert.False(t, got.Enabled)

	code, env = call(t, e, http.MethodPost, "/api/tasks/"+task.ID+"/unsubscribe", `{"email": "B@example.org"}`)
	require.Equal(t, http.StatusOK, code, env.Msg)
	require.NoError(t, json.Unmarshal(env.Obj, &got))
	assert.Equal(t, []string{"a@example.org"}, got.Targets)

	code, _ = call(t, e, http.MethodPost, "/api/tasks/"+task.ID+"/unsubscribe", `{"email": "b@example.org"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func today() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}

func TestEnabledTaskRejectsPastNextRun(t *testing.T) {
	e := newServer(t)

	code, env := call(t, e, http.MethodPost, "/api/tasks", `{
		"name": "Late", "institution": "inst", "recurrence": "DAILY",
		"nextRun": "2024-03-04T00:00:00Z", "template": {"extends": "basic"}
	}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Msg, "cannot be in the past")

	task := createTask(t, e)
	code, env = call(t, e, http.MethodPut, "/api/tasks/"+task.ID, `{"nextRun": "2024-03-04T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Msg, "cannot be in the past")

	code, env = call(t, e, http.MethodGet, "/api/tasks/"+task.ID, "")
	require.Equal(t, http.StatusOK, code)
	var got models.Task
	require.NoError(t, json.Unmarshal(env.Obj, &got))
	assert.True(t, got.NextRun.Equal(task.NextRun))
}

func TestUpdateEnablingRollsNextRunForward(t *testing.T) {
	e := newServer(t)
	task := createTaskFrom(t, e, "2024-03-04T00:00:00Z", false)

	code, env := call(t, e, http.MethodPut, "/api/tasks/"+task.ID, `{"enabled": true}`)
	require.Equal(t, http.StatusOK, code, env.Msg)
	var got models.Task
	require.NoError(t, json.Unmarshal(env.Obj, &got))
	assert.True(t, got.Enabled)
	assert.False(t, got.NextRun.Before(today()))
	assert.Equal(t, time.Monday, got.NextRun.Weekday())
	require.NotEmpty(t, got.History)
	assert.Contains(t, got.History[len(got.History)-1].Data["fields"], "nextRun")
}

func TestInstitutionEndpoints(t *testing.T) {
	e := newServer(t)

	code, env := call(t, e, http.MethodGet, "/api/institutions", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(env.Obj))

	code, env = call(t, e, http.MethodPut, "/api/institutions/univ", `{"name": "Univ", "username": " svc-univ ", "index": "univ-*"}`)
	require.Equal(t, http.StatusOK, code, env.Msg)
	var inst models.Institution
	require.NoError(t, json.Unmarshal(env.Obj, &inst))
	assert.Equal(t, "svc-univ", inst.Username)

	code, _ = call(t, e, http.MethodPut, "/api/institutions/other", `{"name": "Other"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = call(t, e, http.MethodGet, "/api/institutions", "")
	require.Equal(t, http.StatusOK, code)
	var list []models.Institution
	require.NoError(t, json.Unmarshal(env.Obj, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "univ-*", list[0].Index)

	code, _ = call(t, e, http.MethodGet, "/api/institutions/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRunEnqueuesGeneration(t *testing.T) {
	e := newServer(t)
	task := createTask(t, e)

	code, env := call(t, e, http.MethodPost, "/api/tasks/"+task.ID+"/run", `{
		"targets": ["test@example.org"],
		"period": {"start": "2024-01-01T00:00:00Z", "end": "2024-02-01T00:00:00Z"},
		"debug": true
	}`)
	require.Equal(t, http.StatusOK, code, env.Msg)
	var job queue.JobSummary
	require.NoError(t, json.Unmarshal(env.Obj, &job))
	assert.Equal(t, models.JobWaiting, job.State)

	code, env = call(t, e, http.MethodGet, "/api/queues/generation/jobs?status=waiting", "")
	require.Equal(t, http.StatusOK, code)
	var jobs []queue.JobSummary
	require.NoError(t, json.Unmarshal(env.Obj, &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
	assert.Equal(t, 1, jobs[0].Attempts)
	assert.Equal(t, 0.0, jobs[0].Progress)

	var data struct {
		Origin  string   `json:"origin"`
		Targets []string `json:"targets"`
		Debug   bool     `json:"debug"`
	}
	require.NoError(t, json.Unmarshal(jobs[0].Data, &data))
	assert.Equal(t, "alice", data.Origin)
	assert.Equal(t, []string{"test@example.org"}, data.Targets)
	assert.True(t, data.Debug)

	code, _ = call(t, e, http.MethodPost, "/api/tasks/"+task.ID+"/run", `{"period": {"start": "2024-02-01T00:00:00Z", "end": "2024-01-01T00:00:00Z"}}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestQueueEndpoints(t *testing.T) {
	e := newServer(t)

	code, _ := call(t, e, http.MethodGet, "/api/queues/nope/jobs", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, env := call(t, e, http.MethodGet, "/api/queues/generation/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Job not found", env.Msg)

	code, _ = call(t, e, http.MethodPost, "/api/queues/generation/jobs/missing/retry", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = call(t, e, http.MethodGet, "/api/queues/generation/jobs?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, code)

	for i := 0; i < 2; i++ {
		code, _ = call(t, e, http.MethodPut, "/api/queues/mail/pause", "")
		assert.Equal(t, http.StatusOK, code)
	}
	code, _ = call(t, e, http.MethodPut, "/api/queues/mail/resume", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestTemplateEndpoints(t *testing.T) {
	e := newServer(t)

	code, env := call(t, e, http.MethodGet, "/api/templates", "")
	require.Equal(t, http.StatusOK, code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Obj, &list))
	require.NotEmpty(t, list)
	assert.Equal(t, "activity", list[0]["id"])

	code, _ = call(t, e, http.MethodGet, "/api/templates/basic", "")
	assert.Equal(t, http.StatusOK, code)
}
