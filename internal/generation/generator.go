package generation

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"go.uber.org/zap"

	"reportd/internal/fetcher"
	"reportd/internal/models"
	"reportd/internal/recurrence"
	"reportd/internal/report"
	"reportd/internal/repository"
	"reportd/internal/template"
)

// TaskStore is the part of the task repository generation writes to.
type TaskStore interface {
	EditWithHistory(id string, updates map[string]interface{}, entry models.HistoryEntry) error
}

// InstitutionResolver finds the identity and index scope of an institution.
type InstitutionResolver interface {
	FindByID(id string) (*models.Institution, error)
}

// TemplateResolver applies a task descriptor to its base template.
type TemplateResolver interface {
	Resolve(desc models.LayoutDescriptor) (*template.Resolved, error)
}

// Renderer writes a document from page producers.
type Renderer interface {
	Render(ctx context.Context, path string, header report.Header, producers []report.PageProducer) (report.Stats, error)
}

// Observer receives generation events as they happen.
type Observer func(event models.GenerationEvent)

// Generator runs generation jobs.
type Generator struct {
	tasks        TaskStore
	institutions InstitutionResolver
	templates    TemplateResolver
	fetcher      fetcher.Fetcher
	renderer     Renderer
	dir          string
	logger       *zap.Logger
	now          func() time.Time
}

func NewGenerator(
	tasks TaskStore,
	institutions InstitutionResolver,
	templates TemplateResolver,
	f fetcher.Fetcher,
	renderer Renderer,
	dir string,
	logger *zap.Logger,
) *Generator {
	return &Generator{
		tasks:        tasks,
		institutions: institutions,
		templates:    templates,
		fetcher:      f,
		renderer:     renderer,
		dir:          dir,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Generate renders the report of one job and writes its JSON result next to it.
// The returned result is never nil; a non-nil error means the attempt failed.
// Failure bookkeeping on the task is left to RecordFailure.
func (g *Generator) Generate(ctx context.Context, data JobData, observe Observer) (*models.ReportResult, error) {
	started := g.now()
	task := data.Task
	base := artifactBase(g.dir, started, task.Name)

	result := &models.ReportResult{
		Detail: models.ReportDetail{
			Date:   started,
			TaskID: task.ID,
			Origin: data.Origin,
			Files:  models.ReportFiles{Detail: base + ".json"},
			SendTo: data.Recipients(),
		},
	}

	var events []models.GenerationEvent
	emit := func(name string, payload map[string]interface{}) {
		ev := models.GenerationEvent{Name: name, At: g.now(), Data: payload}
		if data.Debug {
			events = append(events, ev)
		}
		if observe != nil {
			observe(ev)
		}
	}

	emit("creation", map[string]interface{}{"taskId": task.ID, "origin": data.Origin})
	stats, stack, err := g.run(ctx, data, base+".pdf", &result.Detail, emit)
	result.Detail.Took = g.now().Sub(started).Milliseconds()

	if err != nil {
		result.Detail.Error = &models.ReportError{Message: err.Error(), Stack: stack}
		emit("error", map[string]interface{}{"message": err.Error()})
		g.logger.Error("Report generation failed",
			zap.String("task_id", task.ID),
			zap.String("origin", data.Origin),
			zap.Error(err),
		)
	} else {
		result.Success = true
		result.Detail.Files.Report = base + ".pdf"
		result.Detail.Stats = &models.ReportStats{Pages: stats.Pages, Size: stats.Size}
		emit("generated", map[string]interface{}{"pageCount": stats.Pages, "size": stats.Size})
	}
	if data.Debug {
		result.Detail.Events = events
	}

	if werr := writeResult(result.Detail.Files.Detail, result); werr != nil {
		g.logger.Error("Failed to write report result",
			zap.String("task_id", task.ID),
			zap.String("path", result.Detail.Files.Detail),
			zap.Error(werr),
		)
		if err == nil {
			err = fmt.Errorf("write result: %w", werr)
			markFailed(result, err)
		}
	}
	if err != nil {
		return result, err
	}

	if data.WriteHistory {
		if err := g.recordSuccess(data, result); err != nil {
			err = fmt.Errorf("record generation: %w", err)
			markFailed(result, err)
			if werr := writeResult(result.Detail.Files.Detail, result); werr != nil {
				g.logger.Error("Failed to rewrite report result", zap.String("task_id", task.ID), zap.Error(werr))
			}
			return result, err
		}
	}

	g.logger.Info("Report generated",
		zap.String("task_id", task.ID),
		zap.String("origin", data.Origin),
		zap.String("path", result.Detail.Files.Report),
		zap.Int64("took_ms", result.Detail.Took),
	)
	return result, nil
}

// markFailed turns a rendered result into a failed one.
func markFailed(result *models.ReportResult, err error) {
	result.Success = false
	result.Detail.Stats = nil
	result.Detail.Files.Report = ""
	result.Detail.Error = &models.ReportError{Message: err.Error()}
}

func (g *Generator) run(ctx context.Context, data JobData, pdfPath string, detail *models.ReportDetail, emit func(string, map[string]interface{})) (stats report.Stats, stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generation panic: %v", r)
			stack = string(debug.Stack())
		}
	}()

	task := data.Task
	resolved, err := g.templates.Resolve(task.Template)
	if err != nil {
		return stats, "", err
	}
	emit("templateResolved", map[string]interface{}{"template": resolved.ID, "layouts": len(resolved.Layouts)})

	period, err := g.period(data)
	if err != nil {
		return stats, "", err
	}
	detail.Period = &period

	inst, err := g.institutions.FindByID(task.Institution)
	if err != nil {
		return stats, "", err
	}
	detail.Auth = &models.ReportAuth{Username: inst.Username}
	emit("contactFound", map[string]interface{}{"username": inst.Username, "index": inst.Index})

	interval, err := recurrence.CalcInterval(task.Recurrence)
	if err != nil {
		return stats, "", err
	}
	timeLayout, err := recurrence.CalcFormat(task.Recurrence)
	if err != nil {
		return stats, "", err
	}

	forced := map[string]interface{}{"period": period, "user": inst.Username}
	if inst.Index != "" {
		forced["index"] = inst.Index
	}

	datasets := make([]map[string]models.Dataset, len(resolved.Layouts))
	for i, layout := range resolved.Layouts {
		if len(layout.Data) > 0 {
			datasets[i] = layout.Data
			continue
		}
		datasets[i], err = g.fetchLayout(ctx, resolved, layout, interval, forced, emit)
		if err != nil {
			return stats, "", fmt.Errorf("layout %d: %w", i+1, err)
		}
	}
	emit("templateFetched", map[string]interface{}{"layouts": len(resolved.Layouts)})

	producers := make([]report.PageProducer, len(resolved.Layouts))
	for i := range resolved.Layouts {
		layout, ds := resolved.Layouts[i], datasets[i]
		producers[i] = func(_ context.Context, opts report.RenderOptions) ([]report.Figure, error) {
			return buildFigures(layout, ds, timeLayout, opts.Format)
		}
	}

	header := report.Header{
		Title:    task.Name,
		Subtitle: fmt.Sprintf("%s | %s - %s", resolved.Name, period.Start.Format("02/01/2006"), period.End.Add(-time.Second).Format("02/01/2006")),
	}
	stats, err = g.renderer.Render(ctx, pdfPath, header, producers)
	return stats, "", err
}

func (g *Generator) fetchLayout(
	ctx context.Context,
	resolved *template.Resolved,
	layout models.Layout,
	interval string,
	forced map[string]interface{},
	emit func(string, map[string]interface{}),
) (map[string]models.Dataset, error) {
	names := make([]string, 0, len(layout.Fetch))
	for name := range layout.Fetch {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]models.Dataset, len(names))
	for _, name := range names {
		merged := template.MergeOptions(
			map[string]interface{}{"interval": interval},
			resolved.QueryOptions(layout.Fetch[name]),
			forced,
		)
		opts, err := fetcher.OptionsFromMap(merged)
		if err != nil {
			return nil, err
		}
		ds, err := g.fetcher.Fetch(ctx, opts, func(event string, payload map[string]interface{}) {
			if payload == nil {
				payload = map[string]interface{}{}
			}
			payload["dataset"] = name
			emit(event, payload)
		})
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", name, err)
		}
		out[name] = *ds
	}
	return out, nil
}

// period is the job override or the full period preceding now.
func (g *Generator) period(data JobData) (models.Period, error) {
	if p := data.Period; p != nil {
		if !p.Start.Before(p.End) {
			return models.Period{}, models.NewArgumentError("period start must be before its end")
		}
		return models.Period{Start: p.Start.UTC(), End: p.End.UTC()}, nil
	}
	return recurrence.CalcPeriod(g.now(), data.Task.Recurrence)
}

// recordSuccess moves nextRun past now and logs the generation.
func (g *Generator) recordSuccess(data JobData, result *models.ReportResult) error {
	task := data.Task
	now := g.now()

	next := task.NextRun
	for !next.After(now) {
		n, err := recurrence.CalcNextDate(next, task.Recurrence)
		if err != nil {
			return err
		}
		next = n
	}

	entry := repository.NewHistoryEntry(task.ID, models.HistoryGenerationSuccess,
		fmt.Sprintf("Report generated at %s (origin: %s)", result.Detail.Files.Report, data.Origin),
		map[string]interface{}{
			"origin": data.Origin,
			"report": result.Detail.Files.Report,
			"detail": result.Detail.Files.Detail,
			"took":   result.Detail.Took,
		},
	)
	return g.tasks.EditWithHistory(task.ID, map[string]interface{}{
		"next_run": next,
		"last_run": now,
	}, entry)
}

// RecordFailure disables the task of a failed job and logs the failure in
// its history. It runs once, when the job has no retry left.
func (g *Generator) RecordFailure(data JobData, result *models.ReportResult) error {
	msg := "unknown error"
	if result != nil && result.Detail.Error != nil {
		msg = result.Detail.Error.Message
	}
	payload := map[string]interface{}{"origin": data.Origin, "error": msg}
	if result != nil {
		payload["detail"] = result.Detail.Files.Detail
	}

	entry := repository.NewHistoryEntry(data.Task.ID, models.HistoryGenerationError,
		fmt.Sprintf("Report generation failed (origin: %s): %s", data.Origin, msg),
		payload,
	)
	return g.tasks.EditWithHistory(data.Task.ID, map[string]interface{}{"enabled": false}, entry)
}
