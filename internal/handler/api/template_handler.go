package api

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type templateSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Layouts int    `json:"layouts"`
}

// TemplateHandler lists the registered report templates.
type TemplateHandler struct {
	deps   *Deps
	logger *zap.Logger
}

func NewTemplateHandler(deps *Deps, logger *zap.Logger) *TemplateHandler {
	return &TemplateHandler{deps: deps, logger: logger}
}

// List handles GET /api/templates
func (h *TemplateHandler) List(c echo.Context) error {
	defs := h.deps.Templates.List()
	out := make([]templateSummary, 0, len(defs))
	for _, def := range defs {
		out = append(out, templateSummary{ID: def.ID, Name: def.Name, Layouts: len(def.Layouts)})
	}
	return successResponse(c, "Successful", out)
}

// Get handles GET /api/templates/:id
func (h *TemplateHandler) Get(c echo.Context) error {
	def, err := h.deps.Templates.Get(c.Param("id"))
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return successResponse(c, "Successful", def)
}
