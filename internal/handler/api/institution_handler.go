package api

import (
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"reportd/internal/models"
)

// InstitutionHandler exposes the institutions reports are generated for.
type InstitutionHandler struct {
	deps   *Deps
	logger *zap.Logger
}

func NewInstitutionHandler(deps *Deps, logger *zap.Logger) *InstitutionHandler {
	return &InstitutionHandler{deps: deps, logger: logger}
}

// List handles GET /api/institutions
func (h *InstitutionHandler) List(c echo.Context) error {
	list, err := h.deps.Institutions.FindAll()
	if err != nil {
		return handleError(c, h.logger, err)
	}
	if list == nil {
		list = []models.Institution{}
	}
	return successResponse(c, "Successful", list)
}

// Get handles GET /api/institutions/:id
func (h *InstitutionHandler) Get(c echo.Context) error {
	inst, err := h.deps.Institutions.FindByID(c.Param("id"))
	if err != nil {
		return handleError(c, h.logger, err)
	}
	return successResponse(c, "Successful", inst)
}

// Put handles PUT /api/institutions/:id
func (h *InstitutionHandler) Put(c echo.Context) error {
	var req models.PutInstitutionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return handleError(c, h.logger, err)
	}
	inst := &models.Institution{
		ID:       c.Param("id"),
		Name:     strings.TrimSpace(req.Name),
		Username: strings.TrimSpace(req.Username),
		Index:    strings.TrimSpace(req.Index),
	}
	if err := h.deps.Institutions.Upsert(inst); err != nil {
		return handleError(c, h.logger, err)
	}
	h.logger.Info("Institution saved", zap.String("institution", inst.ID), zap.String("origin", origin(c)))
	return h.Get(c)
}
