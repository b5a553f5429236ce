package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"reportd/internal/handler/api"
	"reportd/internal/middleware"
)

// Setup configures all routes for the Echo server.
func Setup(e *echo.Echo, db *gorm.DB, deps *api.Deps, logger *zap.Logger, apiKey string) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.CORS())

	taskHandler := api.NewTaskHandler(deps, logger)
	queueHandler := api.NewQueueHandler(deps, logger)
	templateHandler := api.NewTemplateHandler(deps, logger)
	institutionHandler := api.NewInstitutionHandler(deps, logger)

	apiGroup := e.Group("/api")
	apiGroup.Use(middleware.APIAuth(apiKey))
	apiGroup.Use(middleware.RequestLogger(logger))

	apiGroup.GET("/tasks", taskHandler.List)
	apiGroup.POST("/tasks", taskHandler.Create)
	apiGroup.GET("/tasks/:id", taskHandler.Get)
	apiGroup.PUT("/tasks/:id", taskHandler.Update)
	apiGroup.DELETE("/tasks/:id", taskHandler.Delete)
	apiGroup.POST("/tasks/:id/run", taskHandler.Run)
	apiGroup.POST("/tasks/:id/enable", taskHandler.Enable)
	apiGroup.POST("/tasks/:id/disable", taskHandler.Disable)
	apiGroup.POST("/tasks/:id/unsubscribe", taskHandler.Unsubscribe)

	apiGroup.GET("/queues/:queue/jobs", queueHandler.ListJobs)
	apiGroup.GET("/queues/:queue/jobs/:id", queueHandler.GetJob)
	apiGroup.POST("/queues/:queue/jobs/:id/retry", queueHandler.RetryJob)
	apiGroup.PUT("/queues/:queue/pause", queueHandler.Pause)
	apiGroup.PUT("/queues/:queue/resume", queueHandler.Resume)

	apiGroup.GET("/templates", templateHandler.List)
	apiGroup.GET("/templates/:id", templateHandler.Get)

	apiGroup.GET("/institutions", institutionHandler.List)
	apiGroup.GET("/institutions/:id", institutionHandler.Get)
	apiGroup.PUT("/institutions/:id", institutionHandler.Put)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		status := "ok"
		code := http.StatusOK
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request().Context()) != nil {
			status = "database unavailable"
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, map[string]string{"status": status})
	})
}
