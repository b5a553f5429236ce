package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"reportd/internal/models"
	"reportd/internal/queue"
	"reportd/internal/repository"
	"reportd/internal/template"
)

// OriginHeader names the user a request is made for.
const OriginHeader = "X-Username"

var validate = validator.New()

// Deps bundles what the API handlers need.
type Deps struct {
	Tasks        *repository.TaskRepository
	Institutions *repository.InstitutionRepository
	Templates    *template.Registry
	Queues       *queue.Manager
}

func successResponse(c echo.Context, msg string, obj interface{}) error {
	return c.JSON(http.StatusOK, models.APIResponse{
		Status: true,
		Msg:    msg,
		Obj:    obj,
	})
}

func errorResponse(c echo.Context, code int, msg string) error {
	return c.JSON(code, models.APIResponse{
		Status: false,
		Msg:    msg,
		Obj:    nil,
	})
}

// handleError maps error kinds to status codes. Unexpected errors are logged
// and hidden from the caller.
func handleError(c echo.Context, logger *zap.Logger, err error) error {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return errorResponse(c, http.StatusBadRequest, validationMessage(verrs))
	case models.IsArgument(err):
		return errorResponse(c, http.StatusBadRequest, err.Error())
	case models.IsNotFound(err):
		return errorResponse(c, http.StatusNotFound, err.Error())
	default:
		logger.Error("API request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return errorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}

// bindAndValidate decodes the JSON body into v and runs its validate tags.
func bindAndValidate(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return models.NewArgumentError("invalid request body")
	}
	return validate.Struct(v)
}

func validationMessage(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("Invalid %s: %s", fe.Field(), tagMessage(fe.Tag())))
	}
	return strings.Join(msgs, "; ")
}

func tagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "email":
		return "invalid email format"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

// origin is the requesting user, "api" when the header is absent.
func origin(c echo.Context) string {
	if user := strings.TrimSpace(c.Request().Header.Get(OriginHeader)); user != "" {
		return user
	}
	return "api"
}
