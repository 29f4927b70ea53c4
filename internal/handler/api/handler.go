package api

import (
	"context"
	"errors"

	"StockAlert/internal/domain/models"
	"StockAlert/internal/usecase"
	xhttp "StockAlert/pkg/http"
	xlogger "StockAlert/pkg/logger"
	"StockAlert/pkg/worker"

	"github.com/labstack/echo/v4"
)

// AlertManager is the owner-facing alert service.
type AlertManager interface {
	Create(ctx context.Context, a *models.Alert) (*models.Alert, error)
	Get(ctx context.Context, userID, id string) (*models.Alert, error)
	List(ctx context.Context, userID string, status models.AlertStatus) ([]*models.Alert, error)
	Update(ctx context.Context, userID, id string, u usecase.AlertUpdate) (*models.Alert, error)
	Pause(ctx context.Context, userID, id string) (*models.Alert, error)
	Resume(ctx context.Context, userID, id string) (*models.Alert, error)
	Reset(ctx context.Context, userID, id string) (*models.Alert, error)
	Delete(ctx context.Context, userID, id string) error
	TriggerCustom(ctx context.Context, userID, id string, price float64) (*models.AlertTriggerRecord, error)
	History(ctx context.Context, userID, id string, limit int) ([]*models.AlertTriggerRecord, error)
}

type HealthReporter interface {
	Health() []worker.Health
}

type PriceReader interface {
	Get(ctx context.Context, instrumentKey string) (*usecase.PriceSnapshot, error)
}

// Handler serves the admin API. workers and prices may be nil in processes
// that do not run them.
type Handler struct {
	logger    *xlogger.Logger
	alerts    AlertManager
	workers   HealthReporter
	prices    PriceReader
	jwtSecret string
}

var _ xhttp.Handler = (*Handler)(nil)

func NewHandler(logger *xlogger.Logger, alerts AlertManager, workers HealthReporter, prices PriceReader, jwtSecret string) *Handler {
	return &Handler{logger: logger, alerts: alerts, workers: workers, prices: prices, jwtSecret: jwtSecret}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)

	g := e.Group("/api")
	g.GET("/workers", h.Workers)
	g.GET("/prices/:key", h.Price)

	a := g.Group("/alerts", Owner(h.jwtSecret))
	a.POST("", h.CreateAlert)
	a.GET("", h.ListAlerts)
	a.GET("/:id", h.GetAlert)
	a.PATCH("/:id", h.UpdateAlert)
	a.DELETE("/:id", h.DeleteAlert)
	a.POST("/:id/pause", h.PauseAlert)
	a.POST("/:id/resume", h.ResumeAlert)
	a.POST("/:id/reset", h.ResetAlert)
	a.POST("/:id/trigger", h.TriggerAlert)
	a.GET("/:id/history", h.AlertHistory)
}

// errorResponse maps domain errors onto API errors. Anything unrecognised is
// logged and reported as a 500.
func (h *Handler) errorResponse(c echo.Context, op string, err error) error {
	var appErr *xhttp.AppError
	switch {
	case errors.Is(err, models.ErrNotFound):
		appErr = xhttp.NotFoundError("alert not found")
	case errors.Is(err, models.ErrForbidden):
		appErr = xhttp.ForbiddenError("alert belongs to another user")
	case errors.Is(err, models.ErrInvalidAlert):
		appErr = xhttp.UnprocessableError(err.Error())
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrNotTriggerable):
		appErr = xhttp.ConflictError(err.Error())
	case errors.Is(err, models.ErrStale):
		appErr = xhttp.ConflictError("alert was modified concurrently, retry")
	default:
		h.logger.Error(op+" failed", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.AppErrorResponse(c, appErr.WithError(err))
}
