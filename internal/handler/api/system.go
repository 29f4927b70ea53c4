package api

import (
	"errors"
	"net/http"

	"StockAlert/internal/domain/models"
	xhttp "StockAlert/pkg/http"
	"StockAlert/pkg/worker"

	"github.com/labstack/echo/v4"
)

func (h *Handler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Workers reports supervision state; 503 when any worker has failed.
func (h *Handler) Workers(c echo.Context) error {
	if h.workers == nil {
		return xhttp.SuccessResponse(c, []worker.Health{})
	}
	health := h.workers.Health()
	for _, w := range health {
		if w.State == worker.StateFailed {
			return xhttp.DataResponse(c, http.StatusServiceUnavailable, health)
		}
	}
	return xhttp.SuccessResponse(c, health)
}

func (h *Handler) Price(c echo.Context) error {
	if h.prices == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("prices are not published by this process"))
	}
	snap, err := h.prices.Get(c.Request().Context(), c.Param("key"))
	if errors.Is(err, models.ErrNotFound) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no price for instrument"))
	}
	if err != nil {
		return h.errorResponse(c, "price snapshot", err)
	}
	return xhttp.SuccessResponse(c, snap)
}
