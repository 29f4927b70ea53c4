package api

import (
	"time"

	"StockAlert/internal/domain/models"
	xhttp "StockAlert/pkg/http"
	"StockAlert/pkg/util"

	"github.com/labstack/echo/v4"
)

func (h *Handler) CreateAlert(c echo.Context) error {
	req := &CreateAlertRequest{}
	if verr := xhttp.BindAndValidate(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	a, err := h.alerts.Create(c.Request().Context(), req.toModel(ownerID(c)))
	if err != nil {
		return h.errorResponse(c, "create alert", err)
	}
	return xhttp.CreatedResponse(c, toAlertResponse(a))
}

func (h *Handler) ListAlerts(c echo.Context) error {
	req := &ListAlertsQuery{}
	if verr := xhttp.BindAndValidate(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	alerts, err := h.alerts.List(c.Request().Context(), ownerID(c), models.AlertStatus(req.Status))
	if err != nil {
		return h.errorResponse(c, "list alerts", err)
	}
	rows := make([]AlertResponse, 0, len(alerts))
	for _, a := range alerts {
		rows = append(rows, toAlertResponse(a))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *Handler) GetAlert(c echo.Context) error {
	a, err := h.alerts.Get(c.Request().Context(), ownerID(c), c.Param("id"))
	if err != nil {
		return h.errorResponse(c, "get alert", err)
	}
	return xhttp.SuccessResponse(c, toAlertResponse(a))
}

func (h *Handler) UpdateAlert(c echo.Context) error {
	req := &UpdateAlertRequest{}
	if verr := xhttp.BindAndValidate(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	a, err := h.alerts.Update(c.Request().Context(), ownerID(c), c.Param("id"), req.toUpdate())
	if err != nil {
		return h.errorResponse(c, "update alert", err)
	}
	return xhttp.SuccessResponse(c, toAlertResponse(a))
}

func (h *Handler) DeleteAlert(c echo.Context) error {
	if err := h.alerts.Delete(c.Request().Context(), ownerID(c), c.Param("id")); err != nil {
		return h.errorResponse(c, "delete alert", err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *Handler) PauseAlert(c echo.Context) error {
	a, err := h.alerts.Pause(c.Request().Context(), ownerID(c), c.Param("id"))
	if err != nil {
		return h.errorResponse(c, "pause alert", err)
	}
	return xhttp.SuccessResponse(c, toAlertResponse(a))
}

func (h *Handler) ResumeAlert(c echo.Context) error {
	a, err := h.alerts.Resume(c.Request().Context(), ownerID(c), c.Param("id"))
	if err != nil {
		return h.errorResponse(c, "resume alert", err)
	}
	return xhttp.SuccessResponse(c, toAlertResponse(a))
}

func (h *Handler) ResetAlert(c echo.Context) error {
	a, err := h.alerts.Reset(c.Request().Context(), ownerID(c), c.Param("id"))
	if err != nil {
		return h.errorResponse(c, "reset alert", err)
	}
	return xhttp.SuccessResponse(c, toAlertResponse(a))
}

func (h *Handler) TriggerAlert(c echo.Context) error {
	req := &TriggerRequest{}
	if verr := xhttp.BindAndValidate(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rec, err := h.alerts.TriggerCustom(c.Request().Context(), ownerID(c), c.Param("id"), req.Price)
	if err != nil {
		return h.errorResponse(c, "trigger alert", err)
	}
	return xhttp.SuccessResponse(c, toTriggerResponse(rec))
}

func (h *Handler) AlertHistory(c echo.Context) error {
	req := &HistoryQuery{}
	if verr := xhttp.BindAndValidate(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	var since time.Time
	if req.Since != "" {
		t, ok := util.ParseTime(req.Since)
		if !ok {
			return xhttp.BadRequestResponse(c, []xhttp.ValidationError{{
				Code:    "ERR_FORMAT",
				Field:   "since",
				Message: "since must be RFC3339 or a unix timestamp",
			}})
		}
		since = t
	}
	recs, err := h.alerts.History(c.Request().Context(), ownerID(c), c.Param("id"), req.Limit)
	if err != nil {
		return h.errorResponse(c, "alert history", err)
	}
	rows := make([]TriggerRecordResponse, 0, len(recs))
	for _, r := range recs {
		if r.TriggeredAt.Before(since) {
			continue
		}
		rows = append(rows, toTriggerResponse(r))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}
