package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ventra-system/internal/alert"
)

type AlertHTTPHandler struct {
	alerts *alert.Service
	log    *zap.Logger
}

func NewAlertHTTPHandler(alertSvc *alert.Service, log *zap.Logger) *AlertHTTPHandler {
	return &AlertHTTPHandler{alerts: alertSvc, log: log}
}

func (h *AlertHTTPHandler) ListAlerts(c *gin.Context) {
	alerts, err := h.alerts.List(c.Request.Context(), tenantID(c), parseBoolQuery(c, "resolved"))
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, alerts)
}

type resolveAlertRequest struct {
	Note string `json:"note"`
}

func (h *AlertHTTPHandler) ResolveAlert(c *gin.Context) {
	alertID, err := parseInt64Param(c, "id")
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid alert id")
		return
	}

	var req resolveAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	resolved, err := h.alerts.Resolve(c.Request.Context(), tenantID(c), alertID, actorID(c), req.Note)
	if err != nil {
		writeError(c, err)
		return
	}
	success(c, resolved)
}
