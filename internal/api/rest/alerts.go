package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenMachineMonitor/internal/auth"
	"github.com/KevinKickass/OpenMachineMonitor/internal/storage"
	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GET /api/v1/alerts/recent
func (s *Server) getRecentAlerts(c *gin.Context) {
	alerts := s.monitor.RecentAlerts()
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// POST /api/v1/alerts/:id/acknowledge
func (s *Server) acknowledgeAlert(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid alert id", err.Error()))
		return
	}

	by := auth.Username(c)
	alert, err := s.monitor.AcknowledgeAlert(c.Request.Context(), id, by)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrAlertNotFound):
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeNotFound, "Alert not found", id.String()))
		return
	case errors.Is(err, storage.ErrAlreadyAcknowledged):
		c.JSON(http.StatusConflict, types.NewErrorResponse(types.CodeConflict, "Alert already acknowledged", id.String()))
		return
	default:
		s.logger.Error("Failed to acknowledge alert",
			zap.String("alert_id", id.String()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeInternal, "Failed to acknowledge alert", nil))
		return
	}

	s.logger.Info("Alert acknowledged",
		zap.String("alert_id", id.String()),
		zap.String("by", by))

	c.JSON(http.StatusOK, alert)
}
