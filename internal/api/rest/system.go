package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GET /api/v1/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.GetCurrentStatus())
}
