package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hireloop/hireloop/internal/metering"
)

// FreeAnalysis runs one unauthenticated, uncharged analysis. The per-IP rate
// limit on the route is the only admission control; the ledger is never
// touched.
func (s *Server) FreeAnalysis(c *gin.Context) {
	if s.actionRunner == nil {
		c.JSON(http.StatusOK, gin.H{"action": metering.ActionAnalysis, "status": "accepted"})
		return
	}

	input, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	output, err := s.actionRunner.Run(c.Request.Context(), "", metering.ActionAnalysis, input)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"action": metering.ActionAnalysis,
		"result": output,
	})
}
