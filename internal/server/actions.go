package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	ledgerdomain "github.com/hireloop/hireloop/internal/ledger/domain"
	"github.com/hireloop/hireloop/internal/metering"
)

// RunAction charges the action's credit price and, when authorized, dispatches
// the work to the configured runner. The body is consumed before the charge so
// a broken request cannot leave the user debited for work that never ran, and
// the charge happens before dispatch so an action is never run on an unpaid
// debit.
func (s *Server) RunAction(c *gin.Context) {
	action := metering.Action(strings.TrimSpace(c.Param("action")))

	input, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.meteringSvc.Charge(c.Request.Context(), s.currentUserID(c), action)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !result.Authorized {
		AbortWithError(c, ledgerdomain.ErrInsufficientCredits)
		return
	}

	response := gin.H{
		"authorized": true,
		"action":     result.Action,
		"cost":       result.Cost,
		"balance":    result.Balance,
	}

	if s.actionRunner != nil {
		output, err := s.actionRunner.Run(c.Request.Context(), s.currentUserID(c), action, input)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		response["result"] = output
	}

	c.JSON(http.StatusOK, response)
}
