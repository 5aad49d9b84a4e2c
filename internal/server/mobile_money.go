package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type initiateMobileMoneyRequest struct {
	PackageType string `json:"package_type"`
	Phone       string `json:"phone"`
}

func (s *Server) InitiateMobileMoney(c *gin.Context) {
	var req initiateMobileMoneyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.checkoutSvc.InitiateMobileMoney(c.Request.Context(), s.currentUserID(c), req.PackageType, req.Phone)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// PollMobileMoney reports the session status, reconciling a terminal gateway
// verdict on the way. Clients poll until the status leaves "pending".
func (s *Server) PollMobileMoney(c *gin.Context) {
	checkoutRef := strings.TrimSpace(c.Param("checkoutRef"))

	status, err := s.paymentSvc.PollMobileMoney(c.Request.Context(), s.currentUserID(c), checkoutRef)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"checkout_ref": checkoutRef,
		"status":       status,
	})
}
