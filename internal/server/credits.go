package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	ledgerdomain "github.com/hireloop/hireloop/internal/ledger/domain"
)

const (
	defaultEntriesLimit = 50
	maxEntriesLimit     = 200
)

func (s *Server) GetBalance(c *gin.Context) {
	balance, err := s.ledgerSvc.Balance(c.Request.Context(), s.currentUserID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": s.currentUserID(c),
		"balance": balance,
	})
}

func (s *Server) ListEntries(c *gin.Context) {
	limit := defaultEntriesLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid value"))
			return
		}
		limit = parsed
	}
	if limit > maxEntriesLimit {
		limit = maxEntriesLimit
	}

	entries, err := s.ledgerSvc.Entries(c.Request.Context(), s.currentUserID(c), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if entries == nil {
		entries = []ledgerdomain.Entry{}
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
