package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"

	contextUserIDKey = "user_id"
)

// UserRequired resolves the authenticated user from the identity headers set
// by the edge proxy. The user row and its zero balance are created on first
// sight, so every downstream handler can assume both exist.
func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		email := strings.TrimSpace(c.GetHeader(HeaderUserEmail))

		user, err := s.identitySvc.EnsureUser(c.Request.Context(), userID, email)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextUserIDKey, user.ID)
		c.Next()
	}
}

func (s *Server) currentUserID(c *gin.Context) string {
	return c.GetString(contextUserIDKey)
}

// AnonymousRateLimit admits unauthenticated requests per client IP. The
// limiter state is process local; see ratelimit.FixedWindowLimiter.
func (s *Server) AnonymousRateLimit(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := s.anonLimiter.Allow(c.ClientIP())

		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		if !result.Allowed {
			retryAfter := result.ResetAt.Sub(s.clock.Now())
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds())+1, 10))
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), endpoint)
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "rate limit exceeded",
			}})
			return
		}

		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitAllowed(c.Request.Context(), endpoint)
		}
		c.Next()
	}
}
