package server

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// HeaderAccount carries the account id resolved by the upstream
	// auth layer.
	HeaderAccount = "X-Account-Id"

	contextAccountIDKey = "account_id"
)

// RequestLogger emits one structured line per request.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	logger := log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// AccountRequired rejects requests without a resolved account id.
func (s *Server) AccountRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := strings.TrimSpace(c.GetHeader(HeaderAccount))
		if accountID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextAccountIDKey, accountID)
		c.Next()
	}
}

// ChargeRateLimit throttles charges per account when redis is configured.
func (s *Server) ChargeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.chargeLimiter.Enabled() {
			c.Next()
			return
		}

		allowed, err := s.chargeLimiter.Allow(c.Request.Context(), accountID(c))
		if err != nil {
			// limiter outages must not block billing
			s.log.Warn("charge rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

func accountID(c *gin.Context) string {
	return c.GetString(contextAccountIDKey)
}
