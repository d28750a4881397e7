package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const deviceIDKey = "device_id"

type authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (deviceID string, ok bool)
}

type AuthMiddleware struct {
	auth authenticator
}

func NewAuthMiddleware(a authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: a}
}

// Handle checks X-API-Key. A key bound to a device stores that device on
// the context; fleet-wide keys store nothing.
func (m *AuthMiddleware) Handle(c *gin.Context) {
	apiKey := c.GetHeader("X-API-Key")
	if apiKey == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-API-Key header"})
		return
	}

	deviceID, ok := m.auth.Authenticate(c.Request.Context(), apiKey)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
		return
	}
	if deviceID != "" {
		c.Set(deviceIDKey, deviceID)
	}
	c.Next()
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			log.Warn("request failed", fields...)
			return
		}
		log.Debug("request", fields...)
	}
}
