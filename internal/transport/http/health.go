package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type connectedChecker interface {
	IsConnected() bool
}

// HealthChecker reports the status of the stores and, when enabled, the
// MQTT connection.
type HealthChecker struct {
	postgres pinger
	redis    pinger
	mqtt     connectedChecker
}

// NewHealthChecker accepts a nil mqtt when MQTT ingest is disabled.
func NewHealthChecker(postgres, redis pinger, mqtt connectedChecker) *HealthChecker {
	return &HealthChecker{postgres: postgres, redis: redis, mqtt: mqtt}
}

func (h *HealthChecker) Register(r *gin.Engine) {
	r.GET("/healthz", h.Handle)
}

func (h *HealthChecker) Handle(c *gin.Context) {
	status := http.StatusOK
	deps := gin.H{}

	check := func(name string, err error) {
		if err != nil {
			deps[name] = gin.H{"status": "down", "error": err.Error()}
			status = http.StatusServiceUnavailable
			return
		}
		deps[name] = gin.H{"status": "up"}
	}

	check("postgres", h.postgres.Ping(c.Request.Context()))
	check("redis", h.redis.Ping(c.Request.Context()))

	if h.mqtt != nil {
		if !h.mqtt.IsConnected() {
			deps["mqtt"] = gin.H{"status": "down", "error": "not connected"}
			status = http.StatusServiceUnavailable
		} else {
			deps["mqtt"] = gin.H{"status": "up"}
		}
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":       overall,
		"dependencies": deps,
	})
}
