package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/pipeline"
	"fleet-monitor/telematics/internal/transport"
)

type ingester interface {
	Ingest(fix domain.PositionFix) error
}

type ingestResponse struct {
	Accepted int    `json:"accepted"`
	Dropped  int    `json:"dropped"`
	Error    string `json:"error,omitempty"`
}

type PositionHandler struct {
	engine ingester
	log    *zap.Logger
}

func NewPositionHandler(engine ingester, log *zap.Logger) *PositionHandler {
	return &PositionHandler{engine: engine, log: log}
}

func (h *PositionHandler) Register(r *gin.RouterGroup) {
	r.POST("/positions", h.PostPositions)
}

// PostPositions takes one fix or an array of fixes. A device-bound key
// may only post for its own device, and fills device_id when omitted.
func (h *PositionHandler) PostPositions(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	fixes, err := transport.DecodeFixes(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if bound := c.GetString(deviceIDKey); bound != "" {
		for i := range fixes {
			if fixes[i].DeviceID == "" {
				fixes[i].DeviceID = bound
			}
			if fixes[i].DeviceID != bound {
				c.JSON(http.StatusForbidden, gin.H{"error": "API key is not valid for device " + fixes[i].DeviceID})
				return
			}
		}
	}

	resp := ingestResponse{}
	for _, fix := range fixes {
		err := h.engine.Ingest(fix)
		switch {
		case err == nil:
			resp.Accepted++
		case errors.Is(err, pipeline.ErrQueueFull):
			resp.Dropped++
		case errors.Is(err, pipeline.ErrEngineClosed):
			resp.Error = "engine is shutting down"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		default:
			h.log.Error("ingest failed", zap.String("device_id", fix.DeviceID), zap.Error(err))
			resp.Dropped++
		}
	}

	if resp.Dropped > 0 {
		resp.Error = "device queue full, retry later"
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}
