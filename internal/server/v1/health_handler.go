package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/chat-relay/internal/gateway"
	"github.com/nulzo/chat-relay/internal/version"
	"github.com/nulzo/chat-relay/pkg/api"
)

type HealthHandler struct {
	service   gateway.Service
	startTime time.Time
}

func NewHealthHandler(service gateway.Service) *HealthHandler {
	return &HealthHandler{
		service:   service,
		startTime: time.Now(),
	}
}

// Health returns the health status and the configured provider routes.
func (h *HealthHandler) Health(c *gin.Context) {
	profiles := h.service.Profiles()
	ids := make([]string, 0, len(profiles))
	for _, p := range profiles {
		ids = append(ids, p.ID)
	}

	c.JSON(http.StatusOK, api.HealthResponse{
		Status:    "healthy",
		Version:   version.Current,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Providers: ids,
	})
}
