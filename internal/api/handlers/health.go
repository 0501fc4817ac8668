// Package handlers provides HTTP handlers for the ops API.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docbridge/docbridge/internal/registry"
)

// HealthHandler serves the health and introspection endpoints over the
// instance registry.
type HealthHandler struct {
	registry *registry.Registry
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(reg *registry.Registry) *HealthHandler {
	return &HealthHandler{registry: reg}
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Instances map[string]string `json:"instances,omitempty"`
}

// Health handles the /health endpoint. The aggregate is healthy only when
// every registered instance answers its ping.
func (h *HealthHandler) Health(c *gin.Context) {
	healthy, results := h.registry.HealthCheck(c.Request.Context())

	instances := make(map[string]string, len(results))
	for name, err := range results {
		if err != nil {
			instances[name] = "unhealthy: " + err.Error()
		} else {
			instances[name] = "healthy"
		}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, HealthResponse{
		Status:    status,
		Instances: instances,
	})
}

// Ready handles the /ready endpoint. The service is ready once at least one
// instance is registered and all of them are healthy.
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.registry.Count() == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "no instances registered",
		})
		return
	}

	healthy, _ := h.registry.HealthCheck(c.Request.Context())
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "instance unhealthy",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// Live handles the /live endpoint.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}

// Metrics handles the /metrics endpoint, returning the per-instance
// connection metrics.
func (h *HealthHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"instances": h.registry.AllMetrics(),
	})
}

// Instances handles the /instances endpoint.
func (h *HealthHandler) Instances(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"count":     h.registry.Count(),
		"instances": h.registry.InstanceNames(),
	})
}
