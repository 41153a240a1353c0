package handlers

import (
	"net/http"
	"time"
)

// HealthCheck reports service health
// @Summary Health check
// @Description Returns storage health and circuit breaker states
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{} "Healthy"
// @Failure 503 {object} map[string]interface{} "Storage unavailable"
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	storageStatus := "ok"
	if err := h.storage.Health(); err != nil {
		status = http.StatusServiceUnavailable
		storageStatus = err.Error()
	}

	body := map[string]interface{}{
		"status":    storageStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.breakers != nil {
		body["circuit_breakers"] = h.breakers.AllStats()
	}

	writeJSON(w, status, body)
}
