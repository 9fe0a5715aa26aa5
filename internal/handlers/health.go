package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse reports the state of the transport and the session store
type HealthResponse struct {
	Status    string            `json:"status"`
	Transport string            `json:"transport"`
	Checks    map[string]string `json:"checks"`
	Sessions  int               `json:"sessions"`
	Rooms     int               `json:"rooms"`
	Timestamp time.Time         `json:"timestamp"`
}

// HealthCheck reports service health
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse "A dependency is unhealthy"
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Transport: h.transport.Name(),
		Checks:    make(map[string]string),
		Sessions:  len(h.service.Sessions()),
		Rooms:     len(h.service.Rooms()),
		Timestamp: time.Now(),
	}

	if err := h.transport.Health(); err != nil {
		resp.Status = "unhealthy"
		resp.Checks["transport"] = err.Error()
	} else {
		resp.Checks["transport"] = "ok"
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := h.store.Health(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Checks["storage"] = err.Error()
		} else {
			resp.Checks["storage"] = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
