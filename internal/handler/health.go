package handler

import (
	"net/http"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Templates int               `json:"templates"`
	Services  map[string]string `json:"services"`
}

// Version is reported by the health endpoint.
var Version = "0.1.0"

// Health returns the health status of the service
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	services := map[string]string{
		"postgres": "healthy",
		"redis":    "healthy",
	}
	if err := h.db.HealthCheck(ctx); err != nil {
		services["postgres"] = "unhealthy"
	}
	if err := h.rdb.HealthCheck(ctx); err != nil {
		services["redis"] = "unhealthy"
	}

	status := "healthy"
	for _, s := range services {
		if s == "unhealthy" {
			status = "degraded"
			break
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{
		Status:    status,
		Version:   Version,
		Templates: h.batchSvc.TemplateCount(),
		Services:  services,
	})
}

// Ready returns whether the service is ready to accept requests
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.db.HealthCheck(ctx); err != nil {
		http.Error(w, "database not ready", http.StatusServiceUnavailable)
		return
	}
	if err := h.rdb.HealthCheck(ctx); err != nil {
		http.Error(w, "redis not ready", http.StatusServiceUnavailable)
		return
	}
	if h.batchSvc.TemplateCount() == 0 {
		http.Error(w, "no active templates", http.StatusServiceUnavailable)
		return
	}

	writeText(w, http.StatusOK, "OK")
}
