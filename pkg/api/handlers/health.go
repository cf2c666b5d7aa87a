package handlers

import (
	"net/http"
	"time"
)

// HealthHandler handles the liveness endpoint.
type HealthHandler struct{}

// NewHealthHandler creates a new health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// Liveness handles GET /healthz.
//
// Returns 200 OK as long as the HTTP server is responsive. Designed for
// Kubernetes liveness probes.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "waypost",
		"timestamp": time.Now().UTC(),
	})
}
