package gateway

import (
	"net/http"

	"github.com/answerflow-ai/orchestrator/internal/journal"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	journal *journal.Journal
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(j *journal.Journal) *HealthHandler {
	return &HealthHandler{journal: j}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.journal.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "journal not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
