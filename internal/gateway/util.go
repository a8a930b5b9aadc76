package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/answerflow-ai/orchestrator/internal/backend"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeBackendError maps backend client failures onto the gateway's error
// contract: 400 for local validation, 503 for transport failures the caller
// may retry, 502 for upstream failures carrying diagnostics.
func writeBackendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, backend.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())

	case backend.IsUnavailable(err):
		writeError(w, http.StatusServiceUnavailable, "backend service unavailable")

	default:
		if upstream, ok := backend.AsUpstream(err); ok {
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error":           "upstream failure",
				"upstream_status": upstream.StatusCode,
				"upstream_body":   upstream.Body,
			})
			return
		}
		var pe *backend.ParseError
		if errors.As(err, &pe) {
			writeError(w, http.StatusBadGateway, "invalid response from backend")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
