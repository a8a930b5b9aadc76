package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/answerflow-ai/orchestrator/internal/backend"
	"github.com/answerflow-ai/orchestrator/internal/journal"
	"github.com/answerflow-ai/orchestrator/internal/middleware"
	"github.com/answerflow-ai/orchestrator/internal/relay"
	"github.com/answerflow-ai/orchestrator/pkg/logger"
)

// StreamHandler relays a query's upstream event stream to the client as SSE.
type StreamHandler struct {
	backend     *backend.Client
	journal     *journal.Journal
	idleTimeout time.Duration
	logger      *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(client *backend.Client, j *journal.Journal, idleTimeout time.Duration, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		backend:     client,
		journal:     j,
		idleTimeout: idleTimeout,
		logger:      log,
	}
}

// Stream handles GET /api/query/{id}/stream
//
// Upstream frames are forwarded unmodified as discrete SSE data frames. The
// client always observes exactly one terminal event: either the upstream's
// own, or a synthesized error when the upstream could not be reached or was
// lost mid-stream.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	queryID := chi.URLParam(r, "id")

	if err := middleware.ValidateQueryID(queryID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	session := relay.Open(ctx, h.backend, queryID, h.idleTimeout, h.logger)
	defer session.Close()

	for frame := range session.Events() {
		select {
		case <-ctx.Done():
			// Client disconnected; tear the upstream down promptly.
			h.logger.Info("stream client disconnected", zap.String("query_id", queryID))
			return
		default:
		}

		fmt.Fprintf(w, "data: %s\n\n", frame.Raw)
		flusher.Flush()

		if frame.Event.End {
			h.journal.RecordTurn(ctx, queryID, "", journal.EventCompleted, "", "")
		} else if frame.Event.Err != "" {
			h.journal.RecordTurn(ctx, queryID, "", journal.EventErrored, "", frame.Event.Err)
		}
	}
}
