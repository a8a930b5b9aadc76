// Package gateway exposes the stable HTTP contract of the orchestration
// layer. Every operation validates locally, forwards once to the backend
// client, and translates failures into the gateway error taxonomy. No
// retries happen here and no conversation state is held here.
package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/answerflow-ai/orchestrator/internal/backend"
	"github.com/answerflow-ai/orchestrator/internal/journal"
	"github.com/answerflow-ai/orchestrator/internal/middleware"
	"github.com/answerflow-ai/orchestrator/internal/model"
	"github.com/answerflow-ai/orchestrator/pkg/logger"
	"github.com/answerflow-ai/orchestrator/pkg/metrics"
)

// QueryHandler handles query creation, inspection, and suggestion endpoints.
type QueryHandler struct {
	backend *backend.Client
	journal *journal.Journal
	logger  *logger.Logger
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(client *backend.Client, j *journal.Journal, log *logger.Logger) *QueryHandler {
	return &QueryHandler{
		backend: client,
		journal: j,
		logger:  log,
	}
}

// CreateInitial handles POST /api/query/initial
func (h *QueryHandler) CreateInitial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.CreateQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateQuestion(req.Question); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.backend.CreateInitialQuery(ctx, req.Question)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("initial", "error").Inc()
		h.logger.Warn("initial query creation failed", zap.Error(err))
		writeBackendError(w, err)
		return
	}

	metrics.QueriesTotal.WithLabelValues("initial", "ok").Inc()
	h.journal.RecordTurn(ctx, id, "", journal.EventCreated, req.Question, "")
	h.logger.Info("initial query created", zap.String("query_id", id))

	writeJSON(w, http.StatusCreated, model.CreateQueryResponse{ID: id})
}

// CreateFollowup handles POST /api/query/followup
func (h *QueryHandler) CreateFollowup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.CreateQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// A missing conversation id is a local failure, never forwarded.
	if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateQuestion(req.Question); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.backend.CreateFollowupQuery(ctx, req.Question, req.ConversationID)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("followup", "error").Inc()
		h.logger.Warn("follow-up query creation failed",
			zap.String("conversation_id", req.ConversationID), zap.Error(err))
		writeBackendError(w, err)
		return
	}

	metrics.QueriesTotal.WithLabelValues("followup", "ok").Inc()
	h.journal.RecordTurn(ctx, id, req.ConversationID, journal.EventCreated, req.Question, "")
	h.logger.Info("follow-up query created",
		zap.String("query_id", id), zap.String("conversation_id", req.ConversationID))

	writeJSON(w, http.StatusCreated, model.CreateQueryResponse{ID: id})
}

// Fetch handles GET /api/query/{id}
//
// The backend payload is passed through unreshaped; conversation order is
// preserved exactly as returned.
func (h *QueryHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	queryID := chi.URLParam(r, "id")

	if err := middleware.ValidateQueryID(queryID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snapshot, err := h.backend.FetchQuery(ctx, queryID)
	if err != nil {
		h.logger.Warn("query fetch failed", zap.String("query_id", queryID), zap.Error(err))
		writeBackendError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// GenerateFollowups handles POST /api/query/generate-followups
//
// The raw suggestion text is passed through unchanged; parsing it into a
// batch is the backend client's job and happens on the consuming side.
func (h *QueryHandler) GenerateFollowups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.GenerateFollowupsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	raw, err := h.backend.GenerateFollowups(ctx, req.ConversationID, req.Question)
	if err != nil {
		h.logger.Warn("follow-up generation failed",
			zap.String("conversation_id", req.ConversationID), zap.Error(err))
		writeBackendError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.GenerateFollowupsResponse{Followups: raw})
}
