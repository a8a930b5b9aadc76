package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answerflow-ai/orchestrator/internal/backend"
	"github.com/answerflow-ai/orchestrator/internal/model"
	"github.com/answerflow-ai/orchestrator/pkg/logger"
)

// newGateway wires the query and stream handlers against a backend URL the
// way cmd/api does, without middleware.
func newGateway(backendURL string) http.Handler {
	log := logger.NewNop()
	client := backend.New(backendURL, 5*time.Second, log)

	queryHandler := NewQueryHandler(client, nil, log)
	streamHandler := NewStreamHandler(client, nil, time.Second, log)

	r := chi.NewRouter()
	r.Route("/api/query", func(r chi.Router) {
		r.Post("/initial", queryHandler.CreateInitial)
		r.Post("/followup", queryHandler.CreateFollowup)
		r.Post("/generate-followups", queryHandler.GenerateFollowups)
		r.Get("/{id}", queryHandler.Fetch)
		r.Get("/{id}/stream", streamHandler.Stream)
	})
	return r
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateInitialQuery(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/query/initial", r.URL.Path)
		json.NewEncoder(w).Encode(model.CreateQueryResponse{ID: "q-123"})
	}))
	defer upstream.Close()

	rec := postJSON(t, newGateway(upstream.URL), "/api/query/initial", `{"question":"what were sales in Q2?"}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var resp model.CreateQueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "q-123", resp.ID)
}

func TestCreateInitialQueryInvalidBody(t *testing.T) {
	rec := postJSON(t, newGateway("http://unused"), "/api/query/initial", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateInitialQueryEmptyQuestion(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer upstream.Close()

	rec := postJSON(t, newGateway(upstream.URL), "/api/query/initial", `{"question":"  "}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, hits.Load(), "validation failures are local and never forwarded")
}

func TestCreateInitialQueryBackendDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close()

	rec := postJSON(t, newGateway(upstream.URL), "/api/query/initial", `{"question":"hello?"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "backend service unavailable")
}

func TestCreateInitialQueryUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine exploded", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	rec := postJSON(t, newGateway(upstream.URL), "/api/query/initial", `{"question":"hello?"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var resp struct {
		Error          string `json:"error"`
		UpstreamStatus int    `json:"upstream_status"`
		UpstreamBody   string `json:"upstream_body"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "upstream failure", resp.Error)
	assert.Equal(t, http.StatusInternalServerError, resp.UpstreamStatus)
	assert.Equal(t, "engine exploded", resp.UpstreamBody)
}

func TestCreateFollowupQuery(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/query/followup", r.URL.Path)
		var req model.CreateQueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "conv-1", req.ConversationID)
		json.NewEncoder(w).Encode(model.CreateQueryResponse{ID: "q-456"})
	}))
	defer upstream.Close()

	rec := postJSON(t, newGateway(upstream.URL), "/api/query/followup",
		`{"question":"and Q3?","conversation_id":"conv-1"}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateFollowupQueryMissingConversationID(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer upstream.Close()

	rec := postJSON(t, newGateway(upstream.URL), "/api/query/followup", `{"question":"and Q3?"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "conversation id is required")
	assert.Zero(t, hits.Load())
}

func TestFetchQueryPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/query/q-123", r.URL.Path)
		json.NewEncoder(w).Encode(model.QuerySnapshot{
			CurrentQuery: model.Turn{ID: "q-123", ConversationID: "conv-1"},
			Conversation: []model.Turn{
				{ID: "q-122", Question: "first?"},
				{ID: "q-123", Question: "second?"},
			},
		})
	}))
	defer upstream.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/query/q-123", nil)
	rec := httptest.NewRecorder()
	newGateway(upstream.URL).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var snapshot model.QuerySnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	require.Len(t, snapshot.Conversation, 2)
	assert.Equal(t, "q-122", snapshot.Conversation[0].ID, "conversation order is preserved as returned")
}

func TestGenerateFollowupsPassthrough(t *testing.T) {
	raw := "FOLLOWUP1: A?\nFOLLOWUP2: B?"
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.GenerateFollowupsResponse{Followups: raw})
	}))
	defer upstream.Close()

	rec := postJSON(t, newGateway(upstream.URL), "/api/query/generate-followups",
		`{"question":"last?","conversation_id":"conv-1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp model.GenerateFollowupsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, raw, resp.Followups, "raw suggestion text passes through unreshaped")
}
