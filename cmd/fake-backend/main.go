// Package main is a development stub for the query execution backend. It
// implements the backend's HTTP contract (create, fetch, stream, and
// generate-followups), answering with a canned engine by default, or a real
// LLM when an API key is set.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/answerflow-ai/orchestrator/internal/answerer"
	"github.com/answerflow-ai/orchestrator/internal/model"
	"github.com/answerflow-ai/orchestrator/pkg/logger"
)

type server struct {
	store    *store
	answerer answerer.Client
	logger   *logger.Logger
}

func main() {
	log, err := logger.New(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	engine := pickEngine(log)
	log.Info("starting fake backend", zap.String("engine", engine.Name()))

	srv := &server{
		store:    newStore(),
		answerer: engine,
		logger:   log,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Post("/api/query/initial", srv.createInitial)
	r.Post("/api/query/followup", srv.createFollowup)
	r.Post("/api/query/generate-followups", srv.generateFollowups)
	r.Get("/api/query/{id}", srv.fetch)
	r.Get("/api/query/{id}/stream", srv.stream)

	port := getEnv("PORT", "8000")
	httpServer := &http.Server{
		Addr:        ":" + port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("fake backend listening", zap.String("port", port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
}

func pickEngine(log *logger.Logger) answerer.Client {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		if c, err := answerer.NewClient(answerer.ProviderAnthropic, key); err == nil {
			return c
		}
		log.Warn("failed to create Anthropic engine, falling back to canned")
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c, err := answerer.NewClient(answerer.ProviderOpenAI, key); err == nil {
			return c
		}
		log.Warn("failed to create OpenAI engine, falling back to canned")
	}
	return answerer.NewCannedClient()
}

func (s *server) createInitial(w http.ResponseWriter, r *http.Request) {
	var req model.CreateQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	rec := s.store.create(req.Question, "")
	go s.answer(rec)

	writeJSON(w, http.StatusOK, model.CreateQueryResponse{ID: rec.id})
}

func (s *server) createFollowup(w http.ResponseWriter, r *http.Request) {
	var req model.CreateQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}
	if req.ConversationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "conversation id is required"})
		return
	}
	if !s.store.conversationExists(req.ConversationID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}

	rec := s.store.create(req.Question, req.ConversationID)
	go s.answer(rec)

	writeJSON(w, http.StatusOK, model.CreateQueryResponse{ID: rec.id})
}

func (s *server) fetch(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.store.get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "query not found"})
		return
	}

	writeJSON(w, http.StatusOK, model.QuerySnapshot{
		CurrentQuery: rec.turn(true),
		Conversation: s.store.conversationTurns(rec.conversationID),
	})
}

func (s *server) generateFollowups(w http.ResponseWriter, r *http.Request) {
	var req model.GenerateFollowupsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	raw, err := s.answerer.Followups(r.Context(), req.Question)
	if err != nil {
		s.logger.Warn("followup generation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "followup generation failed"})
		return
	}

	writeJSON(w, http.StatusOK, model.GenerateFollowupsResponse{Followups: raw})
}

// stream replays buffered tokens, then live ones, then exactly one terminal
// frame, as data-only SSE messages.
func (s *server) stream(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.store.get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "query not found"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	ctx := r.Context()
	offset := 0
	for {
		tokens, status, errMsg, wait := rec.snapshot(offset)

		for _, token := range tokens {
			sendEvent(w, flusher, model.StreamEvent{Content: token})
		}
		offset += len(tokens)

		if status == model.StatusError {
			sendEvent(w, flusher, model.StreamEvent{Err: errMsg})
			return
		}
		if status == model.StatusComplete {
			sendEvent(w, flusher, model.StreamEvent{End: true})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-wait:
		}
	}
}

// answer drives the engine for one query, buffering tokens as they arrive.
func (s *server) answer(rec *queryRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	prior := s.store.history(rec)
	history := make([]answerer.Exchange, len(prior))
	for i, ex := range prior {
		history[i] = answerer.Exchange{Question: ex.question, Answer: ex.answer}
	}

	_, err := s.answerer.StreamAnswer(ctx, rec.question, history, func(token string) error {
		rec.appendToken(token)
		return nil
	})
	if err != nil {
		s.logger.Warn("answer engine failed", zap.String("query_id", rec.id), zap.Error(err))
		rec.finish(err.Error())
		return
	}
	rec.finish("")
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, event model.StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
