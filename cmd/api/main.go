// Package main is the entry point for the orchestration API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/answerflow-ai/orchestrator/internal/backend"
	"github.com/answerflow-ai/orchestrator/internal/config"
	"github.com/answerflow-ai/orchestrator/internal/gateway"
	"github.com/answerflow-ai/orchestrator/internal/journal"
	"github.com/answerflow-ai/orchestrator/internal/middleware"
	"github.com/answerflow-ai/orchestrator/pkg/logger"
	"github.com/answerflow-ai/orchestrator/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting orchestration API server", zap.String("backend_url", cfg.BackendURL))

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "query-orchestrator", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// The journal is optional; run without it when NATS is not configured.
	var turnJournal *journal.Journal
	if cfg.NATSURL != "" {
		turnJournal, err = journal.Connect(ctx, journal.Config{
			URL:   cfg.NATSURL,
			Token: cfg.NATSToken,
		}, log)
		if err != nil {
			log.Warn("failed to connect journal, continuing without it", zap.Error(err))
		} else {
			defer turnJournal.Close()
		}
	}

	backendClient := backend.New(cfg.BackendURL, cfg.BackendTimeout, log)

	healthHandler := gateway.NewHealthHandler(turnJournal)
	queryHandler := gateway.NewQueryHandler(backendClient, turnJournal, log)
	streamHandler := gateway.NewStreamHandler(backendClient, turnJournal, cfg.StreamIdleTimeout, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/query", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/initial", queryHandler.CreateInitial)
		r.Post("/followup", queryHandler.CreateFollowup)
		r.Post("/generate-followups", queryHandler.GenerateFollowups)
		r.Get("/{id}", queryHandler.Fetch)
		r.Get("/{id}/stream", streamHandler.Stream)
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
