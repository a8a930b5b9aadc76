// Package journal publishes turn lifecycle events to NATS JetStream for
// audit. The journal is optional: a nil *Journal is a valid no-op.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/answerflow-ai/orchestrator/pkg/logger"
	"github.com/answerflow-ai/orchestrator/pkg/metrics"
)

const (
	// StreamName is the JetStream stream holding turn lifecycle events.
	StreamName = "TURN_EVENTS"

	// SubjectPrefix is the prefix for all journal subjects.
	SubjectPrefix = "turns"
)

// EventType classifies a turn lifecycle event.
type EventType string

const (
	EventCreated   EventType = "created"
	EventCompleted EventType = "completed"
	EventErrored   EventType = "errored"
)

// TurnEvent is one journal entry.
type TurnEvent struct {
	ID             string    `json:"id"`
	QueryID        string    `json:"query_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Type           EventType `json:"type"`
	Question       string    `json:"question,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Config holds NATS connection configuration.
type Config struct {
	URL   string
	Token string
}

// Journal wraps the NATS connection and JetStream context.
type Journal struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *logger.Logger
}

// Connect establishes the NATS connection and ensures the stream exists.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Journal, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	j := &Journal{conn: nc, js: js, logger: log}
	if err := j.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) ensureStream(ctx context.Context) error {
	if _, err := j.js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := j.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Turn lifecycle events from the query orchestrator",
	})
	if err != nil {
		return fmt.Errorf("creating stream: %w", err)
	}
	return nil
}

// RecordTurn publishes one turn lifecycle event. Journal failures are logged
// and counted, never surfaced: the journal is an observability aid, not a
// dependency of the query flow.
func (j *Journal) RecordTurn(ctx context.Context, queryID, conversationID string, eventType EventType, question, reason string) {
	if j == nil {
		return
	}

	event := TurnEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		QueryID:        queryID,
		ConversationID: conversationID,
		Type:           eventType,
		Question:       question,
		Reason:         reason,
		CreatedAt:      time.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		j.logger.Error("failed to marshal journal event", zap.Error(err))
		metrics.JournalPublishTotal.WithLabelValues(string(eventType), "error").Inc()
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", SubjectPrefix, sanitizeToken(queryID), eventType)
	if _, err := j.js.Publish(ctx, subject, data); err != nil {
		j.logger.Warn("failed to publish journal event",
			zap.String("query_id", queryID), zap.Error(err))
		metrics.JournalPublishTotal.WithLabelValues(string(eventType), "error").Inc()
		return
	}

	metrics.JournalPublishTotal.WithLabelValues(string(eventType), "ok").Inc()
}

// IsConnected reports NATS connectivity. A nil journal reports true so a
// deployment without a journal still passes readiness.
func (j *Journal) IsConnected() bool {
	if j == nil {
		return true
	}
	return j.conn != nil && j.conn.IsConnected()
}

// Close closes the NATS connection.
func (j *Journal) Close() {
	if j == nil || j.conn == nil {
		return
	}
	j.conn.Close()
}

// sanitizeToken makes an id safe for use as a NATS subject token.
func sanitizeToken(s string) string {
	if s == "" {
		return "unknown"
	}
	out := []rune(s)
	for i, r := range out {
		switch r {
		case '.', '*', '>', ' ':
			out[i] = '_'
		}
	}
	return string(out)
}
