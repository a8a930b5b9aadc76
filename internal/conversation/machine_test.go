package conversation

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answerflow-ai/orchestrator/internal/model"
	"github.com/answerflow-ai/orchestrator/internal/suggest"
	"github.com/answerflow-ai/orchestrator/pkg/logger"
)

// fakeBackend serves canned snapshots and scripted event streams.
type fakeBackend struct {
	mu            sync.Mutex
	snapshot      *model.QuerySnapshot
	streams       map[string]string
	nextID        string
	followupErr   error
	followupCalls []string
}

func (b *fakeBackend) CreateInitialQuery(ctx context.Context, question string) (string, error) {
	return b.nextID, nil
}

func (b *fakeBackend) CreateFollowupQuery(ctx context.Context, question, conversationID string) (string, error) {
	b.mu.Lock()
	b.followupCalls = append(b.followupCalls, conversationID+"|"+question)
	b.mu.Unlock()
	if b.followupErr != nil {
		return "", b.followupErr
	}
	return b.nextID, nil
}

func (b *fakeBackend) FetchQuery(ctx context.Context, id string) (*model.QuerySnapshot, error) {
	if b.snapshot == nil {
		return nil, errors.New("no snapshot configured")
	}
	return b.snapshot, nil
}

func (b *fakeBackend) OpenStream(ctx context.Context, id string) (io.ReadCloser, error) {
	b.mu.Lock()
	payload, ok := b.streams[id]
	b.mu.Unlock()
	if !ok {
		// Unknown query: hang until the session is torn down, like a
		// backend that never produces events.
		return &hangingStream{ctx: ctx}, nil
	}
	return io.NopCloser(strings.NewReader(payload)), nil
}

func (b *fakeBackend) followupCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.followupCalls)
}

func (b *fakeBackend) recordedFollowups() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.followupCalls...)
}

type hangingStream struct{ ctx context.Context }

func (h *hangingStream) Read(p []byte) (int, error) {
	<-h.ctx.Done()
	return 0, h.ctx.Err()
}

func (h *hangingStream) Close() error { return nil }

type fakeGenerator struct {
	followups []string
	err       error
}

func (g *fakeGenerator) SuggestFollowups(ctx context.Context, conversationID, question string) ([]string, error) {
	return g.followups, g.err
}

func sse(frames ...string) string {
	var b strings.Builder
	for _, f := range frames {
		b.WriteString("data: ")
		b.WriteString(f)
		b.WriteString("\n\n")
	}
	return b.String()
}

func newTestMachine(t *testing.T, backend Backend, gen suggest.Generator) *Machine {
	t.Helper()
	var trigger *suggest.Trigger
	if gen != nil {
		trigger = suggest.New(gen, time.Millisecond, time.Second, logger.NewNop())
	}
	m := New(Config{
		Backend: backend,
		Trigger: trigger,
		Logger:  logger.NewNop(),
	})
	t.Cleanup(m.Close)
	return m
}

func waitFor(t *testing.T, m *Machine, cond func(View) bool) View {
	t.Helper()
	var last View
	require.Eventually(t, func() bool {
		last = m.View()
		return cond(last)
	}, 5*time.Second, 5*time.Millisecond)
	return last
}

func processingSnapshot(question string) *model.QuerySnapshot {
	return &model.QuerySnapshot{
		CurrentQuery: model.Turn{
			ID:             "q-1",
			ConversationID: "conv-1",
			Question:       question,
			Status:         model.StatusProcessing,
		},
		Conversation: []model.Turn{
			{ID: "q-1", Question: question, Status: model.StatusProcessing},
		},
	}
}

func completeSnapshot() *model.QuerySnapshot {
	return &model.QuerySnapshot{
		CurrentQuery: model.Turn{
			ID:             "q-1",
			ConversationID: "conv-1",
			Question:       "what was in tap water?",
			Status:         model.StatusComplete,
		},
		Conversation: []model.Turn{
			{ID: "q-1", Question: "what was in tap water?", Response: "Tap water had X.", Status: model.StatusComplete},
		},
	}
}

func TestMachineLoadStreamsToCompletion(t *testing.T) {
	backend := &fakeBackend{
		snapshot: processingSnapshot("what was in tap water?"),
		streams: map[string]string{
			"q-1": sse(`{"content":"Tap "}`, `{"content":"water "}`, `{"content":"had X."}`, `{"end":true}`),
		},
	}
	m := newTestMachine(t, backend, nil)

	require.NoError(t, m.Load(context.Background(), "q-1"))

	view := waitFor(t, m, func(v View) bool {
		return len(v.Turns) == 1 && v.Turns[0].Status == model.StatusComplete
	})
	assert.Equal(t, "Tap water had X.", view.Turns[0].Response)
	assert.Equal(t, "conv-1", view.ConversationID)
	assert.False(t, view.Streaming)
}

func TestMachineStreamErrorAnnotatesResponse(t *testing.T) {
	backend := &fakeBackend{
		snapshot: processingSnapshot("what was in tap water?"),
		streams: map[string]string{
			"q-1": sse(`{"content":"Partial answer."}`, `{"error":"column not found"}`),
		},
	}
	m := newTestMachine(t, backend, nil)

	require.NoError(t, m.Load(context.Background(), "q-1"))

	view := waitFor(t, m, func(v View) bool {
		return len(v.Turns) == 1 && v.Turns[0].Status == model.StatusError
	})
	assert.Equal(t, "Partial answer. Error executing query with error: column not found", view.Turns[0].Response)
	assert.Equal(t, "column not found", view.Err)
}

func TestMachineSubmitFollowup(t *testing.T) {
	backend := &fakeBackend{
		snapshot: completeSnapshot(),
		nextID:   "q-2",
		streams: map[string]string{
			"q-2": sse(`{"content":"Q3 sales "}`, `{"content":"were Y."}`, `{"end":true}`),
		},
	}
	gen := &fakeGenerator{followups: []string{"And Q4?", "Which region?"}}
	m := newTestMachine(t, backend, gen)

	require.NoError(t, m.Load(context.Background(), "q-1"))
	require.NoError(t, m.SubmitFollowup(context.Background(), "and Q3?"))

	view := waitFor(t, m, func(v View) bool {
		return len(v.Turns) == 2 && v.Turns[1].Status == model.StatusComplete && v.Suggestions != nil
	})

	assert.Equal(t, []string{"conv-1|and Q3?"}, backend.recordedFollowups())
	assert.Equal(t, "Tap water had X.", view.Turns[0].Response, "prior turns are never rewritten")
	assert.Equal(t, "Q3 sales were Y.", view.Turns[1].Response)
	assert.Equal(t, "q-2", view.Suggestions.TurnID)
	assert.Equal(t, []string{"And Q4?", "Which region?"}, view.Suggestions.Questions)
}

func TestMachineBlankFollowupIsNoop(t *testing.T) {
	backend := &fakeBackend{snapshot: completeSnapshot()}
	m := newTestMachine(t, backend, &fakeGenerator{})

	require.NoError(t, m.Load(context.Background(), "q-1"))
	require.NoError(t, m.SubmitFollowup(context.Background(), "   "))

	assert.Zero(t, backend.followupCallCount())
	assert.Len(t, m.View().Turns, 1)
}

func TestMachineFollowupWithoutConversationIsNoop(t *testing.T) {
	backend := &fakeBackend{}
	m := newTestMachine(t, backend, &fakeGenerator{})

	require.NoError(t, m.SubmitFollowup(context.Background(), "orphan question?"))
	assert.Zero(t, backend.followupCallCount())
}

func TestMachineFollowupClearsSuggestions(t *testing.T) {
	backend := &fakeBackend{
		snapshot: completeSnapshot(),
		nextID:   "q-2",
		// q-2 has no scripted stream, so the new turn stays processing and
		// no fresh batch can arrive while we assert.
	}
	gen := &fakeGenerator{followups: []string{"A?"}}
	m := newTestMachine(t, backend, gen)

	require.NoError(t, m.Load(context.Background(), "q-1"))

	// Seed a visible batch the way a completed turn would.
	m.mu.Lock()
	m.batch = &model.SuggestionBatch{TurnID: "q-1", Questions: []string{"old?"}}
	m.mu.Unlock()

	require.NoError(t, m.SubmitFollowup(context.Background(), "and Q3?"))

	view := m.View()
	assert.Nil(t, view.Suggestions, "a new follow-up clears the old batch immediately")
	assert.True(t, view.Streaming)
}

func TestMachineFollowupBackendError(t *testing.T) {
	backend := &fakeBackend{
		snapshot:    completeSnapshot(),
		followupErr: errors.New("backend unavailable"),
	}
	m := newTestMachine(t, backend, &fakeGenerator{})

	require.NoError(t, m.Load(context.Background(), "q-1"))
	err := m.SubmitFollowup(context.Background(), "and Q3?")
	require.Error(t, err)

	view := m.View()
	assert.Len(t, view.Turns, 1, "no turn is appended when creation fails")
	assert.Equal(t, "backend unavailable", view.Err)
}

func TestMachineDropsEventsForUnknownTurn(t *testing.T) {
	backend := &fakeBackend{snapshot: completeSnapshot()}
	m := newTestMachine(t, backend, nil)

	require.NoError(t, m.Load(context.Background(), "q-1"))
	before := m.View()

	m.ApplyEvent("q-unknown", model.StreamEvent{Content: "stray"})

	assert.Equal(t, before.Turns, m.View().Turns)
}

func TestMachineEventsNeverMutateSettledTurns(t *testing.T) {
	backend := &fakeBackend{snapshot: completeSnapshot()}
	m := newTestMachine(t, backend, nil)

	require.NoError(t, m.Load(context.Background(), "q-1"))

	m.ApplyEvent("q-1", model.StreamEvent{Content: "late token"})
	m.ApplyEvent("q-1", model.StreamEvent{Err: "late failure"})

	view := m.View()
	assert.Equal(t, "Tap water had X.", view.Turns[0].Response)
	assert.Equal(t, model.StatusComplete, view.Turns[0].Status)
}
