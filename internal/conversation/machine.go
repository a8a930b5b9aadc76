// Package conversation owns the ordered turn list for one conversation and
// is the only writer of turn state. It folds relay events into the correct
// turn, guards the single-live-relay invariant, and sequences the follow-up
// suggestion workflow.
package conversation

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/answerflow-ai/orchestrator/internal/model"
	"github.com/answerflow-ai/orchestrator/internal/relay"
	"github.com/answerflow-ai/orchestrator/internal/suggest"
	"github.com/answerflow-ai/orchestrator/pkg/logger"
)

// Backend is the slice of the backend client the machine needs.
type Backend interface {
	CreateInitialQuery(ctx context.Context, question string) (string, error)
	CreateFollowupQuery(ctx context.Context, question, conversationID string) (string, error)
	FetchQuery(ctx context.Context, id string) (*model.QuerySnapshot, error)
	OpenStream(ctx context.Context, id string) (io.ReadCloser, error)
}

// View is a read-only snapshot of machine state for presentation.
type View struct {
	ConversationID     string
	Turns              []model.Turn
	Suggestions        *model.SuggestionBatch
	LoadingSuggestions bool
	Streaming          bool
	Err                string
}

// Machine is the state machine for a single conversation. Each conversation
// gets its own instance; instances share nothing and need no cross-instance
// locking.
type Machine struct {
	backend Backend
	trigger *suggest.Trigger
	logger  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	conversationID string
	turns          []*model.Turn
	batch          *model.SuggestionBatch
	loadingBatch   bool
	lastErr        string
	active         *relay.Session
	activeTurnID   string
	subs           map[int]chan struct{}
	nextSub        int

	idleTimeout time.Duration
}

// Config carries machine construction options.
type Config struct {
	Backend       Backend
	Trigger       *suggest.Trigger
	StreamTimeout time.Duration
	Logger        *logger.Logger
}

// New creates a machine. Close must be called when the conversation is
// abandoned so open relay connections do not outlive the consumer.
func New(cfg Config) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		backend:     cfg.Backend,
		trigger:     cfg.Trigger,
		logger:      cfg.Logger,
		ctx:         ctx,
		cancel:      cancel,
		idleTimeout: cfg.StreamTimeout,
		subs:        make(map[int]chan struct{}),
	}
}

// StartConversation creates the first query of a new conversation and
// returns its id. No turn is appended; the conversation is populated when
// it is loaded at that id.
func (m *Machine) StartConversation(ctx context.Context, question string) (string, error) {
	return m.backend.CreateInitialQuery(ctx, question)
}

// Load hydrates the machine from the backend's view of a query. If the
// current query is still processing a relay is attached automatically.
func (m *Machine) Load(ctx context.Context, queryID string) error {
	snapshot, err := m.backend.FetchQuery(ctx, queryID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.conversationID = snapshot.CurrentQuery.ConversationID
	m.turns = make([]*model.Turn, 0, len(snapshot.Conversation))
	for _, t := range snapshot.Conversation {
		turn := t
		if turn.Status == "" {
			turn.Status = model.StatusComplete
		}
		if turn.ID == snapshot.CurrentQuery.ID && snapshot.CurrentQuery.Status == model.StatusProcessing {
			turn.Status = model.StatusProcessing
		}
		m.turns = append(m.turns, &turn)
	}

	if snapshot.CurrentQuery.Status == model.StatusProcessing {
		m.attachRelayLocked(snapshot.CurrentQuery.ID)
	}
	m.mu.Unlock()

	m.notify()
	return nil
}

// ApplyEvent folds one stream event into the turn it addresses. Events for
// unknown turn ids are dropped; events addressed to one turn never mutate
// another.
func (m *Machine) ApplyEvent(turnID string, event model.StreamEvent) {
	m.mu.Lock()

	turn := m.findTurnLocked(turnID)
	if turn == nil {
		m.mu.Unlock()
		m.logger.Debug("dropping event for unknown turn", zap.String("turn_id", turnID))
		return
	}

	switch {
	case event.Content != "":
		if turn.Status == model.StatusProcessing {
			turn.Response += event.Content
		}

	case event.Err != "":
		if turn.Status != model.StatusProcessing {
			m.mu.Unlock()
			return
		}
		// Keep whatever streamed before the failure; the conversation
		// stays usable and follow-ups remain possible.
		turn.Response += " Error executing query with error: " + event.Err
		turn.Status = model.StatusError
		m.lastErr = event.Err
		m.detachRelayLocked(turnID)

	case event.End:
		if turn.Status != model.StatusProcessing {
			m.mu.Unlock()
			return
		}
		turn.Status = model.StatusComplete
		m.detachRelayLocked(turnID)
		m.scheduleSuggestionsLocked()

	default:
		m.mu.Unlock()
		return
	}

	m.mu.Unlock()
	m.notify()
}

// SubmitFollowup submits a follow-up question. A blank question or a machine
// with no conversation id is a silent no-op, mirroring a disabled submit
// control. Any pending suggestion batch is invalidated immediately, before
// the network call.
func (m *Machine) SubmitFollowup(ctx context.Context, question string) error {
	question = strings.TrimSpace(question)

	m.mu.Lock()
	conversationID := m.conversationID
	m.mu.Unlock()

	if question == "" || conversationID == "" {
		return nil
	}

	if m.trigger != nil {
		m.trigger.Invalidate()
	}
	m.mu.Lock()
	m.batch = nil
	m.loadingBatch = false
	m.lastErr = ""
	m.mu.Unlock()
	m.notify()

	queryID, err := m.backend.CreateFollowupQuery(ctx, question, conversationID)
	if err != nil {
		m.mu.Lock()
		m.lastErr = err.Error()
		m.mu.Unlock()
		m.notify()
		return err
	}

	m.mu.Lock()
	// Strict single-in-flight contract: if a previous turn is somehow still
	// streaming, its relay is closed and the turn marked interrupted before
	// the new turn attaches.
	if m.active != nil {
		if prev := m.findTurnLocked(m.activeTurnID); prev != nil && prev.Status == model.StatusProcessing {
			prev.Status = model.StatusError
			prev.Response += " Error executing query with error: interrupted by a new follow-up"
		}
		m.detachRelayLocked(m.activeTurnID)
	}

	m.turns = append(m.turns, &model.Turn{
		ID:             queryID,
		ConversationID: conversationID,
		Question:       question,
		Status:         model.StatusProcessing,
	})
	m.attachRelayLocked(queryID)
	m.mu.Unlock()

	m.notify()
	return nil
}

// View returns a copy of the current state.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := View{
		ConversationID:     m.conversationID,
		Turns:              make([]model.Turn, len(m.turns)),
		LoadingSuggestions: m.loadingBatch,
		Streaming:          m.active != nil,
		Err:                m.lastErr,
	}
	for i, t := range m.turns {
		v.Turns[i] = *t
	}
	if m.batch != nil {
		batch := model.SuggestionBatch{
			TurnID:    m.batch.TurnID,
			Questions: append([]string(nil), m.batch.Questions...),
		}
		v.Suggestions = &batch
	}
	return v
}

// Subscribe registers for change notifications. The returned channel gets a
// signal (coalesced) after every state change; the cancel func unregisters.
func (m *Machine) Subscribe() (<-chan struct{}, func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan struct{}, 1)
	m.subs[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Close abandons the conversation and promptly closes any open relay.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.active != nil {
		m.active.Close()
		m.active = nil
		m.activeTurnID = ""
	}
	m.mu.Unlock()
	m.cancel()
}

// attachRelayLocked opens a relay session for turnID and starts the single
// consumer goroutine for it. Any previous session is closed first.
func (m *Machine) attachRelayLocked(turnID string) {
	if m.active != nil {
		m.active.Close()
	}

	session := relay.Open(m.ctx, m.backend, turnID, m.idleTimeout, m.logger)
	m.active = session
	m.activeTurnID = turnID

	go func() {
		// Single consumer: frames are applied strictly in arrival order.
		for frame := range session.Events() {
			m.ApplyEvent(turnID, frame.Event)
		}
	}()
}

func (m *Machine) detachRelayLocked(turnID string) {
	if m.active != nil && m.activeTurnID == turnID {
		m.active.Close()
		m.active = nil
		m.activeTurnID = ""
	}
}

// scheduleSuggestionsLocked arms the suggestion trigger for the most recent
// turn. Suggestion failures never roll back the turn they follow.
func (m *Machine) scheduleSuggestionsLocked() {
	if len(m.turns) == 0 || m.trigger == nil {
		return
	}
	tail := m.turns[len(m.turns)-1]
	m.loadingBatch = true

	m.trigger.Schedule(m.conversationID, tail.ID, tail.Question, func(res suggest.Result) {
		m.mu.Lock()
		m.loadingBatch = false
		if res.Err != nil {
			m.lastErr = res.Err.Error()
		} else {
			m.batch = res.Batch
		}
		m.mu.Unlock()
		m.notify()
	})
}

func (m *Machine) findTurnLocked(id string) *model.Turn {
	for _, t := range m.turns {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (m *Machine) notify() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
