package main

import (
	"sync"

	"github.com/google/uuid"

	"github.com/answerflow-ai/orchestrator/internal/model"
)

// queryRecord is the stub's view of one query: the question, the tokens
// produced so far, and the terminal outcome.
type queryRecord struct {
	mu             sync.Mutex
	id             string
	conversationID string
	question       string
	tokens         []string
	status         model.Status
	errMsg         string
	// notify is closed and replaced on every change; stream readers wait
	// on the current channel to pick up new tokens.
	notify chan struct{}
}

func (q *queryRecord) appendToken(token string) {
	q.mu.Lock()
	q.tokens = append(q.tokens, token)
	q.broadcastLocked()
	q.mu.Unlock()
}

func (q *queryRecord) finish(errMsg string) {
	q.mu.Lock()
	if errMsg != "" {
		q.status = model.StatusError
		q.errMsg = errMsg
	} else {
		q.status = model.StatusComplete
	}
	q.broadcastLocked()
	q.mu.Unlock()
}

func (q *queryRecord) broadcastLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// snapshot returns the tokens after offset plus current status.
func (q *queryRecord) snapshot(offset int) (tokens []string, status model.Status, errMsg string, wait <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if offset < len(q.tokens) {
		tokens = append(tokens, q.tokens[offset:]...)
	}
	return tokens, q.status, q.errMsg, q.notify
}

func (q *queryRecord) response() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var b []byte
	for _, t := range q.tokens {
		b = append(b, t...)
	}
	return string(b)
}

func (q *queryRecord) turn(includeConversationID bool) model.Turn {
	q.mu.Lock()
	defer q.mu.Unlock()
	var response []byte
	for _, t := range q.tokens {
		response = append(response, t...)
	}
	turn := model.Turn{
		ID:       q.id,
		Question: q.question,
		Response: string(response),
		Status:   q.status,
	}
	if includeConversationID {
		turn.ConversationID = q.conversationID
	}
	return turn
}

// store holds all queries and their conversation groupings in memory.
type store struct {
	mu            sync.Mutex
	queries       map[string]*queryRecord
	conversations map[string][]string
}

func newStore() *store {
	return &store{
		queries:       make(map[string]*queryRecord),
		conversations: make(map[string][]string),
	}
}

// create registers a new query. A blank conversationID starts a new
// conversation.
func (s *store) create(question, conversationID string) *queryRecord {
	if conversationID == "" {
		conversationID = uuid.Must(uuid.NewV7()).String()
	}

	rec := &queryRecord{
		id:             uuid.Must(uuid.NewV7()).String(),
		conversationID: conversationID,
		question:       question,
		status:         model.StatusProcessing,
		notify:         make(chan struct{}),
	}

	s.mu.Lock()
	s.queries[rec.id] = rec
	s.conversations[conversationID] = append(s.conversations[conversationID], rec.id)
	s.mu.Unlock()

	return rec
}

func (s *store) get(id string) (*queryRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.queries[id]
	return rec, ok
}

func (s *store) conversationExists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conversations[id]
	return ok
}

// conversationTurns returns the turns of a conversation in creation order.
func (s *store) conversationTurns(conversationID string) []model.Turn {
	s.mu.Lock()
	ids := append([]string(nil), s.conversations[conversationID]...)
	records := make([]*queryRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.queries[id]; ok {
			records = append(records, rec)
		}
	}
	s.mu.Unlock()

	turns := make([]model.Turn, len(records))
	for i, rec := range records {
		turns[i] = rec.turn(false)
	}
	return turns
}

// history returns completed exchanges before the given query, for prompting.
func (s *store) history(rec *queryRecord) []exchange {
	s.mu.Lock()
	ids := append([]string(nil), s.conversations[rec.conversationID]...)
	s.mu.Unlock()

	var out []exchange
	for _, id := range ids {
		if id == rec.id {
			break
		}
		prev, ok := s.get(id)
		if !ok {
			continue
		}
		prev.mu.Lock()
		done := prev.status == model.StatusComplete
		prev.mu.Unlock()
		if done {
			out = append(out, exchange{question: prev.question, answer: prev.response()})
		}
	}
	return out
}

type exchange struct {
	question string
	answer   string
}
