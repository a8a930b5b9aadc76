// Package suggest guards the follow-up suggestion workflow: one debounced,
// single-flight generation request per completed turn.
package suggest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/answerflow-ai/orchestrator/internal/model"
	"github.com/answerflow-ai/orchestrator/pkg/logger"
	"github.com/answerflow-ai/orchestrator/pkg/metrics"
)

// Generator produces a parsed suggestion list for the latest turn of a
// conversation. Satisfied by the backend client.
type Generator interface {
	SuggestFollowups(ctx context.Context, conversationID, question string) ([]string, error)
}

// Result is delivered to the trigger's owner once a generation attempt
// finishes. Err is set on failure; suggestions are best-effort and a failure
// never touches conversation turns.
type Result struct {
	Batch *model.SuggestionBatch
	Err   error
}

// Trigger schedules suggestion generation after a turn completes. It waits a
// settle delay before firing, allows only one request in flight, and drops
// results that were invalidated by a newer follow-up submission while the
// request was running.
type Trigger struct {
	gen     Generator
	settle  time.Duration
	timeout time.Duration
	logger  *logger.Logger

	mu         sync.Mutex
	generation uint64
	inFlight   bool
}

// New creates a trigger. settle is the delay between a turn completing and
// the generation request firing; timeout bounds each generation call.
func New(gen Generator, settle, timeout time.Duration, log *logger.Logger) *Trigger {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Trigger{
		gen:     gen,
		settle:  settle,
		timeout: timeout,
		logger:  log,
	}
}

// Schedule arms the trigger for a completed turn. deliver is called exactly
// once per fired request, from a background goroutine, unless the result
// went stale. A schedule while another request is still in flight for the
// same trigger is dropped: suggestions always describe the latest completed
// turn, and the later Schedule's Invalidate-then-complete cycle supersedes it.
func (t *Trigger) Schedule(conversationID, turnID, question string, deliver func(Result)) {
	t.mu.Lock()
	if t.inFlight {
		t.mu.Unlock()
		t.logger.Debug("suggestion request already in flight, dropping trigger",
			zap.String("turn_id", turnID))
		return
	}
	t.inFlight = true
	generation := t.generation
	t.mu.Unlock()

	time.AfterFunc(t.settle, func() {
		t.fire(conversationID, turnID, question, generation, deliver)
	})
}

// Invalidate marks every scheduled or in-flight request stale. Called on
// each follow-up submission so a late result cannot repopulate a batch the
// user has already moved past.
func (t *Trigger) Invalidate() {
	t.mu.Lock()
	t.generation++
	t.mu.Unlock()
}

func (t *Trigger) fire(conversationID, turnID, question string, generation uint64, deliver func(Result)) {
	defer func() {
		t.mu.Lock()
		t.inFlight = false
		t.mu.Unlock()
	}()

	t.mu.Lock()
	stale := t.generation != generation
	t.mu.Unlock()
	if stale {
		t.logger.Debug("suggestion trigger went stale before firing",
			zap.String("turn_id", turnID))
		metrics.SuggestionRequestsTotal.WithLabelValues("stale").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	followups, err := t.gen.SuggestFollowups(ctx, conversationID, question)

	t.mu.Lock()
	stale = t.generation != generation
	t.mu.Unlock()
	if stale {
		// A follow-up was submitted while the request was running; the
		// late result must not repopulate the batch.
		t.logger.Debug("discarding stale suggestion result",
			zap.String("turn_id", turnID))
		metrics.SuggestionRequestsTotal.WithLabelValues("stale").Inc()
		return
	}

	if err != nil {
		metrics.SuggestionRequestsTotal.WithLabelValues("error").Inc()
		deliver(Result{Err: err})
		return
	}

	metrics.SuggestionRequestsTotal.WithLabelValues("ok").Inc()
	deliver(Result{Batch: &model.SuggestionBatch{
		TurnID:    turnID,
		Questions: followups,
	}})
}
