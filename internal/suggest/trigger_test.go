package suggest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answerflow-ai/orchestrator/pkg/logger"
)

// fakeGenerator returns canned followups, optionally blocking until released.
type fakeGenerator struct {
	mu        sync.Mutex
	calls     int
	followups []string
	err       error
	block     chan struct{}
}

func (g *fakeGenerator) SuggestFollowups(ctx context.Context, conversationID, question string) ([]string, error) {
	g.mu.Lock()
	g.calls++
	block := g.block
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.followups, g.err
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func awaitResult(t *testing.T, results chan Result) Result {
	t.Helper()
	select {
	case res := <-results:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for suggestion result")
		return Result{}
	}
}

func TestTriggerDeliversBatchAfterSettle(t *testing.T) {
	gen := &fakeGenerator{followups: []string{"A?", "B?"}}
	trigger := New(gen, 10*time.Millisecond, time.Second, logger.NewNop())

	results := make(chan Result, 1)
	trigger.Schedule("conv-1", "turn-1", "last question?", func(res Result) {
		results <- res
	})

	res := awaitResult(t, results)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Batch)
	assert.Equal(t, "turn-1", res.Batch.TurnID)
	assert.Equal(t, []string{"A?", "B?"}, res.Batch.Questions)
}

func TestTriggerDeliversError(t *testing.T) {
	gen := &fakeGenerator{err: context.DeadlineExceeded}
	trigger := New(gen, 0, time.Second, logger.NewNop())

	results := make(chan Result, 1)
	trigger.Schedule("conv-1", "turn-1", "q?", func(res Result) {
		results <- res
	})

	res := awaitResult(t, results)
	require.Error(t, res.Err)
	assert.Nil(t, res.Batch)
}

func TestTriggerInvalidateBeforeFiring(t *testing.T) {
	gen := &fakeGenerator{followups: []string{"A?"}}
	trigger := New(gen, 50*time.Millisecond, time.Second, logger.NewNop())

	results := make(chan Result, 1)
	trigger.Schedule("conv-1", "turn-1", "q?", func(res Result) {
		results <- res
	})
	trigger.Invalidate()

	select {
	case <-results:
		t.Fatal("invalidated trigger must not deliver")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Zero(t, gen.callCount(), "an invalidated trigger should not even call the generator")
}

func TestTriggerInvalidateWhileInFlight(t *testing.T) {
	gen := &fakeGenerator{
		followups: []string{"A?"},
		block:     make(chan struct{}),
	}
	trigger := New(gen, 0, time.Second, logger.NewNop())

	results := make(chan Result, 1)
	trigger.Schedule("conv-1", "turn-1", "q?", func(res Result) {
		results <- res
	})

	// Wait for the generator call to start, invalidate, then release it.
	require.Eventually(t, func() bool { return gen.callCount() == 1 },
		time.Second, 5*time.Millisecond)
	trigger.Invalidate()
	close(gen.block)

	select {
	case <-results:
		t.Fatal("a result that went stale mid-flight must be discarded")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestTriggerSingleFlight(t *testing.T) {
	gen := &fakeGenerator{
		followups: []string{"A?"},
		block:     make(chan struct{}),
	}
	trigger := New(gen, 0, time.Second, logger.NewNop())

	results := make(chan Result, 2)
	deliver := func(res Result) { results <- res }

	trigger.Schedule("conv-1", "turn-1", "q?", deliver)
	require.Eventually(t, func() bool { return gen.callCount() == 1 },
		time.Second, 5*time.Millisecond)

	// Second schedule while the first is still running is dropped.
	trigger.Schedule("conv-1", "turn-2", "q2?", deliver)
	close(gen.block)

	res := awaitResult(t, results)
	require.NotNil(t, res.Batch)
	assert.Equal(t, "turn-1", res.Batch.TurnID)

	select {
	case <-results:
		t.Fatal("dropped schedule must not produce a second result")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, 1, gen.callCount())
}
