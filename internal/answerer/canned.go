package answerer

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CannedClient streams deterministic answers. It exists so the development
// stub works with no API keys at all.
type CannedClient struct {
	// TokenDelay paces token emission so streaming behavior is observable.
	TokenDelay time.Duration
}

// NewCannedClient creates a canned answer engine.
func NewCannedClient() *CannedClient {
	return &CannedClient{TokenDelay: 50 * time.Millisecond}
}

// Name returns the engine name.
func (c *CannedClient) Name() string {
	return "canned"
}

// StreamAnswer emits a fixed answer word by word.
func (c *CannedClient) StreamAnswer(ctx context.Context, question string, history []Exchange, onToken TokenCallback) (string, error) {
	answer := fmt.Sprintf(
		"This is a canned answer to %q. The conversation has %d earlier exchanges. "+
			"Point a real answer engine at this stub by setting an API key.",
		question, len(history),
	)

	var b strings.Builder
	words := strings.SplitAfter(answer, " ")
	for _, token := range words {
		select {
		case <-ctx.Done():
			return b.String(), ctx.Err()
		case <-time.After(c.TokenDelay):
		}
		if err := onToken(token); err != nil {
			return b.String(), err
		}
		b.WriteString(token)
	}
	return b.String(), nil
}

// Followups returns fixed suggestions in the wire format.
func (c *CannedClient) Followups(ctx context.Context, question string) (string, error) {
	return "FOLLOWUP1: Can you give more detail?\n" +
		"FOLLOWUP2: What are the main caveats?\n" +
		"FOLLOWUP3: How does this compare to alternatives?", nil
}
