// Package answerer provides the answer engines used by the development
// backend stub: a canned engine for offline work and real LLM engines when
// an API key is configured.
package answerer

import (
	"context"
)

// TokenCallback is called for each token during streaming.
type TokenCallback func(token string) error

// Exchange is one completed question/answer pair of conversation history.
type Exchange struct {
	Question string
	Answer   string
}

// Client is the interface for answer engines.
type Client interface {
	// StreamAnswer answers a question given prior exchanges, invoking
	// onToken for every token, and returns the full answer text.
	StreamAnswer(ctx context.Context, question string, history []Exchange, onToken TokenCallback) (string, error)

	// Followups produces raw follow-up suggestion text in the
	// "FOLLOWUPn: <text>" wire format.
	Followups(ctx context.Context, question string) (string, error)

	// Name returns the engine name.
	Name() string
}

const followupPrompt = `Given the question below, propose exactly three short follow-up questions.
Answer with three lines only, formatted as:
FOLLOWUP1: <question>
FOLLOWUP2: <question>
FOLLOWUP3: <question>

Question: `

// Provider is the type of answer engine.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderCanned    Provider = "canned"
)

// NewClient creates an answer engine for the given provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewCannedClient(), nil
	}
}
