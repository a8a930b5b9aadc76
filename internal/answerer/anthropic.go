package answerer

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient answers questions through the Anthropic messages API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient creates a new Anthropic answer engine.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  "claude-3-5-sonnet-20241022",
	}, nil
}

// Name returns the engine name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

func (c *AnthropicClient) buildMessages(question string, history []Exchange) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(history)*2+1)
	appendText := func(role anthropic.MessageParamRole, text string) {
		messages = append(messages, anthropic.MessageParam{
			Role: anthropic.F(role),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(text),
				},
			}),
		})
	}

	for _, ex := range history {
		appendText(anthropic.MessageParamRoleUser, ex.Question)
		appendText(anthropic.MessageParamRoleAssistant, ex.Answer)
	}
	appendText(anthropic.MessageParamRoleUser, question)
	return messages
}

// StreamAnswer streams an answer token by token.
func (c *AnthropicClient) StreamAnswer(ctx context.Context, question string, history []Exchange, onToken TokenCallback) (string, error) {
	stream := c.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(c.model),
		MaxTokens: anthropic.F(int64(4096)),
		Messages:  anthropic.F(c.buildMessages(question, history)),
	})

	var content string
	for stream.Next() {
		event := stream.Current()

		if event.Type == anthropic.MessageStreamEventTypeContentBlockDelta {
			if delta, ok := event.Delta.(anthropic.ContentBlockDeltaEventDelta); ok && delta.Type == "text_delta" {
				token := delta.Text
				content += token
				if err := onToken(token); err != nil {
					return content, err
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return content, err
	}
	return content, nil
}

// Followups asks the model for suggestion lines in the wire format.
func (c *AnthropicClient) Followups(ctx context.Context, question string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(c.model),
		MaxTokens: anthropic.F(int64(256)),
		Messages:  anthropic.F(c.buildMessages(followupPrompt+question, nil)),
	})
	if err != nil {
		return "", err
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}
	return content, nil
}
