package answerer

import (
	"context"
	"errors"
	"io"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient answers questions through the OpenAI chat API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a new OpenAI answer engine.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  "gpt-4o",
	}, nil
}

// Name returns the engine name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// StreamAnswer streams an answer token by token.
func (c *OpenAIClient) StreamAnswer(ctx context.Context, question string, history []Exchange, onToken TokenCallback) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)*2+1)
	for _, ex := range history {
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: ex.Question},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: ex.Answer},
		)
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: question,
	})

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: 4096,
		Stream:    true,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var content string
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return content, err
		}

		if len(response.Choices) > 0 {
			delta := response.Choices[0].Delta.Content
			if delta != "" {
				content += delta
				if err := onToken(delta); err != nil {
					return content, err
				}
			}
		}
	}

	return content, nil
}

// Followups asks the model for suggestion lines in the wire format.
func (c *OpenAIClient) Followups(ctx context.Context, question string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: followupPrompt + question},
		},
		MaxTokens: 256,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
