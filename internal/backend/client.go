// Package backend provides a typed HTTP client for the query execution
// backend. It is a pure transport conversion: no retries, no conversation
// state, safe to share across all conversations.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/answerflow-ai/orchestrator/internal/model"
	"github.com/answerflow-ai/orchestrator/pkg/logger"
)

// Client talks to the execution backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	// stream has no overall timeout: stream connections are long-lived and
	// their lifetime belongs to the caller's context.
	stream *http.Client
	logger *logger.Logger
}

// New creates a backend client. timeout bounds one-shot calls only.
func New(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		stream:  &http.Client{},
		logger:  log,
	}
}

// CreateInitialQuery creates the first query of a new conversation and
// returns the backend-assigned query id.
func (c *Client) CreateInitialQuery(ctx context.Context, question string) (string, error) {
	if question == "" {
		return "", fmt.Errorf("%w: question is required", ErrInvalidArgument)
	}

	var resp model.CreateQueryResponse
	err := c.post(ctx, "/api/query/initial", model.CreateQueryRequest{Question: question}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// CreateFollowupQuery creates a follow-up query within an existing
// conversation. A conversation id is required and checked before any
// network call.
func (c *Client) CreateFollowupQuery(ctx context.Context, question, conversationID string) (string, error) {
	if question == "" {
		return "", fmt.Errorf("%w: question is required", ErrInvalidArgument)
	}
	if conversationID == "" {
		return "", fmt.Errorf("%w: conversation id is required for follow-up queries", ErrInvalidArgument)
	}

	var resp model.CreateQueryResponse
	err := c.post(ctx, "/api/query/followup", model.CreateQueryRequest{
		Question:       question,
		ConversationID: conversationID,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// FetchQuery retrieves a query and its full conversation. The conversation
// list is passed through in the order the backend returned it.
func (c *Client) FetchQuery(ctx context.Context, id string) (*model.QuerySnapshot, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: query id is required", ErrInvalidArgument)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/query/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstreamError(resp)
	}

	var snapshot model.QuerySnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, &ParseError{Err: err}
	}
	return &snapshot, nil
}

// OpenStream establishes the long-lived event stream for a query. The caller
// owns the returned body and must close it; cancelling ctx closes the
// connection as well.
func (c *Client) OpenStream(ctx context.Context, id string) (io.ReadCloser, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: query id is required", ErrInvalidArgument)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/query/"+id+"/stream", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, upstreamError(resp)
	}

	return resp.Body, nil
}

// GenerateFollowups asks the backend for follow-up suggestions and returns
// the raw suggestion text unchanged.
func (c *Client) GenerateFollowups(ctx context.Context, conversationID, question string) (string, error) {
	if conversationID == "" {
		return "", fmt.Errorf("%w: conversation id is required", ErrInvalidArgument)
	}

	var resp model.GenerateFollowupsResponse
	err := c.post(ctx, "/api/query/generate-followups", model.GenerateFollowupsRequest{
		Question:       question,
		ConversationID: conversationID,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Followups, nil
}

// SuggestFollowups generates and parses follow-up suggestions. An answer
// with no recognizable suggestion lines yields an empty batch, not an error.
func (c *Client) SuggestFollowups(ctx context.Context, conversationID, question string) ([]string, error) {
	raw, err := c.GenerateFollowups(ctx, conversationID, question)
	if err != nil {
		return nil, err
	}

	followups := ParseFollowups(raw)
	if len(followups) == 0 {
		c.logger.Warn("no follow-up questions found in backend response",
			zap.String("conversation_id", conversationID))
	}
	return followups, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &UnavailableError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return upstreamError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ParseError{Err: err}
	}
	return nil
}

func upstreamError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &UpstreamError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
