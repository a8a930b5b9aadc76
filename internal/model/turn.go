// Package model defines data structures for the query orchestration layer.
package model

// Status represents the lifecycle state of a turn.
type Status string

const (
	// StatusProcessing means the backend is still producing the response.
	StatusProcessing Status = "processing"
	// StatusComplete means the stream ended cleanly.
	StatusComplete Status = "complete"
	// StatusError means the stream terminated with an error.
	StatusError Status = "error"
)

// Turn is one question/answer unit within a conversation.
//
// Question is immutable after creation. Response grows by append only while
// the turn is processing and is terminal once a stream ends. ConversationID
// is present on turns fetched standalone so the caller can resume follow-ups.
type Turn struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Question       string `json:"question"`
	Response       string `json:"response,omitempty"`
	Status         Status `json:"status,omitempty"`
}

// QuerySnapshot is the backend's view of a query and its conversation,
// as returned by the fetch endpoint. Conversation order is dialogue order
// and must be preserved as returned.
type QuerySnapshot struct {
	CurrentQuery Turn   `json:"current_query"`
	Conversation []Turn `json:"conversation"`
}

// CreateQueryRequest is the body for initial and follow-up query creation.
// ConversationID is empty for initial queries and required for follow-ups.
type CreateQueryRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// CreateQueryResponse carries the backend-assigned query id.
type CreateQueryResponse struct {
	ID string `json:"id"`
}

// GenerateFollowupsRequest asks the backend for follow-up suggestions.
type GenerateFollowupsRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id"`
}

// GenerateFollowupsResponse carries the raw suggestion text. The payload is
// a wire format of newline-separated "FOLLOWUPn: <text>" lines; parsing is
// the backend client's job, not the transport's.
type GenerateFollowupsResponse struct {
	Followups string `json:"followups"`
}
