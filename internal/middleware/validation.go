package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ValidateQuestion validates a user question.
func ValidateQuestion(question string) error {
	if strings.TrimSpace(question) == "" {
		return errors.New("question cannot be empty")
	}
	if len(question) > 8192 {
		return errors.New("question exceeds maximum length")
	}
	if !utf8.ValidString(question) {
		return errors.New("question must be valid UTF-8")
	}
	return nil
}

// ValidateQueryID validates a backend-assigned query id. Ids are opaque, so
// only basic shape checks apply.
func ValidateQueryID(id string) error {
	if id == "" {
		return errors.New("query id is required")
	}
	if len(id) > 128 {
		return errors.New("query id exceeds maximum length")
	}
	return nil
}

// ValidateConversationID validates a conversation id.
func ValidateConversationID(id string) error {
	if id == "" {
		return errors.New("conversation id is required for follow-up queries")
	}
	if len(id) > 128 {
		return errors.New("conversation id exceeds maximum length")
	}
	return nil
}
