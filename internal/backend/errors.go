package backend

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned when a required field is missing. It is
// raised before any network call is made.
var ErrInvalidArgument = errors.New("invalid argument")

// UnavailableError means the backend could not be reached at the transport
// level. Callers may retry.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// UpstreamError means the backend was reachable but returned a non-success
// status. It carries the status and body for diagnostics and is not retried
// automatically.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// ParseError means a one-shot backend response could not be decoded.
// Malformed stream frames are handled by the relay instead and never
// produce this error.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing backend response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is a transport-level failure.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// AsUpstream extracts an UpstreamError if err carries one.
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
