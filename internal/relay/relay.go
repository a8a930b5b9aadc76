// Package relay turns a query's upstream server-sent event stream into a
// framed, terminating event sequence for exactly one consumer.
//
// One goroutine owns the upstream connection and pushes decoded frames onto
// a channel. The channel is closed as soon as the first terminal event has
// been forwarded, which makes the "exactly one terminal event, ignore
// anything after" rule a channel-close discipline rather than a flag check.
package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/answerflow-ai/orchestrator/internal/model"
	"github.com/answerflow-ai/orchestrator/pkg/logger"
	"github.com/answerflow-ai/orchestrator/pkg/metrics"
)

// Opener establishes the upstream event source for a query. Satisfied by
// the backend client.
type Opener interface {
	OpenStream(ctx context.Context, id string) (io.ReadCloser, error)
}

// Frame is one relayed event: the decoded form for appliers and the raw
// bytes so the gateway can forward upstream messages unmodified.
type Frame struct {
	Event model.StreamEvent
	Raw   json.RawMessage
}

// Session is a single relay for one query id. States are Connecting, Open,
// and Closed; Closed is absorbing.
type Session struct {
	queryID     string
	idleTimeout time.Duration
	logger      *logger.Logger

	frames chan Frame
	// closed is signalled by Close; the pump stops emitting once the
	// consumer has walked away.
	closed    chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc
	idleFired atomic.Bool
}

// Open starts a relay session for queryID. It returns immediately; the
// session connects and pumps in the background. If the upstream cannot even
// be connected, the consumer still observes one synthetic terminal error
// frame followed by channel close, so it never hangs on a stream that never
// opened.
func Open(ctx context.Context, opener Opener, queryID string, idleTimeout time.Duration, log *logger.Logger) *Session {
	ctx, cancel := context.WithCancel(ctx)

	s := &Session{
		queryID:     queryID,
		idleTimeout: idleTimeout,
		logger:      log.With(zap.String("query_id", queryID)),
		frames:      make(chan Frame, 16),
		closed:      make(chan struct{}),
		cancel:      cancel,
	}

	go s.pump(ctx, opener)
	return s
}

// Events returns the frame channel. It delivers frames in upstream order and
// is closed after the first terminal frame, after a synthesized error, or
// after Close.
func (s *Session) Events() <-chan Frame {
	return s.frames
}

// QueryID returns the query this session is attached to.
func (s *Session) QueryID() string {
	return s.queryID
}

// Close abandons the session: the upstream connection is torn down promptly
// and no further frames are emitted. Closing a closed session is a no-op.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
	})
}

func (s *Session) pump(ctx context.Context, opener Opener) {
	start := time.Now()
	outcome := "error"

	metrics.RelaySessionsActive.Inc()
	defer func() {
		metrics.RelaySessionsActive.Dec()
		metrics.RecordRelaySession(outcome, time.Since(start).Seconds())
		close(s.frames)
		s.cancel()
	}()

	body, err := opener.OpenStream(ctx, s.queryID)
	if err != nil {
		s.logger.Warn("failed to open upstream stream", zap.Error(err))
		s.synthesizeError("failed to open stream: " + err.Error())
		outcome = "connect_error"
		return
	}
	defer body.Close()

	var idle *time.Timer
	if s.idleTimeout > 0 {
		idle = time.AfterFunc(s.idleTimeout, func() {
			s.idleFired.Store(true)
			s.cancel()
		})
		defer idle.Stop()
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var dataLines []string
	var terminalEvent model.StreamEvent
	terminal := false

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line ends one SSE message.
		if line == "" {
			if len(dataLines) > 0 {
				data := strings.Join(dataLines, "\n")
				dataLines = nil
				if idle != nil {
					idle.Reset(s.idleTimeout)
				}
				sent, event := s.dispatch(data)
				if !sent {
					outcome = "abandoned"
					return
				}
				if event.Terminal() {
					terminal = true
					terminalEvent = event
					break
				}
			}
			continue
		}

		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
		// Event names and comments are not part of the backend contract
		// and are skipped.
	}

	if terminal {
		// One terminal frame forwarded; stop reading even if more arrives
		// before the socket fully closes.
		if terminalEvent.End {
			outcome = "end"
		}
		return
	}

	select {
	case <-s.closed:
		// Consumer walked away; nothing to synthesize.
		outcome = "abandoned"
		return
	default:
	}

	// Upstream dropped without a clean terminal event.
	msg := "stream closed unexpectedly"
	if s.idleFired.Load() {
		msg = "stream timed out waiting for events"
	} else if err := scanner.Err(); err != nil && ctx.Err() == nil {
		msg = "stream read failed: " + err.Error()
	}
	s.logger.Warn("upstream stream lost without terminal event", zap.String("reason", msg))
	s.synthesizeError(msg)
}

// dispatch decodes one message and forwards it. Malformed frames are logged
// and dropped; the stream continues. sent reports whether the consumer is
// still there.
func (s *Session) dispatch(data string) (sent bool, event model.StreamEvent) {
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		s.logger.Warn("dropping malformed stream frame", zap.Error(err))
		metrics.RecordStreamEvent("malformed")
		return true, model.StreamEvent{}
	}

	metrics.RecordStreamEvent(eventType(event))

	frame := Frame{Event: event, Raw: json.RawMessage(data)}
	select {
	case s.frames <- frame:
		return true, event
	case <-s.closed:
		return false, event
	}
}

func (s *Session) synthesizeError(msg string) {
	event := model.StreamEvent{Err: msg}
	raw, _ := json.Marshal(event)
	metrics.RecordStreamEvent("synthetic_error")

	select {
	case s.frames <- Frame{Event: event, Raw: raw}:
	case <-s.closed:
	}
}

func eventType(e model.StreamEvent) string {
	switch {
	case e.End:
		return "end"
	case e.Err != "":
		return "error"
	case e.Content != "":
		return "content"
	default:
		return "other"
	}
}
