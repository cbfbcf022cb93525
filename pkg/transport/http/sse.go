package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// Chat stream event names.
const (
	eventSession     = "session"
	eventSummary     = "summary"
	eventDelta       = "delta"
	eventToolCall    = "tool_call"
	eventToolResult  = "tool_result"
	eventToolSkipped = "tool_skipped"
	eventCallout     = "callout"
	eventError       = "error"
	eventDone        = "done"
)

// terminalEvents end a chat stream and are followed by "data: [DONE]".
var terminalEvents = map[string]bool{
	eventError: true,
	eventDone:  true,
}

var errStreamClosed = errors.New("cannot write event: stream is closed")

// sseWriter writes chat events as Server-Sent Events. Headers are sent
// with the first event and every event is flushed immediately.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu      sync.Mutex
	started bool
	closed  bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

// WriteEvent sends one event:
//
//	event: {name}
//	data: {json}
func (s *sseWriter) WriteEvent(name string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStreamClosed
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("write %s event: %w", name, err)
	}
	if terminalEvents[name] {
		if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
			return fmt.Errorf("write [DONE]: %w", err)
		}
		s.closed = true
	}
	return s.flush()
}

func (s *sseWriter) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// calloutWriter forwards the Markdown callouts written by the coordinator
// as callout events.
type calloutWriter struct {
	sse *sseWriter
}

func (c calloutWriter) Write(p []byte) (int, error) {
	if err := c.sse.WriteEvent(eventCallout, map[string]string{"markdown": string(p)}); err != nil {
		return 0, err
	}
	return len(p), nil
}
