package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/debug"
	"github.com/rhuss/toolbridge/pkg/observability"
	"github.com/rhuss/toolbridge/pkg/tools"
)

// Request describes one tool execution.
type Request struct {
	ServerID     string
	ToolName     string
	Parameters   map[string]any
	Source       api.ExecutionSource
	DocumentPath string
	SectionLine  int
}

// Result is a successful execution together with its request ID.
type Result struct {
	api.ToolResult
	RequestID string `json:"requestId"`
}

// Stats is a point-in-time view of the execution tracker.
type Stats struct {
	Active          int    `json:"active"`
	TotalExecuted   int    `json:"totalExecuted"`
	ConcurrentLimit int    `json:"concurrentLimit"`
	SessionLimit    int    `json:"sessionLimit"`
	Stopped         bool   `json:"stopped"`
	CurrentDocument string `json:"currentDocument,omitempty"`
	DocumentCount   int    `json:"documentCount"`
}

// HistoryRecorder persists finalized history entries.
type HistoryRecorder interface {
	RecordExecution(ctx context.Context, entry api.ExecutionHistoryEntry) error
}

// Executor gatekeeps tool executions against concurrency and session
// limits, tracks per-document counts, supports cancellation, and keeps a
// bounded history.
type Executor struct {
	registry    tools.ServerRegistry
	recorder    HistoryRecorder
	callTimeout time.Duration
	historyMax  int
	now         func() time.Time

	mu              sync.Mutex
	concurrentLimit int
	sessionLimit    int
	active          map[string]context.CancelFunc
	totalExecuted   int
	stopped         bool
	history         []api.ExecutionHistoryEntry
	documentCounts  map[string]int
	currentDocument string
}

// New creates an Executor resolving clients through registry. recorder
// may be nil.
func New(registry tools.ServerRegistry, cfg Config, recorder HistoryRecorder) *Executor {
	return &Executor{
		registry:        registry,
		recorder:        recorder,
		callTimeout:     cfg.callTimeout(),
		historyMax:      cfg.historyLimit(),
		now:             time.Now,
		concurrentLimit: cfg.concurrentLimit(),
		sessionLimit:    cfg.sessionLimit(),
		active:          make(map[string]context.CancelFunc),
		documentCounts:  make(map[string]int),
	}
}

// ExecuteTool runs a tool and returns its result.
func (e *Executor) ExecuteTool(ctx context.Context, req Request) (*api.ToolResult, error) {
	res, err := e.ExecuteToolWithID(ctx, req)
	if err != nil {
		return nil, err
	}
	return &res.ToolResult, nil
}

// ExecuteToolWithID runs a tool and returns its result with the generated
// request ID. The ID can be passed to CancelExecution while the call is in
// flight.
func (e *Executor) ExecuteToolWithID(ctx context.Context, req Request) (res *Result, err error) {
	requestID := api.NewRequestID()
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := e.admit(requestID, cancel); err != nil {
		return nil, err
	}

	client, resolveErr := e.registry.Client(execCtx, req.ServerID)
	if resolveErr != nil || client == nil {
		e.release(requestID)
		if resolveErr != nil {
			slog.Warn("tool server unavailable", "server", req.ServerID, "error", resolveErr)
		}
		return nil, &api.ServerNotAvailableError{ServerID: req.ServerID}
	}

	start := e.now()
	entry := api.ExecutionHistoryEntry{
		RequestID:    requestID,
		ServerID:     req.ServerID,
		ServerName:   e.serverName(execCtx, req.ServerID),
		ToolName:     req.ToolName,
		Source:       req.Source,
		DocumentPath: req.DocumentPath,
		Timestamp:    start,
		Status:       api.StatusPending,
	}
	observability.ToolExecutionsActive.Inc()
	debug.Log("executor", "tool execution started",
		"request_id", requestID,
		"server", req.ServerID,
		"tool", req.ToolName,
		"source", req.Source,
	)

	defer func() {
		entry.Duration = e.now().Sub(start)
		e.finish(ctx, entry, req.DocumentPath)
	}()

	if execCtx.Err() != nil {
		entry.Status = api.StatusCancelled
		entry.ErrorMessage = (&api.CancelledError{}).Error()
		return nil, &api.CancelledError{}
	}

	out, callErr := client.CallTool(execCtx, req.ToolName, req.Parameters, e.callTimeout)
	if callErr != nil {
		entry.Status, err = e.classify(execCtx, req, callErr)
		entry.ErrorMessage = err.Error()
		return nil, err
	}

	entry.Status = api.StatusSuccess
	result := *out
	result.ExecutionDuration = e.now().Sub(start)
	return &Result{ToolResult: result, RequestID: requestID}, nil
}

// classify maps a client failure to a history status and the error
// returned to the caller.
func (e *Executor) classify(execCtx context.Context, req Request, err error) (api.ExecutionStatus, error) {
	var timeoutErr *api.TimeoutError
	switch {
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		if timeoutErr == nil {
			return api.StatusTimeout, &api.TimeoutError{ToolName: req.ToolName, Timeout: e.callTimeout.String()}
		}
		return api.StatusTimeout, err
	case errors.Is(execCtx.Err(), context.Canceled):
		return api.StatusCancelled, &api.CancelledError{}
	}

	var typed api.TypedError
	if errors.As(err, &typed) {
		return api.StatusError, err
	}
	return api.StatusError, &api.ToolExecutionError{ServerID: req.ServerID, ToolName: req.ToolName, Err: err}
}

// admit checks the limits and registers the request as active in one
// critical section.
func (e *Executor) admit(requestID string, cancel context.CancelFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if limit := e.limitLocked(); limit != "" {
		observability.ExecutionLimitRejectionsTotal.WithLabelValues(string(limit)).Inc()
		return &api.ExecutionLimitError{
			LimitType:       limit,
			Active:          len(e.active),
			ConcurrentLimit: e.concurrentLimit,
			TotalExecuted:   e.totalExecuted,
			SessionLimit:    e.sessionLimit,
		}
	}
	e.active[requestID] = cancel
	return nil
}

func (e *Executor) limitLocked() api.LimitType {
	switch {
	case e.stopped:
		return api.LimitStopped
	case len(e.active) >= e.concurrentLimit:
		return api.LimitConcurrent
	case e.sessionLimit != Unlimited && e.totalExecuted >= e.sessionLimit:
		return api.LimitSession
	}
	return ""
}

func (e *Executor) release(requestID string) {
	e.mu.Lock()
	delete(e.active, requestID)
	e.mu.Unlock()
}

// finish runs exactly once per admitted execution that reached a client.
func (e *Executor) finish(ctx context.Context, entry api.ExecutionHistoryEntry, documentPath string) {
	e.mu.Lock()
	delete(e.active, entry.RequestID)
	e.totalExecuted++
	if documentPath != "" {
		e.documentCounts[documentPath]++
	}
	e.history = append(e.history, entry)
	if over := len(e.history) - e.historyMax; over > 0 {
		e.history = append(e.history[:0:0], e.history[over:]...)
	}
	e.mu.Unlock()

	observability.ToolExecutionsActive.Dec()
	observability.ToolExecutionsTotal.WithLabelValues(entry.ServerID, entry.ToolName, string(entry.Status)).Inc()
	observability.ToolExecutionDuration.WithLabelValues(entry.ServerID, entry.ToolName).Observe(entry.Duration.Seconds())

	if entry.Status == api.StatusSuccess {
		debug.Log("executor", "tool execution finished", "request_id", entry.RequestID, "duration", entry.Duration)
	} else {
		slog.Warn("tool execution failed",
			"request_id", entry.RequestID,
			"server", entry.ServerID,
			"tool", entry.ToolName,
			"status", entry.Status,
			"error", entry.ErrorMessage,
		)
	}

	if e.recorder != nil {
		if err := e.recorder.RecordExecution(context.WithoutCancel(ctx), entry); err != nil {
			slog.Warn("failed to persist execution history", "request_id", entry.RequestID, "error", err)
		}
	}
}

func (e *Executor) serverName(ctx context.Context, serverID string) string {
	servers, err := e.registry.ListServers(ctx)
	if err != nil {
		return serverID
	}
	for _, s := range servers {
		if s.ID == serverID {
			return s.Name
		}
	}
	return serverID
}

// CanExecute reports whether an execution would currently be admitted.
// Admission is global; documentPath is accepted for callers that scope
// their checks per document and does not change the outcome.
func (e *Executor) CanExecute(documentPath string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limitLocked() == ""
}

// Stats returns the current tracker counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Active:          len(e.active),
		TotalExecuted:   e.totalExecuted,
		ConcurrentLimit: e.concurrentLimit,
		SessionLimit:    e.sessionLimit,
		Stopped:         e.stopped,
		CurrentDocument: e.currentDocument,
		DocumentCount:   e.documentCounts[e.currentDocument],
	}
}

// SwitchDocument changes the active document without touching global
// counters.
func (e *Executor) SwitchDocument(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentDocument = path
}

// ClearDocumentSession forgets a document's counter entirely.
func (e *Executor) ClearDocumentSession(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.documentCounts, path)
	if e.currentDocument == path {
		e.currentDocument = ""
	}
}

// ResetSessionCount zeroes a document's counter.
func (e *Executor) ResetSessionCount(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.documentCounts[path]; ok {
		e.documentCounts[path] = 0
	}
}

// TotalSessionCount returns the number of executions recorded for a
// document.
func (e *Executor) TotalSessionCount(path string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.documentCounts[path]
}

// Stop blocks all further executions and cancels those in flight.
func (e *Executor) Stop() {
	e.mu.Lock()
	e.stopped = true
	cancels := make([]context.CancelFunc, 0, len(e.active))
	for _, cancel := range e.active {
		cancels = append(cancels, cancel)
	}
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	slog.Info("tool execution stopped", "cancelled", len(cancels))
}

// Reset clears counters, document sessions, history and the stop flag.
// In-flight executions are unaffected.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalExecuted = 0
	e.stopped = false
	e.history = nil
	clear(e.documentCounts)
}

// History returns the retained history, oldest first.
func (e *Executor) History() []api.ExecutionHistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]api.ExecutionHistoryEntry(nil), e.history...)
}

// CancelExecution cancels an in-flight execution. It reports whether the
// request was still active; unknown or finished IDs are a no-op.
func (e *Executor) CancelExecution(requestID string) bool {
	e.mu.Lock()
	cancel, ok := e.active[requestID]
	e.mu.Unlock()
	if ok {
		cancel()
		debug.Log("executor", "tool execution cancelled", "request_id", requestID)
	}
	return ok
}

// ActiveRequests returns the IDs of in-flight executions.
func (e *Executor) ActiveRequests() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	return ids
}
