package api

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of an orchestration error.
type ErrorType string

const (
	ErrorTypeConnection         ErrorType = "connection_error"
	ErrorTypeToolNotFound       ErrorType = "tool_not_found"
	ErrorTypeValidation         ErrorType = "validation_error"
	ErrorTypeTimeout            ErrorType = "timeout"
	ErrorTypeExecutionLimit     ErrorType = "execution_limit"
	ErrorTypeServerNotAvailable ErrorType = "server_not_available"
	ErrorTypeToolExecution      ErrorType = "tool_execution_error"
	ErrorTypeCancelled          ErrorType = "cancelled"
)

// TypedError is implemented by every error in the taxonomy.
type TypedError interface {
	error
	Type() ErrorType
}

// ErrorTypeOf returns the taxonomy type of err, looking through wrapping.
// Untyped errors report ErrorTypeToolExecution.
func ErrorTypeOf(err error) ErrorType {
	var te TypedError
	if errors.As(err, &te) {
		return te.Type()
	}
	return ErrorTypeToolExecution
}

// ConnectionError reports that a server is unreachable or its handshake
// failed.
type ConnectionError struct {
	ServerID string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to server %q failed: %v", e.ServerID, e.Err)
}
func (e *ConnectionError) Unwrap() error   { return e.Err }
func (e *ConnectionError) Type() ErrorType { return ErrorTypeConnection }

// ToolNotFoundError reports that a server does not know the requested tool.
type ToolNotFoundError struct {
	ServerID string
	ToolName string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found on server %q", e.ToolName, e.ServerID)
}
func (e *ToolNotFoundError) Type() ErrorType { return ErrorTypeToolNotFound }

// ValidationError reports parameters rejected by a server.
type ValidationError struct {
	ToolName string
	Message  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameters for tool %q: %s", e.ToolName, e.Message)
}
func (e *ValidationError) Type() ErrorType { return ErrorTypeValidation }

// TimeoutError reports that a per-call timeout elapsed.
type TimeoutError struct {
	ToolName string
	Timeout  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %q timed out after %s", e.ToolName, e.Timeout)
}
func (e *TimeoutError) Type() ErrorType { return ErrorTypeTimeout }

// LimitType names the resource that blocked an execution.
type LimitType string

const (
	LimitStopped    LimitType = "stopped"
	LimitConcurrent LimitType = "concurrent"
	LimitSession    LimitType = "session"
)

// ExecutionLimitError reports that an execution was refused by admission
// control. The counters reflect the tracker at the time of refusal.
type ExecutionLimitError struct {
	LimitType       LimitType
	Active          int
	ConcurrentLimit int
	TotalExecuted   int
	SessionLimit    int
}

func (e *ExecutionLimitError) Error() string {
	switch e.LimitType {
	case LimitStopped:
		return "tool execution is stopped"
	case LimitConcurrent:
		return fmt.Sprintf("concurrent execution limit reached (%d/%d active)", e.Active, e.ConcurrentLimit)
	default:
		return fmt.Sprintf("session execution limit reached (%d/%d executed)", e.TotalExecuted, e.SessionLimit)
	}
}
func (e *ExecutionLimitError) Type() ErrorType { return ErrorTypeExecutionLimit }

// ServerNotAvailableError reports that the target server is disabled or
// has no connected client.
type ServerNotAvailableError struct {
	ServerID string
}

func (e *ServerNotAvailableError) Error() string {
	return fmt.Sprintf("server %q is not available", e.ServerID)
}
func (e *ServerNotAvailableError) Type() ErrorType { return ErrorTypeServerNotAvailable }

// ToolExecutionError wraps an arbitrary failure with server and tool
// context.
type ToolExecutionError struct {
	ServerID string
	ToolName string
	Err      error
}

func (e *ToolExecutionError) Error() string {
	if e.ServerID == "" {
		return fmt.Sprintf("tool %q failed: %v", e.ToolName, e.Err)
	}
	return fmt.Sprintf("tool %q on server %q failed: %v", e.ToolName, e.ServerID, e.Err)
}
func (e *ToolExecutionError) Unwrap() error   { return e.Err }
func (e *ToolExecutionError) Type() ErrorType { return ErrorTypeToolExecution }

// CancelledError reports that an execution was cancelled before or while
// running.
type CancelledError struct{}

func (e *CancelledError) Error() string   { return "Tool execution was cancelled" }
func (e *CancelledError) Type() ErrorType { return ErrorTypeCancelled }
