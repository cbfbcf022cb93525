package api

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// DeploymentType describes how a tool server is run.
type DeploymentType string

const (
	// DeploymentManaged servers run as sandbox pods whose status is
	// observable through the cluster API.
	DeploymentManaged DeploymentType = "managed"

	// DeploymentExternal servers are reachable only over their transport.
	DeploymentExternal DeploymentType = "external"
)

// ServerDescriptor identifies one tool-providing server. It is owned by the
// server registry and treated as read-only by the orchestration layer.
type ServerDescriptor struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Enabled        bool           `json:"enabled"`
	DeploymentType DeploymentType `json:"deployment_type"`
}

// ToolDefinition is a tool as advertised by a server. InputSchema is a
// JSON Schema object passed through verbatim to vendor adapters.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolServerInfo points from a tool name back to its owning server.
type ToolServerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ServerTools lists the tools contributed by one server to a snapshot.
type ServerTools struct {
	ServerID   string           `json:"serverId"`
	ServerName string           `json:"serverName"`
	Tools      []ToolDefinition `json:"tools"`
}

// Snapshot is the discovery index. A snapshot is never patched in place;
// the cache replaces it wholesale on rebuild.
type Snapshot struct {
	Mapping map[string]ToolServerInfo `json:"mapping"`
	Servers []ServerTools             `json:"servers"`
	BuiltAt time.Time                 `json:"builtAt"`
}

// NewSnapshot derives the tool mapping from servers. On a name collision
// the first server in iteration order wins.
func NewSnapshot(servers []ServerTools, builtAt time.Time) *Snapshot {
	mapping := make(map[string]ToolServerInfo)
	for _, s := range servers {
		for _, t := range s.Tools {
			if _, exists := mapping[t.Name]; exists {
				continue
			}
			mapping[t.Name] = ToolServerInfo{ID: s.ServerID, Name: s.ServerName}
		}
	}
	return &Snapshot{Mapping: mapping, Servers: servers, BuiltAt: builtAt}
}

// Clone returns a deep copy whose maps and slices share nothing with s.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Mapping: maps.Clone(s.Mapping),
		Servers: make([]ServerTools, len(s.Servers)),
		BuiltAt: s.BuiltAt,
	}
	for i, st := range s.Servers {
		st.Tools = slices.Clone(st.Tools)
		out.Servers[i] = st
	}
	return out
}

// ToolCount returns the number of tools across all servers, including
// tools shadowed by an earlier server.
func (s *Snapshot) ToolCount() int {
	n := 0
	for _, st := range s.Servers {
		n += len(st.Tools)
	}
	return n
}

// ExecutionSource identifies who initiated a tool execution.
type ExecutionSource string

const (
	SourceUserCodeblock ExecutionSource = "user-codeblock"
	SourceAIAutonomous  ExecutionSource = "ai-autonomous"
)

// ExecutionStatus is the lifecycle state of a history entry.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusSuccess   ExecutionStatus = "success"
	StatusError     ExecutionStatus = "error"
	StatusTimeout   ExecutionStatus = "timeout"
	StatusCancelled ExecutionStatus = "cancelled"
)

// ExecutionHistoryEntry records one tool execution. It is created pending
// and finalized exactly once.
type ExecutionHistoryEntry struct {
	RequestID    string          `json:"requestId"`
	ServerID     string          `json:"serverId"`
	ServerName   string          `json:"serverName"`
	ToolName     string          `json:"toolName"`
	Source       ExecutionSource `json:"source,omitempty"`
	DocumentPath string          `json:"documentPath,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Duration     time.Duration   `json:"duration"`
	Status       ExecutionStatus `json:"status"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// ConnectionState is the health state of one server.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateError        ConnectionState = "ERROR"
)

// RetryState tracks the backoff schedule of a failing server.
type RetryState struct {
	IsRetrying       bool            `json:"isRetrying"`
	CurrentAttempt   int             `json:"currentAttempt"`
	NextRetryAt      *time.Time      `json:"nextRetryAt,omitempty"`
	BackoffIntervals []time.Duration `json:"backoffIntervals"`
}

// ServerHealthStatus is the health record of one server. AutoDisabledAt is
// terminal until the server is re-enabled.
type ServerHealthStatus struct {
	ServerID            string          `json:"serverId"`
	ConnectionState     ConnectionState `json:"connectionState"`
	LastPingAt          *time.Time      `json:"lastPingAt,omitempty"`
	ConsecutiveFailures int             `json:"consecutiveFailures"`
	RetryState          RetryState      `json:"retryState"`
	AutoDisabledAt      *time.Time      `json:"autoDisabledAt,omitempty"`
	LastError           string          `json:"lastError,omitempty"`
}

// Clone returns a copy that shares no pointers with s.
func (s ServerHealthStatus) Clone() ServerHealthStatus {
	out := s
	out.LastPingAt = cloneTime(s.LastPingAt)
	out.AutoDisabledAt = cloneTime(s.AutoDisabledAt)
	out.RetryState.NextRetryAt = cloneTime(s.RetryState.NextRetryAt)
	out.RetryState.BackoffIntervals = slices.Clone(s.RetryState.BackoffIntervals)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ToolCall is the vendor-independent representation of a tool invocation
// requested by a model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Role is the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one unit of conversation passed between the coordinator and
// a provider adapter.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Content types reported in a ToolResult.
const (
	ContentTypeText = "text"
	ContentTypeJSON = "json"
)

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	Content           any           `json:"content"`
	ContentType       string        `json:"contentType"`
	ExecutionDuration time.Duration `json:"executionDuration"`
}
