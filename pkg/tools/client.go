package tools

import (
	"context"
	"time"

	"github.com/rhuss/toolbridge/pkg/api"
)

// DefaultCallTimeout bounds a single tool call independently of any
// caller-supplied cancellation.
const DefaultCallTimeout = 30 * time.Second

// ToolClient is an already-connected client for one tool server.
type ToolClient interface {
	// ListTools returns the tools advertised by the server.
	ListTools(ctx context.Context) ([]api.ToolDefinition, error)

	// CallTool invokes a tool. Implementations enforce timeout on their
	// own, returning *api.TimeoutError when it elapses.
	CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*api.ToolResult, error)
}

// ServerRegistry owns the set of configured servers and their clients.
type ServerRegistry interface {
	// ListServers returns all known servers in a stable order. Disabled
	// servers are included with Enabled set to false.
	ListServers(ctx context.Context) ([]api.ServerDescriptor, error)

	// Client returns a connected client for the server. A nil client
	// with a nil error means the server is known but not running.
	Client(ctx context.Context, serverID string) (ToolClient, error)
}

// Invalidator receives cache invalidation requests from server lifecycle
// transitions.
type Invalidator interface {
	Invalidate(reason string)
}

// FailureRecorder receives direct failure reports for a server.
type FailureRecorder interface {
	RecordFailure(serverID string, err error)
}
