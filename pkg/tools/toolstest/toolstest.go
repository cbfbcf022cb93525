// Package toolstest provides in-memory implementations of the tools
// contracts for use in tests.
package toolstest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/tools"
)

// Client is a scriptable tools.ToolClient that counts its calls.
type Client struct {
	Tools []api.ToolDefinition

	// ListErr is returned from ListTools when set.
	ListErr error

	// ListDelay is slept inside ListTools, honoring ctx.
	ListDelay time.Duration

	// CallFn handles CallTool. When nil, CallTool echoes the arguments
	// as json content.
	CallFn func(ctx context.Context, name string, args map[string]any) (*api.ToolResult, error)

	listCalls atomic.Int32
	callCalls atomic.Int32

	mu       sync.Mutex
	timeouts []time.Duration
}

var _ tools.ToolClient = (*Client)(nil)

// ListTools implements tools.ToolClient.
func (c *Client) ListTools(ctx context.Context) ([]api.ToolDefinition, error) {
	c.listCalls.Add(1)
	if c.ListDelay > 0 {
		select {
		case <-time.After(c.ListDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	return append([]api.ToolDefinition(nil), c.Tools...), nil
}

// CallTool implements tools.ToolClient.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*api.ToolResult, error) {
	c.callCalls.Add(1)
	c.mu.Lock()
	c.timeouts = append(c.timeouts, timeout)
	c.mu.Unlock()

	if c.CallFn != nil {
		return c.CallFn(ctx, name, args)
	}
	return &api.ToolResult{Content: args, ContentType: api.ContentTypeJSON}, nil
}

// ListCalls returns how many times ListTools ran.
func (c *Client) ListCalls() int { return int(c.listCalls.Load()) }

// CallCalls returns how many times CallTool ran.
func (c *Client) CallCalls() int { return int(c.callCalls.Load()) }

// Timeouts returns the timeouts passed to CallTool in order.
func (c *Client) Timeouts() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.timeouts...)
}

// Registry is an ordered in-memory tools.ServerRegistry.
type Registry struct {
	mu      sync.Mutex
	servers []api.ServerDescriptor
	clients map[string]tools.ToolClient
}

var _ tools.ServerRegistry = (*Registry)(nil)

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]tools.ToolClient)}
}

// Add registers an enabled external server. A nil client models a server
// that is configured but not running.
func (r *Registry) Add(id, name string, client tools.ToolClient) *Registry {
	return r.AddServer(api.ServerDescriptor{
		ID:             id,
		Name:           name,
		Enabled:        true,
		DeploymentType: api.DeploymentExternal,
	}, client)
}

// AddServer registers a server with an explicit descriptor.
func (r *Registry) AddServer(desc api.ServerDescriptor, client tools.ToolClient) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers = append(r.servers, desc)
	if client != nil {
		r.clients[desc.ID] = client
	}
	return r
}

// SetEnabled toggles a server's Enabled flag.
func (r *Registry) SetEnabled(id string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.servers {
		if r.servers[i].ID == id {
			r.servers[i].Enabled = enabled
		}
	}
}

// ListServers implements tools.ServerRegistry.
func (r *Registry) ListServers(_ context.Context) ([]api.ServerDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.ServerDescriptor(nil), r.servers...), nil
}

// Client implements tools.ServerRegistry.
func (r *Registry) Client(_ context.Context, serverID string) (tools.ToolClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.servers {
		if s.ID == serverID {
			return r.clients[serverID], nil
		}
	}
	return nil, fmt.Errorf("unknown server %q", serverID)
}
