package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/tools"
)

// Dialer opens a connected Client for a server configuration.
type Dialer func(ctx context.Context, cfg ServerConfig) (*Client, error)

// DefaultDialer connects using the transport named in the configuration.
func DefaultDialer(ctx context.Context, cfg ServerConfig) (*Client, error) {
	c := NewClient(cfg)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Lifecycle reasons passed to the invalidator.
const (
	ReasonServerStarted      = "server-started"
	ReasonServerStopped      = "server-stopped"
	ReasonServerFailed       = "server-failed"
	ReasonServerAutoDisabled = "server-auto-disabled"
	ReasonServerReenabled    = "server-reenabled"
	ReasonServerRecovered    = "server-recovered"
)

// Registry owns the configured MCP servers and their sessions. It
// implements tools.ServerRegistry and reports lifecycle transitions
// directly to the discovery cache and the health monitor.
type Registry struct {
	dial Dialer

	mu          sync.Mutex
	order       []string
	servers     map[string]*serverState
	invalidator tools.Invalidator
	failures    tools.FailureRecorder
}

type serverState struct {
	cfg          ServerConfig
	stopped      bool
	autoDisabled bool
	client       *Client

	connecting bool
	connectCh  chan struct{}
}

var _ tools.ServerRegistry = (*Registry)(nil)

// NewRegistry creates a registry for the given servers. Order is preserved
// and determines tool-name precedence during discovery. A nil dialer uses
// DefaultDialer.
func NewRegistry(servers []ServerConfig, dial Dialer) *Registry {
	if dial == nil {
		dial = DefaultDialer
	}
	r := &Registry{
		dial:    dial,
		servers: make(map[string]*serverState, len(servers)),
	}
	for _, cfg := range servers {
		if _, dup := r.servers[cfg.ID]; dup {
			slog.Warn("duplicate MCP server id, using first definition", "server", cfg.ID)
			continue
		}
		r.order = append(r.order, cfg.ID)
		r.servers[cfg.ID] = &serverState{cfg: cfg}
	}
	return r
}

// SetListeners wires the lifecycle receivers. Either may be nil.
func (r *Registry) SetListeners(inv tools.Invalidator, failures tools.FailureRecorder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidator = inv
	r.failures = failures
}

// ListServers implements tools.ServerRegistry. Stopped and auto-disabled
// servers are reported as not enabled.
func (r *Registry) ListServers(_ context.Context) ([]api.ServerDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]api.ServerDescriptor, 0, len(r.order))
	for _, id := range r.order {
		st := r.servers[id]
		desc := st.cfg.Descriptor()
		desc.Enabled = desc.Enabled && !st.stopped && !st.autoDisabled
		out = append(out, desc)
	}
	return out, nil
}

// Config returns the configuration of a server.
func (r *Registry) Config(serverID string) (ServerConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.servers[serverID]
	if !ok {
		return ServerConfig{}, false
	}
	return st.cfg, true
}

// Client implements tools.ServerRegistry. The session is established on
// first use; concurrent callers share one connection attempt.
func (r *Registry) Client(ctx context.Context, serverID string) (tools.ToolClient, error) {
	c, err := r.connect(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	return c, nil
}

func (r *Registry) connect(ctx context.Context, serverID string) (*Client, error) {
	for {
		r.mu.Lock()
		st, ok := r.servers[serverID]
		if !ok {
			r.mu.Unlock()
			return nil, fmt.Errorf("unknown MCP server %q", serverID)
		}
		if !st.cfg.Enabled || st.stopped || st.autoDisabled {
			r.mu.Unlock()
			return nil, nil
		}
		if st.client != nil {
			c := st.client
			r.mu.Unlock()
			return c, nil
		}
		if st.connecting {
			ch := st.connectCh
			r.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ch:
				continue
			}
		}
		st.connecting = true
		st.connectCh = make(chan struct{})
		cfg := st.cfg
		r.mu.Unlock()

		c, err := r.dial(ctx, cfg)
		if err == nil {
			c.setConnectionLost(func(lost *Client, cause error) {
				r.sessionLost(serverID, lost, cause)
			})
		}

		r.mu.Lock()
		st.connecting = false
		close(st.connectCh)
		if err == nil {
			st.client = c
		}
		r.mu.Unlock()

		if err != nil {
			r.dialFailed(serverID, err)
			return nil, err
		}
		slog.Info("connected to MCP server", "server", serverID)
		return c, nil
	}
}

// Start clears a manual stop, connects the server and invalidates
// discovery.
func (r *Registry) Start(ctx context.Context, serverID string) error {
	r.mu.Lock()
	st, ok := r.servers[serverID]
	if ok {
		st.stopped = false
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown MCP server %q", serverID)
	}

	if _, err := r.connect(ctx, serverID); err != nil {
		return err
	}
	r.invalidate(ReasonServerStarted, serverID)
	return nil
}

// Stop closes the server's session and excludes it until Start.
func (r *Registry) Stop(serverID string) error {
	r.mu.Lock()
	st, ok := r.servers[serverID]
	var c *Client
	if ok {
		st.stopped = true
		c, st.client = st.client, nil
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown MCP server %q", serverID)
	}

	closeClient(serverID, c)
	r.invalidate(ReasonServerStopped, serverID)
	return nil
}

// MarkFailed drops the server's session, reports the failure to the health
// monitor and invalidates discovery.
func (r *Registry) MarkFailed(serverID string, cause error) {
	r.mu.Lock()
	st, ok := r.servers[serverID]
	var c *Client
	if ok {
		c, st.client = st.client, nil
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.failed(serverID, c, cause)
}

// sessionLost handles a call that found c's transport closed. Only the
// session currently held for the server is dropped; reports from an
// already replaced session are ignored.
func (r *Registry) sessionLost(serverID string, c *Client, cause error) {
	r.mu.Lock()
	st, ok := r.servers[serverID]
	current := ok && st.client == c
	if current {
		st.client = nil
	}
	r.mu.Unlock()
	if !current {
		return
	}
	r.failed(serverID, c, cause)
}

func (r *Registry) failed(serverID string, c *Client, cause error) {
	slog.Warn("MCP server failed", "server", serverID, "error", cause)
	closeClient(serverID, c)
	r.recordFailure(serverID, cause)
	r.invalidate(ReasonServerFailed, serverID)
}

// dialFailed reports a failed connection attempt to the health monitor.
// Discovery is left alone: the server had no session, so a cached
// snapshot already lists it without tools.
func (r *Registry) dialFailed(serverID string, cause error) {
	slog.Warn("MCP server connection failed", "server", serverID, "error", cause)
	r.recordFailure(serverID, cause)
}

func (r *Registry) recordFailure(serverID string, cause error) {
	r.mu.Lock()
	failures := r.failures
	r.mu.Unlock()
	if failures != nil {
		failures.RecordFailure(serverID, cause)
	}
}

// HandleAutoDisabled excludes a server that exhausted its retry budget.
func (r *Registry) HandleAutoDisabled(serverID string) {
	r.mu.Lock()
	st, ok := r.servers[serverID]
	var c *Client
	if ok {
		st.autoDisabled = true
		c, st.client = st.client, nil
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	closeClient(serverID, c)
	r.invalidate(ReasonServerAutoDisabled, serverID)
}

// Reenable clears an auto-disable so the server is selectable again.
func (r *Registry) Reenable(serverID string) {
	r.mu.Lock()
	st, ok := r.servers[serverID]
	if ok {
		st.autoDisabled = false
	}
	r.mu.Unlock()
	if ok {
		r.invalidate(ReasonServerReenabled, serverID)
	}
}

// HandleRecovered invalidates discovery once a failing server answers
// again, so its tools are listed on the next build.
func (r *Registry) HandleRecovered(serverID string) {
	r.mu.Lock()
	_, ok := r.servers[serverID]
	r.mu.Unlock()
	if ok {
		r.invalidate(ReasonServerRecovered, serverID)
	}
}

// Probe opens a fresh session to the server and closes it again. It does
// not touch the registry's shared session.
func (r *Registry) Probe(ctx context.Context, serverID string) error {
	cfg, ok := r.Config(serverID)
	if !ok {
		return fmt.Errorf("unknown MCP server %q", serverID)
	}
	c, err := r.dial(ctx, cfg)
	if err != nil {
		return err
	}
	return c.Close()
}

// Close closes every open session.
func (r *Registry) Close() error {
	r.mu.Lock()
	var clients []*Client
	for _, id := range r.order {
		st := r.servers[id]
		if st.client != nil {
			clients = append(clients, st.client)
			st.client = nil
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) invalidate(reason, serverID string) {
	r.mu.Lock()
	inv := r.invalidator
	r.mu.Unlock()
	if inv != nil {
		inv.Invalidate(reason + ":" + serverID)
	}
}

func closeClient(serverID string, c *Client) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		slog.Warn("failed to close MCP client", "server", serverID, "error", err)
	}
}
