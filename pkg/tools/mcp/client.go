package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/tools"
)

// Client wraps an MCP SDK ClientSession for a single server and
// implements tools.ToolClient.
type Client struct {
	cfg ServerConfig

	mu      sync.Mutex
	session *mcp.ClientSession
	onLost  func(*Client, error)
}

var _ tools.ToolClient = (*Client)(nil)

// NewClient creates a Client for the given server. Call Connect before
// use.
func NewClient(cfg ServerConfig) *Client {
	return &Client{cfg: cfg}
}

// Connect performs the MCP handshake using a transport derived from the
// server configuration.
func (c *Client) Connect(ctx context.Context) error {
	return c.ConnectWithTransport(ctx, nil)
}

// ConnectWithTransport performs the MCP handshake over transport. When
// transport is nil one is created from the configuration.
func (c *Client) ConnectWithTransport(ctx context.Context, transport mcp.Transport) error {
	client := mcp.NewClient(
		&mcp.Implementation{Name: "toolbridge", Version: "1.0.0"},
		&mcp.ClientOptions{Capabilities: &mcp.ClientCapabilities{}},
	)

	if transport == nil {
		t, err := newTransport(c.cfg)
		if err != nil {
			return fmt.Errorf("creating transport for %q: %w", c.cfg.ID, err)
		}
		transport = t
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return &api.ConnectionError{ServerID: c.cfg.ID, Err: err}
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	return nil
}

func newTransport(cfg ServerConfig) (mcp.Transport, error) {
	switch cfg.Transport {
	case TransportStreamableHTTP, "":
		t := &mcp.StreamableClientTransport{Endpoint: cfg.URL}
		if hc := httpClientFor(cfg); hc != nil {
			t.HTTPClient = hc
		}
		return t, nil

	case TransportSSE:
		t := &mcp.SSEClientTransport{Endpoint: cfg.URL}
		if hc := httpClientFor(cfg); hc != nil {
			t.HTTPClient = hc
		}
		return t, nil

	case TransportCommand:
		if cfg.Command == "" {
			return nil, errors.New("command transport requires a command")
		}
		cmd := exec.Command(cfg.Command, cfg.Args...)
		if len(cfg.Env) > 0 {
			env := os.Environ()
			for k, v := range cfg.Env {
				env = append(env, k+"="+v)
			}
			cmd.Env = env
		}
		return &mcp.CommandTransport{Command: cmd}, nil

	default:
		return nil, fmt.Errorf("unsupported transport type %q", cfg.Transport)
	}
}

// setConnectionLost installs fn to be told when a call finds the session
// gone. fn runs on the calling goroutine after the call has failed.
func (c *Client) setConnectionLost(fn func(*Client, error)) {
	c.mu.Lock()
	c.onLost = fn
	c.mu.Unlock()
}

// connectionLost reports err to the installed handler when it is a
// *api.ConnectionError, and returns err unchanged.
func (c *Client) connectionLost(err error) error {
	var connErr *api.ConnectionError
	if !errors.As(err, &connErr) {
		return err
	}
	c.mu.Lock()
	fn := c.onLost
	c.mu.Unlock()
	if fn != nil {
		fn(c, err)
	}
	return err
}

// isConnectionClosed reports whether err means the transport under the
// session is gone.
func isConnectionClosed(err error) bool {
	switch {
	case errors.Is(err, mcp.ErrConnectionClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed):
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "closed pipe") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "client is closing")
}

func (c *Client) currentSession() (*mcp.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, &api.ConnectionError{ServerID: c.cfg.ID, Err: errors.New("not connected")}
	}
	return c.session, nil
}

// ListTools queries the server for its tools. Results are not cached here;
// caching belongs to the discovery layer.
func (c *Client) ListTools(ctx context.Context) ([]api.ToolDefinition, error) {
	session, err := c.currentSession()
	if err != nil {
		return nil, c.connectionLost(err)
	}

	var defs []api.ToolDefinition
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			if ctx.Err() == nil && isConnectionClosed(err) {
				return nil, c.connectionLost(&api.ConnectionError{ServerID: c.cfg.ID, Err: err})
			}
			return nil, fmt.Errorf("listing tools from %q: %w", c.cfg.ID, err)
		}
		td, convErr := convertTool(tool)
		if convErr != nil {
			return nil, fmt.Errorf("converting tool %q from %q: %w", tool.Name, c.cfg.ID, convErr)
		}
		defs = append(defs, td)
	}
	return defs, nil
}

// CallTool invokes a tool with a hard timeout. A timeout that elapses
// before the caller's own context is done is reported as
// *api.TimeoutError, a closed transport as *api.ConnectionError, and a
// tool-side failure as *api.ToolExecutionError.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*api.ToolResult, error) {
	session, err := c.currentSession()
	if err != nil {
		return nil, c.connectionLost(err)
	}
	if timeout <= 0 {
		timeout = tools.DefaultCallTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := session.CallTool(callCtx, &mcp.CallToolParams{Name: name, Arguments: args})
	elapsed := time.Since(start)
	if err != nil {
		return nil, c.connectionLost(c.classify(ctx, callCtx, name, timeout, err))
	}

	if result.IsError {
		return nil, &api.ToolExecutionError{
			ServerID: c.cfg.ID,
			ToolName: name,
			Err:      errors.New(textOf(result)),
		}
	}

	out := convertResult(result)
	out.ExecutionDuration = elapsed
	return out, nil
}

func (c *Client) classify(parent, callCtx context.Context, name string, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("calling %q: %w", name, parent.Err())
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &api.TimeoutError{ToolName: name, Timeout: timeout.String()}
	}
	if isConnectionClosed(err) {
		return &api.ConnectionError{ServerID: c.cfg.ID, Err: err}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unknown tool"):
		return &api.ToolNotFoundError{ServerID: c.cfg.ID, ToolName: name}
	case strings.Contains(msg, "invalid params"), strings.Contains(msg, "validating"):
		return &api.ValidationError{ToolName: name, Message: msg}
	}
	return &api.ToolExecutionError{ServerID: c.cfg.ID, ToolName: name, Err: err}
}

// Ping checks that the session still answers.
func (c *Client) Ping(ctx context.Context) error {
	session, err := c.currentSession()
	if err != nil {
		return err
	}
	if err := session.Ping(ctx, nil); err != nil {
		return &api.ConnectionError{ServerID: c.cfg.ID, Err: err}
	}
	return nil
}

// Close closes the MCP session.
func (c *Client) Close() error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()
	if session != nil {
		return session.Close()
	}
	return nil
}

func convertTool(t *mcp.Tool) (api.ToolDefinition, error) {
	var schema json.RawMessage
	if t.InputSchema != nil {
		data, err := json.Marshal(t.InputSchema)
		if err != nil {
			return api.ToolDefinition{}, fmt.Errorf("marshaling input schema: %w", err)
		}
		schema = data
	}
	return api.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
	}, nil
}

// convertResult prefers structured content, which is reported as json;
// otherwise the text parts are joined and reported as text.
func convertResult(result *mcp.CallToolResult) *api.ToolResult {
	if result.StructuredContent != nil {
		return &api.ToolResult{Content: result.StructuredContent, ContentType: api.ContentTypeJSON}
	}
	return &api.ToolResult{Content: textOf(result), ContentType: api.ContentTypeText}
}

func textOf(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
