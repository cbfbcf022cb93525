package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rhuss/toolbridge/pkg/api"
)

// startTestServer runs an in-memory MCP server with the given tools and
// returns a connected Client.
func startTestServer(t *testing.T, cfg ServerConfig, handlers map[string]mcp.ToolHandler) *Client {
	t.Helper()

	server := mcp.NewServer(&mcp.Implementation{Name: "test-server", Version: "1.0.0"}, nil)
	for name, h := range handlers {
		server.AddTool(&mcp.Tool{
			Name:        name,
			Description: "Test tool: " + name,
			InputSchema: map[string]any{"type": "object"},
		}, h)
	}

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = server.Run(ctx, serverTransport) }()

	c := NewClient(cfg)
	if err := c.ConnectWithTransport(context.Background(), clientTransport); err != nil {
		cancel()
		t.Fatalf("ConnectWithTransport: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
		cancel()
	})
	return c
}

func textResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: s}}}
}

func TestClient_ListTools(t *testing.T) {
	c := startTestServer(t, ServerConfig{ID: "weather"}, map[string]mcp.ToolHandler{
		"get_weather": func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return textResult("sunny"), nil
		},
		"get_time": func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return textResult("12:00"), nil
		},
	})

	defs, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("got %d tools, want 2", len(defs))
	}
	for _, d := range defs {
		var schema map[string]any
		if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
			t.Errorf("tool %q schema not JSON: %v", d.Name, err)
		}
		if schema["type"] != "object" {
			t.Errorf("tool %q schema type = %v", d.Name, schema["type"])
		}
	}
}

func TestClient_CallToolText(t *testing.T) {
	c := startTestServer(t, ServerConfig{ID: "greeter"}, map[string]mcp.ToolHandler{
		"greet": func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return nil, err
			}
			return textResult("Hello, " + args.Name + "!"), nil
		},
	})

	res, err := c.CallTool(context.Background(), "greet", map[string]any{"name": "World"}, time.Second)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.ContentType != api.ContentTypeText {
		t.Errorf("ContentType = %q, want text", res.ContentType)
	}
	if res.Content != "Hello, World!" {
		t.Errorf("Content = %v", res.Content)
	}
}

func TestClient_CallToolStructured(t *testing.T) {
	c := startTestServer(t, ServerConfig{ID: "weather"}, map[string]mcp.ToolHandler{
		"forecast": func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{
				Content:           []mcp.Content{&mcp.TextContent{Text: `{"temp":72}`}},
				StructuredContent: map[string]any{"temp": 72},
			}, nil
		},
	})

	res, err := c.CallTool(context.Background(), "forecast", nil, time.Second)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.ContentType != api.ContentTypeJSON {
		t.Fatalf("ContentType = %q, want json", res.ContentType)
	}
	m, ok := res.Content.(map[string]any)
	if !ok {
		t.Fatalf("Content type = %T, want map", res.Content)
	}
	if m["temp"] != float64(72) {
		t.Errorf("temp = %v", m["temp"])
	}
}

func TestClient_CallToolIsError(t *testing.T) {
	c := startTestServer(t, ServerConfig{ID: "broken"}, map[string]mcp.ToolHandler{
		"fail": func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			r := textResult("something went wrong")
			r.IsError = true
			return r, nil
		},
	})

	_, err := c.CallTool(context.Background(), "fail", nil, time.Second)
	var execErr *api.ToolExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ToolExecutionError, got %v", err)
	}
	if execErr.ServerID != "broken" || execErr.Err.Error() != "something went wrong" {
		t.Errorf("unexpected error fields: %+v", execErr)
	}
}

func TestClient_CallToolTimeout(t *testing.T) {
	c := startTestServer(t, ServerConfig{ID: "slow"}, map[string]mcp.ToolHandler{
		"sleep": func(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
			return textResult("late"), nil
		},
	})

	_, err := c.CallTool(context.Background(), "sleep", nil, 50*time.Millisecond)
	var timeoutErr *api.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
}

func TestClient_CallToolParentCancelled(t *testing.T) {
	c := startTestServer(t, ServerConfig{ID: "slow"}, map[string]mcp.ToolHandler{
		"sleep": func(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			<-ctx.Done()
			return textResult("cancelled"), nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := c.CallTool(ctx, "sleep", nil, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClient_NotConnected(t *testing.T) {
	c := NewClient(ServerConfig{ID: "nowhere"})
	_, err := c.ListTools(context.Background())
	var connErr *api.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close on unconnected client: %v", err)
	}
}

func TestClient_ConnectionLostHandler(t *testing.T) {
	c := NewClient(ServerConfig{ID: "nowhere"})
	var lost []error
	c.setConnectionLost(func(got *Client, err error) {
		if got != c {
			t.Error("handler called with another client")
		}
		lost = append(lost, err)
	})

	if _, err := c.CallTool(context.Background(), "x", nil, time.Second); err == nil {
		t.Fatal("expected error")
	}
	if _, err := c.ListTools(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(lost) != 2 {
		t.Errorf("handler calls = %d, want 2", len(lost))
	}
}

func TestClient_ToolErrorDoesNotReportLoss(t *testing.T) {
	c := startTestServer(t, ServerConfig{ID: "broken"}, map[string]mcp.ToolHandler{
		"fail": func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			r := textResult("nope")
			r.IsError = true
			return r, nil
		},
	})
	called := false
	c.setConnectionLost(func(*Client, error) { called = true })

	if _, err := c.CallTool(context.Background(), "fail", nil, time.Second); err == nil {
		t.Fatal("expected error")
	}
	if called {
		t.Error("tool-side error reported as a lost connection")
	}
}

func TestClient_Classify(t *testing.T) {
	c := NewClient(ServerConfig{ID: "srv"})
	ctx := context.Background()
	tests := []struct {
		name string
		err  error
		want api.ErrorType
	}{
		{"unknown tool", errors.New(`unknown tool "nope"`), api.ErrorTypeToolNotFound},
		{"invalid params", errors.New("invalid params: missing city"), api.ErrorTypeValidation},
		{"other", errors.New("boom"), api.ErrorTypeToolExecution},
		{"connection closed", fmt.Errorf("calling %q: %w", "tools/call", mcp.ErrConnectionClosed), api.ErrorTypeConnection},
		{"eof", fmt.Errorf("reading response: %w", io.EOF), api.ErrorTypeConnection},
		{"closed pipe", io.ErrClosedPipe, api.ErrorTypeConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.classify(ctx, ctx, "tool", time.Second, tt.err)
			if api.ErrorTypeOf(got) != tt.want {
				t.Errorf("classify() type = %q, want %q", api.ErrorTypeOf(got), tt.want)
			}
		})
	}
}

func TestNewTransport(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		want    string
		wantErr bool
	}{
		{"default", ServerConfig{URL: "http://x/mcp"}, "*mcp.StreamableClientTransport", false},
		{"sse", ServerConfig{Transport: TransportSSE, URL: "http://x/sse"}, "*mcp.SSEClientTransport", false},
		{"command", ServerConfig{Transport: TransportCommand, Command: "echo"}, "*mcp.CommandTransport", false},
		{"command without binary", ServerConfig{Transport: TransportCommand}, "", true},
		{"unknown", ServerConfig{Transport: "grpc"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := newTransport(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newTransport() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := typeName(tr); got != tt.want {
				t.Errorf("transport type = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *mcp.StreamableClientTransport:
		return "*mcp.StreamableClientTransport"
	case *mcp.SSEClientTransport:
		return "*mcp.SSEClientTransport"
	case *mcp.CommandTransport:
		return "*mcp.CommandTransport"
	}
	return "unknown"
}
