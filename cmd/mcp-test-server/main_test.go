package main

import (
	"context"
	"encoding/json"
	"slices"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func connect(t *testing.T) *mcp.ClientSession {
	t.Helper()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = newServer().Run(ctx, serverTransport) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v1.0.0"}, nil)
	session, err := client.Connect(context.Background(), clientTransport, nil)
	if err != nil {
		cancel()
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		_ = session.Close()
		cancel()
	})
	return session
}

func TestTools(t *testing.T) {
	session := connect(t)
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	slices.Sort(names)
	want := []string{"echo", "fail", "get_forecast", "get_weather", "slow"}
	if !slices.Equal(names, want) {
		t.Errorf("tools = %v, want %v", names, want)
	}
}

func TestCallTools(t *testing.T) {
	session := connect(t)
	tests := []struct {
		tool    string
		args    map[string]any
		wantErr bool
		text    string
	}{
		{"get_weather", map[string]any{"location": "Berlin"}, false, "Berlin: sunny, 22°C"},
		{"echo", map[string]any{"message": "hi"}, false, "Echo: hi"},
		{"fail", map[string]any{}, true, "upstream service returned 503"},
		{"slow", map[string]any{"seconds": 0}, false, "slept 0s"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: tt.tool, Arguments: tt.args})
			if err != nil {
				t.Fatalf("CallTool: %v", err)
			}
			if res.IsError != tt.wantErr {
				t.Errorf("IsError = %v, want %v", res.IsError, tt.wantErr)
			}
			if len(res.Content) == 0 {
				t.Fatal("no content")
			}
			text, ok := res.Content[0].(*mcp.TextContent)
			if !ok || text.Text != tt.text {
				t.Errorf("content = %#v, want text %q", res.Content[0], tt.text)
			}
		})
	}
}

func TestForecastStructured(t *testing.T) {
	session := connect(t)
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "get_forecast",
		Arguments: map[string]any{"location": "Oslo", "days": 10},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	raw, err := json.Marshal(res.StructuredContent)
	if err != nil {
		t.Fatal(err)
	}
	var out forecastOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decoding structured content: %v", err)
	}
	if out.Location != "Oslo" || len(out.Days) != 7 {
		t.Errorf("forecast = %s with %d days, want Oslo with 7", out.Location, len(out.Days))
	}
}
