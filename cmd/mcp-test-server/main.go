// Command mcp-test-server runs a small MCP server for exercising
// toolbridge end to end. It offers get_weather, get_forecast, echo, fail
// and slow, over streamable HTTP on /mcp (default) or over stdio with
// -stdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type locationInput struct {
	Location string `json:"location" jsonschema:"city name"`
}

type forecastInput struct {
	Location string `json:"location" jsonschema:"city name"`
	Days     int    `json:"days,omitempty" jsonschema:"number of days, 1 to 7"`
}

type forecastDay struct {
	Date      string `json:"date"`
	Condition string `json:"condition"`
	HighC     int    `json:"high_c"`
}

type forecastOutput struct {
	Location string        `json:"location"`
	Days     []forecastDay `json:"days"`
}

type echoInput struct {
	Message string `json:"message" jsonschema:"the message to echo back"`
}

type slowInput struct {
	Seconds int `json:"seconds" jsonschema:"how long to sleep"`
}

var conditions = []string{"sunny", "cloudy", "rain", "windy"}

func newServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "toolbridge-test-mcp", Version: "v1.0.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_weather",
		Description: "Returns the current weather for a location",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in locationInput) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%s: sunny, 22°C", in.Location)}},
		}, nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_forecast",
		Description: "Returns a multi-day forecast as structured data",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in forecastInput) (*mcp.CallToolResult, forecastOutput, error) {
		days := min(max(in.Days, 1), 7)
		out := forecastOutput{Location: in.Location}
		start := time.Now().UTC()
		for i := range days {
			out.Days = append(out.Days, forecastDay{
				Date:      start.AddDate(0, 0, i).Format(time.DateOnly),
				Condition: conditions[i%len(conditions)],
				HighC:     18 + i,
			})
		}
		return nil, out, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Echoes the provided message back",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in echoInput) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "Echo: " + in.Message}},
		}, nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fail",
		Description: "Always reports a tool error",
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: "upstream service returned 503"}},
		}, nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "slow",
		Description: "Sleeps before answering, for timeout and cancellation tests",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in slowInput) (*mcp.CallToolResult, any, error) {
		select {
		case <-time.After(time.Duration(in.Seconds) * time.Second):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("slept %ds", in.Seconds)}},
		}, nil, nil
	})

	return server
}

func main() {
	stdio := flag.Bool("stdio", false, "serve over stdin/stdout instead of HTTP")
	addr := flag.String("addr", ":3000", "HTTP listen address")
	flag.Parse()

	// stdout carries the protocol in stdio mode.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	server := newServer()

	if *stdio {
		if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
			slog.Error("stdio server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	})

	slog.Info("MCP test server starting", "addr", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
