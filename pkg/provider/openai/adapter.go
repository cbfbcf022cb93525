package openai

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/provider"
)

// Name is the provider identifier.
const Name = "openai"

// DefaultBaseURL is used when Config.BaseURL is empty.
const DefaultBaseURL = "https://api.openai.com"

// Config configures an Adapter for any Chat Completions compatible backend.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature *float64
	MaxTokens   *int

	// HTTPClient defaults to a client without timeout; streams are bounded
	// by the request context.
	HTTPClient *http.Client
}

// Adapter talks to a Chat Completions endpoint with streaming enabled.
type Adapter struct {
	cfg    Config
	tools  *provider.ToolIndex
	parser *Parser
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates an Adapter offering the tools known to index.
func New(cfg Config, index *provider.ToolIndex) *Adapter {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Adapter{cfg: cfg, tools: index, parser: NewParser()}
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return Name }

// Model returns the configured model.
func (a *Adapter) Model() string { return a.cfg.Model }

// Parser implements provider.Adapter.
func (a *Adapter) Parser() provider.Parser { return a.parser }

// FindServer implements provider.Adapter.
func (a *Adapter) FindServer(ctx context.Context, toolName string) *api.ToolServerInfo {
	return a.tools.FindServer(ctx, toolName)
}

// FormatToolResult implements provider.Adapter. Content is always sent as
// JSON text.
func (a *Adapter) FormatToolResult(callID string, result *api.ToolResult) api.Message {
	return api.Message{
		Role:       api.RoleTool,
		ToolCallID: callID,
		Content:    provider.ResultJSON(result),
	}
}

// SendRequest implements provider.Adapter.
func (a *Adapter) SendRequest(ctx context.Context, messages []api.Message) iter.Seq2[provider.Chunk, error] {
	return func(yield func(provider.Chunk, error) bool) {
		defs, err := a.tools.Tools(ctx)
		if err != nil {
			yield(nil, fmt.Errorf("list tools: %w", err))
			return
		}

		req := chatRequest{
			Model:         a.cfg.Model,
			Messages:      toChatMessages(messages),
			Tools:         toChatTools(defs),
			Stream:        true,
			StreamOptions: &chatStreamOptions{IncludeUsage: true},
			Temperature:   a.cfg.Temperature,
			MaxTokens:     a.cfg.MaxTokens,
		}

		header := http.Header{}
		header.Set("Accept", "text/event-stream")
		if a.cfg.APIKey != "" {
			header.Set("Authorization", "Bearer "+a.cfg.APIKey)
		}

		body, err := provider.PostStream(ctx, a.cfg.HTTPClient, Name, a.cfg.BaseURL+"/v1/chat/completions", header, req)
		if err != nil {
			yield(nil, err)
			return
		}
		defer body.Close()

		for chunk, err := range provider.ReadSSE(ctx, body) {
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}

func toChatMessages(messages []api.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		msg := chatMessage{Role: string(m.Role), ToolCallID: m.ToolCallID}
		if m.Content != "" || len(m.ToolCalls) == 0 {
			content := m.Content
			msg.Content = &content
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, chatToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: chatFunctionCall{
					Name:      tc.Name,
					Arguments: provider.EncodeArguments(tc.Arguments),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toChatTools(defs []api.ToolDefinition) []chatTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]chatTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, chatTool{
			Type: "function",
			Function: chatFunctionDef{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  provider.Schema(d),
			},
		})
	}
	return out
}
