package claude

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
const Name = "claude"

const (
	// DefaultBaseURL is used when Config.BaseURL is empty.
	DefaultBaseURL = "https://api.anthropic.com"

	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// Config configures an Adapter for the Anthropic Messages API.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float64
	HTTPClient  *http.Client
}

// Adapter talks to the Messages API with streaming enabled.
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
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
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

// FormatToolResult implements provider.Adapter.
func (a *Adapter) FormatToolResult(callID string, result *api.ToolResult) api.Message {
	return api.Message{
		Role:       api.RoleTool,
		ToolCallID: callID,
		Content:    provider.ResultText(result),
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

		converted, system := toClaudeMessages(messages)
		req := messagesRequest{
			Model:       a.cfg.Model,
			System:      system,
			Messages:    converted,
			MaxTokens:   a.cfg.MaxTokens,
			Stream:      true,
			Tools:       toClaudeTools(defs),
			Temperature: a.cfg.Temperature,
		}

		header := http.Header{}
		header.Set("Accept", "text/event-stream")
		header.Set("x-api-key", a.cfg.APIKey)
		header.Set("anthropic-version", apiVersion)

		body, err := provider.PostStream(ctx, a.cfg.HTTPClient, Name, a.cfg.BaseURL+"/v1/messages", header, req)
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

// toClaudeMessages converts the conversation and extracts system messages
// into the separate system prompt. Tool results become tool_result blocks
// in a user turn; consecutive results share one turn.
func toClaudeMessages(messages []api.Message) ([]claudeMessage, string) {
	var system []string
	var out []claudeMessage

	appendBlocks := func(role string, blocks ...contentBlock) {
		if n := len(out); n > 0 && blocks[0].Type == "tool_result" && isToolResult(out[n-1]) {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, claudeMessage{Role: role, Content: blocks})
	}

	for _, m := range messages {
		switch m.Role {
		case api.RoleSystem:
			system = append(system, m.Content)

		case api.RoleAssistant:
			var blocks []contentBlock
			if m.Content != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, contentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			if len(blocks) == 0 {
				continue
			}
			appendBlocks("assistant", blocks...)

		case api.RoleTool:
			appendBlocks("user", contentBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content})

		default:
			appendBlocks("user", contentBlock{Type: "text", Text: m.Content})
		}
	}
	return out, strings.Join(system, "\n\n")
}

func isToolResult(m claudeMessage) bool {
	return len(m.Content) > 0 && m.Content[0].Type == "tool_result"
}

func toClaudeTools(defs []api.ToolDefinition) []claudeTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]claudeTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, claudeTool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: provider.Schema(d),
		})
	}
	return out
}
