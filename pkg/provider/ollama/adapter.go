package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/provider"
)

// Name is the provider identifier.
const Name = "ollama"

// DefaultBaseURL is used when Config.BaseURL is empty.
const DefaultBaseURL = "http://localhost:11434"

// Config configures an Adapter for an Ollama server.
type Config struct {
	BaseURL     string
	Model       string
	Temperature *float64
	HTTPClient  *http.Client
}

// Adapter talks to /api/chat with streaming enabled.
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

		req := chatRequest{
			Model:    a.cfg.Model,
			Messages: toChatMessages(messages),
			Stream:   true,
			Tools:    toChatTools(defs),
		}
		if a.cfg.Temperature != nil {
			req.Options = map[string]any{"temperature": *a.cfg.Temperature}
		}

		body, err := provider.PostStream(ctx, a.cfg.HTTPClient, Name, a.cfg.BaseURL+"/api/chat", nil, req)
		if err != nil {
			yield(nil, err)
			return
		}
		defer body.Close()

		for chunk, err := range provider.ReadNDJSON(ctx, body) {
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}

// toChatMessages converts the conversation. Ollama has no call ids, so
// tool results carry the name of the tool that produced them.
func toChatMessages(messages []api.Message) []chatMessage {
	names := make(map[string]string)
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		msg := chatMessage{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			names[tc.ID] = tc.Name
			msg.ToolCalls = append(msg.ToolCalls, toolCall{
				Function: toolFunction{
					Name:      tc.Name,
					Arguments: objectArguments(tc.Arguments),
				},
			})
		}
		if m.Role == api.RoleTool {
			msg.ToolName = names[m.ToolCallID]
		}
		out = append(out, msg)
	}
	return out
}

// objectArguments encodes arguments as a JSON object, which is the only
// shape the chat API accepts.
func objectArguments(args map[string]any) json.RawMessage {
	if args == nil {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

func toChatTools(defs []api.ToolDefinition) []chatTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]chatTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, chatTool{
			Type: "function",
			Function: functionDef{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  provider.Schema(d),
			},
		})
	}
	return out
}
