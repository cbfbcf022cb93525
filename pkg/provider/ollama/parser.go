package ollama

import (
	"bytes"
	"encoding/json"
	"log/slog"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/debug"
	"github.com/rhuss/toolbridge/pkg/provider"
)

// Parser normalizes /api/chat stream lines. Tool calls are never split
// across lines, so each one is complete as soon as it is seen.
type Parser struct {
	calls []api.ToolCall
}

var _ provider.Parser = (*Parser)(nil)

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseChunk implements provider.Parser.
func (p *Parser) ParseChunk(raw provider.Chunk) *provider.StreamChunk {
	var chunk chatChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		slog.Warn("skipping malformed chat stream line",
			"error", err.Error(),
			"data", debug.Truncate(string(raw), 200),
		)
		return nil
	}
	if chunk.Error != "" {
		slog.Warn("chat stream reported an error", "error", chunk.Error)
		return nil
	}

	var first *provider.StreamChunk
	for _, tc := range chunk.Message.ToolCalls {
		call := api.ToolCall{
			ID:        api.NewCallID(),
			Name:      tc.Function.Name,
			Arguments: decodeArguments(tc.Function.Name, tc.Function.Arguments),
		}
		p.calls = append(p.calls, call)
		if first == nil {
			first = &provider.StreamChunk{
				Type: provider.ChunkToolCall,
				ToolCall: &provider.ToolCallDelta{
					Index:     len(p.calls) - 1,
					ID:        call.ID,
					Name:      call.Name,
					Arguments: string(tc.Function.Arguments),
				},
			}
		}
	}

	if chunk.Done {
		debug.Log("providers", "ollama done", "reason", chunk.DoneReason, "tool_calls", len(p.calls))
	}

	if chunk.Message.Content != "" {
		return &provider.StreamChunk{Type: provider.ChunkText, Content: chunk.Message.Content}
	}
	return first
}

// decodeArguments accepts an object or a JSON string holding an object.
func decodeArguments(name string, raw json.RawMessage) map[string]any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return provider.ParseArguments(name, s)
		}
	}
	return provider.ParseArguments(name, string(raw))
}

// HasCompleteToolCalls implements provider.Parser.
func (p *Parser) HasCompleteToolCalls() bool {
	return len(p.calls) > 0
}

// ToolCalls implements provider.Parser.
func (p *Parser) ToolCalls() []api.ToolCall {
	return provider.CloneToolCalls(p.calls)
}

// Reset implements provider.Parser.
func (p *Parser) Reset() {
	p.calls = nil
}
