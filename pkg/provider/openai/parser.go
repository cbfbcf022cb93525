package openai

import (
	"encoding/json"
	"log/slog"
	"slices"
	"strings"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/debug"
	"github.com/rhuss/toolbridge/pkg/provider"
)

// callBuffer assembles one tool call across chunks.
type callBuffer struct {
	id   string
	name string
	args strings.Builder
}

// Parser accumulates Chat Completions stream chunks. Tool call deltas are
// keyed by their index; parallel calls use distinct indices. Arguments are
// decoded only once a finish_reason arrives.
type Parser struct {
	buffers  map[int]*callBuffer
	complete []api.ToolCall
	done     bool
}

var _ provider.Parser = (*Parser)(nil)

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{buffers: make(map[int]*callBuffer)}
}

// ParseChunk implements provider.Parser.
func (p *Parser) ParseChunk(raw provider.Chunk) *provider.StreamChunk {
	var chunk chatChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		slog.Warn("skipping malformed chat completion chunk",
			"error", err.Error(),
			"data", debug.Truncate(string(raw), 200),
		)
		return nil
	}
	if len(chunk.Choices) == 0 {
		return nil
	}

	choice := chunk.Choices[0]
	out := p.applyDelta(choice.Delta)

	if choice.FinishReason != nil {
		reason := *choice.FinishReason
		debug.Log("providers", "openai finish", "reason", reason, "buffered_calls", len(p.buffers))
		if reason == "tool_calls" || len(p.buffers) > 0 {
			p.flush()
		}
	}
	return out
}

func (p *Parser) applyDelta(delta chatChunkDelta) *provider.StreamChunk {
	var out *provider.StreamChunk

	for _, tc := range delta.ToolCalls {
		buf, ok := p.buffers[tc.Index]
		if !ok {
			buf = &callBuffer{}
			p.buffers[tc.Index] = buf
		}
		if buf.id == "" {
			buf.id = tc.ID
		}
		if buf.name == "" {
			buf.name = tc.Function.Name
		}
		buf.args.WriteString(tc.Function.Arguments)

		if out == nil {
			out = &provider.StreamChunk{
				Type: provider.ChunkToolCall,
				ToolCall: &provider.ToolCallDelta{
					Index:     tc.Index,
					ID:        buf.id,
					Name:      buf.name,
					Arguments: tc.Function.Arguments,
				},
			}
		}
	}
	if out != nil {
		return out
	}

	if delta.Content != nil && *delta.Content != "" {
		return &provider.StreamChunk{Type: provider.ChunkText, Content: *delta.Content}
	}
	return nil
}

// flush decodes all buffered calls in index order.
func (p *Parser) flush() {
	indices := make([]int, 0, len(p.buffers))
	for idx := range p.buffers {
		indices = append(indices, idx)
	}
	slices.Sort(indices)

	for _, idx := range indices {
		buf := p.buffers[idx]
		id := buf.id
		if id == "" {
			id = api.NewCallID()
		}
		p.complete = append(p.complete, api.ToolCall{
			ID:        id,
			Name:      buf.name,
			Arguments: provider.ParseArguments(buf.name, buf.args.String()),
		})
	}
	clear(p.buffers)
	p.done = true
}

// HasCompleteToolCalls implements provider.Parser.
func (p *Parser) HasCompleteToolCalls() bool {
	return p.done && len(p.complete) > 0
}

// ToolCalls implements provider.Parser.
func (p *Parser) ToolCalls() []api.ToolCall {
	return provider.CloneToolCalls(p.complete)
}

// Reset implements provider.Parser.
func (p *Parser) Reset() {
	clear(p.buffers)
	p.complete = nil
	p.done = false
}
