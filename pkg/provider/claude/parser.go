package claude

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/debug"
	"github.com/rhuss/toolbridge/pkg/provider"
)

// toolBlock accumulates one tool_use content block.
type toolBlock struct {
	id       string
	name     string
	initial  json.RawMessage
	input    strings.Builder
	complete bool
}

// Parser accumulates Messages API stream events. Tool input arrives as
// input_json_delta fragments addressed by content block index; text deltas
// may interleave and are surfaced as they come.
type Parser struct {
	blocks  map[string]*toolBlock
	byIndex map[int]string
	order   []string
}

var _ provider.Parser = (*Parser)(nil)

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{
		blocks:  make(map[string]*toolBlock),
		byIndex: make(map[int]string),
	}
}

// ParseChunk implements provider.Parser.
func (p *Parser) ParseChunk(raw provider.Chunk) *provider.StreamChunk {
	var ev streamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		slog.Warn("skipping malformed messages stream event",
			"error", err.Error(),
			"data", debug.Truncate(string(raw), 200),
		)
		return nil
	}

	switch ev.Type {
	case "content_block_start":
		if ev.ContentBlock == nil {
			return nil
		}
		switch ev.ContentBlock.Type {
		case "tool_use":
			id := ev.ContentBlock.ID
			if id == "" {
				id = api.NewCallID()
			}
			p.blocks[id] = &toolBlock{id: id, name: ev.ContentBlock.Name, initial: ev.ContentBlock.Input}
			p.byIndex[ev.Index] = id
			p.order = append(p.order, id)
			return &provider.StreamChunk{
				Type:     provider.ChunkToolCall,
				ToolCall: &provider.ToolCallDelta{Index: ev.Index, ID: id, Name: ev.ContentBlock.Name},
			}
		case "text":
			if ev.ContentBlock.Text != "" {
				return &provider.StreamChunk{Type: provider.ChunkText, Content: ev.ContentBlock.Text}
			}
		}

	case "content_block_delta":
		if ev.Delta == nil {
			return nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			if ev.Delta.Text == "" {
				return nil
			}
			return &provider.StreamChunk{Type: provider.ChunkText, Content: ev.Delta.Text}
		case "input_json_delta":
			block := p.blockAt(ev.Index)
			if block == nil {
				debug.Log("providers", "input_json_delta for unknown block", "index", ev.Index)
				return nil
			}
			block.input.WriteString(ev.Delta.PartialJSON)
			return &provider.StreamChunk{
				Type: provider.ChunkToolCall,
				ToolCall: &provider.ToolCallDelta{
					Index:     ev.Index,
					ID:        block.id,
					Name:      block.name,
					Arguments: ev.Delta.PartialJSON,
				},
			}
		}

	case "content_block_stop":
		if block := p.blockAt(ev.Index); block != nil {
			block.complete = true
			delete(p.byIndex, ev.Index)
		}

	case "message_delta":
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			debug.Log("providers", "claude stop", "reason", ev.Delta.StopReason)
		}

	case "error":
		if ev.Error != nil {
			slog.Warn("messages stream reported an error", "type", ev.Error.Type, "message", ev.Error.Message)
		}
	}
	return nil
}

func (p *Parser) blockAt(index int) *toolBlock {
	id, ok := p.byIndex[index]
	if !ok {
		return nil
	}
	return p.blocks[id]
}

// HasCompleteToolCalls implements provider.Parser.
func (p *Parser) HasCompleteToolCalls() bool {
	for _, id := range p.order {
		if p.blocks[id].complete {
			return true
		}
	}
	return false
}

// ToolCalls implements provider.Parser.
func (p *Parser) ToolCalls() []api.ToolCall {
	var calls []api.ToolCall
	for _, id := range p.order {
		block := p.blocks[id]
		if !block.complete {
			continue
		}
		calls = append(calls, api.ToolCall{
			ID:        block.id,
			Name:      block.name,
			Arguments: block.arguments(),
		})
	}
	return calls
}

// arguments prefers the streamed input. The start event's input is used
// only when no fragments arrived and it is a non-empty object.
func (b *toolBlock) arguments() map[string]any {
	if b.input.Len() > 0 {
		return provider.ParseArguments(b.name, b.input.String())
	}
	if len(b.initial) > 0 {
		return provider.ParseArguments(b.name, string(b.initial))
	}
	return map[string]any{}
}

// Reset implements provider.Parser.
func (p *Parser) Reset() {
	clear(p.blocks)
	clear(p.byIndex)
	p.order = nil
}
