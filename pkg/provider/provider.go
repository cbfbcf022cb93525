package provider

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/rhuss/toolbridge/pkg/api"
)

// Chunk is one raw vendor payload: the data of an SSE event or one line of
// an NDJSON stream.
type Chunk = json.RawMessage

// ChunkType classifies a canonical stream chunk.
type ChunkType string

const (
	ChunkText     ChunkType = "text"
	ChunkToolCall ChunkType = "tool_call"
)

// ToolCallDelta is the incremental part of a tool call carried by one
// vendor chunk.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamChunk is the canonical form of a vendor chunk.
type StreamChunk struct {
	Type     ChunkType      `json:"type"`
	Content  string         `json:"content,omitempty"`
	ToolCall *ToolCallDelta `json:"tool_call,omitempty"`
}

// Parser normalizes one vendor's streaming wire format. A parser is an
// accumulator for a single model turn and is not safe for concurrent use.
//
// ParseChunk never fails: malformed chunks are logged and ignored, and
// argument strings that are not valid JSON surface as {"_raw": original}.
type Parser interface {
	// ParseChunk consumes one vendor chunk. It returns nil when the chunk
	// carries nothing to surface.
	ParseChunk(chunk Chunk) *StreamChunk

	// HasCompleteToolCalls reports whether the stream has signaled
	// completion for at least one tool call.
	HasCompleteToolCalls() bool

	// ToolCalls returns the completed tool calls in the order reported.
	ToolCalls() []api.ToolCall

	// Reset discards all accumulated state.
	Reset()
}

// Adapter hides one LLM vendor behind a uniform interface. An Adapter
// carries its parser's state and serves one conversation at a time.
type Adapter interface {
	// Name identifies the vendor (e.g. "openai").
	Name() string

	// SendRequest starts a streaming completion for messages and yields the
	// raw vendor chunks. A non-nil error ends the sequence.
	SendRequest(ctx context.Context, messages []api.Message) iter.Seq2[Chunk, error]

	// Parser returns the parser matching the vendor's wire format.
	Parser() Parser

	// FindServer resolves the server owning a tool, or nil if no server
	// provides it.
	FindServer(ctx context.Context, toolName string) *api.ToolServerInfo

	// FormatToolResult renders a tool result as the message that answers
	// the tool call callID.
	FormatToolResult(callID string, result *api.ToolResult) api.Message
}
