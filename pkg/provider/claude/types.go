package claude

import "encoding/json"

// Messages API wire types.

type messagesRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Stream      bool            `json:"stream"`
	Tools       []claudeTool    `json:"tools,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type claudeMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type claudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// streamEvent is one SSE event of a streaming response.
type streamEvent struct {
	Type         string         `json:"type"`
	Index        int            `json:"index"`
	ContentBlock *startBlock    `json:"content_block,omitempty"`
	Delta        *eventDelta    `json:"delta,omitempty"`
	Error        *errorPayload  `json:"error,omitempty"`
	Message      *messageHeader `json:"message,omitempty"`
}

type startBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Text  string          `json:"text,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type eventDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type messageHeader struct {
	ID    string `json:"id"`
	Model string `json:"model"`
}

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
