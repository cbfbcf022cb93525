package provider

import (
	"encoding/json"
	"log/slog"
	"maps"
	"strings"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/debug"
)

// RawArgumentsKey holds the original text of arguments that could not be
// decoded as a JSON object.
const RawArgumentsKey = "_raw"

// ParseArguments decodes a tool call argument string. An empty string
// yields an empty object. Anything that is not a JSON object yields
// {"_raw": raw} and a warning; the call is still usable downstream.
func ParseArguments(toolName, raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		slog.Warn("tool call arguments are not a JSON object",
			"tool", toolName,
			"error", err,
			"arguments", debug.Truncate(raw, 200),
		)
		return map[string]any{RawArgumentsKey: raw}
	}
	return args
}

// EncodeArguments renders tool call arguments as a JSON object string.
// Arguments that could not be decoded are sent back as originally received.
func EncodeArguments(args map[string]any) string {
	if raw, ok := args[RawArgumentsKey].(string); ok && len(args) == 1 {
		return raw
	}
	if args == nil {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// CloneToolCalls copies calls and their argument maps.
func CloneToolCalls(calls []api.ToolCall) []api.ToolCall {
	if calls == nil {
		return nil
	}
	out := make([]api.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = c
		out[i].Arguments = maps.Clone(c.Arguments)
	}
	return out
}
