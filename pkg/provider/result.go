package provider

import (
	"encoding/json"
	"fmt"

	"github.com/rhuss/toolbridge/pkg/api"
)

// ResultJSON renders a tool result's content as JSON text.
func ResultJSON(result *api.ToolResult) string {
	if result == nil {
		return "null"
	}
	data, err := json.Marshal(result.Content)
	if err != nil {
		return fmt.Sprintf("%q", fmt.Sprint(result.Content))
	}
	return string(data)
}

// ResultText renders text results verbatim and everything else as JSON.
func ResultText(result *api.ToolResult) string {
	if result != nil && result.ContentType == api.ContentTypeText {
		if s, ok := result.Content.(string); ok {
			return s
		}
	}
	return ResultJSON(result)
}
