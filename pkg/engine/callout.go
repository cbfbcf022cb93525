package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rhuss/toolbridge/pkg/api"
)

// FormatToolCallout renders the Markdown callout describing one executed
// tool call and its result:
//
//	> [!tool]- Tool Call (Weather: get_weather)
//	> Tool: get_weather
//	> Server Name: Weather
//	> Server ID: weather
//	> ```json
//	> {
//	>   "city": "Oslo"
//	> }
//	> ```
//	> [!tool]- Tool Result (12ms)
//	> ```json
//	> "sunny"
//	> ```
func FormatToolCallout(server api.ToolServerInfo, call api.ToolCall, result *api.ToolResult) string {
	var duration int64
	var content any
	if result != nil {
		duration = result.ExecutionDuration.Milliseconds()
		content = result.Content
	}

	var b strings.Builder
	fmt.Fprintf(&b, "> [!tool]- Tool Call (%s: %s)\n", server.Name, call.Name)
	fmt.Fprintf(&b, "> Tool: %s\n", call.Name)
	fmt.Fprintf(&b, "> Server Name: %s\n", server.Name)
	fmt.Fprintf(&b, "> Server ID: %s\n", server.ID)
	writeQuotedJSON(&b, call.Arguments)
	fmt.Fprintf(&b, "> [!tool]- Tool Result (%dms)\n", duration)
	writeQuotedJSON(&b, content)
	b.WriteString("\n")
	return b.String()
}

func writeQuotedJSON(b *strings.Builder, v any) {
	b.WriteString("> ```json\n")
	for _, line := range strings.Split(prettyJSON(v), "\n") {
		b.WriteString("> ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("> ```\n")
}

// prettyJSON indents with two spaces and leaves <, > and & unescaped.
func prettyJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%q", fmt.Sprint(v))
	}
	return strings.TrimRight(buf.String(), "\n")
}

// FormatModelSummary renders the callout naming the provider, model and
// the tools offered per server:
//
//	> [!llm] openai model: gpt-4o
//	> Tools: Weather:(get_weather, get_forecast), Search:(web_search)
//
// Missing values fall back to Unknown, unknown and none.
func FormatModelSummary(providerName, model string, servers []api.ServerTools) string {
	if providerName == "" {
		providerName = "Unknown"
	}
	if model == "" {
		model = "unknown"
	}

	var groups []string
	for _, s := range servers {
		if len(s.Tools) == 0 {
			continue
		}
		names := make([]string, len(s.Tools))
		for i, t := range s.Tools {
			names[i] = t.Name
		}
		serverName := s.ServerName
		if serverName == "" {
			serverName = s.ServerID
		}
		groups = append(groups, fmt.Sprintf("%s:(%s)", serverName, strings.Join(names, ", ")))
	}
	tools := "none"
	if len(groups) > 0 {
		tools = strings.Join(groups, ", ")
	}

	return fmt.Sprintf("\n> [!llm] %s model: %s\n> Tools: %s\n\n", providerName, model, tools)
}
