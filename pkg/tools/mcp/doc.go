// Package mcp connects toolbridge to Model Context Protocol servers.
//
// Client wraps one session of the official MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk) and implements tools.ToolClient.
// Registry owns the configured servers, connects them lazily, and reports
// lifecycle transitions (started, stopped, failed, auto-disabled) directly
// to a tools.Invalidator and a tools.FailureRecorder.
//
// Supported transports are streamable-http (default), sse, and command
// (a stdio child process). HTTP transports may carry static headers and
// OAuth client_credentials authentication.
package mcp
