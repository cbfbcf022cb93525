// Package api defines the core data types shared by the toolbridge
// orchestration layer: server descriptors, tool definitions, discovery
// snapshots, execution history, health status, canonical tool calls and
// conversation messages.
//
// The package also defines the error taxonomy used across components and
// the ID helpers for execution requests and tool calls.
//
// Core types:
//   - [ServerDescriptor]: Identity and reachability of one tool server
//   - [ToolDefinition]: A tool as advertised by a server
//   - [Snapshot]: Immutable discovery index from tool name to server
//   - [ToolCall]: Vendor-independent tool invocation
//   - [Message]: Conversation unit exchanged with provider adapters
//   - [ToolResult]: Outcome of one tool execution
//
// The package performs no I/O.
package api
