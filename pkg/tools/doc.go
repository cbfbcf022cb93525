// Package tools defines the collaborator contracts the orchestration layer
// consumes: a connected ToolClient for one server and a ServerRegistry that
// lists servers and hands out their clients.
//
// Concrete implementations live in subpackages (tools/mcp for servers
// speaking the Model Context Protocol). Test doubles live in
// tools/toolstest.
//
// This package depends only on pkg/api and has no external dependencies.
package tools
