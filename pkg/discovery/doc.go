// Package discovery maintains the tool discovery index: which server owns
// each tool name.
//
// A Cache lists the enabled servers of a tools.ServerRegistry, fetches
// their tools in parallel, and keeps the resulting api.Snapshot until it is
// invalidated. Concurrent requests that find no cached snapshot collapse
// into one build. A server whose tool listing fails contributes no tools
// and does not fail the build. On duplicate tool names the server listed
// first wins.
//
// Invalidate is called directly by the server registry on lifecycle
// transitions; the cache keeps only the last reason for diagnostics.
package discovery
