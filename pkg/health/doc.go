// Package health monitors tool server liveness.
//
// A Monitor probes each enabled server on a fixed interval. A failed probe
// schedules the next attempt after the matching entry of the backoff
// schedule; once the consecutive failures reach the schedule's length the
// server is auto-disabled and no longer probed until ReenableServer is
// called. Managed servers are probed through their Sandbox resource,
// external servers through a fresh MCP connection.
package health
