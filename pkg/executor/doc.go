// Package executor is the execution gatekeeper for tool calls.
//
// Every execution passes admission control in a fixed order: a manual stop
// blocks everything, then the concurrency cap, then the session cap. A
// refused execution returns *api.ExecutionLimitError naming the limit that
// blocked it. Admitted executions resolve their client through the server
// registry, run with a per-call timeout, and are recorded in a bounded
// history exactly once, whatever the outcome.
//
// Per-document counters scope TotalSessionCount without affecting the
// global session cap.
package executor
