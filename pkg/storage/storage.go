package storage

import (
	"context"
	"time"

	"github.com/rhuss/toolbridge/pkg/api"
)

// DefaultListLimit caps ListExecutions when the filter sets no limit.
const DefaultListLimit = 100

// HistoryStore persists finalized tool executions beyond the executor's
// bounded in-memory history. Reads and writes are scoped to the tenant in
// the context, if any.
type HistoryStore interface {
	RecordExecution(ctx context.Context, entry api.ExecutionHistoryEntry) error
	GetExecution(ctx context.Context, requestID string) (api.ExecutionHistoryEntry, error)
	ListExecutions(ctx context.Context, filter Filter) ([]api.ExecutionHistoryEntry, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// Filter selects history entries. Zero fields match everything. Results
// are ordered newest first.
type Filter struct {
	ServerID     string
	ToolName     string
	DocumentPath string
	Source       api.ExecutionSource
	Status       api.ExecutionStatus
	Since        time.Time
	Limit        int
}

// Matches reports whether e passes every set field of f.
func (f Filter) Matches(e api.ExecutionHistoryEntry) bool {
	switch {
	case f.ServerID != "" && e.ServerID != f.ServerID:
		return false
	case f.ToolName != "" && e.ToolName != f.ToolName:
		return false
	case f.DocumentPath != "" && e.DocumentPath != f.DocumentPath:
		return false
	case f.Source != "" && e.Source != f.Source:
		return false
	case f.Status != "" && e.Status != f.Status:
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	}
	return true
}

// MaxResults returns the effective result limit.
func (f Filter) MaxResults() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}
