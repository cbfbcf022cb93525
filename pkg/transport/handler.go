package transport

import (
	"context"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/discovery"
	"github.com/rhuss/toolbridge/pkg/executor"
	"github.com/rhuss/toolbridge/pkg/health"
	"github.com/rhuss/toolbridge/pkg/storage"
)

// ToolCatalog serves the tool index. *discovery.Cache implements it.
type ToolCatalog interface {
	Snapshot(ctx context.Context, opts discovery.Options) (*api.Snapshot, error)
	Invalidate(reason string)
	Metrics() discovery.Metrics
}

// ExecutionService runs and tracks tool executions. *executor.Executor
// implements it.
type ExecutionService interface {
	ExecuteToolWithID(ctx context.Context, req executor.Request) (*executor.Result, error)
	CancelExecution(requestID string) bool
	History() []api.ExecutionHistoryEntry
	Stats() executor.Stats
	Reset()
}

// HealthService reports server health and lifts auto-disables.
// *health.Monitor implements it.
type HealthService interface {
	AllHealthStatuses() []api.ServerHealthStatus
	HealthStatus(serverID string) (api.ServerHealthStatus, bool)
	ReenableServer(serverID string)
}

// HistoryReader queries persisted execution history.
type HistoryReader interface {
	GetExecution(ctx context.Context, requestID string) (api.ExecutionHistoryEntry, error)
	ListExecutions(ctx context.Context, filter storage.Filter) ([]api.ExecutionHistoryEntry, error)
	HealthCheck(ctx context.Context) error
}

var (
	_ ToolCatalog      = (*discovery.Cache)(nil)
	_ ExecutionService = (*executor.Executor)(nil)
	_ HealthService    = (*health.Monitor)(nil)
	_ HistoryReader    = (storage.HistoryStore)(nil)
)
