// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the toolbridge orchestration layer.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// ToolBuckets covers tool call latencies up to the 30s call timeout.
var ToolBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolbridge_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolbridge_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method"},
	)

	// StreamingConnections tracks the number of active SSE streams.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "toolbridge_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// DiscoveryRequestsTotal counts snapshot requests by result
	// (hit, miss, batched).
	DiscoveryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolbridge_discovery_requests_total",
			Help: "Tool discovery snapshot requests",
		},
		[]string{"result"},
	)

	// DiscoveryBuildDuration records how long snapshot builds take.
	DiscoveryBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "toolbridge_discovery_build_duration_seconds",
			Help:    "Tool discovery build duration",
			Buckets: ToolBuckets,
		},
	)

	// DiscoveryInvalidationsTotal counts cache invalidations.
	DiscoveryInvalidationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "toolbridge_discovery_invalidations_total",
			Help: "Tool discovery cache invalidations",
		},
	)

	// ToolExecutionsTotal counts tool executions by server, tool and
	// final status.
	ToolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolbridge_tool_executions_total",
			Help: "Tool executions",
		},
		[]string{"server", "tool", "status"},
	)

	// ToolExecutionDuration records tool execution latency in seconds.
	ToolExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolbridge_tool_execution_duration_seconds",
			Help:    "Tool execution duration",
			Buckets: ToolBuckets,
		},
		[]string{"server", "tool"},
	)

	// ToolExecutionsActive tracks in-flight tool executions.
	ToolExecutionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "toolbridge_tool_executions_active",
			Help: "Active tool executions",
		},
	)

	// ExecutionLimitRejectionsTotal counts admission refusals by limit.
	ExecutionLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolbridge_execution_limit_rejections_total",
			Help: "Tool executions refused by admission control",
		},
		[]string{"limit"},
	)

	// HealthChecksTotal counts health probes by server and result.
	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolbridge_server_health_checks_total",
			Help: "Server health checks",
		},
		[]string{"server", "result"},
	)

	// ServerConsecutiveFailures mirrors each server's failure streak.
	ServerConsecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "toolbridge_server_consecutive_failures",
			Help: "Consecutive health check failures per server",
		},
		[]string{"server"},
	)

	// ServerAutoDisabledTotal counts auto-disable transitions.
	ServerAutoDisabledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolbridge_server_auto_disabled_total",
			Help: "Servers auto-disabled after exhausting retries",
		},
		[]string{"server"},
	)

	// CoordinatorTurnsTotal counts model turns by provider and outcome
	// (text, tool_calls, error).
	CoordinatorTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolbridge_coordinator_turns_total",
			Help: "Tool-calling coordinator turns",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderLatency records how long a provider stream takes to drain.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolbridge_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider"},
	)

	// AuthRejectedTotal counts requests refused by the auth middleware,
	// labeled "unauthenticated" or "forbidden".
	AuthRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolbridge_auth_rejected_total",
			Help: "Requests rejected by authentication or scope checks",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		DiscoveryRequestsTotal,
		DiscoveryBuildDuration,
		DiscoveryInvalidationsTotal,
		ToolExecutionsTotal,
		ToolExecutionDuration,
		ToolExecutionsActive,
		ExecutionLimitRejectionsTotal,
		HealthChecksTotal,
		ServerConsecutiveFailures,
		ServerAutoDisabledTotal,
		CoordinatorTurnsTotal,
		ProviderLatency,
		AuthRejectedTotal,
	)
}
