package health

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/debug"
	"github.com/rhuss/toolbridge/pkg/observability"
	"github.com/rhuss/toolbridge/pkg/tools"
)

// Config holds the monitoring schedule.
type Config struct {
	// Interval between periodic checks. Zero means 30s.
	Interval time.Duration

	// BackoffIntervals is the retry schedule after a failure. Its length
	// is the retry budget: that many consecutive failures auto-disable
	// the server, so failure n waits BackoffIntervals[n-1] and the last
	// entry is never waited on. Empty means 1s, 5s, 15s.
	BackoffIntervals []time.Duration

	// ProbeTimeout bounds a single probe. Zero means 10s.
	ProbeTimeout time.Duration
}

func (c Config) interval() time.Duration {
	if c.Interval <= 0 {
		return 30 * time.Second
	}
	return c.Interval
}

func (c Config) backoff() []time.Duration {
	if len(c.BackoffIntervals) == 0 {
		return []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}
	}
	return slices.Clone(c.BackoffIntervals)
}

func (c Config) probeTimeout() time.Duration {
	if c.ProbeTimeout <= 0 {
		return 10 * time.Second
	}
	return c.ProbeTimeout
}

// Hooks are invoked on state transitions, outside the monitor's lock.
type Hooks struct {
	OnAutoDisabled func(serverID string)
	OnReenabled    func(serverID string)

	// OnRecovered fires when a check succeeds after one or more failures.
	OnRecovered func(serverID string)
}

// Monitor tracks per-server health with bounded backoff and auto-disable.
type Monitor struct {
	prober   Prober
	interval time.Duration
	backoff  []time.Duration
	timeout  time.Duration
	hooks    Hooks
	now      func() time.Time

	mu       sync.Mutex
	statuses map[string]*api.ServerHealthStatus
	servers  []api.ServerDescriptor
	cancel   context.CancelFunc
	done     chan struct{}
}

var _ tools.FailureRecorder = (*Monitor)(nil)

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithHooks installs transition hooks.
func WithHooks(h Hooks) Option {
	return func(m *Monitor) { m.hooks = h }
}

// NewMonitor creates a Monitor using prober for liveness checks.
func NewMonitor(prober Prober, cfg Config, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   prober,
		interval: cfg.interval(),
		backoff:  cfg.backoff(),
		timeout:  cfg.probeTimeout(),
		now:      time.Now,
		statuses: make(map[string]*api.ServerHealthStatus),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// StartMonitoring tracks servers not yet known and starts the periodic
// check loop if it is not already running. Calling it again only adds new
// servers and replaces the list used by the loop.
func (m *Monitor) StartMonitoring(ctx context.Context, servers []api.ServerDescriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range servers {
		m.ensureLocked(s.ID)
	}
	m.servers = slices.Clone(servers)

	if m.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(loopCtx, m.done)

	slog.Info("health monitoring started", "servers", len(servers), "interval", m.interval)
}

// StopMonitoring stops the periodic loop and waits for it to exit. It is
// safe to call when monitoring is not running.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("health monitoring stopped")
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			servers := slices.Clone(m.servers)
			m.mu.Unlock()
			m.PerformHealthChecks(ctx, servers)
		}
	}
}

// PerformHealthChecks probes every eligible server once. Servers that are
// disabled, auto-disabled, or waiting for their next retry are skipped.
// Failures never surface as errors; they are reflected in the statuses.
func (m *Monitor) PerformHealthChecks(ctx context.Context, servers []api.ServerDescriptor) {
	var g errgroup.Group
	for _, s := range servers {
		if !m.beginCheck(s) {
			continue
		}
		g.Go(func() error {
			m.check(ctx, s)
			return nil
		})
	}
	_ = g.Wait()
}

// beginCheck decides whether s is due and, if so, marks it CONNECTING.
func (m *Monitor) beginCheck(s api.ServerDescriptor) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.ensureLocked(s.ID)
	switch {
	case !s.Enabled:
		return false
	case st.AutoDisabledAt != nil:
		return false
	case st.RetryState.IsRetrying && st.RetryState.NextRetryAt != nil && m.now().Before(*st.RetryState.NextRetryAt):
		debug.Log("health", "retry pending", "server", s.ID, "next_retry_at", *st.RetryState.NextRetryAt)
		return false
	}
	st.ConnectionState = api.StateConnecting
	return true
}

func (m *Monitor) check(ctx context.Context, s api.ServerDescriptor) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.safeProbe(probeCtx, s)
	cancel()

	if err != nil {
		observability.HealthChecksTotal.WithLabelValues(s.ID, "failure").Inc()
		m.recordFailure(s.ID, err)
		return
	}

	observability.HealthChecksTotal.WithLabelValues(s.ID, "success").Inc()
	observability.ServerConsecutiveFailures.WithLabelValues(s.ID).Set(0)

	m.mu.Lock()
	st := m.ensureLocked(s.ID)
	now := m.now()
	recovered := st.ConsecutiveFailures > 0
	st.ConnectionState = api.StateConnected
	st.LastPingAt = &now
	st.ConsecutiveFailures = 0
	st.RetryState = api.RetryState{BackoffIntervals: slices.Clone(m.backoff)}
	st.AutoDisabledAt = nil
	st.LastError = ""
	m.mu.Unlock()

	if recovered {
		slog.Info("server recovered", "server", s.ID)
		if m.hooks.OnRecovered != nil {
			m.hooks.OnRecovered(s.ID)
		}
	}
}

func (m *Monitor) safeProbe(ctx context.Context, s api.ServerDescriptor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("health probe panicked", "server", s.ID, "panic", r)
			err = errors.New("probe panicked")
		}
	}()
	return m.prober.Probe(ctx, s)
}

// RecordFailure applies a failure reported outside the periodic checks,
// using the same backoff and auto-disable rules. Reports arriving while a
// retry is pending only update LastError, so at most one failure counts
// per backoff window.
func (m *Monitor) RecordFailure(serverID string, err error) {
	m.mu.Lock()
	st := m.ensureLocked(serverID)
	if st.AutoDisabledAt != nil {
		m.mu.Unlock()
		return
	}
	if st.RetryState.IsRetrying && st.RetryState.NextRetryAt != nil && m.now().Before(*st.RetryState.NextRetryAt) {
		if err != nil {
			st.LastError = err.Error()
		}
		next := *st.RetryState.NextRetryAt
		m.mu.Unlock()
		debug.Log("health", "failure inside backoff window not counted", "server", serverID, "next_retry_at", next, "error", err)
		return
	}
	m.mu.Unlock()
	m.recordFailure(serverID, err)
}

func (m *Monitor) recordFailure(serverID string, cause error) {
	m.mu.Lock()
	st := m.ensureLocked(serverID)
	now := m.now()
	st.ConnectionState = api.StateError
	st.ConsecutiveFailures++
	if cause != nil {
		st.LastError = cause.Error()
	}

	autoDisabled := false
	if st.ConsecutiveFailures >= len(m.backoff) {
		st.AutoDisabledAt = &now
		st.RetryState.IsRetrying = false
		st.RetryState.NextRetryAt = nil
		autoDisabled = true
	} else {
		next := now.Add(m.backoff[st.ConsecutiveFailures-1])
		st.RetryState.IsRetrying = true
		st.RetryState.NextRetryAt = &next
		st.RetryState.CurrentAttempt = st.ConsecutiveFailures
	}
	failures := st.ConsecutiveFailures
	m.mu.Unlock()

	observability.ServerConsecutiveFailures.WithLabelValues(serverID).Set(float64(failures))
	slog.Warn("server health check failed",
		"server", serverID,
		"consecutive_failures", failures,
		"error", cause,
	)

	if autoDisabled {
		observability.ServerAutoDisabledTotal.WithLabelValues(serverID).Inc()
		slog.Error("server auto-disabled after repeated failures", "server", serverID, "failures", failures)
		if m.hooks.OnAutoDisabled != nil {
			m.hooks.OnAutoDisabled(serverID)
		}
	}
}

// ReenableServer clears an auto-disable and resets the failure streak.
func (m *Monitor) ReenableServer(serverID string) {
	m.mu.Lock()
	st := m.ensureLocked(serverID)
	wasDisabled := st.AutoDisabledAt != nil
	st.AutoDisabledAt = nil
	st.ConsecutiveFailures = 0
	st.RetryState = api.RetryState{BackoffIntervals: slices.Clone(m.backoff)}
	st.ConnectionState = api.StateDisconnected
	st.LastError = ""
	m.mu.Unlock()

	observability.ServerConsecutiveFailures.WithLabelValues(serverID).Set(0)
	slog.Info("server re-enabled", "server", serverID, "was_auto_disabled", wasDisabled)
	if m.hooks.OnReenabled != nil {
		m.hooks.OnReenabled(serverID)
	}
}

// HealthStatus returns a copy of a server's status.
func (m *Monitor) HealthStatus(serverID string) (api.ServerHealthStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[serverID]
	if !ok {
		return api.ServerHealthStatus{}, false
	}
	return st.Clone(), true
}

// AllHealthStatuses returns copies of all statuses ordered by server ID.
func (m *Monitor) AllHealthStatuses() []api.ServerHealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]api.ServerHealthStatus, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, st.Clone())
	}
	slices.SortFunc(out, func(a, b api.ServerHealthStatus) int {
		return strings.Compare(a.ServerID, b.ServerID)
	})
	return out
}

// IsServerHealthy reports whether the last check succeeded and the server
// is not auto-disabled.
func (m *Monitor) IsServerHealthy(serverID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[serverID]
	return ok && st.ConnectionState == api.StateConnected && st.AutoDisabledAt == nil
}

func (m *Monitor) ensureLocked(serverID string) *api.ServerHealthStatus {
	st, ok := m.statuses[serverID]
	if !ok {
		st = &api.ServerHealthStatus{
			ServerID:        serverID,
			ConnectionState: api.StateDisconnected,
			RetryState:      api.RetryState{BackoffIntervals: slices.Clone(m.backoff)},
		}
		m.statuses[serverID] = st
	}
	return st
}
