package discovery

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/debug"
	"github.com/rhuss/toolbridge/pkg/observability"
	"github.com/rhuss/toolbridge/pkg/tools"
)

const (
	defaultFanout      = 8
	defaultListTimeout = 10 * time.Second
	buildKey           = "snapshot"
)

// Options controls a single snapshot request.
type Options struct {
	// ForceRefresh bypasses a cached snapshot. A build already in flight
	// is still shared.
	ForceRefresh bool
}

// Metrics is a point-in-time copy of the cache counters.
type Metrics struct {
	Requests               int           `json:"requests"`
	Hits                   int           `json:"hits"`
	Misses                 int           `json:"misses"`
	Batched                int           `json:"batched"`
	Invalidations          int           `json:"invalidations"`
	LastBuildDuration      time.Duration `json:"lastBuildDuration"`
	LastServerCount        int           `json:"lastServerCount"`
	LastToolCount          int           `json:"lastToolCount"`
	LastError              string        `json:"lastError,omitempty"`
	LastInvalidationReason string        `json:"lastInvalidationReason,omitempty"`
}

// Cache builds and caches the tool discovery snapshot over a server
// registry. Concurrent requests without a cached snapshot share a single
// build.
type Cache struct {
	registry    tools.ServerRegistry
	fanout      int
	listTimeout time.Duration
	now         func() time.Time

	group singleflight.Group

	// afterCheck runs between the cache check and joining a build.
	afterCheck func()

	mu         sync.Mutex
	snapshot   *api.Snapshot
	generation uint64
	metrics    Metrics
}

var _ tools.Invalidator = (*Cache)(nil)

// Option configures a Cache.
type Option func(*Cache)

// WithFanout limits how many servers are listed in parallel.
func WithFanout(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.fanout = n
		}
	}
}

// WithListTimeout bounds each per-server ListTools call.
func WithListTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.listTimeout = d
		}
	}
}

// New creates a Cache over registry.
func New(registry tools.ServerRegistry, opts ...Option) *Cache {
	c := &Cache{
		registry:    registry,
		fanout:      defaultFanout,
		listTimeout: defaultListTimeout,
		now:         time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Snapshot returns the discovery snapshot, building it if none is cached
// or a refresh is forced. The returned value is a copy owned by the caller.
func (c *Cache) Snapshot(ctx context.Context, opts Options) (*api.Snapshot, error) {
	c.mu.Lock()
	c.metrics.Requests++
	if !opts.ForceRefresh && c.snapshot != nil {
		c.metrics.Hits++
		snap := c.snapshot.Clone()
		c.mu.Unlock()
		observability.DiscoveryRequestsTotal.WithLabelValues("hit").Inc()
		return snap, nil
	}
	c.mu.Unlock()

	if c.afterCheck != nil {
		c.afterCheck()
	}
	leader, reused := false, false
	ch := c.group.DoChan(buildKey, func() (any, error) {
		leader = true
		if !opts.ForceRefresh {
			// A build may have finished between the check above and
			// this flight starting.
			c.mu.Lock()
			snap := c.snapshot
			c.mu.Unlock()
			if snap != nil {
				reused = true
				return snap, nil
			}
		}
		return c.build(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		result := "batched"
		switch {
		case leader && reused:
			result = "hit"
		case leader:
			result = "miss"
		}
		c.mu.Lock()
		switch result {
		case "hit":
			c.metrics.Hits++
		case "miss":
			c.metrics.Misses++
		default:
			c.metrics.Batched++
		}
		c.mu.Unlock()
		observability.DiscoveryRequestsTotal.WithLabelValues(result).Inc()
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*api.Snapshot).Clone(), nil
	}
}

// CachedSnapshot returns a copy of the cached snapshot without building,
// or nil.
func (c *Cache) CachedSnapshot() *api.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Clone()
}

// ToolMapping returns the tool-name mapping of the current snapshot.
func (c *Cache) ToolMapping(ctx context.Context) (map[string]api.ToolServerInfo, error) {
	snap, err := c.Snapshot(ctx, Options{})
	if err != nil {
		return nil, err
	}
	return snap.Mapping, nil
}

// CachedMapping returns the mapping of the cached snapshot, or nil.
func (c *Cache) CachedMapping() map[string]api.ToolServerInfo {
	snap := c.CachedSnapshot()
	if snap == nil {
		return nil
	}
	return snap.Mapping
}

// Preload builds the snapshot ahead of first use. Failures are logged and
// returned.
func (c *Cache) Preload(ctx context.Context) error {
	if _, err := c.Snapshot(ctx, Options{}); err != nil {
		slog.Warn("tool discovery preload failed", "error", err)
		return err
	}
	return nil
}

// Invalidate drops the cached snapshot. A build in flight when Invalidate
// is called still answers its waiters but is not cached.
func (c *Cache) Invalidate(reason string) {
	c.mu.Lock()
	c.snapshot = nil
	c.generation++
	c.metrics.Invalidations++
	c.metrics.LastInvalidationReason = reason
	c.mu.Unlock()

	observability.DiscoveryInvalidationsTotal.Inc()
	debug.Log("discovery", "cache invalidated", "reason", reason)
}

// Metrics returns a copy of the cache counters.
func (c *Cache) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Cache) build(ctx context.Context) (*api.Snapshot, error) {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	start := c.now()
	servers, err := c.registry.ListServers(ctx)
	if err != nil {
		c.mu.Lock()
		c.metrics.LastError = err.Error()
		c.metrics.LastBuildDuration = c.now().Sub(start)
		c.mu.Unlock()
		slog.Error("tool discovery failed to list servers", "error", err)
		return nil, err
	}

	enabled := servers[:0:0]
	for _, s := range servers {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}

	results := make([]api.ServerTools, len(enabled))
	var g errgroup.Group
	g.SetLimit(c.fanout)
	for i, s := range enabled {
		g.Go(func() error {
			results[i] = c.fetch(ctx, s)
			return nil
		})
	}
	_ = g.Wait()

	snap := api.NewSnapshot(results, c.now())
	elapsed := c.now().Sub(start)

	c.mu.Lock()
	c.metrics.LastBuildDuration = elapsed
	c.metrics.LastServerCount = len(enabled)
	c.metrics.LastToolCount = snap.ToolCount()
	c.metrics.LastError = ""
	if c.generation == gen {
		c.snapshot = snap
	} else {
		debug.Log("discovery", "discarding snapshot invalidated during build")
	}
	c.mu.Unlock()

	observability.DiscoveryBuildDuration.Observe(elapsed.Seconds())
	slog.Debug("tool discovery snapshot built",
		"servers", len(enabled),
		"tools", len(snap.Mapping),
		"duration", elapsed,
	)
	return snap, nil
}

// fetch lists one server's tools. Failures are logged and yield an empty
// tool list so one broken server does not hide the others.
func (c *Cache) fetch(ctx context.Context, s api.ServerDescriptor) api.ServerTools {
	out := api.ServerTools{ServerID: s.ID, ServerName: s.Name}

	client, err := c.registry.Client(ctx, s.ID)
	if err != nil {
		slog.Warn("tool discovery skipped server", "server", s.ID, "error", err)
		return out
	}
	if client == nil {
		debug.Log("discovery", "server has no client", "server", s.ID)
		return out
	}

	listCtx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()
	defs, err := client.ListTools(listCtx)
	if err != nil {
		slog.Warn("failed to list tools", "server", s.ID, "error", err)
		return out
	}
	for _, d := range defs {
		if slices.ContainsFunc(out.Tools, func(t api.ToolDefinition) bool { return t.Name == d.Name }) {
			continue
		}
		out.Tools = append(out.Tools, d)
	}
	return out
}
