package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	kubeconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/auth"
	"github.com/rhuss/toolbridge/pkg/auth/apikey"
	"github.com/rhuss/toolbridge/pkg/auth/jwt"
	"github.com/rhuss/toolbridge/pkg/config"
	"github.com/rhuss/toolbridge/pkg/discovery"
	"github.com/rhuss/toolbridge/pkg/engine"
	"github.com/rhuss/toolbridge/pkg/executor"
	"github.com/rhuss/toolbridge/pkg/health"
	"github.com/rhuss/toolbridge/pkg/provider"
	"github.com/rhuss/toolbridge/pkg/provider/claude"
	"github.com/rhuss/toolbridge/pkg/provider/ollama"
	"github.com/rhuss/toolbridge/pkg/provider/openai"
	"github.com/rhuss/toolbridge/pkg/storage"
	"github.com/rhuss/toolbridge/pkg/storage/memory"
	"github.com/rhuss/toolbridge/pkg/storage/postgres"
	"github.com/rhuss/toolbridge/pkg/tools/mcp"
)

// app holds the wired components shared by every command.
type app struct {
	cfg       *config.Config
	registry  *mcp.Registry
	discovery *discovery.Cache
	executor  *executor.Executor
	store     storage.HistoryStore
	monitor   *health.Monitor
	tools     *provider.ToolIndex
	coord     *engine.Coordinator
}

// newApp wires the registry, discovery cache, history store, executor and,
// when enabled, the health monitor. The monitor is created but not
// started.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := newHistoryStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	registry := mcp.NewRegistry(cfg.MCPServers(), nil)
	cache := discovery.New(registry,
		discovery.WithFanout(cfg.Discovery.Fanout),
		discovery.WithListTimeout(cfg.Discovery.ListTimeout),
	)

	a := &app{
		cfg:       cfg,
		registry:  registry,
		discovery: cache,
		store:     store,
		executor: executor.New(registry, executor.Config{
			ConcurrentLimit: cfg.Executor.ConcurrentLimit,
			SessionLimit:    cfg.Executor.SessionLimit,
			CallTimeout:     cfg.Executor.CallTimeout,
			HistoryLimit:    cfg.Executor.HistoryLimit,
		}, store),
		tools: provider.NewToolIndex(cache),
		coord: engine.NewCoordinator(engine.Config{MaxTurns: cfg.Engine.MaxTurns}),
	}

	if cfg.Health.Enabled {
		a.monitor = health.NewMonitor(a.prober(), health.Config{
			Interval:         cfg.Health.Interval,
			BackoffIntervals: cfg.Health.BackoffIntervals,
			ProbeTimeout:     cfg.Health.ProbeTimeout,
		}, health.WithHooks(health.Hooks{
			OnAutoDisabled: registry.HandleAutoDisabled,
			OnReenabled:    registry.Reenable,
			OnRecovered:    registry.HandleRecovered,
		}))
		registry.SetListeners(cache, a.monitor)
	} else {
		registry.SetListeners(cache, nil)
	}

	return a, nil
}

// prober checks external servers with a connect round trip and managed
// servers through their Sandbox resource when a cluster is reachable.
func (a *app) prober() health.Prober {
	connect := health.ConnectProber{Connector: a.registry}
	p := health.DeploymentProber{Managed: connect, External: connect}

	managed := false
	for _, s := range a.cfg.MCPServers() {
		if s.Descriptor().DeploymentType == api.DeploymentManaged {
			managed = true
			break
		}
	}
	if !managed {
		return p
	}

	kube, err := newKubeClient()
	if err != nil {
		slog.Warn("no cluster access, probing managed servers over MCP", "error", err)
		return p
	}
	p.Managed = health.NewSandboxProber(kube, func(serverID string) (types.NamespacedName, bool) {
		cfg, ok := a.registry.Config(serverID)
		if !ok || cfg.Sandbox.Name == "" {
			return types.NamespacedName{}, false
		}
		return types.NamespacedName{Namespace: cfg.Sandbox.Namespace, Name: cfg.Sandbox.Name}, true
	})
	return p
}

func newKubeClient() (client.Client, error) {
	restCfg, err := kubeconfig.GetConfig()
	if err != nil {
		return nil, err
	}
	scheme, err := health.NewScheme()
	if err != nil {
		return nil, err
	}
	return client.New(restCfg, client.Options{Scheme: scheme})
}

func newHistoryStore(ctx context.Context, cfg config.StorageConfig) (storage.HistoryStore, error) {
	switch cfg.Type {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres history store: %w", err)
		}
		slog.Info("history store enabled", "type", "postgres")
		return store, nil
	default:
		slog.Info("history store enabled", "type", "memory", "max_size", cfg.MaxSize)
		return memory.New(cfg.MaxSize), nil
	}
}

// newAdapter returns a fresh provider adapter for one conversation.
func (a *app) newAdapter() provider.Adapter {
	e := a.cfg.Engine
	switch e.Provider {
	case claude.Name:
		return claude.New(claude.Config{
			BaseURL:     e.BaseURL,
			APIKey:      e.APIKey,
			Model:       e.Model,
			MaxTokens:   e.MaxTokens,
			Temperature: e.Temperature,
		}, a.tools)
	case ollama.Name:
		return ollama.New(ollama.Config{
			BaseURL:     e.BaseURL,
			Model:       e.Model,
			Temperature: e.Temperature,
		}, a.tools)
	default:
		var maxTokens *int
		if e.MaxTokens > 0 {
			maxTokens = &e.MaxTokens
		}
		return openai.New(openai.Config{
			BaseURL:     e.BaseURL,
			APIKey:      e.APIKey,
			Model:       e.Model,
			Temperature: e.Temperature,
			MaxTokens:   maxTokens,
		}, a.tools)
	}
}

// modelServers lists the tool index for the model summary callout. A
// failed build yields an empty list.
func (a *app) modelServers(ctx context.Context) []api.ServerTools {
	snap, err := a.discovery.Snapshot(ctx, discovery.Options{})
	if err != nil {
		slog.Warn("tool discovery failed", "error", err)
		return nil
	}
	return snap.Servers
}

// authChain builds the authenticator chain, or nil when auth is disabled.
func (a *app) authChain() (*auth.Chain, error) {
	c := a.cfg.Auth
	switch c.Type {
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(c.APIKeys))
		for _, k := range c.APIKeys {
			id := auth.Identity{Subject: k.Subject, Scopes: k.Scopes}
			if k.TenantID != "" {
				id.Metadata = map[string]string{"tenant_id": k.TenantID}
			}
			entries = append(entries, apikey.RawKeyEntry{Key: k.Key, Identity: id})
		}
		return &auth.Chain{
			Authenticators:  []auth.Authenticator{apikey.New(entries)},
			DefaultDecision: auth.No,
		}, nil
	case "jwt":
		authn, err := jwt.New(jwt.Config{
			Issuer:      c.JWT.Issuer,
			Audience:    c.JWT.Audience,
			Secret:      []byte(c.JWT.Secret),
			JWKSURL:     c.JWT.JWKSURL,
			UserClaim:   c.JWT.UserClaim,
			TenantClaim: c.JWT.TenantClaim,
			ScopesClaim: c.JWT.ScopesClaim,
			CacheTTL:    c.JWT.CacheTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring JWT authentication: %w", err)
		}
		return &auth.Chain{
			Authenticators:  []auth.Authenticator{authn},
			DefaultDecision: auth.No,
		}, nil
	default:
		return nil, nil
	}
}

// close stops the monitor and the executor and releases sessions and the
// history store.
func (a *app) close() error {
	if a.monitor != nil {
		a.monitor.StopMonitoring()
	}
	a.executor.Stop()
	return errors.Join(a.registry.Close(), a.store.Close())
}
