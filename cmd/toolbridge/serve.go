package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rhuss/toolbridge/pkg/api"
	transporthttp "github.com/rhuss/toolbridge/pkg/transport/http"
)

// ServeCmd runs the HTTP API until SIGINT or SIGTERM.
type ServeCmd struct {
	Addr string `short:"a" long:"addr" description:"listen address, overrides server.port"`
}

// Execute implements flags.Commander.
func (c *ServeCmd) Execute(_ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			slog.Warn("shutdown cleanup failed", "error", err)
		}
	}()

	chain, err := a.authChain()
	if err != nil {
		return err
	}

	if cfg.Discovery.Preload {
		if err := a.discovery.Preload(ctx); err != nil {
			slog.Warn("tool discovery preload failed", "error", err)
		}
	}

	svc := transporthttp.Services{
		Tools:      a.discovery,
		Executions: a.executor,
		History:    a.store,
		Chat: &transporthttp.ChatService{
			Coordinator: a.coord,
			NewAdapter:  a.newAdapter,
			Executor:    a.executor,
			Provider:    cfg.Engine.Provider,
			Model:       cfg.Engine.Model,
			Servers:     a.modelServers,
		},
	}
	if a.monitor != nil {
		servers := cfg.MCPServers()
		descriptors := make([]api.ServerDescriptor, len(servers))
		for i, s := range servers {
			descriptors[i] = s.Descriptor()
		}
		a.monitor.StartMonitoring(ctx, descriptors)
		svc.Health = a.monitor
	}

	httpCfg := transporthttp.Config{
		CORSOrigins: cfg.Server.CORSOrigins,
		Auth:        chain,
	}
	if cfg.Observability.Metrics.Enabled {
		httpCfg.MetricsPath = cfg.Observability.Metrics.Path
	}

	addr := c.Addr
	if addr == "" {
		addr = ":" + strconv.Itoa(cfg.Server.Port)
	}
	srv := transporthttp.NewServer(
		transporthttp.NewAdapter(svc, httpCfg, slog.Default()).Handler(),
		transporthttp.WithAddr(addr),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
	)

	slog.Info("toolbridge starting",
		"addr", addr,
		"provider", cfg.Engine.Provider,
		"model", cfg.Engine.Model,
		"mcp_servers", len(cfg.MCP.Servers),
		"auth", cfg.Auth.Type,
		"storage", cfg.Storage.Type,
	)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("serving on %s: %w", addr, err)
	}
	return nil
}
