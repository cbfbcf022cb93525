package config

import (
	"errors"
	"fmt"

	"github.com/rhuss/toolbridge/pkg/tools/mcp"
)

// Validate reports every invalid field, each prefixed with its path.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port <= 0 {
		add("server.port must be > 0, got %d", c.Server.Port)
	}

	switch c.Engine.Provider {
	case "openai", "claude", "ollama":
	default:
		add("engine.provider must be \"openai\", \"claude\" or \"ollama\", got %q", c.Engine.Provider)
	}
	if c.Engine.MaxTurns < 0 {
		add("engine.max_turns must be >= 0, got %d", c.Engine.MaxTurns)
	}

	if c.Executor.ConcurrentLimit < 0 {
		add("executor.concurrent_limit must be >= 0, got %d", c.Executor.ConcurrentLimit)
	}
	if c.Executor.SessionLimit < -1 {
		add("executor.session_limit must be >= -1, got %d", c.Executor.SessionLimit)
	}

	for i, d := range c.Health.BackoffIntervals {
		if d <= 0 {
			add("health.backoff_intervals[%d] must be positive, got %s", i, d)
		}
	}

	seen := make(map[string]bool, len(c.MCP.Servers))
	for i, s := range c.MCP.Servers {
		path := fmt.Sprintf("mcp.servers[%d]", i)
		switch {
		case s.ID == "":
			add("%s.id is required", path)
		case seen[s.ID]:
			add("%s.id %q is not unique", path, s.ID)
		}
		seen[s.ID] = true

		switch s.Transport {
		case "", mcp.TransportStreamableHTTP, mcp.TransportSSE:
			if s.URL == "" {
				add("%s.url is required for transport %q", path, s.Transport)
			}
		case mcp.TransportCommand:
			if s.Command == "" {
				add("%s.command is required for transport %q", path, s.Transport)
			}
		default:
			add("%s.transport must be %q, %q or %q, got %q", path,
				mcp.TransportStreamableHTTP, mcp.TransportSSE, mcp.TransportCommand, s.Transport)
		}
	}

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			add("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\"")
		}
	default:
		add("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type)
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			add("auth.api_keys must not be empty when auth.type is \"apikey\"")
		}
	case "jwt":
		hasSecret := c.Auth.JWT.Secret != "" || c.Auth.JWT.SecretFile != ""
		if hasSecret == (c.Auth.JWT.JWKSURL != "") {
			add("exactly one of auth.jwt.secret and auth.jwt.jwks_url is required when auth.type is \"jwt\"")
		}
	default:
		add("auth.type must be \"none\", \"apikey\" or \"jwt\", got %q", c.Auth.Type)
	}

	switch c.Observability.Logging.Format {
	case "", "text", "json":
	default:
		add("observability.logging.format must be \"text\" or \"json\", got %q", c.Observability.Logging.Format)
	}

	return errors.Join(errs...)
}
