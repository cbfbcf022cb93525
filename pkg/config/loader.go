package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TOOLBRIDGE_"

// Load builds the configuration from defaults, the YAML file found for
// configPath, environment overrides and _file references, then validates
// it.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if path := discoverConfigFile(configPath); path != "" {
		if err := loadYAMLFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
		slog.Debug("loaded config file", "path", path)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// discoverConfigFile returns the first of: configPath, $TOOLBRIDGE_CONFIG,
// ./config.yaml, /etc/toolbridge/config.yaml. It returns "" when none
// applies.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	for _, p := range []string{"config.yaml", "/etc/toolbridge/config.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadYAMLFile decodes path over cfg. Keys absent from the file keep
// their current values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// envSetter applies one environment value.
type envSetter func(cfg *Config, v string) error

var envOverrides = map[string]envSetter{
	"PORT":             intVar(func(c *Config) *int { return &c.Server.Port }),
	"CORS_ORIGINS":     func(c *Config, v string) error { c.Server.CORSOrigins = splitList(v); return nil },
	"PROVIDER":         stringVar(func(c *Config) *string { return &c.Engine.Provider }),
	"BASE_URL":         stringVar(func(c *Config) *string { return &c.Engine.BaseURL }),
	"API_KEY":          stringVar(func(c *Config) *string { return &c.Engine.APIKey }),
	"MODEL":            stringVar(func(c *Config) *string { return &c.Engine.Model }),
	"MAX_TURNS":        intVar(func(c *Config) *int { return &c.Engine.MaxTurns }),
	"CONCURRENT_LIMIT": intVar(func(c *Config) *int { return &c.Executor.ConcurrentLimit }),
	"SESSION_LIMIT":    intVar(func(c *Config) *int { return &c.Executor.SessionLimit }),
	"CALL_TIMEOUT":     durationVar(func(c *Config) *time.Duration { return &c.Executor.CallTimeout }),
	"HEALTH_INTERVAL":  durationVar(func(c *Config) *time.Duration { return &c.Health.Interval }),
	"STORAGE":          stringVar(func(c *Config) *string { return &c.Storage.Type }),
	"STORAGE_SIZE":     intVar(func(c *Config) *int { return &c.Storage.MaxSize }),
	"POSTGRES_DSN":     stringVar(func(c *Config) *string { return &c.Storage.Postgres.DSN }),
	"AUTH_TYPE":        stringVar(func(c *Config) *string { return &c.Auth.Type }),
	"LOG_LEVEL":        stringVar(func(c *Config) *string { return &c.Observability.Logging.Level }),
	"API_KEYS": func(c *Config, v string) error {
		var keys []APIKeyConfig
		if err := json.Unmarshal([]byte(v), &keys); err != nil {
			return fmt.Errorf("parsing API keys JSON: %w", err)
		}
		c.Auth.APIKeys = keys
		return nil
	},
	"MCP_SERVERS": func(c *Config, v string) error {
		var servers []MCPServerConfig
		if err := json.Unmarshal([]byte(v), &servers); err != nil {
			return fmt.Errorf("parsing MCP servers JSON: %w", err)
		}
		c.MCP.Servers = servers
		return nil
	},
}

// applyEnvOverrides applies every set TOOLBRIDGE_* variable. Malformed
// values are reported with the variable name.
func applyEnvOverrides(cfg *Config) error {
	for name, set := range envOverrides {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok || v == "" {
			continue
		}
		if err := set(cfg, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
	}
	return nil
}

func stringVar(field func(*Config) *string) envSetter {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func intVar(field func(*Config) *int) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func durationVar(field func(*Config) *time.Duration) envSetter {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

type secretRef struct {
	path  string
	file  string
	value *string
}

// resolveFileReferences fills empty secret fields from their _file
// counterparts. An explicit value always wins.
func resolveFileReferences(cfg *Config) error {
	refs := []secretRef{
		{"engine.api_key_file", cfg.Engine.APIKeyFile, &cfg.Engine.APIKey},
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
		{"auth.jwt.secret_file", cfg.Auth.JWT.SecretFile, &cfg.Auth.JWT.Secret},
	}
	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		refs = append(refs, secretRef{fmt.Sprintf("auth.api_keys[%d].key_file", i), k.KeyFile, &k.Key})
	}
	for i := range cfg.MCP.Servers {
		s := &cfg.MCP.Servers[i]
		refs = append(refs, secretRef{fmt.Sprintf("mcp.servers[%d].client_secret_file", i), s.ClientSecretFile, &s.Auth.ClientSecret})
	}

	for _, r := range refs {
		if r.file == "" || *r.value != "" {
			continue
		}
		v, err := readSecretFile(r.file)
		if err != nil {
			return fmt.Errorf("%s: %w", r.path, err)
		}
		*r.value = v
	}
	return nil
}

// readSecretFile returns the trimmed content of path.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
