// Package config loads the toolbridge configuration.
//
// Sources are layered, later ones winning:
//  1. Built-in defaults
//  2. YAML file (explicit path, TOOLBRIDGE_CONFIG, ./config.yaml,
//     /etc/toolbridge/config.yaml)
//  3. TOOLBRIDGE_* environment variables
//  4. _file secret references
//
// The result is validated before it is returned.
package config

import (
	"time"

	"github.com/rhuss/toolbridge/pkg/tools/mcp"
)

// Config is the complete toolbridge configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Engine        EngineConfig        `yaml:"engine"`
	Executor      ExecutorConfig      `yaml:"executor"`
	Discovery     DiscoveryConfig     `yaml:"discovery"`
	Health        HealthConfig        `yaml:"health"`
	MCP           MCPConfig           `yaml:"mcp"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 0, chat streams are long lived
	CORSOrigins  []string      `yaml:"cors_origins"`  // empty disables CORS
}

// EngineConfig selects the model provider used by the chat coordinator.
type EngineConfig struct {
	Provider    string   `yaml:"provider"` // "openai", "claude" or "ollama"; default: "openai"
	BaseURL     string   `yaml:"base_url"` // default: the provider's public endpoint
	APIKey      string   `yaml:"api_key"`
	APIKeyFile  string   `yaml:"api_key_file"`
	Model       string   `yaml:"model"`
	MaxTurns    int      `yaml:"max_turns"` // default: 5
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// ExecutorConfig holds the execution admission limits.
type ExecutorConfig struct {
	ConcurrentLimit int           `yaml:"concurrent_limit"` // default: 3
	SessionLimit    int           `yaml:"session_limit"`    // default: 25, -1 for unlimited
	CallTimeout     time.Duration `yaml:"call_timeout"`     // default: 30s
	HistoryLimit    int           `yaml:"history_limit"`    // default: 100
}

// DiscoveryConfig tunes tool discovery.
type DiscoveryConfig struct {
	Fanout      int           `yaml:"fanout"`       // default: 8
	ListTimeout time.Duration `yaml:"list_timeout"` // default: 10s
	Preload     bool          `yaml:"preload"`      // build the index at startup
}

// HealthConfig holds the health monitor schedule.
type HealthConfig struct {
	Enabled          bool            `yaml:"enabled"`           // default: true
	Interval         time.Duration   `yaml:"interval"`          // default: 30s
	BackoffIntervals []time.Duration `yaml:"backoff_intervals"` // default: 1s, 5s, 15s
	ProbeTimeout     time.Duration   `yaml:"probe_timeout"`     // default: 10s
}

// MCPConfig lists the MCP servers known to the registry.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig is an MCP server entry. The client secret may be read
// from a file.
type MCPServerConfig struct {
	mcp.ServerConfig `yaml:",inline"`
	ClientSecretFile string `yaml:"client_secret_file" json:"client_secret_file,omitempty"`
}

// StorageConfig selects the persistent execution history backend.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "memory" or "postgres"; default: "memory"
	MaxSize  int            `yaml:"max_size"` // memory store; default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`
	MaxConns       int32  `yaml:"max_conns"` // default: 10
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	Type    string         `yaml:"type"` // "none", "apikey" or "jwt"; default: "none"
	APIKeys []APIKeyConfig `yaml:"api_keys"`
	JWT     JWTConfig      `yaml:"jwt"`
}

// APIKeyConfig is one API key and the identity it grants.
type APIKeyConfig struct {
	Key      string   `yaml:"key" json:"key"`
	KeyFile  string   `yaml:"key_file" json:"key_file"`
	Subject  string   `yaml:"subject" json:"subject"`
	TenantID string   `yaml:"tenant_id" json:"tenant_id"`
	Scopes   []string `yaml:"scopes" json:"scopes"`
}

// JWTConfig holds JWT validation settings.
type JWTConfig struct {
	Issuer      string        `yaml:"issuer"`
	Audience    string        `yaml:"audience"`
	Secret      string        `yaml:"secret"`
	SecretFile  string        `yaml:"secret_file"`
	JWKSURL     string        `yaml:"jwks_url"`
	UserClaim   string        `yaml:"user_claim"`
	TenantClaim string        `yaml:"tenant_claim"`
	ScopesClaim string        `yaml:"scopes_claim"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig controls slog output and debug categories.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error; default: info
	Debug  string `yaml:"debug"`  // comma separated debug categories or "all"
	Format string `yaml:"format"` // "text" or "json"; default: "text"
}

// Defaults returns a Config with every default filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        8080,
			ReadTimeout: 30 * time.Second,
		},
		Engine: EngineConfig{
			Provider: "openai",
			MaxTurns: 5,
		},
		Executor: ExecutorConfig{
			ConcurrentLimit: 3,
			SessionLimit:    25,
			CallTimeout:     30 * time.Second,
			HistoryLimit:    100,
		},
		Discovery: DiscoveryConfig{
			Fanout:      8,
			ListTimeout: 10 * time.Second,
		},
		Health: HealthConfig{
			Enabled:          true,
			Interval:         30 * time.Second,
			BackoffIntervals: []time.Duration{time.Second, 5 * time.Second, 15 * time.Second},
			ProbeTimeout:     10 * time.Second,
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns: 10,
			},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			Logging: LoggingConfig{
				Level: "info",
			},
		},
	}
}

// MCPServers returns the MCP server entries in registry form.
func (c *Config) MCPServers() []mcp.ServerConfig {
	out := make([]mcp.ServerConfig, len(c.MCP.Servers))
	for i, s := range c.MCP.Servers {
		out[i] = s.ServerConfig
	}
	return out
}
