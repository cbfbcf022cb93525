package mcp

import (
	"github.com/rhuss/toolbridge/pkg/api"
)

// Transport names accepted in ServerConfig.Transport.
const (
	TransportStreamableHTTP = "streamable-http"
	TransportSSE            = "sse"
	TransportCommand        = "command"
)

// ServerConfig describes a single MCP server known to the registry.
type ServerConfig struct {
	// ID is the stable identifier used for routing and health tracking.
	ID string `yaml:"id" json:"id"`

	// Name is the human-readable server name shown in callouts.
	Name string `yaml:"name" json:"name"`

	// Enabled controls whether the server participates in discovery.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// DeploymentType is "managed" for sandbox-hosted servers and
	// "external" otherwise.
	DeploymentType api.DeploymentType `yaml:"deployment_type" json:"deployment_type"`

	// Transport is "streamable-http" (default), "sse", or "command".
	Transport string `yaml:"transport" json:"transport"`

	// URL is the endpoint for HTTP transports.
	URL string `yaml:"url" json:"url"`

	// Command and Args launch a stdio server for the command transport.
	Command string            `yaml:"command" json:"command,omitempty"`
	Args    []string          `yaml:"args" json:"args,omitempty"`
	Env     map[string]string `yaml:"env" json:"env,omitempty"`

	// Headers are static HTTP headers sent with every request.
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`

	// Auth configures dynamic request authentication.
	Auth AuthConfig `yaml:"auth" json:"auth,omitempty"`

	// Sandbox names the Sandbox resource backing a managed server.
	Sandbox SandboxRef `yaml:"sandbox" json:"sandbox,omitempty"`
}

// Descriptor returns the registry-facing identity of the server.
func (c ServerConfig) Descriptor() api.ServerDescriptor {
	dt := c.DeploymentType
	if dt == "" {
		dt = api.DeploymentExternal
	}
	name := c.Name
	if name == "" {
		name = c.ID
	}
	return api.ServerDescriptor{ID: c.ID, Name: name, Enabled: c.Enabled, DeploymentType: dt}
}

// AuthConfig configures how requests to an MCP server are authenticated.
type AuthConfig struct {
	// Type is "" (static headers only) or "oauth_client_credentials".
	Type         string   `yaml:"type" json:"type,omitempty"`
	TokenURL     string   `yaml:"token_url" json:"token_url,omitempty"`
	ClientID     string   `yaml:"client_id" json:"client_id,omitempty"`
	ClientSecret string   `yaml:"client_secret" json:"-"`
	Scopes       []string `yaml:"scopes" json:"scopes,omitempty"`
}

// SandboxRef locates the Sandbox custom resource of a managed server.
type SandboxRef struct {
	Namespace string `yaml:"namespace" json:"namespace,omitempty"`
	Name      string `yaml:"name" json:"name,omitempty"`
}
