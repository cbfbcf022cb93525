package health

import (
	"context"
	"fmt"

	"github.com/rhuss/toolbridge/pkg/api"
)

// Prober runs one liveness probe against a server.
type Prober interface {
	Probe(ctx context.Context, server api.ServerDescriptor) error
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context, server api.ServerDescriptor) error

// Probe implements Prober.
func (f ProbeFunc) Probe(ctx context.Context, server api.ServerDescriptor) error {
	return f(ctx, server)
}

// DeploymentProber dispatches on the server's deployment type. Managed
// servers are checked through the cluster, external servers through a
// connect and disconnect round trip.
type DeploymentProber struct {
	Managed  Prober
	External Prober
}

// Probe implements Prober.
func (p DeploymentProber) Probe(ctx context.Context, server api.ServerDescriptor) error {
	switch server.DeploymentType {
	case api.DeploymentManaged:
		if p.Managed == nil {
			return fmt.Errorf("no prober for managed server %q", server.ID)
		}
		return p.Managed.Probe(ctx, server)
	default:
		if p.External == nil {
			return fmt.Errorf("no prober for external server %q", server.ID)
		}
		return p.External.Probe(ctx, server)
	}
}

// Connector opens and closes a session to a server.
type Connector interface {
	Probe(ctx context.Context, serverID string) error
}

// ConnectProber checks reachability with a fresh connection.
type ConnectProber struct {
	Connector Connector
}

// Probe implements Prober.
func (p ConnectProber) Probe(ctx context.Context, server api.ServerDescriptor) error {
	return p.Connector.Probe(ctx, server.ID)
}
