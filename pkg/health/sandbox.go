package health

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"

	"github.com/rhuss/toolbridge/pkg/api"
)

// NewScheme returns a runtime.Scheme with the agent-sandbox types
// registered.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := sandboxv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register sandbox types: %w", err)
	}
	return scheme, nil
}

// SandboxLocator maps a server ID to its Sandbox resource.
type SandboxLocator func(serverID string) (types.NamespacedName, bool)

// SandboxProber checks a managed server by reading its Sandbox resource
// and requiring the Ready condition to be True.
type SandboxProber struct {
	client client.Client
	locate SandboxLocator
}

// NewSandboxProber creates a prober reading Sandboxes through c.
func NewSandboxProber(c client.Client, locate SandboxLocator) *SandboxProber {
	return &SandboxProber{client: c, locate: locate}
}

// Probe implements Prober.
func (p *SandboxProber) Probe(ctx context.Context, server api.ServerDescriptor) error {
	key, ok := p.locate(server.ID)
	if !ok {
		return fmt.Errorf("no sandbox configured for managed server %q", server.ID)
	}

	sandbox := &sandboxv1alpha1.Sandbox{}
	if err := p.client.Get(ctx, key, sandbox); err != nil {
		return fmt.Errorf("get Sandbox %s: %w", key, err)
	}
	if !isReady(sandbox) {
		return fmt.Errorf("Sandbox %s is not ready", key)
	}
	return nil
}

func isReady(sandbox *sandboxv1alpha1.Sandbox) bool {
	for _, c := range sandbox.Status.Conditions {
		if c.Type == string(sandboxv1alpha1.SandboxConditionReady) && c.Status == metav1.ConditionTrue {
			return true
		}
	}
	return false
}
