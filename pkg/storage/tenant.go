package storage

import "context"

type tenantKey struct{}

// SetTenant scopes history written and read through ctx to tenantID.
func SetTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// GetTenant returns the tenant stored by SetTenant, or "" when history is
// not tenant scoped.
func GetTenant(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey{}).(string); ok {
		return v
	}
	return ""
}
