package tenancy

import "context"

type tenantIDKey struct{}

// WithTenantID scopes ctx to a tenant. The HTTP layer sets it from the
// webhook route so per-tenant middleware can key on it.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey{}, tenantID)
}

// TenantIDFromContext reports the scoped tenant; an empty id counts as
// unscoped so callers never key on "".
func TenantIDFromContext(ctx context.Context) (string, bool) {
	tenantID, _ := ctx.Value(tenantIDKey{}).(string)
	return tenantID, tenantID != ""
}
