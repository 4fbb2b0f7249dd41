// Package requestctx provides request-scoped values (tenant_id, actor_id)
// set by server middleware and read by the engine and stores.
package requestctx

import "context"

type contextKey struct{ name string }

var (
	tenantIDKey = &contextKey{"tenant_id"}
	actorIDKey  = &contextKey{"actor_id"}
)

// SetTenantID stores tenant_id in the context.
func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantID returns the tenant_id from context, or "" if not set.
func TenantID(ctx context.Context) string {
	v, _ := ctx.Value(tenantIDKey).(string)
	return v
}

// SetActorID stores the acting user's id in the context.
func SetActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey, actorID)
}

// ActorID returns the acting user's id from context, or "" if not set.
func ActorID(ctx context.Context) string {
	v, _ := ctx.Value(actorIDKey).(string)
	return v
}
