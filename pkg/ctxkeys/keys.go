// Package ctxkeys defines typed context keys shared by the HTTP, RPC and
// workflow layers.
package ctxkeys

import "context"

// Key is a typed context key to prevent collisions.
type Key string

// Caller identity keys, set by the auth middleware.
const (
	KeyUserID       Key = "user_id"
	KeyTenantID     Key = "tenant_id"
	KeyRole         Key = "role"
	KeyAuthType     Key = "auth_type"
	KeyServiceToken Key = "service_token"
	KeyIsAdmin      Key = "is_admin"
)

// Request keys.
const (
	KeyRequestID      Key = "request_id"
	KeyIdempotencyKey Key = "idempotency_key"
)

func getString(ctx context.Context, k Key) string {
	if v, ok := ctx.Value(k).(string); ok {
		return v
	}
	return ""
}

// GetUserID extracts user_id from context.
func GetUserID(ctx context.Context) string { return getString(ctx, KeyUserID) }

// GetTenantID extracts tenant_id from context.
func GetTenantID(ctx context.Context) string { return getString(ctx, KeyTenantID) }

// GetRole extracts role from context.
func GetRole(ctx context.Context) string { return getString(ctx, KeyRole) }

// GetAuthType extracts auth_type from context.
func GetAuthType(ctx context.Context) string { return getString(ctx, KeyAuthType) }

// GetServiceToken extracts service_token from context.
func GetServiceToken(ctx context.Context) string { return getString(ctx, KeyServiceToken) }

// GetRequestID extracts request_id from context.
func GetRequestID(ctx context.Context) string { return getString(ctx, KeyRequestID) }

// IsAdmin reports whether the caller was authenticated with admin rights.
func IsAdmin(ctx context.Context) bool {
	if v, ok := ctx.Value(KeyIsAdmin).(bool); ok {
		return v
	}
	return false
}
