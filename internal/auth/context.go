package auth

import "context"

type contextKey string

const (
	contextKeyOwner contextKey = "auth.owner_id"
	contextKeyEmail contextKey = "auth.email"
	contextKeyRole  contextKey = "auth.role"
)

// Identity is the authenticated caller. OwnerID scopes every quote.
type Identity struct {
	OwnerID string
	Email   string
	Role    Role
}

// WithIdentity stores auth identity details in context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, contextKeyOwner, id.OwnerID)
	ctx = context.WithValue(ctx, contextKeyEmail, id.Email)
	ctx = context.WithValue(ctx, contextKeyRole, id.Role)
	return ctx
}

// IdentityFromContext extracts the identity; ok is false without an owner.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id := Identity{
		OwnerID: OwnerIDFromContext(ctx),
		Email:   stringValue(ctx, contextKeyEmail),
		Role:    RoleFromContext(ctx),
	}
	return id, id.OwnerID != ""
}

// OwnerIDFromContext extracts owner id from context.
func OwnerIDFromContext(ctx context.Context) string {
	return stringValue(ctx, contextKeyOwner)
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if role, ok := value.(string); ok {
		if normalized, valid := NormalizeRole(role); valid {
			return normalized
		}
	}
	return ""
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(key).(string); ok {
		return value
	}
	return ""
}
