package auth

import (
	"net/http"
	"strings"
)

const (
	// DevOwnerHeader carries the owner id when token checks are disabled.
	DevOwnerHeader = "X-Owner-ID"
	// DevRoleHeader optionally carries the role when token checks are disabled.
	DevRoleHeader = "X-Owner-Role"
)

// Middleware validates JWTs and enforces RBAC.
type Middleware struct {
	Secret   []byte
	Policy   Policy
	Disabled bool
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{Secret: secret, Policy: policy}
}

// NewDevMiddleware trusts the X-Owner-ID header instead of a token. Role
// defaults to estimator.
func NewDevMiddleware(policy Policy) *Middleware {
	return &Middleware{Policy: policy, Disabled: true}
}

// Wrap applies auth and RBAC to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		required, ok := m.Policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		id, err := m.identify(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !RoleAtLeast(id.Role, required) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (m *Middleware) identify(r *http.Request) (Identity, error) {
	if m.Disabled {
		owner := strings.TrimSpace(r.Header.Get(DevOwnerHeader))
		if owner == "" {
			return Identity{}, ErrUnauthorized
		}
		role := RoleEstimator
		if value := strings.TrimSpace(r.Header.Get(DevRoleHeader)); value != "" {
			normalized, ok := NormalizeRole(value)
			if !ok {
				return Identity{}, ErrUnauthorized
			}
			role = normalized
		}
		return Identity{OwnerID: owner, Role: role}, nil
	}

	claims, err := ParseJWT(extractBearer(r), m.Secret)
	if err != nil {
		return Identity{}, err
	}
	role, _ := NormalizeRole(claims.Role)
	return Identity{OwnerID: claims.Subject, Email: claims.Email, Role: role}, nil
}

func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
