package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func okHandler(seen *Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen, _ = IdentityFromContext(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	secret := []byte("test-secret")
	mw := NewMiddleware(secret, NewDefaultPolicy(nil, nil))
	handler := mw.Wrap(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quotes", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestAuthMiddleware_TokenCarriesOwner(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "owner-42", "estimator")
	var seen Identity
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler(&seen))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/quotes", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if seen.OwnerID != "owner-42" || seen.Email != "owner-42@example.com" || seen.Role != RoleEstimator {
		t.Fatalf("unexpected identity %+v", seen)
	}
}

func TestAuthMiddleware_RoleChecks(t *testing.T) {
	secret := []byte("test-secret")
	cases := []struct {
		name   string
		role   string
		method string
		path   string
		want   int
	}{
		{"viewer reads quotes", "viewer", http.MethodGet, "/api/v1/quotes/q-1", http.StatusOK},
		{"viewer cannot save", "viewer", http.MethodPost, "/api/v1/quotes", http.StatusForbidden},
		{"viewer cannot finalize", "viewer", http.MethodPost, "/api/v1/quotes/q-1/finalize", http.StatusForbidden},
		{"viewer calculates", "viewer", http.MethodPost, "/api/v1/calculate", http.StatusOK},
		{"estimator cannot reload rates", "estimator", http.MethodPost, "/api/v1/admin/rate-tables/reload", http.StatusForbidden},
		{"admin reloads rates", "admin", http.MethodPost, "/api/v1/admin/rate-tables/reload", http.StatusOK},
	}
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler(nil))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			req.Header.Set("Authorization", "Bearer "+mustToken(t, secret, "owner-1", tc.role))
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.Code)
			}
		})
	}
}

func TestAuthMiddleware_ExemptPaths(t *testing.T) {
	handler := NewMiddleware([]byte("s"), NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)).Wrap(okHandler(nil))
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	claims := Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "owner-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler(nil))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/frames", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestDevMiddleware_UsesOwnerHeader(t *testing.T) {
	var seen Identity
	handler := NewDevMiddleware(NewDefaultPolicy(nil, nil)).Wrap(okHandler(&seen))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/quotes", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without owner header, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/quotes", nil)
	req.Header.Set(DevOwnerHeader, "dev-owner")
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK || seen.OwnerID != "dev-owner" || seen.Role != RoleEstimator {
		t.Fatalf("unexpected dev identity %d %+v", resp.Code, seen)
	}
}

func TestIssueJWTRoundTrip(t *testing.T) {
	secret := []byte("cli-secret")
	token, err := IssueJWT(Identity{OwnerID: "owner-7", Email: "a@b.it", Role: RoleAdmin}, secret, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := ParseJWT(token, secret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "owner-7" || claims.Role != "admin" || claims.Email != "a@b.it" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := ParseJWT(token, []byte("other")); err == nil {
		t.Fatalf("expected signature failure")
	}
}

func mustToken(t *testing.T, secret []byte, ownerID, role string) string {
	t.Helper()
	claims := Claims{
		Email: ownerID + "@example.com",
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
