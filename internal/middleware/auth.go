package middleware

import (
	"context"
	"net/http"
	"strings"

	"crmdesk-backend/internal/auth"
	"crmdesk-backend/internal/transport"
)

// AccessCookie is the cookie the auth service sets alongside the bearer
// header; either carrier is accepted.
const AccessCookie = "crm_access"

type identityKey struct{}

type Identity struct {
	UserID string
	Role   string
}

// Auth verifies the bearer token (header or cookie) and stores the caller's
// identity in the request context. Requests without a valid token are
// rejected with 401.
func Auth(manager *auth.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if manager == nil {
				transport.WriteError(w, http.StatusServiceUnavailable, "auth not configured", nil)
				return
			}

			token := bearerToken(r)
			if token == "" {
				transport.WriteError(w, http.StatusUnauthorized, "missing token", nil)
				return
			}

			claims, err := manager.Parse(token)
			if err != nil {
				transport.WriteError(w, http.StatusUnauthorized, "invalid token", nil)
				return
			}

			ident := Identity{UserID: claims.UserID(), Role: claims.Role}
			if ident.UserID == "" {
				transport.WriteError(w, http.StatusUnauthorized, "invalid token", nil)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey{}, ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles rejects callers whose role is not in the allowed set. Must be
// mounted after Auth.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := IdentityFromContext(r.Context())
			if !ok {
				transport.WriteError(w, http.StatusUnauthorized, "missing token", nil)
				return
			}
			if _, ok := allowed[ident.Role]; !ok {
				transport.WriteError(w, http.StatusForbidden, "insufficient role", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(identityKey{}).(Identity)
	return v, ok
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if cookie, err := r.Cookie(AccessCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}
