package middleware

import (
	"log/slog"
	"net/http"
	"slices"
)

// RequirePermission builds a middleware that rejects requests whose bearer
// token's permission snapshot (injected by AuthMiddleware) does not contain
// permission. Unlike a role hierarchy, permissions carry no implicit
// ordering: internal/rbac is the only source of truth for which permissions
// a role grants, and the token carries a point-in-time snapshot of that.
func RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := GetUserID(r.Context()); err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			perms := GetPermissions(r.Context())
			if !slices.Contains(perms, permission) {
				slog.Warn("rbac: permission denied", "need", permission, "have", perms, "path", r.URL.Path)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
