package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/lavente/authguard/internal/tokenengine"
)

// AuthMiddleware validates the RS256 bearer access token on every protected
// request and injects its claims into the request context.
func AuthMiddleware(signer *tokenengine.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
				return
			}

			claims, err := signer.ParseAccessToken(parts[1])
			if err != nil {
				if errors.Is(err, tokenengine.ErrExpiredToken) {
					slog.Info("expired bearer token", "ip", r.RemoteAddr)
				} else {
					slog.Warn("invalid bearer token", "error", err, "ip", r.RemoteAddr)
				}
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClientIDKey, claims.ClientID)
			ctx = context.WithValue(ctx, ScopeKey, claims.Scope)
			ctx = context.WithValue(ctx, PermissionsKey, claims.Permissions)
			if claims.Subject != "" {
				if uid, perr := uuid.Parse(claims.Subject); perr == nil {
					ctx = context.WithValue(ctx, UserIDKey, uid)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
