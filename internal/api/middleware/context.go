package middleware

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
// This prevents accidental key conflicts with other packages.
type contextKey string

// Context keys for request-scoped values, populated by AuthMiddleware from
// the bearer access token's claims.
const (
	UserIDKey      contextKey = "user_id"
	ClientIDKey    contextKey = "client_id"
	ScopeKey       contextKey = "scope"
	PermissionsKey contextKey = "permissions"
)

// GetUserID safely extracts the user ID from context. Absent for
// client-credentials tokens, which carry no user subject.
func GetUserID(ctx context.Context) (uuid.UUID, error) {
	val := ctx.Value(UserIDKey)
	if val == nil {
		return uuid.Nil, fmt.Errorf("user_id not found in context")
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("user_id has wrong type: %T", val)
	}
	return id, nil
}

// GetClientID safely extracts the token's client_id claim from context.
func GetClientID(ctx context.Context) (string, error) {
	val := ctx.Value(ClientIDKey)
	if val == nil {
		return "", fmt.Errorf("client_id not found in context")
	}
	id, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("client_id has wrong type: %T", val)
	}
	return id, nil
}

// GetScope safely extracts the token's granted scope string from context.
func GetScope(ctx context.Context) (string, error) {
	val := ctx.Value(ScopeKey)
	if val == nil {
		return "", fmt.Errorf("scope not found in context")
	}
	scope, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("scope has wrong type: %T", val)
	}
	return scope, nil
}

// GetPermissions extracts the denormalised RBAC permission snapshot carried
// in the access token's claims. Returns nil, not an error, when absent.
func GetPermissions(ctx context.Context) []string {
	val := ctx.Value(PermissionsKey)
	if val == nil {
		return nil
	}
	perms, _ := val.([]string)
	return perms
}

// MustGetUserID extracts user ID and panics if not found.
// Use only in contexts where UserID is guaranteed to be set by middleware.
func MustGetUserID(ctx context.Context) uuid.UUID {
	id, err := GetUserID(ctx)
	if err != nil {
		panic(fmt.Sprintf("CRITICAL: %v", err))
	}
	return id
}
