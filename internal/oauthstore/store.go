package oauthstore

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence gateway. It exposes transactional, typed
// operations over the entities in this package; it is the only component
// that owns durability, and the only seam the rest of the service needs to
// satisfy in tests (see memstore for an in-memory implementation used by
// every protocol-logic test in this repo).
type Store interface {
	// Users
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (User, error)
	CreateUser(ctx context.Context, u User) (User, error)
	RecordFailedLogin(ctx context.Context, userID uuid.UUID, lockThreshold int, lockDuration int64) (User, error)
	RecordSuccessfulLogin(ctx context.Context, userID uuid.UUID, at int64) error
	SetUserMFA(ctx context.Context, userID uuid.UUID, secret string, enabled bool) error

	// Clients
	GetClientByClientID(ctx context.Context, clientID string) (Client, error)
	CreateClient(ctx context.Context, c Client) (Client, error)

	// Authorization codes
	CreateAuthorizationCode(ctx context.Context, c AuthorizationCode) error
	GetAuthorizationCodeByHash(ctx context.Context, hash string) (AuthorizationCode, error)
	// MarkAuthorizationCodeUsed atomically flips used=false->true. won is
	// true iff this caller performed the flip (lost races see won=false).
	MarkAuthorizationCodeUsed(ctx context.Context, id uuid.UUID) (won bool, err error)

	// Access tokens
	CreateAccessToken(ctx context.Context, t AccessToken) error
	GetAccessTokenByHash(ctx context.Context, hash string) (AccessToken, error)
	RevokeAccessToken(ctx context.Context, id uuid.UUID) error
	RevokeAccessTokensByUserClient(ctx context.Context, userID uuid.UUID, clientID string) error

	// Refresh tokens
	CreateRefreshToken(ctx context.Context, t RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (RefreshToken, error)
	// RotateRefreshToken atomically revokes oldID (recording newID as its
	// RotatedToID) and inserts newToken. won is false if oldID was already
	// revoked by a concurrent caller (the classic rotation race).
	RotateRefreshToken(ctx context.Context, oldID uuid.UUID, newToken RefreshToken) (won bool, err error)
	RevokeRefreshToken(ctx context.Context, id uuid.UUID) error
	RevokeChain(ctx context.Context, chainID uuid.UUID) error
	RevokeRefreshTokensByUserClient(ctx context.Context, userID uuid.UUID, clientID string) error

	// Cascade helper used by the authorization-code engine on replay: every
	// token ever issued from a code's original consumption is revoked.
	RevokeTokensByChain(ctx context.Context, chainID uuid.UUID) error

	// Consent
	GetConsent(ctx context.Context, userID uuid.UUID, clientID string) (ConsentGrant, bool, error)
	UpsertConsent(ctx context.Context, grant ConsentGrant) error
	RevokeConsent(ctx context.Context, userID uuid.UUID, clientID string) error

	// RBAC
	GetUserPermissions(ctx context.Context, userID uuid.UUID) ([]string, error)
	CreateRole(ctx context.Context, r Role) (Role, error)
	CreatePermission(ctx context.Context, p Permission) (Permission, error)
	GrantRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) error
	AssignUserRole(ctx context.Context, userID, roleID uuid.UUID) error
	RevokeUserRole(ctx context.Context, userID, roleID uuid.UUID) error
	// UsersWithRole lists users who must have their permission cache entry
	// invalidated when a role's permissions change.
	UsersWithRole(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error)

	// Sessions (credential authenticator output)
	CreateSession(ctx context.Context, s Session) error
	GetSessionByHash(ctx context.Context, hash string) (Session, error)
}
