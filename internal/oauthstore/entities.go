// Package oauthstore defines the entities and the persistence seam (Store)
// that every upper-layer component in this service depends on. Store is the
// single place that owns durability; everything else holds value copies of
// identifiers and re-fetches or mutates through this interface.
package oauthstore

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Errors returned by Store implementations. Callers type-switch on these,
// never on driver-specific errors (e.g. pgx.ErrNoRows).
var (
	ErrNotFound    = errors.New("oauthstore: not found")
	ErrConflict    = errors.New("oauthstore: conflict")
	ErrUnavailable = errors.New("oauthstore: unavailable")
)

// UserStatus is the account lifecycle state.
type UserStatus string

const (
	UserActive UserStatus = "active"
	UserLocked UserStatus = "locked"
)

// User is an account capable of authenticating via the credential
// authenticator (§4.6). Created by an external admin flow; mutated here only
// via login-failure counters and MFA enrollment.
type User struct {
	ID             uuid.UUID
	Username       string
	PasswordHash   string
	Status         UserStatus
	FailedAttempts int
	LastLoginAt    *time.Time
	LockedUntil    *time.Time
	MFASecret      string
	MFAEnabled     bool
}

// ClientType distinguishes confidential clients (hold a secret) from public
// clients (PKCE-only, e.g. SPAs and native apps).
type ClientType string

const (
	ClientConfidential ClientType = "confidential"
	ClientPublic       ClientType = "public"
)

// Client is a registered OAuth client application.
type Client struct {
	ID                          uuid.UUID
	ClientID                    string
	ClientSecretHash            string // empty for public clients
	Type                        ClientType
	AllowedRedirectURIs         []string
	AllowedScopes               []string
	AllowedGrantTypes           []string
	RequireConsent              bool
	RequirePKCE                 bool
	AccessTokenTTL              time.Duration
	RefreshTokenTTL             time.Duration
	AllowRefreshTokenOnAuthCode bool
}

// HasRedirectURI reports whether uri is registered, byte-for-byte.
func (c Client) HasRedirectURI(uri string) bool {
	for _, u := range c.AllowedRedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// HasGrantType reports whether grantType is registered for this client.
func (c Client) HasGrantType(grantType string) bool {
	for _, g := range c.AllowedGrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// AllowedScopeSet returns the client's allowed scopes as a set.
func (c Client) AllowedScopeSet() map[string]struct{} {
	out := make(map[string]struct{}, len(c.AllowedScopes))
	for _, s := range c.AllowedScopes {
		out[s] = struct{}{}
	}
	return out
}

// AuthorizationCode is a short-lived, single-use code binding a login +
// consent decision to a later token exchange.
type AuthorizationCode struct {
	ID                  uuid.UUID
	CodeHash            string
	ClientID            string
	UserID              uuid.UUID
	RedirectURI         string
	Scope               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time
	Used                bool
	CreatedAt           time.Time
}

// AccessToken is the durable record behind an issued access token (the JWT
// itself is stateless; this row exists so it can be revoked/introspected).
type AccessToken struct {
	ID        uuid.UUID
	TokenHash string
	ClientID  string
	UserID    *uuid.UUID
	Scope     string
	ExpiresAt time.Time
	Revoked   bool
	ChainID   uuid.UUID // rotation-chain identifier, shared with its refresh token if any
}

// RefreshToken is an opaque, rotating credential used to mint new access
// tokens without re-authenticating the user.
type RefreshToken struct {
	ID            uuid.UUID
	TokenHash     string
	ClientID      string
	UserID        uuid.UUID
	Scope         string
	ExpiresAt     time.Time
	Revoked       bool
	PredecessorID *uuid.UUID
	RotatedToID   *uuid.UUID // set only when revoked by rotation (vs. explicit revoke/logout)
	ChainID       uuid.UUID
	CreatedAt     time.Time
}

// ConsentGrant records that a user has authorized a client for a set of
// scopes, for some bounded duration.
type ConsentGrant struct {
	UserID    uuid.UUID
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
}

// ScopeSet returns the grant's scopes as a set.
func (g ConsentGrant) ScopeSet() map[string]struct{} {
	out := make(map[string]struct{}, len(g.Scopes))
	for _, s := range g.Scopes {
		out[s] = struct{}{}
	}
	return out
}

// Role groups permissions and is assigned to users.
type Role struct {
	ID   uuid.UUID
	Name string
}

// Permission has shape "resource:action".
type Permission struct {
	ID   uuid.UUID
	Name string
}

// Session is the credential authenticator's output: an opaque server-side
// login session, not bound to any OAuth client.
type Session struct {
	ID        uuid.UUID
	TokenHash string
	UserID    uuid.UUID
	AuthTime  time.Time
	ExpiresAt time.Time
}
