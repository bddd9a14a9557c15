package tokenengine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lavente/authguard/internal/clock"
	"github.com/lavente/authguard/internal/cryptoutil"
	"github.com/lavente/authguard/internal/oauthstore"
)

var (
	ErrInvalidGrant   = errors.New("tokenengine: invalid_grant")
	ErrExpired        = errors.New("tokenengine: token expired")
	ErrClientMismatch = errors.New("tokenengine: client_id mismatch")
	ErrReplayDetected = errors.New("tokenengine: refresh token replay detected, chain revoked")
)

const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	DefaultIDTokenTTL      = 10 * time.Minute
	refreshTokenBytes      = 32
)

// PermissionLookup resolves the denormalised permissions snapshot embedded
// in access tokens. Satisfied by *rbac.Evaluator; kept as an interface here
// so this package does not import rbac directly.
type PermissionLookup interface {
	PermissionsOf(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// Engine issues, rotates, revokes, and introspects OAuth tokens.
type Engine struct {
	store      oauthstore.Store
	signer     *Signer
	perms      PermissionLookup
	clock      clock.Clock
	rotationOn bool
}

// Config bundles the engine's tunables.
type Config struct {
	// RotationEnabled toggles refresh-token rotation (spec §4.9 step 6). When
	// false, refresh reuses the original refresh token rather than minting a
	// successor.
	RotationEnabled bool
}

// New builds an Engine.
func New(store oauthstore.Store, signer *Signer, perms PermissionLookup, c clock.Clock, cfg Config) *Engine {
	return &Engine{store: store, signer: signer, perms: perms, clock: c, rotationOn: cfg.RotationEnabled}
}

// TokenResponse is the RFC 6749 §5.1 token response shape.
type TokenResponse struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	IDToken      string
	Scope        string
}

func scopeSet(scope string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range splitScope(scope) {
		out[s] = struct{}{}
	}
	return out
}

func scopeHas(scope, token string) bool {
	_, ok := scopeSet(scope)[token]
	return ok
}

func joinScope(set map[string]struct{}) string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	// deterministic order for stable test assertions and stored values
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	result := ""
	for i, s := range out {
		if i > 0 {
			result += " "
		}
		result += s
	}
	return result
}

func (e *Engine) permissionsFor(ctx context.Context, userID uuid.UUID) []string {
	if e.perms == nil || userID == uuid.Nil {
		return nil
	}
	perms, err := e.perms.PermissionsOf(ctx, userID)
	if err != nil {
		return nil
	}
	return perms
}

// FromCodeParams carries the consumed-code payload plus the client and
// session context needed to mint the token set.
type FromCodeParams struct {
	UserID   uuid.UUID
	ClientID string
	Scope    string
	Nonce    string
	AuthTime time.Time
	Name     string
	Email    string
	Client   oauthstore.Client
	// ChainID anchors the rotation chain; the orchestrator passes the
	// consumed code's own ID so a later replay of that code can revoke
	// every token this call issues.
	ChainID uuid.UUID
}

// IssueFromCode implements issue_from_code (spec §4.9).
func (e *Engine) IssueFromCode(ctx context.Context, p FromCodeParams) (TokenResponse, error) {
	now := e.clock.Now()
	accessTTL := p.Client.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	refreshTTL := p.Client.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}

	jti := uuid.New()
	perms := e.permissionsFor(ctx, p.UserID)
	accessJWT, err := e.signer.SignAccessToken(AccessTokenParams{
		Subject: p.UserID, ClientID: p.ClientID, Scope: p.Scope, Permissions: perms, JTI: jti.String(), TTL: accessTTL,
	})
	if err != nil {
		return TokenResponse{}, err
	}

	userID := p.UserID
	if err := e.store.CreateAccessToken(ctx, oauthstore.AccessToken{
		ID: jti, TokenHash: cryptoutil.HashToken(accessJWT), ClientID: p.ClientID, UserID: &userID,
		Scope: p.Scope, ExpiresAt: now.Add(accessTTL), ChainID: p.ChainID,
	}); err != nil {
		return TokenResponse{}, err
	}

	resp := TokenResponse{AccessToken: accessJWT, TokenType: "Bearer", ExpiresIn: int64(accessTTL.Seconds()), Scope: p.Scope}

	wantsRefresh := scopeHas(p.Scope, "offline_access") || p.Client.AllowRefreshTokenOnAuthCode
	if wantsRefresh {
		refreshToken, err := cryptoutil.GenerateOpaqueToken(refreshTokenBytes)
		if err != nil {
			return TokenResponse{}, err
		}
		if err := e.store.CreateRefreshToken(ctx, oauthstore.RefreshToken{
			ID: uuid.New(), TokenHash: cryptoutil.HashToken(refreshToken), ClientID: p.ClientID, UserID: p.UserID,
			Scope: p.Scope, ExpiresAt: now.Add(refreshTTL), ChainID: p.ChainID, CreatedAt: now,
		}); err != nil {
			return TokenResponse{}, err
		}
		resp.RefreshToken = refreshToken
	}

	if scopeHas(p.Scope, "openid") {
		idToken, err := e.signer.SignIDToken(IDTokenParams{
			Subject: p.UserID, ClientID: p.ClientID, AuthTime: p.AuthTime, Nonce: p.Nonce,
			Name: p.Name, Email: p.Email, TTL: DefaultIDTokenTTL,
		})
		if err != nil {
			return TokenResponse{}, err
		}
		resp.IDToken = idToken
	}

	return resp, nil
}

// IssueClientCredentials implements issue_client_credentials (spec §4.9).
// requestedScope must already have been validated by the caller as a subset
// of client.AllowedScopes; an empty requestedScope yields an empty-scope
// token (this core's documented default, itself a subset of anything).
func (e *Engine) IssueClientCredentials(ctx context.Context, client oauthstore.Client, requestedScope string) (TokenResponse, error) {
	now := e.clock.Now()
	accessTTL := client.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}

	chainID := uuid.New()
	jti := uuid.New()
	accessJWT, err := e.signer.SignAccessToken(AccessTokenParams{
		ClientID: client.ClientID, Scope: requestedScope, JTI: jti.String(), TTL: accessTTL,
	})
	if err != nil {
		return TokenResponse{}, err
	}

	if err := e.store.CreateAccessToken(ctx, oauthstore.AccessToken{
		ID: jti, TokenHash: cryptoutil.HashToken(accessJWT), ClientID: client.ClientID,
		Scope: requestedScope, ExpiresAt: now.Add(accessTTL), ChainID: chainID,
	}); err != nil {
		return TokenResponse{}, err
	}

	return TokenResponse{AccessToken: accessJWT, TokenType: "Bearer", ExpiresIn: int64(accessTTL.Seconds()), Scope: requestedScope}, nil
}

// narrowScope implements spec §4.9 step 5: requested scopes are narrowed to
// their intersection with the original grant, never rejected as an error.
func narrowScope(original, requested string) string {
	if requested == "" {
		return original
	}
	orig := scopeSet(original)
	out := make(map[string]struct{})
	for s := range scopeSet(requested) {
		if _, ok := orig[s]; ok {
			out[s] = struct{}{}
		}
	}
	return joinScope(out)
}

// Refresh implements refresh (spec §4.9).
func (e *Engine) Refresh(ctx context.Context, refreshTokenString string, client oauthstore.Client, requestedScope string) (TokenResponse, error) {
	now := e.clock.Now()
	rt, err := e.store.GetRefreshTokenByHash(ctx, cryptoutil.HashToken(refreshTokenString))
	if errors.Is(err, oauthstore.ErrNotFound) {
		return TokenResponse{}, ErrInvalidGrant
	}
	if err != nil {
		return TokenResponse{}, err
	}

	if now.After(rt.ExpiresAt) {
		return TokenResponse{}, ErrExpired
	}

	if rt.Revoked {
		if rt.RotatedToID != nil {
			if revokeErr := e.store.RevokeChain(ctx, rt.ChainID); revokeErr != nil {
				return TokenResponse{}, revokeErr
			}
			return TokenResponse{}, ErrReplayDetected
		}
		return TokenResponse{}, ErrInvalidGrant
	}

	if rt.ClientID != client.ClientID {
		return TokenResponse{}, ErrClientMismatch
	}

	newScope := narrowScope(rt.Scope, requestedScope)

	accessTTL := client.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	jti := uuid.New()
	perms := e.permissionsFor(ctx, rt.UserID)
	accessJWT, err := e.signer.SignAccessToken(AccessTokenParams{
		Subject: rt.UserID, ClientID: client.ClientID, Scope: newScope, Permissions: perms, JTI: jti.String(), TTL: accessTTL,
	})
	if err != nil {
		return TokenResponse{}, err
	}

	userID := rt.UserID
	if err := e.store.CreateAccessToken(ctx, oauthstore.AccessToken{
		ID: jti, TokenHash: cryptoutil.HashToken(accessJWT), ClientID: client.ClientID, UserID: &userID,
		Scope: newScope, ExpiresAt: now.Add(accessTTL), ChainID: rt.ChainID,
	}); err != nil {
		return TokenResponse{}, err
	}

	resp := TokenResponse{AccessToken: accessJWT, TokenType: "Bearer", ExpiresIn: int64(accessTTL.Seconds()), Scope: newScope}

	if !e.rotationOn {
		resp.RefreshToken = refreshTokenString
		return resp, nil
	}

	refreshTTL := client.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}
	newRefreshToken, err := cryptoutil.GenerateOpaqueToken(refreshTokenBytes)
	if err != nil {
		return TokenResponse{}, err
	}
	won, err := e.store.RotateRefreshToken(ctx, rt.ID, oauthstore.RefreshToken{
		ID: uuid.New(), TokenHash: cryptoutil.HashToken(newRefreshToken), ClientID: client.ClientID, UserID: rt.UserID,
		Scope: newScope, ExpiresAt: now.Add(refreshTTL), ChainID: rt.ChainID,
	})
	if err != nil {
		return TokenResponse{}, err
	}
	if !won {
		// concurrent refresh beat us to the rotation; treat as replay.
		if revokeErr := e.store.RevokeChain(ctx, rt.ChainID); revokeErr != nil {
			return TokenResponse{}, revokeErr
		}
		return TokenResponse{}, ErrReplayDetected
	}

	resp.RefreshToken = newRefreshToken
	return resp, nil
}

// Revoke implements revoke (spec §4.9): RFC 7009 semantics — the caller
// always gets success regardless of whether the token existed, was already
// revoked, or was of an unrecognised type. If the token is a refresh token,
// every access token in its chain is also revoked.
func (e *Engine) Revoke(ctx context.Context, token string, client oauthstore.Client) error {
	hash := cryptoutil.HashToken(token)

	if rt, err := e.store.GetRefreshTokenByHash(ctx, hash); err == nil {
		if rt.ClientID != client.ClientID {
			return nil
		}
		if err := e.store.RevokeRefreshToken(ctx, rt.ID); err != nil {
			return err
		}
		return e.store.RevokeChain(ctx, rt.ChainID)
	}

	if at, err := e.store.GetAccessTokenByHash(ctx, hash); err == nil {
		if at.ClientID != client.ClientID {
			return nil
		}
		return e.store.RevokeAccessToken(ctx, at.ID)
	}

	return nil
}

// Introspection is the introspect() response shape (spec §4.9).
type Introspection struct {
	Active      bool
	Scope       string
	ClientID    string
	Subject     string
	ExpiresAt   int64
	IssuedAt    int64
	Permissions []string
}

// Introspect implements introspect (spec §4.9).
func (e *Engine) Introspect(ctx context.Context, token string) (Introspection, error) {
	hash := cryptoutil.HashToken(token)
	now := e.clock.Now()

	if at, err := e.store.GetAccessTokenByHash(ctx, hash); err == nil {
		active := !at.Revoked && now.Before(at.ExpiresAt)
		result := Introspection{Active: active, Scope: at.Scope, ClientID: at.ClientID, ExpiresAt: at.ExpiresAt.Unix()}
		if at.UserID != nil {
			result.Subject = at.UserID.String()
			result.Permissions = e.permissionsFor(ctx, *at.UserID)
		}
		return result, nil
	}

	if rt, err := e.store.GetRefreshTokenByHash(ctx, hash); err == nil {
		active := !rt.Revoked && now.Before(rt.ExpiresAt)
		return Introspection{Active: active, Scope: rt.Scope, ClientID: rt.ClientID, Subject: rt.UserID.String(), ExpiresAt: rt.ExpiresAt.Unix(), IssuedAt: rt.CreatedAt.Unix()}, nil
	}

	return Introspection{Active: false}, nil
}
