package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/lavente/authguard/internal/clientreg"
	"github.com/lavente/authguard/internal/codeengine"
	"github.com/lavente/authguard/internal/cryptoutil"
	"github.com/lavente/authguard/internal/oauthstore"
	"github.com/lavente/authguard/internal/oautherr"
	"github.com/lavente/authguard/internal/tokenengine"
)

// TokenDeps are the components the token orchestrator depends on.
type TokenDeps struct {
	Clients *clientreg.Registry
	Codes   *codeengine.Engine
	Tokens  *tokenengine.Engine
	Store   oauthstore.Store
}

// TokenRequest is the parsed /oauth/token form body.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
	HasScope     bool
}

// Token implements the token endpoint orchestrator (spec §4.11). creds must
// already have been extracted from the request by the HTTP layer (the form
// body needs re-reading after Basic-auth detection, which the handler
// owns).
func Token(ctx context.Context, deps TokenDeps, creds clientreg.Credentials, hasCreds bool, req TokenRequest) (tokenengine.TokenResponse, *oautherr.Error) {
	if req.GrantType == "" {
		return tokenengine.TokenResponse{}, oautherr.New(oautherr.InvalidRequest, "missing grant_type")
	}
	switch req.GrantType {
	case "authorization_code", "refresh_token", "client_credentials":
	default:
		return tokenengine.TokenResponse{}, oautherr.New(oautherr.UnsupportedGrantType, "unrecognised grant_type")
	}

	if !hasCreds {
		return tokenengine.TokenResponse{}, oautherr.New(oautherr.InvalidClient, "client authentication required")
	}

	// Authenticate already accepts public clients by client_id alone (no
	// secret on file); PKCE verification below is what actually binds the
	// caller to the authorization request for those clients.
	client, err := deps.Clients.Authenticate(ctx, creds)
	if err != nil {
		return tokenengine.TokenResponse{}, oautherr.New(oautherr.InvalidClient, "client authentication failed")
	}

	if clientreg.ValidateGrantType(client, req.GrantType) != nil {
		return tokenengine.TokenResponse{}, oautherr.New(oautherr.UnauthorizedClient, "grant_type not allowed for this client")
	}

	switch req.GrantType {
	case "authorization_code":
		return tokenFromCode(ctx, deps, client, req)
	case "refresh_token":
		return tokenFromRefresh(ctx, deps, client, req)
	case "client_credentials":
		return tokenFromClientCredentials(ctx, deps, client, req)
	}
	return tokenengine.TokenResponse{}, oautherr.New(oautherr.ServerError, "unreachable")
}

func tokenFromCode(ctx context.Context, deps TokenDeps, client oauthstore.Client, req TokenRequest) (tokenengine.TokenResponse, *oautherr.Error) {
	if client.Type == oauthstore.ClientPublic && req.CodeVerifier == "" {
		return tokenengine.TokenResponse{}, oautherr.New(oautherr.InvalidRequest, "code_verifier required for public clients")
	}

	consumed, err := deps.Codes.Consume(ctx, codeengine.ConsumeParams{
		Code: req.Code, ClientID: client.ClientID, RedirectURI: req.RedirectURI, Verifier: req.CodeVerifier,
	})
	if err != nil {
		return tokenengine.TokenResponse{}, mapCodeError(err)
	}

	// The name claim is only released when the profile scope was granted.
	name := ""
	if scopeTokens, ok := cryptoutil.SplitScope(consumed.Scope); ok && slices.Contains(scopeTokens, "profile") {
		if user, err := deps.Store.GetUserByID(ctx, consumed.UserID); err == nil {
			name = user.Username
		}
	}

	resp, issueErr := deps.Tokens.IssueFromCode(ctx, tokenengine.FromCodeParams{
		UserID: consumed.UserID, ClientID: client.ClientID, Scope: consumed.Scope, Nonce: consumed.Nonce,
		AuthTime: consumed.AuthTime, Name: name, Client: client, ChainID: consumed.CodeID,
	})
	if issueErr != nil {
		return tokenengine.TokenResponse{}, oautherr.New(oautherr.ServerError, "failed to issue tokens")
	}
	return resp, nil
}

func mapCodeError(err error) *oautherr.Error {
	switch {
	case errors.Is(err, codeengine.ErrVerifierMissing):
		return oautherr.New(oautherr.InvalidRequest, "code_verifier required")
	case errors.Is(err, codeengine.ErrInvalid),
		errors.Is(err, codeengine.ErrReplay),
		errors.Is(err, codeengine.ErrClientMismatch),
		errors.Is(err, codeengine.ErrRedirectMismatch),
		errors.Is(err, codeengine.ErrVerifierMismatch):
		return oautherr.New(oautherr.InvalidGrant, "authorization code is invalid, expired, or already used")
	default:
		return oautherr.New(oautherr.ServerError, "failed to consume authorization code")
	}
}

func tokenFromRefresh(ctx context.Context, deps TokenDeps, client oauthstore.Client, req TokenRequest) (tokenengine.TokenResponse, *oautherr.Error) {
	if req.RefreshToken == "" {
		return tokenengine.TokenResponse{}, oautherr.New(oautherr.InvalidRequest, "missing refresh_token")
	}

	scope := ""
	if req.HasScope {
		scope = req.Scope
	}
	resp, err := deps.Tokens.Refresh(ctx, req.RefreshToken, client, scope)
	if err != nil {
		switch {
		case errors.Is(err, tokenengine.ErrClientMismatch):
			return tokenengine.TokenResponse{}, oautherr.New(oautherr.InvalidGrant, "refresh token was not issued to this client")
		case errors.Is(err, tokenengine.ErrInvalidGrant),
			errors.Is(err, tokenengine.ErrExpired),
			errors.Is(err, tokenengine.ErrReplayDetected):
			return tokenengine.TokenResponse{}, oautherr.New(oautherr.InvalidGrant, "refresh token is invalid, expired, or revoked")
		default:
			return tokenengine.TokenResponse{}, oautherr.New(oautherr.ServerError, "failed to refresh token")
		}
	}
	return resp, nil
}

func tokenFromClientCredentials(ctx context.Context, deps TokenDeps, client oauthstore.Client, req TokenRequest) (tokenengine.TokenResponse, *oautherr.Error) {
	if client.Type == oauthstore.ClientPublic {
		return tokenengine.TokenResponse{}, oautherr.New(oautherr.UnauthorizedClient, "public clients cannot use client_credentials")
	}

	requested := strings.TrimSpace(req.Scope)
	allowed := client.AllowedScopeSet()
	scopeTokens, scopeOK := cryptoutil.SplitScope(requested)
	if !scopeOK {
		return tokenengine.TokenResponse{}, oautherr.New(oautherr.InvalidScope, "malformed scope parameter")
	}
	for _, s := range scopeTokens {
		if _, ok := allowed[s]; !ok {
			return tokenengine.TokenResponse{}, oautherr.New(oautherr.InvalidScope, "requested scope exceeds client.allowed_scopes")
		}
	}

	resp, err := deps.Tokens.IssueClientCredentials(ctx, client, requested)
	if err != nil {
		return tokenengine.TokenResponse{}, oautherr.New(oautherr.ServerError, "failed to issue token")
	}
	return resp, nil
}

// WriteTokenResponse writes a successful token response as JSON, with the
// no-store headers mandated by spec §4.11 step 6.
func WriteTokenResponse(w http.ResponseWriter, resp tokenengine.TokenResponse) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	body := map[string]interface{}{
		"access_token": resp.AccessToken,
		"token_type":   resp.TokenType,
		"expires_in":   resp.ExpiresIn,
		"scope":        resp.Scope,
	}
	if resp.RefreshToken != "" {
		body["refresh_token"] = resp.RefreshToken
	}
	if resp.IDToken != "" {
		body["id_token"] = resp.IDToken
	}
	writeJSON(w, body)
}
