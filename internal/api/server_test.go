package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente/authguard/internal/authn"
	"github.com/lavente/authguard/internal/clientreg"
	"github.com/lavente/authguard/internal/clock"
	"github.com/lavente/authguard/internal/codeengine"
	"github.com/lavente/authguard/internal/config"
	"github.com/lavente/authguard/internal/consent"
	"github.com/lavente/authguard/internal/cryptoutil"
	"github.com/lavente/authguard/internal/oauthstore"
	"github.com/lavente/authguard/internal/oauthstore/memstore"
	"github.com/lavente/authguard/internal/tokenengine"
)

func testServer(t *testing.T) (*Server, oauthstore.Store, clock.Clock) {
	t.Helper()
	store := memstore.New()
	c := clock.NewFake(time.Unix(1_700_000_000, 0))
	signer := testSigner(t)

	cfg := config.Config{
		Env:                  "test",
		AccessTokenTTL:       900 * time.Second,
		AuthorizationCodeTTL: 600 * time.Second,
		SessionTTL:           time.Hour,
		ConsentTTL:           30 * 24 * time.Hour,
		LoginRateLimitAttempts: 100,
		LoginRateLimitWindow:   time.Minute,
		LockoutThreshold:       100,
		LockoutDuration:        time.Minute,
		RefreshTokenRotation:   true,
	}

	authenticator := authn.New(store, cryptoutil.NewBcryptHasher(), nil, c, authn.Config{
		SessionTTL:      cfg.SessionTTL,
		LockThreshold:   cfg.LockoutThreshold,
		LockDuration:    cfg.LockoutDuration,
		RateLimitCount:  cfg.LoginRateLimitAttempts,
		RateLimitWindow: cfg.LoginRateLimitWindow,
	})

	s := NewServer(Deps{
		Config:     cfg,
		Store:      store,
		Clients:    clientreg.New(store),
		Authn:      authenticator,
		Codes:      codeengine.New(store, c, cfg.AuthorizationCodeTTL),
		Consent:    consent.New(store, c, cfg.ConsentTTL),
		Tokens:     tokenengine.New(store, signer, nil, c, tokenengine.Config{RotationEnabled: true}),
		Signer:     signer,
		Clock:      c,
		LoginURL:   "https://login.example.com/login",
		ConsentURL: "https://login.example.com/consent",
	})
	return s, store, c
}

func seedAPIClient(t *testing.T, store oauthstore.Store, requireConsent bool) oauthstore.Client {
	t.Helper()
	c, err := store.CreateClient(context.Background(), oauthstore.Client{
		ClientID:                    "web-app",
		ClientSecretHash:            mustHashAPISecret(t, "s3cret"),
		Type:                        oauthstore.ClientConfidential,
		AllowedRedirectURIs:         []string{"https://app.example.com/callback"},
		AllowedScopes:               []string{"openid", "profile", "read", "offline_access"},
		AllowedGrantTypes:           []string{"authorization_code", "refresh_token"},
		RequireConsent:              requireConsent,
		AllowRefreshTokenOnAuthCode: true,
	})
	require.NoError(t, err)
	return c
}

func mustHashAPISecret(t *testing.T, secret string) string {
	t.Helper()
	hash, err := cryptoutil.NewBcryptHasher().Hash(secret)
	require.NoError(t, err)
	return hash
}

func seedAPIUser(t *testing.T, store oauthstore.Store, username, password string) oauthstore.User {
	t.Helper()
	hash, err := cryptoutil.NewBcryptHasher().Hash(password)
	require.NoError(t, err)
	u, err := store.CreateUser(context.Background(), oauthstore.User{Username: username, PasswordHash: hash})
	require.NoError(t, err)
	return u
}

func TestHealth_ReturnsOK(t *testing.T) {
	s, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJWKS_ReturnsKeySet(t *testing.T) {
	s, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var body tokenengine.JWKS
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Keys, 1)
}

func TestAuthorize_NoSessionRedirectsToLogin(t *testing.T) {
	s, store, _ := testServer(t)
	seedAPIClient(t, store, false)

	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+url.Values{
		"response_type":         {"code"},
		"client_id":             {"web-app"},
		"redirect_uri":          {"https://app.example.com/callback"},
		"scope":                 {"openid read"},
		"code_challenge":        {"abc"},
		"code_challenge_method": {"S256"},
	}.Encode(), nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "login.example.com/login")
}

func TestLogin_SetsSessionCookie(t *testing.T) {
	s, store, _ := testServer(t)
	seedAPIUser(t, store, "alice", "hunter22")

	body := strings.NewReader(`{"username":"alice","password":"hunter22"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "session_token", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
	assert.False(t, cookies[0].Secure, "Secure must be false outside production")
}

func TestLogin_WrongPasswordIsUnauthorized(t *testing.T) {
	s, store, _ := testServer(t)
	seedAPIUser(t, store, "alice", "hunter22")

	body := strings.NewReader(`{"username":"alice","password":"wrong"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthorizeLoginAndTokenRoundTrip(t *testing.T) {
	s, store, _ := testServer(t)
	seedAPIClient(t, store, false)
	seedAPIUser(t, store, "alice", "hunter22")

	loginBody := strings.NewReader(`{"username":"alice","password":"hunter22"}`)
	loginReq := httptest.NewRequest(http.MethodPost, "/auth/login", loginBody)
	loginReq.Header.Set("Content-Type", "application/json")
	loginW := httptest.NewRecorder()
	s.Router.ServeHTTP(loginW, loginReq)
	require.Equal(t, http.StatusOK, loginW.Code)
	sessionCookie := loginW.Result().Cookies()[0]

	verifier := "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQ1234"
	challenge := cryptoutil.ChallengeFromVerifier(verifier)

	authReq := httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+url.Values{
		"response_type":         {"code"},
		"client_id":             {"web-app"},
		"redirect_uri":          {"https://app.example.com/callback"},
		"scope":                 {"openid read offline_access"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}.Encode(), nil)
	authReq.AddCookie(sessionCookie)
	authW := httptest.NewRecorder()
	s.Router.ServeHTTP(authW, authReq)
	require.Equal(t, http.StatusFound, authW.Code)

	loc, err := url.Parse(authW.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://app.example.com/callback"},
		"code_verifier": {verifier},
	}
	tokenReq := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	tokenReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	tokenReq.SetBasicAuth("web-app", "s3cret")
	tokenW := httptest.NewRecorder()
	s.Router.ServeHTTP(tokenW, tokenReq)

	require.Equal(t, http.StatusOK, tokenW.Code)
	var tokenBody map[string]interface{}
	require.NoError(t, json.Unmarshal(tokenW.Body.Bytes(), &tokenBody))
	assert.NotEmpty(t, tokenBody["access_token"])
	assert.NotEmpty(t, tokenBody["refresh_token"])
	assert.NotEmpty(t, tokenBody["id_token"])

	// The issued access token must authorize the protected /auth/me route.
	meReq := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	meReq.Header.Set("Authorization", "Bearer "+tokenBody["access_token"].(string))
	meW := httptest.NewRecorder()
	s.Router.ServeHTTP(meW, meReq)
	assert.Equal(t, http.StatusOK, meW.Code)
}

func TestAdminPing_DeniedWithoutPermission(t *testing.T) {
	s, _, _ := testServer(t)

	accessToken, err := s.signer.SignAccessToken(tokenengine.AccessTokenParams{
		Subject: uuid.New(), ClientID: "web-app", Scope: "read", TTL: time.Minute,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminPing_AllowedWithPermission(t *testing.T) {
	s, _, _ := testServer(t)

	accessToken, err := s.signer.SignAccessToken(tokenengine.AccessTokenParams{
		Subject: uuid.New(), ClientID: "web-app", Scope: "read", Permissions: []string{"admin:access"}, TTL: time.Minute,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRevoke_AlwaysReturnsOK(t *testing.T) {
	s, store, _ := testServer(t)
	seedAPIClient(t, store, false)

	form := url.Values{"token": {"not-a-real-token"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/revoke", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("web-app", "s3cret")
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIntrospect_InactiveForUnknownToken(t *testing.T) {
	s, store, _ := testServer(t)
	seedAPIClient(t, store, false)

	form := url.Values{"token": {"not-a-real-token"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/introspect", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("web-app", "s3cret")
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body introspectionBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Active)
}
