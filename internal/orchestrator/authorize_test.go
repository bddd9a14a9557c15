package orchestrator

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente/authguard/internal/clientreg"
	"github.com/lavente/authguard/internal/clock"
	"github.com/lavente/authguard/internal/codeengine"
	"github.com/lavente/authguard/internal/consent"
	"github.com/lavente/authguard/internal/cryptoutil"
	"github.com/lavente/authguard/internal/oauthstore"
	"github.com/lavente/authguard/internal/oauthstore/memstore"
	"github.com/lavente/authguard/internal/oautherr"
)

func seedClient(t *testing.T, store oauthstore.Store, mutate func(*oauthstore.Client)) oauthstore.Client {
	t.Helper()
	c := oauthstore.Client{
		ClientID:            "web-app",
		Type:                oauthstore.ClientConfidential,
		AllowedRedirectURIs: []string{"https://app.example.com/callback"},
		AllowedScopes:       []string{"openid", "read", "write"},
		AllowedGrantTypes:   []string{"authorization_code", "refresh_token"},
		RequireConsent:      true,
	}
	if mutate != nil {
		mutate(&c)
	}
	created, err := store.CreateClient(context.Background(), c)
	require.NoError(t, err)
	return created
}

func testDeps(t *testing.T) (AuthorizeDeps, oauthstore.Store, clock.Clock) {
	t.Helper()
	store := memstore.New()
	c := clock.NewFake(time.Unix(1_700_000_000, 0))
	deps := AuthorizeDeps{
		Clients:    clientreg.New(store),
		Codes:      codeengine.New(store, c, 0),
		Consent:    consent.New(store, c, 0),
		Clock:      c,
		LoginURL:   "https://auth.example.com/login",
		ConsentURL: "https://auth.example.com/consent",
	}
	return deps, store, c
}

func baseRequest() AuthorizeRequest {
	return AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "web-app",
		RedirectURI:         "https://app.example.com/callback",
		Scope:               "openid read",
		State:               "xyz",
		CodeChallenge:       "abc123",
		CodeChallengeMethod: cryptoutil.MethodS256,
	}
}

func TestAuthorize_MissingParameterRendersError(t *testing.T) {
	deps, store, _ := testDeps(t)
	seedClient(t, store, nil)

	req := baseRequest()
	req.RedirectURI = ""
	out := Authorize(context.Background(), deps, req, "", CallerSession{})

	require.NotNil(t, out.RenderError)
	assert.Equal(t, oautherr.InvalidRequest, out.RenderError.Code)
	assert.Empty(t, out.Redirect)
}

func TestAuthorize_UnknownClientRendersError(t *testing.T) {
	deps, _, _ := testDeps(t)

	req := baseRequest()
	out := Authorize(context.Background(), deps, req, "", CallerSession{})

	require.NotNil(t, out.RenderError)
	assert.Equal(t, oautherr.UnauthorizedClient, out.RenderError.Code)
}

func TestAuthorize_UnregisteredRedirectURIRendersError(t *testing.T) {
	deps, store, _ := testDeps(t)
	seedClient(t, store, nil)

	req := baseRequest()
	req.RedirectURI = "https://evil.example.com/callback"
	out := Authorize(context.Background(), deps, req, "", CallerSession{})

	require.NotNil(t, out.RenderError)
	assert.Equal(t, oautherr.InvalidRequest, out.RenderError.Code)
}

func TestAuthorize_NonS256ChallengeMethodRendersError(t *testing.T) {
	deps, store, _ := testDeps(t)
	seedClient(t, store, nil)

	req := baseRequest()
	req.CodeChallengeMethod = "plain"
	out := Authorize(context.Background(), deps, req, "", CallerSession{})

	require.NotNil(t, out.RenderError)
	assert.Equal(t, oautherr.InvalidRequest, out.RenderError.Code)
}

func TestAuthorize_UnsupportedResponseTypeRedirectsWithError(t *testing.T) {
	deps, store, _ := testDeps(t)
	seedClient(t, store, nil)

	req := baseRequest()
	req.ResponseType = "token"
	out := Authorize(context.Background(), deps, req, "", CallerSession{})

	require.Empty(t, out.RenderError)
	require.NotEmpty(t, out.Redirect)
	u, err := url.Parse(out.Redirect)
	require.NoError(t, err)
	assert.Equal(t, string(oautherr.UnsupportedResponseType), u.Query().Get("error"))
	assert.Equal(t, "xyz", u.Query().Get("state"))
}

func TestAuthorize_DisallowedScopeRedirectsWithError(t *testing.T) {
	deps, store, _ := testDeps(t)
	seedClient(t, store, nil)

	req := baseRequest()
	req.Scope = "openid admin"
	out := Authorize(context.Background(), deps, req, "", CallerSession{})

	require.NotEmpty(t, out.Redirect)
	u, err := url.Parse(out.Redirect)
	require.NoError(t, err)
	assert.Equal(t, string(oautherr.InvalidScope), u.Query().Get("error"))
}

func TestAuthorize_EmbeddedNewlineInScopeRedirectsWithInvalidScope(t *testing.T) {
	deps, store, _ := testDeps(t)
	seedClient(t, store, nil)

	req := baseRequest()
	req.Scope = "api:read\napi:write"
	out := Authorize(context.Background(), deps, req, "", CallerSession{})

	require.NotEmpty(t, out.Redirect)
	u, err := url.Parse(out.Redirect)
	require.NoError(t, err)
	assert.Equal(t, string(oautherr.InvalidScope), u.Query().Get("error"))
}

func TestAuthorize_NoSessionRedirectsToLogin(t *testing.T) {
	deps, store, _ := testDeps(t)
	seedClient(t, store, nil)

	req := baseRequest()
	rawQuery := "response_type=code&client_id=web-app"
	out := Authorize(context.Background(), deps, req, rawQuery, CallerSession{})

	require.NotEmpty(t, out.RedirectToLogin)
	assert.Contains(t, out.RedirectToLogin, deps.LoginURL)
	assert.Contains(t, out.RedirectToLogin, url.QueryEscape(rawQuery))
}

func TestAuthorize_PromptNoneWithoutSessionReturnsLoginRequired(t *testing.T) {
	deps, store, _ := testDeps(t)
	seedClient(t, store, nil)

	req := baseRequest()
	req.Prompt = "none"
	out := Authorize(context.Background(), deps, req, "", CallerSession{})

	require.NotEmpty(t, out.Redirect)
	u, err := url.Parse(out.Redirect)
	require.NoError(t, err)
	assert.Equal(t, string(oautherr.LoginRequired), u.Query().Get("error"))
}

func TestAuthorize_RequiresConsentWhenNotGranted(t *testing.T) {
	deps, store, c := testDeps(t)
	seedClient(t, store, nil)

	session := CallerSession{Present: true, UserID: uuid.New(), AuthTime: c.Now()}
	req := baseRequest()
	out := Authorize(context.Background(), deps, req, "", session)

	require.NotEmpty(t, out.RedirectToConsent)
	assert.Contains(t, out.RedirectToConsent, deps.ConsentURL)
}

func TestAuthorize_PromptNoneWithoutConsentReturnsConsentRequired(t *testing.T) {
	deps, store, c := testDeps(t)
	seedClient(t, store, nil)

	session := CallerSession{Present: true, UserID: uuid.New(), AuthTime: c.Now()}
	req := baseRequest()
	req.Prompt = "none"
	out := Authorize(context.Background(), deps, req, "", session)

	require.NotEmpty(t, out.Redirect)
	u, err := url.Parse(out.Redirect)
	require.NoError(t, err)
	assert.Equal(t, string(oautherr.ConsentRequired), u.Query().Get("error"))
}

func TestAuthorize_IssuesCodeWhenConsentAlreadyRecorded(t *testing.T) {
	deps, store, c := testDeps(t)
	seedClient(t, store, nil)

	userID := uuid.New()
	session := CallerSession{Present: true, UserID: userID, AuthTime: c.Now()}
	require.NoError(t, deps.Consent.Record(context.Background(), userID, "web-app", "openid read"))

	req := baseRequest()
	out := Authorize(context.Background(), deps, req, "", session)

	require.Empty(t, out.RenderError)
	require.NotEmpty(t, out.Redirect)
	u, err := url.Parse(out.Redirect)
	require.NoError(t, err)
	assert.NotEmpty(t, u.Query().Get("code"))
	assert.Equal(t, "xyz", u.Query().Get("state"))
}

func TestAuthorize_NoConsentRequiredSkipsConsentStep(t *testing.T) {
	deps, store, c := testDeps(t)
	seedClient(t, store, func(cl *oauthstore.Client) { cl.RequireConsent = false })

	session := CallerSession{Present: true, UserID: uuid.New(), AuthTime: c.Now()}
	req := baseRequest()
	out := Authorize(context.Background(), deps, req, "", session)

	require.NotEmpty(t, out.Redirect)
	u, err := url.Parse(out.Redirect)
	require.NoError(t, err)
	assert.NotEmpty(t, u.Query().Get("code"))
}

func TestAuthorize_MaxAgeExceededForcesLogin(t *testing.T) {
	deps, store, c := testDeps(t)
	seedClient(t, store, func(cl *oauthstore.Client) { cl.RequireConsent = false })

	session := CallerSession{Present: true, UserID: uuid.New(), AuthTime: c.Now().Add(-2 * time.Hour)}
	req := baseRequest()
	req.HasMaxAge = true
	req.MaxAgeSeconds = 60
	out := Authorize(context.Background(), deps, req, "", session)

	require.NotEmpty(t, out.RedirectToLogin)
}
