package clientreg

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente/authguard/internal/cryptoutil"
	"github.com/lavente/authguard/internal/oauthstore"
	"github.com/lavente/authguard/internal/oauthstore/memstore"
)

func seedConfidentialClient(t *testing.T, store *memstore.Store) oauthstore.Client {
	t.Helper()
	hasher := cryptoutil.NewBcryptHasher()
	hash, err := hasher.Hash("s3cret")
	require.NoError(t, err)

	c, err := store.CreateClient(context.Background(), oauthstore.Client{
		ClientID:            "web-app",
		ClientSecretHash:    hash,
		Type:                oauthstore.ClientConfidential,
		AllowedRedirectURIs: []string{"https://app.example.com/callback"},
		AllowedGrantTypes:   []string{"authorization_code", "refresh_token"},
	})
	require.NoError(t, err)
	return c
}

func TestAuthenticate_ConfidentialClient_CorrectSecret(t *testing.T) {
	store := memstore.New()
	seedConfidentialClient(t, store)
	reg := New(store)

	c, err := reg.Authenticate(context.Background(), Credentials{ClientID: "web-app", ClientSecret: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "web-app", c.ClientID)
}

func TestAuthenticate_ConfidentialClient_WrongSecret(t *testing.T) {
	store := memstore.New()
	seedConfidentialClient(t, store)
	reg := New(store)

	_, err := reg.Authenticate(context.Background(), Credentials{ClientID: "web-app", ClientSecret: "wrong"})
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestAuthenticate_UnknownClient(t *testing.T) {
	store := memstore.New()
	reg := New(store)

	_, err := reg.Authenticate(context.Background(), Credentials{ClientID: "ghost", ClientSecret: "anything"})
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestAuthenticate_PublicClient_NoSecretNeeded(t *testing.T) {
	store := memstore.New()
	_, err := store.CreateClient(context.Background(), oauthstore.Client{
		ClientID: "spa-app",
		Type:     oauthstore.ClientPublic,
	})
	require.NoError(t, err)
	reg := New(store)

	c, err := reg.Authenticate(context.Background(), Credentials{ClientID: "spa-app"})
	require.NoError(t, err)
	assert.Equal(t, "spa-app", c.ClientID)
}

func TestValidateRedirectURI_ExactMatchOnly(t *testing.T) {
	store := memstore.New()
	c := seedConfidentialClient(t, store)

	assert.NoError(t, ValidateRedirectURI(c, "https://app.example.com/callback"))
	assert.ErrorIs(t, ValidateRedirectURI(c, "https://app.example.com/callback/"), ErrRedirectURINotRegistered)
	assert.ErrorIs(t, ValidateRedirectURI(c, "https://app.example.com/callback?extra=1"), ErrRedirectURINotRegistered)
}

func TestValidateGrantType(t *testing.T) {
	store := memstore.New()
	c := seedConfidentialClient(t, store)

	assert.NoError(t, ValidateGrantType(c, "authorization_code"))
	assert.ErrorIs(t, ValidateGrantType(c, "client_credentials"), ErrGrantTypeNotAllowed)
}

func TestExtractCredentials_BasicAuthPreferredOverForm(t *testing.T) {
	body := strings.NewReader(url.Values{"client_id": {"form-id"}, "client_secret": {"form-secret"}}.Encode())
	req, err := http.NewRequest(http.MethodPost, "/oauth/token", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("basic-id", "basic-secret")

	creds, ok := ExtractCredentials(req)
	require.True(t, ok)
	assert.Equal(t, "basic-id", creds.ClientID)
	assert.Equal(t, "basic-secret", creds.ClientSecret)
}

func TestExtractCredentials_FormFallback(t *testing.T) {
	body := strings.NewReader(url.Values{"client_id": {"form-id"}, "client_secret": {"form-secret"}}.Encode())
	req, err := http.NewRequest(http.MethodPost, "/oauth/token", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	creds, ok := ExtractCredentials(req)
	require.True(t, ok)
	assert.Equal(t, "form-id", creds.ClientID)
	assert.Equal(t, "form-secret", creds.ClientSecret)
}
