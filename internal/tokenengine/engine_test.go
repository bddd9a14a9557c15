package tokenengine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente/authguard/internal/clock"
	"github.com/lavente/authguard/internal/oauthstore"
	"github.com/lavente/authguard/internal/oauthstore/memstore"
)

func testClient() oauthstore.Client {
	return oauthstore.Client{
		ClientID:                    "client-1",
		Type:                        oauthstore.ClientConfidential,
		AllowedScopes:               []string{"read", "write", "offline_access", "openid"},
		AllowRefreshTokenOnAuthCode: true,
		AccessTokenTTL:              time.Hour,
		RefreshTokenTTL:             14 * 24 * time.Hour,
	}
}

func TestIssueFromCode_ProducesAccessAndRefreshAndIDTokens(t *testing.T) {
	store := memstore.New()
	signer := testSigner(t)
	c := clock.NewFake(time.Unix(1_700_000_000, 0))
	e := New(store, signer, nil, c, Config{})

	userID := uuid.New()
	resp, err := e.IssueFromCode(context.Background(), FromCodeParams{
		UserID: userID, ClientID: "client-1", Scope: "openid read offline_access", AuthTime: c.Now(),
		Client: testClient(), ChainID: uuid.New(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotEmpty(t, resp.IDToken)

	claims, err := signer.ParseAccessToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.Subject)
}

func TestIssueClientCredentials_NoUserNoRefresh(t *testing.T) {
	store := memstore.New()
	signer := testSigner(t)
	c := clock.NewFake(time.Unix(0, 0))
	e := New(store, signer, nil, c, Config{})

	resp, err := e.IssueClientCredentials(context.Background(), testClient(), "read")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Empty(t, resp.RefreshToken)

	claims, err := signer.ParseAccessToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Empty(t, claims.Subject)
}

func TestRefresh_NarrowsScopeToIntersection(t *testing.T) {
	store := memstore.New()
	signer := testSigner(t)
	c := clock.NewFake(time.Unix(0, 0))
	e := New(store, signer, nil, c, Config{RotationEnabled: true})
	client := testClient()

	chainID := uuid.New()
	issued, err := e.IssueFromCode(context.Background(), FromCodeParams{
		UserID: uuid.New(), ClientID: client.ClientID, Scope: "read write", AuthTime: c.Now(), Client: client, ChainID: chainID,
	})
	require.NoError(t, err)

	resp, err := e.Refresh(context.Background(), issued.RefreshToken, client, "read delete")
	require.NoError(t, err)
	assert.Equal(t, "read", resp.Scope)
}

func TestRefresh_RotatesAndRevokesPredecessor(t *testing.T) {
	store := memstore.New()
	signer := testSigner(t)
	c := clock.NewFake(time.Unix(0, 0))
	e := New(store, signer, nil, c, Config{RotationEnabled: true})
	client := testClient()

	issued, err := e.IssueFromCode(context.Background(), FromCodeParams{
		UserID: uuid.New(), ClientID: client.ClientID, Scope: "read", AuthTime: c.Now(), Client: client, ChainID: uuid.New(),
	})
	require.NoError(t, err)

	resp, err := e.Refresh(context.Background(), issued.RefreshToken, client, "")
	require.NoError(t, err)
	assert.NotEqual(t, issued.RefreshToken, resp.RefreshToken)

	// replaying the old (now-revoked, rotated) refresh token cascades a full chain revoke
	_, err = e.Refresh(context.Background(), issued.RefreshToken, client, "")
	assert.ErrorIs(t, err, ErrReplayDetected)

	_, err = e.Refresh(context.Background(), resp.RefreshToken, client, "")
	assert.ErrorIs(t, err, ErrInvalidGrant, "successor should also be revoked by the replay cascade")
}

func TestRefresh_WithoutRotation_ReusesToken(t *testing.T) {
	store := memstore.New()
	signer := testSigner(t)
	c := clock.NewFake(time.Unix(0, 0))
	e := New(store, signer, nil, c, Config{RotationEnabled: false})
	client := testClient()

	issued, err := e.IssueFromCode(context.Background(), FromCodeParams{
		UserID: uuid.New(), ClientID: client.ClientID, Scope: "read", AuthTime: c.Now(), Client: client, ChainID: uuid.New(),
	})
	require.NoError(t, err)

	resp, err := e.Refresh(context.Background(), issued.RefreshToken, client, "")
	require.NoError(t, err)
	assert.Equal(t, issued.RefreshToken, resp.RefreshToken)

	resp2, err := e.Refresh(context.Background(), issued.RefreshToken, client, "")
	require.NoError(t, err)
	assert.Equal(t, issued.RefreshToken, resp2.RefreshToken)
}

func TestRefresh_ExpiredToken(t *testing.T) {
	store := memstore.New()
	signer := testSigner(t)
	c := clock.NewFake(time.Unix(0, 0))
	e := New(store, signer, nil, c, Config{})
	client := testClient()
	client.RefreshTokenTTL = time.Minute

	issued, err := e.IssueFromCode(context.Background(), FromCodeParams{
		UserID: uuid.New(), ClientID: client.ClientID, Scope: "read", AuthTime: c.Now(), Client: client, ChainID: uuid.New(),
	})
	require.NoError(t, err)

	c.Advance(2 * time.Minute)
	_, err = e.Refresh(context.Background(), issued.RefreshToken, client, "")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestRefresh_ClientMismatch(t *testing.T) {
	store := memstore.New()
	signer := testSigner(t)
	c := clock.NewFake(time.Unix(0, 0))
	e := New(store, signer, nil, c, Config{})
	client := testClient()

	issued, err := e.IssueFromCode(context.Background(), FromCodeParams{
		UserID: uuid.New(), ClientID: client.ClientID, Scope: "read", AuthTime: c.Now(), Client: client, ChainID: uuid.New(),
	})
	require.NoError(t, err)

	otherClient := client
	otherClient.ClientID = "client-2"
	_, err = e.Refresh(context.Background(), issued.RefreshToken, otherClient, "")
	assert.ErrorIs(t, err, ErrClientMismatch)
}

func TestRevoke_RefreshTokenCascadesAccessTokens(t *testing.T) {
	store := memstore.New()
	signer := testSigner(t)
	c := clock.NewFake(time.Unix(0, 0))
	e := New(store, signer, nil, c, Config{})
	client := testClient()

	issued, err := e.IssueFromCode(context.Background(), FromCodeParams{
		UserID: uuid.New(), ClientID: client.ClientID, Scope: "read", AuthTime: c.Now(), Client: client, ChainID: uuid.New(),
	})
	require.NoError(t, err)

	require.NoError(t, e.Revoke(context.Background(), issued.RefreshToken, client))

	introspection, err := e.Introspect(context.Background(), issued.AccessToken)
	require.NoError(t, err)
	assert.False(t, introspection.Active)
}

func TestIntrospect_ActiveForLiveToken(t *testing.T) {
	store := memstore.New()
	signer := testSigner(t)
	c := clock.NewFake(time.Unix(0, 0))
	e := New(store, signer, nil, c, Config{})
	client := testClient()

	issued, err := e.IssueFromCode(context.Background(), FromCodeParams{
		UserID: uuid.New(), ClientID: client.ClientID, Scope: "read", AuthTime: c.Now(), Client: client, ChainID: uuid.New(),
	})
	require.NoError(t, err)

	introspection, err := e.Introspect(context.Background(), issued.AccessToken)
	require.NoError(t, err)
	assert.True(t, introspection.Active)
	assert.Equal(t, "read", introspection.Scope)
}

func TestIntrospect_UnknownTokenIsInactive(t *testing.T) {
	store := memstore.New()
	signer := testSigner(t)
	c := clock.NewFake(time.Unix(0, 0))
	e := New(store, signer, nil, c, Config{})

	introspection, err := e.Introspect(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.False(t, introspection.Active)
}
