// Package clientreg authenticates OAuth clients and validates their
// registered redirect URIs and grant types against oauthstore.Client rows.
package clientreg

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/lavente/authguard/internal/cryptoutil"
	"github.com/lavente/authguard/internal/oauthstore"
)

var (
	// ErrClientNotFound is returned when no client matches the given client_id.
	ErrClientNotFound = errors.New("clientreg: client not found")
	// ErrAuthenticationFailed covers every credential-mismatch case; it never
	// distinguishes "wrong secret" from "client requires a secret" so as not
	// to leak which clients are confidential.
	ErrAuthenticationFailed = errors.New("clientreg: client authentication failed")
	// ErrRedirectURINotRegistered means the redirect_uri did not byte-match
	// any of the client's registered URIs.
	ErrRedirectURINotRegistered = errors.New("clientreg: redirect_uri not registered")
	// ErrGrantTypeNotAllowed means the client is not registered for the grant
	// type it attempted to use.
	ErrGrantTypeNotAllowed = errors.New("clientreg: grant_type not allowed for client")
)

// Registry resolves and authenticates oauthstore.Client rows.
type Registry struct {
	store oauthstore.Store
}

// New builds a Registry backed by store.
func New(store oauthstore.Store) *Registry {
	return &Registry{store: store}
}

// Find looks up a client by its public client_id, with no authentication.
// Used by the authorize endpoint, which only needs to validate the
// redirect_uri before the user authenticates.
func (r *Registry) Find(ctx context.Context, clientID string) (oauthstore.Client, error) {
	c, err := r.store.GetClientByClientID(ctx, clientID)
	if errors.Is(err, oauthstore.ErrNotFound) {
		return oauthstore.Client{}, ErrClientNotFound
	}
	return c, err
}

// Credentials carries a client_id/client_secret pair extracted from HTTP
// Basic, form body fields, or a JWT client-assertion request (which yields
// the client_id only; the assertion itself is not kept or verified).
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// ExtractCredentials reads client credentials from an incoming token request
// per RFC 6749 §2.3.1 (HTTP Basic, preferred) falling back to the client_id
// and client_secret form fields. JWT client-assertion
// (urn:ietf:params:oauth:client-assertion-type:jwt-bearer) is accepted as a
// bare client_id with an empty secret. The assertion's signature and claims
// are never checked anywhere: Authenticate then succeeds for a client with
// no secret on file and fails for a confidential one.
func ExtractCredentials(r *http.Request) (Credentials, bool) {
	if id, secret, ok := r.BasicAuth(); ok {
		return Credentials{ClientID: id, ClientSecret: secret}, true
	}

	clientID := r.PostFormValue("client_id")
	if clientID == "" {
		return Credentials{}, false
	}
	clientSecret := r.PostFormValue("client_secret")
	if assertion := r.PostFormValue("client_assertion"); assertion != "" &&
		r.PostFormValue("client_assertion_type") == "urn:ietf:params:oauth:client-assertion-type:jwt-bearer" {
		return Credentials{ClientID: clientID}, true
	}
	return Credentials{ClientID: clientID, ClientSecret: clientSecret}, true
}

// Authenticate verifies creds against the registered client. Confidential
// clients must present a matching secret. Public clients (ClientSecretHash
// empty) authenticate by client_id presence alone; callers performing an
// authorization_code exchange for a public client must additionally enforce
// PKCE, which this package does not see.
func (r *Registry) Authenticate(ctx context.Context, creds Credentials) (oauthstore.Client, error) {
	c, err := r.store.GetClientByClientID(ctx, creds.ClientID)
	if errors.Is(err, oauthstore.ErrNotFound) {
		// still hash-compare against a dummy to keep timing uniform
		cryptoutil.VerifyDummy(creds.ClientSecret)
		return oauthstore.Client{}, ErrAuthenticationFailed
	}
	if err != nil {
		return oauthstore.Client{}, err
	}

	if c.Type == oauthstore.ClientPublic || c.ClientSecretHash == "" {
		return c, nil
	}

	hasher := cryptoutil.NewBcryptHasher()
	if err := hasher.Compare(c.ClientSecretHash, creds.ClientSecret); err != nil {
		return oauthstore.Client{}, ErrAuthenticationFailed
	}
	return c, nil
}

// ValidateRedirectURI requires a byte-for-byte match against the client's
// registered redirect URIs; no scheme, host, or query normalization is ever
// applied.
func ValidateRedirectURI(c oauthstore.Client, uri string) error {
	if !c.HasRedirectURI(uri) {
		return ErrRedirectURINotRegistered
	}
	return nil
}

// ValidateGrantType requires the client be registered for grantType.
func ValidateGrantType(c oauthstore.Client, grantType string) error {
	if !c.HasGrantType(grantType) {
		return ErrGrantTypeNotAllowed
	}
	return nil
}

// SecureCompareClientID compares two client_ids in constant time after
// trimming surrounding whitespace. No code path in this module calls it;
// the token endpoint uses the client_id from the extracted credentials.
func SecureCompareClientID(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(a)), []byte(strings.TrimSpace(b))) == 1
}
