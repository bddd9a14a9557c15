// Package tokenengine is the token engine (spec §4.9): mints RS256 access
// and ID tokens, opaque refresh tokens, and implements issuance,
// rotation-with-replay-detection, revocation, and introspection. Grounded
// on the teacher's internal/auth/token.go JWTProvider.
package tokenengine

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lavente/authguard/internal/cryptoutil"
)

var (
	ErrInvalidToken = errors.New("tokenengine: invalid token")
	ErrExpiredToken = errors.New("tokenengine: token has expired")
)

// AccessClaims is the access-token JWT shape from spec §4.9: standard
// registered claims plus client_id, scope, and a denormalised permissions
// snapshot for resource servers that cannot reach the RBAC evaluator.
type AccessClaims struct {
	ClientID    string   `json:"client_id"`
	Scope       string   `json:"scope"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// IDClaims is the OIDC ID-token shape from spec §4.9.
type IDClaims struct {
	AuthTime int64  `json:"auth_time,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWK is a single JSON Web Key, RFC 7517 shape.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

// JWKS is a JSON Web Key Set, served at /.well-known/jwks.json.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// Signer holds the RS256 key pair and issuer/audience used to mint and
// validate JWTs. Loaded once at boot; read-only thereafter (spec §5, signing
// key material).
type Signer struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	kid        string
	issuer     string
	audience   string
}

// NewSigner parses an RSA private key in PEM (PKCS1 or PKCS8) form.
func NewSigner(privateKeyPEM, issuer, audience, kid string) (*Signer, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, errors.New("tokenengine: failed to parse PEM block containing the private key")
	}

	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		key, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("tokenengine: parse private key: pkcs1: %w, pkcs8: %v", err, err2)
		}
		var ok bool
		priv, ok = key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("tokenengine: key is not an RSA private key")
		}
	}

	if kid == "" {
		kid = "sig-1"
	}
	return &Signer{
		privateKey: priv,
		publicKey:  &priv.PublicKey,
		kid:        kid,
		issuer:     issuer,
		audience:   audience,
	}, nil
}

// AccessTokenParams is everything needed to mint an access-token JWT.
type AccessTokenParams struct {
	Subject     uuid.UUID // zero for client-credentials grants (no user subject)
	ClientID    string
	Scope       string
	Permissions []string
	JTI         string
	TTL         time.Duration
}

// SignAccessToken mints an RS256 access-token JWT.
func (s *Signer) SignAccessToken(p AccessTokenParams) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		ClientID:    p.ClientID,
		Scope:       p.Scope,
		Permissions: p.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        p.JTI,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.TTL)),
		},
	}
	if p.Subject != uuid.Nil {
		claims.Subject = p.Subject.String()
	}
	return s.sign(claims)
}

// IDTokenParams is everything needed to mint an OIDC ID token.
type IDTokenParams struct {
	Subject  uuid.UUID
	ClientID string
	AuthTime time.Time
	Nonce    string
	Name     string
	Email    string
	TTL      time.Duration
}

// SignIDToken mints an RS256 ID token, including profile/email claims only
// when the caller populated them (i.e. only when those scopes were
// granted — the orchestrator decides that, not this package).
func (s *Signer) SignIDToken(p IDTokenParams) (string, error) {
	now := time.Now()
	claims := IDClaims{
		AuthTime: p.AuthTime.Unix(),
		Nonce:    p.Nonce,
		Name:     p.Name,
		Email:    p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject.String(),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{p.ClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.TTL)),
		},
	}
	return s.sign(claims)
}

func (s *Signer) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.kid
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("tokenengine: sign: %w", err)
	}
	return signed, nil
}

// ParseAccessToken validates and decodes an access-token JWT.
func (s *Signer) ParseAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Signer) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("tokenengine: unexpected signing method: %v", t.Header["alg"])
	}
	return s.publicKey, nil
}

// JWKS returns the signer's public key as a JSON Web Key Set.
func (s *Signer) JWKS() JWKS {
	eBuf := big.NewInt(int64(s.publicKey.E)).Bytes()
	return JWKS{Keys: []JWK{{
		Kty: "RSA",
		Kid: s.kid,
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(s.publicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(eBuf),
		Alg: "RS256",
	}}}
}

func splitScope(scope string) []string {
	tokens, ok := cryptoutil.SplitScope(scope)
	if !ok {
		return nil
	}
	return tokens
}
