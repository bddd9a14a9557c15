// Package codeengine is the authorization-code engine (spec §4.7): issues
// single-use codes bound to a PKCE challenge, and consumes them exactly
// once, cascading a full token revocation on any replay.
package codeengine

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
	ErrInvalid          = errors.New("codeengine: invalid or expired code")
	ErrReplay           = errors.New("codeengine: code already consumed (replay)")
	ErrClientMismatch   = errors.New("codeengine: issued to a different client")
	ErrRedirectMismatch = errors.New("codeengine: redirect_uri mismatch")
	ErrVerifierMissing  = errors.New("codeengine: pkce verifier required")
	ErrVerifierMismatch = errors.New("codeengine: pkce verification failed")
)

const DefaultTTL = 10 * time.Minute

// Engine issues and consumes authorization codes.
type Engine struct {
	store oauthstore.Store
	clock clock.Clock
	ttl   time.Duration
}

// New builds an Engine. A zero ttl uses DefaultTTL.
func New(store oauthstore.Store, c clock.Clock, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Engine{store: store, clock: c, ttl: ttl}
}

// IssueParams carries everything needed to mint a code.
type IssueParams struct {
	UserID              uuid.UUID
	ClientID            string
	RedirectURI         string
	Scope               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Issue generates an opaque code, persists it unused, and returns the
// cleartext code string. CodeChallengeMethod must be "S256"; callers
// validate that before calling Issue (the orchestrator rejects other
// methods at parameter-validation time).
func (e *Engine) Issue(ctx context.Context, p IssueParams) (string, error) {
	code, err := cryptoutil.GenerateOpaqueCode()
	if err != nil {
		return "", err
	}

	now := e.clock.Now()
	err = e.store.CreateAuthorizationCode(ctx, oauthstore.AuthorizationCode{
		ID:                  uuid.New(),
		CodeHash:            cryptoutil.HashToken(code),
		ClientID:            p.ClientID,
		UserID:              p.UserID,
		RedirectURI:         p.RedirectURI,
		Scope:               p.Scope,
		Nonce:               p.Nonce,
		CodeChallenge:       p.CodeChallenge,
		CodeChallengeMethod: p.CodeChallengeMethod,
		ExpiresAt:           now.Add(e.ttl),
		CreatedAt:           now,
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// ConsumeParams carries the request-side values checked against the stored
// code.
type ConsumeParams struct {
	Code        string
	ClientID    string
	RedirectURI string
	Verifier    string
}

// Consumed is the payload returned to the token engine on a successful
// consume.
type Consumed struct {
	UserID   uuid.UUID
	Scope    string
	Nonce    string
	CodeID   uuid.UUID
	AuthTime time.Time
}

// Consume runs the six-step validation sequence from spec §4.7. On replay
// (step 2), every token issued from the code's original, successful
// consumption is revoked via the code's own ID as the chain identifier
// before ErrReplay is returned.
func (e *Engine) Consume(ctx context.Context, p ConsumeParams) (Consumed, error) {
	rec, err := e.store.GetAuthorizationCodeByHash(ctx, cryptoutil.HashToken(p.Code))
	if errors.Is(err, oauthstore.ErrNotFound) {
		return Consumed{}, ErrInvalid
	}
	if err != nil {
		return Consumed{}, err
	}
	if e.clock.Now().After(rec.ExpiresAt) {
		return Consumed{}, ErrInvalid
	}

	if rec.Used {
		if revokeErr := e.store.RevokeTokensByChain(ctx, rec.ID); revokeErr != nil {
			return Consumed{}, revokeErr
		}
		return Consumed{}, ErrReplay
	}

	if rec.ClientID != p.ClientID {
		return Consumed{}, ErrClientMismatch
	}
	if rec.RedirectURI != p.RedirectURI {
		return Consumed{}, ErrRedirectMismatch
	}

	if rec.CodeChallenge != "" {
		if p.Verifier == "" {
			return Consumed{}, ErrVerifierMissing
		}
		if !cryptoutil.VerifyPKCE(p.Verifier, rec.CodeChallenge, rec.CodeChallengeMethod) {
			return Consumed{}, ErrVerifierMismatch
		}
	}

	won, err := e.store.MarkAuthorizationCodeUsed(ctx, rec.ID)
	if err != nil {
		return Consumed{}, err
	}
	if !won {
		// lost the CAS race; the winner's consumption stands, this caller
		// observes the same outcome a retry would see.
		if revokeErr := e.store.RevokeTokensByChain(ctx, rec.ID); revokeErr != nil {
			return Consumed{}, revokeErr
		}
		return Consumed{}, ErrReplay
	}

	return Consumed{UserID: rec.UserID, Scope: rec.Scope, Nonce: rec.Nonce, CodeID: rec.ID, AuthTime: rec.CreatedAt}, nil
}
