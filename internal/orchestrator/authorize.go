// Package orchestrator wires the client registry, consent ledger,
// authorization-code engine, and token engine into the two HTTP-facing
// protocol flows described in spec §4.10 and §4.11. The caller's session
// arrives already resolved by the HTTP layer.
package orchestrator

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lavente/authguard/internal/clientreg"
	"github.com/lavente/authguard/internal/clock"
	"github.com/lavente/authguard/internal/codeengine"
	"github.com/lavente/authguard/internal/consent"
	"github.com/lavente/authguard/internal/cryptoutil"
	"github.com/lavente/authguard/internal/oautherr"
)

// AuthorizeRequest is the parsed /oauth/authorize query string.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	Prompt              string
	MaxAgeSeconds       int64
	HasMaxAge           bool
}

// CallerSession is the resolved session for the current request, or the
// zero value if none/expired.
type CallerSession struct {
	Present  bool
	UserID   uuid.UUID
	AuthTime time.Time
}

// AuthorizeOutcome tells the HTTP layer what to do next: exactly one of
// Redirect, RenderError, RedirectToLogin, or RedirectToConsent is set.
type AuthorizeOutcome struct {
	// Redirect is set on success: redirect_uri?code=...&state=...
	Redirect string

	// RenderError is set when the failure must not be reflected through
	// redirect_uri (step 1-2 failures): render a standalone error page.
	RenderError *oautherr.Error

	// RedirectToLogin is LoginURL with a returnUrl parameter appended.
	RedirectToLogin string
	// RedirectToConsent is ConsentURL with a returnUrl parameter appended;
	// client_id and scope reach the consent UI only inside that value.
	RedirectToConsent string
}

// AuthorizeDeps are the components the authorize orchestrator depends on.
type AuthorizeDeps struct {
	Clients *clientreg.Registry
	Codes   *codeengine.Engine
	Consent *consent.Ledger
	Clock   clock.Clock
	// LoginURL and ConsentURL are external UI base URLs. A returnUrl query
	// parameter is appended to them (with "?" or "&"), holding the
	// URL-encoded raw query string of the authorize request only; the
	// scheme, host and /oauth/authorize path are not included.
	LoginURL   string
	ConsentURL string
}

// Authorize implements the authorize() operation (spec §4.10).
func Authorize(ctx context.Context, deps AuthorizeDeps, req AuthorizeRequest, rawQuery string, session CallerSession) AuthorizeOutcome {
	// Step 1: parameter validation. These never redirect, to avoid reflecting
	// an attacker-controlled redirect_uri.
	if req.ResponseType == "" || req.ClientID == "" || req.RedirectURI == "" || req.CodeChallenge == "" || req.CodeChallengeMethod == "" {
		return AuthorizeOutcome{RenderError: oautherr.New(oautherr.InvalidRequest, "missing required parameter")}
	}

	// Step 2: client & redirect check.
	client, err := deps.Clients.Find(ctx, req.ClientID)
	if err != nil {
		return AuthorizeOutcome{RenderError: oautherr.New(oautherr.UnauthorizedClient, "unknown client")}
	}
	if clientreg.ValidateRedirectURI(client, req.RedirectURI) != nil {
		return AuthorizeOutcome{RenderError: oautherr.New(oautherr.InvalidRequest, "redirect_uri not registered")}
	}
	if req.CodeChallengeMethod != cryptoutil.MethodS256 {
		return AuthorizeOutcome{RenderError: oautherr.New(oautherr.InvalidRequest, "code_challenge_method must be S256")}
	}

	// From here on, the redirect_uri is trusted and errors may be reflected
	// to the client via redirect.
	redirectErr := func(e *oautherr.Error) AuthorizeOutcome {
		return AuthorizeOutcome{Redirect: buildErrorRedirect(req.RedirectURI, req.State, e)}
	}

	// Step 3: response_type.
	if req.ResponseType != "code" {
		return redirectErr(oautherr.New(oautherr.UnsupportedResponseType, "only the authorization code flow is supported"))
	}

	// Step 4: scope validation. RFC 6749 §3.3 scope is SP-delimited only;
	// an embedded tab/newline/CR or a doubled separator is malformed, not a
	// set of valid tokens to split on.
	allowed := client.AllowedScopeSet()
	scopeTokens, scopeOK := cryptoutil.SplitScope(req.Scope)
	if !scopeOK {
		return redirectErr(oautherr.New(oautherr.InvalidScope, "malformed scope parameter"))
	}
	for _, s := range scopeTokens {
		if _, ok := allowed[s]; !ok {
			return redirectErr(oautherr.New(oautherr.InvalidScope, "scope not permitted for this client"))
		}
	}

	returnURL := rawQuery

	// Step 5: authentication decision.
	now := deps.Clock.Now()
	needsLogin := !session.Present || req.Prompt == "login" ||
		(req.HasMaxAge && now.Sub(session.AuthTime) > time.Duration(req.MaxAgeSeconds)*time.Second)
	if needsLogin {
		if req.Prompt == "none" {
			return redirectErr(oautherr.New(oautherr.LoginRequired, "authentication required"))
		}
		return AuthorizeOutcome{RedirectToLogin: appendReturnURL(deps.LoginURL, returnURL)}
	}

	// Step 6: consent decision.
	if client.RequireConsent {
		covers, err := deps.Consent.Covers(ctx, session.UserID, req.ClientID, req.Scope)
		if err != nil {
			return redirectErr(oautherr.New(oautherr.ServerError, "consent lookup failed"))
		}
		if !covers {
			if req.Prompt == "none" {
				return redirectErr(oautherr.New(oautherr.ConsentRequired, "consent required"))
			}
			return AuthorizeOutcome{RedirectToConsent: appendReturnURL(deps.ConsentURL, returnURL)}
		}
	}

	// Step 7: issue code.
	code, err := deps.Codes.Issue(ctx, codeengine.IssueParams{
		UserID: session.UserID, ClientID: req.ClientID, RedirectURI: req.RedirectURI,
		Scope: req.Scope, Nonce: req.Nonce, CodeChallenge: req.CodeChallenge, CodeChallengeMethod: req.CodeChallengeMethod,
	})
	if err != nil {
		return redirectErr(oautherr.New(oautherr.ServerError, "failed to issue authorization code"))
	}

	values := url.Values{"code": {code}}
	if req.State != "" {
		values.Set("state", req.State)
	}
	return AuthorizeOutcome{Redirect: req.RedirectURI + "?" + values.Encode()}
}

func buildErrorRedirect(redirectURI, state string, e *oautherr.Error) string {
	values := url.Values{}
	for k, v := range e.QueryValues() {
		values.Set(k, v)
	}
	if state != "" {
		values.Set("state", state)
	}
	return redirectURI + "?" + values.Encode()
}

func appendReturnURL(base, returnURL string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "returnUrl=" + url.QueryEscape(returnURL)
}

