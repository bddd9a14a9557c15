package api

import (
	"net/http"
	"strconv"

	"github.com/lavente/authguard/internal/clientreg"
	"github.com/lavente/authguard/internal/oautherr"
	"github.com/lavente/authguard/internal/orchestrator"
)

// Authorize implements GET /oauth/authorize (spec §4.10). A resolved session
// comes from the session_token cookie, if present and unexpired.
func (s *Server) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := orchestrator.AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Prompt:              q.Get("prompt"),
	}
	if raw := q.Get("max_age"); raw != "" {
		if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
			req.MaxAgeSeconds = seconds
			req.HasMaxAge = true
		}
	}

	session := s.resolveCallerSession(r)

	deps := orchestrator.AuthorizeDeps{
		Clients:    s.clients,
		Codes:      s.codes,
		Consent:    s.consent,
		Clock:      s.clock,
		LoginURL:   s.loginURL,
		ConsentURL: s.consURL,
	}
	outcome := orchestrator.Authorize(r.Context(), deps, req, r.URL.RawQuery, session)

	switch {
	case outcome.RenderError != nil:
		oautherr.WriteJSON(w, outcome.RenderError)
	case outcome.RedirectToLogin != "":
		http.Redirect(w, r, outcome.RedirectToLogin, http.StatusFound)
	case outcome.RedirectToConsent != "":
		http.Redirect(w, r, outcome.RedirectToConsent, http.StatusFound)
	default:
		http.Redirect(w, r, outcome.Redirect, http.StatusFound)
	}
}

// resolveCallerSession reads the session_token cookie and resolves it
// against the credential authenticator; an absent or expired cookie yields
// the zero CallerSession (Present: false), which Authorize treats as
// "needs login".
func (s *Server) resolveCallerSession(r *http.Request) orchestrator.CallerSession {
	cookie, err := r.Cookie("session_token")
	if err != nil || cookie.Value == "" {
		return orchestrator.CallerSession{}
	}
	sess, err := s.authn.ResolveSession(r.Context(), cookie.Value)
	if err != nil {
		return orchestrator.CallerSession{}
	}
	return orchestrator.CallerSession{Present: true, UserID: sess.UserID, AuthTime: sess.AuthTime}
}

// Token implements POST /oauth/token (spec §4.11).
func (s *Server) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oautherr.WriteJSON(w, oautherr.New(oautherr.InvalidRequest, "malformed request body"))
		return
	}

	creds, hasCreds := clientreg.ExtractCredentials(r)

	req := orchestrator.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
	}
	if r.PostForm.Has("scope") {
		req.Scope = r.PostFormValue("scope")
		req.HasScope = true
	}

	deps := orchestrator.TokenDeps{Clients: s.clients, Codes: s.codes, Tokens: s.tokens, Store: s.store}
	resp, oerr := orchestrator.Token(r.Context(), deps, creds, hasCreds, req)
	if oerr != nil {
		oautherr.WriteJSON(w, oerr)
		return
	}
	orchestrator.WriteTokenResponse(w, resp)
}

// Introspect implements POST /oauth/introspect (RFC 7662).
func (s *Server) Introspect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oautherr.WriteJSON(w, oautherr.New(oautherr.InvalidRequest, "malformed request body"))
		return
	}

	creds, hasCreds := clientreg.ExtractCredentials(r)
	if !hasCreds {
		oautherr.WriteJSON(w, oautherr.New(oautherr.InvalidClient, "client authentication required"))
		return
	}
	if _, err := s.clients.Authenticate(r.Context(), creds); err != nil {
		oautherr.WriteJSON(w, oautherr.New(oautherr.InvalidClient, "client authentication failed"))
		return
	}

	token := r.PostFormValue("token")
	if token == "" {
		writeIntrospectionResult(w, introspectionInactive())
		return
	}

	result, err := s.tokens.Introspect(r.Context(), token)
	if err != nil {
		oautherr.WriteJSON(w, oautherr.New(oautherr.ServerError, "introspection failed"))
		return
	}
	writeIntrospectionResult(w, result)
}

// Revoke implements POST /oauth/revoke (RFC 7009). The response is always a
// bare 200 regardless of whether the token existed, to avoid token-type
// and existence oracles.
func (s *Server) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oautherr.WriteJSON(w, oautherr.New(oautherr.InvalidRequest, "malformed request body"))
		return
	}

	creds, hasCreds := clientreg.ExtractCredentials(r)
	if !hasCreds {
		oautherr.WriteJSON(w, oautherr.New(oautherr.InvalidClient, "client authentication required"))
		return
	}
	client, err := s.clients.Authenticate(r.Context(), creds)
	if err != nil {
		oautherr.WriteJSON(w, oautherr.New(oautherr.InvalidClient, "client authentication failed"))
		return
	}

	token := r.PostFormValue("token")
	if token != "" {
		_ = s.tokens.Revoke(r.Context(), token, client)
	}
	w.WriteHeader(http.StatusOK)
}
