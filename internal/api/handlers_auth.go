package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/lavente/authguard/internal/api/helpers"
	"github.com/lavente/authguard/internal/authn"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

// Login implements POST /auth/login (spec §4.6). Accepts either a JSON body
// or a form-urlencoded one; on success it sets the session_token cookie
// instead of returning the opaque token in the body.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLoginRequest(r)
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		helpers.RespondError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	clientIP := helpers.GetRealIP(r).String()
	result, aerr := s.authn.Authenticate(r.Context(), req.Username, req.Password, req.Code, clientIP)
	if aerr != nil {
		switch {
		case errors.Is(aerr, authn.ErrMFARequired):
			helpers.RespondJSON(w, http.StatusOK, map[string]interface{}{"mfa_required": true})
		case errors.Is(aerr, authn.ErrRateLimited):
			helpers.RespondError(w, http.StatusTooManyRequests, "too many login attempts")
		case errors.Is(aerr, authn.ErrLocked):
			helpers.RespondError(w, http.StatusForbidden, "account locked")
		case errors.Is(aerr, authn.ErrBadCredentials):
			helpers.RespondError(w, http.StatusUnauthorized, "invalid username or password")
		default:
			helpers.RespondError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	http.SetCookie(w, s.sessionCookie(result.Token, result.Session.ExpiresAt.Unix()))
	helpers.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"sub":    result.User.ID.String(),
	})
}

// Logout implements POST /auth/logout: it clears the cookie unconditionally,
// with no session-existence oracle leaked to the caller.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	cleared := s.sessionCookie("", 0)
	cleared.MaxAge = -1
	http.SetCookie(w, cleared)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) sessionCookie(token string, expiresUnix int64) *http.Cookie {
	c := &http.Cookie{
		Name:     "session_token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Env == "production",
		SameSite: http.SameSiteLaxMode,
	}
	if expiresUnix > 0 {
		c.Expires = time.Unix(expiresUnix, 0)
	}
	return c
}

func decodeLoginRequest(r *http.Request) (loginRequest, error) {
	ct := r.Header.Get("Content-Type")
	if ct == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return loginRequest{}, err
		}
		return loginRequest{
			Username: r.PostFormValue("username"),
			Password: r.PostFormValue("password"),
			Code:     r.PostFormValue("code"),
		}, nil
	}

	var req loginRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		return loginRequest{}, err
	}
	return req, nil
}
