// Package oautherr is the OAuth error taxonomy (spec §7): orchestrators map
// internal, typed leaf errors to these stable codes, an HTTP status, and a
// JSON body, without leaking internal detail into the response.
package oautherr

import (
	"encoding/json"
	"net/http"
)

// Code is one of the stable RFC 6749 §5.2 error codes this service emits.
type Code string

const (
	InvalidRequest          Code = "invalid_request"
	InvalidClient           Code = "invalid_client"
	InvalidGrant            Code = "invalid_grant"
	UnauthorizedClient      Code = "unauthorized_client"
	UnsupportedGrantType    Code = "unsupported_grant_type"
	UnsupportedResponseType Code = "unsupported_response_type"
	InvalidScope            Code = "invalid_scope"
	AccessDenied            Code = "access_denied"
	LoginRequired           Code = "login_required"
	ConsentRequired         Code = "consent_required"
	InteractionRequired     Code = "interaction_required"
	ServerError             Code = "server_error"
	TemporarilyUnavailable  Code = "temporarily_unavailable"
)

// httpStatus maps each code to the status this service answers with.
var httpStatus = map[Code]int{
	InvalidRequest:          http.StatusBadRequest,
	InvalidClient:           http.StatusUnauthorized,
	InvalidGrant:            http.StatusBadRequest,
	UnauthorizedClient:      http.StatusUnauthorized,
	UnsupportedGrantType:    http.StatusBadRequest,
	UnsupportedResponseType: http.StatusBadRequest,
	InvalidScope:            http.StatusBadRequest,
	AccessDenied:            http.StatusBadRequest,
	LoginRequired:           http.StatusBadRequest,
	ConsentRequired:         http.StatusBadRequest,
	InteractionRequired:     http.StatusBadRequest,
	ServerError:             http.StatusInternalServerError,
	TemporarilyUnavailable:  http.StatusServiceUnavailable,
}

// Error is a protocol-level error, carrying everything needed to answer
// either a JSON token-endpoint response or a redirect/query-string one.
type Error struct {
	Code        Code
	Description string
	// CorrelationID is echoed on the response and in logs so operators can
	// match a user-visible failure to a detailed internal log line.
	CorrelationID string
}

func (e *Error) Error() string {
	if e.Description != "" {
		return string(e.Code) + ": " + e.Description
	}
	return string(e.Code)
}

// New builds an Error of the given code.
func New(code Code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// HTTPStatus returns the status code this service answers with for e.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return http.StatusBadRequest
}

type jsonBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes e as a token-endpoint JSON error body, setting
// Cache-Control/Pragma per spec §4.11 step 6 and the correlation header if
// present.
func WriteJSON(w http.ResponseWriter, e *Error) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	if e.Code == InvalidClient {
		w.Header().Set("WWW-Authenticate", "Basic")
	}
	if e.CorrelationID != "" {
		w.Header().Set("X-Correlation-Id", e.CorrelationID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus())
	_ = json.NewEncoder(w).Encode(jsonBody{Error: string(e.Code), ErrorDescription: e.Description})
}

// QueryValues returns the error and (optional) description as redirect
// query parameters, per RFC 6749 §4.1.2.1.
func (e *Error) QueryValues() map[string]string {
	out := map[string]string{"error": string(e.Code)}
	if e.Description != "" {
		out["error_description"] = e.Description
	}
	return out
}
