package api

import (
	"net/http"

	"github.com/lavente/authguard/internal/api/helpers"
	"github.com/lavente/authguard/internal/tokenengine"
)

// introspectionBody is the RFC 7662 response shape; fields beyond "active"
// are only meaningful when active is true.
type introspectionBody struct {
	Active      bool     `json:"active"`
	Scope       string   `json:"scope,omitempty"`
	ClientID    string   `json:"client_id,omitempty"`
	Sub         string   `json:"sub,omitempty"`
	Exp         int64    `json:"exp,omitempty"`
	Iat         int64    `json:"iat,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

func introspectionInactive() tokenengine.Introspection {
	return tokenengine.Introspection{Active: false}
}

func writeIntrospectionResult(w http.ResponseWriter, r tokenengine.Introspection) {
	if !r.Active {
		helpers.RespondJSON(w, http.StatusOK, introspectionBody{Active: false})
		return
	}
	helpers.RespondJSON(w, http.StatusOK, introspectionBody{
		Active:      true,
		Scope:       r.Scope,
		ClientID:    r.ClientID,
		Sub:         r.Subject,
		Exp:         r.ExpiresAt,
		Iat:         r.IssuedAt,
		Permissions: r.Permissions,
	})
}
