package api

import (
	"net/http"

	"github.com/lavente/authguard/internal/api/helpers"
	"github.com/lavente/authguard/internal/api/middleware"
)

// Health is a liveness probe; it does not touch the database, matching the
// teacher's cheap-readiness-over-deep-healthcheck choice.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// JWKS serves the signing key set at the well-known OIDC discovery path.
func (s *Server) JWKS(w http.ResponseWriter, r *http.Request) {
	helpers.RespondJSON(w, http.StatusOK, s.signer.JWKS())
}

// AdminPing is gated by RequirePermission("admin:access"); it proves the
// permission-set model end to end, from role assignment through the RBAC
// evaluator through the access token's denormalised claim.
func (s *Server) AdminPing(w http.ResponseWriter, r *http.Request) {
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "pong"})
}

// Me is a sample resource-server endpoint: it proves the access token's
// denormalised permissions claim reaches request handling, without a live
// round trip to the RBAC evaluator.
func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "no authenticated subject")
		return
	}
	clientID, _ := middleware.GetClientID(r.Context())
	scope, _ := middleware.GetScope(r.Context())
	helpers.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"sub":         userID.String(),
		"client_id":   clientID,
		"scope":       scope,
		"permissions": middleware.GetPermissions(r.Context()),
	})
}
