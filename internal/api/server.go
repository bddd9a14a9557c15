// Package api wires the HTTP chassis: middleware chain, routing, and the
// handlers that adapt orchestrator.Authorize/Token and the rest of the
// protocol core to net/http.
package api

import (
	"log/slog"
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	customMiddleware "github.com/lavente/authguard/internal/api/middleware"
	"github.com/lavente/authguard/internal/authn"
	"github.com/lavente/authguard/internal/clientreg"
	"github.com/lavente/authguard/internal/clock"
	"github.com/lavente/authguard/internal/codeengine"
	"github.com/lavente/authguard/internal/config"
	"github.com/lavente/authguard/internal/consent"
	"github.com/lavente/authguard/internal/oauthstore"
	"github.com/lavente/authguard/internal/tokenengine"
)

// Server bundles the router with the dependencies its handlers close over.
type Server struct {
	Router *chi.Mux

	cfg      config.Config
	store    oauthstore.Store
	clients  *clientreg.Registry
	authn    *authn.Authenticator
	codes    *codeengine.Engine
	consent  *consent.Ledger
	tokens   *tokenengine.Engine
	signer   *tokenengine.Signer
	clock    clock.Clock
	loginURL string
	consURL  string
}

// Deps are the components NewServer wires into the router's handlers.
type Deps struct {
	Config     config.Config
	Store      oauthstore.Store
	Clients    *clientreg.Registry
	Authn      *authn.Authenticator
	Codes      *codeengine.Engine
	Consent    *consent.Ledger
	Tokens     *tokenengine.Engine
	Signer     *tokenengine.Signer
	Clock      clock.Clock
	LoginURL   string
	ConsentURL string
}

// NewServer builds the chi router: request-scoped middleware first, then
// public OAuth/auth routes, then routes requiring a bearer access token.
func NewServer(d Deps) *Server {
	r := chi.NewRouter()

	// 1. Core middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// 2. Sentry (before recovery, so it sees panics too).
	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	r.Use(sentryHandler.Handle)

	// 3. Logging & recovery.
	r.Use(customMiddleware.RequestLogger)
	r.Use(customMiddleware.PanicRecovery)

	// 4. Per-IP rate limiting and CORS.
	limiter := customMiddleware.NewIPRateLimiter(10, 20)
	r.Use(limiter.Middleware)
	r.Use(customMiddleware.CORS(d.Config.AllowedOrigins))

	s := &Server{
		Router:   r,
		cfg:      d.Config,
		store:    d.Store,
		clients:  d.Clients,
		authn:    d.Authn,
		codes:    d.Codes,
		consent:  d.Consent,
		tokens:   d.Tokens,
		signer:   d.Signer,
		clock:    d.Clock,
		loginURL: d.LoginURL,
		consURL:  d.ConsentURL,
	}

	r.Get("/health", s.Health)
	r.Get("/.well-known/jwks.json", s.JWKS)

	r.Get("/oauth/authorize", s.Authorize)
	r.Post("/oauth/token", s.Token)
	r.Post("/oauth/introspect", s.Introspect)
	r.Post("/oauth/revoke", s.Revoke)

	r.Post("/auth/login", s.Login)
	r.Post("/auth/logout", s.Logout)

	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.AuthMiddleware(d.Signer))
		r.Get("/auth/me", s.Me)

		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.RequirePermission("admin:access"))
			r.Get("/admin/ping", s.AdminPing)
		})
	})

	slog.Debug("router_configured")
	return s
}
