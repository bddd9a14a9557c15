package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/lavente/authguard/internal/api"
	"github.com/lavente/authguard/internal/authn"
	"github.com/lavente/authguard/internal/clientreg"
	"github.com/lavente/authguard/internal/clock"
	"github.com/lavente/authguard/internal/codeengine"
	"github.com/lavente/authguard/internal/config"
	"github.com/lavente/authguard/internal/consent"
	"github.com/lavente/authguard/internal/cryptoutil"
	"github.com/lavente/authguard/internal/mfa"
	"github.com/lavente/authguard/internal/oauthstore/pgstore"
	"github.com/lavente/authguard/internal/rbac"
	"github.com/lavente/authguard/internal/tokenengine"
	"github.com/lavente/authguard/pkg/logger"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg := config.Load()

	log := logger.Setup(cfg.Env)
	log.Info("application_startup", "env", cfg.Env)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 1.0,
			Environment:      cfg.Env,
		}); err != nil {
			log.Error("sentry_init_failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
			log.Info("sentry_initialized")
		}
	} else {
		log.Warn("sentry_dsn_missing", "details", "skipping_init")
	}

	ctx := context.Background()
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Error("database_url_parse_failed", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Error("database_pool_create_failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Error("database_ping_failed", "error", err)
		os.Exit(1)
	}
	log.Info("database_connected")

	if cfg.JWTPrivateKeyPEM == "" {
		if cfg.Env == "production" {
			log.Error("jwt_private_key_missing", "details", "fatal_in_production")
			os.Exit(1)
		}
		log.Warn("jwt_private_key_missing", "details", "dev_mode_unsafe")
	}

	store := pgstore.New(pool)
	hasher := cryptoutil.NewBcryptHasher()
	realClock := clock.Real()

	signer, err := tokenengine.NewSigner(cfg.JWTPrivateKeyPEM, cfg.JWTIssuer, cfg.JWTAudience, "")
	if err != nil {
		log.Error("signer_init_failed", "error", err)
		os.Exit(1)
	}

	mfaService := mfa.New(cfg.MFAIssuer)
	evaluator := rbac.New(store, realClock, cfg.PermissionCacheTTL)
	clients := clientreg.New(store)

	authenticator := authn.New(store, hasher, mfaService, realClock, authn.Config{
		SessionTTL:      cfg.SessionTTL,
		LockThreshold:   cfg.LockoutThreshold,
		LockDuration:    cfg.LockoutDuration,
		RateLimitCount:  cfg.LoginRateLimitAttempts,
		RateLimitWindow: cfg.LoginRateLimitWindow,
	})

	codes := codeengine.New(store, realClock, cfg.AuthorizationCodeTTL)
	consentLedger := consent.New(store, realClock, cfg.ConsentTTL)
	tokens := tokenengine.New(store, signer, evaluator, realClock, tokenengine.Config{
		RotationEnabled: cfg.RefreshTokenRotation,
	})

	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		appURL = "https://auth.example.com"
	}

	server := api.NewServer(api.Deps{
		Config:     cfg,
		Store:      store,
		Clients:    clients,
		Authn:      authenticator,
		Codes:      codes,
		Consent:    consentLedger,
		Tokens:     tokens,
		Signer:     signer,
		Clock:      realClock,
		LoginURL:   appURL + "/login",
		ConsentURL: appURL + "/consent",
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server_listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("server_startup_failed", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		log.Info("shutdown_signal_received", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful_shutdown_failed", "error", err)
			if err := srv.Close(); err != nil {
				log.Error("server_force_close_failed", "error", err)
			}
		}

		pool.Close()
		log.Info("database_pool_closed")
		log.Info("server_shutdown_complete")
	}
}
