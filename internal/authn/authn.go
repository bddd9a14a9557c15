// Package authn is the credential authenticator (spec §4.6): the only
// component in this service that ever sees a plaintext password. It rate
// limits per source IP, enforces account lockout, and mints opaque session
// artifacts on success.
package authn

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lavente/authguard/internal/clock"
	"github.com/lavente/authguard/internal/cryptoutil"
	"github.com/lavente/authguard/internal/mfa"
	"github.com/lavente/authguard/internal/oauthstore"
)

var (
	ErrRateLimited    = errors.New("authn: rate limited")
	ErrBadCredentials = errors.New("authn: bad credentials")
	ErrLocked         = errors.New("authn: account locked")
	// ErrMFARequired is returned in place of a session when the account has
	// MFA enabled and the caller did not supply a valid TOTP code; the
	// caller re-invokes Authenticate with the code once collected.
	ErrMFARequired = errors.New("authn: mfa code required")
)

const (
	DefaultSessionTTL      = time.Hour
	DefaultLockThreshold   = 5
	DefaultLockDuration    = 30 * time.Minute
	DefaultRateLimitCount  = 5
	DefaultRateLimitWindow = 5 * time.Minute
	sessionTokenBytes      = 32 // 256 bits
)

// Config bundles the authenticator's tunables, all sourced from
// configuration with the defaults above.
type Config struct {
	SessionTTL      time.Duration
	LockThreshold   int
	LockDuration    time.Duration
	RateLimitCount  int
	RateLimitWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.LockThreshold <= 0 {
		c.LockThreshold = DefaultLockThreshold
	}
	if c.LockDuration <= 0 {
		c.LockDuration = DefaultLockDuration
	}
	if c.RateLimitCount <= 0 {
		c.RateLimitCount = DefaultRateLimitCount
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = DefaultRateLimitWindow
	}
	return c
}

// Authenticator verifies username/password pairs and mints sessions.
type Authenticator struct {
	store   oauthstore.Store
	hasher  cryptoutil.PasswordHasher
	mfa     *mfa.Service
	clock   clock.Clock
	cfg     Config
	limiter *ipRateLimiter
}

// New builds an Authenticator. hasher defaults to bcrypt cost 12 if nil. mfa
// may be nil to run single-factor only (MFAEnabled users then always fail
// closed with ErrMFARequired, since no verifier exists to satisfy it).
func New(store oauthstore.Store, hasher cryptoutil.PasswordHasher, mfaSvc *mfa.Service, c clock.Clock, cfg Config) *Authenticator {
	cfg = cfg.withDefaults()
	if hasher == nil {
		hasher = cryptoutil.NewBcryptHasher()
	}
	return &Authenticator{
		store:   store,
		hasher:  hasher,
		mfa:     mfaSvc,
		clock:   c,
		cfg:     cfg,
		limiter: newIPRateLimiter(cfg.RateLimitCount, cfg.RateLimitWindow),
	}
}

// Result is the successful output of Authenticate: a minted session and the
// user it belongs to.
type Result struct {
	Session oauthstore.Session
	Token   string // opaque session token in cleartext, returned once
	User    oauthstore.User
}

// Authenticate runs the full authenticate() operation from spec §4.6. code
// is the user-supplied TOTP code, empty when none was collected yet; backup
// codes are not accepted here.
func (a *Authenticator) Authenticate(ctx context.Context, username, password, code, clientIP string) (Result, error) {
	if !a.limiter.Allow(clientIP) {
		return Result{}, ErrRateLimited
	}

	user, err := a.store.GetUserByUsername(ctx, username)
	if errors.Is(err, oauthstore.ErrNotFound) {
		cryptoutil.VerifyDummy(password)
		return Result{}, ErrBadCredentials
	}
	if err != nil {
		return Result{}, err
	}

	now := a.clock.Now()
	if user.LockedUntil != nil && user.LockedUntil.After(now) {
		return Result{}, ErrLocked
	}

	if err := a.hasher.Compare(user.PasswordHash, password); err != nil {
		if _, ferr := a.store.RecordFailedLogin(ctx, user.ID, a.cfg.LockThreshold, int64(a.cfg.LockDuration.Seconds())); ferr != nil {
			return Result{}, ferr
		}
		return Result{}, ErrBadCredentials
	}

	if user.MFAEnabled {
		if a.mfa == nil || code == "" || a.mfa.Verify(code, user.MFASecret) != nil {
			return Result{}, ErrMFARequired
		}
	}

	if err := a.store.RecordSuccessfulLogin(ctx, user.ID, now.Unix()); err != nil {
		return Result{}, err
	}

	token, err := cryptoutil.GenerateOpaqueToken(sessionTokenBytes)
	if err != nil {
		return Result{}, err
	}
	session := oauthstore.Session{
		TokenHash: cryptoutil.HashToken(token),
		UserID:    user.ID,
		AuthTime:  now,
		ExpiresAt: now.Add(a.cfg.SessionTTL),
	}
	if err := a.store.CreateSession(ctx, session); err != nil {
		return Result{}, err
	}

	user.FailedAttempts = 0
	user.LockedUntil = nil
	return Result{Session: session, Token: token, User: user}, nil
}

// ResolveSession looks up a session by its opaque cleartext token, rejecting
// expired ones.
func (a *Authenticator) ResolveSession(ctx context.Context, token string) (oauthstore.Session, error) {
	sess, err := a.store.GetSessionByHash(ctx, cryptoutil.HashToken(token))
	if err != nil {
		return oauthstore.Session{}, err
	}
	if a.clock.Now().After(sess.ExpiresAt) {
		return oauthstore.Session{}, oauthstore.ErrNotFound
	}
	return sess, nil
}

// ipRateLimiter is a process-local, per-IP token-bucket limiter. For
// multi-instance deployments the spec documents pushing this state to the
// persistence gateway instead; this core ships the process-local variant.
type ipRateLimiter struct {
	count  int
	window time.Duration

	mu       sync.Mutex
	limiters map[netip.Addr]*rate.Limiter
}

func newIPRateLimiter(count int, window time.Duration) *ipRateLimiter {
	return &ipRateLimiter{
		count:    count,
		window:   window,
		limiters: make(map[netip.Addr]*rate.Limiter),
	}
}

func (l *ipRateLimiter) Allow(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		addr = netip.IPv4Unspecified()
	}

	l.mu.Lock()
	lim, ok := l.limiters[addr]
	if !ok {
		every := rate.Every(l.window / time.Duration(l.count))
		lim = rate.NewLimiter(every, l.count)
		l.limiters[addr] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}
