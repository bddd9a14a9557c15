// Package consent is the consent ledger (spec §4.8): tracks which scopes a
// user has authorized a client for, and cascades revocation into the token
// engine's durable records when withdrawn.
package consent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lavente/authguard/internal/clock"
	"github.com/lavente/authguard/internal/cryptoutil"
	"github.com/lavente/authguard/internal/oauthstore"
)

const DefaultTTL = 30 * 24 * time.Hour

// Ledger answers coverage queries and records/revokes grants.
type Ledger struct {
	store oauthstore.Store
	clock clock.Clock
	ttl   time.Duration
}

// New builds a Ledger. A zero ttl uses DefaultTTL.
func New(store oauthstore.Store, c clock.Clock, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{store: store, clock: c, ttl: ttl}
}

func splitScope(scope string) map[string]struct{} {
	tokens, ok := cryptoutil.SplitScope(scope)
	out := make(map[string]struct{}, len(tokens))
	if !ok {
		return out
	}
	for _, s := range tokens {
		out[s] = struct{}{}
	}
	return out
}

// Covers reports whether a non-expired grant exists for (userID, clientID)
// whose scopes are a superset of requestedScope.
func (l *Ledger) Covers(ctx context.Context, userID uuid.UUID, clientID string, requestedScope string) (bool, error) {
	grant, ok, err := l.store.GetConsent(ctx, userID, clientID)
	if err != nil {
		return false, err
	}
	if !ok || !grant.ExpiresAt.After(l.clock.Now()) {
		return false, nil
	}

	granted := grant.ScopeSet()
	for s := range splitScope(requestedScope) {
		if _, ok := granted[s]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// Record upserts a grant for (userID, clientID, scope), unioning with any
// existing non-expired grant (handled by the store).
func (l *Ledger) Record(ctx context.Context, userID uuid.UUID, clientID string, scope string) error {
	scopes := make([]string, 0)
	for s := range splitScope(scope) {
		scopes = append(scopes, s)
	}
	return l.store.UpsertConsent(ctx, oauthstore.ConsentGrant{
		UserID:    userID,
		ClientID:  clientID,
		Scopes:    scopes,
		ExpiresAt: l.clock.Now().Add(l.ttl),
	})
}

// Revoke removes the grant and cascades to revoke every access/refresh
// token bound to (userID, clientID).
func (l *Ledger) Revoke(ctx context.Context, userID uuid.UUID, clientID string) error {
	return l.store.RevokeConsent(ctx, userID, clientID)
}
