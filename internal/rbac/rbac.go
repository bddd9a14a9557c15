// Package rbac evaluates user permissions against the role/permission graph
// owned by oauthstore, through a TTL cache so token issuance, refresh and
// introspection do not hit the persistence gateway on every call. The
// RequirePermission middleware does not use it; it reads the permissions
// claim of the access token.
package rbac

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lavente/authguard/internal/clock"
	"github.com/lavente/authguard/internal/oauthstore"
)

const DefaultTTL = 5 * time.Minute

type cacheEntry struct {
	permissions map[string]struct{}
	expiresAt   time.Time
}

// Evaluator answers "does user X have permission Y" using a per-user TTL
// cache backed by oauthstore.Store.GetUserPermissions.
type Evaluator struct {
	store oauthstore.Store
	clock clock.Clock
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[uuid.UUID]cacheEntry
}

// New builds an Evaluator with the given TTL. A zero TTL uses DefaultTTL.
func New(store oauthstore.Store, c clock.Clock, ttl time.Duration) *Evaluator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Evaluator{
		store:   store,
		clock:   c,
		ttl:     ttl,
		entries: make(map[uuid.UUID]cacheEntry),
	}
}

func (e *Evaluator) permissionsOf(ctx context.Context, userID uuid.UUID) (map[string]struct{}, error) {
	now := e.clock.Now()

	e.mu.RLock()
	entry, ok := e.entries[userID]
	e.mu.RUnlock()
	if ok && entry.expiresAt.After(now) {
		return entry.permissions, nil
	}

	names, err := e.store.GetUserPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}

	e.mu.Lock()
	e.entries[userID] = cacheEntry{permissions: set, expiresAt: now.Add(e.ttl)}
	e.mu.Unlock()

	return set, nil
}

// PermissionsOf returns the full, deduplicated permission set for a user.
func (e *Evaluator) PermissionsOf(ctx context.Context, userID uuid.UUID) ([]string, error) {
	set, err := e.permissionsOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out, nil
}

// HasPermission reports whether userID holds the named permission.
func (e *Evaluator) HasPermission(ctx context.Context, userID uuid.UUID, name string) (bool, error) {
	set, err := e.permissionsOf(ctx, userID)
	if err != nil {
		return false, err
	}
	_, ok := set[name]
	return ok, nil
}

// Invalidate drops the cached permission set for a single user, forcing the
// next lookup to re-fetch from the store. Call after a role assignment
// change for that user.
func (e *Evaluator) Invalidate(userID uuid.UUID) {
	e.mu.Lock()
	delete(e.entries, userID)
	e.mu.Unlock()
}

// InvalidateByRole drops cached permission sets for every user currently
// holding roleID. Call after a role's permission set changes.
func (e *Evaluator) InvalidateByRole(ctx context.Context, roleID uuid.UUID) error {
	userIDs, err := e.store.UsersWithRole(ctx, roleID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	for _, id := range userIDs {
		delete(e.entries, id)
	}
	e.mu.Unlock()
	return nil
}
