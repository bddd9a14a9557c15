// Package memstore is an in-memory oauthstore.Store used by unit tests for
// every protocol-logic package in this repo, so the authorize/token state
// machines can be tested without a live Postgres.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lavente/authguard/internal/oauthstore"
)

// Store is a mutex-protected, map-backed oauthstore.Store.
type Store struct {
	mu sync.Mutex

	users       map[uuid.UUID]oauthstore.User
	usersByName map[string]uuid.UUID

	clients map[string]oauthstore.Client

	codes       map[uuid.UUID]oauthstore.AuthorizationCode
	codesByHash map[string]uuid.UUID

	accessTokens       map[uuid.UUID]oauthstore.AccessToken
	accessTokensByHash map[string]uuid.UUID

	refreshTokens       map[uuid.UUID]oauthstore.RefreshToken
	refreshTokensByHash map[string]uuid.UUID

	consents map[string]oauthstore.ConsentGrant // key: userID|clientID

	roles           map[uuid.UUID]oauthstore.Role
	permissions     map[uuid.UUID]oauthstore.Permission
	rolePerms       map[uuid.UUID]map[uuid.UUID]struct{} // roleID -> permissionID set
	userRoles       map[uuid.UUID]map[uuid.UUID]struct{} // userID -> roleID set

	sessions       map[uuid.UUID]oauthstore.Session
	sessionsByHash map[string]uuid.UUID
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		users:               make(map[uuid.UUID]oauthstore.User),
		usersByName:         make(map[string]uuid.UUID),
		clients:             make(map[string]oauthstore.Client),
		codes:               make(map[uuid.UUID]oauthstore.AuthorizationCode),
		codesByHash:         make(map[string]uuid.UUID),
		accessTokens:        make(map[uuid.UUID]oauthstore.AccessToken),
		accessTokensByHash:  make(map[string]uuid.UUID),
		refreshTokens:       make(map[uuid.UUID]oauthstore.RefreshToken),
		refreshTokensByHash: make(map[string]uuid.UUID),
		consents:            make(map[string]oauthstore.ConsentGrant),
		roles:               make(map[uuid.UUID]oauthstore.Role),
		permissions:         make(map[uuid.UUID]oauthstore.Permission),
		rolePerms:           make(map[uuid.UUID]map[uuid.UUID]struct{}),
		userRoles:           make(map[uuid.UUID]map[uuid.UUID]struct{}),
		sessions:            make(map[uuid.UUID]oauthstore.Session),
		sessionsByHash:      make(map[string]uuid.UUID),
	}
}

func consentKey(userID uuid.UUID, clientID string) string {
	return userID.String() + "|" + clientID
}

// --- Users ---

func (s *Store) GetUserByUsername(_ context.Context, username string) (oauthstore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.usersByName[username]
	if !ok {
		return oauthstore.User{}, oauthstore.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) GetUserByID(_ context.Context, id uuid.UUID) (oauthstore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return oauthstore.User{}, oauthstore.ErrNotFound
	}
	return u, nil
}

func (s *Store) CreateUser(_ context.Context, u oauthstore.User) (oauthstore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if _, exists := s.usersByName[u.Username]; exists {
		return oauthstore.User{}, oauthstore.ErrConflict
	}
	if u.Status == "" {
		u.Status = oauthstore.UserActive
	}
	s.users[u.ID] = u
	s.usersByName[u.Username] = u.ID
	return u, nil
}

func (s *Store) RecordFailedLogin(_ context.Context, userID uuid.UUID, lockThreshold int, lockDurationSeconds int64) (oauthstore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return oauthstore.User{}, oauthstore.ErrNotFound
	}
	u.FailedAttempts++
	if u.FailedAttempts >= lockThreshold {
		until := time.Now().Add(time.Duration(lockDurationSeconds) * time.Second)
		u.LockedUntil = &until
		u.Status = oauthstore.UserLocked
	}
	s.users[userID] = u
	return u, nil
}

func (s *Store) RecordSuccessfulLogin(_ context.Context, userID uuid.UUID, atUnix int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return oauthstore.ErrNotFound
	}
	t := time.Unix(atUnix, 0).UTC()
	u.FailedAttempts = 0
	u.LockedUntil = nil
	u.Status = oauthstore.UserActive
	u.LastLoginAt = &t
	s.users[userID] = u
	return nil
}

func (s *Store) SetUserMFA(_ context.Context, userID uuid.UUID, secret string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return oauthstore.ErrNotFound
	}
	u.MFASecret = secret
	u.MFAEnabled = enabled
	s.users[userID] = u
	return nil
}

// --- Clients ---

func (s *Store) GetClientByClientID(_ context.Context, clientID string) (oauthstore.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return oauthstore.Client{}, oauthstore.ErrNotFound
	}
	return c, nil
}

func (s *Store) CreateClient(_ context.Context, c oauthstore.Client) (oauthstore.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, exists := s.clients[c.ClientID]; exists {
		return oauthstore.Client{}, oauthstore.ErrConflict
	}
	s.clients[c.ClientID] = c
	return c, nil
}

// --- Authorization codes ---

func (s *Store) CreateAuthorizationCode(_ context.Context, c oauthstore.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, exists := s.codesByHash[c.CodeHash]; exists {
		return oauthstore.ErrConflict
	}
	s.codes[c.ID] = c
	s.codesByHash[c.CodeHash] = c.ID
	return nil
}

func (s *Store) GetAuthorizationCodeByHash(_ context.Context, hash string) (oauthstore.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.codesByHash[hash]
	if !ok {
		return oauthstore.AuthorizationCode{}, oauthstore.ErrNotFound
	}
	return s.codes[id], nil
}

func (s *Store) MarkAuthorizationCodeUsed(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[id]
	if !ok {
		return false, oauthstore.ErrNotFound
	}
	if c.Used {
		return false, nil
	}
	c.Used = true
	s.codes[id] = c
	return true, nil
}

// --- Access tokens ---

func (s *Store) CreateAccessToken(_ context.Context, t oauthstore.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	s.accessTokens[t.ID] = t
	s.accessTokensByHash[t.TokenHash] = t.ID
	return nil
}

func (s *Store) GetAccessTokenByHash(_ context.Context, hash string) (oauthstore.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.accessTokensByHash[hash]
	if !ok {
		return oauthstore.AccessToken{}, oauthstore.ErrNotFound
	}
	return s.accessTokens[id], nil
}

func (s *Store) RevokeAccessToken(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.accessTokens[id]
	if !ok {
		return oauthstore.ErrNotFound
	}
	t.Revoked = true
	s.accessTokens[id] = t
	return nil
}

func (s *Store) RevokeAccessTokensByUserClient(_ context.Context, userID uuid.UUID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.accessTokens {
		if t.ClientID == clientID && t.UserID != nil && *t.UserID == userID {
			t.Revoked = true
			s.accessTokens[id] = t
		}
	}
	return nil
}

// --- Refresh tokens ---

func (s *Store) CreateRefreshToken(_ context.Context, t oauthstore.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	s.refreshTokens[t.ID] = t
	s.refreshTokensByHash[t.TokenHash] = t.ID
	return nil
}

func (s *Store) GetRefreshTokenByHash(_ context.Context, hash string) (oauthstore.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.refreshTokensByHash[hash]
	if !ok {
		return oauthstore.RefreshToken{}, oauthstore.ErrNotFound
	}
	return s.refreshTokens[id], nil
}

func (s *Store) RotateRefreshToken(_ context.Context, oldID uuid.UUID, newToken oauthstore.RefreshToken) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.refreshTokens[oldID]
	if !ok {
		return false, oauthstore.ErrNotFound
	}
	if old.Revoked {
		return false, nil
	}
	if newToken.ID == uuid.Nil {
		newToken.ID = uuid.New()
	}
	old.Revoked = true
	old.RotatedToID = &newToken.ID
	s.refreshTokens[oldID] = old

	newToken.PredecessorID = &oldID
	s.refreshTokens[newToken.ID] = newToken
	s.refreshTokensByHash[newToken.TokenHash] = newToken.ID
	return true, nil
}

func (s *Store) RevokeRefreshToken(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.refreshTokens[id]
	if !ok {
		return oauthstore.ErrNotFound
	}
	t.Revoked = true
	s.refreshTokens[id] = t
	return nil
}

func (s *Store) RevokeChain(_ context.Context, chainID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.refreshTokens {
		if t.ChainID == chainID {
			t.Revoked = true
			s.refreshTokens[id] = t
		}
	}
	for id, t := range s.accessTokens {
		if t.ChainID == chainID {
			t.Revoked = true
			s.accessTokens[id] = t
		}
	}
	return nil
}

func (s *Store) RevokeRefreshTokensByUserClient(_ context.Context, userID uuid.UUID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.refreshTokens {
		if t.ClientID == clientID && t.UserID == userID {
			t.Revoked = true
			s.refreshTokens[id] = t
		}
	}
	return nil
}

func (s *Store) RevokeTokensByChain(ctx context.Context, chainID uuid.UUID) error {
	return s.RevokeChain(ctx, chainID)
}

// --- Consent ---

func (s *Store) GetConsent(_ context.Context, userID uuid.UUID, clientID string) (oauthstore.ConsentGrant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.consents[consentKey(userID, clientID)]
	if !ok {
		return oauthstore.ConsentGrant{}, false, nil
	}
	return g, true, nil
}

func (s *Store) UpsertConsent(_ context.Context, grant oauthstore.ConsentGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := consentKey(grant.UserID, grant.ClientID)
	if existing, ok := s.consents[key]; ok && existing.ExpiresAt.After(time.Now()) {
		union := existing.ScopeSet()
		for _, sc := range grant.Scopes {
			union[sc] = struct{}{}
		}
		merged := make([]string, 0, len(union))
		for sc := range union {
			merged = append(merged, sc)
		}
		grant.Scopes = merged
	}
	s.consents[key] = grant
	return nil
}

func (s *Store) RevokeConsent(ctx context.Context, userID uuid.UUID, clientID string) error {
	s.mu.Lock()
	delete(s.consents, consentKey(userID, clientID))
	s.mu.Unlock()

	if err := s.RevokeAccessTokensByUserClient(ctx, userID, clientID); err != nil {
		return err
	}
	return s.RevokeRefreshTokensByUserClient(ctx, userID, clientID)
}

// --- RBAC ---

func (s *Store) GetUserPermissions(_ context.Context, userID uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	for roleID := range s.userRoles[userID] {
		for permID := range s.rolePerms[roleID] {
			if p, ok := s.permissions[permID]; ok {
				seen[p.Name] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	return out, nil
}

func (s *Store) CreateRole(_ context.Context, r oauthstore.Role) (oauthstore.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	s.roles[r.ID] = r
	return r, nil
}

func (s *Store) CreatePermission(_ context.Context, p oauthstore.Permission) (oauthstore.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.permissions[p.ID] = p
	return p, nil
}

func (s *Store) GrantRolePermission(_ context.Context, roleID, permissionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rolePerms[roleID] == nil {
		s.rolePerms[roleID] = make(map[uuid.UUID]struct{})
	}
	s.rolePerms[roleID][permissionID] = struct{}{}
	return nil
}

func (s *Store) AssignUserRole(_ context.Context, userID, roleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userRoles[userID] == nil {
		s.userRoles[userID] = make(map[uuid.UUID]struct{})
	}
	s.userRoles[userID][roleID] = struct{}{}
	return nil
}

func (s *Store) RevokeUserRole(_ context.Context, userID, roleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.userRoles[userID], roleID)
	return nil
}

func (s *Store) UsersWithRole(_ context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for userID, roles := range s.userRoles {
		if _, ok := roles[roleID]; ok {
			out = append(out, userID)
		}
	}
	return out, nil
}

// --- Sessions ---

func (s *Store) CreateSession(_ context.Context, sess oauthstore.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	s.sessions[sess.ID] = sess
	s.sessionsByHash[sess.TokenHash] = sess.ID
	return nil
}

func (s *Store) GetSessionByHash(_ context.Context, hash string) (oauthstore.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessionsByHash[hash]
	if !ok {
		return oauthstore.Session{}, oauthstore.ErrNotFound
	}
	return s.sessions[id], nil
}

var _ oauthstore.Store = (*Store)(nil)
