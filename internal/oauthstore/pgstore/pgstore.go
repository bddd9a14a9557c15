// Package pgstore is the Postgres-backed oauthstore.Store, driven with raw
// pgx (no ORM/sqlc layer in this module). CAS-sensitive operations let only
// one concurrent caller win: MarkAuthorizationCodeUsed is a single UPDATE
// whose WHERE clause requires used = false, while RecordFailedLogin,
// RotateRefreshToken and the consent upsert run inside a transaction that
// SELECT ... FOR UPDATEs the row first.
package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lavente/authguard/internal/oauthstore"
)

// Store is a pgxpool-backed oauthstore.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return oauthstore.ErrNotFound
	}
	return err
}

// --- Users ---

func (s *Store) GetUserByUsername(ctx context.Context, username string) (oauthstore.User, error) {
	var u oauthstore.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, status, failed_attempts, last_login_at, locked_until, mfa_secret, mfa_enabled
		 FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Status, &u.FailedAttempts, &u.LastLoginAt, &u.LockedUntil, &u.MFASecret, &u.MFAEnabled)
	return u, mapErr(err)
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (oauthstore.User, error) {
	var u oauthstore.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, status, failed_attempts, last_login_at, locked_until, mfa_secret, mfa_enabled
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Status, &u.FailedAttempts, &u.LastLoginAt, &u.LockedUntil, &u.MFASecret, &u.MFAEnabled)
	return u, mapErr(err)
}

func (s *Store) CreateUser(ctx context.Context, u oauthstore.User) (oauthstore.User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Status == "" {
		u.Status = oauthstore.UserActive
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, password_hash, status, mfa_secret, mfa_enabled)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.PasswordHash, u.Status, u.MFASecret, u.MFAEnabled,
	)
	if err != nil {
		var pgErr interface{ SQLState() string }
		if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
			return oauthstore.User{}, oauthstore.ErrConflict
		}
		return oauthstore.User{}, err
	}
	return u, nil
}

func (s *Store) RecordFailedLogin(ctx context.Context, userID uuid.UUID, lockThreshold int, lockDurationSeconds int64) (oauthstore.User, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return oauthstore.User{}, err
	}
	defer tx.Rollback(ctx)

	var u oauthstore.User
	err = tx.QueryRow(ctx,
		`SELECT id, username, password_hash, status, failed_attempts, last_login_at, locked_until, mfa_secret, mfa_enabled
		 FROM users WHERE id = $1 FOR UPDATE`, userID,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Status, &u.FailedAttempts, &u.LastLoginAt, &u.LockedUntil, &u.MFASecret, &u.MFAEnabled)
	if err != nil {
		return oauthstore.User{}, mapErr(err)
	}

	u.FailedAttempts++
	locked := u.FailedAttempts >= lockThreshold
	if locked {
		until := time.Now().Add(time.Duration(lockDurationSeconds) * time.Second)
		u.LockedUntil = &until
		u.Status = oauthstore.UserLocked
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET failed_attempts = $1, status = $2, locked_until = $3 WHERE id = $4`,
		u.FailedAttempts, u.Status, u.LockedUntil, userID,
	)
	if err != nil {
		return oauthstore.User{}, err
	}
	return u, tx.Commit(ctx)
}

func (s *Store) RecordSuccessfulLogin(ctx context.Context, userID uuid.UUID, atUnix int64) error {
	t := time.Unix(atUnix, 0).UTC()
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET failed_attempts = 0, locked_until = NULL, status = $1, last_login_at = $2 WHERE id = $3`,
		oauthstore.UserActive, t, userID,
	)
	return err
}

func (s *Store) SetUserMFA(ctx context.Context, userID uuid.UUID, secret string, enabled bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET mfa_secret = $1, mfa_enabled = $2 WHERE id = $3`, secret, enabled, userID,
	)
	return err
}

// --- Clients ---

func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (oauthstore.Client, error) {
	var c oauthstore.Client
	var accessTTL, refreshTTL int64
	err := s.pool.QueryRow(ctx,
		`SELECT id, client_id, client_secret_hash, type, allowed_redirect_uris, allowed_scopes, allowed_grant_types,
		        require_consent, require_pkce, access_token_ttl_seconds, refresh_token_ttl_seconds, allow_refresh_token_on_auth_code
		 FROM clients WHERE client_id = $1`, clientID,
	).Scan(&c.ID, &c.ClientID, &c.ClientSecretHash, &c.Type, &c.AllowedRedirectURIs, &c.AllowedScopes, &c.AllowedGrantTypes,
		&c.RequireConsent, &c.RequirePKCE, &accessTTL, &refreshTTL, &c.AllowRefreshTokenOnAuthCode)
	if err != nil {
		return oauthstore.Client{}, mapErr(err)
	}
	c.AccessTokenTTL = time.Duration(accessTTL) * time.Second
	c.RefreshTokenTTL = time.Duration(refreshTTL) * time.Second
	return c, nil
}

func (s *Store) CreateClient(ctx context.Context, c oauthstore.Client) (oauthstore.Client, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO clients (id, client_id, client_secret_hash, type, allowed_redirect_uris, allowed_scopes,
		                       allowed_grant_types, require_consent, require_pkce, access_token_ttl_seconds,
		                       refresh_token_ttl_seconds, allow_refresh_token_on_auth_code)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		c.ID, c.ClientID, c.ClientSecretHash, c.Type, c.AllowedRedirectURIs, c.AllowedScopes, c.AllowedGrantTypes,
		c.RequireConsent, c.RequirePKCE, int64(c.AccessTokenTTL.Seconds()), int64(c.RefreshTokenTTL.Seconds()),
		c.AllowRefreshTokenOnAuthCode,
	)
	if err != nil {
		var pgErr interface{ SQLState() string }
		if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
			return oauthstore.Client{}, oauthstore.ErrConflict
		}
		return oauthstore.Client{}, err
	}
	return c, nil
}

// --- Authorization codes ---

func (s *Store) CreateAuthorizationCode(ctx context.Context, c oauthstore.AuthorizationCode) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO authorization_codes (id, code_hash, client_id, user_id, redirect_uri, scope, nonce,
		                                   code_challenge, code_challenge_method, expires_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.ID, c.CodeHash, c.ClientID, c.UserID, c.RedirectURI, c.Scope, c.Nonce, c.CodeChallenge, c.CodeChallengeMethod, c.ExpiresAt,
	)
	if err != nil {
		var pgErr interface{ SQLState() string }
		if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
			return oauthstore.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetAuthorizationCodeByHash(ctx context.Context, hash string) (oauthstore.AuthorizationCode, error) {
	var c oauthstore.AuthorizationCode
	err := s.pool.QueryRow(ctx,
		`SELECT id, code_hash, client_id, user_id, redirect_uri, scope, nonce, code_challenge, code_challenge_method,
		        expires_at, used, created_at
		 FROM authorization_codes WHERE code_hash = $1`, hash,
	).Scan(&c.ID, &c.CodeHash, &c.ClientID, &c.UserID, &c.RedirectURI, &c.Scope, &c.Nonce, &c.CodeChallenge,
		&c.CodeChallengeMethod, &c.ExpiresAt, &c.Used, &c.CreatedAt)
	return c, mapErr(err)
}

func (s *Store) MarkAuthorizationCodeUsed(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE authorization_codes SET used = true WHERE id = $1 AND used = false`, id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// --- Access tokens ---

func (s *Store) CreateAccessToken(ctx context.Context, t oauthstore.AccessToken) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO access_tokens (id, token_hash, client_id, user_id, scope, expires_at, chain_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.ID, t.TokenHash, t.ClientID, t.UserID, t.Scope, t.ExpiresAt, t.ChainID,
	)
	return err
}

func (s *Store) GetAccessTokenByHash(ctx context.Context, hash string) (oauthstore.AccessToken, error) {
	var t oauthstore.AccessToken
	err := s.pool.QueryRow(ctx,
		`SELECT id, token_hash, client_id, user_id, scope, expires_at, revoked, chain_id
		 FROM access_tokens WHERE token_hash = $1`, hash,
	).Scan(&t.ID, &t.TokenHash, &t.ClientID, &t.UserID, &t.Scope, &t.ExpiresAt, &t.Revoked, &t.ChainID)
	return t, mapErr(err)
}

func (s *Store) RevokeAccessToken(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE access_tokens SET revoked = true WHERE id = $1`, id)
	return err
}

func (s *Store) RevokeAccessTokensByUserClient(ctx context.Context, userID uuid.UUID, clientID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE access_tokens SET revoked = true WHERE client_id = $1 AND user_id = $2`, clientID, userID,
	)
	return err
}

// --- Refresh tokens ---

func (s *Store) CreateRefreshToken(ctx context.Context, t oauthstore.RefreshToken) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO refresh_tokens (id, token_hash, client_id, user_id, scope, expires_at, predecessor_id, chain_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.TokenHash, t.ClientID, t.UserID, t.Scope, t.ExpiresAt, t.PredecessorID, t.ChainID,
	)
	return err
}

func (s *Store) GetRefreshTokenByHash(ctx context.Context, hash string) (oauthstore.RefreshToken, error) {
	var t oauthstore.RefreshToken
	err := s.pool.QueryRow(ctx,
		`SELECT id, token_hash, client_id, user_id, scope, expires_at, revoked, predecessor_id, rotated_to_id, chain_id, created_at
		 FROM refresh_tokens WHERE token_hash = $1`, hash,
	).Scan(&t.ID, &t.TokenHash, &t.ClientID, &t.UserID, &t.Scope, &t.ExpiresAt, &t.Revoked, &t.PredecessorID, &t.RotatedToID, &t.ChainID, &t.CreatedAt)
	return t, mapErr(err)
}

func (s *Store) RotateRefreshToken(ctx context.Context, oldID uuid.UUID, newToken oauthstore.RefreshToken) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var revoked bool
	err = tx.QueryRow(ctx, `SELECT revoked FROM refresh_tokens WHERE id = $1 FOR UPDATE`, oldID).Scan(&revoked)
	if err != nil {
		return false, mapErr(err)
	}
	if revoked {
		return false, nil
	}

	if newToken.ID == uuid.Nil {
		newToken.ID = uuid.New()
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO refresh_tokens (id, token_hash, client_id, user_id, scope, expires_at, predecessor_id, chain_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		newToken.ID, newToken.TokenHash, newToken.ClientID, newToken.UserID, newToken.Scope, newToken.ExpiresAt, oldID, newToken.ChainID,
	)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true, rotated_to_id = $1 WHERE id = $2 AND revoked = false`,
		newToken.ID, oldID,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	return true, tx.Commit(ctx)
}

func (s *Store) RevokeRefreshToken(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE refresh_tokens SET revoked = true WHERE id = $1`, id)
	return err
}

func (s *Store) RevokeChain(ctx context.Context, chainID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE refresh_tokens SET revoked = true WHERE chain_id = $1`, chainID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `UPDATE access_tokens SET revoked = true WHERE chain_id = $1`, chainID)
	return err
}

func (s *Store) RevokeRefreshTokensByUserClient(ctx context.Context, userID uuid.UUID, clientID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true WHERE client_id = $1 AND user_id = $2`, clientID, userID,
	)
	return err
}

func (s *Store) RevokeTokensByChain(ctx context.Context, chainID uuid.UUID) error {
	return s.RevokeChain(ctx, chainID)
}

// --- Consent ---

func (s *Store) GetConsent(ctx context.Context, userID uuid.UUID, clientID string) (oauthstore.ConsentGrant, bool, error) {
	var g oauthstore.ConsentGrant
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, client_id, scopes, expires_at FROM consent_grants WHERE user_id = $1 AND client_id = $2`,
		userID, clientID,
	).Scan(&g.UserID, &g.ClientID, &g.Scopes, &g.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return oauthstore.ConsentGrant{}, false, nil
	}
	if err != nil {
		return oauthstore.ConsentGrant{}, false, err
	}
	return g, true, nil
}

func (s *Store) UpsertConsent(ctx context.Context, grant oauthstore.ConsentGrant) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var existingScopes []string
	var existingExpiry time.Time
	err = tx.QueryRow(ctx,
		`SELECT scopes, expires_at FROM consent_grants WHERE user_id = $1 AND client_id = $2 FOR UPDATE`,
		grant.UserID, grant.ClientID,
	).Scan(&existingScopes, &existingExpiry)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if err == nil && existingExpiry.After(time.Now()) {
		union := make(map[string]struct{})
		for _, sc := range existingScopes {
			union[sc] = struct{}{}
		}
		for _, sc := range grant.Scopes {
			union[sc] = struct{}{}
		}
		merged := make([]string, 0, len(union))
		for sc := range union {
			merged = append(merged, sc)
		}
		grant.Scopes = merged
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO consent_grants (user_id, client_id, scopes, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, client_id) DO UPDATE SET scopes = $3, expires_at = $4`,
		grant.UserID, grant.ClientID, grant.Scopes, grant.ExpiresAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) RevokeConsent(ctx context.Context, userID uuid.UUID, clientID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM consent_grants WHERE user_id = $1 AND client_id = $2`, userID, clientID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE access_tokens SET revoked = true WHERE user_id = $1 AND client_id = $2`, userID, clientID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE refresh_tokens SET revoked = true WHERE user_id = $1 AND client_id = $2`, userID, clientID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- RBAC ---

func (s *Store) GetUserPermissions(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT p.name
		 FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 JOIN user_roles ur ON ur.role_id = rp.role_id
		 WHERE ur.user_id = $1`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) CreateRole(ctx context.Context, r oauthstore.Role) (oauthstore.Role, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO roles (id, name) VALUES ($1, $2)`, r.ID, r.Name)
	return r, err
}

func (s *Store) CreatePermission(ctx context.Context, p oauthstore.Permission) (oauthstore.Permission, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO permissions (id, name) VALUES ($1, $2)`, p.ID, p.Name)
	return p, err
}

func (s *Store) GrantRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		roleID, permissionID,
	)
	return err
}

func (s *Store) AssignUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, roleID,
	)
	return err
}

func (s *Store) RevokeUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	return err
}

func (s *Store) UsersWithRole(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM user_roles WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// --- Sessions ---

func (s *Store) CreateSession(ctx context.Context, sess oauthstore.Session) error {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, token_hash, user_id, auth_time, expires_at) VALUES ($1,$2,$3,$4,$5)`,
		sess.ID, sess.TokenHash, sess.UserID, sess.AuthTime, sess.ExpiresAt,
	)
	return err
}

func (s *Store) GetSessionByHash(ctx context.Context, hash string) (oauthstore.Session, error) {
	var sess oauthstore.Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, token_hash, user_id, auth_time, expires_at FROM sessions WHERE token_hash = $1`, hash,
	).Scan(&sess.ID, &sess.TokenHash, &sess.UserID, &sess.AuthTime, &sess.ExpiresAt)
	return sess, mapErr(err)
}

var _ oauthstore.Store = (*Store)(nil)
