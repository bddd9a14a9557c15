package cryptoutil

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrWeak signals the RNG or hashing backend is unavailable.
var ErrWeak = errors.New("cryptoutil: weak or unavailable random source")

// PasswordHasher hashes and verifies passwords. Compare must run in constant
// time with respect to the candidate password.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// BcryptHasher implements PasswordHasher with bcrypt at cost 12, matching the
// "adaptive memory-hard, cost >= 12 equivalent" requirement.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher at the default cost (12).
func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{cost: 12}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(bytes), nil
}

// Compare reports nil on match. bcrypt's comparison is constant-time over the
// hash's own cost/salt decoding, satisfying the crypto primitives contract.
func (h *BcryptHasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// dummyHash is a precomputed bcrypt hash of a constant string used solely to
// equalise login timing when no such user exists.
const dummyHash = "$2a$12$CwTycUXWue0Thq9StjUM0uJ8zMTiOXxlyCEuN3zIzWbwGBAL5zVLu"

// VerifyDummy performs a bcrypt comparison against a fixed hash so that a
// missing-user login takes roughly the same time as a real one.
func VerifyDummy(password string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
}
