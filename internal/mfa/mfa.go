// Package mfa is the second-factor service described in SPEC_FULL.md §4.18:
// TOTP enrollment and validation sitting between the credential
// authenticator and session minting. Grounded on the teacher's
// internal/auth/mfa.go, generalized off the multi-tenant account model.
package mfa

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"image/png"
	"math/big"

	"github.com/pquerna/otp/totp"
)

var (
	ErrNotEnabled  = errors.New("mfa: not enabled for this account")
	ErrInvalidCode = errors.New("mfa: invalid code")
)

// Service generates and validates TOTP secrets under a fixed issuer name,
// shown in authenticator apps alongside the account label.
type Service struct {
	issuer string
}

// New builds a Service that labels generated keys with issuer.
func New(issuer string) *Service {
	return &Service{issuer: issuer}
}

// Enrollment is the output of beginning MFA setup: a secret to persist
// (pending activation) and a QR code image for the user to scan.
type Enrollment struct {
	Secret string
	QRPNG  []byte
}

// GenerateSecret creates a new, unconfirmed TOTP secret for accountName.
func (s *Service) GenerateSecret(accountName string) (Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: accountName,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("mfa: generate key: %w", err)
	}

	img, err := key.Image(200, 200)
	if err != nil {
		return Enrollment{}, fmt.Errorf("mfa: render qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Enrollment{}, fmt.Errorf("mfa: encode qr: %w", err)
	}

	return Enrollment{Secret: key.Secret(), QRPNG: buf.Bytes()}, nil
}

// ValidateCode checks code against secret, allowing the library's default
// one-period clock skew.
func (s *Service) ValidateCode(code, secret string) bool {
	return totp.Validate(code, secret)
}

// Verify returns ErrInvalidCode on a failed match, for callers that want an
// error-returning form instead of a bool.
func (s *Service) Verify(code, secret string) error {
	if !s.ValidateCode(code, secret) {
		return ErrInvalidCode
	}
	return nil
}

const backupCodeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateBackupCodes mints count single-use recovery codes in "XXXX-XXXX"
// form, excluding visually ambiguous characters (I, O, 0, 1). Callers hash
// codes before persisting them; this package never stores anything.
func (s *Service) GenerateBackupCodes(count int) ([]string, error) {
	codes := make([]string, count)
	for i := range codes {
		raw := make([]byte, 8)
		for j := range raw {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(backupCodeCharset))))
			if err != nil {
				return nil, fmt.Errorf("mfa: rand: %w", err)
			}
			raw[j] = backupCodeCharset[n.Int64()]
		}
		codes[i] = string(raw[:4]) + "-" + string(raw[4:])
	}
	return codes, nil
}
