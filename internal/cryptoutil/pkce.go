package cryptoutil

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

// ErrInvalid signals malformed cryptographic input (bad verifier shape, etc).
var ErrInvalid = errors.New("cryptoutil: invalid input")

// MethodS256 is the only PKCE challenge method this server accepts.
const MethodS256 = "S256"

// unreservedSet per RFC 7636 §4.1: the code_verifier character set.
func isUnreserved(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z':
		return true
	case b >= 'a' && b <= 'z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '-' || b == '.' || b == '_' || b == '~':
		return true
	default:
		return false
	}
}

// ValidVerifierShape checks the code_verifier is 43-128 chars from the
// unreserved character set, per RFC 7636.
func ValidVerifierShape(verifier string) bool {
	if len(verifier) < 43 || len(verifier) > 128 {
		return false
	}
	for i := 0; i < len(verifier); i++ {
		if !isUnreserved(verifier[i]) {
			return false
		}
	}
	return true
}

// ChallengeFromVerifier computes BASE64URL(SHA256(verifier)) with no padding.
func ChallengeFromVerifier(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCE checks a code_verifier against a stored challenge and method.
// Only S256 is accepted; "plain" and anything else is rejected.
func VerifyPKCE(verifier, challenge, method string) bool {
	if method != MethodS256 {
		return false
	}
	if !ValidVerifierShape(verifier) {
		return false
	}
	computed := ChallengeFromVerifier(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
