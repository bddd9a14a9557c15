package api

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lavente/authguard/internal/tokenengine"
)

func testSigner(t *testing.T) *tokenengine.Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der := x509.MarshalPKCS1PrivateKey(key)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})

	signer, err := tokenengine.NewSigner(string(pemBytes), "https://auth.example.com", "authguard-api", "")
	require.NoError(t, err)
	return signer
}
