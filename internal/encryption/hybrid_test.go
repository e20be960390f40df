package encryption

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
)

func generateTestKeypair(t *testing.T) (pubPEM, privPEM []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	privDER := x509.MarshalPKCS1PrivateKey(key)
	privPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privDER})
	return pubPEM, privPEM
}

func TestHybrid_RoundTrip(t *testing.T) {
	t.Parallel()
	alicePub, alicePriv := generateTestKeypair(t)
	bobPub, bobPriv := generateTestKeypair(t)

	alice, err := NewHybrid(bobPub, alicePriv)
	require.NoError(t, err)
	bob, err := NewHybrid(alicePub, bobPriv)
	require.NoError(t, err)

	for _, plain := range [][]byte{{}, []byte("hello bob"), bytes.Repeat([]byte{0xAB}, 5000)} {
		ct, err := alice.Encrypt(plain)
		require.NoError(t, err)
		got, err := bob.Decrypt(ct)
		require.NoError(t, err)
		require.Equal(t, plain, got)
	}
}

func TestHybrid_FreshSessionKeyPerMessage(t *testing.T) {
	t.Parallel()
	_, alicePriv := generateTestKeypair(t)
	bobPub, _ := generateTestKeypair(t)
	alice, err := NewHybrid(bobPub, alicePriv)
	require.NoError(t, err)

	a, err := alice.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)
	b, err := alice.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

// A ciphertext wrapped for Bob's key must not decrypt under a third party's
// private key, even when that party also trusts Bob's public key.
func TestHybrid_DecryptRejectsWrongPrivateKey(t *testing.T) {
	t.Parallel()
	_, alicePriv := generateTestKeypair(t)
	bobPub, _ := generateTestKeypair(t)
	_, evePriv := generateTestKeypair(t)

	alice, err := NewHybrid(bobPub, alicePriv)
	require.NoError(t, err)
	eve, err := NewHybrid(bobPub, evePriv)
	require.NoError(t, err)

	ct, err := alice.Encrypt([]byte("secret"))
	require.NoError(t, err)
	_, err = eve.Decrypt(ct)
	require.ErrorIs(t, err, ErrDecryption)
}

func TestHybrid_DecryptRejectsTruncatedInput(t *testing.T) {
	t.Parallel()
	bobPub, bobPriv := generateTestKeypair(t)
	alice, err := NewHybrid(bobPub, bobPriv)
	require.NoError(t, err)

	_, err = alice.Decrypt([]byte{0x01, 0x02, 0x03})
	require.ErrorIs(t, err, ErrDecryption)
}

func TestHybrid_EncryptionKeyIsParseableDERPublicKey(t *testing.T) {
	t.Parallel()
	bobPub, _ := generateTestKeypair(t)
	_, alicePriv := generateTestKeypair(t)
	alice, err := NewHybrid(bobPub, alicePriv)
	require.NoError(t, err)

	pub, err := x509.ParsePKIXPublicKey(alice.EncryptionKey())
	require.NoError(t, err)
	require.IsType(t, &rsa.PublicKey{}, pub)
}
