package encryption

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
)

// Hybrid is spec.md §4.3's asymmetric-wrapped-symmetric mode: a fresh
// 16-byte Blowfish key is generated per message, the message body is
// Blowfish-CBC encrypted exactly as Symmetric does, and the Blowfish key
// itself is RSA-OAEP encrypted under the peer's public key.
type Hybrid struct {
	peerPub   *rsa.PublicKey
	localPriv *rsa.PrivateKey
}

// NewHybrid builds a Hybrid cipher from PEM-encoded key material: the
// peer's RSA public key (used by Encrypt) and the local node's RSA private
// key (used by Decrypt).
func NewHybrid(peerPublicKeyPEM, localPrivateKeyPEM []byte) (*Hybrid, error) {
	peerPub, err := parsePublicKeyPEM(peerPublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("encryption: parse peer public key: %w", err)
	}
	localPriv, err := parsePrivateKeyPEM(localPrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("encryption: parse local private key: %w", err)
	}
	return &Hybrid{peerPub: peerPub, localPriv: localPriv}, nil
}

// Encrypt generates a fresh session key, Blowfish-CBC encrypts plain under
// it, RSA-OAEP wraps the session key with the peer's public key, and
// returns: u64 cipher_len (big-endian) || iv||ciphertext || wrapped_key.
func (h *Hybrid) Encrypt(plain []byte) ([]byte, error) {
	sessionKey := make([]byte, SymmetricKeySize)
	if _, err := rand.Read(sessionKey); err != nil {
		return nil, fmt.Errorf("encryption: generate session key: %w", err)
	}
	sym, err := NewSymmetric(sessionKey)
	if err != nil {
		return nil, err
	}
	body, err := sym.Encrypt(plain)
	if err != nil {
		return nil, err
	}

	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, h.peerPub, sessionKey, nil)
	if err != nil {
		return nil, fmt.Errorf("encryption: wrap session key: %w", err)
	}

	out := make([]byte, 8, 8+len(body)+len(wrappedKey))
	binary.BigEndian.PutUint64(out, uint64(len(body)))
	out = append(out, body...)
	out = append(out, wrappedKey...)
	return out, nil
}

// Decrypt parses the cipher_len prefix, RSA-OAEP decrypts the trailing
// wrapped session key with the local private key, and Blowfish-decrypts the
// body under it. Any failure (truncated input, RSA unwrap failure, bad
// padding) yields ErrDecryption.
func (h *Hybrid) Decrypt(in []byte) ([]byte, error) {
	if len(in) < 8 {
		return nil, ErrDecryption
	}
	cipherLen := binary.BigEndian.Uint64(in[:8])
	rest := in[8:]
	if cipherLen > uint64(len(rest)) {
		return nil, ErrDecryption
	}
	body := rest[:cipherLen]
	wrappedKey := rest[cipherLen:]

	sessionKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, h.localPriv, wrappedKey, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	sym, err := NewSymmetric(sessionKey)
	if err != nil {
		return nil, ErrDecryption
	}
	plain, err := sym.Decrypt(body)
	if err != nil {
		return nil, ErrDecryption
	}
	return plain, nil
}

// EncryptionKey returns the DER encoding of the local node's RSA public
// key, for operator-facing fingerprint display only (spec.md §4.3).
func (h *Hybrid) EncryptionKey() []byte {
	der, err := x509.MarshalPKIXPublicKey(&h.localPriv.PublicKey)
	if err != nil {
		return nil
	}
	return der
}

func parsePublicKeyPEM(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaPub, nil
}

func parsePrivateKeyPEM(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return rsaKey, nil
}
