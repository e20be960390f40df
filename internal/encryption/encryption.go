// Package encryption implements the CORE encryption layer from spec.md
// §4.3: a symmetric Blowfish-CBC mode with PKCS#7 padding and a hybrid mode
// that wraps a fresh per-message Blowfish session key with RSA.
package encryption

import "errors"

// ErrDecryption is returned by Decrypt on any failure: bad padding, short
// input, or (hybrid mode) RSA unwrap failure. Callers surface this as
// Facade's DecryptionError without tearing down the receive actor.
var ErrDecryption = errors.New("encryption: decryption failed")

// Cipher is the single capability contract both concrete modes satisfy
// (spec.md §4.3).
type Cipher interface {
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	// EncryptionKey returns the DER-encoded public key for hybrid mode, or
	// the raw symmetric key otherwise. It exists purely for operator
	// display (fingerprinting), per spec.md §4.3.
	EncryptionKey() []byte
}
