package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/blowfish"

	"github.com/malbeclabs/icmpmsgr/internal/wire"
)

// SymmetricKeySize is the fixed 128-bit Blowfish key length spec.md §4.3
// requires.
const SymmetricKeySize = 16

// ivSize is Blowfish's block size, and so the CBC IV size.
const ivSize = wire.BlockSize

// Symmetric is the shared-secret Blowfish-CBC Cipher from spec.md §4.3.
// Encrypt output is iv || ciphertext; a fresh IV is drawn from a CSPRNG on
// every call so repeated encryptions of the same plaintext differ.
type Symmetric struct {
	key [SymmetricKeySize]byte
}

// NewSymmetric builds a Symmetric cipher from a raw 16-byte key.
func NewSymmetric(key []byte) (*Symmetric, error) {
	if len(key) != SymmetricKeySize {
		return nil, fmt.Errorf("encryption: symmetric key must be %d bytes, got %d", SymmetricKeySize, len(key))
	}
	var s Symmetric
	copy(s.key[:], key)
	return &s, nil
}

// NewSymmetricFromHex builds a Symmetric cipher from a hex-encoded key,
// rejecting odd-length or non-hex input via wire.FromHex.
func NewSymmetricFromHex(hexKey string) (*Symmetric, error) {
	key, err := wire.FromHex(hexKey)
	if err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}
	return NewSymmetric(key)
}

// Encrypt PKCS#7-pads plain to a Blowfish block multiple, CBC-encrypts it
// under a fresh random IV, and returns iv || ciphertext.
func (s *Symmetric) Encrypt(plain []byte) ([]byte, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("encryption: generate iv: %w", err)
	}
	return s.encryptWithIV(plain, iv)
}

func (s *Symmetric) encryptWithIV(plain, iv []byte) ([]byte, error) {
	block, err := blowfish.NewCipher(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}
	padded := wire.PadPKCS7(plain)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, len(iv)+len(ciphertext))
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt splits the leading IV, CBC-decrypts the remainder, and validates
// PKCS#7 padding. Any malformed input (too short, bad block alignment, bad
// padding) yields ErrDecryption.
func (s *Symmetric) Decrypt(in []byte) ([]byte, error) {
	if len(in) < ivSize {
		return nil, ErrDecryption
	}
	iv := in[:ivSize]
	ciphertext := in[ivSize:]
	if len(ciphertext) == 0 || len(ciphertext)%wire.BlockSize != 0 {
		return nil, ErrDecryption
	}

	block, err := blowfish.NewCipher(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plain, err := wire.RemovePKCS7(padded)
	if err != nil {
		return nil, ErrDecryption
	}
	return plain, nil
}

// EncryptionKey returns the raw symmetric key, for operator display only.
func (s *Symmetric) EncryptionKey() []byte {
	return append([]byte(nil), s.key[:]...)
}
