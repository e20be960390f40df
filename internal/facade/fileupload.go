package facade

import (
	"fmt"

	"github.com/malbeclabs/icmpmsgr/internal/wire"
)

// packFileUpload builds the plaintext carried above Encryption for a file
// upload (spec.md §6): a u16-big-endian length-prefixed UTF-8 filename
// followed by the raw file contents.
func packFileUpload(filename string, contents []byte) ([]byte, error) {
	if len(filename) > 1<<16-1 {
		return nil, fmt.Errorf("facade: filename too long: %d bytes", len(filename))
	}
	out := make([]byte, 0, 2+len(filename)+len(contents))
	out = wire.PutUint16Prefixed(out, []byte(filename))
	return append(out, contents...), nil
}

// unpackFileUpload splits a decrypted file-upload plaintext back into its
// filename and contents.
func unpackFileUpload(plain []byte) (filename string, contents []byte, err error) {
	name, rest, err := wire.ReadUint16Prefixed(plain)
	if err != nil {
		return "", nil, fmt.Errorf("facade: malformed file upload: %w", err)
	}
	return string(name), rest, nil
}
