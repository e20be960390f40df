package wire

import "errors"

// BlockSize is the block width PKCS#7 padding is computed over (Blowfish's
// 8-byte block), independent of any particular cipher package.
const BlockSize = 8

// ErrBadPadding is returned by RemovePKCS7 when the trailing padding bytes
// are not a valid PKCS#7 pad for BlockSize.
var ErrBadPadding = errors.New("wire: invalid PKCS#7 padding")

// PadPKCS7 appends between 1 and BlockSize padding bytes so the result is a
// multiple of BlockSize, each byte holding the pad length.
func PadPKCS7(b []byte) []byte {
	pad := BlockSize - (len(b) % BlockSize)
	out := make([]byte, len(b)+pad)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

// RemovePKCS7 validates and strips PKCS#7 padding. It rejects inputs that
// are not a multiple of BlockSize, empty inputs, a trailing pad value of 0
// or greater than BlockSize, or a trailing run that isn't entirely that pad
// value.
func RemovePKCS7(b []byte) ([]byte, error) {
	if len(b) == 0 || len(b)%BlockSize != 0 {
		return nil, ErrBadPadding
	}
	pad := int(b[len(b)-1])
	if pad < 1 || pad > BlockSize {
		return nil, ErrBadPadding
	}
	if pad > len(b) {
		return nil, ErrBadPadding
	}
	for _, c := range b[len(b)-pad:] {
		if int(c) != pad {
			return nil, ErrBadPadding
		}
	}
	return b[:len(b)-pad], nil
}
