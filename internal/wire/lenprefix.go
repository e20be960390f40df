package wire

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned by the Read* helpers when the buffer is too
// short to contain the field being decoded.
var ErrShortBuffer = errors.New("wire: short buffer")

// PutUint16Prefixed appends a big-endian u16 length prefix followed by b.
// Used for the file-upload filename field (spec §6).
func PutUint16Prefixed(dst []byte, b []byte) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(b)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, b...)
}

// ReadUint16Prefixed reads a u16-length-prefixed slice from the front of b,
// returning the slice and the remainder of b after it.
func ReadUint16Prefixed(b []byte) (value []byte, rest []byte, err error) {
	if len(b) < 2 {
		return nil, nil, ErrShortBuffer
	}
	n := int(binary.BigEndian.Uint16(b))
	if len(b) < 2+n {
		return nil, nil, ErrShortBuffer
	}
	return b[2 : 2+n], b[2+n:], nil
}
