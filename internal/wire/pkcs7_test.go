package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPKCS7_RoundTrip(t *testing.T) {
	t.Parallel()
	for n := 0; n <= 1024; n++ {
		in := bytes.Repeat([]byte{0x41}, n)
		padded := PadPKCS7(in)
		require.Zero(t, len(padded)%BlockSize)
		got, err := RemovePKCS7(padded)
		require.NoError(t, err)
		require.Equal(t, in, got)
	}
}

func TestPKCS7_RejectsBadTrailingByte(t *testing.T) {
	t.Parallel()
	b := PadPKCS7([]byte("abcdefg"))
	b[len(b)-1] = 0
	_, err := RemovePKCS7(b)
	require.ErrorIs(t, err, ErrBadPadding)

	b = PadPKCS7([]byte("abcdefg"))
	b[len(b)-1] = 9
	_, err = RemovePKCS7(b)
	require.ErrorIs(t, err, ErrBadPadding)
}

func TestPKCS7_RejectsInconsistentPadding(t *testing.T) {
	t.Parallel()
	b := PadPKCS7([]byte("ab")) // pad=6
	b[len(b)-2] ^= 0xff
	_, err := RemovePKCS7(b)
	require.ErrorIs(t, err, ErrBadPadding)
}

func TestPKCS7_RejectsNonBlockMultiple(t *testing.T) {
	t.Parallel()
	_, err := RemovePKCS7(make([]byte, 5))
	require.ErrorIs(t, err, ErrBadPadding)
}

func TestHex_OddLengthRejected(t *testing.T) {
	t.Parallel()
	_, err := FromHex("abc")
	require.ErrorIs(t, err, ErrOddLength)
}

func TestHex_Decode(t *testing.T) {
	t.Parallel()
	got, err := FromHex("0001090A0F10")
	require.NoError(t, err)
	require.Equal(t, []byte{0, 1, 9, 10, 15, 16}, got)
}
