package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacket_RoundTrip(t *testing.T) {
	t.Parallel()
	cases := []Packet{
		NewPacket(KindNewMessage, 0, nil),
		NewPacket(KindAck, 1, []byte{}),
		NewPacket(KindFileUpload, 0xdeadbeefcafebabe, []byte("hello, world")),
		NewPacket(KindNewMessage, ^uint64(0), make([]byte, 4096)),
	}
	for _, p := range cases {
		got, err := Deserialize(Serialize(p))
		require.NoError(t, err)
		require.Equal(t, p.Version, got.Version)
		require.Equal(t, p.Kind, got.Kind)
		require.Equal(t, p.ID, got.ID)
		require.Equal(t, len(p.Payload), len(got.Payload))
		// The wire form cannot tell a nil payload from an empty one, so the
		// payload bytes are compared rather than the slice headers.
		require.True(t, bytes.Equal(p.Payload, got.Payload))
	}
}

func TestPacket_DeserializeRejectsShort(t *testing.T) {
	t.Parallel()
	for n := 0; n < headerLen; n++ {
		_, err := Deserialize(make([]byte, n))
		require.ErrorIs(t, err, ErrMalformedPacket)
	}
}

func TestPacket_DeserializeRejectsBadVersion(t *testing.T) {
	t.Parallel()
	b := Serialize(NewPacket(KindAck, 1, []byte("x")))
	b[0] = 2
	_, err := Deserialize(b)
	require.ErrorIs(t, err, ErrMalformedPacket)
}

func FuzzPacket_DeserializeNoPanic(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{1, 16, 0, 0, 0, 0, 0, 0, 0, 0})
	f.Add(make([]byte, 9))
	f.Fuzz(func(t *testing.T, b []byte) {
		_, _ = Deserialize(b)
	})
}
