package delivery

import (
	"encoding/binary"
	"errors"
)

// fragmentHeaderLen is the fixed prefix within a packet payload, below
// Transport's own wire framing, per spec.md §4.2:
// logical_message_id(8) + total_fragments(4) + fragment_index(4).
const fragmentHeaderLen = 16

// ErrMalformedFragment is returned by parseFragment on a payload too short
// to contain the fixed fragment header.
var ErrMalformedFragment = errors.New("delivery: malformed fragment")

type fragment struct {
	messageID     uint64
	totalFragments uint32
	fragmentIndex  uint32
	chunk          []byte
}

func frameFragment(f fragment) []byte {
	out := make([]byte, fragmentHeaderLen+len(f.chunk))
	binary.BigEndian.PutUint64(out[0:8], f.messageID)
	binary.BigEndian.PutUint32(out[8:12], f.totalFragments)
	binary.BigEndian.PutUint32(out[12:16], f.fragmentIndex)
	copy(out[fragmentHeaderLen:], f.chunk)
	return out
}

func parseFragment(b []byte) (fragment, error) {
	if len(b) < fragmentHeaderLen {
		return fragment{}, ErrMalformedFragment
	}
	f := fragment{
		messageID:      binary.BigEndian.Uint64(b[0:8]),
		totalFragments: binary.BigEndian.Uint32(b[8:12]),
		fragmentIndex:  binary.BigEndian.Uint32(b[12:16]),
	}
	if n := len(b) - fragmentHeaderLen; n > 0 {
		f.chunk = make([]byte, n)
		copy(f.chunk, b[fragmentHeaderLen:])
	}
	return f, nil
}
