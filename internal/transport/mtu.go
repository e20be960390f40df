package transport

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync/atomic"
)

// mtuState is MtuState from spec.md §3: the largest payload size known to
// survive the path, updated once per successful probe reply. The id of the
// outstanding probe is tracked by Transport (Transport.probeID); the probeID
// field here is never set.
type mtuState struct {
	probeID     uint32
	currentSize int64 // atomic; bytes
}

func newMTUState() *mtuState {
	return &mtuState{currentSize: InitialMTU}
}

// CurrentSize returns the most recently probed (or default) usable ICMP
// payload size.
func (m *mtuState) CurrentSize() int {
	return int(atomic.LoadInt64(&m.currentSize))
}

func (m *mtuState) setCurrentSize(n int) {
	atomic.StoreInt64(&m.currentSize, int64(n))
}

// buildProbePayload constructs the one-shot MTU probe payload: the ASCII
// marker, a 12-digit zero-padded decimal probe id, a single 0x01 byte, and
// zero padding out to ProbePayloadTotal bytes.
func buildProbePayload(probeID uint32) []byte {
	body := fmt.Sprintf("%s%0*d\x01", probeMagic, probeIDDigits, probeID)
	out := make([]byte, ProbePayloadTotal)
	copy(out, body)
	return out
}

// matchProbeReply reports whether payload is an echo reply to our
// outstanding probe (magic prefix + our exact probe id), and if so returns
// its total length — the value MtuState.current_size should become.
func matchProbeReply(payload []byte, wantProbeID uint32) (size int, ok bool) {
	prefixLen := len(probeMagic) + probeIDDigits
	if len(payload) < prefixLen {
		return 0, false
	}
	if string(payload[:len(probeMagic)]) != probeMagic {
		return 0, false
	}
	idStr := string(payload[len(probeMagic):prefixLen])
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return 0, false
	}
	if uint32(id) != wantProbeID {
		return 0, false
	}
	return len(payload), true
}

// randomProbeID draws a fresh probe id from a CSPRNG; collisions only
// matter within the single in-flight probe's lifetime.
func randomProbeID() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}
