// Package wire implements the CORE packet codec and small binary helpers
// shared by the transport, delivery, and encryption layers.
package wire

import (
	"encoding/binary"
	"errors"
)

// Packet kinds carried on the wire. Reserved values are left for future
// fragment-metadata packets; Transport only recognizes the three below.
const (
	KindNewMessage byte = 16
	KindAck        byte = 17
	KindFileUpload byte = 18
)

// Version is the only wire version this module emits or accepts.
const Version byte = 1

// headerLen is the fixed prefix before the payload: version(1) + kind(1) + id(8).
const headerLen = 10

// HeaderLen exports headerLen for callers (e.g. Delivery) that need to
// compute a fragment size budget from a probed MTU.
const HeaderLen = headerLen

// ErrMalformedPacket is returned by Deserialize when the input is too short
// or carries an unsupported version. It is not surfaced to the host; callers
// drop the inbound bytes silently per spec.
var ErrMalformedPacket = errors.New("wire: no packet")

// Packet is the wire unit carried in one ICMP payload.
type Packet struct {
	Version byte
	Kind    byte
	ID      uint64
	Payload []byte
}

// NewPacket builds a Packet with the fixed current Version.
func NewPacket(kind byte, id uint64, payload []byte) Packet {
	return Packet{Version: Version, Kind: kind, ID: id, Payload: payload}
}

// Serialize encodes p into its wire representation.
func Serialize(p Packet) []byte {
	out := make([]byte, headerLen+len(p.Payload))
	out[0] = p.Version
	out[1] = p.Kind
	binary.BigEndian.PutUint64(out[2:10], p.ID)
	copy(out[headerLen:], p.Payload)
	return out
}

// Deserialize decodes b into a Packet. It fails with ErrMalformedPacket when
// b is shorter than the fixed header or carries a version other than 1.
func Deserialize(b []byte) (Packet, error) {
	if len(b) < headerLen {
		return Packet{}, ErrMalformedPacket
	}
	if b[0] != Version {
		return Packet{}, ErrMalformedPacket
	}
	p := Packet{
		Version: b[0],
		Kind:    b[1],
		ID:      binary.BigEndian.Uint64(b[2:10]),
	}
	if n := len(b) - headerLen; n > 0 {
		p.Payload = make([]byte, n)
		copy(p.Payload, b[headerLen:])
	}
	return p, nil
}
