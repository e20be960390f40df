package transport

import "net"

// InboundMessage is emitted for a NEW_MESSAGE or FILE_UPLOAD packet that
// wasn't one of our own sends echoed back. Delivery treats Kind as the
// discriminator between a plain fragment and a file-upload fragment.
type InboundMessage struct {
	Kind    byte
	ID      uint64
	Payload []byte
	SrcIP   net.IP
}

// Ack reports that packet id has been acknowledged and removed from the
// AckTable.
type Ack struct {
	ID uint64
}

// Abandoned reports that packet id exceeded MaxRetries and was dropped from
// the AckTable without ever being acked (SPEC_FULL.md's bounded-retry
// supplement; spec.md's own retry loop never produces this).
type Abandoned struct {
	ID      uint64
	Retries int
}
