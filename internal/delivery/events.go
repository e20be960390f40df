package delivery

import "net"

// MessageKind distinguishes a plain text send from a file upload, carried
// through Delivery and surfaced to the Facade.
type MessageKind int

const (
	KindText MessageKind = iota
	KindFileUpload
)

// Inbound is emitted once a logical message's fragments are fully
// reassembled. Payload is still ciphertext at this layer — Facade performs
// decryption — per spec.md §4.4's data flow.
type Inbound struct {
	Kind      MessageKind
	MessageID uint64
	PeerIP    net.IP
	Payload   []byte
}

// AckProgress reports that fragments_acked advanced for an outbound
// message.
type AckProgress struct {
	MessageID uint64
	Acked     uint32
	Total     uint32
}

// Ack reports that every fragment of an outbound message has been
// acknowledged (fragments_acked == fragments_total).
type Ack struct {
	MessageID uint64
}

// SendFailed reports that a fragment of an outbound message was abandoned
// by Transport's bounded-retry supplement (SPEC_FULL.md) before being
// acked.
type SendFailed struct {
	MessageID uint64
}
