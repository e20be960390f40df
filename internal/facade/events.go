package facade

import "net"

// ErrorKind is the host-facing error taxonomy from spec.md §4.4/§7.
type ErrorKind int

const (
	MessageTooBig ErrorKind = iota
	SendFailed
	EncryptionError
	DecryptionError
	ReceiveError
)

func (k ErrorKind) String() string {
	switch k {
	case MessageTooBig:
		return "MessageTooBig"
	case SendFailed:
		return "SendFailed"
	case EncryptionError:
		return "EncryptionError"
	case DecryptionError:
		return "DecryptionError"
	case ReceiveError:
		return "ReceiveError"
	default:
		return "Unknown"
	}
}

// New is a decrypted inbound text message, ready for the host.
type New struct {
	PeerIP    net.IP
	MessageID uint64
	Payload   []byte
}

// FileUpload is a decrypted, unframed inbound file upload.
type FileUpload struct {
	PeerIP    net.IP
	MessageID uint64
	Filename  string
	Payload   []byte
}

// AckProgress passes Delivery's per-fragment ack progress through unchanged.
type AckProgress struct {
	MessageID uint64
	Acked     uint32
	Total     uint32
}

// Ack reports that every fragment of an outbound message has been
// acknowledged.
type Ack struct {
	MessageID uint64
}

// Error is the host-facing error event. Decryption failures per message are
// non-fatal; ReceiveError signals the receive actor has terminated.
type Error struct {
	Kind    ErrorKind
	Message string
}
