package delivery

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// NewMessageID generates a random message_id convenience value for callers
// that don't have a host-assigned id handy (spec.md §3 leaves message_id
// assignment to the host; this is the default assignment strategy). It
// folds a fresh random UUIDv4 down to 8 bytes rather than truncating, so
// both halves of the UUID's entropy contribute to the result.
func NewMessageID() uint64 {
	id := uuid.New()
	hi := binary.BigEndian.Uint64(id[0:8])
	lo := binary.BigEndian.Uint64(id[8:16])
	return hi ^ lo
}
