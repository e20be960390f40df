package transport

import (
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/icmpmsgr/internal/wire"
)

// pendingPacket is an AckTable entry: the packet awaiting acknowledgement,
// when it was last (re)transmitted, how many times it has been resent, and
// the destination it was sent to (needed so the retry actor resends to the
// same peer).
type pendingPacket struct {
	packet   wire.Packet
	dest     net.IP
	lastSent time.Time
	retries  int
}

// ackTable is the sole piece of shared mutable state in CORE (spec.md §5):
// a single mutex guards a map from packet id to pendingPacket. It is safe
// for concurrent use by the inbound callback, the retry actor, and senders.
type ackTable struct {
	mu    sync.Mutex
	clock clockwork.Clock
	table map[uint64]*pendingPacket
}

func newAckTable(clock clockwork.Clock) *ackTable {
	return &ackTable{clock: clock, table: make(map[uint64]*pendingPacket)}
}

// insert records p as pending as of now. Callers must insert before handing
// the packet to Link.Send — see transport.go's send_packet for the ordering
// invariant this upholds.
func (t *ackTable) insert(p wire.Packet, dest net.IP) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.table[p.ID] = &pendingPacket{packet: p, dest: dest, lastSent: t.clock.Now()}
}

// destFor returns the destination recorded for a still-pending packet id.
func (t *ackTable) destFor(id uint64) (net.IP, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pp, ok := t.table[id]
	if !ok {
		return nil, false
	}
	return pp.dest, true
}

// remove deletes id from the table, reporting whether an entry was present.
// Removing an absent id is a no-op (ack idempotence).
func (t *ackTable) remove(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.table[id]; !ok {
		return false
	}
	delete(t.table, id)
	return true
}

// contains reports whether id is currently pending — used by inbound
// dispatch to distinguish "our own send echoed back" from "someone else's
// message".
func (t *ackTable) contains(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.table[id]
	return ok
}

// size returns the current AckTable occupancy; the only externally
// observable property of the table besides send/ack outcomes.
func (t *ackTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.table)
}

// dueRetry is a snapshot entry returned by snapshotDue: the packet to
// retransmit, and whether it has now exceeded maxRetries (0 = unbounded).
type dueRetry struct {
	packet     wire.Packet
	abandoned  bool
	retryCount int
}

// snapshotDue scans the table once under lock, marks every entry whose
// lastSent is older than RetryTimeout as retried now (bumping its retry
// counter), and returns the set to retransmit. Entries that have exceeded
// maxRetries (if nonzero) are removed from the table here and reported as
// abandoned instead of retransmitted, realizing the "abandon after N
// retries" escape from SPEC_FULL.md; the original leaves this unbounded
// (maxRetries == 0).
func (t *ackTable) snapshotDue(maxRetries int) []dueRetry {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	var due []dueRetry
	for id, pp := range t.table {
		if now.Sub(pp.lastSent) <= RetryTimeout {
			continue
		}
		pp.retries++
		if maxRetries > 0 && pp.retries > maxRetries {
			delete(t.table, id)
			due = append(due, dueRetry{packet: pp.packet, abandoned: true, retryCount: pp.retries})
			continue
		}
		pp.lastSent = now
		due = append(due, dueRetry{packet: pp.packet, retryCount: pp.retries})
	}
	return due
}
