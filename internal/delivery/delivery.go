// Package delivery implements the CORE fragmentation/reassembly layer from
// spec.md §4.2: split an outbound logical message into MTU-sized fragments,
// reassemble inbound fragments per (peer, message id), and convert
// per-packet Transport acks into per-message ack progress.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/icmpmsgr/internal/transport"
	"github.com/malbeclabs/icmpmsgr/internal/wire"
)

// MaxMessageSize is the 1 GiB hard cap on a logical message's plaintext (or
// ciphertext) size from spec.md §1/§3.
const MaxMessageSize = 1 << 30

// sweepInterval is how often the reassembly reaper checks for stalled
// inbound buffers. RetryTick is a convenient, already-tuned cadence.
const sweepInterval = transport.RetryTick

// defaultReassemblyTimeout is spec.md §4.2's recommendation: 5x the packet
// retry timeout with no progress.
const defaultReassemblyTimeout = 5 * transport.RetryTimeout

// ErrMessageTooBig is returned by Send when payload exceeds MaxMessageSize.
var ErrMessageTooBig = errors.New("delivery: message exceeds maximum size")

// Metrics is the optional observability sink, mirroring transport.Metrics'
// ambient-dependency shape.
type Metrics interface {
	FragmentSent()
	FragmentReassembled()
	MessageReassembled()
	ReassemblyAbandoned()
}

// Config configures a Delivery instance.
type Config struct {
	Logger            *slog.Logger
	Clock             clockwork.Clock
	Transport         *transport.Transport
	ReassemblyTimeout time.Duration // 0 -> defaultReassemblyTimeout
	Metrics           Metrics
}

// Delivery is the CORE fragmentation/reassembly actor.
type Delivery struct {
	log     *slog.Logger
	clock   clockwork.Clock
	tr      *transport.Transport
	metrics Metrics
	reassemblyTimeout time.Duration

	events chan any

	mu       sync.Mutex
	senders  map[uint64]*senderState   // message_id -> state
	byPacket map[uint64]packetRef      // transport packet id -> owning fragment
	receivers map[receiverKey]*receiverState

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type packetRef struct {
	messageID uint64
	index     uint32
}

type senderState struct {
	dst            net.IP
	fragmentsTotal uint32
	fragmentsAcked uint32
	pendingIDs     map[uint32]uint64 // fragment index -> transport packet id
}

type receiverKey struct {
	peer      string
	messageID uint64
}

type receiverState struct {
	peer          net.IP
	messageID     uint64
	kind          MessageKind
	total         uint32
	chunks        map[uint32][]byte
	lastProgress  time.Time
}

// New builds a Delivery bound to an already-running Transport.
func New(cfg Config) (*Delivery, error) {
	if cfg.Transport == nil {
		return nil, errors.New("delivery: transport is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.ReassemblyTimeout == 0 {
		cfg.ReassemblyTimeout = defaultReassemblyTimeout
	}

	d := &Delivery{
		log:               cfg.Logger,
		clock:             cfg.Clock,
		tr:                cfg.Transport,
		metrics:           cfg.Metrics,
		reassemblyTimeout: cfg.ReassemblyTimeout,
		events:            make(chan any, 64),
		senders:           make(map[uint64]*senderState),
		byPacket:          make(map[uint64]packetRef),
		receivers:         make(map[receiverKey]*receiverState),
		stopCh:            make(chan struct{}),
	}

	d.wg.Add(2)
	go d.receiveActor()
	go d.reaper()

	return d, nil
}

// Events returns the channel of upward events: Inbound, AckProgress, Ack,
// SendFailed.
func (d *Delivery) Events() <-chan any { return d.events }

// Close stops Delivery's background actors. It does not close Transport.
func (d *Delivery) Close() error {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
	return nil
}

// Send fragments payload (already-encrypted, per spec.md §4.4's data flow)
// into packets bounded by Transport.CurrentMTU() and submits each to
// Transport, blocking on admission control between sends. messageID is
// host-assigned and must be unique among concurrently in-flight sends.
func (d *Delivery) Send(ctx context.Context, dst net.IP, messageID uint64, kind MessageKind, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return ErrMessageTooBig
	}

	chunkSize := d.chunkSize()
	total := fragmentCount(len(payload), chunkSize)

	st := &senderState{dst: dst, fragmentsTotal: total, pendingIDs: make(map[uint32]uint64, total)}
	d.mu.Lock()
	d.senders[messageID] = st
	d.mu.Unlock()

	packetKind := wire.KindNewMessage
	if kind == KindFileUpload {
		packetKind = wire.KindFileUpload
	}

	for idx := uint32(0); idx < total; idx++ {
		if err := d.tr.WaitForQueue(ctx); err != nil {
			return fmt.Errorf("delivery: wait for queue: %w", err)
		}

		start := int(idx) * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		frag := fragment{messageID: messageID, totalFragments: total, fragmentIndex: idx, chunk: payload[start:end]}

		pid := transport.RandomPacketID()
		d.mu.Lock()
		st.pendingIDs[idx] = pid
		d.byPacket[pid] = packetRef{messageID: messageID, index: idx}
		d.mu.Unlock()

		p := wire.NewPacket(packetKind, pid, frameFragment(frag))
		if err := d.tr.SendPacket(dst, p); err != nil {
			return fmt.Errorf("delivery: send fragment %d/%d: %w", idx+1, total, err)
		}
		d.metrics.FragmentSent()
	}
	return nil
}

func (d *Delivery) chunkSize() int {
	n := d.tr.CurrentMTU() - wire.HeaderLen - fragmentHeaderLen
	if n < 1 {
		n = 1
	}
	return n
}

func fragmentCount(payloadLen, chunkSize int) uint32 {
	if payloadLen == 0 {
		return 1
	}
	n := (payloadLen + chunkSize - 1) / chunkSize
	return uint32(n)
}

// receiveActor is the single thread from spec.md §4.2/§5 consuming
// Transport events, reassembling inbound fragments, and translating
// per-packet acks into per-message ack progress.
func (d *Delivery) receiveActor() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case ev, ok := <-d.tr.Events():
			if !ok {
				return
			}
			d.handleTransportEvent(ev)
		}
	}
}

func (d *Delivery) handleTransportEvent(ev any) {
	switch e := ev.(type) {
	case transport.InboundMessage:
		d.handleInboundFragment(e)
	case transport.Ack:
		d.handlePacketAck(e.ID)
	case transport.Abandoned:
		d.handlePacketAbandoned(e.ID)
	}
}

func (d *Delivery) handleInboundFragment(msg transport.InboundMessage) {
	frag, err := parseFragment(msg.Payload)
	if err != nil {
		return // malformed: dropped silently, per spec.md §7
	}

	kind := KindText
	if msg.Kind == wire.KindFileUpload {
		kind = KindFileUpload
	}

	key := receiverKey{peer: msg.SrcIP.String(), messageID: frag.messageID}
	d.mu.Lock()
	rs, ok := d.receivers[key]
	if !ok {
		rs = &receiverState{
			peer:      msg.SrcIP,
			messageID: frag.messageID,
			kind:      kind,
			total:     frag.totalFragments,
			chunks:    make(map[uint32][]byte),
		}
		d.receivers[key] = rs
	}
	if _, dup := rs.chunks[frag.fragmentIndex]; !dup {
		rs.lastProgress = d.clock.Now()
		rs.chunks[frag.fragmentIndex] = frag.chunk
		d.metrics.FragmentReassembled()
	}
	complete := uint32(len(rs.chunks)) == rs.total
	var assembled []byte
	if complete {
		assembled = assembleChunks(rs)
		delete(d.receivers, key)
	}
	d.mu.Unlock()

	if complete {
		d.metrics.MessageReassembled()
		d.events <- Inbound{Kind: kind, MessageID: frag.messageID, PeerIP: msg.SrcIP, Payload: assembled}
	}
}

func assembleChunks(rs *receiverState) []byte {
	var total int
	for _, c := range rs.chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for i := uint32(0); i < rs.total; i++ {
		out = append(out, rs.chunks[i]...)
	}
	return out
}

func (d *Delivery) handlePacketAck(packetID uint64) {
	d.mu.Lock()
	ref, ok := d.byPacket[packetID]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.byPacket, packetID)
	st, ok := d.senders[ref.messageID]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(st.pendingIDs, ref.index)
	st.fragmentsAcked++
	acked, total := st.fragmentsAcked, st.fragmentsTotal
	if acked == total {
		delete(d.senders, ref.messageID)
	}
	d.mu.Unlock()

	d.events <- AckProgress{MessageID: ref.messageID, Acked: acked, Total: total}
	if acked == total {
		d.events <- Ack{MessageID: ref.messageID}
	}
}

func (d *Delivery) handlePacketAbandoned(packetID uint64) {
	d.mu.Lock()
	ref, ok := d.byPacket[packetID]
	if ok {
		delete(d.byPacket, packetID)
		delete(d.senders, ref.messageID)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	d.events <- SendFailed{MessageID: ref.messageID}
}

// reaper implements spec.md §4.2's recommended reassembly timeout: drop a
// fragment buffer that has made no progress for ReassemblyTimeout.
func (d *Delivery) reaper() {
	defer d.wg.Done()
	ticker := d.clock.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.Chan():
			d.sweep()
		}
	}
}

func (d *Delivery) sweep() {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, rs := range d.receivers {
		if now.Sub(rs.lastProgress) > d.reassemblyTimeout {
			delete(d.receivers, key)
			d.metrics.ReassemblyAbandoned()
			if d.log != nil {
				d.log.Warn("delivery: dropping stalled reassembly", "peer", rs.peer, "message_id", rs.messageID)
			}
		}
	}
}

type noopMetrics struct{}

func (noopMetrics) FragmentSent()         {}
func (noopMetrics) FragmentReassembled()  {}
func (noopMetrics) MessageReassembled()   {}
func (noopMetrics) ReassemblyAbandoned()  {}
