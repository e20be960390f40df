// Package transport implements the CORE reliable-channel layer from
// spec.md §4.1: packet codec (delegated to internal/wire), an ack table
// with a retry loop, outbound admission control, peer source filtering,
// and one-shot MTU probing.
package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/icmpmsgr/internal/link"
	"github.com/malbeclabs/icmpmsgr/internal/wire"
)

// ErrSendFailed is returned by SendPacket when Link refused the packet.
var ErrSendFailed = errors.New("transport: send failed")

// Metrics is the optional observability sink CORE reports through. A nil
// Metrics is valid; Transport no-ops in that case. Keeping this as a small
// local interface (rather than importing the prometheus client directly)
// keeps CORE free of a hard dependency on the metrics backend, per
// SPEC_FULL.md's ambient-stack note.
type Metrics interface {
	PacketSent()
	PacketRetried()
	PacketAcked()
	PacketAbandoned()
	QueueDepth(n int)
}

// Config configures a Transport instance.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock // defaults to clockwork.NewRealClock()
	Link   link.Link        // required
	Metrics Metrics

	// AcceptPeers is the PeerAcceptSet: inbound packets from any other
	// source are dropped silently.
	AcceptPeers []net.IP

	// MaxRetries bounds retransmission (SPEC_FULL.md supplement). 0 (the
	// default) matches spec.md's original unbounded behavior.
	MaxRetries int
}

func (c *Config) validate() error {
	if c.Link == nil {
		return errors.New("transport: link is required")
	}
	if len(c.AcceptPeers) == 0 {
		return errors.New("transport: at least one accept peer is required")
	}
	if c.MaxRetries < 0 {
		return errors.New("transport: max retries must be >= 0")
	}
	return nil
}

// Transport is the CORE reliable-channel actor described in spec.md §4.1.
type Transport struct {
	log     *slog.Logger
	clock   clockwork.Clock
	link    link.Link
	metrics Metrics

	accept map[string]struct{}
	table  *ackTable
	mtu    *mtuState

	probeMu      sync.Mutex
	probeID      uint32
	probeWaiting bool

	maxRetries int

	events chan any

	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New builds a Transport, wires it to Link's inbound callback, and starts
// the background retry actor. It does not perform the MTU probe — call
// ProbeMTU explicitly once a peer to probe against is known, mirroring
// spec.md's "on construction, one synthetic echo request is transmitted"
// being a distinct, fallible step from construction itself.
func New(cfg Config) (*Transport, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	accept := make(map[string]struct{}, len(cfg.AcceptPeers))
	for _, ip := range cfg.AcceptPeers {
		v4 := ip.To4()
		if v4 == nil {
			return nil, fmt.Errorf("transport: accept peer %s is not IPv4", ip)
		}
		accept[v4.String()] = struct{}{}
	}

	t := &Transport{
		log:        cfg.Logger,
		clock:      cfg.Clock,
		link:       cfg.Link,
		metrics:    cfg.Metrics,
		accept:     accept,
		table:      newAckTable(cfg.Clock),
		mtu:        newMTUState(),
		maxRetries: cfg.MaxRetries,
		events:     make(chan any, 64),
		stopCh:     make(chan struct{}),
	}

	t.link.SetInbound(t.onInbound)

	t.wg.Add(1)
	go t.retryLoop()

	return t, nil
}

// Events returns the channel of upward events: InboundMessage, Ack, and
// Abandoned values.
func (t *Transport) Events() <-chan any { return t.events }

// CurrentMTU returns MtuState.current_size.
func (t *Transport) CurrentMTU() int { return t.mtu.CurrentSize() }

// QueueSize exposes AckTable.size() to higher layers (spec.md §3: "external
// readers observe size only through queue_size").
func (t *Transport) QueueSize() int { return t.table.size() }

// SendPacket implements spec.md §4.1's send_packet: insert into the
// AckTable *before* calling Link.Send (the ordering invariant in spec.md
// §5) — for dst, since a raw ICMP send needs an explicit destination and
// spec.md §1 allows "one (or more) configured peers" — rolling the
// insertion back and returning ErrSendFailed if the send itself fails.
func (t *Transport) SendPacket(dst net.IP, p wire.Packet) error {
	t.table.insert(p, dst)
	t.metrics.QueueDepth(t.table.size())

	if err := t.link.Send(dst, wire.Serialize(p)); err != nil {
		t.table.remove(p.ID)
		t.metrics.QueueDepth(t.table.size())
		if t.log != nil {
			t.log.Error("transport: send failed", "id", p.ID, "dst", dst, "err", err)
		}
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	t.metrics.PacketSent()
	return nil
}

// ProbeMTU performs the one-shot path-MTU discovery from spec.md §4.1: it
// transmits a single synthetic echo request to peer and returns once sent.
// The result is observed asynchronously — a matching echo_reply updates
// CurrentMTU() — since the reply may never arrive (permission denied,
// filtered path) and spec.md requires the system continue at InitialMTU in
// that case rather than block.
func (t *Transport) ProbeMTU(peer net.IP) error {
	id := randomProbeID()
	t.probeMu.Lock()
	t.probeID = id
	t.probeWaiting = true
	t.probeMu.Unlock()

	payload := buildProbePayload(id)
	if err := t.link.Send(peer, payload); err != nil {
		if t.log != nil {
			t.log.Warn("transport: mtu probe send failed, continuing at default size", "err", err, "size", t.mtu.CurrentSize())
		}
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

func (t *Transport) pendingProbeID() (uint32, bool) {
	t.probeMu.Lock()
	defer t.probeMu.Unlock()
	return t.probeID, t.probeWaiting
}

func (t *Transport) clearPendingProbe() {
	t.probeMu.Lock()
	defer t.probeMu.Unlock()
	t.probeWaiting = false
}

// WaitForQueue blocks, polling every AdmissionPoll, until AckTable.size()
// drops below MaxInflight, implementing spec.md §4.1's outbound admission
// control: a packet admitted afterwards never takes the table past
// MaxInflight. It returns early with ctx.Err() if ctx is cancelled.
func (t *Transport) WaitForQueue(ctx context.Context) error {
	ticker := t.clock.NewTicker(AdmissionPoll)
	defer ticker.Stop()
	for t.table.size() >= MaxInflight {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
	return nil
}

// Close stops the retry actor. It does not close Link.
func (t *Transport) Close() error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
	return nil
}

// onInbound is Link's recv_callback target: classify, filter, dispatch.
func (t *Transport) onInbound(payload []byte, src net.IP, kind link.Kind) {
	v4 := src.To4()
	if v4 == nil {
		return
	}
	if _, ok := t.accept[v4.String()]; !ok {
		return
	}

	switch kind {
	case link.KindEchoReply:
		t.handleEchoReply(payload)
		return
	case link.KindEchoRequest:
		// fallthrough to packet dispatch below
	default:
		return
	}

	p, err := wire.Deserialize(payload)
	if err != nil {
		return // malformed: dropped silently per spec.md §7
	}
	if p.Version != wire.Version {
		return
	}

	switch p.Kind {
	case wire.KindNewMessage, wire.KindFileUpload:
		t.handleInboundMessage(p, v4)
	case wire.KindAck:
		t.handleAck(p.ID)
	default:
		// unrecognized kind: dropped silently
	}
}

func (t *Transport) handleInboundMessage(p wire.Packet, src net.IP) {
	if t.table.contains(p.ID) {
		// Our own send, echoed back off the wire (possible on loopback-ish
		// topologies): drop silently, do not ack ourselves.
		return
	}
	t.events <- InboundMessage{Kind: p.Kind, ID: p.ID, Payload: p.Payload, SrcIP: src}

	ack := wire.NewPacket(wire.KindAck, p.ID, nil)
	if err := t.link.Send(src, wire.Serialize(ack)); err != nil && t.log != nil {
		t.log.Error("transport: failed to send ack", "id", p.ID, "err", err)
	}
}

func (t *Transport) handleAck(id uint64) {
	if !t.table.remove(id) {
		return // duplicate ack: idempotent no-op
	}
	t.metrics.PacketAcked()
	t.metrics.QueueDepth(t.table.size())
	t.events <- Ack{ID: id}
}

func (t *Transport) handleEchoReply(payload []byte) {
	probeID, waiting := t.pendingProbeID()
	if !waiting {
		return
	}
	if size, ok := matchProbeReply(payload, probeID); ok {
		t.mtu.setCurrentSize(size)
		t.clearPendingProbe()
		if t.log != nil {
			t.log.Info("transport: mtu probe resolved", "size", size)
		}
	}
}

// retryLoop is the single background actor from spec.md §4.1/§5: wake every
// RetryTick, snapshot due entries under the AckTable lock, then retransmit
// outside the lock so a slow Link.Send never stalls ack processing.
func (t *Transport) retryLoop() {
	defer t.wg.Done()
	ticker := t.clock.NewTicker(RetryTick)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.Chan():
			t.retryPass()
		}
	}
}

func (t *Transport) retryPass() {
	due := t.table.snapshotDue(t.maxRetries)
	for _, d := range due {
		if d.abandoned {
			t.metrics.PacketAbandoned()
			t.metrics.QueueDepth(t.table.size())
			t.events <- Abandoned{ID: d.packet.ID, Retries: d.retryCount}
			if t.log != nil {
				t.log.Warn("transport: packet abandoned after max retries", "id", d.packet.ID, "retries", d.retryCount)
			}
			continue
		}
		dst, ok := t.table.destFor(d.packet.ID)
		if !ok {
			continue
		}
		if err := t.link.Send(dst, wire.Serialize(d.packet)); err != nil {
			if t.log != nil {
				t.log.Error("transport: retry send failed", "id", d.packet.ID, "err", err)
			}
			continue
		}
		t.metrics.PacketRetried()
	}
}

// RandomPacketID draws a fresh sender-chosen packet id (spec.md §3: "id:
// u64 — sender-chosen random id"), used by Delivery when it frames a
// fragment into a Packet.
func RandomPacketID() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

type noopMetrics struct{}

func (noopMetrics) PacketSent()       {}
func (noopMetrics) PacketRetried()    {}
func (noopMetrics) PacketAcked()      {}
func (noopMetrics) PacketAbandoned()  {}
func (noopMetrics) QueueDepth(int)    {}
