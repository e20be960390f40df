package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/icmpmsgr/internal/link"
	"github.com/malbeclabs/icmpmsgr/internal/wire"
)

// fakeLink is an in-memory link.Link for tests: Send records every call and
// optionally drops the first N sends of each distinct payload to simulate
// loss; inbound delivery is driven explicitly via deliver().
type fakeLink struct {
	mu        sync.Mutex
	sent      []sentCall
	inbound   link.InboundFunc
	failAll   bool
	dropFirst map[uint64]bool // packet id -> whether its first send was dropped already
}

type sentCall struct {
	dst     net.IP
	payload []byte
}

func newFakeLink() *fakeLink { return &fakeLink{dropFirst: map[uint64]bool{}} }

func (f *fakeLink) Send(dst net.IP, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errSendBlocked
	}
	f.sent = append(f.sent, sentCall{dst: dst, payload: append([]byte(nil), payload...)})
	return nil
}

func (f *fakeLink) SetInbound(fn link.InboundFunc) { f.inbound = fn }

func (f *fakeLink) deliver(payload []byte, src net.IP, kind link.Kind) {
	f.inbound(payload, src, kind)
}

func (f *fakeLink) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

var errSendBlocked = errors.New("fakeLink: send blocked")

func TestTransport_SendPacket_InsertsBeforeSend_RollsBackOnFailure(t *testing.T) {
	t.Parallel()
	fl := newFakeLink()
	fl.failAll = true
	tr, err := New(Config{Link: fl, AcceptPeers: []net.IP{net.IPv4(10, 0, 0, 2)}, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	defer tr.Close()

	p := wire.NewPacket(wire.KindNewMessage, 1, []byte("hi"))
	err = tr.SendPacket(net.IPv4(10, 0, 0, 2), p)
	require.ErrorIs(t, err, ErrSendFailed)
	require.Equal(t, 0, tr.QueueSize(), "failed send must roll back the AckTable insert")
}

func TestTransport_SourceFiltering_DropsUnacceptedPeers(t *testing.T) {
	t.Parallel()
	fl := newFakeLink()
	tr, err := New(Config{Link: fl, AcceptPeers: []net.IP{net.IPv4(10, 0, 0, 2)}, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	defer tr.Close()

	p := wire.NewPacket(wire.KindNewMessage, 99, []byte("payload"))
	fl.deliver(wire.Serialize(p), net.IPv4(10, 0, 0, 99), link.KindEchoRequest)

	select {
	case ev := <-tr.Events():
		t.Fatalf("unexpected event from unaccepted peer: %#v", ev)
	case <-time.After(20 * time.Millisecond):
	}
	require.Equal(t, 0, fl.sentCount(), "no ack should be sent for a filtered source")
}

func TestTransport_InboundNewMessage_EmitsAndAcks(t *testing.T) {
	t.Parallel()
	fl := newFakeLink()
	peer := net.IPv4(10, 0, 0, 2)
	tr, err := New(Config{Link: fl, AcceptPeers: []net.IP{peer}, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	defer tr.Close()

	p := wire.NewPacket(wire.KindNewMessage, 55, []byte("payload"))
	fl.deliver(wire.Serialize(p), peer, link.KindEchoRequest)

	ev := <-tr.Events()
	msg, ok := ev.(InboundMessage)
	require.True(t, ok)
	require.Equal(t, uint64(55), msg.ID)
	require.Equal(t, []byte("payload"), msg.Payload)

	require.Eventually(t, func() bool { return fl.sentCount() == 1 }, time.Second, time.Millisecond)
}

func TestTransport_OwnSendEchoedBack_DroppedSilently(t *testing.T) {
	t.Parallel()
	fl := newFakeLink()
	peer := net.IPv4(10, 0, 0, 2)
	tr, err := New(Config{Link: fl, AcceptPeers: []net.IP{peer}, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	defer tr.Close()

	p := wire.NewPacket(wire.KindNewMessage, 7, []byte("mine"))
	require.NoError(t, tr.SendPacket(peer, p))

	fl.deliver(wire.Serialize(p), peer, link.KindEchoRequest)

	select {
	case ev := <-tr.Events():
		t.Fatalf("unexpected event for echoed-back own send: %#v", ev)
	case <-time.After(20 * time.Millisecond):
	}
	require.Equal(t, 1, tr.QueueSize(), "own packet must remain pending, not acked by its own echo")
}

func TestTransport_Ack_RemovesPendingAndIsIdempotent(t *testing.T) {
	t.Parallel()
	fl := newFakeLink()
	peer := net.IPv4(10, 0, 0, 2)
	tr, err := New(Config{Link: fl, AcceptPeers: []net.IP{peer}, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	defer tr.Close()

	p := wire.NewPacket(wire.KindNewMessage, 7, []byte("mine"))
	require.NoError(t, tr.SendPacket(peer, p))

	ack := wire.NewPacket(wire.KindAck, 7, nil)
	fl.deliver(wire.Serialize(ack), peer, link.KindEchoRequest)

	ev := <-tr.Events()
	require.Equal(t, Ack{ID: 7}, ev)
	require.Equal(t, 0, tr.QueueSize())

	// Duplicate ack: no second event, table stays empty.
	fl.deliver(wire.Serialize(ack), peer, link.KindEchoRequest)
	select {
	case ev := <-tr.Events():
		t.Fatalf("duplicate ack produced an event: %#v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestTransport_RetryLoop_Retransmits(t *testing.T) {
	t.Parallel()
	fl := newFakeLink()
	peer := net.IPv4(10, 0, 0, 2)
	clock := clockwork.NewFakeClock()
	tr, err := New(Config{Link: fl, AcceptPeers: []net.IP{peer}, Clock: clock})
	require.NoError(t, err)
	defer tr.Close()

	p := wire.NewPacket(wire.KindNewMessage, 3, []byte("x"))
	require.NoError(t, tr.SendPacket(peer, p))
	require.Equal(t, 1, fl.sentCount())

	clock.BlockUntil(1)
	clock.Advance(RetryTick)
	clock.BlockUntil(1)
	// One tick isn't enough: RetryTimeout (15s) hasn't elapsed yet.
	require.Equal(t, 1, fl.sentCount())

	clock.Advance(RetryTimeout)
	clock.BlockUntil(1)
	require.Eventually(t, func() bool { return fl.sentCount() == 2 }, time.Second, time.Millisecond)
}

func TestTransport_AdmissionCap_WaitForQueueBlocksAtMaxInflight(t *testing.T) {
	t.Parallel()
	fl := newFakeLink()
	peer := net.IPv4(10, 0, 0, 2)
	clock := clockwork.NewFakeClock()
	tr, err := New(Config{Link: fl, AcceptPeers: []net.IP{peer}, Clock: clock})
	require.NoError(t, err)
	defer tr.Close()

	for i := uint64(0); i < MaxInflight; i++ {
		require.NoError(t, tr.SendPacket(peer, wire.NewPacket(wire.KindNewMessage, i+1, nil)))
	}
	require.Equal(t, MaxInflight, tr.QueueSize())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = tr.WaitForQueue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded, "queue at MaxInflight must block wait_for_queue")
}

func TestTransport_MTUProbe_UpdatesOnMatchingReply(t *testing.T) {
	t.Parallel()
	fl := newFakeLink()
	peer := net.IPv4(10, 0, 0, 2)
	tr, err := New(Config{Link: fl, AcceptPeers: []net.IP{peer}, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	defer tr.Close()

	require.Equal(t, InitialMTU, tr.CurrentMTU())
	require.NoError(t, tr.ProbeMTU(peer))

	sentPayload := fl.sent[len(fl.sent)-1].payload
	reply := sentPayload[:1400]
	fl.deliver(reply, peer, link.KindEchoReply)

	require.Eventually(t, func() bool { return tr.CurrentMTU() == 1400 }, time.Second, time.Millisecond)
}
