//go:build linux

// Package linkimpl is the concrete raw-ICMP implementation of internal/link.
// CORE never imports this package directly; spec.md §1/§6 treats send/capture
// as an external collaborator, and cmd/icmpmsgr-node is the only caller.
//
// Adapted from tools/uping's sender/listener pair: where uping runs two
// single-purpose raw sockets (a client that waits on RTT-matched replies, a
// server that manually crafts echo replies), RawLink merges both roles into
// one socket that only ever forwards payloads upward — ack/ICMP-reply
// handling belongs to internal/transport, not to the link.
package linkimpl

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/malbeclabs/icmpmsgr/internal/link"
)

// pollTimeout bounds each poll(2) wait without burning CPU in a tight loop;
// Close wakes the poll immediately through the eventfd.
const pollTimeout = 1 * time.Second

// Config configures a RawLink.
type Config struct {
	Logger *slog.Logger

	// Interface is the device name both send and capture are bound to
	// (e.g. "eth0").
	Interface string

	// SourceIP is the local IPv4 address owned by Interface; packets not
	// addressed to it are ignored by the capture loop.
	SourceIP net.IP
}

func (cfg *Config) validate() error {
	if cfg.Interface == "" {
		return fmt.Errorf("linkimpl: interface is required")
	}
	if cfg.SourceIP == nil || cfg.SourceIP.To4() == nil {
		return fmt.Errorf("linkimpl: source ip must be a valid IPv4 address")
	}
	return nil
}

// RawLink is a single raw SOCK_RAW/IPPROTO_ICMP socket shared between
// outbound sends and the inbound capture loop, satisfying link.Link.
type RawLink struct {
	log   *slog.Logger
	cfg   Config
	iface *net.Interface
	src4  net.IP

	fd int
	id uint16 // ICMP echo identifier, derived from pid
	seq uint32 // atomically incremented per outbound send

	mu      sync.Mutex // serializes writes to fd
	inbound link.InboundFunc

	efd      int // eventfd used to interrupt poll() on Close
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New opens the raw socket, pins it to cfg.Interface, and starts the
// capture loop. Call Close to release the socket.
func New(cfg Config) (*RawLink, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := RequirePrivileges(); err != nil {
		return nil, err
	}

	ifi, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("linkimpl: lookup interface %q: %w", cfg.Interface, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_ICMP)
	if err != nil {
		return nil, fmt.Errorf("linkimpl: open raw socket: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			unix.Close(fd)
		}
	}()

	if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, cfg.Interface); err != nil {
		return nil, fmt.Errorf("linkimpl: bind-to-device %q: %w", cfg.Interface, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("linkimpl: set nonblock: %w", err)
	}

	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("linkimpl: eventfd: %w", err)
	}

	l := &RawLink{
		log:   cfg.Logger,
		cfg:   cfg,
		iface: ifi,
		src4:  cfg.SourceIP.To4(),
		fd:    fd,
		id:    uint16(os.Getpid() & 0xffff),
		efd:   efd,
	}

	ok = true
	l.wg.Add(1)
	go l.captureLoop()
	return l, nil
}

// Close stops the capture loop and releases the socket.
func (l *RawLink) Close() error {
	l.stopOnce.Do(func() {
		var one [8]byte
		binary.LittleEndian.PutUint64(one[:], 1)
		unix.Write(l.efd, one[:])
	})
	l.wg.Wait()
	unix.Close(l.efd)
	return unix.Close(l.fd)
}

// SetInbound installs the callback invoked by the capture loop.
func (l *RawLink) SetInbound(fn link.InboundFunc) {
	l.mu.Lock()
	l.inbound = fn
	l.mu.Unlock()
}

// Send marshals payload as an ICMP Echo Request body and transmits it to
// dst. The kernel fills in the IPv4 header; no IP_HDRINCL is needed since
// we never spoof source or destination.
func (l *RawLink) Send(dst net.IP, payload []byte) error {
	dst4 := dst.To4()
	if dst4 == nil {
		return fmt.Errorf("linkimpl: destination must be IPv4, got %s", dst)
	}

	seq := int(atomic.AddUint32(&l.seq, 1))
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   int(l.id),
			Seq:  seq,
			Data: payload,
		},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return fmt.Errorf("linkimpl: marshal echo request: %w", err)
	}

	var sa unix.SockaddrInet4
	copy(sa.Addr[:], dst4)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := unix.Sendto(l.fd, wire, 0, &sa); err != nil {
		return fmt.Errorf("linkimpl: sendto %s: %w", dst, err)
	}
	return nil
}

// captureLoop polls the raw socket and classifies every inbound IPv4
// datagram, forwarding the ICMP payload upward via the installed callback.
func (l *RawLink) captureLoop() {
	defer l.wg.Done()

	buf := make([]byte, 65535)
	pfds := []unix.PollFd{
		{Fd: int32(l.fd), Events: unix.POLLIN},
		{Fd: int32(l.efd), Events: unix.POLLIN},
	}

	for {
		n, err := unix.Poll(pfds, int(pollTimeout/time.Millisecond))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if l.log != nil {
				l.log.Error("linkimpl: poll", "error", err)
			}
			return
		}
		if pfds[1].Revents&unix.POLLIN != 0 {
			return // Close() signaled
		}
		if n == 0 || pfds[0].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) == 0 {
			continue
		}

		nread, _, err := unix.Recvfrom(l.fd, buf, 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				continue
			}
			if l.log != nil {
				l.log.Debug("linkimpl: recvfrom", "error", err)
			}
			continue
		}

		l.dispatch(buf[:nread])
	}
}

func (l *RawLink) dispatch(pkt []byte) {
	l.mu.Lock()
	fn := l.inbound
	l.mu.Unlock()
	if fn == nil {
		return
	}
	if len(pkt) >= 20 && !net.IP(pkt[16:20]).Equal(l.src4) {
		return // not addressed to this node's SourceIP
	}

	payload, src, kind := classify(pkt)
	fn(payload, src, kind)
}

// classify strips an IPv4 header off pkt and reports the ICMP kind and
// payload, mirroring spec.md §6's recv_callback classification.
func classify(pkt []byte) (payload []byte, src net.IP, kind link.Kind) {
	if len(pkt) < 20 || pkt[0]>>4 != 4 {
		return nil, net.IPv4zero, link.KindInvalidIPLength
	}
	ihl := int(pkt[0]&0x0F) * 4
	if ihl < 20 || len(pkt) < ihl {
		return nil, net.IPv4zero, link.KindInvalidIPLength
	}
	src = net.IP(pkt[12:16]).To4()

	if pkt[9] != 1 {
		return nil, src, link.KindInvalidProtocol
	}

	icmpBytes := pkt[ihl:]
	if len(icmpBytes) < 8 {
		return nil, src, link.KindInvalidLength
	}

	msg, err := icmp.ParseMessage(1, icmpBytes)
	if err != nil {
		return nil, src, link.KindUnknown
	}

	switch body := msg.Body.(type) {
	case *icmp.Echo:
		data := append([]byte(nil), body.Data...)
		switch msg.Type {
		case ipv4.ICMPTypeEcho:
			return data, src, link.KindEchoRequest
		case ipv4.ICMPTypeEchoReply:
			return data, src, link.KindEchoReply
		default:
			return data, src, link.KindUnknown
		}
	default:
		return nil, src, link.KindUnknown
	}
}
