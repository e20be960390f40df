// Package facade glues Encryption, Delivery, and Transport together and
// exposes the three host-facing operations from spec.md §4.4: send,
// send_file, and an incoming-event stream.
package facade

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/malbeclabs/icmpmsgr/internal/delivery"
	"github.com/malbeclabs/icmpmsgr/internal/encryption"
)

// Metrics is the optional observability sink for decrypt failures, the one
// event visible only at this layer (Encryption has no metrics dependency of
// its own).
type Metrics interface {
	DecryptFailure()
}

// Config configures a Facade bound to an already-running Delivery.
type Config struct {
	Logger   *slog.Logger
	Cipher   encryption.Cipher
	Delivery *delivery.Delivery
	Metrics  Metrics
}

// Facade is the outward-facing glue actor described in spec.md §4.4.
type Facade struct {
	log      *slog.Logger
	cipher   encryption.Cipher
	delivery *delivery.Delivery
	metrics  Metrics

	events chan any

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Facade and starts its background receive actor.
func New(cfg Config) (*Facade, error) {
	if cfg.Cipher == nil {
		return nil, errors.New("facade: cipher is required")
	}
	if cfg.Delivery == nil {
		return nil, errors.New("facade: delivery is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}

	f := &Facade{
		log:      cfg.Logger,
		cipher:   cfg.Cipher,
		delivery: cfg.Delivery,
		metrics:  cfg.Metrics,
		events:   make(chan any, 64),
		stopCh:   make(chan struct{}),
	}

	f.wg.Add(1)
	go f.receiveActor()

	return f, nil
}

// Events returns the upward stream: New, FileUpload, AckProgress, Ack,
// Error.
func (f *Facade) Events() <-chan any { return f.events }

// EncryptionKey returns the underlying Cipher's key material, for operator
// display.
func (f *Facade) EncryptionKey() []byte { return f.cipher.EncryptionKey() }

// KeyFingerprint renders EncryptionKey as a short, human-comparable
// fingerprint: the first 16 hex characters of its SHA-256 digest.
func (f *Facade) KeyFingerprint() string {
	sum := sha256.Sum256(f.cipher.EncryptionKey())
	return hex.EncodeToString(sum[:])[:16]
}

// Close stops the receive actor. It does not close Delivery or Transport.
func (f *Facade) Close() error {
	f.stopOnce.Do(func() { close(f.stopCh) })
	f.wg.Wait()
	return nil
}

// Send encrypts plaintext and hands it to Delivery as a text message.
func (f *Facade) Send(ctx context.Context, dst net.IP, messageID uint64, plaintext []byte) error {
	return f.send(ctx, dst, messageID, delivery.KindText, plaintext)
}

// SendAuto is Send with a freshly generated message_id, for callers that
// don't track their own ids.
func (f *Facade) SendAuto(ctx context.Context, dst net.IP, plaintext []byte) (uint64, error) {
	id := delivery.NewMessageID()
	return id, f.Send(ctx, dst, id, plaintext)
}

// SendFile packs filename and contents into spec.md §6's file-upload
// plaintext format, encrypts it, and hands it to Delivery as a file upload.
func (f *Facade) SendFile(ctx context.Context, dst net.IP, messageID uint64, filename string, contents []byte) error {
	packed, err := packFileUpload(filename, contents)
	if err != nil {
		return err
	}
	return f.send(ctx, dst, messageID, delivery.KindFileUpload, packed)
}

func (f *Facade) send(ctx context.Context, dst net.IP, messageID uint64, kind delivery.MessageKind, plaintext []byte) error {
	if uint64(len(plaintext)) > delivery.MaxMessageSize {
		return fmt.Errorf("facade: %s", MessageTooBig)
	}

	ciphertext, err := f.cipher.Encrypt(plaintext)
	if err != nil {
		if f.log != nil {
			f.log.Error("facade: encrypt failed", "error", err)
		}
		return fmt.Errorf("facade: %s: %w", EncryptionError, err)
	}

	if err := f.delivery.Send(ctx, dst, messageID, kind, ciphertext); err != nil {
		if errors.Is(err, delivery.ErrMessageTooBig) {
			return fmt.Errorf("facade: %s: %w", MessageTooBig, err)
		}
		return fmt.Errorf("facade: %s: %w", SendFailed, err)
	}
	return nil
}

// receiveActor is spec.md §4.4's background receive task: it consumes
// Delivery events, decrypts reassembled ciphertext for New/FileUpload, and
// passes AckProgress/Ack through unchanged. Decryption failures surface as
// Error(DecryptionError) without terminating the actor. Upstream channel
// closure is fatal and terminates the actor after one ReceiveError.
func (f *Facade) receiveActor() {
	defer f.wg.Done()
	for {
		select {
		case <-f.stopCh:
			return
		case ev, ok := <-f.delivery.Events():
			if !ok {
				f.publish(Error{Kind: ReceiveError, Message: "delivery event stream closed"})
				return
			}
			f.handleDeliveryEvent(ev)
		}
	}
}

func (f *Facade) handleDeliveryEvent(ev any) {
	switch e := ev.(type) {
	case delivery.Inbound:
		f.handleInbound(e)
	case delivery.AckProgress:
		f.publish(AckProgress{MessageID: e.MessageID, Acked: e.Acked, Total: e.Total})
	case delivery.Ack:
		f.publish(Ack{MessageID: e.MessageID})
	case delivery.SendFailed:
		f.publish(Error{Kind: SendFailed, Message: fmt.Sprintf("message %d abandoned after max retries", e.MessageID)})
	}
}

func (f *Facade) handleInbound(e delivery.Inbound) {
	plain, err := f.cipher.Decrypt(e.Payload)
	if err != nil {
		f.metrics.DecryptFailure()
		if f.log != nil {
			f.log.Warn("facade: decrypt failed", "peer", e.PeerIP, "message_id", e.MessageID, "error", err)
		}
		f.publish(Error{Kind: DecryptionError, Message: fmt.Sprintf("message %d from %s: %v", e.MessageID, e.PeerIP, err)})
		return
	}

	switch e.Kind {
	case delivery.KindFileUpload:
		filename, contents, err := unpackFileUpload(plain)
		if err != nil {
			f.publish(Error{Kind: DecryptionError, Message: err.Error()})
			return
		}
		f.publish(FileUpload{PeerIP: e.PeerIP, MessageID: e.MessageID, Filename: filename, Payload: contents})
	default:
		f.publish(New{PeerIP: e.PeerIP, MessageID: e.MessageID, Payload: plain})
	}
}

func (f *Facade) publish(ev any) {
	select {
	case f.events <- ev:
	case <-f.stopCh:
	}
}

type noopMetrics struct{}

func (noopMetrics) DecryptFailure() {}
