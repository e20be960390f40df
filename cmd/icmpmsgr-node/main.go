// Command icmpmsgr-node wires Encryption, Delivery, Transport, and a raw
// ICMP Link together and exposes the Facade's send/receive operations: each
// stdin line is sent as a text message, and received events are written to
// the stderr logger. The terminal UI, notification integration, and file-upload
// I/O helpers spec.md §1 calls out as external collaborators are not
// reimplemented here; this is the minimal host driver exercising the core.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/icmpmsgr/internal/config"
	"github.com/malbeclabs/icmpmsgr/internal/delivery"
	"github.com/malbeclabs/icmpmsgr/internal/encryption"
	"github.com/malbeclabs/icmpmsgr/internal/facade"
	"github.com/malbeclabs/icmpmsgr/internal/linkimpl"
	"github.com/malbeclabs/icmpmsgr/internal/logging"
	"github.com/malbeclabs/icmpmsgr/internal/metrics"
	"github.com/malbeclabs/icmpmsgr/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, sourceIP, err := loadConfig()
	if err != nil {
		return err
	}

	log := logging.New(cfg.Verbose)

	if cfg.MetricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			log.Info("metrics server listening", "address", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	lnk, err := linkimpl.New(linkimpl.Config{
		Logger:    log,
		Interface: cfg.Device,
		SourceIP:  sourceIP,
	})
	if err != nil {
		return fmt.Errorf("icmpmsgr-node: open link: %w", err)
	}
	defer lnk.Close()

	tr, err := transport.New(transport.Config{
		Logger:      log,
		Link:        lnk,
		Metrics:     metrics.Transport{},
		AcceptPeers: cfg.AcceptIPs,
		MaxRetries:  cfg.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("icmpmsgr-node: start transport: %w", err)
	}
	defer tr.Close()

	if err := tr.ProbeMTU(cfg.DestinationIPs[0]); err != nil {
		log.Warn("MTU probe failed, continuing at default size", "error", err)
	}

	dv, err := delivery.New(delivery.Config{
		Logger:    log,
		Transport: tr,
		Metrics:   metrics.Delivery{},
	})
	if err != nil {
		return fmt.Errorf("icmpmsgr-node: start delivery: %w", err)
	}
	defer dv.Close()

	cipher, err := buildCipher(cfg)
	if err != nil {
		return fmt.Errorf("icmpmsgr-node: build cipher: %w", err)
	}

	fac, err := facade.New(facade.Config{
		Logger:   log,
		Cipher:   cipher,
		Delivery: dv,
		Metrics:  metrics.Facade{},
	})
	if err != nil {
		return fmt.Errorf("icmpmsgr-node: start facade: %w", err)
	}
	defer fac.Close()

	log.Info("icmpmsgr-node ready",
		"device", cfg.Device,
		"destinations", cfg.DestinationIPs,
		"accept", cfg.AcceptIPs,
		"mode", cfg.Mode,
		"key_fingerprint", fac.KeyFingerprint(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go logEvents(log, fac.Events())
	go sendStdinLines(ctx, log, fac, cfg.DestinationIPs[0])

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// logEvents is the minimal host receiver: it logs every Facade event. A
// real host (the out-of-scope TUI) would render New/FileUpload as chat
// history instead.
func logEvents(log *slog.Logger, events <-chan any) {
	for ev := range events {
		switch e := ev.(type) {
		case facade.New:
			log.Info("message received", "peer", e.PeerIP, "message_id", e.MessageID, "bytes", len(e.Payload))
		case facade.FileUpload:
			log.Info("file received", "peer", e.PeerIP, "message_id", e.MessageID, "filename", e.Filename, "bytes", len(e.Payload))
		case facade.AckProgress:
			log.Info("ack progress", "message_id", e.MessageID, "acked", e.Acked, "total", e.Total)
		case facade.Ack:
			log.Info("message acked", "message_id", e.MessageID)
		case facade.Error:
			log.Info("facade error", "kind", e.Kind.String(), "message", e.Message)
		}
	}
}

// sendStdinLines is the minimal host sender: each line of stdin becomes a
// text message to the first configured peer.
func sendStdinLines(ctx context.Context, log *slog.Logger, fac *facade.Facade, dst net.IP) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if _, err := fac.SendAuto(ctx, dst, []byte(line)); err != nil {
			log.Info("send failed", "error", err)
		}
	}
}

func buildCipher(cfg config.Config) (encryption.Cipher, error) {
	switch cfg.Mode {
	case config.ModeSymmetric:
		return encryption.NewSymmetricFromHex(cfg.SymmetricKeyHex)
	case config.ModeHybrid:
		peerPub, err := os.ReadFile(cfg.HybridPeerPublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read peer public key: %w", err)
		}
		localPriv, err := os.ReadFile(cfg.HybridLocalPrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read local private key: %w", err)
		}
		return encryption.NewHybrid(peerPub, localPriv)
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

func loadConfig() (config.Config, net.IP, error) {
	var (
		device         string
		sourceIPStr    string
		destinationCSV string
		acceptCSV      string
		mode           string
		symmetricKey   string
		hybridPeerPub  string
		hybridLocPriv  string
		verbose        bool
		metricsAddr    string
		maxRetries     int
	)

	flag.StringVar(&device, "device", "", "capture/send interface name (required)")
	flag.StringVar(&sourceIPStr, "source-ip", "", "this node's IPv4 address on device (required)")
	flag.StringVar(&destinationCSV, "destination-ips", config.Getenv("ICMPMSGR_DESTINATION_IPS", ""), "comma-separated peer IPv4 addresses (env: ICMPMSGR_DESTINATION_IPS)")
	flag.StringVar(&acceptCSV, "accept-ips", config.Getenv("ICMPMSGR_ACCEPT_IPS", ""), "comma-separated accepted source IPv4 addresses (env: ICMPMSGR_ACCEPT_IPS)")
	flag.StringVar(&mode, "mode", config.Getenv("ICMPMSGR_MODE", "symmetric"), "encryption mode: symmetric or hybrid (env: ICMPMSGR_MODE)")
	flag.StringVar(&symmetricKey, "symmetric-key", config.Getenv("ICMPMSGR_SYMMETRIC_KEY", ""), "32-char hex Blowfish key (symmetric mode)")
	flag.StringVar(&hybridPeerPub, "hybrid-peer-pub", config.Getenv("ICMPMSGR_HYBRID_PEER_PUB", ""), "path to peer's RSA public key PEM (hybrid mode)")
	flag.StringVar(&hybridLocPriv, "hybrid-local-priv", config.Getenv("ICMPMSGR_HYBRID_LOCAL_PRIV", ""), "path to local RSA private key PEM (hybrid mode)")
	flag.StringVar(&metricsAddr, "metrics-addr", config.Getenv("ICMPMSGR_METRICS_ADDR", ":9090"), "prometheus metrics listen address, empty to disable")
	flag.IntVar(&maxRetries, "max-retries", 0, "abandon a packet after this many retries (0 = unbounded, matching spec.md §4.1)")
	flag.BoolVar(&verbose, "verbose", config.GetenvBool("ICMPMSGR_VERBOSE", false), "enable debug logging")
	flag.Parse()

	destIPs, err := config.ParseIPv4CSV(destinationCSV)
	if err != nil {
		return config.Config{}, nil, err
	}
	acceptIPs, err := config.ParseIPv4CSV(acceptCSV)
	if err != nil {
		return config.Config{}, nil, err
	}
	sourceIP := net.ParseIP(sourceIPStr)
	if sourceIP == nil || sourceIP.To4() == nil {
		return config.Config{}, nil, fmt.Errorf("icmpmsgr-node: --source-ip must be a valid IPv4 address")
	}

	cfg := config.Config{
		Device:                    device,
		DestinationIPs:            destIPs,
		AcceptIPs:                 acceptIPs,
		Mode:                      config.Mode(mode),
		SymmetricKeyHex:           symmetricKey,
		HybridPeerPublicKeyPath:   hybridPeerPub,
		HybridLocalPrivateKeyPath: hybridLocPriv,
		Verbose:                  verbose,
		MetricsAddr:               metricsAddr,
		MaxRetries:                maxRetries,
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}
	return cfg, sourceIP.To4(), nil
}
