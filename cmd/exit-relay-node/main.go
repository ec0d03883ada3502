package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/duskcairn/exitrelay/accounting"
	"github.com/duskcairn/exitrelay/corespkg"
	"github.com/duskcairn/exitrelay/cryptde"
	"github.com/duskcairn/exitrelay/exitactor"
	"github.com/duskcairn/exitrelay/streampool"
)

// Version is set at build time via ldflags.
var Version = "dev"

// options holds the node's configuration: the DNS server list, the exit
// service/byte billing rates, and the node's local identity key path.
type options struct {
	DNSServers      []string `long:"dns-server" description:"DNS server address (host:port); may be repeated" required:"true"`
	ExitServiceRate uint64   `long:"exit-service-rate" default:"1"`
	ExitByteRate    uint64   `long:"exit-byte-rate" default:"1"`
	KeyFile         string   `long:"key-file" description:"path to the node's local identity private key" default:"exit-relay-node.key"`
}

func main() {
	logger, logFile := setupLogging()
	defer func() { _ = logFile.Close() }()

	fmt.Printf("=== Exit Relay Node %s ===\n", Version)

	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	cd, err := loadOrGenerateIdentity(opts.KeyFile, logger)
	if err != nil {
		fmt.Printf("failed to load identity: %v\n", err)
		os.Exit(1)
	}

	servers, err := parseDNSServers(opts.DNSServers)
	if err != nil {
		fmt.Printf("invalid dns-server address: %v\n", err)
		os.Exit(1)
	}

	actor := exitactor.New(exitactor.Config{
		CryptDE:         cd,
		DNSServers:      servers,
		ExitServiceRate: opts.ExitServiceRate,
		ExitByteRate:    opts.ExitByteRate,
	}, logger)

	actor.Bind(
		exitactor.PeerActors{
			Hopper:     noopHopper{logger: logger},
			Accountant: noopAccountant{logger: logger},
		},
		func(servers []net.Addr) streampool.Resolver {
			return streampool.NewDNSResolver(servers)
		},
		func(resolver streampool.Resolver, events streampool.EventSink) streampool.Pool {
			return streampool.NewDialerPool(resolver, events, float64(opts.ExitByteRate), logger)
		},
	)

	logger.Info("exit relay node running", "public_key", hex.EncodeToString(cd.PublicKey()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutting down")
}

func setupLogging() (*slog.Logger, *os.File) {
	logFile, err := os.OpenFile("exit-relay-node.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log file: %v\n", err)
		os.Exit(1)
	}
	fileHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})
	stdoutHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(&multiHandler{handlers: []slog.Handler{fileHandler, stdoutHandler}})
	return logger, logFile
}

func loadOrGenerateIdentity(path string, logger *slog.Logger) (*cryptde.RealCryptDE, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		var priv [32]byte
		if n, decErr := hex.Decode(priv[:], raw); decErr == nil && n == 32 {
			return cryptde.NewReal(priv)
		}
		logger.Warn("existing key file unreadable, regenerating", "path", path)
	}

	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(priv[:])), 0600); err != nil {
		logger.Warn("failed to persist identity key", "error", err)
	}
	return cryptde.NewReal(priv)
}

func parseDNSServers(raw []string) ([]net.Addr, error) {
	out := make([]net.Addr, 0, len(raw))
	for _, s := range raw {
		addr, err := net.ResolveUDPAddr("udp", s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// noopHopper and noopAccountant are placeholder collaborators: the hopper
// routing layer and the accountant's ledger persistence are both external
// collaborators this core treats as external; a real deployment wires in
// its own implementations at Bind time.
type noopHopper struct{ logger *slog.Logger }

func (h noopHopper) Send(icp corespkg.IncipientCoresPackage) {
	h.logger.Debug("hopper send (no-op collaborator)", "route_hops", len(icp.Route.Hops))
}

type noopAccountant struct{ logger *slog.Logger }

func (a noopAccountant) Report(msg accounting.ReportExitServiceProvidedMessage) {
	a.logger.Debug("exit service report", "wallet", msg.ConsumingWallet, "bytes", msg.PayloadSize)
}

// multiHandler fans out slog records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: hs}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: hs}
}
