// Package exitactor implements the Exit Actor: the stateful dispatcher that
// correlates inbound client requests with outbound origin-server
// connections, owns the DNS-resolver-backed Stream Handler Pool, and
// enforces exit-service payment policy.
package exitactor

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/duskcairn/exitrelay/accounting"
	"github.com/duskcairn/exitrelay/corespkg"
	"github.com/duskcairn/exitrelay/cryptde"
	"github.com/duskcairn/exitrelay/hopper"
	"github.com/duskcairn/exitrelay/route"
	"github.com/duskcairn/exitrelay/streampool"
	"github.com/duskcairn/exitrelay/wireformat"
)

// StreamContext is the per-stream-key state the Exit Actor maintains so it
// can package responses for the right originator over the right route.
type StreamContext struct {
	ReturnRoute          route.Route
	PayloadDestinationKey cryptde.PublicKey
	ConsumingWallet       *cryptde.Wallet
}

// PeerActors are the send endpoints supplied at Bind time.
type PeerActors struct {
	Hopper     hopper.Sender
	Accountant accounting.Recipient
}

// Config carries the fixed parameters the Exit Actor needs at construction:
// the DNS server list, the node's own crypto identity, and the exit
// service/byte billing rates.
type Config struct {
	CryptDE         cryptde.CryptDE
	DNSServers      []net.Addr
	ExitServiceRate uint64
	ExitByteRate    uint64
}

// PoolFactory builds a Stream Handler Pool given a resolver and a sink for
// pool-originated events, so the Exit Actor is testable against a fake pool.
type PoolFactory func(resolver streampool.Resolver, events streampool.EventSink) streampool.Pool

// Actor is the Exit Actor event processor. mu guards the stream-context map
// and is held only while a handler reads or writes that map; the handlers
// themselves are not serialized against each other, so when a Pool delivers
// events from several goroutines they may run concurrently.
type Actor struct {
	logger *slog.Logger
	cfg    Config

	mu       sync.Mutex // guards contexts
	contexts map[wireformat.StreamKey]StreamContext

	peers PeerActors
	pool  streampool.Pool
}

// New constructs an unbound Actor. Bind must be called before any other
// event is delivered.
func New(cfg Config, logger *slog.Logger) *Actor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Actor{
		logger:   logger,
		cfg:      cfg,
		contexts: make(map[wireformat.StreamKey]StreamContext),
	}
}

// Bind wires the hopper and accountant send endpoints, instantiates the DNS
// resolver from the configured server list, and builds the Stream Handler
// Pool via poolFactory. Bind panics if the DNS server list is empty: this is
// the one fatal configuration invariant enforced at construction time.
func (a *Actor) Bind(peers PeerActors, resolverFactory streampool.ResolverFactory, poolFactory PoolFactory) {
	if len(a.cfg.DNSServers) == 0 {
		panic("exitactor: Bind requires at least one configured DNS server")
	}
	a.peers = peers
	resolver := resolverFactory(a.cfg.DNSServers)
	a.pool = poolFactory(resolver, a)
	a.logger.Info("exit actor bound", "dns_servers", len(a.cfg.DNSServers))
}

// HandleExpiredPackage is the entry point for an onion package that has just
// been opened at this exit node: it narrows the decrypted MessageType by
// kind and dispatches to the matching handler. Only a ClientRequest is ever
// expected to reach the exit this way — responses and DNS failures
// originate from this exit's own Stream Handler Pool, not from further
// onion-routed packages — so any other kind is logged and dropped.
func (a *Actor) HandleExpiredPackage(exp corespkg.ExpiredCoresPackage[wireformat.MessageType]) {
	switch exp.Payload.Kind {
	case wireformat.KindClientRequest:
		req, ok := corespkg.AsClientRequest(exp)
		if !ok {
			a.logger.Error("malformed client request payload at exit: dropping")
			return
		}
		a.HandleRequest(req)
	default:
		a.logger.Error(fmt.Sprintf("unexpected message kind %q reached exit onion expiry: dropping", exp.Payload.Kind))
	}
}

// HandleRequest is the ExpiredCoresPackage<ClientRequestPayload> handler.
func (a *Actor) HandleRequest(msg corespkg.ExpiredCoresPackage[wireformat.ClientRequestPayload]) {
	req := msg.Payload
	wallet := msg.ConsumingWallet
	originator := req.OriginatorPublicKey
	zeroHop := originator.Equal(a.cfg.CryptDE.PublicKey())

	if wallet == nil && !zeroHop {
		a.logger.Error(fmt.Sprintf(
			"Refusing to provide exit services for CORES package with %d-byte payload without consuming wallet",
			len(req.SequencedPacket.Data)))
		return
	}
	if wallet == nil {
		a.logger.Debug("providing free zero-hop exit service", "stream_key", req.StreamKey)
	}

	a.mu.Lock()
	a.contexts[req.StreamKey] = StreamContext{
		ReturnRoute:           msg.RemainingRoute,
		PayloadDestinationKey: originator,
		ConsumingWallet:       wallet,
	}
	a.mu.Unlock()

	a.pool.Accept(req, wallet)
}

// HandleInboundServerData is the Pool-originated InboundServerData handler.
func (a *Actor) HandleInboundServerData(ev streampool.InboundServerData) {
	a.mu.Lock()
	ctx, ok := a.contexts[ev.StreamKey]
	a.mu.Unlock()
	if !ok {
		a.logger.Error(fmt.Sprintf(
			"Received unsolicited %d-byte response from %s, seq %d: ignoring",
			len(ev.Data), ev.Source, ev.SequenceNumber))
		return
	}

	payload := wireformat.NewClientResponseMessage(wireformat.ClientResponsePayload{
		StreamKey: ev.StreamKey,
		SequencedPacket: wireformat.SequencedPacket{
			Data:           ev.Data,
			SequenceNumber: ev.SequenceNumber,
			LastData:       ev.LastData,
		},
	})

	icp, err := corespkg.NewIncipientCoresPackage(a.cfg.CryptDE, ctx.ReturnRoute, payload, ctx.PayloadDestinationKey)
	if err != nil {
		a.logger.Error("failed to package response",
			"bytes", len(ev.Data), "source", ev.Source, "seq", ev.SequenceNumber, "err", err)
		return
	}

	a.peers.Hopper.Send(icp)

	if ctx.ConsumingWallet != nil {
		a.peers.Accountant.Report(accounting.ReportExitServiceProvidedMessage{
			ConsumingWallet: *ctx.ConsumingWallet,
			PayloadSize:     len(ev.Data),
			ServiceRate:     a.cfg.ExitServiceRate,
			ByteRate:        a.cfg.ExitByteRate,
		})
	} else {
		a.logger.Debug("exit service provided for free", "stream_key", ev.StreamKey)
	}

	if ev.LastData {
		a.mu.Lock()
		delete(a.contexts, ev.StreamKey)
		a.mu.Unlock()
	}
}

// HandleDnsResolveFailure is the Pool-originated DnsResolveFailure handler.
// The stream context is not removed here: the Pool is authoritative for
// stream teardown.
func (a *Actor) HandleDnsResolveFailure(streamKey wireformat.StreamKey) {
	a.mu.Lock()
	ctx, ok := a.contexts[streamKey]
	a.mu.Unlock()
	if !ok {
		a.logger.Error(fmt.Sprintf("DNS resolution for nonexistent stream (%s) failed.", streamKey))
		return
	}

	payload := wireformat.NewDnsResolveFailedMessage(wireformat.DnsResolveFailure{StreamKey: streamKey})
	icp, err := corespkg.NewIncipientCoresPackage(a.cfg.CryptDE, ctx.ReturnRoute, payload, ctx.PayloadDestinationKey)
	if err != nil {
		a.logger.Error("failed to package dns failure notice", "stream_key", streamKey, "err", err)
		return
	}
	a.peers.Hopper.Send(icp)
}

var _ streampool.EventSink = (*Actor)(nil)
