// Package streampool specifies the Stream Handler Pool contract and
// a reference implementation: the concurrent pool that owns live
// origin-server sockets, resolves destination hostnames, sequences
// bidirectional traffic per stream, and surfaces inbound data and DNS
// failures back to the Exit Actor.
package streampool

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/miekg/dns"
	"golang.org/x/time/rate"

	"github.com/duskcairn/exitrelay/cryptde"
	"github.com/duskcairn/exitrelay/wireformat"
)

// InboundServerData is a pool-originated response chunk, delivered to the
// Exit Actor in strict sequence-number order per stream.
type InboundServerData struct {
	StreamKey      wireformat.StreamKey
	LastData       bool
	SequenceNumber uint64
	Source         net.Addr
	Data           []byte
}

// EventSink is the Exit Actor's inbound contract as seen by the Pool.
type EventSink interface {
	HandleInboundServerData(ev InboundServerData)
	HandleDnsResolveFailure(streamKey wireformat.StreamKey)
}

// Resolver resolves a hostname to a dialable address. Injected so the Pool
// is testable against a fake without touching a real network.
type Resolver interface {
	Resolve(ctx context.Context, hostname string) (net.IP, error)
}

// ResolverFactory builds a Resolver from a configured DNS server list,
// giving the Exit Actor (who owns the list) control over resolver
// construction while the Pool only ever queries the result.
type ResolverFactory func(servers []net.Addr) Resolver

// Pool is the contract every Stream Handler Pool implementation satisfies.
type Pool interface {
	// Accept hands off one client request chunk, non-blocking.
	Accept(req wireformat.ClientRequestPayload, wallet *cryptde.Wallet)
	// Close closes every origin socket the pool holds.
	Close()
}

// maxPendingPerStream sets, in KiB, the burst size of the per-stream token
// bucket that paces inbound reads at the pool's byte rate. No per-stream
// buffer is kept: a read waits for tokens instead of being queued.
const maxPendingPerStream = 64

// DNSResolver implements Resolver against real nameservers using
// github.com/miekg/dns rather than a hand-rolled resolver wrapper.
type DNSResolver struct {
	servers []net.Addr
	client  *dns.Client
}

// NewDNSResolver builds a resolver that queries each configured server over
// UDP, in order, until one returns an A record, mirroring the reference's NameServerConfig list
// (UDP protocol, no TLS server name).
func NewDNSResolver(servers []net.Addr) Resolver {
	return &DNSResolver{servers: servers, client: &dns.Client{Net: "udp"}}
}

func (r *DNSResolver) Resolve(ctx context.Context, hostname string) (net.IP, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(hostname), dns.TypeA)

	var lastErr error
	for _, srv := range r.servers {
		resp, _, err := r.client.ExchangeContext(ctx, msg, srv.String())
		if err != nil {
			lastErr = err
			continue
		}
		for _, ans := range resp.Answer {
			if a, ok := ans.(*dns.A); ok {
				return a.A, nil
			}
		}
	}
	if lastErr == nil {
		lastErr = errNoAddressFound(hostname)
	}
	return nil, lastErr
}

type errNoAddressFound string

func (e errNoAddressFound) Error() string { return "no A record found for " + string(e) }

// streamState is the per-stream socket and sequencing state the pool owns
// exclusively; the Exit Actor never reaches into it directly.
type streamState struct {
	mu      sync.Mutex
	conn    net.Conn
	nextSeq uint64
	closed  bool
}

// DialerPool is the reference Stream Handler Pool implementation: one TCP
// connection per stream key, a rate limiter bounding per-stream throughput
// as the backpressure basis, and strict in-order delivery of inbound data
// back to the bound EventSink.
type DialerPool struct {
	logger   *slog.Logger
	resolver Resolver
	sink     EventSink
	byteRate rate.Limit

	mu      sync.Mutex
	streams map[wireformat.StreamKey]*streamState
}

// NewDialerPool builds a pool bound to resolver and sink. byteRatePerSecond
// configures the per-stream token-bucket limiter implementing exit_byte_rate
// backpressure.
func NewDialerPool(resolver Resolver, sink EventSink, byteRatePerSecond float64, logger *slog.Logger) *DialerPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &DialerPool{
		logger:   logger,
		resolver: resolver,
		sink:     sink,
		byteRate: rate.Limit(byteRatePerSecond),
		streams:  make(map[wireformat.StreamKey]*streamState),
	}
}

// Accept resolves the target (on first sight of a stream key) and dials the
// origin server, then writes the chunk. DNS failure emits exactly one
// DnsResolveFailure to the sink per resolution attempt.
func (p *DialerPool) Accept(req wireformat.ClientRequestPayload, wallet *cryptde.Wallet) {
	go p.handle(req)
}

func (p *DialerPool) handle(req wireformat.ClientRequestPayload) {
	st := p.streamFor(req.StreamKey)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return
	}

	if st.conn == nil {
		conn, err := p.dial(req)
		if err != nil {
			p.logger.Debug("origin dial/resolve failed", "stream_key", req.StreamKey, "err", err)
			p.sink.HandleDnsResolveFailure(req.StreamKey)
			return
		}
		st.conn = conn
		go p.readLoop(req.StreamKey, st)
	}

	if len(req.SequencedPacket.Data) > 0 {
		_, _ = st.conn.Write(req.SequencedPacket.Data)
	}
	if req.SequencedPacket.LastData {
		_ = st.conn.Close()
		st.closed = true
	}
}

func (p *DialerPool) dial(req wireformat.ClientRequestPayload) (net.Conn, error) {
	host := ""
	if req.TargetHostname != nil {
		host = *req.TargetHostname
	}
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := p.resolver.Resolve(context.Background(), host)
		if err != nil {
			return nil, err
		}
		ip = resolved
	}
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(int(req.TargetPort)))
	return net.Dial("tcp", addr)
}

func (p *DialerPool) readLoop(streamKey wireformat.StreamKey, st *streamState) {
	limiter := rate.NewLimiter(p.byteRate, maxPendingPerStream*1024)
	buf := make([]byte, 16*1024)
	for {
		n, err := st.conn.Read(buf)
		last := err != nil
		if n > 0 {
			// WaitN blocks until n tokens are available. If it returns
			// an error, this chunk is delivered with LastData set and the
			// stream ends; with a positive byte rate and reads no larger
			// than the burst, WaitN waits rather than failing.
			if waitErr := limiter.WaitN(context.Background(), n); waitErr != nil {
				last = true
			}
			seq := st.nextSeq
			st.nextSeq++
			p.sink.HandleInboundServerData(InboundServerData{
				StreamKey:      streamKey,
				LastData:       last,
				SequenceNumber: seq,
				Source:         st.conn.RemoteAddr(),
				Data:           append([]byte(nil), buf[:n]...),
			})
		}
		if last {
			if n == 0 {
				seq := st.nextSeq
				st.nextSeq++
				p.sink.HandleInboundServerData(InboundServerData{
					StreamKey:      streamKey,
					LastData:       true,
					SequenceNumber: seq,
					Source:         st.conn.RemoteAddr(),
					Data:           nil,
				})
			}
			p.mu.Lock()
			delete(p.streams, streamKey)
			p.mu.Unlock()
			return
		}
	}
}

func (p *DialerPool) streamFor(key wireformat.StreamKey) *streamState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.streams[key]
	if !ok {
		st = &streamState{}
		p.streams[key] = st
	}
	return st
}

// Close drains no pending work (each stream goroutine owns its own socket
// lifecycle) and closes every live origin connection.
func (p *DialerPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, st := range p.streams {
		st.mu.Lock()
		if st.conn != nil {
			_ = st.conn.Close()
		}
		st.closed = true
		st.mu.Unlock()
		delete(p.streams, key)
	}
}

var _ Pool = (*DialerPool)(nil)
