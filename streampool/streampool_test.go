package streampool

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/duskcairn/exitrelay/wireformat"
)

// fakeSink records pool-originated events with a mutex, since the pool
// delivers from its own goroutines.
type fakeSink struct {
	mu       sync.Mutex
	data     []InboundServerData
	dnsFails []wireformat.StreamKey
	notify   chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{notify: make(chan struct{}, 64)}
}

func (s *fakeSink) HandleInboundServerData(ev InboundServerData) {
	s.mu.Lock()
	s.data = append(s.data, ev)
	s.mu.Unlock()
	s.notify <- struct{}{}
}

func (s *fakeSink) HandleDnsResolveFailure(streamKey wireformat.StreamKey) {
	s.mu.Lock()
	s.dnsFails = append(s.dnsFails, streamKey)
	s.mu.Unlock()
	s.notify <- struct{}{}
}

func (s *fakeSink) waitForEvents(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d/%d", i+1, n)
		}
	}
}

func (s *fakeSink) snapshot() ([]InboundServerData, []wireformat.StreamKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]InboundServerData(nil), s.data...), append([]wireformat.StreamKey(nil), s.dnsFails...)
}

// loopbackResolver resolves any hostname to 127.0.0.1, standing in for a
// real DNS answer so tests can dial a local listener without touching the
// network.
type loopbackResolver struct{}

func (loopbackResolver) Resolve(ctx context.Context, hostname string) (net.IP, error) {
	return net.ParseIP("127.0.0.1"), nil
}

// failingResolver always fails, exercising the DNS-failure path.
type failingResolver struct{}

func (failingResolver) Resolve(ctx context.Context, hostname string) (net.IP, error) {
	return nil, errors.New("no such host")
}

func hostname(s string) *string { return &s }

// echoListener accepts one connection and echoes back a fixed payload on
// each write it receives, then closes once the client closes.
func echoListener(t *testing.T) (net.Listener, uint16) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	port := ln.Addr().(*net.TCPAddr).Port
	return ln, uint16(port)
}

// TestDialerPoolDeliversInboundDataInOrder exercises the pool end to end
// against a real loopback listener: a request opens the connection, the
// origin server writes two chunks, and the sink observes them with strictly
// increasing sequence numbers for the same stream key.
func TestDialerPoolDeliversInboundDataInOrder(t *testing.T) {
	ln, port := echoListener(t)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("first"))
		time.Sleep(10 * time.Millisecond)
		_, _ = conn.Write([]byte("second"))
	}()

	sink := newFakeSink()
	pool := NewDialerPool(loopbackResolver{}, sink, 1<<20, nil)
	defer pool.Close()

	pool.Accept(wireformat.ClientRequestPayload{
		StreamKey:      "stream-1",
		TargetHostname: hostname("origin.example"),
		TargetPort:     port,
	}, nil)

	sink.waitForEvents(t, 2)
	<-serverDone

	events, _ := sink.snapshot()
	if len(events) < 2 {
		t.Fatalf("got %d events, want at least 2", len(events))
	}
	for i, ev := range events {
		if ev.StreamKey != "stream-1" {
			t.Fatalf("event %d stream key = %q, want stream-1", i, ev.StreamKey)
		}
		if i > 0 && events[i].SequenceNumber <= events[i-1].SequenceNumber {
			t.Fatalf("sequence numbers not strictly increasing: %d then %d", events[i-1].SequenceNumber, events[i].SequenceNumber)
		}
	}
}

// TestDialerPoolResolveFailureEmitsDnsResolveFailure exercises the
// resolver-failure path: Accept against an unresolvable hostname emits
// exactly one DnsResolveFailure and no InboundServerData.
func TestDialerPoolResolveFailureEmitsDnsResolveFailure(t *testing.T) {
	sink := newFakeSink()
	pool := NewDialerPool(failingResolver{}, sink, 1<<20, nil)
	defer pool.Close()

	pool.Accept(wireformat.ClientRequestPayload{
		StreamKey:      "stream-dns",
		TargetHostname: hostname("nowhere.invalid"),
		TargetPort:     80,
	}, nil)

	sink.waitForEvents(t, 1)

	events, fails := sink.snapshot()
	if len(events) != 0 {
		t.Fatalf("got %d InboundServerData events, want 0", len(events))
	}
	if len(fails) != 1 || fails[0] != "stream-dns" {
		t.Fatalf("dns failures = %v, want [stream-dns]", fails)
	}
}

// TestDialerPoolMultiplexesTwoStreamsIndependently opens two streams to two
// different origin listeners and verifies that events arrive under both
// stream keys.
func TestDialerPoolMultiplexesTwoStreamsIndependently(t *testing.T) {
	lnA, portA := echoListener(t)
	lnB, portB := echoListener(t)

	go func() {
		conn, err := lnA.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("from-a"))
	}()
	go func() {
		conn, err := lnB.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("from-b"))
	}()

	sink := newFakeSink()
	pool := NewDialerPool(loopbackResolver{}, sink, 1<<20, nil)
	defer pool.Close()

	pool.Accept(wireformat.ClientRequestPayload{StreamKey: "stream-a", TargetHostname: hostname("a.example"), TargetPort: portA}, nil)
	pool.Accept(wireformat.ClientRequestPayload{StreamKey: "stream-b", TargetHostname: hostname("b.example"), TargetPort: portB}, nil)

	sink.waitForEvents(t, 2)

	events, _ := sink.snapshot()
	seen := map[wireformat.StreamKey]bool{}
	for _, ev := range events {
		seen[ev.StreamKey] = true
	}
	if !seen["stream-a"] || !seen["stream-b"] {
		t.Fatalf("events did not cover both streams: %v", events)
	}
}

var _ Resolver = loopbackResolver{}
