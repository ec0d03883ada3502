package wireformat

import (
	"github.com/google/uuid"

	"github.com/duskcairn/exitrelay/cryptde"
)

// StreamKey is an opaque identifier joining a client request with its
// origin-server connection and every subsequent response. It is globally
// unique per originator session. Backed by a UUIDv4, following the corpus's
// general preference for UUIDs over raw sequential counters for session
// identifiers (see SPEC_FULL.md DOMAIN STACK).
type StreamKey string

// NewStreamKey generates a fresh, globally unique stream key.
func NewStreamKey() StreamKey {
	return StreamKey(uuid.NewString())
}

// Protocol names the application protocol a client stream is speaking. It
// travels with the request; DialerPool does not read it and relays the
// packet bytes the same way for either value.
type Protocol uint8

const (
	ProtocolHTTP Protocol = iota
	ProtocolTLS
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTLS:
		return "TLS"
	default:
		return "HTTP"
	}
}

// SequencedPacket is one ordered chunk of a bidirectional stream.
type SequencedPacket struct {
	Data           []byte `cbor:"1,keyasint"`
	SequenceNumber uint64 `cbor:"2,keyasint"`
	LastData       bool   `cbor:"3,keyasint"`
}

// ClientRequestPayload is what a request-side LiveCoresPackage decrypts to
// at the exit: the data to relay to the origin server, plus enough
// information to open the connection the first time it's seen.
type ClientRequestPayload struct {
	StreamKey           StreamKey         `cbor:"1,keyasint"`
	SequencedPacket     SequencedPacket   `cbor:"2,keyasint"`
	TargetHostname      *string           `cbor:"3,keyasint,omitempty"`
	TargetPort          uint16            `cbor:"4,keyasint"`
	Protocol            Protocol          `cbor:"5,keyasint"`
	OriginatorPublicKey cryptde.PublicKey `cbor:"6,keyasint"`
}

// ClientResponsePayload carries one chunk of origin-server data back toward
// the originator.
type ClientResponsePayload struct {
	StreamKey       StreamKey       `cbor:"1,keyasint"`
	SequencedPacket SequencedPacket `cbor:"2,keyasint"`
}

// DnsResolveFailure notifies the originator that the exit could not resolve
// the requested hostname.
type DnsResolveFailure struct {
	StreamKey StreamKey `cbor:"1,keyasint"`
}

// GossipPayload is an opaque placeholder for the hopper's neighborhood
// gossip messages. The exit relay core never inspects its contents; it
// exists only so MessageType's tagged union is complete and a LiveCoresPackage
// carrying gossip can still round-trip through serialization.
type GossipPayload struct {
	Data []byte `cbor:"1,keyasint"`
}

// MessageKind discriminates the variants of MessageType.
type MessageKind string

const (
	KindClientRequest   MessageKind = "client_request"
	KindClientResponse  MessageKind = "client_response"
	KindDnsResolveFailed MessageKind = "dns_resolve_failed"
	KindGossip          MessageKind = "gossip"
)

// MessageType is the tagged sum of payload kinds that can travel inside a
// cores package. Only ClientRequest, ClientResponse, and DnsResolveFailed
// are consumed by this core; Gossip passes through opaquely.
type MessageType struct {
	Kind             MessageKind            `cbor:"1,keyasint"`
	ClientRequest    *ClientRequestPayload  `cbor:"2,keyasint,omitempty"`
	ClientResponse   *ClientResponsePayload `cbor:"3,keyasint,omitempty"`
	DnsResolveFailed *DnsResolveFailure     `cbor:"4,keyasint,omitempty"`
	Gossip           *GossipPayload         `cbor:"5,keyasint,omitempty"`
}

func NewClientRequestMessage(p ClientRequestPayload) MessageType {
	return MessageType{Kind: KindClientRequest, ClientRequest: &p}
}

func NewClientResponseMessage(p ClientResponsePayload) MessageType {
	return MessageType{Kind: KindClientResponse, ClientResponse: &p}
}

func NewDnsResolveFailedMessage(p DnsResolveFailure) MessageType {
	return MessageType{Kind: KindDnsResolveFailed, DnsResolveFailed: &p}
}

func NewGossipMessage(p GossipPayload) MessageType {
	return MessageType{Kind: KindGossip, Gossip: &p}
}
