// Package corespkg is the Onion Layer Engine: the three LiveCoresPackage
// transforms that build, relay, and finally open an onion-routed package.
package corespkg

import (
	"fmt"
	"net"

	"github.com/duskcairn/exitrelay/cryptde"
	"github.com/duskcairn/exitrelay/route"
	"github.com/duskcairn/exitrelay/wireformat"
)

// LiveCoresPackage is an onion package in flight: its payload is encrypted
// to the ultimate exit node's public key, opaque to every intermediate hop.
type LiveCoresPackage struct {
	Route   route.Route
	Payload cryptde.CryptData
}

// IncipientCoresPackage is an outgoing package under construction. Its
// payload is encrypted to the declared destination key at construction
// time, matching the reference implementation: by the time an
// IncipientCoresPackage exists, its payload field already holds ciphertext.
type IncipientCoresPackage struct {
	Route   route.Route
	Payload cryptde.CryptData
}

// NewIncipientCoresPackage builds an IncipientCoresPackage, encrypting
// payload to destinationKey immediately.
func NewIncipientCoresPackage(cd cryptde.CryptDE, r route.Route, payload wireformat.MessageType, destinationKey cryptde.PublicKey) (IncipientCoresPackage, error) {
	ct, err := wireformat.Encodex(cd, destinationKey, payload)
	if err != nil {
		return IncipientCoresPackage{}, fmt.Errorf("encrypt incipient payload: %w", err)
	}
	return IncipientCoresPackage{Route: r, Payload: ct}, nil
}

// ExpiredCoresPackage is produced only at the exit node: the payload has
// been decrypted, and RemainingRoute is the return leg, already oriented
// toward the requester.
type ExpiredCoresPackage[T any] struct {
	ImmediateNeighborIP net.IP
	ConsumingWallet     *cryptde.Wallet
	RemainingRoute      route.Route
	Payload             T
	PayloadLen          int
}

// FromIncipient clones the incipient package's route, shifts off the top
// hop using cd (the key of the node that just produced this package), and
// returns the resulting live package together with the public key of the
// next node to receive it. The payload needs no work here: it was already
// encrypted to the ultimate exit when the incipient package was built.
func FromIncipient(icp IncipientCoresPackage, cd cryptde.CryptDE) (LiveCoresPackage, cryptde.PublicKey, error) {
	r := icp.Route.Clone()
	hop, err := r.Shift(cd)
	if err != nil {
		return LiveCoresPackage{}, nil, fmt.Errorf("shift incipient route: %w", err)
	}
	return LiveCoresPackage{Route: r, Payload: icp.Payload}, hop.PublicKey, nil
}

// ToNextLive is used by intermediate relays. It shifts one hop using cd,
// returning the cleartext directive (revealing the next peer and the
// consuming wallet) and the onward package: same payload, route minus one
// hop plus one garbage blob.
func ToNextLive(lcp LiveCoresPackage, cd cryptde.CryptDE) (route.LiveHop, LiveCoresPackage, error) {
	r := lcp.Route.Clone()
	hop, err := r.Shift(cd)
	if err != nil {
		return route.LiveHop{}, LiveCoresPackage{}, err
	}
	return hop, LiveCoresPackage{Route: r, Payload: lcp.Payload}, nil
}

// ToExpired is used by the exit node. It peeks (non-consuming) the top hop
// to recover the consuming wallet, then decrypts the payload under cd. The
// returned expired package carries RemainingRoute unchanged — the return
// leg, already oriented toward the requester — and the decrypted payload.
func ToExpired(lcp LiveCoresPackage, immediateNeighborIP net.IP, cd cryptde.CryptDE) (ExpiredCoresPackage[wireformat.MessageType], error) {
	hop, err := lcp.Route.NextHop(cd)
	if err != nil {
		return ExpiredCoresPackage[wireformat.MessageType]{}, fmt.Errorf("peek top hop: %w", err)
	}
	payload, err := wireformat.Decodex[wireformat.MessageType](cd, lcp.Payload)
	if err != nil {
		return ExpiredCoresPackage[wireformat.MessageType]{}, fmt.Errorf("decrypt payload: %w", err)
	}
	return ExpiredCoresPackage[wireformat.MessageType]{
		ImmediateNeighborIP: immediateNeighborIP,
		ConsumingWallet:     hop.ConsumingWallet,
		RemainingRoute:      lcp.Route,
		Payload:             payload,
		PayloadLen:          len(lcp.Payload),
	}, nil
}

// AsClientRequest narrows an expired package carrying a generic MessageType
// down to the ExpiredCoresPackage[ClientRequestPayload] shape the Exit Actor
// consumes. ok is false when the decrypted payload is not actually a client
// request — e.g. a response or DNS-failure notice that reached the exit's
// onion-expiry path instead of the Pool-originated paths those kinds
// actually travel.
func AsClientRequest(exp ExpiredCoresPackage[wireformat.MessageType]) (ExpiredCoresPackage[wireformat.ClientRequestPayload], bool) {
	if exp.Payload.Kind != wireformat.KindClientRequest || exp.Payload.ClientRequest == nil {
		return ExpiredCoresPackage[wireformat.ClientRequestPayload]{}, false
	}
	return ExpiredCoresPackage[wireformat.ClientRequestPayload]{
		ImmediateNeighborIP: exp.ImmediateNeighborIP,
		ConsumingWallet:     exp.ConsumingWallet,
		RemainingRoute:      exp.RemainingRoute,
		Payload:             *exp.Payload.ClientRequest,
		PayloadLen:          exp.PayloadLen,
	}, true
}
