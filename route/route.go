// Package route implements the per-hop encrypted directive list that an
// onion-routed cores package carries: building one-way and round-trip
// routes, peeking the top hop, and shifting it off while preserving route
// byte-length.
package route

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/duskcairn/exitrelay/cryptde"
	"github.com/duskcairn/exitrelay/wireformat"
)

// ComponentTag names which component inside a node a hop directive is
// ultimately addressed to.
type ComponentTag uint8

const (
	ComponentNeighborhood ComponentTag = iota
	ComponentHopper
	ComponentProxyServer
	ComponentProxyClient
)

func (c ComponentTag) String() string {
	switch c {
	case ComponentHopper:
		return "Hopper"
	case ComponentProxyServer:
		return "ProxyServer"
	case ComponentProxyClient:
		return "ProxyClient"
	default:
		return "Neighborhood"
	}
}

// LiveHop is the cleartext form of one hop directive.
type LiveHop struct {
	PublicKey       cryptde.PublicKey
	ConsumingWallet *cryptde.Wallet
	Component       ComponentTag
}

// NewLiveHop builds a LiveHop, matching the original's three-argument
// constructor shape.
func NewLiveHop(pk cryptde.PublicKey, wallet *cryptde.Wallet, component ComponentTag) LiveHop {
	return LiveHop{PublicKey: pk, ConsumingWallet: wallet, Component: component}
}

func (h LiveHop) Equal(other LiveHop) bool {
	if !h.PublicKey.Equal(other.PublicKey) || h.Component != other.Component {
		return false
	}
	switch {
	case h.ConsumingWallet == nil && other.ConsumingWallet == nil:
		return true
	case h.ConsumingWallet == nil || other.ConsumingWallet == nil:
		return false
	default:
		return *h.ConsumingWallet == *other.ConsumingWallet
	}
}

// wireHop is the CBOR-on-the-wire shape of a LiveHop.
type wireHop struct {
	PublicKey []byte  `cbor:"1,keyasint"`
	Wallet    *string `cbor:"2,keyasint,omitempty"`
	Component uint8   `cbor:"3,keyasint"`
}

func toWire(h LiveHop) wireHop {
	w := wireHop{PublicKey: []byte(h.PublicKey), Component: uint8(h.Component)}
	if h.ConsumingWallet != nil {
		s := string(*h.ConsumingWallet)
		w.Wallet = &s
	}
	return w
}

func fromWire(w wireHop) LiveHop {
	h := LiveHop{PublicKey: cryptde.PublicKey(w.PublicKey), Component: ComponentTag(w.Component)}
	if w.Wallet != nil {
		wallet := cryptde.Wallet(*w.Wallet)
		h.ConsumingWallet = &wallet
	}
	return h
}

// hopPlaintextPadLen is the fixed size every hop's plaintext directive is
// padded to before encryption, so that the length of a hop ciphertext does
// not depend on the length of the wallet string or of the public key the hop
// points at. With a CryptDE whose overhead is the same for every recipient
// (RealCryptDE), every hop on a route is then the same byte length; with
// NullCryptDE the overhead grows with the recipient key's length.
const hopPlaintextPadLen = 256

// ErrorKind enumerates the ways decoding a route's top hop can fail.
type ErrorKind int

const (
	EmptyRoute ErrorKind = iota
	HopDecodeProblem
	HopDeserializationProblem
	IllegalRoute
)

func (k ErrorKind) String() string {
	switch k {
	case HopDecodeProblem:
		return "HopDecodeProblem"
	case HopDeserializationProblem:
		return "HopDeserializationProblem"
	case IllegalRoute:
		return "IllegalRoute"
	default:
		return "EmptyRoute"
	}
}

// RouteError is returned by NextHop/Shift when the top hop cannot be
// produced. The caller should fail with the most specific variant that
// fits; RouteError never silently skips a malformed hop.
type RouteError struct {
	Kind ErrorKind
	Msg  string
}

func (e *RouteError) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func routeErr(kind ErrorKind, msg string) *RouteError { return &RouteError{Kind: kind, Msg: msg} }

// Route is an ordered sequence of encrypted hop directives. Index 0 is the
// top hop: the directive intended for the node that currently holds the
// package.
type Route struct {
	Hops []cryptde.CryptData
}

// RouteSegment is an ordered list of node public keys sharing a single
// destination component tag, used to build one leg of a route.
type RouteSegment struct {
	Keys      []cryptde.PublicKey
	Component ComponentTag
}

func NewRouteSegment(keys []cryptde.PublicKey, component ComponentTag) RouteSegment {
	return RouteSegment{Keys: keys, Component: component}
}

// hopCiphertextLen is the fixed ciphertext length every hop occupies once
// encrypted with cd, derived from the fixed plaintext pad length plus that
// CryptDE's constant per-message overhead.
func hopCiphertextLen(cd cryptde.CryptDE) int {
	return hopPlaintextPadLen + cd.EncodeOverhead()
}

// encodeChain encrypts a chain of (encryptionKey, LiveHop) pairs into Route
// hops, in order.
func encodeChain(cd cryptde.CryptDE, encryptionKeys []cryptde.PublicKey, contents []LiveHop) (Route, error) {
	if len(encryptionKeys) != len(contents) {
		return Route{}, routeErr(IllegalRoute, "key/content length mismatch")
	}
	hops := make([]cryptde.CryptData, 0, len(encryptionKeys))
	for i, key := range encryptionKeys {
		raw, err := cbor.Marshal(toWire(contents[i]))
		if err != nil {
			return Route{}, routeErr(IllegalRoute, "serialize hop: "+err.Error())
		}
		padded := wireformat.PadRight(raw, hopPlaintextPadLen)
		ct, err := cd.Encode(key, padded)
		if err != nil {
			return Route{}, routeErr(IllegalRoute, "encrypt hop: "+err.Error())
		}
		hops = append(hops, ct)
	}
	return Route{Hops: hops}, nil
}

// chainDirectives builds the cleartext LiveHop directive for every index of
// a combined encryption-key chain: every hop but the last points at the next
// key in the chain with Component::Hopper; the last hop carries the empty
// end-of-route sentinel with the given terminal component.
func chainDirectives(chainKeys []cryptde.PublicKey, wallet *cryptde.Wallet, terminalComponent ComponentTag) []LiveHop {
	hops := make([]LiveHop, len(chainKeys))
	for i := range chainKeys {
		if i == len(chainKeys)-1 {
			hops[i] = NewLiveHop(cryptde.PublicKey{}, wallet, terminalComponent)
		} else {
			hops[i] = NewLiveHop(chainKeys[i+1], wallet, ComponentHopper)
		}
	}
	return hops
}

// OneWay builds a route that has no return leg: the encrypted directive for
// segment.Keys[i] points at segment.Keys[i+1] with Component::Hopper, and
// the last hop carries an empty public key with segment.Component, marking
// true end of route.
func OneWay(cd cryptde.CryptDE, segment RouteSegment, wallet *cryptde.Wallet) (Route, error) {
	if len(segment.Keys) == 0 {
		return Route{}, routeErr(EmptyRoute, "one-way segment has no keys")
	}
	directives := chainDirectives(segment.Keys, wallet, segment.Component)
	return encodeChain(cd, segment.Keys, directives)
}

// RoundTrip builds a route with an outbound leg, a return leg, and a final
// self-addressed hop carrying an encrypted return-route identifier.
//
// The outbound leg's final hop does double duty as the pivot between the two
// legs: because it is encrypted to the same key the return leg's nominal
// first key names (the exit node, i.e. outbound.Keys[last] ==
// returnLeg.Keys[0]), that key is not re-encrypted — instead the pivot hop's
// cleartext points at returnLeg.Keys[1] and carries outbound.Component,
// matching the behavior actually exercised by the reference implementation's
// tests rather than a naive concatenation of two one-way chains.
func RoundTrip(cd cryptde.CryptDE, outbound, returnLeg RouteSegment, wallet *cryptde.Wallet, returnRouteID uint64) (Route, error) {
	if len(outbound.Keys) == 0 || len(returnLeg.Keys) == 0 {
		return Route{}, routeErr(EmptyRoute, "round-trip segment has no keys")
	}
	if len(returnLeg.Keys) < 1 {
		return Route{}, routeErr(IllegalRoute, "return segment must name at least the exit node")
	}

	combinedKeys := make([]cryptde.PublicKey, 0, len(outbound.Keys)+len(returnLeg.Keys)-1)
	combinedKeys = append(combinedKeys, outbound.Keys...)
	combinedKeys = append(combinedKeys, returnLeg.Keys[1:]...)

	pivot := len(outbound.Keys) - 1
	last := len(combinedKeys) - 1
	directives := make([]LiveHop, len(combinedKeys))
	for i := range combinedKeys {
		switch {
		case i == last:
			directives[i] = NewLiveHop(cryptde.PublicKey{}, wallet, returnLeg.Component)
		case i == pivot:
			directives[i] = NewLiveHop(combinedKeys[i+1], wallet, outbound.Component)
		default:
			directives[i] = NewLiveHop(combinedKeys[i+1], wallet, ComponentHopper)
		}
	}

	body, err := encodeChain(cd, combinedKeys, directives)
	if err != nil {
		return Route{}, err
	}

	idHop, err := EncryptReturnRouteID(cd, returnRouteID)
	if err != nil {
		return Route{}, routeErr(IllegalRoute, "encrypt return route id: "+err.Error())
	}
	body.Hops = append(body.Hops, idHop)
	return body, nil
}

// returnRouteIDWire is the plaintext shape of the self-addressed
// return-route-identifier hop appended by RoundTrip.
type returnRouteIDWire struct {
	ID uint64 `cbor:"1,keyasint"`
}

// EncryptReturnRouteID encrypts a return-route identifier to cd's own
// public key, producing the cookie-like hop RoundTrip appends at the tail of
// the route so the originator can recognize its own route on return.
func EncryptReturnRouteID(cd cryptde.CryptDE, id uint64) (cryptde.CryptData, error) {
	raw, err := cbor.Marshal(returnRouteIDWire{ID: id})
	if err != nil {
		return nil, err
	}
	padded := wireformat.PadRight(raw, hopPlaintextPadLen)
	return cd.Encode(cd.PublicKey(), padded)
}

// DecryptReturnRouteID recovers a return-route identifier previously built
// with EncryptReturnRouteID.
func DecryptReturnRouteID(cd cryptde.CryptDE, ciphertext cryptde.CryptData) (uint64, error) {
	plain, err := cd.Decode(ciphertext)
	if err != nil {
		return 0, err
	}
	var w returnRouteIDWire
	if err := cborUnmarshalPrefix(plain, &w); err != nil {
		return 0, err
	}
	return w.ID, nil
}

func cborUnmarshalPrefix(buf []byte, v interface{}) error {
	dec := cbor.NewDecoder(bytes.NewReader(buf))
	return dec.Decode(v)
}

func decodeHop(cd cryptde.CryptDE, ciphertext cryptde.CryptData) (LiveHop, error) {
	plain, err := cd.Decode(ciphertext)
	if err != nil {
		return LiveHop{}, routeErr(HopDecodeProblem, err.Error())
	}
	var w wireHop
	if err := cborUnmarshalPrefix(plain, &w); err != nil {
		return LiveHop{}, routeErr(HopDeserializationProblem, err.Error())
	}
	return fromWire(w), nil
}

// NextHop decrypts, but does not consume, the top hop.
func (r *Route) NextHop(cd cryptde.CryptDE) (LiveHop, error) {
	if len(r.Hops) == 0 {
		return LiveHop{}, routeErr(EmptyRoute, "")
	}
	return decodeHop(cd, r.Hops[0])
}

// Shift decrypts the top hop, removes it, and appends a garbage blob of the
// same byte length so the route's hop count and total byte length are
// invariant across calls.
func (r *Route) Shift(cd cryptde.CryptDE) (LiveHop, error) {
	if len(r.Hops) == 0 {
		return LiveHop{}, routeErr(EmptyRoute, "")
	}
	top := r.Hops[0]
	hop, err := decodeHop(cd, top)
	if err != nil {
		return LiveHop{}, err
	}
	garbage := cryptde.CryptData(wireformat.Garbage(len(top)))
	r.Hops = append(append([]cryptde.CryptData(nil), r.Hops[1:]...), garbage)
	return hop, nil
}

// Clone returns a deep copy of the route; routes are value-semantic and
// cheap to clone.
func (r Route) Clone() Route {
	hops := make([]cryptde.CryptData, len(r.Hops))
	for i, h := range r.Hops {
		hops[i] = append(cryptde.CryptData(nil), h...)
	}
	return Route{Hops: hops}
}
