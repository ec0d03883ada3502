// Package wireformat holds the self-describing binary codec and the message
// types that cross the wire between nodes. Any self-describing binary
// format with maps, arrays, byte strings, and tagged variants would do;
// this module uses CBOR.
package wireformat

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/duskcairn/exitrelay/cryptde"
)

// GarbageByte is the sentinel fill value for garbage hops and plaintext
// padding: 0x34, the ASCII '4'. Chosen so it is visible in hexdumps and is
// not a valid leading byte of a serialized LiveHop.
const GarbageByte = 0x34

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wireformat: building canonical CBOR encoder: %v", err))
	}
	return mode
}

// Marshal produces a canonical CBOR encoding of v. Canonical encoding is
// required for a round-trip fixpoint: the same
// logical value always serializes to the same bytes.
func Marshal(v interface{}) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor marshal: %w", err)
	}
	return b, nil
}

// Unmarshal decodes a single well-formed CBOR item from the prefix of buf,
// ignoring any trailing bytes. This lets callers store a CBOR item inside a
// larger fixed-size, sentinel-padded buffer (used for hop plaintexts) without
// needing an explicit length prefix.
func Unmarshal(buf []byte, v interface{}) error {
	dec := cbor.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("cbor unmarshal: %w", err)
	}
	return nil
}

// PadRight returns data padded on the right with GarbageByte out to length.
// It panics if data is already longer than length: callers are expected to
// size `length` generously enough that real payloads never overflow it.
func PadRight(data []byte, length int) []byte {
	if len(data) > length {
		panic(fmt.Sprintf("wireformat: data of %d bytes exceeds pad length %d", len(data), length))
	}
	out := make([]byte, length)
	copy(out, data)
	for i := len(data); i < length; i++ {
		out[i] = GarbageByte
	}
	return out
}

// Garbage returns a length-byte blob filled entirely with GarbageByte, used
// for the hop a Route.Shift appends in place of the one it consumed.
func Garbage(length int) []byte {
	out := make([]byte, length)
	for i := range out {
		out[i] = GarbageByte
	}
	return out
}

// Encodex serializes value with Marshal, then encrypts the result to pk
// using cd. It lives here rather than
// in package cryptde so that cryptde never needs to depend on a specific
// serialization library.
func Encodex[T any](cd cryptde.CryptDE, pk cryptde.PublicKey, value T) (cryptde.CryptData, error) {
	plain, err := Marshal(value)
	if err != nil {
		return nil, err
	}
	return cd.Encode(pk, plain)
}

// Decodex decrypts ciphertext with cd, then deserializes the plaintext into
// a T.
func Decodex[T any](cd cryptde.CryptDE, ciphertext cryptde.CryptData) (T, error) {
	var zero T
	plain, err := cd.Decode(ciphertext)
	if err != nil {
		return zero, err
	}
	var out T
	if err := Unmarshal(plain, &out); err != nil {
		return zero, err
	}
	return out, nil
}
