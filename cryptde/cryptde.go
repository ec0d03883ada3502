// Package cryptde is the crypto primitive layer: asymmetric encode/decode of
// opaque byte blobs keyed by an opaque public-key identity. Every higher
// layer (route, corespkg, exitactor) treats this as the sole place key
// material and ciphertext shape are defined.
package cryptde

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/sha3"
)

// PublicKey is an opaque node identity. The zero-length PublicKey is the
// sentinel for "end of route" (see route.Route).
type PublicKey []byte

// Equal reports whether two public keys hold the same bytes.
func (k PublicKey) Equal(other PublicKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// IsEmpty reports whether this is the end-of-route sentinel.
func (k PublicKey) IsEmpty() bool { return len(k) == 0 }

// CryptData is an opaque ciphertext or padding blob.
type CryptData []byte

// Wallet is an opaque payer identifier. Its presence on a hop authorizes
// billable exit service; its absence means the hop is zero-hop-free.
type Wallet string

// ErrorKind enumerates the ways encode/decode can fail.
type ErrorKind int

const (
	// OtherError is an unclassified failure (e.g. malformed ciphertext).
	OtherError ErrorKind = iota
	// EmptyKeyErr means encode was attempted against a zero-length recipient
	// key. This is the mechanism by which end-of-route is detected.
	EmptyKeyErr
	// EmptyDataErr means encode/decode was attempted on zero-length data.
	EmptyDataErr
	// SerializationErr means the plaintext could not be marshaled/unmarshaled.
	SerializationErr
)

func (k ErrorKind) String() string {
	switch k {
	case EmptyKeyErr:
		return "EmptyKey"
	case EmptyDataErr:
		return "EmptyData"
	case SerializationErr:
		return "SerializationError"
	default:
		return "OtherError"
	}
}

// Error is a typed crypto-primitive failure.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func newErr(kind ErrorKind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

// CryptDE is the local node's cryptographic identity: it can encode
// plaintext for any recipient's declared public key, and decode ciphertext
// that was encoded for its own public key.
type CryptDE interface {
	PublicKey() PublicKey
	Encode(recipient PublicKey, plaintext []byte) (CryptData, error)
	Decode(ciphertext CryptData) ([]byte, error)
	// EncodeOverhead is the number of bytes Encode adds beyond len(plaintext).
	// Callers that must keep all hops on a route the same byte length use
	// this to compute the resulting ciphertext size without encoding.
	EncodeOverhead() int
}

const (
	nonceLen  = 24
	keyLen    = 32
	kdfDomain = "exitrelay-cryptde-v1"
)

// deriveSecretboxKey folds an X25519 shared secret through SHAKE256 to
// produce the symmetric key used to seal/open the payload, the same
// shared-secret-into-SHAKE256 shape used to turn ECDH output into
// symmetric key material, adapted here to derive a single NaCl secretbox
// key instead of an AES key/IV/MAC-key triple.
func deriveSecretboxKey(sharedSecret []byte) (key [keyLen]byte) {
	shake := sha3.NewShake256()
	shake.Write(sharedSecret)
	shake.Write([]byte(kdfDomain))
	_, _ = shake.Read(key[:])
	return key
}

// RealCryptDE implements CryptDE with an X25519 ephemeral-sender / static-
// recipient construction: Encode generates a fresh ephemeral keypair per
// call, derives a shared secret via Curve25519 scalar multiplication, folds
// it through SHAKE256 into a NaCl secretbox key, and prepends the ephemeral
// public key and nonce to the sealed ciphertext, so EncodeOverhead is
// constant regardless of recipient.
type RealCryptDE struct {
	privateKey [keyLen]byte
	publicKey  [keyLen]byte
}

// NewReal builds a RealCryptDE around a local static private key, deriving
// the corresponding public key via Curve25519 scalar multiplication of the
// base point.
func NewReal(privateKey [keyLen]byte) (*RealCryptDE, error) {
	pub, err := curve25519.X25519(privateKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	cd := &RealCryptDE{privateKey: privateKey}
	copy(cd.publicKey[:], pub)
	return cd, nil
}

// GenerateReal creates a RealCryptDE with a freshly generated private key.
func GenerateReal() (*RealCryptDE, error) {
	var priv [keyLen]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	return NewReal(priv)
}

func (cd *RealCryptDE) PublicKey() PublicKey { return PublicKey(append([]byte(nil), cd.publicKey[:]...)) }

func (cd *RealCryptDE) EncodeOverhead() int { return keyLen + nonceLen + secretbox.Overhead }

func (cd *RealCryptDE) Encode(recipient PublicKey, plaintext []byte) (CryptData, error) {
	if recipient.IsEmpty() {
		return nil, newErr(EmptyKeyErr, "recipient key is empty")
	}
	if len(plaintext) == 0 {
		return nil, newErr(EmptyDataErr, "plaintext is empty")
	}
	if len(recipient) != keyLen {
		return nil, newErr(OtherError, fmt.Sprintf("recipient key must be %d bytes, got %d", keyLen, len(recipient)))
	}

	var recipientKey [keyLen]byte
	copy(recipientKey[:], recipient)

	var ephPriv [keyLen]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return nil, newErr(OtherError, "generate ephemeral key: "+err.Error())
	}
	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, newErr(OtherError, "derive ephemeral public key: "+err.Error())
	}
	shared, err := curve25519.X25519(ephPriv[:], recipientKey[:])
	if err != nil {
		return nil, newErr(OtherError, "compute shared secret: "+err.Error())
	}
	key := deriveSecretboxKey(shared)

	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, newErr(OtherError, "generate nonce: "+err.Error())
	}

	out := make([]byte, 0, keyLen+nonceLen+len(plaintext)+secretbox.Overhead)
	out = append(out, ephPub...)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, plaintext, &nonce, &key)
	return CryptData(out), nil
}

func (cd *RealCryptDE) Decode(ciphertext CryptData) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, newErr(EmptyDataErr, "ciphertext is empty")
	}
	if len(ciphertext) < keyLen+nonceLen+secretbox.Overhead {
		return nil, newErr(OtherError, "ciphertext too short")
	}
	var ephPub [keyLen]byte
	copy(ephPub[:], ciphertext[:keyLen])
	var nonce [nonceLen]byte
	copy(nonce[:], ciphertext[keyLen:keyLen+nonceLen])
	sealed := ciphertext[keyLen+nonceLen:]

	shared, err := curve25519.X25519(cd.privateKey[:], ephPub[:])
	if err != nil {
		return nil, newErr(OtherError, "compute shared secret: "+err.Error())
	}
	key := deriveSecretboxKey(shared)

	plaintext, ok := secretbox.Open(nil, sealed, &nonce, &key)
	if !ok {
		return nil, newErr(OtherError, "secretbox open failed: wrong key or corrupted ciphertext")
	}
	return plaintext, nil
}

// NullCryptDE is a deterministic test double. It "encodes" by XOR-folding
// the plaintext against the recipient key repeated to length and prepending
// the recipient key so Decode can recover it; it never fails on malformed
// input the way a real AEAD would, which makes it useful for exercising
// route/corespkg logic without dragging real crypto into every test.
type NullCryptDE struct {
	publicKey PublicKey
}

// NewNull builds a NullCryptDE whose public key is also its "private" key:
// Decode only succeeds against ciphertext whose embedded recipient key
// equals this instance's public key.
func NewNull(publicKey PublicKey) *NullCryptDE {
	return &NullCryptDE{publicKey: publicKey}
}

func (cd *NullCryptDE) PublicKey() PublicKey { return cd.publicKey }

// EncodeOverhead returns 1+len(own public key). Encode actually adds
// 1+len(recipient), so the value is exact only for recipients whose key is
// as long as this instance's own.
func (cd *NullCryptDE) EncodeOverhead() int { return 1 + len(cd.publicKey) }

func xorFold(data, key []byte) []byte {
	if len(key) == 0 {
		return append([]byte(nil), data...)
	}
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ key[i%len(key)]
	}
	return out
}

func (cd *NullCryptDE) Encode(recipient PublicKey, plaintext []byte) (CryptData, error) {
	if recipient.IsEmpty() {
		return nil, newErr(EmptyKeyErr, "recipient key is empty")
	}
	if len(plaintext) == 0 {
		return nil, newErr(EmptyDataErr, "plaintext is empty")
	}
	out := make([]byte, 0, 1+len(recipient)+len(plaintext))
	out = append(out, byte(len(recipient)))
	out = append(out, recipient...)
	out = append(out, xorFold(plaintext, recipient)...)
	return CryptData(out), nil
}

func (cd *NullCryptDE) Decode(ciphertext CryptData) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, newErr(EmptyDataErr, "ciphertext is empty")
	}
	klen := int(ciphertext[0])
	if len(ciphertext) < 1+klen {
		return nil, newErr(OtherError, "truncated null-cryptde ciphertext")
	}
	recipient := PublicKey(ciphertext[1 : 1+klen])
	if !recipient.Equal(cd.publicKey) {
		return nil, newErr(OtherError, "null-cryptde: ciphertext not addressed to this key")
	}
	return xorFold(ciphertext[1+klen:], recipient), nil
}

var (
	_ CryptDE = (*RealCryptDE)(nil)
	_ CryptDE = (*NullCryptDE)(nil)
)
