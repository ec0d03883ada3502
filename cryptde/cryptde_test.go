package cryptde

import (
	"bytes"
	"testing"
)

func TestRealCryptDERoundTrip(t *testing.T) {
	alice, err := GenerateReal()
	if err != nil {
		t.Fatalf("GenerateReal: %v", err)
	}
	bob, err := GenerateReal()
	if err != nil {
		t.Fatalf("GenerateReal: %v", err)
	}

	plaintext := []byte("exit relay test payload")
	ct, err := alice.Encode(bob.PublicKey(), plaintext)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := bob.Decode(ct)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestRealCryptDEEncodeOverheadMatchesActual(t *testing.T) {
	cd, err := GenerateReal()
	if err != nil {
		t.Fatalf("GenerateReal: %v", err)
	}
	plaintext := []byte("fixed-length hop content")
	ct, err := cd.Encode(cd.PublicKey(), plaintext)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got, want := len(ct)-len(plaintext), cd.EncodeOverhead(); got != want {
		t.Fatalf("EncodeOverhead() = %d, actual overhead = %d", want, got)
	}
}

func TestRealCryptDEEmptyKeyRejected(t *testing.T) {
	cd, err := GenerateReal()
	if err != nil {
		t.Fatalf("GenerateReal: %v", err)
	}
	_, err = cd.Encode(PublicKey{}, []byte("x"))
	cryptErr, ok := err.(*Error)
	if !ok || cryptErr.Kind != EmptyKeyErr {
		t.Fatalf("Encode against empty key: got %v, want EmptyKeyErr", err)
	}
}

func TestRealCryptDEEmptyDataRejected(t *testing.T) {
	cd, err := GenerateReal()
	if err != nil {
		t.Fatalf("GenerateReal: %v", err)
	}
	_, err = cd.Encode(cd.PublicKey(), nil)
	cryptErr, ok := err.(*Error)
	if !ok || cryptErr.Kind != EmptyDataErr {
		t.Fatalf("Encode against empty data: got %v, want EmptyDataErr", err)
	}
}

func TestRealCryptDEWrongRecipientFailsToDecode(t *testing.T) {
	alice, _ := GenerateReal()
	bob, _ := GenerateReal()
	eve, _ := GenerateReal()

	ct, err := alice.Encode(bob.PublicKey(), []byte("secret"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := eve.Decode(ct); err == nil {
		t.Fatal("expected decode failure for wrong recipient key")
	}
}

func TestNullCryptDERoundTrip(t *testing.T) {
	pk := PublicKey("bob-null-key")
	cd := NewNull(pk)

	plaintext := []byte("deterministic test payload")
	ct, err := cd.Encode(pk, plaintext)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := cd.Decode(ct)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestNullCryptDEEncodeOverheadMatchesActual(t *testing.T) {
	cd := NewNull(PublicKey("some-key-material"))
	plaintext := []byte("abc")
	ct, err := cd.Encode(cd.PublicKey(), plaintext)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got, want := len(ct)-len(plaintext), cd.EncodeOverhead(); got != want {
		t.Fatalf("EncodeOverhead() = %d, actual overhead = %d", want, got)
	}
}

func TestNullCryptDEWrongRecipientFailsToDecode(t *testing.T) {
	cd := NewNull(PublicKey("key-a"))
	other := NewNull(PublicKey("key-b"))

	ct, err := other.Encode(other.PublicKey(), []byte("hi"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := cd.Decode(ct); err == nil {
		t.Fatal("expected decode failure for ciphertext addressed to a different key")
	}
}

func TestPublicKeyEqualAndIsEmpty(t *testing.T) {
	var empty PublicKey
	if !empty.IsEmpty() {
		t.Fatal("zero-value PublicKey should be empty")
	}
	a := PublicKey("same")
	b := PublicKey("same")
	c := PublicKey("different")
	if !a.Equal(b) {
		t.Fatal("equal byte sequences should compare equal")
	}
	if a.Equal(c) {
		t.Fatal("different byte sequences should not compare equal")
	}
}

func FuzzRealCryptDEDecode(f *testing.F) {
	cd, err := GenerateReal()
	if err != nil {
		f.Fatalf("GenerateReal: %v", err)
	}
	good, _ := cd.Encode(cd.PublicKey(), []byte("seed payload"))
	f.Add([]byte(good))
	f.Add([]byte{})
	f.Add([]byte{0x00, 0x01, 0x02})

	f.Fuzz(func(t *testing.T, data []byte) {
		// Must never panic on arbitrary attacker-controlled ciphertext.
		_, _ = cd.Decode(CryptData(data))
	})
}
