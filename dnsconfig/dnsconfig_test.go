package dnsconfig

import (
	"net"
	"testing"
)

// TestInspectContentsHappyPath mirrors scenario S1.
func TestInspectContentsHappyPath(t *testing.T) {
	contents := "#comment\n## nameserver 1.1.1.1\nnameserver 8.8.8.8\n" +
		"nameserver 2603:6011:b504:bf01:2ad:24ff:fe57:fd78\n#nameserver 127.0.0.1\n"

	ips, err := InspectContents(contents)
	if err != nil {
		t.Fatalf("InspectContents: %v", err)
	}
	want := []net.IP{net.ParseIP("8.8.8.8"), net.ParseIP("2603:6011:b504:bf01:2ad:24ff:fe57:fd78")}
	if len(ips) != len(want) {
		t.Fatalf("got %d addresses, want %d: %v", len(ips), len(want), ips)
	}
	for i := range want {
		if !ips[i].Equal(want[i]) {
			t.Fatalf("ips[%d] = %v, want %v", i, ips[i], want[i])
		}
	}
}

// TestInspectContentsEmptyFile mirrors scenario S2.
func TestInspectContentsEmptyFile(t *testing.T) {
	_, err := InspectContents("")
	dnsErr, ok := err.(*Error)
	if !ok || dnsErr.Kind != NotConnected {
		t.Fatalf("got %v, want NotConnected", err)
	}
}

// TestInspectContentsBadIP mirrors scenario S3.
func TestInspectContentsBadIP(t *testing.T) {
	_, err := InspectContents("nameserver 300.301.302.303")
	dnsErr, ok := err.(*Error)
	if !ok || dnsErr.Kind != BadEntryFormat || dnsErr.Msg != "300.301.302.303" {
		t.Fatalf("got %v, want BadEntryFormat(300.301.302.303)", err)
	}
}

func TestInspectContentsMixedGoodAndBadKeepsOnlyGood(t *testing.T) {
	contents := "nameserver 8.8.8.8\nnameserver not-an-ip\n"
	ips, err := InspectContents(contents)
	if err != nil {
		t.Fatalf("InspectContents: %v", err)
	}
	if len(ips) != 1 || !ips[0].Equal(net.ParseIP("8.8.8.8")) {
		t.Fatalf("got %v, want only 8.8.8.8", ips)
	}
}

func TestNameserverLineHandlesLeadingWhitespaceAndComment(t *testing.T) {
	lines := activeNameservers("  \t  \tnameserver  \t  \t 9.9.9.9  \t\t  # comment #")
	if len(lines) != 1 {
		t.Fatalf("got %d active nameserver lines, want 1: %v", len(lines), lines)
	}
	token, derr := nameserverLineToken(lines[0])
	if derr != nil {
		t.Fatalf("nameserverLineToken: %v", derr)
	}
	if token != "9.9.9.9" {
		t.Fatalf("token = %q, want 9.9.9.9", token)
	}
}

func TestNameserverLineKeepsOnlyFirstTokenWhenMoreThanTwoWords(t *testing.T) {
	lines := activeNameservers("nameserver 8.8.8.8 extra-token\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	token, derr := nameserverLineToken(lines[0])
	if derr != nil {
		t.Fatalf("nameserverLineToken: %v", derr)
	}
	if token != "8.8.8.8" {
		t.Fatalf("token = %q, want 8.8.8.8", token)
	}
}

func FuzzInspectContents(f *testing.F) {
	f.Add("nameserver 8.8.8.8\n")
	f.Add("")
	f.Add("nameserver 300.301.302.303")
	f.Add("garbage\nnameserver\n")

	f.Fuzz(func(t *testing.T, contents string) {
		// Must never panic on arbitrary file contents.
		_, _ = InspectContents(contents)
	})
}
