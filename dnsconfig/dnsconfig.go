// Package dnsconfig reads the host's /etc/resolv.conf to discover active
// fallback nameservers. The OS DNS configuration inspector is treated
// elsewhere as an external collaborator, interface-only; this package
// supplements that with a concrete implementation, since the grammar is
// small and self-contained enough to verify directly.
package dnsconfig

import (
	"fmt"
	"net"
	"os"
	"regexp"
)

// ErrorKind enumerates the ways resolv.conf inspection can fail.
type ErrorKind int

const (
	InvalidConfigFile ErrorKind = iota
	BadEntryFormat
	NotConnected
)

func (k ErrorKind) String() string {
	switch k {
	case BadEntryFormat:
		return "BadEntryFormat"
	case NotConnected:
		return "NotConnected"
	default:
		return "InvalidConfigFile"
	}
}

// Error is a typed resolv.conf inspection failure. For BadEntryFormat, Msg
// carries the unparseable address token; for InvalidConfigFile, the
// file-error detail.
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

var (
	activeNameserverRe = regexp.MustCompile(`(?m)(^|\n)\s*(nameserver\s+[^\s]*)`)
	nameserverLineRe    = regexp.MustCompile(`^\s*nameserver\s+([^\s#]*)`)
)

// Inspector reads nameservers out of a resolv.conf-format file rooted at a
// configurable path, so tests can point it at a fixture instead of the real
// /etc/resolv.conf.
type Inspector struct {
	path string
}

// New builds an Inspector reading the real /etc/resolv.conf.
func New() *Inspector { return &Inspector{path: "/etc/resolv.conf"} }

// NewAt builds an Inspector reading the given path; used by tests.
func NewAt(path string) *Inspector { return &Inspector{path: path} }

// Inspect returns the active nameserver addresses, or a typed Error.
func (i *Inspector) Inspect() ([]net.IP, error) {
	raw, err := os.ReadFile(i.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Kind: InvalidConfigFile, Msg: i.path + " was not found"}
		}
		return nil, &Error{Kind: InvalidConfigFile, Msg: err.Error()}
	}
	return InspectContents(string(raw))
}

// InspectContents implements the parsing rule directly, independent of any
// filesystem access: every line whose first non-whitespace token is
// "nameserver" followed by whitespace and a token is a candidate; lines with
// more than two tokens keep only the first address-shaped token; a line with
// an unparseable address is BadEntryFormat(address) unless at least one other
// line in the file parsed successfully, in which case the bad line is
// silently dropped — matching the reference's partition-by-success logic.
func InspectContents(contents string) ([]net.IP, error) {
	lines := activeNameservers(contents)

	type result struct {
		line string
		ip   net.IP
		err  *Error
	}
	results := make([]result, 0, len(lines))
	for _, line := range lines {
		token, err := nameserverLineToken(line)
		if err != nil {
			results = append(results, result{line: line, err: err})
			continue
		}
		ip := net.ParseIP(token)
		if ip == nil {
			results = append(results, result{line: line, err: &Error{Kind: BadEntryFormat, Msg: token}})
			continue
		}
		results = append(results, result{line: line, ip: ip})
	}

	var ips []net.IP
	var firstErr *Error
	for _, r := range results {
		if r.err == nil {
			ips = append(ips, r.ip)
		} else if firstErr == nil {
			firstErr = r.err
		}
	}

	switch {
	case len(results) == 0:
		return nil, &Error{Kind: NotConnected}
	case len(ips) == 0:
		return nil, firstErr
	default:
		return ips, nil
	}
}

// activeNameservers extracts every "nameserver <token...>" occurrence,
// trimmed to at most two whitespace-separated words (so a line with more
// than two tokens still yields only the leading address-shaped token once
// nameserverLineToken runs its own single-token capture).
func activeNameservers(contents string) []string {
	matches := activeNameserverRe.FindAllStringSubmatch(contents, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[2])
	}
	return out
}

func nameserverLineToken(line string) (string, *Error) {
	m := nameserverLineRe.FindStringSubmatch(line)
	if m == nil {
		return "", &Error{Kind: BadEntryFormat, Msg: line}
	}
	return m[1], nil
}
