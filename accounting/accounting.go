// Package accounting defines the exit-service billing message the Exit
// Actor reports to the accountant, and the Recipient contract the
// accountant collaborator implements. The accountant's ledger persistence
// itself is out of scope; this package specifies only the message
// crossed with it.
package accounting

import "github.com/duskcairn/exitrelay/cryptde"

// ReportExitServiceProvidedMessage is sent once per accepted inbound chunk
// while a stream is billable.
type ReportExitServiceProvidedMessage struct {
	ConsumingWallet cryptde.Wallet
	PayloadSize     int
	ServiceRate     uint64
	ByteRate        uint64
}

// Recipient is the accountant collaborator's inbound contract.
type Recipient interface {
	Report(msg ReportExitServiceProvidedMessage)
}
