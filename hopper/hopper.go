// Package hopper specifies the outbound message crossed with the hopper
// routing layer. The hopper itself — path selection, neighborhood gossip,
// transport framing — is out of scope; this package is the external
// collaborator's send-side contract only.
package hopper

import "github.com/duskcairn/exitrelay/corespkg"

// Sender is the hopper collaborator's inbound contract: it accepts
// IncipientCoresPackages built by the Exit Actor and routes them onward.
type Sender interface {
	Send(icp corespkg.IncipientCoresPackage)
}
