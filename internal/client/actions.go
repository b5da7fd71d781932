package client

import (
	"net/netip"
	"time"

	"github.com/crypticterminal/ndhc/internal/dhcpwire"
)

// ActionKind names one side effect the event loop must carry out on behalf
// of the state machine. Keeping Machine's handlers pure (they return actions
// rather than touching sockets directly) is what makes the transition table
// testable without fake connections.
type ActionKind uint8

// Action kinds.
const (
	ActionNone ActionKind = iota

	// ActionSendBroadcast sends Message as a raw broadcast frame.
	ActionSendBroadcast

	// ActionSendUnicast sends Message via the cooked UDP socket to Dest.
	ActionSendUnicast

	// ActionSendARPProbe sends an ARP request probing Dest (sender address
	// depends on the caller: 0.0.0.0 for a collision probe, the bound
	// address for a gateway check).
	ActionSendARPProbe

	// ActionOpenListenRaw opens the raw DHCP listen socket.
	ActionOpenListenRaw

	// ActionOpenListenCooked opens the cooked UDP:68 listen socket.
	ActionOpenListenCooked

	// ActionCloseListen closes whichever DHCP listen socket is open.
	ActionCloseListen

	// ActionOpenARP opens the ARP probe socket.
	ActionOpenARP

	// ActionCloseARP closes the ARP probe socket.
	ActionCloseARP

	// ActionConfigure tells the ifchd client to apply Message's lease data
	// (Dest holds the client address, Message the ACK carrying the options
	// to translate).
	ActionConfigure

	// ActionDeconfigure tells the ifchd client to zero the interface's
	// configuration.
	ActionDeconfigure

	// ActionSetTimeout schedules the next timeout-handler invocation after
	// Timeout elapses, relative to now.
	ActionSetTimeout

	// ActionCancelTimeout clears any pending deadline; RELEASED waits
	// indefinitely for a force-renew.
	ActionCancelTimeout

	// ActionExitAbort tells main to exit nonzero: abort_if_no_lease after
	// three failed SELECTING cycles.
	ActionExitAbort

	// ActionExitClean tells main to exit zero after quit_after_lease. A
	// SIGTERM shutdown is handled by the event loop directly and does not
	// go through this action.
	ActionExitClean

	// ActionBackground tells the event loop to call its Background hook,
	// once a first lease attempt has failed with background_if_no_lease
	// set. The hook installed by cmd/ndhc only logs; the process does not
	// detach from its controlling terminal.
	ActionBackground
)

// Action is one effect for the event loop to carry out after a Dispatch
// call returns.
type Action struct {
	Message *dhcpwire.Message

	// Dest is the destination address: the unicast peer for
	// ActionSendUnicast, or the address under probe for ActionSendARPProbe.
	Dest netip.Addr

	// Sender is the sender protocol address an ActionSendARPProbe stamps on
	// the request; the zero Addr means the unspecified address (a collision
	// probe, where no address is held yet).
	Sender netip.Addr

	Timeout  time.Duration
	Kind     ActionKind
	ExitCode int
}
