package client

import (
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/timeutil"

	"github.com/crypticterminal/ndhc/internal/arpprobe"
	"github.com/crypticterminal/ndhc/internal/dhcpwire"
)

// ClientState is the per-process mutable state the dispatch table reads and
// updates.
type ClientState struct {
	// LeaseStart is when the current lease was accepted.
	LeaseStart time.Time

	// Timeout is the next deadline the loop should wake the state machine
	// for, or the zero Time if there is none (RELEASED waits forever).
	Timeout time.Time

	// RouterArp is the default gateway's last-known hardware address.
	RouterArp net.HardwareAddr

	// ifMAC is the client's own hardware address.
	ifMAC net.HardwareAddr

	ClientAddr netip.Addr
	ServerAddr netip.Addr
	RouterAddr netip.Addr

	// offerAddr/offerServer hold the candidate values between DHCPOFFER and
	// DHCPACK, before they are committed to ClientAddr/ServerAddr.
	offerAddr   netip.Addr
	offerServer netip.Addr

	State     State
	PrevState State

	Xid uint32

	Lease time.Duration
	T1    time.Duration
	T2    time.Duration

	ifIndex int

	NumDHCPRequests  int
	discoverCycles   int
	lastProbeAttempt time.Time

	// probeDeadline is the absolute end of the current ARP probe window;
	// timeouts before it retransmit the probe, the first timeout at or past
	// it resolves the COLLISION_CHECK/BOUND_GW_CHECK state.
	probeDeadline time.Time

	// Init is true until the first lease is accepted; it gates the one-time
	// backgrounding after a failed first discover cycle.
	Init bool

	// LastAck is the most recently accepted DHCPACK, kept so the loop can
	// translate its options into an ifchd.Record when ActionConfigure fires.
	LastAck *dhcpwire.Message
}

// Machine drives ClientState through the per-state dispatch table. Its
// handlers are pure: they read and update ClientState and return the Actions
// the event loop must perform, rather than touching sockets themselves.
type Machine struct {
	cfg   *Config
	clock timeutil.Clock
	log   *slog.Logger

	State ClientState
}

// NewMachine returns a Machine for cfg, starting in SELECTING with a fresh
// xid. There is no persisted lease cache, so every startup negotiates from
// scratch.
func NewMachine(cfg *Config, clock timeutil.Clock, mac net.HardwareAddr, ifIndex int) (m *Machine) {
	m = &Machine{
		cfg:   cfg,
		clock: clock,
		log:   cfg.Logger,
		State: ClientState{
			State:   Selecting,
			Xid:     newXid(),
			ifMAC:   mac,
			ifIndex: ifIndex,
			Init:    true,
		},
	}

	return m
}

// discoverMessage builds a DHCPDISCOVER for the current xid.
func (m *Machine) discoverMessage() (msg *dhcpwire.Message) {
	msg = dhcpwire.NewHeader(m.State.Xid, m.State.ifMAC)
	msg.SetBroadcast()
	_ = msg.AddOption(dhcpwire.OptMessageType, []byte{byte(dhcpwire.MsgDiscover)})
	_ = msg.AddOption(dhcpwire.OptMaxMessageSize, []byte{0x02, 0x40}) // 576
	if m.cfg.RequestedAddr != nil {
		if reqIP, ok := netip.AddrFromSlice(m.cfg.RequestedAddr.To4()); ok {
			a := reqIP.As4()
			_ = msg.AddOption(dhcpwire.OptRequestedIP, a[:])
		}
	}
	m.addIdentityOptions(msg)
	_ = msg.AddRequests()

	return msg
}

// requestMessage builds the broadcast DHCPREQUEST that answers an offer: it
// names the offered address and the chosen server via the requested-ip and
// server-id options, per RFC 2131 §4.3.2's SELECTING rules.
func (m *Machine) requestMessage(reqIP, serverID netip.Addr) (msg *dhcpwire.Message) {
	msg = dhcpwire.NewHeader(m.State.Xid, m.State.ifMAC)
	msg.SetBroadcast()
	_ = msg.AddOption(dhcpwire.OptMessageType, []byte{byte(dhcpwire.MsgRequest)})
	if reqIP.IsValid() {
		a := reqIP.As4()
		_ = msg.AddOption(dhcpwire.OptRequestedIP, a[:])
	}
	if serverID.IsValid() {
		a := serverID.As4()
		_ = msg.AddOption(dhcpwire.OptServerID, a[:])
	}
	m.addIdentityOptions(msg)
	_ = msg.AddRequests()

	return msg
}

// renewMessage builds the DHCPREQUEST sent while RENEWING or REBINDING. The
// held address travels in ciaddr on both the unicast and the broadcast path;
// RFC 2131 §4.3.6 forbids requested-ip and server-id here, so neither is
// added.
func (m *Machine) renewMessage() (msg *dhcpwire.Message) {
	msg = dhcpwire.NewHeader(m.State.Xid, m.State.ifMAC)
	msg.CIAddr = m.State.ClientAddr
	_ = msg.AddOption(dhcpwire.OptMessageType, []byte{byte(dhcpwire.MsgRequest)})
	m.addIdentityOptions(msg)
	_ = msg.AddRequests()

	return msg
}

// addIdentityOptions stamps the client-id, host-name, and vendor-class
// options carried by every client-originated message.
func (m *Machine) addIdentityOptions(msg *dhcpwire.Message) {
	if m.cfg.ClientID != "" {
		_ = msg.AddOption(dhcpwire.OptClientID, []byte(m.cfg.ClientID))
	}
	if m.cfg.Hostname != "" {
		_ = msg.AddOption(dhcpwire.OptHostname, []byte(m.cfg.Hostname))
	}
	_ = msg.AddOption(dhcpwire.OptVendorClassID, []byte(m.cfg.vendorClassID()))
}

// releaseMessage builds a DHCPRELEASE. Every release draws a fresh xid; the
// negotiation xid it replaces is dead with the lease.
func (m *Machine) releaseMessage() (msg *dhcpwire.Message) {
	m.State.Xid = newXid()

	msg = dhcpwire.NewHeader(m.State.Xid, m.State.ifMAC)
	msg.CIAddr = m.State.ClientAddr
	_ = msg.AddOption(dhcpwire.OptMessageType, []byte{byte(dhcpwire.MsgRelease)})
	a := m.State.ServerAddr.As4()
	_ = msg.AddOption(dhcpwire.OptServerID, a[:])

	return msg
}

// declineMessage builds a DHCPDECLINE for a collision found on offeredIP.
func (m *Machine) declineMessage(offeredIP, serverID netip.Addr) (msg *dhcpwire.Message) {
	msg = dhcpwire.NewHeader(m.State.Xid, m.State.ifMAC)
	_ = msg.AddOption(dhcpwire.OptMessageType, []byte{byte(dhcpwire.MsgDecline)})
	a := offeredIP.As4()
	_ = msg.AddOption(dhcpwire.OptRequestedIP, a[:])
	s := serverID.As4()
	_ = msg.AddOption(dhcpwire.OptServerID, s[:])

	return msg
}

// setTimeout returns an ActionSetTimeout action and records the absolute
// deadline in ClientState.
func (m *Machine) setTimeout(d time.Duration) (a Action) {
	m.State.Timeout = m.clock.Now().Add(d)

	return Action{Kind: ActionSetTimeout, Timeout: d}
}

// cancelTimeout returns an ActionCancelTimeout action and clears the
// deadline, used for RELEASED.
func (m *Machine) cancelTimeout() (a Action) {
	m.State.Timeout = time.Time{}

	return Action{Kind: ActionCancelTimeout}
}

// resetSelecting clears the negotiation fields for a fresh SELECTING cycle:
// new xid, zeroed retry counter, and no candidate addresses.
func (m *Machine) resetSelecting() {
	m.State.State = Selecting
	m.State.Xid = newXid()
	m.State.NumDHCPRequests = 0
	m.State.ClientAddr = netip.Addr{}
	m.State.ServerAddr = netip.Addr{}
	m.State.offerAddr = netip.Addr{}
	m.State.offerServer = netip.Addr{}
}

// enterSelecting resets the negotiation state and returns the actions that
// (re)open the raw socket and send the first DISCOVER.
func (m *Machine) enterSelecting() (actions []Action) {
	m.resetSelecting()

	actions = append(actions, Action{Kind: ActionCloseListen})
	actions = append(actions, Action{Kind: ActionOpenListenRaw})
	actions = append(actions, Action{Kind: ActionSendBroadcast, Message: m.discoverMessage()})
	actions = append(actions, m.setTimeout(jitter(discoverBackoff[0])))
	m.State.NumDHCPRequests = 1

	return actions
}

// nakToSelecting performs the NAK transition shared by REQUESTING, RENEWING,
// and REBINDING: the negotiation restarts from scratch after a fixed
// cooldown, with the raw socket reopened so the post-cooldown DISCOVER has
// somewhere to go. deconfig is false when no configuration was ever applied
// (a NAK answering the first REQUEST).
func (m *Machine) nakToSelecting(deconfig bool) (actions []Action) {
	m.resetSelecting()

	actions = append(actions, Action{Kind: ActionCloseListen})
	if deconfig {
		actions = append(actions, Action{Kind: ActionDeconfigure})
	}
	actions = append(actions, Action{Kind: ActionOpenListenRaw})
	actions = append(actions, m.setTimeout(nakCooldown))

	return actions
}

// Dispatch runs one (state, event) step of the transition table and returns
// the actions the caller must perform. pkt is non-nil only for
// ev == EventPacket.
func (m *Machine) Dispatch(ev Event, pkt *dhcpwire.Message) (actions []Action) {
	switch ev {
	case EventLinkUp:
		return m.linkUp()
	case EventLinkDown:
		return m.linkDown()
	case EventCarrierLost:
		if m.log != nil {
			m.log.Info("interface carrier down")
		}

		return nil
	}

	switch m.State.State {
	case Selecting:
		return m.dispatchSelecting(ev, pkt)
	case Requesting:
		return m.dispatchRequesting(ev, pkt)
	case Bound:
		return m.dispatchBound(ev, pkt)
	case Renewing:
		return m.dispatchRenewing(ev, pkt)
	case Rebinding:
		return m.dispatchRebinding(ev, pkt)
	case CollisionCheck:
		return m.dispatchCollisionCheck(ev)
	case BoundGWCheck:
		return m.dispatchBoundGWCheck(ev)
	case Released:
		return m.dispatchReleased(ev)
	default:
		return nil
	}
}

func (m *Machine) dispatchSelecting(ev Event, pkt *dhcpwire.Message) (actions []Action) {
	switch ev {
	case EventPacket:
		typ, ok := pkt.MessageType()
		if !ok || typ != dhcpwire.MsgOffer {
			return nil
		}

		yiaddr, ok := pkt.YIAddr, pkt.YIAddr.IsValid()
		serverID, sok := pkt.GetIP(dhcpwire.OptServerID)
		if !ok || !sok {
			return nil
		}

		m.State.offerAddr = yiaddr
		m.State.offerServer = serverID
		m.State.State = Requesting
		m.State.NumDHCPRequests = 0

		actions = append(actions, Action{
			Kind:    ActionSendBroadcast,
			Message: m.requestMessage(yiaddr, serverID),
		})
		m.State.NumDHCPRequests++
		actions = append(actions, m.setTimeout(jitter(discoverBackoff[0])))

		return actions

	case EventTimeout:
		if m.State.NumDHCPRequests >= maxDiscoverAttempts {
			m.State.discoverCycles++
			if m.cfg.AbortIfNoLease && m.State.discoverCycles >= 3 {
				return []Action{{Kind: ActionExitAbort, ExitCode: 1}}
			}
			if m.cfg.RetryOnFailure && m.State.Init {
				m.State.Init = false
				actions = append(actions, Action{Kind: ActionBackground})
			}

			m.State.NumDHCPRequests = 0
			m.State.Xid = newXid()
		}

		idx := m.State.NumDHCPRequests
		if idx >= len(discoverBackoff) {
			idx = len(discoverBackoff) - 1
		}
		actions = append(actions, Action{Kind: ActionSendBroadcast, Message: m.discoverMessage()})
		actions = append(actions, m.setTimeout(jitter(discoverBackoff[idx])))
		m.State.NumDHCPRequests++

		return actions

	case EventForceRelease:
		return m.printRelease()

	default:
		return nil
	}
}

func (m *Machine) dispatchRequesting(ev Event, pkt *dhcpwire.Message) (actions []Action) {
	switch ev {
	case EventPacket:
		typ, ok := pkt.MessageType()
		if !ok {
			return nil
		}

		switch typ {
		case dhcpwire.MsgAck:
			return m.acceptAck(pkt, Requesting)
		case dhcpwire.MsgNak:
			// No configuration was applied yet, so there is nothing to
			// deconfigure.
			return m.nakToSelecting(false)
		default:
			return nil
		}

	case EventTimeout:
		if m.State.NumDHCPRequests >= maxRequestAttempts {
			return m.enterSelecting()
		}

		idx := m.State.NumDHCPRequests
		if idx >= len(discoverBackoff) {
			idx = len(discoverBackoff) - 1
		}
		actions = append(actions, Action{
			Kind:    ActionSendBroadcast,
			Message: m.requestMessage(m.State.offerAddr, m.State.offerServer),
		})
		actions = append(actions, m.setTimeout(jitter(discoverBackoff[idx])))
		m.State.NumDHCPRequests++

		return actions

	case EventForceRelease:
		return m.printRelease()

	default:
		return nil
	}
}

// acceptAck commits an ACK's lease fields and either starts a collision
// probe or, if the address is unchanged from the previous lease, goes
// straight to BOUND.
func (m *Machine) acceptAck(pkt *dhcpwire.Message, from State) (actions []Action) {
	prevAddr := m.State.ClientAddr

	m.State.Init = false
	m.State.ClientAddr = pkt.YIAddr
	m.State.LastAck = pkt
	if serverID, ok := pkt.GetIP(dhcpwire.OptServerID); ok {
		m.State.ServerAddr = serverID
	}

	leaseSecs, present := pkt.GetU32(dhcpwire.OptLeaseTime)
	m.State.Lease = normalizeLease(leaseSecs, present)
	m.State.T1, m.State.T2 = renewTimes(m.State.Lease)
	m.State.LeaseStart = m.clock.Now()

	if router, ok := pkt.GetIP(dhcpwire.OptRouter); ok {
		m.State.RouterAddr = router
	}

	m.State.PrevState = from
	if prevAddr.IsValid() && prevAddr == m.State.ClientAddr {
		return m.enterBound()
	}

	m.State.State = CollisionCheck
	m.State.probeDeadline = m.clock.Now().Add(arpprobe.Window)
	actions = append(actions, Action{Kind: ActionOpenARP})
	actions = append(actions, Action{
		Kind: ActionSendARPProbe,
		Dest: m.State.ClientAddr,
	})
	actions = append(actions, m.setTimeout(arpprobe.RetransmitInterval))

	return actions
}

// enterBound transitions into BOUND, closing the listen socket and handing
// the lease to the configurator.
func (m *Machine) enterBound() (actions []Action) {
	m.State.State = Bound
	actions = append(actions, Action{Kind: ActionCloseListen})
	actions = append(actions, Action{Kind: ActionCloseARP})
	actions = append(actions, Action{
		Kind:    ActionConfigure,
		Message: m.State.LastAck,
		Dest:    m.State.ClientAddr,
	})

	if m.cfg.QuitAfterLease {
		actions = append(actions, Action{Kind: ActionExitClean})

		return actions
	}

	// Passive gateway-MAC learning: when the router's hardware address is
	// still unknown, an informational probe is sent whose matching reply
	// populates RouterArp (see DispatchARP's Bound case). No deadline is
	// attached; the reply handler closes the socket.
	if m.State.RouterAddr.IsValid() && m.State.RouterArp == nil {
		actions = append(actions, Action{Kind: ActionOpenARP})
		actions = append(actions, Action{
			Kind:   ActionSendARPProbe,
			Dest:   m.State.RouterAddr,
			Sender: m.State.ClientAddr,
		})
	}

	actions = append(actions, m.setTimeout(m.State.T1))

	return actions
}

func (m *Machine) dispatchBound(ev Event, _ *dhcpwire.Message) (actions []Action) {
	switch ev {
	case EventTimeout, EventForceRenew:
		m.State.State = Renewing
		actions = append(actions, Action{Kind: ActionCloseARP})
		actions = append(actions, Action{Kind: ActionOpenListenCooked})
		actions = append(actions, Action{
			Kind:    ActionSendUnicast,
			Dest:    m.State.ServerAddr,
			Message: m.renewMessage(),
		})
		m.State.lastProbeAttempt = m.clock.Now()
		remaining := m.State.T2 - m.clock.Now().Sub(m.State.LeaseStart)
		actions = append(actions, m.setTimeout(renewingRetryDelay(remaining, 0)))

		return actions

	case EventForceRelease:
		return m.release()

	default:
		return nil
	}
}

func (m *Machine) dispatchRenewing(ev Event, pkt *dhcpwire.Message) (actions []Action) {
	switch ev {
	case EventPacket:
		typ, ok := pkt.MessageType()
		if !ok {
			return nil
		}

		switch typ {
		case dhcpwire.MsgAck:
			return m.acceptAck(pkt, Renewing)
		case dhcpwire.MsgNak:
			return m.nakToSelecting(true)
		default:
			return nil
		}

	case EventTimeout:
		now := m.clock.Now()
		if now.Sub(m.State.LeaseStart) < m.State.T2 {
			actions = append(actions, Action{
				Kind:    ActionSendUnicast,
				Dest:    m.State.ServerAddr,
				Message: m.renewMessage(),
			})
			elapsed := now.Sub(m.State.lastProbeAttempt)
			remaining := m.State.T2 - m.State.lastProbeAttempt.Sub(m.State.LeaseStart)
			m.State.lastProbeAttempt = now
			actions = append(actions, m.setTimeout(renewingRetryDelay(remaining, elapsed)))

			return actions
		}

		// Wait half the remaining time to lease expiry before the first
		// rebind attempt.
		m.State.State = Rebinding
		remainingToLeaseEnd := m.State.Lease - now.Sub(m.State.LeaseStart)
		actions = append(actions, m.setTimeout(remainingToLeaseEnd/2))

		return actions

	case EventForceRelease:
		return m.release()

	default:
		return nil
	}
}

func (m *Machine) dispatchRebinding(ev Event, pkt *dhcpwire.Message) (actions []Action) {
	switch ev {
	case EventPacket:
		typ, ok := pkt.MessageType()
		if !ok {
			return nil
		}

		switch typ {
		case dhcpwire.MsgAck:
			return m.acceptAck(pkt, Rebinding)
		case dhcpwire.MsgNak:
			return m.nakToSelecting(true)
		default:
			return nil
		}

	case EventTimeout:
		now := m.clock.Now()
		remaining := m.State.Lease - now.Sub(m.State.LeaseStart)
		if remaining <= 0 {
			actions = append(actions, Action{Kind: ActionDeconfigure})
			actions = append(actions, m.enterSelecting()...)

			return actions
		}

		// Halve the wait on every retry; once it drops below the floor,
		// stop transmitting and sleep out the rest of the lease.
		half := remaining / 2
		if half < retryFloor {
			return append(actions, m.setTimeout(remaining))
		}

		actions = append(actions, Action{
			Kind:    ActionSendBroadcast,
			Message: m.renewMessage(),
		})
		actions = append(actions, m.setTimeout(half))

		return actions

	case EventForceRelease:
		return m.release()

	default:
		return nil
	}
}

func (m *Machine) dispatchCollisionCheck(ev Event) (actions []Action) {
	switch ev {
	case EventTimeout:
		if probe, ok := m.probeRetransmit(m.State.ClientAddr, netip.IPv4Unspecified()); ok {
			return probe
		}

		// Probe window elapsed with no collision reply: the address is ours.
		return m.enterBound()
	case EventForceRelease:
		return m.release()
	default:
		return nil
	}
}

func (m *Machine) dispatchBoundGWCheck(ev Event) (actions []Action) {
	switch ev {
	case EventTimeout:
		if probe, ok := m.probeRetransmit(m.State.RouterAddr, m.State.ClientAddr); ok {
			return probe
		}

		m.State.State = m.State.PrevState
		actions = append(actions, Action{Kind: ActionCloseARP})
		actions = append(actions, m.restoreTimerForPrevState()...)

		return actions
	case EventForceRelease:
		return m.release()
	default:
		return nil
	}
}

// probeRetransmit resends the ARP request while the probe window is still
// open. It returns ok=false once the window has elapsed, letting the caller
// resolve the state.
func (m *Machine) probeRetransmit(target, sender netip.Addr) (actions []Action, ok bool) {
	now := m.clock.Now()
	remaining := m.State.probeDeadline.Sub(now)
	if remaining <= 0 {
		return nil, false
	}

	d := arpprobe.RetransmitInterval
	if remaining < d {
		d = remaining
	}

	actions = append(actions, Action{
		Kind:   ActionSendARPProbe,
		Dest:   target,
		Sender: sender,
	})
	actions = append(actions, m.setTimeout(d))

	return actions, true
}

// restoreTimerForPrevState recomputes the deadline for the state
// BOUND_GW_CHECK is returning into, since the running timer was overwritten
// by the probe window.
func (m *Machine) restoreTimerForPrevState() (actions []Action) {
	now := m.clock.Now()
	switch m.State.PrevState {
	case Bound:
		remaining := m.State.T1 - now.Sub(m.State.LeaseStart)
		return []Action{m.setTimeout(remaining)}
	case Renewing:
		remaining := m.State.T2 - now.Sub(m.State.LeaseStart)
		return []Action{m.setTimeout(remaining)}
	case Rebinding:
		remaining := m.State.Lease - now.Sub(m.State.LeaseStart)
		return []Action{m.setTimeout(remaining)}
	default:
		return nil
	}
}

func (m *Machine) dispatchReleased(ev Event) (actions []Action) {
	switch ev {
	case EventForceRenew:
		return m.enterSelecting()
	default:
		return nil
	}
}

// release implements the `release` handler shared by BOUND/RENEWING/
// REBINDING/COLLISION_CHECK/BOUND_GW_CHECK's force_release column: unicast
// RELEASE, deconfigure, enter RELEASED with no deadline.
func (m *Machine) release() (actions []Action) {
	actions = append(actions, Action{Kind: ActionCloseARP})

	// The cooked socket is only guaranteed open in RENEWING/REBINDING;
	// cycle it so the unicast has a socket to leave through regardless of
	// the state force_release arrived in.
	actions = append(actions, Action{Kind: ActionCloseListen})
	actions = append(actions, Action{Kind: ActionOpenListenCooked})
	actions = append(actions, Action{
		Kind:    ActionSendUnicast,
		Dest:    m.State.ServerAddr,
		Message: m.releaseMessage(),
	})
	actions = append(actions, Action{Kind: ActionDeconfigure})
	actions = append(actions, Action{Kind: ActionCloseListen})

	m.State.State = Released
	actions = append(actions, m.cancelTimeout())

	return actions
}

// printRelease implements the `print_release` handler for SELECTING/
// REQUESTING's force_release column: there is no established lease yet to
// release, so no DHCPRELEASE goes out, but the client still parks itself in
// RELEASED until a force-renew restarts it.
func (m *Machine) printRelease() (actions []Action) {
	if m.log != nil {
		m.log.Info("entering released state with no active lease", "state", m.State.State)
	}

	return m.parkReleased()
}

// parkReleased closes every socket, deconfigures, and enters RELEASED with
// no deadline.
func (m *Machine) parkReleased() (actions []Action) {
	actions = append(actions, Action{Kind: ActionCloseARP})
	actions = append(actions, Action{Kind: ActionCloseListen})
	actions = append(actions, Action{Kind: ActionDeconfigure})

	m.State.State = Released
	m.State.ClientAddr = netip.Addr{}
	actions = append(actions, m.cancelTimeout())

	return actions
}

// EnterSelecting is the public entry point the event loop uses to kick off
// the very first negotiation.
func (m *Machine) EnterSelecting() (actions []Action) {
	return m.enterSelecting()
}

// DispatchARP handles an ARP reply while in COLLISION_CHECK, BOUND_GW_CHECK,
// or passively while BOUND.
func (m *Machine) DispatchARP(r arpprobe.Reply) (actions []Action) {
	switch m.State.State {
	case CollisionCheck:
		if !arpprobe.Matches(r, m.State.ifMAC, m.State.ClientAddr) {
			return nil
		}
		if !arpprobe.IsCollision(r, m.State.ifMAC) {
			return nil
		}

		m.State.State = Selecting
		actions = append(actions, Action{Kind: ActionCloseARP})
		actions = append(actions, Action{
			Kind:    ActionSendBroadcast,
			Message: m.declineMessage(m.State.ClientAddr, m.State.ServerAddr),
		})
		if m.State.PrevState != Requesting {
			actions = append(actions, Action{Kind: ActionDeconfigure})
		}
		actions = append(actions, m.enterSelecting()...)

		return actions

	case BoundGWCheck:
		if !arpprobe.Matches(r, m.State.ifMAC, m.State.RouterAddr) {
			return nil
		}

		if !macEqual(r.SenderMAC, m.State.RouterArp) {
			m.State.State = Selecting
			actions = append(actions, Action{Kind: ActionCloseARP})
			actions = append(actions, Action{Kind: ActionDeconfigure})
			actions = append(actions, m.enterSelecting()...)

			return actions
		}

		m.State.State = m.State.PrevState
		actions = append(actions, Action{Kind: ActionCloseARP})
		actions = append(actions, m.restoreTimerForPrevState()...)

		return actions

	case Bound:
		if m.State.RouterArp != nil {
			return nil
		}
		if !arpprobe.Matches(r, m.State.ifMAC, m.State.RouterAddr) {
			return nil
		}

		m.State.RouterArp = r.SenderMAC

		return []Action{{Kind: ActionCloseARP}}

	default:
		return nil
	}
}

// EnterBoundGWCheck is invoked on a link-up event while BOUND, RENEWING, or
// REBINDING to revalidate the default gateway's hardware address.
func (m *Machine) EnterBoundGWCheck() (actions []Action) {
	switch m.State.State {
	case Bound, Renewing, Rebinding:
	default:
		return nil
	}

	m.State.PrevState = m.State.State
	m.State.State = BoundGWCheck
	m.State.probeDeadline = m.clock.Now().Add(arpprobe.Window)
	actions = append(actions, Action{Kind: ActionOpenARP})
	actions = append(actions, Action{
		Kind:   ActionSendARPProbe,
		Dest:   m.State.RouterAddr,
		Sender: m.State.ClientAddr,
	})
	actions = append(actions, m.setTimeout(arpprobe.RetransmitInterval))

	return actions
}

// linkUp handles a link-up event: with a lease held, the gateway is
// revalidated via BOUND_GW_CHECK; with no lease and no negotiation in
// flight, a fresh SELECTING is started.
func (m *Machine) linkUp() (actions []Action) {
	switch m.State.State {
	case Bound, Renewing, Rebinding:
		return m.EnterBoundGWCheck()
	case Selecting, Requesting, CollisionCheck, BoundGWCheck:
		return nil
	default:
		actions = append(actions, Action{Kind: ActionCloseARP})
		actions = append(actions, Action{Kind: ActionDeconfigure})
		actions = append(actions, m.enterSelecting()...)

		return actions
	}
}

// linkDown deconfigures and parks the client in RELEASED with no deadline;
// a later link-up starts a fresh negotiation.
func (m *Machine) linkDown() (actions []Action) {
	if m.State.State == Released {
		return nil
	}

	return m.parkReleased()
}

func macEqual(a, b net.HardwareAddr) (ok bool) {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
