// Package loop implements the event loop that multiplexes the DHCP listen
// socket, the ARP socket, the retransmit/lease timer, and signals, and
// drives them into the client state machine. Each readiness source feeds a
// channel selected over in one place, so signals are ordinary events and
// handlers run to completion before the next wait.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdlayher/packet"

	"github.com/crypticterminal/ndhc/internal/arpprobe"
	"github.com/crypticterminal/ndhc/internal/client"
	"github.com/crypticterminal/ndhc/internal/dhcpwire"
	"github.com/crypticterminal/ndhc/internal/iface"
	"github.com/crypticterminal/ndhc/internal/ifchd"
	"github.com/crypticterminal/ndhc/internal/script"
)

// Exit codes: 0 on clean exit (including quit-after-lease and SIGTERM), 1
// on fatal startup failure or abort-if-no-lease.
const (
	ExitClean = 0
	ExitAbort = 1
)

// Loop owns the runtime collaborators the state machine's Actions are
// executed against: the socket manager, the ifchd client, and the optional
// script runner.
type Loop struct {
	Machine   *client.Machine
	Ifaces    *iface.Manager
	Ifchd     *ifchd.Client
	Scripts   *script.Runner
	Log       *slog.Logger
	MAC       net.HardwareAddr
	IfaceName string

	// Background is invoked once when an ActionBackground fires, after the
	// first discover cycle fails with backgrounding requested. It is
	// nil-safe: a nil Background is simply skipped.
	Background func() error

	// LinkEvents carries EventLinkUp/EventLinkDown/EventCarrierLost from
	// whatever watches the interface's carrier state (a netlink subscriber,
	// or ifchd relaying its own observations). A nil channel means no
	// watcher is attached and link state is never revalidated.
	LinkEvents <-chan client.Event

	dhcpCh chan dhcpFrame
	arpCh  chan []byte
}

type dhcpFrame struct {
	raw  bool
	data []byte
}

// New returns a Loop wired to run m to completion over ifaces/ifchdClient.
func New(
	m *client.Machine,
	ifaces *iface.Manager,
	ifchdClient *ifchd.Client,
	scripts *script.Runner,
	log *slog.Logger,
	mac net.HardwareAddr,
	ifaceName string,
) (l *Loop) {
	return &Loop{
		Machine:   m,
		Ifaces:    ifaces,
		Ifchd:     ifchdClient,
		Scripts:   scripts,
		Log:       log,
		MAC:       mac,
		IfaceName: ifaceName,
		dhcpCh:    make(chan dhcpFrame, 32),
		arpCh:     make(chan []byte, 32),
	}
}

// Run drives the event loop until a fatal error, a clean exit Action, or ctx
// is done, whichever comes first.
func (l *Loop) Run(ctx context.Context) (exitCode int, err error) {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	exit, code, err := l.exec(ctx, l.Machine.EnterSelecting())
	if exit {
		return code, err
	}
	l.resetTimer(timer)

	for {
		select {
		case <-ctx.Done():
			return ExitClean, ctx.Err()

		case sig := <-sigCh:
			if sig == syscall.SIGTERM || sig == syscall.SIGINT {
				l.exec(ctx, l.Machine.Dispatch(client.EventForceRelease, nil))
				return ExitClean, nil
			}

			ev, ok := signalEvent(sig)
			if !ok {
				continue
			}

			exit, code, err = l.exec(ctx, l.Machine.Dispatch(ev, nil))
			if exit {
				return code, err
			}

		case f := <-l.dhcpCh:
			msg, discarded, perr := l.decodeFrame(f)
			for _, d := range discarded {
				l.logDiscard(d)
			}
			if perr != nil {
				l.logReject(perr)

				continue
			}
			if !l.forUs(msg) {
				continue
			}

			exit, code, err = l.exec(ctx, l.Machine.Dispatch(client.EventPacket, msg))
			if exit {
				return code, err
			}

		case ev := <-l.LinkEvents:
			exit, code, err = l.exec(ctx, l.Machine.Dispatch(ev, nil))
			if exit {
				return code, err
			}

		case b := <-l.arpCh:
			reply, ok := arpprobe.ParseReply(b)
			if !ok {
				continue
			}

			exit, code, err = l.exec(ctx, l.Machine.DispatchARP(reply))
			if exit {
				return code, err
			}

		case <-timer.C:
			exit, code, err = l.exec(ctx, l.Machine.Dispatch(client.EventTimeout, nil))
			if exit {
				return code, err
			}
		}

		l.resetTimer(timer)
	}
}

// signalEvent maps a received signal to a state-machine event. SIGTERM and
// SIGINT are handled directly in Run, since they end the loop rather than
// feeding Dispatch.
func signalEvent(sig os.Signal) (ev client.Event, ok bool) {
	switch sig {
	case syscall.SIGUSR1:
		return client.EventForceRenew, true
	case syscall.SIGUSR2:
		return client.EventForceRelease, true
	default:
		return 0, false
	}
}

// resetTimer reprograms timer from Machine.State.Timeout, or leaves it
// stopped if there is no deadline (the zero Time).
func (l *Loop) resetTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}

	deadline := l.Machine.State.Timeout
	if deadline.IsZero() {
		return
	}

	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

// decodeFrame parses a received DHCP frame according to which socket kind it
// arrived on: a raw frame carries full Ethernet+IPv4+UDP framing that must
// be validated and stripped; a cooked-socket frame is already a bare DHCP
// payload.
func (l *Loop) decodeFrame(f dhcpFrame) (msg *dhcpwire.Message, discarded []dhcpwire.OptionError, err error) {
	if f.raw {
		return dhcpwire.ParseRawFrame(f.data)
	}

	return dhcpwire.Decode(f.data)
}

// forUs reports whether msg is a reply this client should act on: the
// opcode must be a reply and chaddr and xid must match ours.
func (l *Loop) forUs(msg *dhcpwire.Message) (ok bool) {
	if msg.Op != dhcpwire.OpBootReply {
		return false
	}

	for i, b := range l.MAC {
		if i >= len(msg.CHAddr) || msg.CHAddr[i] != b {
			return false
		}
	}

	return msg.Xid == l.Machine.State.Xid
}

func (l *Loop) logReject(err error) {
	if l.Log == nil {
		return
	}

	var rejectErr *dhcpwire.FrameRejectError
	if errors.As(err, &rejectErr) {
		l.Log.Debug("discarding dhcp frame", "reason", rejectErr.Reason)

		return
	}

	l.Log.Debug("discarding dhcp frame", "error", err)
}

func (l *Loop) logDiscard(d dhcpwire.OptionError) {
	if l.Log == nil {
		return
	}

	l.Log.Debug("discarding malformed dhcp option", "code", d.Code, "reason", d.Reason)
}

// exec applies actions in order against Ifaces/Ifchd/Scripts. It returns
// exit=true once an ActionExitAbort/ActionExitClean is reached, with the
// exit code to use.
func (l *Loop) exec(ctx context.Context, actions []client.Action) (exit bool, code int, err error) {
	for _, a := range actions {
		switch a.Kind {
		case client.ActionNone:

		case client.ActionOpenListenRaw:
			if oerr := l.Ifaces.SetListenRaw(); oerr != nil {
				l.logErr("opening raw listen socket", oerr)

				continue
			}
			l.startDHCPReader(true)

		case client.ActionOpenListenCooked:
			if oerr := l.Ifaces.SetListenCooked(ctx); oerr != nil {
				l.logErr("opening cooked listen socket", oerr)

				continue
			}
			l.startDHCPReader(false)

		case client.ActionCloseListen:
			if cerr := l.Ifaces.SetListenNone(); cerr != nil {
				l.logErr("closing listen socket", cerr)
			}

		case client.ActionOpenARP:
			if oerr := l.Ifaces.OpenARP(); oerr != nil {
				l.logErr("opening arp socket", oerr)

				continue
			}
			l.startARPReader()

		case client.ActionCloseARP:
			if cerr := l.Ifaces.CloseARP(); cerr != nil {
				l.logErr("closing arp socket", cerr)
			}

		case client.ActionSendBroadcast:
			l.sendDHCP(a.Message, netip.Addr{}, true)

		case client.ActionSendUnicast:
			l.sendDHCP(a.Message, a.Dest, false)

		case client.ActionSendARPProbe:
			l.sendARPProbe(a.Dest, a.Sender)

		case client.ActionConfigure:
			l.configure(a.Message)

		case client.ActionDeconfigure:
			l.deconfigure()

		case client.ActionSetTimeout, client.ActionCancelTimeout:
			// Machine already recorded the deadline in its own State;
			// Run's resetTimer reprograms the timer from it after exec
			// returns.

		case client.ActionBackground:
			if l.Background != nil {
				if berr := l.Background(); berr != nil {
					l.logErr("backgrounding", berr)
				}
			}

		case client.ActionExitAbort:
			return true, a.ExitCode, nil

		case client.ActionExitClean:
			return true, ExitClean, nil
		}
	}

	return false, 0, nil
}

func (l *Loop) logErr(msg string, err error) {
	if l.Log != nil {
		l.Log.Error(msg, "error", err)
	}
}

// sendDHCP writes msg either as a full raw frame (when no cooked socket is
// open yet) or as a plain UDP datagram over the cooked socket.
func (l *Loop) sendDHCP(msg *dhcpwire.Message, dest netip.Addr, broadcast bool) {
	if msg == nil {
		return
	}

	conn := l.Ifaces.Listen()
	if conn == nil {
		l.logErr("sending dhcp message", errors.New("no listen socket open"))

		return
	}

	if l.Ifaces.ListenMode() == iface.ListenRaw {
		frame, ferr := dhcpwire.BuildBroadcastFrame(msg, l.MAC)
		if ferr != nil {
			l.logErr("building broadcast frame", ferr)

			return
		}
		if _, werr := conn.WriteTo(frame, rawDestAddr()); werr != nil {
			l.logErr("writing raw dhcp frame", werr)
		}

		return
	}

	dstIP := net.IPv4bcast
	if !broadcast && dest.IsValid() {
		dstIP = dest.AsSlice()
	}

	if _, werr := conn.WriteTo(mustEncode(msg), &net.UDPAddr{IP: dstIP, Port: dhcpwire.ServerPort}); werr != nil {
		l.logErr("writing cooked dhcp datagram", werr)
	}
}

func mustEncode(msg *dhcpwire.Message) (b []byte) {
	b, err := msg.Encode()
	if err != nil {
		return nil
	}

	return b
}

// sendARPProbe builds and sends an ARP request for targetIP. The state
// machine chooses the sender address per probe kind: the unspecified address
// for a collision probe (no address is held yet), the client's bound address
// for a gateway check or passive MAC learning.
func (l *Loop) sendARPProbe(targetIP, sender netip.Addr) {
	conn := l.Ifaces.ARP()
	if conn == nil {
		l.logErr("sending arp probe", errors.New("no arp socket open"))

		return
	}

	if !sender.IsValid() {
		sender = netip.IPv4Unspecified()
	}

	frame, err := arpprobe.BuildRequest(l.MAC, sender, targetIP)
	if err != nil {
		l.logErr("building arp probe", err)

		return
	}

	if _, werr := conn.WriteTo(frame, rawDestAddr()); werr != nil {
		l.logErr("writing arp probe", werr)
	}
}

// configure translates ack's options into an ifchd.Record and hands it to
// the ifchd client and the lifecycle script runner.
func (l *Loop) configure(ack *dhcpwire.Message) {
	addr := l.Machine.State.ClientAddr
	var rec ifchd.Record
	if ack != nil {
		rec = ifchd.FromAck(l.IfaceName, addr, ack)
	} else {
		rec = ifchd.Record{InterfaceName: l.IfaceName, Addr: addr}
	}

	if l.Ifchd != nil {
		if err := l.Ifchd.Configure(rec); err != nil {
			// The failure is only logged: the state machine is not told,
			// the client stays in its current state, and the lease is not
			// abandoned.
			l.logErr("configuring interface via ifchd", err)
		}
	}

	if l.Scripts != nil {
		if err := l.Scripts.Run(context.Background(), script.EventBound, rec); err != nil {
			l.logErr("running bound hook", err)
		}
	}
}

// deconfigure writes the DECONFIG/NAK sequence to ifchd and runs the
// deconfig hook.
func (l *Loop) deconfigure() {
	if l.Ifchd != nil {
		if err := l.Ifchd.Deconfigure(l.IfaceName); err != nil {
			l.logErr("deconfiguring interface via ifchd", err)
		}
	}

	if l.Scripts != nil {
		rec := ifchd.Record{InterfaceName: l.IfaceName}
		if err := l.Scripts.Run(context.Background(), script.EventDeconfig, rec); err != nil {
			l.logErr("running deconfig hook", err)
		}
	}
}

// startDHCPReader spawns the goroutine that feeds l.dhcpCh from the current
// listen socket until it is closed.
func (l *Loop) startDHCPReader(raw bool) {
	conn := l.Ifaces.Listen()
	if conn == nil {
		return
	}

	go func() {
		buf := make([]byte, 2048)
		for {
			n, _, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}

			data := make([]byte, n)
			copy(data, buf[:n])

			select {
			case l.dhcpCh <- dhcpFrame{raw: raw, data: data}:
			default:
			}
		}
	}()
}

// startARPReader spawns the goroutine that feeds l.arpCh from the current
// ARP socket until it is closed.
func (l *Loop) startARPReader() {
	conn := l.Ifaces.ARP()
	if conn == nil {
		return
	}

	go func() {
		buf := make([]byte, 128)
		for {
			n, _, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}

			data := make([]byte, n)
			copy(data, buf[:n])

			select {
			case l.arpCh <- data:
			default:
			}
		}
	}()
}

// rawDestAddr is the link-layer destination for outbound broadcast DHCP and
// ARP frames: both are always broadcast in this client (no unicast raw send
// path is exercised by the state machine).
func rawDestAddr() (addr net.Addr) {
	return &packet.Addr{HardwareAddr: dhcpwire.BroadcastMAC}
}
