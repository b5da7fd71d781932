// Package iface owns the sockets the DHCP client multiplexes over: the DHCP
// listen socket (raw, pre-configuration, or cooked UDP once an address
// exists) and the ARP probe socket. It enforces the invariant that at most
// one of each exists at a time and exposes them to the event loop as plain
// net.PacketConn values.
package iface

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/mdlayher/ethernet"
	"github.com/mdlayher/packet"
	"golang.org/x/sys/unix"
)

// ListenMode names the kind of DHCP listen socket currently held.
type ListenMode uint8

// Listen modes.
const (
	ListenNone ListenMode = iota
	ListenRaw
	ListenCooked
)

// String implements the fmt.Stringer interface for ListenMode.
func (m ListenMode) String() (s string) {
	switch m {
	case ListenRaw:
		return "raw"
	case ListenCooked:
		return "cooked"
	default:
		return "none"
	}
}

// errAlreadyListening is returned by SetListenRaw/SetListenCooked when a DHCP
// listen socket is already open; the caller must SetListenNone first.
const errAlreadyListening errors.Error = "iface: a dhcp listen socket is already open"

// errARPAlreadyOpen is returned by OpenARP when an ARP socket is already
// open; the caller must CloseARP first.
const errARPAlreadyOpen errors.Error = "iface: an arp socket is already open"

// Manager owns the current DHCP listen socket and the current ARP socket
// for one network interface. At most one of each exists at a time.
type Manager struct {
	iface *net.Interface

	listen     net.PacketConn
	listenMode ListenMode

	arp net.PacketConn
}

// NewManager returns a Manager bound to iface, with no listen or ARP socket
// open.
func NewManager(ifi *net.Interface) (m *Manager) {
	return &Manager{iface: ifi, listenMode: ListenNone}
}

// ListenMode reports the kind of DHCP listen socket currently held.
func (m *Manager) ListenMode() (mode ListenMode) {
	return m.listenMode
}

// Listen returns the current DHCP listen socket, or nil if ListenMode is
// ListenNone.
func (m *Manager) Listen() (conn net.PacketConn) {
	return m.listen
}

// ARP returns the current ARP socket, or nil if none is open.
func (m *Manager) ARP() (conn net.PacketConn) {
	return m.arp
}

// SetListenRaw opens a raw PF_PACKET socket bound to m's interface and
// EtherType IPv4, for use before the client has a configured address to
// bind a UDP socket to.
func (m *Manager) SetListenRaw() (err error) {
	if m.listenMode != ListenNone {
		return errAlreadyListening
	}

	conn, err := packet.Listen(m.iface, packet.Raw, int(ethernet.EtherTypeIPv4), nil)
	if err != nil {
		return fmt.Errorf("opening raw dhcp listen socket: %w", err)
	}

	m.listen = conn
	m.listenMode = ListenRaw

	return nil
}

// SetListenCooked opens a SOCK_DGRAM UDP socket bound to 0.0.0.0:68 with
// SO_REUSEADDR and SO_BROADCAST set, for use once the client has an address
// configured on the interface.
func (m *Manager) SetListenCooked(ctx context.Context) (err error) {
	if m.listenMode != ListenNone {
		return errAlreadyListening
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) (err error) {
			var sockErr error
			err = c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if sockErr != nil {
					return
				}

				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}

			return sockErr
		},
	}

	conn, err := lc.ListenPacket(ctx, "udp4", "0.0.0.0:68")
	if err != nil {
		return fmt.Errorf("opening cooked dhcp listen socket: %w", err)
	}

	m.listen = conn
	m.listenMode = ListenCooked

	return nil
}

// SetListenNone closes the current DHCP listen socket, if any.
func (m *Manager) SetListenNone() (err error) {
	if m.listen == nil {
		return nil
	}

	err = m.listen.Close()
	m.listen = nil
	m.listenMode = ListenNone

	return err
}

// OpenARP opens a raw PF_PACKET socket bound to m's interface and EtherType
// ARP, for the duration of a collision or gateway probe. No socket options
// are set on it; SO_BROADCAST is not enabled.
func (m *Manager) OpenARP() (err error) {
	if m.arp != nil {
		return errARPAlreadyOpen
	}

	conn, err := packet.Listen(m.iface, packet.Raw, int(ethernet.EtherTypeARP), nil)
	if err != nil {
		return fmt.Errorf("opening arp socket: %w", err)
	}

	m.arp = conn

	return nil
}

// CloseARP closes the current ARP socket, if any.
func (m *Manager) CloseARP() (err error) {
	if m.arp == nil {
		return nil
	}

	err = m.arp.Close()
	m.arp = nil

	return err
}

// Close releases both the DHCP listen socket and the ARP socket, if open.
func (m *Manager) Close() (err error) {
	lerr := m.SetListenNone()
	aerr := m.CloseARP()

	return errors.Join(lerr, aerr)
}
