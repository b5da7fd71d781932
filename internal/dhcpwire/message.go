// Package dhcpwire implements the DHCPv4 wire format: the fixed BOOTP header,
// the option-TLV area described by RFC 2132, and the raw IPv4+UDP+Ethernet
// framing used when the client has no configured address to send from.
package dhcpwire

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
)

// OpCode is the BOOTP "op" field.
type OpCode uint8

// BOOTP opcodes.
const (
	OpBootRequest OpCode = 1
	OpBootReply   OpCode = 2
)

// MsgType is the value of the DHCP Message Type option (option 53).
type MsgType uint8

// DHCP message types used by the client, per RFC 2131 Table 5.
const (
	MsgDiscover MsgType = 1
	MsgOffer    MsgType = 2
	MsgRequest  MsgType = 3
	MsgDecline  MsgType = 4
	MsgAck      MsgType = 5
	MsgNak      MsgType = 6
	MsgRelease  MsgType = 7
)

// String implements the fmt.Stringer interface for MsgType.
func (t MsgType) String() (s string) {
	switch t {
	case MsgDiscover:
		return "DHCPDISCOVER"
	case MsgOffer:
		return "DHCPOFFER"
	case MsgRequest:
		return "DHCPREQUEST"
	case MsgDecline:
		return "DHCPDECLINE"
	case MsgAck:
		return "DHCPACK"
	case MsgNak:
		return "DHCPNAK"
	case MsgRelease:
		return "DHCPRELEASE"
	default:
		return fmt.Sprintf("MsgType(%d)", uint8(t))
	}
}

// MagicCookie is the four bytes that must open the options area.
const MagicCookie uint32 = 0x63825363

// Sizes of the fixed BOOTP fields.
const (
	chaddrLen = 16
	snameLen  = 64
	fileLen   = 128

	// headerLen is the size of the fixed BOOTP header, not including the
	// magic cookie or the options area.
	headerLen = 1 + 1 + 1 + 1 + 4 + 2 + 2 + 4 + 4 + 4 + 4 + chaddrLen + snameLen + fileLen

	// MinPacketLen is the smallest legal size of an encoded message: the
	// fixed header, the magic cookie, and a single END option.
	MinPacketLen = headerLen + 4 + 1

	// MaxOptionsLen bounds the size of the options area this codec will
	// build, matching the minimum allowance every RFC 2131 server must
	// accept.
	MaxOptionsLen = 312
)

// EthernetChaddrLen is the length of an Ethernet hardware address as carried
// in CHAddr.
const EthernetChaddrLen = 6

// VendorClassID is the fixed vendor class identifier this client advertises.
const VendorClassID = "ndhc"

// Message is a decoded DHCPv4 message: the BOOTP fixed header plus the
// options carried in the options area (with OVERLOAD already resolved into
// sname/file, see Decode).
type Message struct {
	CHAddr  [chaddrLen]byte
	SName   [snameLen]byte
	File    [fileLen]byte
	Options []Option
	CIAddr  netip.Addr
	YIAddr  netip.Addr
	SIAddr  netip.Addr
	GIAddr  netip.Addr
	Xid     uint32
	Secs    uint16
	Flags   uint16
	Op      OpCode
	HType   uint8
	HLen    uint8
	Hops    uint8
}

// flagBroadcast is the single bit of Flags that requests a broadcast reply.
const flagBroadcast = 0x8000

// IsBroadcast returns true if m requests a broadcast reply.
func (m *Message) IsBroadcast() (ok bool) {
	return m.Flags&flagBroadcast != 0
}

// SetBroadcast sets the broadcast bit in m's Flags.
func (m *Message) SetBroadcast() {
	m.Flags |= flagBroadcast
}

// NewHeader returns a Message with the fixed header fields populated for a
// client-originated request: Op is OpBootRequest, HType/HLen describe an
// Ethernet address, CHAddr is set from mac, and Xid is set from xid. mac must
// be a 6-byte hardware address.
func NewHeader(xid uint32, mac net.HardwareAddr) (m *Message) {
	m = &Message{
		Op:    OpBootRequest,
		HType: 1, // ARPHRD_ETHER
		HLen:  EthernetChaddrLen,
		Xid:   xid,
	}
	copy(m.CHAddr[:], mac)

	return m
}

// putAddr4 writes a as a big-endian IPv4 address into dst, or leaves dst
// zeroed if a is not a valid IPv4 address.
func putAddr4(dst []byte, a netip.Addr) {
	if a.Is4() {
		b := a.As4()
		copy(dst, b[:])
	}
}

func addr4(b []byte) (a netip.Addr) {
	return netip.AddrFrom4([4]byte(b[:4]))
}

// Encode serializes m into the fixed header, magic cookie, and option TLVs,
// terminated by END. The returned slice is newly allocated.
func (m *Message) Encode() (b []byte, err error) {
	buf := make([]byte, headerLen, headerLen+4+64)

	buf[0] = byte(m.Op)
	buf[1] = m.HType
	buf[2] = m.HLen
	buf[3] = m.Hops
	binary.BigEndian.PutUint32(buf[4:8], m.Xid)
	binary.BigEndian.PutUint16(buf[8:10], m.Secs)
	binary.BigEndian.PutUint16(buf[10:12], m.Flags)
	putAddr4(buf[12:16], m.CIAddr)
	putAddr4(buf[16:20], m.YIAddr)
	putAddr4(buf[20:24], m.SIAddr)
	putAddr4(buf[24:28], m.GIAddr)
	copy(buf[28:28+chaddrLen], m.CHAddr[:])
	copy(buf[28+chaddrLen:28+chaddrLen+snameLen], m.SName[:])
	copy(buf[28+chaddrLen+snameLen:], m.File[:])

	cookie := make([]byte, 4)
	binary.BigEndian.PutUint32(cookie, MagicCookie)
	buf = append(buf, cookie...)

	for _, opt := range m.Options {
		if len(buf)+3+len(opt.Data) > headerLen+4+MaxOptionsLen {
			return nil, errOptionsAreaFull
		}

		buf = append(buf, byte(opt.Code), byte(len(opt.Data)))
		buf = append(buf, opt.Data...)
	}
	buf = append(buf, byte(OptEnd))

	return buf, nil
}

// errOptionsAreaFull is returned by Encode and AddOption when the options
// area has no room for another option.
const errOptionsAreaFull errors.Error = "options area is full"

// Decode parses b into a Message. It returns an error only for conditions
// that make the message unusable in its entirety (truncation, bad magic
// cookie); malformed individual options are discarded and logged by the
// caller via the diagnostics returned in discarded.
func Decode(b []byte) (m *Message, discarded []OptionError, err error) {
	if len(b) < headerLen+4 {
		return nil, nil, errTruncatedHeader
	}

	m = &Message{
		Op:     OpCode(b[0]),
		HType:  b[1],
		HLen:   b[2],
		Hops:   b[3],
		Xid:    binary.BigEndian.Uint32(b[4:8]),
		Secs:   binary.BigEndian.Uint16(b[8:10]),
		Flags:  binary.BigEndian.Uint16(b[10:12]),
		CIAddr: addr4(b[12:16]),
		YIAddr: addr4(b[16:20]),
		SIAddr: addr4(b[20:24]),
		GIAddr: addr4(b[24:28]),
	}
	copy(m.CHAddr[:], b[28:28+chaddrLen])
	copy(m.SName[:], b[28+chaddrLen:28+chaddrLen+snameLen])
	copy(m.File[:], b[28+chaddrLen+snameLen:headerLen])

	cookie := binary.BigEndian.Uint32(b[headerLen : headerLen+4])
	if cookie != MagicCookie {
		return nil, nil, errBadMagicCookie
	}

	opts, overload, disc := scanOptions(b[headerLen+4:])
	discarded = disc

	if overload&1 != 0 {
		fopts, fdisc := scanOptionsNoOverload(m.File[:])
		opts = append(opts, fopts...)
		discarded = append(discarded, fdisc...)
	}
	if overload&2 != 0 {
		sopts, sdisc := scanOptionsNoOverload(m.SName[:])
		opts = append(opts, sopts...)
		discarded = append(discarded, sdisc...)
	}

	m.Options = opts

	return m, discarded, nil
}

const (
	errTruncatedHeader errors.Error = "dhcp message: truncated header"
	errBadMagicCookie  errors.Error = "dhcp message: bad magic cookie"
)

// MessageType returns the value of the DHCP Message Type option, and false if
// it is absent or malformed.
func (m *Message) MessageType() (t MsgType, ok bool) {
	opt, ok := m.GetOption(OptMessageType)
	if !ok || len(opt.Data) != 1 {
		return 0, false
	}

	return MsgType(opt.Data[0]), true
}
