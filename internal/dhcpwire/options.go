package dhcpwire

import (
	"fmt"
	"net/netip"
)

// OptCode is a DHCP option code (RFC 2132).
type OptCode uint8

// Option codes used by this client, including the two sentinels PAD and END.
const (
	OptPad             OptCode = 0
	OptSubnetMask      OptCode = 1
	OptRouter          OptCode = 3
	OptDNSServers      OptCode = 6
	OptHostname        OptCode = 12
	OptDomainName      OptCode = 15
	OptBroadcastAddr   OptCode = 28
	OptRequestedIP     OptCode = 50
	OptLeaseTime       OptCode = 51
	OptOverload        OptCode = 52
	OptMessageType     OptCode = 53
	OptServerID        OptCode = 54
	OptParamRequest    OptCode = 55
	OptMaxMessageSize  OptCode = 57
	OptVendorClassID   OptCode = 60
	OptClientID        OptCode = 61
	OptNetBIOSNS       OptCode = 44
	OptInterfaceMTU    OptCode = 26
	OptEnd             OptCode = 255
)

// OptType describes how an option's Data bytes should be interpreted.
type OptType uint8

// Option value types.
const (
	TypeIP OptType = iota
	TypeU8
	TypeU16
	TypeS16
	TypeU32
	TypeS32
	TypeString
)

// OptFlag carries the per-option behavior flags of the option descriptor
// table.
type OptFlag uint8

// Option flags.
const (
	// FlagReq marks an option for inclusion in the outgoing parameter
	// request list (option 55).
	FlagReq OptFlag = 1 << iota

	// FlagList marks an option whose value may be a repeated array of the
	// base type, rather than exactly one value.
	FlagList
)

// baseSize returns the encoded size, in bytes, of one value of t.
func (t OptType) baseSize() (n int) {
	switch t {
	case TypeIP, TypeU32, TypeS32:
		return 4
	case TypeU16, TypeS16:
		return 2
	case TypeU8:
		return 1
	case TypeString:
		return 1
	default:
		return 0
	}
}

// Descriptor is one row of the static option descriptor table.
type Descriptor struct {
	Name string
	Code OptCode
	Type OptType
	Flag OptFlag
}

// Table is the static option descriptor table this client understands. It is
// consulted by AddRequests when building the outgoing parameter request
// list, and by Decode when validating a received option's length against its
// declared type.
var Table = []Descriptor{
	{Code: OptSubnetMask, Name: "subnet", Type: TypeIP, Flag: FlagReq},
	{Code: OptRouter, Name: "router", Type: TypeIP, Flag: FlagReq | FlagList},
	{Code: OptDNSServers, Name: "dns", Type: TypeIP, Flag: FlagReq | FlagList},
	{Code: OptHostname, Name: "hostname", Type: TypeString, Flag: FlagReq},
	{Code: OptDomainName, Name: "domain", Type: TypeString, Flag: FlagReq},
	{Code: OptBroadcastAddr, Name: "broadcast", Type: TypeIP, Flag: FlagReq},
	{Code: OptInterfaceMTU, Name: "mtu", Type: TypeU16, Flag: FlagReq},
	{Code: OptNetBIOSNS, Name: "wins", Type: TypeIP, Flag: FlagReq | FlagList},
	{Code: OptRequestedIP, Name: "requested_ip", Type: TypeIP},
	{Code: OptLeaseTime, Name: "lease_time", Type: TypeU32},
	{Code: OptServerID, Name: "server_id", Type: TypeIP},
	{Code: OptMessageType, Name: "message_type", Type: TypeU8},
	{Code: OptMaxMessageSize, Name: "max_message_size", Type: TypeU16},
	{Code: OptClientID, Name: "client_id", Type: TypeString},
	{Code: OptVendorClassID, Name: "vendor_class_id", Type: TypeString},
}

// descByCode indexes Table by code, built once at init.
var descByCode = func() map[OptCode]Descriptor {
	m := make(map[OptCode]Descriptor, len(Table))
	for _, d := range Table {
		m[d.Code] = d
	}

	return m
}()

// Option is a single decoded or to-be-encoded TLV: Data never includes the
// code or length bytes.
type Option struct {
	Data []byte
	Code OptCode
}

// OptionError describes a malformed option that Decode discarded rather than
// failing the whole message.
type OptionError struct {
	Reason string
	Code   OptCode
	Length int
}

// Error implements the error interface for OptionError.
func (e OptionError) Error() (s string) {
	return fmt.Sprintf("option %d: %s (length %d)", e.Code, e.Reason, e.Length)
}

// validLength reports whether n is an acceptable encoded length for an
// option matching d.
func (d Descriptor) validLength(n int) (ok bool) {
	base := d.Type.baseSize()
	if base == 0 {
		// Type with no known base size: any non-empty length.
		return n > 0
	}

	if d.Flag&FlagList != 0 {
		return n > 0 && n%base == 0
	}
	if d.Type == TypeString {
		return n > 0
	}

	return n == base
}

// scanOptions scans a raw options area (after the magic cookie, or the
// contents of sname/file under OVERLOAD), skipping PAD and stopping at END.
// It returns the decoded options, the OVERLOAD value if one was present (0 if
// not), and diagnostics for any option discarded due to a length mismatch
// against Table.
func scanOptions(b []byte) (opts []Option, overload byte, discarded []OptionError) {
	var i int
	for i < len(b) {
		code := OptCode(b[i])
		if code == OptPad {
			i++
			continue
		}
		if code == OptEnd {
			break
		}
		if i+1 >= len(b) {
			break
		}

		n := int(b[i+1])
		if i+2+n > len(b) {
			break
		}
		data := b[i+2 : i+2+n]
		i += 2 + n

		if code == OptOverload {
			if n == 1 {
				overload = data[0]
			}
			continue
		}

		if d, ok := descByCode[code]; ok && !d.validLength(n) {
			discarded = append(discarded, OptionError{Code: code, Length: n, Reason: "unexpected length"})
			continue
		}

		opts = append(opts, Option{Code: code, Data: append([]byte(nil), data...)})
	}

	return opts, overload, discarded
}

// scanOptionsNoOverload is scanOptions restricted to a secondary area
// (sname/file) where a nested OVERLOAD option is meaningless and ignored.
func scanOptionsNoOverload(b []byte) (opts []Option, discarded []OptionError) {
	opts, _, discarded = scanOptions(b)

	return opts, discarded
}

// GetOption returns the first option matching code, and false if none was
// decoded.
func (m *Message) GetOption(code OptCode) (opt Option, ok bool) {
	for _, o := range m.Options {
		if o.Code == code {
			return o, true
		}
	}

	return Option{}, false
}

// AddOption appends an option to m, refusing if the options area has no
// room left for the option plus a terminating END.
func (m *Message) AddOption(code OptCode, data []byte) (err error) {
	used := 0
	for _, o := range m.Options {
		used += 2 + len(o.Data)
	}
	if used+2+len(data)+1 > MaxOptionsLen {
		return errOptionsAreaFull
	}

	m.Options = append(m.Options, Option{Code: code, Data: data})

	return nil
}

// AddRequests appends a single PARAM_REQ (55) option listing the code of
// every Table entry flagged FlagReq, in table order.
func (m *Message) AddRequests() (err error) {
	var codes []byte
	for _, d := range Table {
		if d.Flag&FlagReq != 0 {
			codes = append(codes, byte(d.Code))
		}
	}

	return m.AddOption(OptParamRequest, codes)
}

// GetIP returns the option's value interpreted as a single IPv4 address.
func (m *Message) GetIP(code OptCode) (a netip.Addr, ok bool) {
	opt, ok := m.GetOption(code)
	if !ok || len(opt.Data) < 4 {
		return netip.Addr{}, false
	}

	return addr4(opt.Data), true
}

// GetIPList returns the option's value interpreted as a list of IPv4
// addresses.
func (m *Message) GetIPList(code OptCode) (addrs []netip.Addr, ok bool) {
	opt, ok := m.GetOption(code)
	if !ok || len(opt.Data) == 0 || len(opt.Data)%4 != 0 {
		return nil, false
	}

	for i := 0; i+4 <= len(opt.Data); i += 4 {
		addrs = append(addrs, addr4(opt.Data[i:i+4]))
	}

	return addrs, true
}

// GetU32 returns the option's value interpreted as a big-endian uint32.
func (m *Message) GetU32(code OptCode) (v uint32, ok bool) {
	opt, ok := m.GetOption(code)
	if !ok || len(opt.Data) != 4 {
		return 0, false
	}

	return uint32(opt.Data[0])<<24 | uint32(opt.Data[1])<<16 | uint32(opt.Data[2])<<8 | uint32(opt.Data[3]), true
}

// GetU16 returns the option's value interpreted as a big-endian uint16.
func (m *Message) GetU16(code OptCode) (v uint16, ok bool) {
	opt, ok := m.GetOption(code)
	if !ok || len(opt.Data) != 2 {
		return 0, false
	}

	return uint16(opt.Data[0])<<8 | uint16(opt.Data[1]), true
}

// GetString returns the option's value interpreted as a string.
func (m *Message) GetString(code OptCode) (s string, ok bool) {
	opt, ok := m.GetOption(code)
	if !ok {
		return "", false
	}

	return string(opt.Data), true
}
