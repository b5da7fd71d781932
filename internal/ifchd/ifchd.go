// Package ifchd implements the client side of the line-oriented protocol
// this daemon uses to hand lease-derived configuration to an external
// interface-configuration helper process.
package ifchd

import (
	"bufio"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/crypticterminal/ndhc/internal/dhcpwire"
)

// DefaultSocketPath is the well-known path of the ifchd control socket.
const DefaultSocketPath = "/var/run/ifchd.sock"

// Record is one lease-derived configuration record to translate, one field
// per translated option.
type Record struct {
	InterfaceName string
	Addr          netip.Addr
	Subnet        netip.Addr
	Routers       []netip.Addr
	DNSServers    []netip.Addr
	Hostname      string
	DomainName    string
	MTU           uint16
	Broadcast     netip.Addr
	WINSServers   []netip.Addr
}

// FromAck builds a Record from an ACK's options, for the configurator call
// made on every entry into BOUND, including after a renewal, whether or not
// any field changed.
func FromAck(ifaceName string, addr netip.Addr, ack *dhcpwire.Message) (r Record) {
	r = Record{InterfaceName: ifaceName, Addr: addr}

	if v, ok := ack.GetIP(dhcpwire.OptSubnetMask); ok {
		r.Subnet = v
	}
	if v, ok := ack.GetIPList(dhcpwire.OptRouter); ok {
		r.Routers = v
	}
	if v, ok := ack.GetIPList(dhcpwire.OptDNSServers); ok {
		r.DNSServers = v
	}
	if v, ok := ack.GetString(dhcpwire.OptHostname); ok {
		r.Hostname = v
	}
	if v, ok := ack.GetString(dhcpwire.OptDomainName); ok {
		r.DomainName = v
	}
	if v, ok := ack.GetU16(dhcpwire.OptInterfaceMTU); ok {
		r.MTU = v
	}
	if v, ok := ack.GetIP(dhcpwire.OptBroadcastAddr); ok {
		r.Broadcast = v
	}
	if v, ok := ack.GetIPList(dhcpwire.OptNetBIOSNS); ok {
		r.WINSServers = v
	}

	return r
}

// Client talks to ifchd over a one-shot Unix stream connection: dial, write
// every record, close.
type Client struct {
	SocketPath string
	Timeout    time.Duration
}

// NewClient returns a Client that dials path, or DefaultSocketPath if path
// is empty.
func NewClient(path string) (c *Client) {
	if path == "" {
		path = DefaultSocketPath
	}

	return &Client{SocketPath: path, Timeout: 5 * time.Second}
}

// Configure opens a connection to ifchd, writes r's records, and closes
// it.
func (c *Client) Configure(r Record) (err error) {
	return c.send(buildConfigureLines(r))
}

// Deconfigure writes the deconfiguration sequence: interface name followed
// by ip:0.0.0.0:.
func (c *Client) Deconfigure(ifaceName string) (err error) {
	return c.send([]string{
		fmt.Sprintf("interface:%s:", ifaceName),
		"ip:0.0.0.0:",
	})
}

func (c *Client) send(lines []string) (err error) {
	conn, err := net.DialTimeout("unix", c.SocketPath, c.Timeout)
	if err != nil {
		return fmt.Errorf("dialing ifchd at %q: %w", c.SocketPath, err)
	}
	defer conn.Close()

	if c.Timeout > 0 {
		if err = conn.SetWriteDeadline(time.Now().Add(c.Timeout)); err != nil {
			return fmt.Errorf("setting write deadline: %w", err)
		}
	}

	w := bufio.NewWriter(conn)
	for _, line := range lines {
		if _, err = w.WriteString(line); err != nil {
			return fmt.Errorf("writing ifchd record %q: %w", line, err)
		}
		if err = w.WriteByte('\n'); err != nil {
			return fmt.Errorf("writing ifchd record %q: %w", line, err)
		}
	}

	return w.Flush()
}

// buildConfigureLines renders r into the colon-framed line sequence ifchd
// expects: interface:<name>:, ip:<dotted>:, then one line per translated
// option, each named and carrying one or more colon-separated values.
func buildConfigureLines(r Record) (lines []string) {
	lines = append(lines, fmt.Sprintf("interface:%s:", r.InterfaceName))
	if r.Addr.IsValid() {
		lines = append(lines, fmt.Sprintf("ip:%s:", r.Addr))
	}
	if r.Subnet.IsValid() {
		lines = append(lines, fmt.Sprintf("subnet:%s:", r.Subnet))
	}
	if len(r.Routers) > 0 {
		lines = append(lines, "router:"+addrListField(r.Routers))
	}
	if len(r.DNSServers) > 0 {
		lines = append(lines, "dns:"+addrListField(r.DNSServers))
	}
	if r.Hostname != "" {
		lines = append(lines, fmt.Sprintf("hostname:%s:", r.Hostname))
	}
	if r.DomainName != "" {
		lines = append(lines, fmt.Sprintf("domain:%s:", r.DomainName))
	}
	if r.MTU != 0 {
		lines = append(lines, fmt.Sprintf("mtu:%d:", r.MTU))
	}
	if r.Broadcast.IsValid() {
		lines = append(lines, fmt.Sprintf("broadcast:%s:", r.Broadcast))
	}
	if len(r.WINSServers) > 0 {
		lines = append(lines, "wins:"+addrListField(r.WINSServers))
	}

	return lines
}

// addrListField renders the values of a repeated-option field as
// "v1:v2:...:"; the caller prepends "name:".
func addrListField(addrs []netip.Addr) (field string) {
	var b strings.Builder
	for _, a := range addrs {
		b.WriteString(a.String())
		b.WriteByte(':')
	}

	return b.String()
}
