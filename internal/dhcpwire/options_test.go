package dhcpwire_test

import (
	"net"
	"net/netip"
	"testing"

	"github.com/crypticterminal/ndhc/internal/dhcpwire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_roundTrip(t *testing.T) {
	t.Parallel()

	mac := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	m := dhcpwire.NewHeader(0x11223344, mac)
	m.YIAddr = netip.MustParseAddr("192.0.2.10")

	require.NoError(t, m.AddOption(dhcpwire.OptMessageType, []byte{byte(dhcpwire.MsgDiscover)}))
	require.NoError(t, m.AddOption(dhcpwire.OptRequestedIP, netip.MustParseAddr("192.0.2.10").AsSlice()))
	require.NoError(t, m.AddOption(dhcpwire.OptLeaseTime, []byte{0, 0, 0x0e, 0x10}))
	require.NoError(t, m.AddRequests())

	b, err := m.Encode()
	require.NoError(t, err)

	got, discarded, err := dhcpwire.Decode(b)
	require.NoError(t, err)
	assert.Empty(t, discarded)

	assert.Equal(t, m.Xid, got.Xid)
	assert.Equal(t, m.CHAddr, got.CHAddr)
	assert.Equal(t, m.YIAddr, got.YIAddr)

	typ, ok := got.MessageType()
	require.True(t, ok)
	assert.Equal(t, dhcpwire.MsgDiscover, typ)

	ip, ok := got.GetIP(dhcpwire.OptRequestedIP)
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("192.0.2.10"), ip)

	lease, ok := got.GetU32(dhcpwire.OptLeaseTime)
	require.True(t, ok)
	assert.Equal(t, uint32(3600), lease)

	_, ok = got.GetOption(dhcpwire.OptParamRequest)
	assert.True(t, ok)
}

func TestMessage_wrongLengthOptionDiscarded(t *testing.T) {
	t.Parallel()

	mac := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	m := dhcpwire.NewHeader(1, mac)
	require.NoError(t, m.AddOption(dhcpwire.OptLeaseTime, []byte{1, 2, 3})) // not 4 bytes

	b, err := m.Encode()
	require.NoError(t, err)

	got, discarded, err := dhcpwire.Decode(b)
	require.NoError(t, err)
	require.Len(t, discarded, 1)
	assert.Equal(t, dhcpwire.OptLeaseTime, discarded[0].Code)

	_, ok := got.GetU32(dhcpwire.OptLeaseTime)
	assert.False(t, ok)
}

func TestMessage_listOption(t *testing.T) {
	t.Parallel()

	mac := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	m := dhcpwire.NewHeader(1, mac)

	r1 := netip.MustParseAddr("192.0.2.1").As4()
	r2 := netip.MustParseAddr("192.0.2.2").As4()
	data := append(append([]byte{}, r1[:]...), r2[:]...)
	require.NoError(t, m.AddOption(dhcpwire.OptRouter, data))

	b, err := m.Encode()
	require.NoError(t, err)

	got, discarded, err := dhcpwire.Decode(b)
	require.NoError(t, err)
	assert.Empty(t, discarded)

	addrs, ok := got.GetIPList(dhcpwire.OptRouter)
	require.True(t, ok)
	require.Len(t, addrs, 2)
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), addrs[0])
	assert.Equal(t, netip.MustParseAddr("192.0.2.2"), addrs[1])
}

func TestMessage_overloadIntoFileAndSName(t *testing.T) {
	t.Parallel()

	mac := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	m := dhcpwire.NewHeader(1, mac)
	require.NoError(t, m.AddOption(dhcpwire.OptOverload, []byte{3})) // both file and sname

	// Stuff hostname into file and domain name into sname by hand, as a
	// server using OVERLOAD would.
	copy(m.File[:], []byte{byte(dhcpwire.OptHostname), 4, 'h', 'o', 's', 't', byte(dhcpwire.OptEnd)})
	copy(m.SName[:], []byte{byte(dhcpwire.OptDomainName), 3, 'l', 'a', 'n', byte(dhcpwire.OptEnd)})

	b, err := m.Encode()
	require.NoError(t, err)

	got, discarded, err := dhcpwire.Decode(b)
	require.NoError(t, err)
	assert.Empty(t, discarded)

	host, ok := got.GetString(dhcpwire.OptHostname)
	require.True(t, ok)
	assert.Equal(t, "host", host)

	domain, ok := got.GetString(dhcpwire.OptDomainName)
	require.True(t, ok)
	assert.Equal(t, "lan", domain)
}
