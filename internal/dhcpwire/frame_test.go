package dhcpwire_test

import (
	"net"
	"testing"

	"github.com/crypticterminal/ndhc/internal/dhcpwire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBroadcastFrame_parseRawFrameRoundTrip(t *testing.T) {
	t.Parallel()

	srcMAC := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	m := dhcpwire.NewHeader(0x12345678, srcMAC)
	require.NoError(t, m.AddOption(dhcpwire.OptMessageType, []byte{byte(dhcpwire.MsgDiscover)}))
	require.NoError(t, m.AddRequests())

	frame, err := dhcpwire.BuildBroadcastFrame(m, srcMAC)
	require.NoError(t, err)

	got, discarded, err := dhcpwire.ParseRawFrame(frame)
	require.NoError(t, err)
	assert.Empty(t, discarded)

	assert.Equal(t, m.Xid, got.Xid)
	assert.Equal(t, m.CHAddr, got.CHAddr)

	typ, ok := got.MessageType()
	require.True(t, ok)
	assert.Equal(t, dhcpwire.MsgDiscover, typ)
}

func TestParseRawFrame_tooShort(t *testing.T) {
	t.Parallel()

	_, _, err := dhcpwire.ParseRawFrame(make([]byte, 4))
	require.Error(t, err)

	var rejErr *dhcpwire.FrameRejectError
	require.ErrorAs(t, err, &rejErr)
	assert.Equal(t, dhcpwire.RejectShort, rejErr.Reason)
}

func TestParseRawFrame_badIPChecksum(t *testing.T) {
	t.Parallel()

	srcMAC := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	m := dhcpwire.NewHeader(1, srcMAC)

	frame, err := dhcpwire.BuildBroadcastFrame(m, srcMAC)
	require.NoError(t, err)

	// Flip a byte in the IP source address, which corrupts its checksum
	// without touching the header's declared lengths.
	frame[14+12] ^= 0xff

	_, _, err = dhcpwire.ParseRawFrame(frame)
	require.Error(t, err)

	var rejErr *dhcpwire.FrameRejectError
	require.ErrorAs(t, err, &rejErr)
	assert.Equal(t, dhcpwire.RejectIPChecksum, rejErr.Reason)
}

func TestParseRawFrame_wrongDestPort(t *testing.T) {
	t.Parallel()

	srcMAC := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	m := dhcpwire.NewHeader(1, srcMAC)

	frame, err := dhcpwire.BuildUnicastFrame(srcMAC, dhcpwire.BroadcastMAC, net.IPv4zero, net.IPv4bcast, 69, m)
	require.NoError(t, err)

	_, _, err = dhcpwire.ParseRawFrame(frame)
	require.Error(t, err)

	var rejErr *dhcpwire.FrameRejectError
	require.ErrorAs(t, err, &rejErr)
	assert.Equal(t, dhcpwire.RejectDestPort, rejErr.Reason)
}
