package arpprobe_test

import (
	"net"
	"net/netip"
	"testing"

	"github.com/crypticterminal/ndhc/internal/arpprobe"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var clientMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}

func buildReplyFrame(t *testing.T, senderMAC net.HardwareAddr, senderIP netip.Addr, targetMAC net.HardwareAddr) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       senderMAC,
		DstMAC:       clientMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	senderProto := senderIP.As4()
	targetProto := netip.MustParseAddr("0.0.0.0").As4()
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   senderMAC,
		SourceProtAddress: senderProto[:],
		DstHwAddress:      targetMAC,
		DstProtAddress:    targetProto[:],
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, arp))

	return buf.Bytes()
}

func TestBuildRequest_parseable(t *testing.T) {
	t.Parallel()

	probed := netip.MustParseAddr("192.0.2.10")
	frame, err := arpprobe.BuildRequest(clientMAC, netip.MustParseAddr("0.0.0.0"), probed)
	require.NoError(t, err)

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	arp, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	require.True(t, ok)
	assert.Equal(t, layers.ARPRequest, arp.Operation)
	assert.Equal(t, []byte(clientMAC), arp.SourceHwAddress)
}

func TestParseReply_ignoresNonReply(t *testing.T) {
	t.Parallel()

	frame, err := arpprobe.BuildRequest(clientMAC, netip.MustParseAddr("0.0.0.0"), netip.MustParseAddr("192.0.2.10"))
	require.NoError(t, err)

	_, ok := arpprobe.ParseReply(frame)
	assert.False(t, ok)
}

func TestMatches_collisionDetected(t *testing.T) {
	t.Parallel()

	probed := netip.MustParseAddr("192.0.2.10")
	peerMAC := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}

	frame := buildReplyFrame(t, peerMAC, probed, clientMAC)
	r, ok := arpprobe.ParseReply(frame)
	require.True(t, ok)

	assert.True(t, arpprobe.Matches(r, clientMAC, probed))
	assert.True(t, arpprobe.IsCollision(r, clientMAC))
}

func TestMatches_zeroTargetHardwareFallback(t *testing.T) {
	t.Parallel()

	probed := netip.MustParseAddr("192.0.2.10")
	peerMAC := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}

	frame := buildReplyFrame(t, peerMAC, probed, net.HardwareAddr{0, 0, 0, 0, 0, 0})
	r, ok := arpprobe.ParseReply(frame)
	require.True(t, ok)

	assert.True(t, arpprobe.Matches(r, clientMAC, probed))
}

func TestMatches_wrongIPIgnored(t *testing.T) {
	t.Parallel()

	probed := netip.MustParseAddr("192.0.2.10")
	other := netip.MustParseAddr("192.0.2.20")
	peerMAC := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}

	frame := buildReplyFrame(t, peerMAC, other, clientMAC)
	r, ok := arpprobe.ParseReply(frame)
	require.True(t, ok)

	assert.False(t, arpprobe.Matches(r, clientMAC, probed))
}

func TestIsCollision_ownEchoIsNotCollision(t *testing.T) {
	t.Parallel()

	probed := netip.MustParseAddr("192.0.2.10")
	frame := buildReplyFrame(t, clientMAC, probed, clientMAC)
	r, ok := arpprobe.ParseReply(frame)
	require.True(t, ok)

	assert.True(t, arpprobe.Matches(r, clientMAC, probed))
	assert.False(t, arpprobe.IsCollision(r, clientMAC))
}
