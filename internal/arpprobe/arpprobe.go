// Package arpprobe implements the ARP collision probe and gateway-MAC
// verification used by the DHCP state machine's COLLISION_CHECK and
// BOUND_GW_CHECK states.
package arpprobe

import (
	"net"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Window is the total time a probe waits for a matching reply before the
// caller should treat it as resolved with no answer.
const Window = 2 * time.Second

// RetransmitInterval is how long the prober waits before resending the
// request within Window.
const RetransmitInterval = 1 * time.Second

// zeroMAC is the all-zero hardware address used as both the ARP target
// hardware address in an outgoing request and as the fallback match in
// Matches, for links that zero tHaddr on reply.
var zeroMAC = net.HardwareAddr{0, 0, 0, 0, 0, 0}

// BroadcastMAC is the Ethernet broadcast address used as the destination of
// an outgoing ARP request.
var BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// BuildRequest serializes an ARPOP_REQUEST frame: Ethernet(EtherType ARP) +
// ARP(htype=Ethernet, ptype=IP, hlen=6, plen=4). senderIP is 0.0.0.0 for a
// collision probe or the client's bound address for a gateway check.
func BuildRequest(srcMAC net.HardwareAddr, senderIP, targetIP netip.Addr) (frame []byte, err error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       BroadcastMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	senderProto := senderIP.As4()
	targetProto := targetIP.As4()
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: senderProto[:],
		DstHwAddress:      zeroMAC,
		DstProtAddress:    targetProto[:],
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err = gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Reply is a decoded ARP reply relevant to a probe in progress.
type Reply struct {
	SenderMAC net.HardwareAddr
	TargetMAC net.HardwareAddr
	SenderIP  netip.Addr
}

// ParseReply decodes an Ethernet+ARP frame and returns its reply fields. It
// returns ok=false for anything that is not an ARPOP_REPLY over
// Ethernet/IPv4, which the caller should silently ignore rather than treat
// as an error.
func ParseReply(b []byte) (r Reply, ok bool) {
	pkt := gopacket.NewPacket(b, layers.LayerTypeEthernet, gopacket.NoCopy)
	layer := pkt.Layer(layers.LayerTypeARP)
	if layer == nil {
		return Reply{}, false
	}

	arp, good := layer.(*layers.ARP)
	if !good {
		return Reply{}, false
	}
	if arp.Operation != layers.ARPReply {
		return Reply{}, false
	}
	if arp.AddrType != layers.LinkTypeEthernet || arp.Protocol != layers.EthernetTypeIPv4 {
		return Reply{}, false
	}
	if len(arp.SourceProtAddress) != 4 {
		return Reply{}, false
	}

	return Reply{
		SenderMAC: net.HardwareAddr(append([]byte(nil), arp.SourceHwAddress...)),
		TargetMAC: net.HardwareAddr(append([]byte(nil), arp.DstHwAddress...)),
		SenderIP:  netip.AddrFrom4([4]byte(arp.SourceProtAddress)),
	}, true
}

// Matches reports whether r answers a probe for probedIP issued by a client
// with hardware address clientMAC: the target-hardware address must be the
// client's own MAC (or, as a fallback for links that zero it on reply,
// all-zero), and the sender-protocol address must equal the address under
// probe.
func Matches(r Reply, clientMAC net.HardwareAddr, probedIP netip.Addr) (ok bool) {
	if r.SenderIP != probedIP {
		return false
	}

	if macEqual(r.TargetMAC, clientMAC) {
		return true
	}

	return macEqual(r.TargetMAC, zeroMAC)
}

// IsCollision reports whether reply r, already known to match the probe via
// Matches, indicates the probed address is in use by a peer rather than
// being an echo of the client's own probe: its sender-MAC differs from the
// client's own.
func IsCollision(r Reply, clientMAC net.HardwareAddr) (ok bool) {
	return !macEqual(r.SenderMAC, clientMAC)
}

func macEqual(a, b net.HardwareAddr) (ok bool) {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
