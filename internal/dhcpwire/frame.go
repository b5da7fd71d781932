package dhcpwire

import (
	"encoding/binary"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ClientPort and ServerPort are the well-known DHCPv4 UDP ports.
const (
	ClientPort = 68
	ServerPort = 67
)

// BroadcastMAC is the Ethernet broadcast address.
var BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ipv4DefaultTTL is the TTL this client stamps on outgoing raw frames, per
// RFC 1700's recommended default.
const ipv4DefaultTTL = 64

// BuildBroadcastFrame serializes msg into a full Ethernet+IPv4+UDP
// broadcast frame: source 0.0.0.0:68, destination 255.255.255.255:67,
// destination MAC ff:ff:ff:ff:ff:ff. The IP header checksum and the
// pseudo-header UDP checksum are computed during serialization.
func BuildBroadcastFrame(msg *Message, srcMAC net.HardwareAddr) (frame []byte, err error) {
	payload, err := msg.Encode()
	if err != nil {
		return nil, err
	}

	return serializeFrame(srcMAC, BroadcastMAC, net.IPv4zero, net.IPv4bcast, ClientPort, ServerPort, payload)
}

// BuildUnicastFrame serializes msg into an Ethernet+IPv4+UDP frame
// addressed to dstMAC/dstIP:dstPort, with the given source IP. Unicast sends
// normally go out over the cooked UDP socket instead (see internal/iface);
// this raw-level path exists for servers that cannot ARP the client before
// it has configured its address.
func BuildUnicastFrame(
	srcMAC, dstMAC net.HardwareAddr,
	srcIP, dstIP net.IP,
	dstPort int,
	msg *Message,
) (frame []byte, err error) {
	payload, err := msg.Encode()
	if err != nil {
		return nil, err
	}

	return serializeFrame(srcMAC, dstMAC, srcIP, dstIP, ClientPort, dstPort, payload)
}

func serializeFrame(
	srcMAC, dstMAC net.HardwareAddr,
	srcIP, dstIP net.IP,
	srcPort, dstPort int,
	payload []byte,
) (frame []byte, err error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ipv4DefaultTTL,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP.To4(),
		DstIP:    dstIP.To4(),
		Flags:    0, // DF cleared
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	if err = udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	err = gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload))
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// RejectReason names why ParseRawFrame refused a received frame.
type RejectReason string

// Reject reasons for ParseRawFrame.
const (
	RejectShort          RejectReason = "short of ip+udp header size"
	RejectTotalLen       RejectReason = "ip.tot_len exceeds received length"
	RejectProtocol       RejectReason = "ip.protocol is not udp"
	RejectVersion        RejectReason = "ip.version is not 4"
	RejectIHL            RejectReason = "ip.ihl is not 5"
	RejectDestPort       RejectReason = "udp.dest is not the dhcp client port"
	RejectBufferOverflow RejectReason = "total exceeds buffer"
	RejectUDPLenMismatch RejectReason = "udp.len does not match ip.tot_len-20"
	RejectIPChecksum     RejectReason = "ip checksum mismatch"
	RejectUDPChecksum    RejectReason = "udp checksum mismatch"
	RejectDHCPMagic      RejectReason = "dhcp magic cookie mismatch"
)

// FrameRejectError reports a non-fatal, discard-and-log frame validation
// failure.
type FrameRejectError struct {
	Reason RejectReason
}

// Error implements the error interface for *FrameRejectError.
func (e *FrameRejectError) Error() (s string) {
	return "rejecting raw frame: " + string(e.Reason)
}

const ethHeaderLen = 14
const ipHeaderLen = 20
const udpHeaderLen = 8

// ParseRawFrame validates and decodes a raw Ethernet+IPv4+UDP+DHCP frame
// read from the PF_PACKET socket. It re-derives every field from the raw
// bytes by hand rather than going through a generic decoder, because it
// must recompute and compare both checksums and accept a UDP checksum of 0
// as "not computed".
func ParseRawFrame(b []byte) (msg *Message, discarded []OptionError, err error) {
	if len(b) < ethHeaderLen+ipHeaderLen+udpHeaderLen {
		return nil, nil, &FrameRejectError{Reason: RejectShort}
	}

	ip := b[ethHeaderLen:]

	version := ip[0] >> 4
	ihl := ip[0] & 0x0f
	if version != 4 {
		return nil, nil, &FrameRejectError{Reason: RejectVersion}
	}
	if ihl != 5 {
		return nil, nil, &FrameRejectError{Reason: RejectIHL}
	}

	totalLen := int(binary.BigEndian.Uint16(ip[2:4]))
	if totalLen > len(ip) {
		return nil, nil, &FrameRejectError{Reason: RejectTotalLen}
	}
	if totalLen < ipHeaderLen+udpHeaderLen {
		return nil, nil, &FrameRejectError{Reason: RejectShort}
	}
	if ethHeaderLen+totalLen > len(b) {
		return nil, nil, &FrameRejectError{Reason: RejectBufferOverflow}
	}

	if ip[9] != 17 {
		return nil, nil, &FrameRejectError{Reason: RejectProtocol}
	}

	ipChecksumGiven := binary.BigEndian.Uint16(ip[10:12])
	ipHdr := append([]byte(nil), ip[:ipHeaderLen]...)
	ipHdr[10], ipHdr[11] = 0, 0
	if ^checksum(ipHdr, 0) != ipChecksumGiven {
		return nil, nil, &FrameRejectError{Reason: RejectIPChecksum}
	}

	udp := ip[ipHeaderLen:totalLen]

	destPort := binary.BigEndian.Uint16(udp[2:4])
	if destPort != ClientPort {
		return nil, nil, &FrameRejectError{Reason: RejectDestPort}
	}

	udpLen := int(binary.BigEndian.Uint16(udp[4:6]))
	if udpLen != totalLen-ipHeaderLen {
		return nil, nil, &FrameRejectError{Reason: RejectUDPLenMismatch}
	}

	udpChecksumGiven := binary.BigEndian.Uint16(udp[6:8])
	if udpChecksumGiven != 0 {
		var src, dst [4]byte
		copy(src[:], ip[12:16])
		copy(dst[:], ip[16:20])

		pseudo := udpPseudoHeaderSum(src, dst, uint16(udpLen))

		udpForSum := append([]byte(nil), udp[:udpLen]...)
		udpForSum[6], udpForSum[7] = 0, 0

		got := ^checksum(udpForSum, uint32(pseudo))
		if got != udpChecksumGiven {
			return nil, nil, &FrameRejectError{Reason: RejectUDPChecksum}
		}
	}

	payload := udp[udpHeaderLen:udpLen]

	msg, discarded, err = Decode(payload)
	if err != nil {
		return nil, nil, &FrameRejectError{Reason: RejectDHCPMagic}
	}

	return msg, discarded, nil
}
