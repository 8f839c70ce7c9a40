package probe

import "encoding/binary"

// udpCraftedLen is the payload slot whose value forces the UDP checksum.
const udpCraftedLen = 2

// buildUDP writes a UDP probe into the buffer and returns its length.
//
// The send timestamp is split between the payload length, which carries the
// upper 16 bits, and the UDP checksum, which is forced to the lower 16 bits
// by the first two payload bytes. The source port is the checksum of the
// destination address.
func (e *Engine) buildUDP(ip *IPv4Header, elapsed uint32) (int, error) {
	payloadLen := udpCraftedLen + int(elapsed>>16)
	segLen := UDPHeaderLen + payloadLen
	pktLen := IPv4HeaderLen + segLen
	if pktLen > len(e.buf) {
		return 0, ErrPacketTooLarge
	}

	ip.Protocol = ProtocolUDP
	ip.TotalLen = uint16(pktLen)
	ip.Fragment = IPv4DontFragment
	if err := e.writeIPv4(ip); err != nil {
		return 0, err
	}

	seg := e.buf[IPv4HeaderLen:pktLen]
	udp := UDPHeader{
		SrcPort: addrChecksum(ip.Dst),
		DstPort: e.config.Port,
		Length:  uint16(segLen),
	}
	if err := udp.Marshal(seg); err != nil {
		return 0, err
	}
	payload := seg[UDPHeaderLen:]
	clear(payload)

	want := uint16(elapsed)
	current := TransportChecksum(ip.Src, ip.Dst, ProtocolUDP, seg)
	binary.BigEndian.PutUint16(payload[:udpCraftedLen], AdjustChecksum(current, want))
	udp.Checksum = craftedChecksumField(want)
	binary.BigEndian.PutUint16(seg[6:8], udp.Checksum)

	return pktLen, nil
}
