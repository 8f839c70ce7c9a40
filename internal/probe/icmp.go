package probe

import "encoding/binary"

// icmpPayloadLen is the payload slot whose value forces the ICMP checksum.
const icmpPayloadLen = 2

// buildICMP writes an ICMP Echo (or Echo Reply) probe into the buffer and
// returns its length.
//
// The identifier and sequence carry the low and high halves of the send
// timestamp. The checksum is forced to the checksum of the destination
// address, which survives in the quote of ICMP errors and binds the reply to
// the destination independently of the IP header.
func (e *Engine) buildICMP(ip *IPv4Header, elapsed uint32) (int, error) {
	msgLen := ICMPHeaderLen + icmpPayloadLen
	pktLen := IPv4HeaderLen + msgLen
	if pktLen > len(e.buf) {
		return 0, ErrShortBuffer
	}

	ip.Protocol = ProtocolICMP
	ip.TotalLen = uint16(pktLen)
	if err := e.writeIPv4(ip); err != nil {
		return 0, err
	}

	msg := e.buf[IPv4HeaderLen:pktLen]
	h := ICMPHeader{
		Type:       ICMPv4EchoRequest,
		Identifier: uint16(elapsed),
		Sequence:   uint16(elapsed >> 16),
	}
	if e.config.Type == TypeICMPReply {
		h.Type = ICMPv4EchoReply
	}
	if err := h.Marshal(msg); err != nil {
		return 0, err
	}
	payload := msg[ICMPHeaderLen:]
	clear(payload)

	want := addrChecksum(ip.Dst)
	binary.BigEndian.PutUint16(payload, AdjustChecksum(Checksum(msg), want))
	h.Checksum = craftedChecksumField(want)
	binary.BigEndian.PutUint16(msg[2:4], h.Checksum)

	return pktLen, nil
}
