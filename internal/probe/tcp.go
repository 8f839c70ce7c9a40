package probe

import (
	"encoding/binary"
)

const (
	// tcpProbeWindow is the advertised window of simple probes and the
	// placeholder window and urgent pointer of middlebox-detection probes.
	tcpProbeWindow = 0xfffe

	// tcpFixedSequence replaces the timestamp in the sequence number when
	// FixSequence is set, so sequence rewriting is visible on its own.
	tcpFixedSequence = 1

	// tcpReservedBits marks middlebox-detection probes in the reserved
	// header bits; middleboxes that normalise headers clear them.
	tcpReservedBits = 0x4
)

// buildTCP writes a TCP probe into the buffer and returns its length.
func (e *Engine) buildTCP(ip *IPv4Header, elapsed uint32) (int, error) {
	if e.config.MiddleboxDetection {
		return e.buildTCPOptions(ip, elapsed)
	}

	pktLen := IPv4HeaderLen + TCPHeaderLen
	if pktLen > len(e.buf) {
		return 0, ErrShortBuffer
	}
	ip.Protocol = ProtocolTCP
	ip.TotalLen = uint16(pktLen)
	if err := e.writeIPv4(ip); err != nil {
		return 0, err
	}

	tcp := TCPHeader{
		SrcPort:    addrChecksum(ip.Dst),
		DstPort:    e.config.Port,
		Seq:        elapsed,
		DataOffset: TCPHeaderLen / 4,
		Window:     tcpProbeWindow,
	}
	// ACK probes avoid SYN-flood defences; the acknowledgment number
	// carries the destination address instead.
	if e.config.Type == TypeTCPSYN {
		tcp.Flags = TCPFlagSYN
	} else {
		tcp.Flags = TCPFlagACK
		dst := ip.Dst.As4()
		tcp.Ack = binary.BigEndian.Uint32(dst[:])
	}

	seg := e.buf[IPv4HeaderLen:pktLen]
	if err := tcp.Marshal(seg); err != nil {
		return 0, err
	}
	tcp.Checksum = TransportChecksum(ip.Src, ip.Dst, ProtocolTCP, seg)
	binary.BigEndian.PutUint16(seg[16:18], tcp.Checksum)

	return pktLen, nil
}

// buildTCPOptions writes a middlebox-detection probe: a TCP header with
// MSS, SACK-Permitted, MP_CAPABLE, Timestamp and optional Window Scale
// options carrying three verification hashes.
//
//   - complete hash (IP fields, sequence, options) in window:urgent
//   - IP-fields hash in the Timestamp TSval
//   - sequence hash (sequence, options) in the Timestamp TSecr
//
// A receiver recomputing the three values from the quoted probe learns
// which group of fields a middlebox rewrote.
func (e *Engine) buildTCPOptions(ip *IPv4Header, elapsed uint32) (int, error) {
	opts := TCPOptions{
		MSS:            e.config.MSS,
		SenderKey:      MPTCPSenderKey,
		UseWindowScale: e.config.UseWindowScale,
		WindowScale:    e.config.WindowScale,
	}
	hdrLen := TCPHeaderLen + opts.Len()
	pktLen := IPv4HeaderLen + hdrLen
	if pktLen > len(e.buf) {
		return 0, ErrShortBuffer
	}

	ip.Protocol = ProtocolTCP
	ip.TotalLen = uint16(pktLen)
	if err := e.writeIPv4(ip); err != nil {
		return 0, err
	}

	seq := elapsed
	if e.config.FixSequence {
		seq = tcpFixedSequence
	}
	tcp := TCPHeader{
		SrcPort:    addrChecksum(ip.Dst),
		DstPort:    e.config.Port,
		Seq:        seq,
		DataOffset: uint8(hdrLen / 4),
		Reserved:   tcpReservedBits,
		Window:     tcpProbeWindow,
		Urgent:     tcpProbeWindow,
	}
	if e.config.Type == TypeTCPSYN {
		tcp.Flags = TCPFlagSYN
	} else {
		tcp.Flags = TCPFlagACK
	}

	seg := e.buf[IPv4HeaderLen:pktLen]
	options := seg[TCPHeaderLen:hdrLen]
	if err := opts.Marshal(options); err != nil {
		return 0, err
	}

	var ws []byte
	if opts.UseWindowScale {
		ws = options[optOffWindowScale : optOffWindowScale+tcpOptLenWindowScale]
	}
	hashes := ComputeHashes(ip, seq, options, ws)

	tcp.Window, tcp.Urgent = SplitHash(hashes.Complete)
	binary.BigEndian.PutUint32(options[optOffTSval:optOffTSval+4], hashes.IPFields)
	binary.BigEndian.PutUint32(options[optOffTSecr:optOffTSecr+4], hashes.Sequence)

	if err := tcp.Marshal(seg); err != nil {
		return 0, err
	}
	tcp.Checksum = TransportChecksum(ip.Src, ip.Dst, ProtocolTCP, seg)
	binary.BigEndian.PutUint16(seg[16:18], tcp.Checksum)

	return pktLen, nil
}
