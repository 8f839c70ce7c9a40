package probe

import (
	"encoding/binary"
	"net/netip"
)

// Header sizes in bytes.
const (
	IPv4HeaderLen = 20
	UDPHeaderLen  = 8
	ICMPHeaderLen = 8
	TCPHeaderLen  = 20
)

// IP protocol numbers.
const (
	ProtocolICMP = 1
	ProtocolTCP  = 6
	ProtocolUDP  = 17
)

// ICMP message types for IPv4
const (
	ICMPv4EchoReply   = 0
	ICMPv4EchoRequest = 8
)

// IPv4 flags (upper three bits of the fragment word).
const (
	IPv4DontFragment uint16 = 0x4000
)

// TCP flags set by probes
const (
	TCPFlagSYN uint8 = 0x02
	TCPFlagACK uint8 = 0x10
)

// IPv4Header is an IPv4 header without options.
//
//	0: version/IHL  1: TOS  2: total length  4: ID  6: flags/fragment
//	8: TTL  9: protocol  10: checksum  12: source  16: destination
type IPv4Header struct {
	TOS      uint8
	TotalLen uint16
	ID       uint16
	Fragment uint16 // flags and fragment offset
	TTL      uint8
	Protocol uint8
	Checksum uint16
	Src      netip.Addr
	Dst      netip.Addr
}

// Marshal writes the header into b[:IPv4HeaderLen].
func (h *IPv4Header) Marshal(b []byte) error {
	if len(b) < IPv4HeaderLen {
		return ErrShortBuffer
	}
	b[0] = 4<<4 | IPv4HeaderLen>>2
	b[1] = h.TOS
	binary.BigEndian.PutUint16(b[2:4], h.TotalLen)
	binary.BigEndian.PutUint16(b[4:6], h.ID)
	binary.BigEndian.PutUint16(b[6:8], h.Fragment)
	b[8] = h.TTL
	b[9] = h.Protocol
	binary.BigEndian.PutUint16(b[10:12], h.Checksum)
	src, dst := h.Src.As4(), h.Dst.As4()
	copy(b[12:16], src[:])
	copy(b[16:20], dst[:])
	return nil
}

// ParseIPv4Header parses an IPv4 header. Options, if any, are skipped; the
// returned length is the header length in bytes.
func ParseIPv4Header(b []byte) (IPv4Header, int, error) {
	if len(b) < IPv4HeaderLen {
		return IPv4Header{}, 0, ErrShortBuffer
	}
	if b[0]>>4 != 4 {
		return IPv4Header{}, 0, ErrInvalidPacket
	}
	ihl := int(b[0]&0x0f) * 4
	if ihl < IPv4HeaderLen || len(b) < ihl {
		return IPv4Header{}, 0, ErrInvalidPacket
	}
	return IPv4Header{
		TOS:      b[1],
		TotalLen: binary.BigEndian.Uint16(b[2:4]),
		ID:       binary.BigEndian.Uint16(b[4:6]),
		Fragment: binary.BigEndian.Uint16(b[6:8]),
		TTL:      b[8],
		Protocol: b[9],
		Checksum: binary.BigEndian.Uint16(b[10:12]),
		Src:      netip.AddrFrom4([4]byte(b[12:16])),
		Dst:      netip.AddrFrom4([4]byte(b[16:20])),
	}, ihl, nil
}

// UDPHeader is a UDP header.
type UDPHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// Marshal writes the header into b[:UDPHeaderLen].
func (h *UDPHeader) Marshal(b []byte) error {
	if len(b) < UDPHeaderLen {
		return ErrShortBuffer
	}
	binary.BigEndian.PutUint16(b[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], h.DstPort)
	binary.BigEndian.PutUint16(b[4:6], h.Length)
	binary.BigEndian.PutUint16(b[6:8], h.Checksum)
	return nil
}

// ParseUDPHeader parses a UDP header.
func ParseUDPHeader(b []byte) (UDPHeader, error) {
	if len(b) < UDPHeaderLen {
		return UDPHeader{}, ErrShortBuffer
	}
	return UDPHeader{
		SrcPort:  binary.BigEndian.Uint16(b[0:2]),
		DstPort:  binary.BigEndian.Uint16(b[2:4]),
		Length:   binary.BigEndian.Uint16(b[4:6]),
		Checksum: binary.BigEndian.Uint16(b[6:8]),
	}, nil
}

// ICMPHeader is an ICMP Echo / Echo Reply header.
type ICMPHeader struct {
	Type       uint8
	Code       uint8
	Checksum   uint16
	Identifier uint16
	Sequence   uint16
}

// Marshal writes the header into b[:ICMPHeaderLen].
func (h *ICMPHeader) Marshal(b []byte) error {
	if len(b) < ICMPHeaderLen {
		return ErrShortBuffer
	}
	b[0] = h.Type
	b[1] = h.Code
	binary.BigEndian.PutUint16(b[2:4], h.Checksum)
	binary.BigEndian.PutUint16(b[4:6], h.Identifier)
	binary.BigEndian.PutUint16(b[6:8], h.Sequence)
	return nil
}

// ParseICMPHeader parses an ICMP Echo header.
func ParseICMPHeader(b []byte) (ICMPHeader, error) {
	if len(b) < ICMPHeaderLen {
		return ICMPHeader{}, ErrShortBuffer
	}
	return ICMPHeader{
		Type:       b[0],
		Code:       b[1],
		Checksum:   binary.BigEndian.Uint16(b[2:4]),
		Identifier: binary.BigEndian.Uint16(b[4:6]),
		Sequence:   binary.BigEndian.Uint16(b[6:8]),
	}, nil
}

// TCPHeader is the fixed 20-byte part of a TCP header.
type TCPHeader struct {
	SrcPort    uint16
	DstPort    uint16
	Seq        uint32
	Ack        uint32
	DataOffset uint8 // header length in 32-bit words
	Reserved   uint8 // low four bits of byte 12
	Flags      uint8
	Window     uint16
	Checksum   uint16
	Urgent     uint16
}

// Marshal writes the header into b[:TCPHeaderLen].
func (h *TCPHeader) Marshal(b []byte) error {
	if len(b) < TCPHeaderLen {
		return ErrShortBuffer
	}
	binary.BigEndian.PutUint16(b[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], h.DstPort)
	binary.BigEndian.PutUint32(b[4:8], h.Seq)
	binary.BigEndian.PutUint32(b[8:12], h.Ack)
	b[12] = h.DataOffset<<4 | h.Reserved&0x0f
	b[13] = h.Flags
	binary.BigEndian.PutUint16(b[14:16], h.Window)
	binary.BigEndian.PutUint16(b[16:18], h.Checksum)
	binary.BigEndian.PutUint16(b[18:20], h.Urgent)
	return nil
}

// HeaderLen returns the header length in bytes including options.
func (h *TCPHeader) HeaderLen() int {
	return int(h.DataOffset) * 4
}

// ParseTCPHeader parses the fixed part of a TCP header.
func ParseTCPHeader(b []byte) (TCPHeader, error) {
	if len(b) < TCPHeaderLen {
		return TCPHeader{}, ErrShortBuffer
	}
	h := TCPHeader{
		SrcPort:    binary.BigEndian.Uint16(b[0:2]),
		DstPort:    binary.BigEndian.Uint16(b[2:4]),
		Seq:        binary.BigEndian.Uint32(b[4:8]),
		Ack:        binary.BigEndian.Uint32(b[8:12]),
		DataOffset: b[12] >> 4,
		Reserved:   b[12] & 0x0f,
		Flags:      b[13],
		Window:     binary.BigEndian.Uint16(b[14:16]),
		Checksum:   binary.BigEndian.Uint16(b[16:18]),
		Urgent:     binary.BigEndian.Uint16(b[18:20]),
	}
	if h.HeaderLen() < TCPHeaderLen {
		return TCPHeader{}, ErrInvalidPacket
	}
	return h, nil
}
