package probe

import (
	"encoding/binary"
	"net/netip"
)

// Checksum calculates the Internet Checksum (RFC 1071).
// This is used for ICMP, IP, UDP, and TCP header checksums.
func Checksum(data []byte) uint16 {
	return ^fold(sum(data, 0))
}

// ValidateChecksum verifies that a packet's checksum is correct.
// Returns true if the checksum is valid (sum including checksum equals 0xFFFF).
func ValidateChecksum(data []byte) bool {
	return fold(sum(data, 0)) == 0xffff
}

// TransportChecksum calculates the UDP/TCP checksum of segment including
// the IPv4 pseudo-header built from src, dst, proto and the segment length.
func TransportChecksum(src, dst netip.Addr, proto uint8, segment []byte) uint16 {
	return ^fold(sum(segment, pseudoHeaderSum(src, dst, proto, len(segment))))
}

// ValidateTransportChecksum reports whether segment carries a valid checksum
// for the given pseudo-header.
func ValidateTransportChecksum(src, dst netip.Addr, proto uint8, segment []byte) bool {
	return fold(sum(segment, pseudoHeaderSum(src, dst, proto, len(segment)))) == 0xffff
}

// AdjustChecksum returns the 16-bit word that, written into a zeroed
// word-aligned slot of a message whose checksum is current, makes the
// checksum of the whole message equal want.
//
// Let S be the one's-complement sum of the message, so current = ^S.
// Adding x = current + ^want gives S + ^S + ^want = ^want (mod 0xffff).
func AdjustChecksum(current, want uint16) uint16 {
	return fold(uint32(current) + uint32(^want))
}

// craftedChecksumField maps a crafted checksum to the value stored on the
// wire: 0x0000 means "no checksum" for UDP, so its one's-complement twin is used.
func craftedChecksumField(want uint16) uint16 {
	if want == 0x0000 {
		return 0xffff
	}
	return want
}

// addrChecksum is the checksum of the four destination address bytes. It
// gives a deterministic per-destination value without keeping any state.
func addrChecksum(addr netip.Addr) uint16 {
	a := addr.As4()
	return Checksum(a[:])
}

func pseudoHeaderSum(src, dst netip.Addr, proto uint8, length int) uint32 {
	var ph [12]byte
	s, d := src.As4(), dst.As4()
	copy(ph[0:4], s[:])
	copy(ph[4:8], d[:])
	ph[9] = proto
	binary.BigEndian.PutUint16(ph[10:12], uint16(length))
	return sum(ph[:], 0)
}

// sum adds all 16-bit big-endian words of data to initial.
func sum(data []byte, initial uint32) uint32 {
	s := initial
	for i := 0; i < len(data)-1; i += 2 {
		s += uint32(data[i])<<8 | uint32(data[i+1])
	}

	// Add left-over byte, if any (pad with zero)
	if len(data)%2 == 1 {
		s += uint32(data[len(data)-1]) << 8
	}
	return s
}

// fold folds a 32-bit sum to 16 bits with end-around carry.
func fold(s uint32) uint16 {
	for s > 0xffff {
		s = (s >> 16) + (s & 0xffff)
	}
	return uint16(s)
}
