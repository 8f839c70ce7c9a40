//go:build linux || darwin || freebsd || netbsd || openbsd

package probe

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// rawSender sends header-included IPv4 packets over an IPPROTO_RAW socket.
type rawSender struct {
	conn net.PacketConn
	raw  *ipv4.RawConn
}

func newRawSender() (*rawSender, error) {
	conn, err := net.ListenPacket("ip4:255", "0.0.0.0")
	if err != nil {
		return nil, socketError(err)
	}
	raw, err := ipv4.NewRawConn(conn)
	if err != nil {
		conn.Close()
		return nil, socketError(err)
	}
	return &rawSender{conn: conn, raw: raw}, nil
}

// Send parses the header back into its typed form so x/net/ipv4 can apply
// the platform's byte order rules for the length and fragment fields.
func (s *rawSender) Send(pkt []byte, dst netip.Addr) error {
	if s.raw == nil {
		return ErrSocketClosed
	}
	ip, ihl, err := ParseIPv4Header(pkt)
	if err != nil {
		return err
	}
	if ip.Dst != dst {
		return fmt.Errorf("%w: header destination %s, want %s", ErrInvalidPacket, ip.Dst, dst)
	}
	return s.raw.WriteTo(netHeader(&ip), pkt[ihl:], nil)
}

func (s *rawSender) Close() error {
	if s.raw == nil {
		return nil
	}
	err := s.raw.Close()
	s.raw = nil
	return err
}

// netHeader converts a parsed header to its x/net/ipv4 representation.
func netHeader(h *IPv4Header) *ipv4.Header {
	src, dst := h.Src.As4(), h.Dst.As4()
	return &ipv4.Header{
		Version:  ipv4.Version,
		Len:      ipv4.HeaderLen,
		TOS:      int(h.TOS),
		TotalLen: int(h.TotalLen),
		ID:       int(h.ID),
		Flags:    ipv4.HeaderFlags(h.Fragment >> 13),
		FragOff:  int(h.Fragment & 0x1fff),
		TTL:      int(h.TTL),
		Protocol: int(h.Protocol),
		Checksum: int(h.Checksum),
		Src:      net.IP(src[:]),
		Dst:      net.IP(dst[:]),
	}
}

func socketError(err error) error {
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return err
}
