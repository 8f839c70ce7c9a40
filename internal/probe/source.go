package probe

import (
	"fmt"
	"net"
	"net/netip"
)

// InferSourceIP returns the address of the interface used to reach the
// Internet. No packet is sent: connecting a UDP socket only selects a route.
func InferSourceIP() (netip.Addr, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return netip.Addr{}, err
	}
	defer conn.Close()

	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}
	addr, ok := netip.AddrFromSlice(local.IP)
	if !ok || !addr.Unmap().Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %v", ErrBadSourceAddress, local.IP)
	}
	return addr.Unmap(), nil
}
