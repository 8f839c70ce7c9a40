package scan

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"
)

// ReadTargets reads one target per line. Blank lines and text after '#'
// are ignored.
func ReadTargets(r io.Reader) ([]string, error) {
	var targets []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if line = strings.TrimSpace(line); line != "" {
			targets = append(targets, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return targets, nil
}

// ResolveTargets resolves hostnames and IP strings to IPv4 addresses.
func ResolveTargets(ctx context.Context, resolver *net.Resolver, targets []string) ([]netip.Addr, error) {
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	addrs := make([]netip.Addr, 0, len(targets))
	for _, target := range targets {
		addr, err := resolveTarget(ctx, resolver, target)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// resolveTarget resolves a hostname or IP string to an IPv4 address.
func resolveTarget(ctx context.Context, resolver *net.Resolver, target string) (netip.Addr, error) {
	// Check if target is already an IP address
	if addr, err := netip.ParseAddr(target); err == nil {
		if !addr.Unmap().Is4() {
			return netip.Addr{}, fmt.Errorf("%w: %s is not an IPv4 address", ErrTargetResolution, target)
		}
		return addr.Unmap(), nil
	}

	addrs, err := resolver.LookupNetIP(ctx, "ip4", target)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w %s: %v", ErrTargetResolution, target, err)
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("%w: no IPv4 addresses found for %s", ErrTargetResolution, target)
	}
	return addrs[0].Unmap(), nil
}
