//go:build windows

package probe

import (
	"errors"
	"net/netip"
)

var errRawUnsupported = errors.New("header-included raw IPv4 sockets are not supported on windows")

type rawSender struct{}

func newRawSender() (*rawSender, error) {
	return nil, errRawUnsupported
}

func (s *rawSender) Send(pkt []byte, dst netip.Addr) error {
	return errRawUnsupported
}

func (s *rawSender) Close() error {
	return nil
}
