package probe

import "errors"

// Probe-related errors.
var (
	// ErrPermissionDenied indicates insufficient privileges for raw sockets
	ErrPermissionDenied = errors.New("permission denied: raw socket requires elevated privileges")

	// ErrBadSourceAddress indicates the configured source is not an IPv4 address
	ErrBadSourceAddress = errors.New("bad source address")

	// ErrUnknownProbeType indicates the configured probe type is not supported
	ErrUnknownProbeType = errors.New("unknown probe type")

	// ErrNotIPv4 indicates a destination that is not an IPv4 address
	ErrNotIPv4 = errors.New("destination is not an IPv4 address")

	// ErrPacketTooLarge indicates the probe does not fit in the packet buffer
	ErrPacketTooLarge = errors.New("probe exceeds maximum packet size")

	// ErrShortBuffer indicates a buffer too small to hold or parse a header
	ErrShortBuffer = errors.New("buffer too short for header")

	// ErrInvalidPacket indicates a malformed or unexpected packet
	ErrInvalidPacket = errors.New("invalid packet")

	// ErrNoTimestamp indicates a TCP header without a Timestamp option
	ErrNoTimestamp = errors.New("tcp timestamp option not found")

	// ErrSocketClosed indicates the socket has been closed
	ErrSocketClosed = errors.New("socket closed")
)

// IsPermissionError returns true if the error is a permission error.
func IsPermissionError(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
