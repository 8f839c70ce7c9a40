// Package probe crafts and sends stateless IPv4 traceroute probes.
//
// Every probe carries its own matching state: the send timestamp is encoded
// in header fields (UDP payload length and checksum, ICMP identifier and
// sequence, TCP sequence number) and the destination is bound through
// checksums, so a decoupled receiver can recognise and time replies without
// a per-probe table. TCP middlebox-detection probes additionally carry three
// xxHash32 values scoped to different header fields.
package probe

import (
	"fmt"
	"net/netip"
	"strings"
)

// Type represents the kind of probe to send.
type Type int

const (
	// TypeUDP sends UDP datagrams
	TypeUDP Type = iota
	// TypeICMP sends ICMP Echo Request messages
	TypeICMP
	// TypeICMPReply sends ICMP Echo Reply messages
	TypeICMPReply
	// TypeTCPSYN sends TCP segments with SYN set
	TypeTCPSYN
	// TypeTCPACK sends TCP segments with ACK set
	TypeTCPACK
)

// String returns the string representation of the probe type.
func (t Type) String() string {
	switch t {
	case TypeUDP:
		return "udp"
	case TypeICMP:
		return "icmp"
	case TypeICMPReply:
		return "icmp-reply"
	case TypeTCPSYN:
		return "tcp-syn"
	case TypeTCPACK:
		return "tcp-ack"
	default:
		return "unknown"
	}
}

// Protocol returns the transport protocol name of the probe type.
func (t Type) Protocol() string {
	switch t {
	case TypeUDP:
		return "udp"
	case TypeICMP, TypeICMPReply:
		return "icmp"
	case TypeTCPSYN, TypeTCPACK:
		return "tcp"
	default:
		return "unknown"
	}
}

func (t Type) valid() bool {
	return t >= TypeUDP && t <= TypeTCPACK
}

// ParseType parses a probe type name as returned by Type.String.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "udp":
		return TypeUDP, nil
	case "icmp":
		return TypeICMP, nil
	case "icmp-reply", "icmp_reply":
		return TypeICMPReply, nil
	case "tcp-syn", "tcp_syn", "syn":
		return TypeTCPSYN, nil
	case "tcp-ack", "tcp_ack", "ack", "tcp":
		return TypeTCPACK, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownProbeType, s)
	}
}

// Verbosity levels.
const (
	VerbosityOff  = 0
	VerbosityLow  = 1
	VerbosityHigh = 2
	// Trace lines are written when the verbosity exceeds VerbosityHigh.
	VerbosityDebug = 3
)

// Config holds the probing configuration.
type Config struct {
	// Source is the probe source address; inferred from the outbound
	// interface when empty
	Source string

	// Instance tags every probe of this run (upper byte of the IP ID)
	Instance uint8

	// Type selects the probe protocol
	Type Type

	// Port is the destination port for UDP and TCP probes
	Port uint16

	// Verbosity controls per-probe trace lines
	Verbosity int

	// Coarse selects millisecond instead of microsecond timestamps
	Coarse bool

	// MiddleboxDetection sends TCP probes with options and verification hashes
	MiddleboxDetection bool

	// FixSequence uses a constant TCP sequence number in middlebox detection mode
	FixSequence bool

	// UseWindowScale appends a Window Scale option with shift WindowScale
	UseWindowScale bool
	WindowScale    uint8

	// MSS is the Maximum Segment Size option value
	MSS uint16

	// DryRun builds probes without opening a raw socket
	DryRun bool

	// Receive starts the attached listener once the engine is ready
	Receive bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Type:    TypeTCPACK,
		Port:    80,
		MSS:     1460,
		Receive: true,
	}
}

// Publisher receives values resolved at engine construction, such as the
// source address ("SourceIP").
type Publisher interface {
	Set(key, value string)
}

// Sender transmits a complete IPv4 packet, header included.
type Sender interface {
	Send(pkt []byte, dst netip.Addr) error
}

// SourceIPKey is the Publisher key of the resolved source address.
const SourceIPKey = "SourceIP"
