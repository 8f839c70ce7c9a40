package probe

import "encoding/binary"

// TCP option kinds.
const (
	TCPOptEOL           = 0
	TCPOptNOP           = 1
	TCPOptMSS           = 2
	TCPOptWindowScale   = 3
	TCPOptSACKPermitted = 4
	TCPOptTimestamp     = 8
	TCPOptMPTCP         = 30
)

// Option lengths.
const (
	tcpOptLenMSS           = 4
	tcpOptLenSACKPermitted = 2
	tcpOptLenMPCapable     = 12
	tcpOptLenTimestamp     = 10
	tcpOptLenWindowScale   = 3
)

// MPTCPSenderKey is the fixed MP_CAPABLE sender key carried by every
// middlebox-detection probe.
const MPTCPSenderKey uint64 = 0x1a2b3c4d5e6f7091

const (
	mpCapableSubtypeVersion = 0x00 // MP_CAPABLE, version 0
	mpCapableFlags          = 0x01 // H: HMAC-SHA1
)

// Offsets of the option fields inside the options region.
const (
	optOffTimestamp   = tcpOptLenMSS + tcpOptLenSACKPermitted + tcpOptLenMPCapable
	optOffTSval       = optOffTimestamp + 2
	optOffTSecr       = optOffTimestamp + 6
	optOffWindowScale = optOffTimestamp + tcpOptLenTimestamp

	// TCPOptionsLen is the size of the options region without window scale.
	TCPOptionsLen = optOffWindowScale
)

// TCPOptions is the fixed option sequence of a middlebox-detection probe:
// MSS, SACK-Permitted, MPTCP MP_CAPABLE, Timestamp and, optionally,
// Window Scale followed by End of Option List.
type TCPOptions struct {
	MSS            uint16
	SenderKey      uint64
	TSval          uint32
	TSecr          uint32
	UseWindowScale bool
	WindowScale    uint8
}

// Len returns the encoded length, always a multiple of four.
func (o *TCPOptions) Len() int {
	if o.UseWindowScale {
		return TCPOptionsLen + tcpOptLenWindowScale + 1
	}
	return TCPOptionsLen
}

// Marshal writes the options into b[:o.Len()].
func (o *TCPOptions) Marshal(b []byte) error {
	if len(b) < o.Len() {
		return ErrShortBuffer
	}
	b[0] = TCPOptMSS
	b[1] = tcpOptLenMSS
	binary.BigEndian.PutUint16(b[2:4], o.MSS)

	b[4] = TCPOptSACKPermitted
	b[5] = tcpOptLenSACKPermitted

	b[6] = TCPOptMPTCP
	b[7] = tcpOptLenMPCapable
	b[8] = mpCapableSubtypeVersion
	b[9] = mpCapableFlags
	binary.BigEndian.PutUint64(b[10:18], o.SenderKey)

	b[optOffTimestamp] = TCPOptTimestamp
	b[optOffTimestamp+1] = tcpOptLenTimestamp
	binary.BigEndian.PutUint32(b[optOffTSval:optOffTSval+4], o.TSval)
	binary.BigEndian.PutUint32(b[optOffTSecr:optOffTSecr+4], o.TSecr)

	if o.UseWindowScale {
		b[optOffWindowScale] = TCPOptWindowScale
		b[optOffWindowScale+1] = tcpOptLenWindowScale
		b[optOffWindowScale+2] = o.WindowScale
		b[optOffWindowScale+3] = TCPOptEOL
	}
	return nil
}

// findOption walks the option list and returns the offset of the first
// option of the given kind.
func findOption(opts []byte, kind uint8) (int, bool) {
	for i := 0; i < len(opts); {
		k := opts[i]
		if k == kind {
			return i, true
		}
		switch k {
		case TCPOptEOL:
			return 0, false
		case TCPOptNOP:
			i++
			continue
		}
		if i+1 >= len(opts) || opts[i+1] < 2 {
			return 0, false
		}
		i += int(opts[i+1])
	}
	return 0, false
}

// option returns the bytes of the first option of the given kind, provided
// it is complete and has the expected length.
func option(opts []byte, kind uint8, length int) ([]byte, bool) {
	off, ok := findOption(opts, kind)
	if !ok || off+length > len(opts) || int(opts[off+1]) != length {
		return nil, false
	}
	return opts[off : off+length], true
}

// timestamps returns the TSval and TSecr fields of the Timestamp option.
func timestamps(opts []byte) (tsval, tsecr uint32, err error) {
	ts, ok := option(opts, TCPOptTimestamp, tcpOptLenTimestamp)
	if !ok {
		return 0, 0, ErrNoTimestamp
	}
	return binary.BigEndian.Uint32(ts[2:6]), binary.BigEndian.Uint32(ts[6:10]), nil
}
