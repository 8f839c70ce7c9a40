package probe

import (
	"bytes"
	"math/bits"
	"strconv"
	"strings"

	"github.com/OneOfOne/xxhash"
)

// hashSeed is the xxHash32 seed used for every verification hash.
const hashSeed = 0

// ComposeHash builds the 32-bit verification value of a middlebox-detection
// probe: xxHash32 over seed followed by the decimal rendering of every
// option byte up to the first byte equal to the Timestamp kind and, when
// present, of the three window scale option bytes.
func ComposeHash(seed string, options, windowScale []byte) uint32 {
	var b strings.Builder
	b.WriteString(seed)
	writeDecimalBytes(&b, hashedOptions(options))
	writeDecimalBytes(&b, windowScale)
	return xxhash.Checksum32S([]byte(b.String()), hashSeed)
}

// hashedOptions returns the option bytes preceding the first byte equal to
// the Timestamp kind. This is a plain byte scan, not an option walk: an MSS
// of 1288 (0x0508) ends the hashed input after its high byte.
func hashedOptions(options []byte) []byte {
	if i := bytes.IndexByte(options, TCPOptTimestamp); i >= 0 {
		return options[:i]
	}
	return options
}

func writeDecimalBytes(b *strings.Builder, p []byte) {
	for _, c := range p {
		b.WriteString(strconv.Itoa(int(c)))
	}
}

// ipSeed renders the IP-layer fields covered by the complete hash and by
// partial hash 1: TOS, dotted destination, identification and total length.
//
// Identification and total length are rendered as their wire bytes read as
// a little-endian integer, so TTL 5 gives "1280" and length 68 gives "17408".
// Receivers on little-endian hosts hash the raw header fields and get the
// same strings.
func ipSeed(h *IPv4Header) string {
	return strconv.Itoa(int(h.TOS)) +
		h.Dst.String() +
		strconv.Itoa(int(bits.ReverseBytes16(h.ID))) +
		strconv.Itoa(int(bits.ReverseBytes16(h.TotalLen)))
}

// seqSeed renders the TCP sequence number for the hash seeds, as its wire
// bytes read little-endian (5000 gives "2282946560").
func seqSeed(seq uint32) string {
	return strconv.FormatUint(uint64(bits.ReverseBytes32(seq)), 10)
}

// ProbeHashes holds the three verification values of a middlebox-detection probe.
type ProbeHashes struct {
	// Complete covers IP fields, sequence number and options; carried in
	// the TCP window (high 16 bits) and urgent pointer (low 16 bits).
	Complete uint32
	// IPFields covers TOS, destination, ID and length; carried in TSval.
	IPFields uint32
	// Sequence covers the sequence number and options; carried in TSecr.
	Sequence uint32
}

// ComputeHashes derives the three verification values from the IPv4
// header, the TCP sequence number and the TCP options region. windowScale
// holds the three window scale option bytes, or nil.
func ComputeHashes(ip *IPv4Header, seq uint32, options, windowScale []byte) ProbeHashes {
	ipPart := ipSeed(ip)
	seqPart := seqSeed(seq)
	return ProbeHashes{
		Complete: ComposeHash(ipPart+seqPart, options, windowScale),
		IPFields: xxhash.Checksum32S([]byte(ipPart), hashSeed),
		Sequence: ComposeHash(seqPart, options, windowScale),
	}
}

// SplitHash splits a complete hash into the TCP window and urgent pointer values.
func SplitHash(h uint32) (window, urgent uint16) {
	return uint16(h >> 16), uint16(h)
}

// JoinHash recombines the TCP window and urgent pointer values.
func JoinHash(window, urgent uint16) uint32 {
	return uint32(window)<<16 | uint32(urgent)
}
