package probe

// Field groups a middlebox may have rewritten, as reported by Verdict.Mutated.
const (
	MutationIPFields   = "ip-fields"
	MutationSequence   = "sequence-or-options"
	MutationHashFields = "window-or-urgent"
)

// Verdict reports which verification hashes of a middlebox-detection probe
// still match the fields they cover.
type Verdict struct {
	// Complete is true if window:urgent matches the complete hash
	Complete bool
	// IPFields is true if TSval matches the IP-fields hash
	IPFields bool
	// Sequence is true if TSecr matches the sequence hash
	Sequence bool
}

// Intact reports whether every hash verified.
func (v Verdict) Intact() bool {
	return v.Complete && v.IPFields && v.Sequence
}

// Mutated names the field groups whose hash no longer verifies.
func (v Verdict) Mutated() []string {
	var m []string
	if !v.IPFields {
		m = append(m, MutationIPFields)
	}
	if !v.Sequence {
		m = append(m, MutationSequence)
	}
	if !v.Complete && v.IPFields && v.Sequence {
		m = append(m, MutationHashFields)
	}
	return m
}

// Verify recomputes the verification hashes of a middlebox-detection probe
// as seen by a receiver, typically the quote of an ICMP error. pkt must hold
// the IPv4 header and the complete TCP header including options.
func Verify(pkt []byte) (Verdict, error) {
	ip, ihl, err := ParseIPv4Header(pkt)
	if err != nil {
		return Verdict{}, err
	}
	if ip.Protocol != ProtocolTCP {
		return Verdict{}, ErrInvalidPacket
	}

	seg := pkt[ihl:]
	tcp, err := ParseTCPHeader(seg)
	if err != nil {
		return Verdict{}, err
	}
	if len(seg) < tcp.HeaderLen() {
		return Verdict{}, ErrShortBuffer
	}
	options := seg[TCPHeaderLen:tcp.HeaderLen()]

	tsval, tsecr, err := timestamps(options)
	if err != nil {
		return Verdict{}, err
	}
	ws, _ := option(options, TCPOptWindowScale, tcpOptLenWindowScale)

	h := ComputeHashes(&ip, tcp.Seq, options, ws)
	return Verdict{
		Complete: h.Complete == JoinHash(tcp.Window, tcp.Urgent),
		IPFields: h.IPFields == tsval,
		Sequence: h.Sequence == tsecr,
	}, nil
}
