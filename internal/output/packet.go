package output

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNotIPv4 indicates a packet without an IPv4 layer.
var ErrNotIPv4 = errors.New("packet has no IPv4 layer")

// Record is the decoded view of one probe.
type Record struct {
	Protocol string `json:"protocol"`
	Src      string `json:"src"`
	Dst      string `json:"dst"`
	TTL      uint8  `json:"ttl"`
	ID       uint16 `json:"id"`
	TOS      uint8  `json:"tos"`
	Length   uint16 `json:"length"`
	DF       bool   `json:"df,omitempty"`

	SrcPort  uint16 `json:"src_port,omitempty"`
	DstPort  uint16 `json:"dst_port,omitempty"`
	Checksum uint16 `json:"checksum"`

	// UDP
	PayloadLen int `json:"payload_len,omitempty"`

	// ICMP
	ICMPType uint8  `json:"icmp_type,omitempty"`
	ICMPID   uint16 `json:"icmp_id,omitempty"`
	ICMPSeq  uint16 `json:"icmp_seq,omitempty"`

	// TCP
	Flags   string   `json:"flags,omitempty"`
	Seq     uint32   `json:"seq,omitempty"`
	Ack     uint32   `json:"ack,omitempty"`
	Window  uint16   `json:"window,omitempty"`
	Urgent  uint16   `json:"urgent,omitempty"`
	Options []string `json:"options,omitempty"`
}

// Decode decodes an IPv4 probe packet.
func Decode(pkt []byte) (*Record, error) {
	p := gopacket.NewPacket(pkt, layers.LayerTypeIPv4, gopacket.Default)
	ip, ok := p.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		if e := p.ErrorLayer(); e != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotIPv4, e.Error())
		}
		return nil, ErrNotIPv4
	}

	r := &Record{
		Protocol: strings.ToLower(ip.Protocol.String()),
		Src:      ip.SrcIP.String(),
		Dst:      ip.DstIP.String(),
		TTL:      ip.TTL,
		ID:       ip.Id,
		TOS:      ip.TOS,
		Length:   ip.Length,
		DF:       ip.Flags&layers.IPv4DontFragment != 0,
	}

	switch l := p.TransportLayer().(type) {
	case *layers.UDP:
		r.SrcPort = uint16(l.SrcPort)
		r.DstPort = uint16(l.DstPort)
		r.Checksum = l.Checksum
		r.PayloadLen = len(l.Payload)
	case *layers.TCP:
		r.SrcPort = uint16(l.SrcPort)
		r.DstPort = uint16(l.DstPort)
		r.Checksum = l.Checksum
		r.Flags = tcpFlags(l)
		r.Seq = l.Seq
		r.Ack = l.Ack
		r.Window = l.Window
		r.Urgent = l.Urgent
		for _, opt := range l.Options {
			r.Options = append(r.Options, optionName(opt.OptionType))
		}
	}
	if icmp, ok := p.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4); ok {
		r.Protocol = "icmp"
		r.ICMPType = icmp.TypeCode.Type()
		r.ICMPID = icmp.Id
		r.ICMPSeq = icmp.Seq
		r.Checksum = icmp.Checksum
	}
	return r, nil
}

func tcpFlags(t *layers.TCP) string {
	var b strings.Builder
	for _, f := range []struct {
		set  bool
		name byte
	}{
		{t.SYN, 'S'}, {t.ACK, 'A'}, {t.FIN, 'F'}, {t.RST, 'R'}, {t.PSH, 'P'}, {t.URG, 'U'},
	} {
		if f.set {
			b.WriteByte(f.name)
		}
	}
	return b.String()
}

func optionName(kind layers.TCPOptionKind) string {
	switch kind {
	case layers.TCPOptionKindMSS:
		return "mss"
	case layers.TCPOptionKindSACKPermitted:
		return "sackok"
	case layers.TCPOptionKindTimestamps:
		return "ts"
	case layers.TCPOptionKindWindowScale:
		return "wscale"
	case layers.TCPOptionKindEndList:
		return "eol"
	case layers.TCPOptionKindNop:
		return "nop"
	case 30:
		return "mptcp"
	default:
		return fmt.Sprintf("opt-%d", uint8(kind))
	}
}
