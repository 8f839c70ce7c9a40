package probe

import (
	"testing"

	"github.com/google/gopacket/layers"
)

func TestICMPProbe(t *testing.T) {
	tests := []struct {
		name     string
		typ      Type
		elapsed  uint32
		icmpType uint8
		id       uint16
		seq      uint16
	}{
		{"echo request", TypeICMP, 131072, layers.ICMPv4TypeEchoRequest, 0, 2},
		{"echo reply", TypeICMPReply, 131072, layers.ICMPv4TypeEchoReply, 0, 2},
		{"split timestamp", TypeICMP, 0xdeadbeef, layers.ICMPv4TypeEchoRequest, 0xbeef, 0xdead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, sender := newTestEngine(t, Config{Type: tt.typ}, tt.elapsed)
			e.Probe(testDest, 8)
			pkt := sender.last(t)
			p := decode(t, pkt)

			ip := ipLayer(t, p)
			if ip.Protocol != layers.IPProtocolICMPv4 {
				t.Errorf("Protocol = %v, want ICMPv4", ip.Protocol)
			}
			if ip.Flags&layers.IPv4DontFragment != 0 {
				t.Error("Don't Fragment flag set on ICMP probe")
			}

			icmp, ok := p.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
			if !ok {
				t.Fatal("Packet has no ICMPv4 layer")
			}
			if icmp.TypeCode.Type() != tt.icmpType || icmp.TypeCode.Code() != 0 {
				t.Errorf("TypeCode = %v, want type %d code 0", icmp.TypeCode, tt.icmpType)
			}
			if icmp.Id != tt.id {
				t.Errorf("Identifier = 0x%04x, want 0x%04x", icmp.Id, tt.id)
			}
			if icmp.Seq != tt.seq {
				t.Errorf("Sequence = 0x%04x, want 0x%04x", icmp.Seq, tt.seq)
			}
			if icmp.Checksum != 0x3dfe {
				t.Errorf("Checksum = 0x%04x, want checksum of destination 0x3dfe", icmp.Checksum)
			}
			if !ValidateChecksum(pkt[IPv4HeaderLen:]) {
				t.Error("ICMP checksum does not validate")
			}
		})
	}
}

func TestICMPProbe_ChecksumPerDestination(t *testing.T) {
	e, sender := newTestEngine(t, Config{Type: TypeICMP}, 99)

	for _, dst := range []string{"192.0.2.1", "10.0.0.1", "203.0.113.200"} {
		if err := e.ProbeString(dst, 4); err != nil {
			t.Fatalf("ProbeString(%s) error = %v", dst, err)
		}
		pkt := sender.last(t)
		h, err := ParseICMPHeader(pkt[IPv4HeaderLen:])
		if err != nil {
			t.Fatalf("ParseICMPHeader() error = %v", err)
		}
		ip, _, _ := ParseIPv4Header(pkt)
		if want := craftedChecksumField(addrChecksum(ip.Dst)); h.Checksum != want {
			t.Errorf("%s: checksum = 0x%04x, want 0x%04x", dst, h.Checksum, want)
		}
		if !ValidateChecksum(pkt[IPv4HeaderLen:]) {
			t.Errorf("%s: ICMP checksum does not validate", dst)
		}
	}
}
