package probe

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/KilimcininKorOglu/tracecraft/internal/logger"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	testSource = netip.MustParseAddr("198.51.100.7")
	testDest   = netip.MustParseAddr("192.0.2.1")
)

type fixedClock uint32

func (c fixedClock) Elapsed() uint32 { return uint32(c) }

type captureSender struct {
	pkts [][]byte
	dsts []netip.Addr
	err  error
}

func (s *captureSender) Send(pkt []byte, dst netip.Addr) error {
	if s.err != nil {
		return s.err
	}
	s.pkts = append(s.pkts, bytes.Clone(pkt))
	s.dsts = append(s.dsts, dst)
	return nil
}

func (s *captureSender) last(t *testing.T) []byte {
	t.Helper()
	if len(s.pkts) == 0 {
		t.Fatal("No packet was sent")
	}
	return s.pkts[len(s.pkts)-1]
}

type mapPublisher map[string]string

func (p mapPublisher) Set(key, value string) { p[key] = value }

// newTestEngine creates an engine that captures packets instead of sending them.
func newTestEngine(t *testing.T, config Config, elapsed uint32, opts ...Option) (*Engine, *captureSender) {
	t.Helper()
	if config.Source == "" {
		config.Source = testSource.String()
	}
	sender := &captureSender{}
	opts = append([]Option{
		WithClock(fixedClock(elapsed)),
		WithSender(sender),
		WithLogger(logger.Discard()),
		WithTraceWriter(io.Discard),
	}, opts...)

	e, err := New(config, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, sender
}

func decode(t *testing.T, pkt []byte) gopacket.Packet {
	t.Helper()
	p := gopacket.NewPacket(pkt, layers.LayerTypeIPv4, gopacket.Default)
	if err := p.ErrorLayer(); err != nil {
		t.Fatalf("Failed to decode packet: %v", err.Error())
	}
	return p
}

func ipLayer(t *testing.T, p gopacket.Packet) *layers.IPv4 {
	t.Helper()
	ip, ok := p.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		t.Fatal("Packet has no IPv4 layer")
	}
	return ip
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(Config{Type: Type(42), DryRun: true, Source: testSource.String()})
	if !errors.Is(err, ErrUnknownProbeType) {
		t.Errorf("New() error = %v, want ErrUnknownProbeType", err)
	}
}

func TestNew_BadSource(t *testing.T) {
	for _, src := range []string{"2001:db8::1", "not-an-address", "300.1.1.1"} {
		t.Run(src, func(t *testing.T) {
			_, err := New(Config{Type: TypeUDP, DryRun: true, Source: src}, WithLogger(logger.Discard()))
			if !errors.Is(err, ErrBadSourceAddress) {
				t.Errorf("New() error = %v, want ErrBadSourceAddress", err)
			}
		})
	}
}

func TestNew_InferSource(t *testing.T) {
	pub := mapPublisher{}
	e, err := New(Config{Type: TypeICMP, DryRun: true},
		WithLogger(logger.Discard()),
		WithPublisher(pub),
		WithSourceInference(func() (netip.Addr, error) { return netip.MustParseAddr("203.0.113.9"), nil }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer e.Close()

	if got := e.Source().String(); got != "203.0.113.9" {
		t.Errorf("Source() = %s, want 203.0.113.9", got)
	}
	if got := pub[SourceIPKey]; got != "203.0.113.9" {
		t.Errorf("Published %s = %q, want 203.0.113.9", SourceIPKey, got)
	}
}

func TestNew_InferSourceFails(t *testing.T) {
	boom := errors.New("no route")
	_, err := New(Config{Type: TypeICMP, DryRun: true},
		WithLogger(logger.Discard()),
		WithSourceInference(func() (netip.Addr, error) { return netip.Addr{}, boom }),
	)
	if !errors.Is(err, boom) {
		t.Errorf("New() error = %v, want %v", err, boom)
	}
}

func TestNew_PublishesConfiguredSource(t *testing.T) {
	pub := mapPublisher{}
	newTestEngine(t, Config{Type: TypeUDP}, 0, WithPublisher(pub))

	if got := pub[SourceIPKey]; got != testSource.String() {
		t.Errorf("Published %s = %q, want %s", SourceIPKey, got, testSource)
	}
}

func TestEngine_Ready(t *testing.T) {
	e, _ := newTestEngine(t, Config{Type: TypeUDP}, 0)

	select {
	case <-e.Ready():
	default:
		t.Error("Ready() is not closed after New")
	}
}

func TestEngine_ListenerWaitsForReady(t *testing.T) {
	started := make(chan struct{})
	listener := func(ready <-chan struct{}) {
		<-ready
		close(started)
	}
	newTestEngine(t, Config{Type: TypeUDP, Receive: true}, 0, WithListener(listener))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("Listener was not released by the readiness gate")
	}
}

func TestEngine_ListenerNotStarted(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"receive disabled", Config{Type: TypeUDP}},
		{"dry run", Config{Type: TypeUDP, Receive: true, DryRun: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			started := make(chan struct{})
			listener := func(ready <-chan struct{}) { close(started) }
			newTestEngine(t, tt.config, 0, WithListener(listener))

			select {
			case <-started:
				t.Error("Listener started unexpectedly")
			case <-time.After(50 * time.Millisecond):
			}
		})
	}
}

func TestEngine_IPIdentification(t *testing.T) {
	tests := []struct {
		name     string
		instance uint8
		ttl      uint8
		expected uint16
	}{
		{"instance zero", 0, 5, 0x0005},
		{"instance three", 3, 7, 0x0307},
		{"max values", 255, 255, 0xffff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, sender := newTestEngine(t, Config{Type: TypeICMP, Instance: tt.instance}, 1000)
			e.Probe(testDest, tt.ttl)

			ip := ipLayer(t, decode(t, sender.last(t)))
			if ip.Id != tt.expected {
				t.Errorf("IP ID = 0x%04x, want 0x%04x", ip.Id, tt.expected)
			}
			if ip.TTL != tt.ttl {
				t.Errorf("TTL = %d, want %d", ip.TTL, tt.ttl)
			}
			if !ip.SrcIP.Equal(net.IP(testSource.AsSlice())) || !ip.DstIP.Equal(net.IP(testDest.AsSlice())) {
				t.Errorf("Addresses = %s -> %s, want %s -> %s", ip.SrcIP, ip.DstIP, testSource, testDest)
			}
			if !ValidateChecksum(sender.last(t)[:IPv4HeaderLen]) {
				t.Error("IPv4 header checksum does not validate")
			}
		})
	}
}

func TestEngine_SendErrorIsCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	e, sender := newTestEngine(t, Config{Type: TypeUDP, Port: 33434}, 70000, WithRegisterer(reg))
	sender.err = errors.New("network unreachable")

	e.Probe(testDest, 3)

	if got := testutil.ToFloat64(e.metrics.failed.WithLabelValues("udp")); got != 1 {
		t.Errorf("send_errors_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(e.metrics.sent.WithLabelValues("udp")); got != 0 {
		t.Errorf("sent_total = %v, want 0", got)
	}
}

func TestEngine_SentIsCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	e, _ := newTestEngine(t, Config{Type: TypeTCPSYN, Port: 443}, 1, WithRegisterer(reg))

	for ttl := uint8(1); ttl <= 4; ttl++ {
		e.Probe(testDest, ttl)
	}

	if got := testutil.ToFloat64(e.metrics.sent.WithLabelValues("tcp")); got != 4 {
		t.Errorf("sent_total = %v, want 4", got)
	}
	if n, err := testutil.GatherAndCount(reg, "tracecraft_probe_sent_total"); err != nil || n != 1 {
		t.Errorf("GatherAndCount() = %d, %v, want 1 series", n, err)
	}
}

func TestEngine_DryRunCountsWithoutSender(t *testing.T) {
	e, err := New(Config{Type: TypeICMP, DryRun: true, Source: testSource.String()},
		WithLogger(logger.Discard()), WithClock(fixedClock(10)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer e.Close()

	e.Probe(testDest, 1)

	if got := testutil.ToFloat64(e.metrics.sent.WithLabelValues("icmp")); got != 1 {
		t.Errorf("sent_total = %v, want 1", got)
	}
}

func TestEngine_PacketTooLarge(t *testing.T) {
	e, sender := newTestEngine(t, Config{Type: TypeUDP, Port: 33434}, 0xffff0000)

	e.Probe(testDest, 1)

	if len(sender.pkts) != 0 {
		t.Errorf("Sent %d packets, want 0", len(sender.pkts))
	}
	if got := testutil.ToFloat64(e.metrics.failed.WithLabelValues("udp")); got != 1 {
		t.Errorf("send_errors_total = %v, want 1", got)
	}
}

func TestEngine_NonIPv4Destination(t *testing.T) {
	e, sender := newTestEngine(t, Config{Type: TypeICMP}, 0)

	e.Probe(netip.MustParseAddr("2001:db8::1"), 1)

	if len(sender.pkts) != 0 {
		t.Errorf("Sent %d packets, want 0", len(sender.pkts))
	}
}

func TestEngine_TraceLine(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected string
	}{
		{
			name:     "explicit source with instance",
			config:   Config{Type: TypeUDP, Port: 33434, Instance: 2, Verbosity: VerbosityDebug},
			expected: ">> UDP probe: 198.51.100.7 -> 192.0.2.1 ttl: 5 i=2 t=70000us\n",
		},
		{
			name:     "coarse clock",
			config:   Config{Type: TypeICMP, Coarse: true, Verbosity: VerbosityDebug},
			expected: ">> ICMP probe: 198.51.100.7 -> 192.0.2.1 ttl: 5 t=70000ms\n",
		},
		{
			name:     "verbosity too low",
			config:   Config{Type: TypeTCPACK, Port: 80, Verbosity: VerbosityHigh},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf strings.Builder
			e, _ := newTestEngine(t, tt.config, 70000, WithTraceWriter(&buf))
			e.Probe(testDest, 5)

			if got := buf.String(); got != tt.expected {
				t.Errorf("Trace output = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestEngine_TraceLineInferredSource(t *testing.T) {
	var buf strings.Builder
	e, err := New(Config{Type: TypeTCPSYN, Port: 80, Verbosity: VerbosityDebug, DryRun: true},
		WithLogger(logger.Discard()),
		WithClock(fixedClock(42)),
		WithTraceWriter(&buf),
		WithSourceInference(func() (netip.Addr, error) { return testSource, nil }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer e.Close()

	e.Probe(testDest, 9)

	if want := ">> TCP probe: 192.0.2.1 ttl: 9 t=42us\n"; buf.String() != want {
		t.Errorf("Trace output = %q, want %q", buf.String(), want)
	}
}

func TestEngine_ProbeString(t *testing.T) {
	e, sender := newTestEngine(t, Config{Type: TypeICMP}, 0)

	if err := e.ProbeString("192.0.2.1", 3); err != nil {
		t.Fatalf("ProbeString() error = %v", err)
	}
	if sender.dsts[0] != testDest {
		t.Errorf("Destination = %s, want %s", sender.dsts[0], testDest)
	}

	if err := e.ProbeString("2001:db8::1", 3); !errors.Is(err, ErrNotIPv4) {
		t.Errorf("ProbeString(IPv6) error = %v, want ErrNotIPv4", err)
	}
	if err := e.ProbeString("bogus", 3); err == nil {
		t.Error("ProbeString(bogus) expected error")
	}
	if len(sender.pkts) != 1 {
		t.Errorf("Sent %d packets, want 1", len(sender.pkts))
	}
}

func TestEngine_ProbeUint32(t *testing.T) {
	e, sender := newTestEngine(t, Config{Type: TypeICMP}, 0)

	e.ProbeUint32(0xc0000201, 3)

	if len(sender.dsts) != 1 || sender.dsts[0] != testDest {
		t.Errorf("Destinations = %v, want [%s]", sender.dsts, testDest)
	}
}

func TestEngine_ProbeAddr(t *testing.T) {
	e, sender := newTestEngine(t, Config{Type: TypeICMP}, 0)

	addrs := []net.Addr{
		&net.IPAddr{IP: net.ParseIP("192.0.2.1")},
		&net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 53},
		&net.TCPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 80},
	}
	for _, addr := range addrs {
		if err := e.ProbeAddr(addr, 2); err != nil {
			t.Errorf("ProbeAddr(%v) error = %v", addr, err)
		}
	}
	if len(sender.pkts) != len(addrs) {
		t.Fatalf("Sent %d packets, want %d", len(sender.pkts), len(addrs))
	}
	for _, dst := range sender.dsts {
		if dst != testDest {
			t.Errorf("Destination = %s, want %s", dst, testDest)
		}
	}

	if err := e.ProbeAddr(&net.UnixAddr{Name: "/tmp/sock"}, 2); err == nil {
		t.Error("ProbeAddr(UnixAddr) expected error")
	}
	if err := e.ProbeAddr(&net.UDPAddr{IP: net.ParseIP("2001:db8::1")}, 2); !errors.Is(err, ErrNotIPv4) {
		t.Errorf("ProbeAddr(IPv6) error = %v, want ErrNotIPv4", err)
	}
}

func TestEngine_BufferReused(t *testing.T) {
	e, sender := newTestEngine(t, Config{Type: TypeUDP, Port: 33434}, 0x20000)

	// A long probe followed by a short one must not leak bytes.
	e.Probe(testDest, 1)
	e.config.Type = TypeICMP
	e.Probe(testDest, 1)

	if len(sender.pkts[0]) != IPv4HeaderLen+UDPHeaderLen+4 {
		t.Errorf("UDP probe length = %d, want %d", len(sender.pkts[0]), IPv4HeaderLen+UDPHeaderLen+4)
	}
	if len(sender.pkts[1]) != IPv4HeaderLen+ICMPHeaderLen+2 {
		t.Errorf("ICMP probe length = %d, want %d", len(sender.pkts[1]), IPv4HeaderLen+ICMPHeaderLen+2)
	}
	if !ValidateChecksum(sender.pkts[1][IPv4HeaderLen:]) {
		t.Error("ICMP checksum does not validate")
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		input    string
		expected Type
		wantErr  bool
	}{
		{"udp", TypeUDP, false},
		{"ICMP", TypeICMP, false},
		{"icmp-reply", TypeICMPReply, false},
		{"icmp_reply", TypeICMPReply, false},
		{"tcp-syn", TypeTCPSYN, false},
		{"syn", TypeTCPSYN, false},
		{"tcp_ack", TypeTCPACK, false},
		{"tcp", TypeTCPACK, false},
		{"sctp", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseType(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got != tt.expected {
				t.Errorf("ParseType(%q) = %v, want %v", tt.input, got, tt.expected)
			}
			if err != nil && !errors.Is(err, ErrUnknownProbeType) {
				t.Errorf("ParseType(%q) error = %v, want ErrUnknownProbeType", tt.input, err)
			}
		})
	}
}

func TestType_String(t *testing.T) {
	for _, typ := range []Type{TypeUDP, TypeICMP, TypeICMPReply, TypeTCPSYN, TypeTCPACK} {
		parsed, err := ParseType(typ.String())
		if err != nil || parsed != typ {
			t.Errorf("ParseType(%q) = %v, %v, want %v", typ.String(), parsed, err, typ)
		}
	}
	if got := Type(99).String(); got != "unknown" {
		t.Errorf("Type(99).String() = %q, want unknown", got)
	}
}

type closeRecorder struct{ closed int }

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

func TestEngine_Close(t *testing.T) {
	e, _ := newTestEngine(t, Config{Type: TypeUDP, Port: 33434}, 1)
	rec := &closeRecorder{}
	e.closer = rec

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if rec.closed != 1 {
		t.Errorf("socket closed %d times, want 1", rec.closed)
	}
	if e.buf != nil {
		t.Error("Close() kept the packet buffer")
	}
}
