package probe

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"

	"github.com/KilimcininKorOglu/tracecraft/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
)

// MaxPacketSize is the size of the reusable outgoing packet buffer.
const MaxPacketSize = 65535

// Engine builds and sends probes. It owns a single packet buffer that every
// probe overwrites, so an Engine must only be used from one goroutine.
type Engine struct {
	config    Config
	src       netip.Addr
	buf       []byte
	clock     Clock
	sender    Sender
	closer    io.Closer
	log       *slog.Logger
	trace     io.Writer
	metrics   *metrics
	publisher Publisher
	listener  func(ready <-chan struct{})
	infer     func() (netip.Addr, error)

	ready     chan struct{}
	readyOnce sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the elapsed-time source.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithSender replaces the raw socket. No socket is opened when a sender is given.
func WithSender(s Sender) Option {
	return func(e *Engine) { e.sender = s }
}

// WithLogger sets the logger for diagnostics and send failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithTraceWriter sets where per-probe trace lines are written.
func WithTraceWriter(w io.Writer) Option {
	return func(e *Engine) { e.trace = w }
}

// WithRegisterer registers the engine counters with r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(e *Engine) { e.metrics = newMetrics(r) }
}

// WithPublisher sets where the resolved source address is published.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithListener attaches the reply listener. When receiving is enabled it is
// started during New and must wait on ready before processing replies.
func WithListener(run func(ready <-chan struct{})) Option {
	return func(e *Engine) { e.listener = run }
}

// WithSourceInference replaces the outbound address lookup used when no
// source address is configured.
func WithSourceInference(infer func() (netip.Addr, error)) Option {
	return func(e *Engine) { e.infer = infer }
}

// New creates an Engine. It resolves and publishes the source address,
// allocates the packet buffer, opens the raw socket unless running dry or
// given a Sender, and starts the attached listener behind the readiness gate.
func New(config Config, opts ...Option) (*Engine, error) {
	if !config.Type.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProbeType, config.Type)
	}

	e := &Engine{
		config: config,
		clock:  NewClock(config.Coarse),
		log:    logger.NewLogger(),
		trace:  os.Stdout,
		infer:  InferSourceIP,
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = newMetrics(nil)
	}

	src, err := e.resolveSource()
	if err != nil {
		return nil, err
	}
	e.src = src
	if e.publisher != nil {
		e.publisher.Set(SourceIPKey, src.String())
	}

	e.buf = make([]byte, MaxPacketSize)
	e.buf[0] = 4<<4 | IPv4HeaderLen>>2
	s := src.As4()
	copy(e.buf[12:16], s[:])

	if config.DryRun {
		e.markReady()
		return e, nil
	}

	if e.sender == nil {
		raw, err := newRawSender()
		if err != nil {
			return nil, fmt.Errorf("failed to open raw socket: %w", err)
		}
		e.sender = raw
		e.closer = raw
	}

	if config.Receive && e.listener != nil {
		go e.listener(e.ready)
	}
	e.markReady()

	return e, nil
}

// resolveSource returns the configured source address or infers the
// address of the outbound interface.
func (e *Engine) resolveSource() (netip.Addr, error) {
	if e.config.Source == "" {
		src, err := e.infer()
		if err != nil {
			return netip.Addr{}, fmt.Errorf("failed to infer source address: %w", err)
		}
		return src, nil
	}

	src, err := netip.ParseAddr(e.config.Source)
	if err != nil || !src.Unmap().Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrBadSourceAddress, e.config.Source)
	}
	e.log.Info("Using IP source", "source", src.Unmap())
	return src.Unmap(), nil
}

func (e *Engine) markReady() {
	e.readyOnce.Do(func() { close(e.ready) })
}

// Ready returns a channel that is closed once the engine can send probes.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// Source returns the resolved source address.
func (e *Engine) Source() netip.Addr {
	return e.src
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Probe sends one probe to dst with the given TTL. Failures are logged and
// counted but never returned: probes are fire-and-forget.
func (e *Engine) Probe(dst netip.Addr, ttl uint8) {
	dst = dst.Unmap()
	if !dst.Is4() {
		e.log.Error("Skipping probe", "dst", dst, "ttl", ttl, "error", ErrNotIPv4)
		return
	}

	ip := IPv4Header{
		TTL: ttl,
		ID:  uint16(ttl) + uint16(e.config.Instance)<<8,
		Src: e.src,
		Dst: dst,
	}
	elapsed := e.clock.Elapsed()

	var (
		n   int
		err error
	)
	switch e.config.Type {
	case TypeUDP:
		n, err = e.buildUDP(&ip, elapsed)
	case TypeICMP, TypeICMPReply:
		n, err = e.buildICMP(&ip, elapsed)
	case TypeTCPSYN, TypeTCPACK:
		n, err = e.buildTCP(&ip, elapsed)
	default:
		panic(fmt.Sprintf("bad probe type: %d", e.config.Type))
	}

	proto := e.config.Type.Protocol()
	if e.config.Verbosity > VerbosityHigh {
		fmt.Fprintf(e.trace, ">> %s probe: %s\n", protoLabel(proto), e.traceLine(dst, ttl, elapsed))
	}
	if err != nil {
		e.failed(proto, dst, ttl, elapsed, err)
		return
	}

	if e.sender != nil {
		if err := e.sender.Send(e.buf[:n], dst); err != nil {
			e.failed(proto, dst, ttl, elapsed, err)
			return
		}
	}
	e.metrics.sent.WithLabelValues(proto).Inc()
}

// ProbeString probes a dotted-quad address.
func (e *Engine) ProbeString(addr string, ttl uint8) error {
	dst, err := netip.ParseAddr(addr)
	if err != nil {
		return fmt.Errorf("invalid target %q: %w", addr, err)
	}
	if !dst.Unmap().Is4() {
		return fmt.Errorf("%w: %s", ErrNotIPv4, addr)
	}
	e.Probe(dst, ttl)
	return nil
}

// ProbeUint32 probes an address given as a 32-bit integer in network byte
// order, so 0xc0000201 is 192.0.2.1.
func (e *Engine) ProbeUint32(addr uint32, ttl uint8) {
	var a [4]byte
	binary.BigEndian.PutUint32(a[:], addr)
	e.Probe(netip.AddrFrom4(a), ttl)
}

// ProbeAddr probes the IP of a socket address (*net.IPAddr, *net.UDPAddr
// or *net.TCPAddr).
func (e *Engine) ProbeAddr(addr net.Addr, ttl uint8) error {
	var ip net.IP
	switch a := addr.(type) {
	case *net.IPAddr:
		ip = a.IP
	case *net.UDPAddr:
		ip = a.IP
	case *net.TCPAddr:
		ip = a.IP
	default:
		return fmt.Errorf("unsupported address type %T", addr)
	}
	dst, ok := netip.AddrFromSlice(ip)
	if !ok || !dst.Unmap().Is4() {
		return fmt.Errorf("%w: %v", ErrNotIPv4, addr)
	}
	e.Probe(dst, ttl)
	return nil
}

// failed logs and counts a probe that could not be built or sent.
func (e *Engine) failed(proto string, dst netip.Addr, ttl uint8, elapsed uint32, err error) {
	e.metrics.failed.WithLabelValues(proto).Inc()
	e.log.Error("Probe send failed",
		"protocol", proto,
		"dst", dst,
		"ttl", ttl,
		"elapsed", elapsed,
		"error", err,
	)
}

// traceLine renders "[src -> ]dst ttl: N[ i=I] t=E(us|ms)".
func (e *Engine) traceLine(dst netip.Addr, ttl uint8, elapsed uint32) string {
	line := ""
	if e.config.Source != "" {
		line = e.src.String() + " -> "
	}
	line += fmt.Sprintf("%s ttl: %d", dst, ttl)
	if e.config.Instance != 0 {
		line += fmt.Sprintf(" i=%d", e.config.Instance)
	}
	return line + fmt.Sprintf(" t=%d%s", elapsed, unitSuffix(e.config.Coarse))
}

func protoLabel(proto string) string {
	switch proto {
	case "udp":
		return "UDP"
	case "icmp":
		return "ICMP"
	case "tcp":
		return "TCP"
	default:
		return proto
	}
}

// writeIPv4 writes the IPv4 header with its checksum into the buffer.
func (e *Engine) writeIPv4(ip *IPv4Header) error {
	ip.Checksum = 0
	if err := ip.Marshal(e.buf); err != nil {
		return err
	}
	ip.Checksum = Checksum(e.buf[:IPv4HeaderLen])
	binary.BigEndian.PutUint16(e.buf[10:12], ip.Checksum)
	return nil
}

// Close releases the packet buffer and the raw socket.
func (e *Engine) Close() error {
	e.buf = nil
	if e.closer != nil {
		err := e.closer.Close()
		e.closer = nil
		return err
	}
	return nil
}
