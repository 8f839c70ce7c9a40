// Package listen receives the ICMP messages elicited by probes.
package listen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/KilimcininKorOglu/tracecraft/internal/logger"
	"github.com/KilimcininKorOglu/tracecraft/internal/probe"
)

// readTimeout bounds each read so cancellation is noticed.
const readTimeout = 500 * time.Millisecond

// PacketConn is the subset of *icmp.PacketConn used by the listener.
type PacketConn interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Listener counts ICMP replies and checks quoted middlebox-detection probes.
type Listener struct {
	conn      PacketConn
	log       *slog.Logger
	replies   *prometheus.CounterVec
	mutations *prometheus.CounterVec
	verify    bool
	done      chan struct{}
}

// Option configures a Listener.
type Option func(*Listener)

// WithConn replaces the ICMP socket.
func WithConn(c PacketConn) Option {
	return func(l *Listener) { l.conn = c }
}

// WithLogger sets the listener logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Listener) { l.log = log }
}

// WithRegisterer registers the listener counters with r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(l *Listener) { r.MustRegister(l.replies, l.mutations) }
}

// WithVerification enables checking of quoted middlebox-detection probes.
func WithVerification(enabled bool) Option {
	return func(l *Listener) { l.verify = enabled }
}

// New creates a Listener. Unless a connection is given it opens an ICMP
// socket, which requires the same privileges as the raw sender.
func New(opts ...Option) (*Listener, error) {
	l := &Listener{
		log: logger.NewLogger(),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracecraft",
			Name:      "replies_total",
			Help:      "Number of ICMP messages received, by type.",
		}, []string{"type"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracecraft",
			Subsystem: "middlebox",
			Name:      "mutations_total",
			Help:      "Number of quoted probes whose verification hashes failed, by field group.",
		}, []string{"group"}),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.conn == nil {
		conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
		if err != nil {
			if errors.Is(err, os.ErrPermission) {
				return nil, fmt.Errorf("%w: %v", probe.ErrPermissionDenied, err)
			}
			return nil, fmt.Errorf("failed to open ICMP socket: %w", err)
		}
		l.conn = conn
	}
	return l, nil
}

// Func adapts Run to probe.WithListener. The listener stops when ctx is done.
func (l *Listener) Func(ctx context.Context) func(ready <-chan struct{}) {
	return func(ready <-chan struct{}) {
		if err := l.Run(ctx, ready); err != nil && !errors.Is(err, context.Canceled) {
			l.log.Error("Listener stopped", "error", err)
		}
	}
}

// Done is closed when Run returns.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Run waits until ready is closed, then reads ICMP messages until ctx is
// done or the connection fails.
func (l *Listener) Run(ctx context.Context, ready <-chan struct{}) error {
	defer close(l.done)

	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	l.log.Debug("Listener started")

	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		n, peer, err := l.conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return err
		}
		l.Handle(buf[:n], peer)
	}
}

// Handle processes one ICMP message read from peer.
func (l *Listener) Handle(b []byte, peer net.Addr) {
	msg, err := icmp.ParseMessage(probe.ProtocolICMP, b)
	if err != nil {
		l.log.Debug("Dropping unparsable ICMP message", "peer", peer, "error", err)
		return
	}
	typ, ok := msg.Type.(ipv4.ICMPType)
	if !ok {
		return
	}
	l.replies.WithLabelValues(typeLabel(typ)).Inc()

	var quote []byte
	switch body := msg.Body.(type) {
	case *icmp.TimeExceeded:
		quote = body.Data
	case *icmp.DstUnreach:
		quote = body.Data
	}
	l.log.Debug("Reply", "type", typeLabel(typ), "code", msg.Code, "peer", peer, "quote", len(quote))

	if l.verify && quote != nil {
		l.check(quote, peer)
	}
}

// check verifies a quoted middlebox-detection probe. Quotes too short to
// hold the TCP options are ignored.
func (l *Listener) check(quote []byte, peer net.Addr) {
	v, err := probe.Verify(quote)
	if err != nil {
		return
	}
	for _, group := range v.Mutated() {
		l.mutations.WithLabelValues(group).Inc()
	}
	if !v.Intact() {
		l.log.Info("Middlebox modification detected",
			"peer", peer,
			"mutated", v.Mutated(),
			"complete", v.Complete,
			"ip_fields", v.IPFields,
			"sequence", v.Sequence,
		)
	}
}

// Close closes the ICMP socket.
func (l *Listener) Close() error {
	return l.conn.Close()
}

func typeLabel(t ipv4.ICMPType) string {
	switch t {
	case ipv4.ICMPTypeEchoReply:
		return "echo-reply"
	case ipv4.ICMPTypeEcho:
		return "echo-request"
	case ipv4.ICMPTypeDestinationUnreachable:
		return "destination-unreachable"
	case ipv4.ICMPTypeTimeExceeded:
		return "time-exceeded"
	default:
		return "other"
	}
}
