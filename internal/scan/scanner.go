// Package scan drives a prober over a TTL range and a target list.
package scan

import (
	"context"
	"net/netip"

	"golang.org/x/time/rate"

	"github.com/KilimcininKorOglu/tracecraft/internal/logger"
)

// Prober sends one probe. probe.Engine implements it.
type Prober interface {
	Probe(dst netip.Addr, ttl uint8)
}

// Scanner sends one probe per target and TTL.
type Scanner struct {
	config  *Config
	prober  Prober
	limiter *rate.Limiter
}

// New creates a new Scanner with the given configuration.
func New(config *Config, prober Prober) (*Scanner, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	limit := rate.Inf
	if config.Rate > 0 {
		limit = rate.Limit(config.Rate)
	}
	return &Scanner{
		config:  config,
		prober:  prober,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Run probes every target at every TTL of the configured range, TTL by
// TTL, so that routers near the source see the probes of one round spread
// over all targets. It returns the number of probes sent; when ctx is
// cancelled the count so far is returned with ctx.Err().
func (s *Scanner) Run(ctx context.Context, targets []netip.Addr) (int, error) {
	if len(targets) == 0 {
		return 0, ErrNoTargets
	}
	log := logger.FromContext(ctx)
	log.Debug("Starting scan",
		"targets", len(targets),
		"first_ttl", s.config.FirstTTL,
		"max_ttl", s.config.MaxTTL,
		"rate", s.config.Rate,
	)

	sent := 0
	for ttl := int(s.config.FirstTTL); ttl <= int(s.config.MaxTTL); ttl++ {
		for _, dst := range targets {
			if err := s.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return sent, ctx.Err()
				}
				return sent, err
			}

			s.prober.Probe(dst, uint8(ttl))
			sent++
			if s.config.OnProbe != nil {
				s.config.OnProbe(dst, uint8(ttl))
			}
		}
	}

	log.Debug("Scan complete", "probes", sent)
	return sent, nil
}
