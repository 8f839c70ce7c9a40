package scan

import "net/netip"

// Config holds the configuration for a scan.
type Config struct {
	FirstTTL uint8 // Starting TTL (default: 1)
	MaxTTL   uint8 // Last TTL probed (default: 16)

	// Rate limits probes per second (0 = unlimited)
	Rate int

	// OnProbe is called after each probe is handed to the prober
	OnProbe func(dst netip.Addr, ttl uint8)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		FirstTTL: 1,
		MaxTTL:   16,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxTTL < 1 {
		return ErrInvalidMaxTTL
	}
	if c.FirstTTL < 1 || c.FirstTTL > c.MaxTTL {
		return ErrInvalidFirstTTL
	}
	if c.Rate < 0 {
		return ErrInvalidRate
	}
	return nil
}

// Probes returns the number of probes a scan of n targets sends.
func (c *Config) Probes(n int) int {
	return n * (int(c.MaxTTL) - int(c.FirstTTL) + 1)
}
