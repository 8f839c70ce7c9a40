package probe

import "time"

// Clock reports the time elapsed since probing began.
type Clock interface {
	// Elapsed returns the elapsed time units since the epoch, truncated to 32 bits.
	Elapsed() uint32
}

// MonotonicClock counts microseconds (or milliseconds when coarse) since it
// was created. It reads the monotonic clock reading carried by time.Time.
type MonotonicClock struct {
	start  time.Time
	coarse bool
}

// NewClock returns a MonotonicClock starting now.
func NewClock(coarse bool) *MonotonicClock {
	return &MonotonicClock{start: time.Now(), coarse: coarse}
}

// Elapsed implements Clock.
func (c *MonotonicClock) Elapsed() uint32 {
	d := time.Since(c.start)
	if c.coarse {
		return uint32(d.Milliseconds())
	}
	return uint32(d.Microseconds())
}

// unitSuffix returns the unit suffix used in trace lines.
func unitSuffix(coarse bool) string {
	if coarse {
		return "ms"
	}
	return "us"
}
