package conn

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: min(Max, Base*2^attempt) with a
// symmetric random jitter of ±Jitter (a fraction), never exceeding Max.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64

	// rand returns a value in [0,1). Nil means math/rand/v2.
	rand func() float64
}

// Delay returns the wait before reconnect attempt number attempt (zero-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Compare against Max shifted down so Base is never shifted past it.
	d := b.Max
	if b.Base > 0 && attempt < 63 && b.Base <= b.Max>>attempt {
		d = b.Base << attempt
	}

	if b.Jitter > 0 {
		r := rand.Float64
		if b.rand != nil {
			r = b.rand
		}
		factor := 1 + b.Jitter*(2*r()-1)
		d = time.Duration(float64(d) * factor)
	}
	return max(0, min(d, b.Max))
}
