package conn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesUntilMax(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
		{64, time.Second},
		{-1, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoffLargeBaseStaysAtMax(t *testing.T) {
	base := time.Duration(1<<34 + 1)
	b := Backoff{Base: base, Max: time.Hour}
	assert.Equal(t, base, b.Delay(0))
	assert.Equal(t, base<<7, b.Delay(7))
	for _, attempt := range []int{8, 29, 30, 31, 40, 62, 63, 64, 1000} {
		assert.Equal(t, time.Hour, b.Delay(attempt), "attempt %d", attempt)
	}
}

func TestBackoffNeverExceedsMax(t *testing.T) {
	b := Backoff{Base: 500 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2}
	for attempt := range 100 {
		d := b.Delay(attempt)
		assert.LessOrEqual(t, d, b.Max, "attempt %d", attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}

func TestBackoffJitterRange(t *testing.T) {
	for _, r := range []float64{0, 0.25, 0.5, 0.75, 0.999} {
		b := Backoff{Base: time.Second, Max: time.Minute, Jitter: 0.2, rand: func() float64 { return r }}
		d := b.Delay(1)
		assert.GreaterOrEqual(t, d, 1600*time.Millisecond, "r=%v", r)
		assert.LessOrEqual(t, d, 2400*time.Millisecond, "r=%v", r)
	}

	// Jitter applied at the ceiling is clamped back down.
	b := Backoff{Base: time.Second, Max: 2 * time.Second, Jitter: 0.2, rand: func() float64 { return 0.999 }}
	assert.Equal(t, 2*time.Second, b.Delay(5))
}
