package worker

import (
	"math/rand"
	"time"
)

// Backoff is a jittered exponential delay.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = 500 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 15 * time.Second
	}
	if b.Jitter <= 0 {
		b.Jitter = 0.2
	}
	return b
}

// Delay returns the wait before retry number retry (1-based).
func (b Backoff) Delay(retry int, rng *rand.Rand) time.Duration {
	b = b.withDefaults()
	d := b.Base
	for i := 1; i < retry; i++ {
		d *= 2
		if d > b.Max {
			d = b.Max
			break
		}
	}
	if rng != nil {
		r := (rng.Float64()*2 - 1) * b.Jitter
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}
