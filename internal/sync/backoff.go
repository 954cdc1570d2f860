package sync

import (
	"math/rand/v2"
	"time"
)

// BackoffDelay returns the delay before retry n without jitter:
// min(base * 2^n, maxDelay). It is non-decreasing in n and never exceeds
// maxDelay.
func BackoffDelay(base, maxDelay time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := base
	for i := 0; i < n && d < maxDelay; i++ {
		d *= 2
	}
	return min(d, maxDelay)
}

// jitter returns a random offset in [0, fraction*d).
func jitter(d time.Duration, fraction float64, rnd func() float64) time.Duration {
	if fraction <= 0 || d <= 0 {
		return 0
	}
	return time.Duration(float64(d) * fraction * rnd())
}

func (o *Orchestrator) retryDelay(n int) time.Duration {
	d := BackoffDelay(o.cfg.BaseDelay, o.cfg.MaxDelay, n)
	return d + jitter(d, o.cfg.JitterFraction, o.rand)
}

var defaultRand = rand.Float64
