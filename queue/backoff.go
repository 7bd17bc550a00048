package queue

import (
	"math/rand"
	"time"
)

// backoff computes the retry delay schedule: exponential doubling from an
// initial delay, capped at a maximum, with multiplicative jitter so that
// retries from many queued operations do not align.
type backoff struct {
	initial time.Duration
	max     time.Duration
	jitter  float64

	// random returns a value in [0,1). Injectable for deterministic tests.
	random func() float64
}

func newBackoff(initial, max time.Duration, jitter float64) *backoff {
	return &backoff{
		initial: initial,
		max:     max,
		jitter:  jitter,
		random:  rand.Float64,
	}
}

// base returns the pre-jitter delay for the given attempt count:
// min(max, initial * 2^attempts). Monotonically non-decreasing in attempts.
func (b *backoff) base(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}

	delay := b.initial
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= b.max {
			return b.max
		}
	}
	if delay > b.max {
		return b.max
	}
	return delay
}

// next returns the jittered delay for the given attempt count:
// base ± (jitter × base × random[-0.5,0.5]).
func (b *backoff) next(attempts int) time.Duration {
	base := b.base(attempts)
	if b.jitter <= 0 {
		return base
	}

	u := b.random() - 0.5
	jittered := float64(base) + b.jitter*float64(base)*u
	if jittered < 0 {
		return 0
	}
	return time.Duration(jittered)
}
