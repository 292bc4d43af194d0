package connection

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Backoff defaults.
const (
	// BackoffBase is the base delay unit of the default policy.
	BackoffBase = 100 * time.Millisecond

	// DefaultMaxReconnectCounter caps the reconnect counter, bounding
	// the default policy at 2^10 * 100ms = ~102s before jitter.
	DefaultMaxReconnectCounter = 10
)

// DelayFunc maps a reconnect counter to the delay before the next
// connect attempt. The counter is always the pre-increment value, in
// [0, max counter]. Implementations must be pure apart from randomness.
type DelayFunc func(counter int) time.Duration

// DefaultDelay is the default backoff policy: exponential with jitter,
// 2^counter * 100ms scaled by a uniform factor in [0.5, 1.0).
func DefaultDelay(counter int) time.Duration {
	if counter < 0 {
		counter = 0
	}
	base := BackoffBase * (1 << uint(counter))
	factor := 0.5 + 0.5*rand.Float64()
	return time.Duration(float64(base) * factor)
}

// FromExponential adapts a cenkalti/backoff exponential configuration
// into a DelayFunc. newBackOff must return a fresh configuration; the
// counter indexes into its delay sequence.
func FromExponential(newBackOff func() *backoff.ExponentialBackOff) DelayFunc {
	return func(counter int) time.Duration {
		b := newBackOff()
		b.Reset()
		d := b.NextBackOff()
		for i := 0; i < counter; i++ {
			d = b.NextBackOff()
		}
		return d
	}
}

// bumpCounter increments a reconnect counter, clamped to max.
func bumpCounter(c, max int) int {
	if c >= max {
		return max
	}
	return c + 1
}

// decayCounter decrements a reconnect counter, floored at zero.
func decayCounter(c int) int {
	if c <= 0 {
		return 0
	}
	return c - 1
}
