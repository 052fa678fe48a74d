package retry

import (
	"math/rand/v2"
	"time"
)

// JitterFactor is the uniform jitter applied around the exponential delay.
const JitterFactor = 0.25

// ExponentialDelay returns min(base * 2^attempt, max) for a 0-indexed attempt.
func ExponentialDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 || base <= 0 {
		return 0
	}

	delay := base
	for range attempt {
		delay *= 2
		if delay >= max || delay <= 0 {
			return max
		}
	}

	return min(delay, max)
}

// Backoff returns the jittered delay for a 0-indexed attempt.
// The result always lies in [0.75, 1.25] * ExponentialDelay(attempt, base, max).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	d := float64(ExponentialDelay(attempt, base, max))
	factor := 1 + (rand.Float64()*2-1)*JitterFactor
	return time.Duration(d * factor)
}
