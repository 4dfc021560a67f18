package pool

import (
	"math"
	"time"
)

// Backoff implements a three-parameter exponential schedule: the i-th
// reconnect waits factor * exponent_base^min(i, number_of_retries)
// milliseconds, and the pool keeps retrying at the capped interval
// indefinitely past that count.
type Backoff struct {
	NumberOfRetries int
	Factor          float64
	ExponentBase    float64
}

// DefaultBackoff mirrors the reconnect/retry defaults used throughout the
// package when a caller does not override them.
var DefaultBackoff = Backoff{NumberOfRetries: 5, Factor: 1, ExponentBase: 2}

// Delay returns the wait before the i-th reconnect attempt (0-indexed).
func (b Backoff) Delay(attempt int) time.Duration {
	capped := attempt
	if capped > b.NumberOfRetries {
		capped = b.NumberOfRetries
	}
	ms := b.Factor * math.Pow(b.ExponentBase, float64(capped))
	return time.Duration(ms) * time.Millisecond
}
