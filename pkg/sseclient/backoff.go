package sseclient

import (
	"math/rand/v2"
	"time"
)

// Default reconnect backoff parameters.
const (
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultMaxJitter    = time.Second
)

// backoffDelay computes the wait before reconnect attempt n (zero-based):
// min(initial·2^n + jitter, max). The jitter spreads simultaneous
// reconnects from many clients after a server restart.
func backoffDelay(initial, max, maxJitter time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}

	d := max
	// The shift below overflows past attempt 62; anything beyond the cap is
	// clamped anyway.
	if attempt < 62 && initial<<attempt < max {
		d = initial << attempt
	}

	if maxJitter > 0 {
		d += rand.N(maxJitter)
	}
	if d > max {
		d = max
	}
	return d
}
