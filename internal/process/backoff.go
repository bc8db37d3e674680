package process

import "time"

// backoffDelay returns the restart delay after the nth consecutive
// error: base doubled per error, capped at max. With the default 2s
// base and 32s cap this gives the 2s/4s/8s/16s/32s ladder.
func backoffDelay(base, max time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if base <= 0 {
		return max
	}
	// Shifting past 30 would overflow before the cap applies
	if n > 30 {
		return max
	}
	d := base << uint(n-1)
	if d > max || d <= 0 {
		return max
	}
	return d
}
