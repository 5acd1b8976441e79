package channels

import "time"

// nextBackoff doubles the current reconnect delay up to max. The first call
// should pass zero to get min.
func nextBackoff(current, min, max time.Duration) time.Duration {
	if current <= 0 {
		return min
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}
