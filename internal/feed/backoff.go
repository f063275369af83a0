package feed

import "time"

// backoffDelay returns min(base*2^attempt, maxDelay).
func backoffDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	d := base
	for range attempt {
		if d >= maxDelay {
			break
		}
		d = nextBackoff(d, maxDelay)
	}
	return min(d, maxDelay)
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
