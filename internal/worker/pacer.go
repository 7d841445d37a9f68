package worker

import "golang.org/x/time/rate"

// NewPacer returns a token bucket allowing sendsPerSecond sends with no
// burst, so consecutive sends are spaced 1/sendsPerSecond apart.
func NewPacer(sendsPerSecond float64) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(sendsPerSecond), 1)
}
