package policy

import "errors"

var (
	// ErrCircuitOpen indicates the circuit breaker is currently open.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrRateLimited indicates the source call was rejected by the rate limiter.
	ErrRateLimited = errors.New("rate limited")
)
