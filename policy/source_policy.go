package policy

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig bounds the steady request rate for one source. A zero
// RPS disables rate limiting.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// SourceConfig configures the per-source policy controls.
type SourceConfig struct {
	Name    string
	Timeout time.Duration
	Rate    RateLimitConfig
	Circuit CircuitConfig
}

// SourcePolicy wraps calls to one upstream source with a timeout, a
// rate limiter, and a circuit breaker.
type SourcePolicy struct {
	name    string
	timeout time.Duration
	limiter *rate.Limiter
	circuit *CircuitBreaker
	metrics *Metrics
}

// NewSourcePolicy constructs a SourcePolicy with the provided configuration.
func NewSourcePolicy(cfg SourceConfig, metrics *Metrics) (*SourcePolicy, error) {
	if cfg.Name == "" {
		return nil, errors.New("source name required")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("source timeout must be positive")
	}

	var limiter *rate.Limiter
	if cfg.Rate.RPS > 0 {
		burst := cfg.Rate.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate.RPS), burst)
	}

	return &SourcePolicy{
		name:    cfg.Name,
		timeout: cfg.Timeout,
		limiter: limiter,
		circuit: NewCircuitBreaker(cfg.Name, cfg.Circuit.withDefaults(), metrics),
		metrics: metrics,
	}, nil
}

// Name returns the source this policy guards.
func (s *SourcePolicy) Name() string {
	return s.name
}

// CircuitState reports the current breaker state for the source.
func (s *SourcePolicy) CircuitState() CircuitState {
	return s.circuit.State()
}

// Execute runs fn under the source timeout after passing the circuit
// breaker and the rate limiter. Rejected calls return ErrCircuitOpen or
// ErrRateLimited without invoking fn.
func (s *SourcePolicy) Execute(parent context.Context, fn func(context.Context) error) error {
	if parent == nil {
		parent = context.Background()
	}

	if !s.circuit.Allow(time.Now()) {
		s.metrics.ObserveSource(s.name, 0, ErrCircuitOpen)
		return ErrCircuitOpen
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.ObserveSource(s.name, 0, ErrRateLimited)
		return ErrRateLimited
	}

	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	s.metrics.ObserveSource(s.name, time.Since(start), err)

	s.circuit.Record(time.Now(), err == nil)
	return err
}
