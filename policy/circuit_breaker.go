package policy

import (
	"sync"
	"time"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows all traffic.
	CircuitClosed CircuitState = iota
	// CircuitHalfOpen allows limited traffic to probe recovery.
	CircuitHalfOpen
	// CircuitOpen blocks all traffic.
	CircuitOpen
)

// String renders the state for logs and health payloads.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half_open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitConfig configures the circuit breaker behaviour.
type CircuitConfig struct {
	Window           time.Duration
	FailureThreshold float64
	MinSamples       int
	Cooldown         time.Duration
	HalfOpenProbes   int
}

func (cfg CircuitConfig) withDefaults() CircuitConfig {
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 0.5
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	return cfg
}

type sample struct {
	at time.Time
	ok bool
}

// CircuitBreaker tracks call outcomes over a rolling window and trips
// open when the failure rate crosses the configured threshold. After a
// cooldown it admits a limited number of probe calls; probe success
// closes the circuit again, probe failure reopens it.
type CircuitBreaker struct {
	cfg     CircuitConfig
	source  string
	metrics *Metrics

	mu        sync.Mutex
	state     CircuitState
	changedAt time.Time
	samples   []sample
	probes    int
	probeWins int
}

// NewCircuitBreaker constructs a breaker for one source in the closed state.
func NewCircuitBreaker(source string, cfg CircuitConfig, metrics *Metrics) *CircuitBreaker {
	cb := &CircuitBreaker{
		cfg:     cfg,
		source:  source,
		metrics: metrics,
		state:   CircuitClosed,
	}
	metrics.SetCircuitState(source, CircuitClosed)
	return cb
}

// Allow reports whether the circuit permits a call at the given time.
// In the open state it also performs the cooldown transition to
// half-open, so a true result there admits a probe.
func (c *CircuitBreaker) Allow(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CircuitOpen:
		if now.Sub(c.changedAt) < c.cfg.Cooldown {
			return false
		}
		c.transition(CircuitHalfOpen, now)
		c.probes = 1
		c.probeWins = 0
		return true
	case CircuitHalfOpen:
		if c.probes >= c.cfg.HalfOpenProbes {
			return false
		}
		c.probes++
		return true
	default:
		return true
	}
}

// Record registers the outcome of a call previously admitted by Allow.
func (c *CircuitBreaker) Record(now time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples = append(c.samples, sample{at: now, ok: ok})
	c.trim(now)

	switch c.state {
	case CircuitHalfOpen:
		if !ok {
			c.transition(CircuitOpen, now)
			return
		}
		c.probeWins++
		if c.probeWins >= c.cfg.HalfOpenProbes {
			c.transition(CircuitClosed, now)
		}
	case CircuitClosed:
		if len(c.samples) >= c.cfg.MinSamples && c.failureRate() >= c.cfg.FailureThreshold {
			c.transition(CircuitOpen, now)
		}
	}
}

// State returns the current state of the circuit breaker.
func (c *CircuitBreaker) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *CircuitBreaker) trim(now time.Time) {
	cutoff := now.Add(-c.cfg.Window)
	idx := 0
	for idx < len(c.samples) && c.samples[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		c.samples = c.samples[idx:]
	}
}

func (c *CircuitBreaker) failureRate() float64 {
	if len(c.samples) == 0 {
		return 0
	}
	failures := 0
	for _, s := range c.samples {
		if !s.ok {
			failures++
		}
	}
	return float64(failures) / float64(len(c.samples))
}

func (c *CircuitBreaker) transition(state CircuitState, now time.Time) {
	if c.state == state {
		return
	}
	c.state = state
	c.changedAt = now
	c.metrics.SetCircuitState(c.source, state)
}
