//go:build nometrics

package policy

import "time"

// Metrics is the no-op stand-in used when metrics are compiled out. All
// methods tolerate nil receivers.
type Metrics struct{}

type MetricsOption func(*metricsConfig)

type metricsConfig struct{}

func NewMetrics(...MetricsOption) *Metrics {
	return nil
}

func WithRegisterer(_ any) MetricsOption {
	return func(*metricsConfig) {}
}

func WithLatencyBuckets(_ []float64) MetricsOption {
	return func(*metricsConfig) {}
}

func (m *Metrics) ObserveSource(string, time.Duration, error) {}

func (m *Metrics) ObserveTotal(time.Duration) {}

func (m *Metrics) IncBudgetHit() {}

func (m *Metrics) SetCircuitState(string, CircuitState) {}
