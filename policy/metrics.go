//go:build !nometrics

package policy

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps the policy specific Prometheus collectors.
type Metrics struct {
	sourceLatency *prometheus.HistogramVec
	sourceErrRate *prometheus.GaugeVec
	fusionLatency prometheus.Histogram
	circuitState  *prometheus.GaugeVec
	budgetHit     prometheus.Counter

	statsMu sync.Mutex
	stats   map[string]*sourceStats
}

type sourceStats struct {
	success int
	fail    int
}

// MetricsOption allows customizing the metrics registry.
type MetricsOption func(*metricsConfig)

type metricsConfig struct {
	registerer prometheus.Registerer
	buckets    []float64
}

// WithRegisterer overrides the default Prometheus registerer.
func WithRegisterer(r prometheus.Registerer) MetricsOption {
	return func(cfg *metricsConfig) {
		cfg.registerer = r
	}
}

// WithLatencyBuckets overrides the default latency histogram buckets (in ms).
func WithLatencyBuckets(buckets []float64) MetricsOption {
	return func(cfg *metricsConfig) {
		cfg.buckets = buckets
	}
}

// NewMetrics constructs Metrics and registers its Prometheus collectors.
// Registering twice against the same registerer reuses the existing
// collectors instead of failing.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := metricsConfig{
		registerer: prometheus.DefaultRegisterer,
		buckets: []float64{
			5, 10, 20, 50, 100, 200, 500, 1000, 2000,
		},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	sourceLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rankfuse_source_latency_ms",
		Help:    "Latency in milliseconds for each upstream ranking source.",
		Buckets: cfg.buckets,
	}, []string{"source"})

	sourceErrRate := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rankfuse_source_error_rate",
		Help: "Rolling error rate for each upstream ranking source.",
	}, []string{"source"})

	fusionLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rankfuse_fusion_latency_ms",
		Help:    "Latency in milliseconds for the full fan-out and fusion of one query.",
		Buckets: cfg.buckets,
	})

	circuitState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rankfuse_circuit_state",
		Help: "Circuit breaker state for each upstream ranking source. 0=closed, 1=half-open, 2=open.",
	}, []string{"source"})

	budgetHit := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rankfuse_budget_hit_total",
		Help: "Total number of fan-outs that exhausted the configured budget.",
	})

	return &Metrics{
		sourceLatency: registerHistogramVec(cfg.registerer, sourceLatency),
		sourceErrRate: registerGaugeVec(cfg.registerer, sourceErrRate),
		fusionLatency: registerHistogram(cfg.registerer, fusionLatency),
		circuitState:  registerGaugeVec(cfg.registerer, circuitState),
		budgetHit:     registerCounter(cfg.registerer, budgetHit),
		stats:         make(map[string]*sourceStats),
	}
}

// ObserveSource records the latency and error status for a source call.
func (m *Metrics) ObserveSource(source string, latency time.Duration, err error) {
	if m == nil {
		return
	}

	ms := float64(latency.Milliseconds())
	if ms < 0 {
		ms = 0
	}
	m.sourceLatency.WithLabelValues(source).Observe(ms)

	m.statsMu.Lock()
	st, ok := m.stats[source]
	if !ok {
		st = &sourceStats{}
		m.stats[source] = st
	}
	if err != nil {
		st.fail++
	} else {
		st.success++
	}
	total := st.fail + st.success
	var errRate float64
	if total > 0 {
		errRate = float64(st.fail) / float64(total)
	}
	m.statsMu.Unlock()

	m.sourceErrRate.WithLabelValues(source).Set(errRate)
}

// ObserveTotal records the end-to-end latency of one fused query.
func (m *Metrics) ObserveTotal(latency time.Duration) {
	if m == nil {
		return
	}
	ms := float64(latency.Milliseconds())
	if ms < 0 {
		ms = 0
	}
	m.fusionLatency.Observe(ms)
}

// IncBudgetHit increments the budget hit counter.
func (m *Metrics) IncBudgetHit() {
	if m == nil {
		return
	}
	m.budgetHit.Inc()
}

// SetCircuitState records the circuit breaker state for a source.
func (m *Metrics) SetCircuitState(source string, state CircuitState) {
	if m == nil {
		return
	}
	m.circuitState.WithLabelValues(source).Set(float64(state))
}

func registerHistogramVec(registerer prometheus.Registerer, collector *prometheus.HistogramVec) *prometheus.HistogramVec {
	if registerer == nil {
		return collector
	}
	if err := registerer.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing
			}
			return collector
		}
		panic(err)
	}
	return collector
}

func registerGaugeVec(registerer prometheus.Registerer, collector *prometheus.GaugeVec) *prometheus.GaugeVec {
	if registerer == nil {
		return collector
	}
	if err := registerer.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing
			}
			return collector
		}
		panic(err)
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, collector prometheus.Histogram) prometheus.Histogram {
	if registerer == nil {
		return collector
	}
	if err := registerer.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing
			}
			return collector
		}
		panic(err)
	}
	return collector
}

func registerCounter(registerer prometheus.Registerer, collector prometheus.Counter) prometheus.Counter {
	if registerer == nil {
		return collector
	}
	if err := registerer.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing
			}
			return collector
		}
		panic(err)
	}
	return collector
}
