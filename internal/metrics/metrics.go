// Package metrics exposes prometheus instruments for quoting, routing and
// swap execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hubroute"

// Metrics is safe to use through a nil pointer; every recorder becomes a no-op.
type Metrics struct {
	QuoteLatency   *prometheus.HistogramVec
	QuoteResults   *prometheus.CounterVec
	StepDuration   *prometheus.HistogramVec
	SwapOutcomes   *prometheus.CounterVec
	OwnerDecisions *prometheus.CounterVec
	CircuitOpen    prometheus.Gauge
	TelemetrySends *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QuoteLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_latency_seconds",
			Help:      "Hub quote round-trip latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"chain"}),
		QuoteResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_results_total",
			Help:      "Quote ticks by result",
		}, []string{"result"}), // ok, no_liquidity, error
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "swap_step_duration_seconds",
			Help:      "Duration of each swap step by outcome",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"step", "status"}),
		SwapOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swaps_total",
			Help:      "Hub swap runs by outcome",
		}, []string{"outcome"}),
		OwnerDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "owner_decisions_total",
			Help:      "Trade owner decisions",
		}, []string{"owner"}),
		CircuitOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_open",
			Help:      "1 while the hub circuit breaker is open",
		}),
		TelemetrySends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_sends_total",
			Help:      "Telemetry flushes by result",
		}, []string{"result"}), // ok, cancelled, error
	}
}

func (m *Metrics) ObserveQuote(chain string, d time.Duration, result string) {
	if m == nil {
		return
	}
	if result == "ok" {
		m.QuoteLatency.WithLabelValues(chain).Observe(d.Seconds())
	}
	m.QuoteResults.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveStep(step, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step, status).Observe(d.Seconds())
}

func (m *Metrics) SwapOutcome(outcome string) {
	if m == nil {
		return
	}
	m.SwapOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OwnerDecision(owner string) {
	if m == nil {
		return
	}
	if owner == "" {
		owner = "undecided"
	}
	m.OwnerDecisions.WithLabelValues(owner).Inc()
}

func (m *Metrics) SetCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitOpen.Set(1)
		return
	}
	m.CircuitOpen.Set(0)
}

func (m *Metrics) TelemetrySend(result string) {
	if m == nil {
		return
	}
	m.TelemetrySends.WithLabelValues(result).Inc()
}
