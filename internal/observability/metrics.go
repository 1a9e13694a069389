// Package observability provides Prometheus metrics for the ledger host and
// the fee aggregator.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeCommitted = "committed"
	OutcomeReverted  = "reverted"
	OutcomeConverted = "converted"
	OutcomeFailed    = "failed"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CallsTotal      *prometheus.CounterVec
	CallDuration    prometheus.Histogram
	RevertsTotal    *prometheus.CounterVec
	FeeEventsTotal  *prometheus.CounterVec
	BurnEventsTotal prometheus.Counter
	SweepTotal      *prometheus.CounterVec
	LastBlock       prometheus.Gauge
}

// NewMetrics registers every collector on a fresh registry so independent
// hosts can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "feeledger"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "calls_total",
			Help:      "Executed calls by outcome",
		}, []string{"outcome"}),
		CallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "call_duration_seconds",
			Help:      "Wall time spent executing a call",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		RevertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "reverts_total",
			Help:      "Reverted calls by failure category",
		}, []string{"category"}),
		FeeEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "fee_events_total",
			Help:      "Fee credits by token",
		}, []string{"token"}),
		BurnEventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "burn_events_total",
			Help:      "Transfers that destroyed supply",
		}),
		SweepTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "sweep_conversions_total",
			Help:      "Per-token conversion attempts by outcome",
		}, []string{"outcome"}),
		LastBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "last_block",
			Help:      "Block number of the last committed call",
		}),
	}
}

// Registry exposes the underlying registry (for tests and custom handlers).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCall records the outcome of one host call.
func (m *Metrics) ObserveCall(start time.Time, block uint64, category string, err error) {
	if m == nil {
		return
	}
	m.CallDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.CallsTotal.WithLabelValues(OutcomeReverted).Inc()
		if category == "" {
			category = "other"
		}
		m.RevertsTotal.WithLabelValues(category).Inc()
		return
	}
	m.CallsTotal.WithLabelValues(OutcomeCommitted).Inc()
	m.LastBlock.Set(float64(block))
}

// FeeGathered counts one fee credit for token.
func (m *Metrics) FeeGathered(token string) {
	if m == nil {
		return
	}
	m.FeeEventsTotal.WithLabelValues(token).Inc()
}

// Burned counts one burning transfer.
func (m *Metrics) Burned() {
	if m == nil {
		return
	}
	m.BurnEventsTotal.Inc()
}

// Swept counts one per-token sweep attempt.
func (m *Metrics) Swept(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.SweepTotal.WithLabelValues(OutcomeConverted).Inc()
		return
	}
	m.SweepTotal.WithLabelValues(OutcomeFailed).Inc()
}
