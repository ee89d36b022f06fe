// Package observability provides Prometheus metrics for the swap pipeline.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline metrics. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Swap metrics
	SwapAttempts  *prometheus.CounterVec
	SwapOutcomes  *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	Approvals     *prometheus.CounterVec

	// Ledger metrics
	LedgerApplies     *prometheus.CounterVec
	LedgerDivergences *prometheus.CounterVec

	// Price source metrics
	PriceFetches *prometheus.CounterVec
}

// NewMetrics registers every metric on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "ammswap"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SwapAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "attempts_total",
			Help:      "Total number of swap attempts by pair and side",
		}, []string{"pair", "side"}),
		SwapOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "outcomes_total",
			Help:      "Swap attempts by final result (settled or error kind)",
		}, []string{"result"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "stage_duration_seconds",
			Help:      "Time spent per swap stage",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 180},
		}, []string{"stage"}),
		Approvals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allowance",
			Name:      "approvals_total",
			Help:      "Approval transactions by result",
		}, []string{"result"}),
		LedgerApplies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "applies_total",
			Help:      "Ledger reconciliations by result",
		}, []string{"result"}),
		LedgerDivergences: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "divergences_total",
			Help:      "Recorded divergences between mirror and chain by reason",
		}, []string{"reason"}),
		PriceFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "price",
			Name:      "fetches_total",
			Help:      "Reference price fetches by source and result",
		}, []string{"source", "result"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) RecordAttempt(pair, side string) {
	if m == nil {
		return
	}
	m.SwapAttempts.WithLabelValues(pair, side).Inc()
}

func (m *Metrics) RecordOutcome(result string) {
	if m == nil {
		return
	}
	m.SwapOutcomes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveStage(stage string, started time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}

func (m *Metrics) RecordApproval(result string) {
	if m == nil {
		return
	}
	m.Approvals.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordLedgerApply(result string) {
	if m == nil {
		return
	}
	m.LedgerApplies.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordDivergence(reason string) {
	if m == nil {
		return
	}
	m.LedgerDivergences.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordPriceFetch(source string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PriceFetches.WithLabelValues(source, result).Inc()
}
