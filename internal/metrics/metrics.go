// Package metrics exposes Prometheus collectors for the ingestion pipeline:
// lifecycle transitions, dispatch outcomes, callback outcomes, search latency
// and live queue depth.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	transitionsTotal *prometheus.CounterVec
	dispatchesTotal  *prometheus.CounterVec
	callbacksTotal   *prometheus.CounterVec
	searchDuration   prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docingest_ingestion_transitions_total",
				Help: "Ingestion status transitions by target status",
			},
			[]string{"status"},
		),
		dispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docingest_dispatches_total",
				Help: "Dispatch attempts by outcome",
			},
			[]string{"outcome"},
		),
		callbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docingest_callbacks_total",
				Help: "Processing callbacks by outcome",
			},
			[]string{"outcome"},
		),
		searchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docingest_search_duration_seconds",
				Help:    "Relevance search latency",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	m.registry.MustRegister(
		m.transitionsTotal,
		m.dispatchesTotal,
		m.callbacksTotal,
		m.searchDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Register adds an extra collector, e.g. the queue depth collector.
func (m *Metrics) Register(collector prometheus.Collector) {
	if m == nil {
		return
	}
	m.registry.MustRegister(collector)
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The increment helpers are nil-safe so services can run without metrics.

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) Dispatch(outcome string) {
	if m == nil {
		return
	}
	m.dispatchesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Callback(outcome string) {
	if m == nil {
		return
	}
	m.callbacksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSearch(seconds float64) {
	if m == nil {
		return
	}
	m.searchDuration.Observe(seconds)
}
