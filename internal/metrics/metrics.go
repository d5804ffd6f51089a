// Package metrics exposes Prometheus collectors for the answer pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	queriesTotal          *prometheus.CounterVec
	queryDurationSeconds  *prometheus.HistogramVec
	providerRequestsTotal *prometheus.CounterVec
	recordsLoaded         prometheus.Gauge
	reloadsTotal          *prometheus.CounterVec
	ingestJobsTotal       *prometheus.CounterVec
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bugbuster_queries_total",
				Help: "Total answered queries by composer state and content type",
			},
			[]string{"state", "content_type"},
		),
		queryDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bugbuster_query_duration_seconds",
				Help:    "Time spent classifying, retrieving and composing one answer",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"state"},
		),
		providerRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bugbuster_provider_requests_total",
				Help: "Total embedding and generation provider requests by provider and result",
			},
			[]string{"provider", "result"},
		),
		recordsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bugbuster_records_loaded",
				Help: "Number of records in the active snapshot",
			},
		),
		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bugbuster_reloads_total",
				Help: "Total snapshot (re)initialisations by result",
			},
			[]string{"result"},
		),
		ingestJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bugbuster_ingest_jobs_total",
				Help: "Total ingest jobs enqueued by type",
			},
			[]string{"type"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.queriesTotal,
		m.queryDurationSeconds,
		m.providerRequestsTotal,
		m.recordsLoaded,
		m.reloadsTotal,
		m.ingestJobsTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAnswer(state, contentType string, d time.Duration) {
	m.queriesTotal.WithLabelValues(state, contentType).Inc()
	m.queryDurationSeconds.WithLabelValues(state).Observe(d.Seconds())
}

func (m *Metrics) ObserveProvider(provider string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.providerRequestsTotal.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) ObserveReload(records int, err error) {
	if err != nil {
		m.reloadsTotal.WithLabelValues("error").Inc()
		return
	}
	m.reloadsTotal.WithLabelValues("ok").Inc()
	m.recordsLoaded.Set(float64(records))
}

func (m *Metrics) ObserveIngestJob(jobType string) {
	m.ingestJobsTotal.WithLabelValues(jobType).Inc()
}
