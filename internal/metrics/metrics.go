// Package metrics holds the Prometheus collectors for build steps, launches,
// the in-process app and the artifact store cache.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cacheartifact "bootseq/internal/cache/artifact"
)

type Metrics struct {
	registry *prometheus.Registry

	stepDuration *prometheus.HistogramVec
	builds       *prometheus.CounterVec
	launches     *prometheus.CounterVec
	requests     *prometheus.CounterVec
}

// New returns collectors registered on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bootseq_build_step_duration_seconds",
			Help:    "Duration of build steps.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"step", "outcome"}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bootseq_builds_total",
			Help: "Builds by outcome (ok or the error kind).",
		}, []string{"outcome"}),
		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bootseq_launches_total",
			Help: "Launch attempts by mode and outcome.",
		}, []string{"mode", "outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bootseq_app_requests_total",
			Help: "Requests served by the in-process app.",
		}, []string{"route", "code"}),
	}
	reg.MustRegister(
		m.stepDuration, m.builds, m.launches, m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func outcome(err error, kind string) string {
	if err == nil {
		return "ok"
	}
	if kind == "" {
		return "error"
	}
	return kind
}

// ObserveStep records a build step. kind is the error kind name, if any.
func (m *Metrics) ObserveStep(step string, d time.Duration, err error, kind string) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step, outcome(err, kind)).Observe(d.Seconds())
}

func (m *Metrics) ObserveBuild(err error, kind string) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(outcome(err, kind)).Inc()
}

func (m *Metrics) ObserveLaunch(mode string, err error, kind string) {
	if m == nil {
		return
	}
	m.launches.WithLabelValues(mode, outcome(err, kind)).Inc()
}

func (m *Metrics) ObserveRequest(route, code string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, code).Inc()
}

// RegisterCache exports a CachedStore's counters.
func (m *Metrics) RegisterCache(store *cacheartifact.CachedStore) {
	if m == nil || store == nil {
		return
	}
	counter := func(name, help string, read func(cacheartifact.MetricsSnapshot) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "bootseq_store_cache_" + name + "_total",
			Help: help,
		}, func() float64 { return float64(read(store.Metrics())) })
	}
	m.registry.MustRegister(
		counter("blob_hits", "Object reads served from cache.", func(s cacheartifact.MetricsSnapshot) uint64 { return s.BlobHits }),
		counter("blob_misses", "Object reads that went to origin.", func(s cacheartifact.MetricsSnapshot) uint64 { return s.BlobMisses }),
		counter("list_hits", "List calls served from cache.", func(s cacheartifact.MetricsSnapshot) uint64 { return s.ListHits }),
		counter("list_misses", "List calls that went to origin.", func(s cacheartifact.MetricsSnapshot) uint64 { return s.ListMisses }),
		counter("origin_read_errors", "Failed origin reads.", func(s cacheartifact.MetricsSnapshot) uint64 { return s.OriginReadErr }),
		counter("origin_write_errors", "Failed origin writes.", func(s cacheartifact.MetricsSnapshot) uint64 { return s.OriginWriteErr }),
	)
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
