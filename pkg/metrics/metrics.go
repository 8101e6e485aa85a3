package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "photomaster"

// Stage names used for the stage duration histogram.
const (
	StageResolve   = "resolve"
	StageRemove    = "remove"
	StageNormalize = "normalize"
	StageComposite = "composite"
)

// Metrics holds the service collectors on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	items         *prometheus.CounterVec
	batches       *prometheus.CounterVec
	batchDuration prometheus.Histogram
	stageDuration *prometheus.HistogramVec
	requests      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Batch items by outcome.",
		}, []string{"result"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batch runs by outcome.",
		}, []string{"result"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of a batch run.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of one pipeline stage for one item.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		m.items,
		m.batches,
		m.batchDuration,
		m.stageDuration,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ItemProcessed() {
	if m == nil {
		return
	}
	m.items.WithLabelValues("processed").Inc()
}

func (m *Metrics) ItemSkipped() {
	if m == nil {
		return
	}
	m.items.WithLabelValues("skipped").Inc()
}

// BatchFinished records one batch run. err is the batch-level error, if any.
func (m *Metrics) BatchFinished(start time.Time, err error) {
	if m == nil {
		return
	}
	result := "completed"
	if err != nil {
		result = "failed"
	}
	m.batches.WithLabelValues(result).Inc()
	m.batchDuration.Observe(time.Since(start).Seconds())
}

// ObserveStage records the duration of one stage since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) Request(method, route string, status int) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
