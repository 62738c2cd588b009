// Package metrics collects Prometheus metrics for indexing, retrieval,
// generation and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector owns its own registry, so several collectors can coexist in one
// process. All Record methods are no-ops on a nil Collector.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	retrievalsTotal   *prometheus.CounterVec
	retrievalDuration *prometheus.HistogramVec
	retrievalHits     prometheus.Histogram

	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec

	buildsTotal   *prometheus.CounterVec
	buildDuration prometheus.Histogram
	indexSize     prometheus.Gauge
	ready         prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a collector whose metrics are prefixed by namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.retrievalsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Total number of retrievals",
		},
		[]string{"strategy", "status"},
	)
	c.retrievalDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval duration in seconds, including the query embedding",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"strategy"},
	)
	c.retrievalHits = f.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_hits",
			Help:      "Number of documents returned per retrieval",
			Buckets:   prometheus.LinearBuckets(0, 2, 11),
		},
	)

	c.generationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Total number of answer generations",
		},
		[]string{"model", "status"},
	)
	c.generationDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Answer generation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	c.buildsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_builds_total",
			Help:      "Total number of index builds by mode and outcome",
		},
		[]string{"mode", "status"},
	)
	c.buildDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_build_duration_seconds",
			Help:      "Index build duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		},
	)
	c.indexSize = f.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_documents",
			Help:      "Number of documents in the served index",
		},
	)
	c.ready = f.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready",
			Help:      "1 once the index is built and queries are served",
		},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (c *Collector) RecordRetrieval(strategy string, err error, duration time.Duration, hits int) {
	if c == nil {
		return
	}
	c.retrievalsTotal.WithLabelValues(strategy, status(err)).Inc()
	c.retrievalDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	if err == nil {
		c.retrievalHits.Observe(float64(hits))
	}
}

func (c *Collector) RecordGeneration(model string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	c.generationsTotal.WithLabelValues(model, status(err)).Inc()
	c.generationDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordBuild records a finished index build. mode is "warm" or "cold".
func (c *Collector) RecordBuild(mode string, err error, duration time.Duration, documents int) {
	if c == nil {
		return
	}
	c.buildsTotal.WithLabelValues(mode, status(err)).Inc()
	c.buildDuration.Observe(duration.Seconds())
	if err == nil {
		c.indexSize.Set(float64(documents))
	}
}

func (c *Collector) SetReady(ready bool) {
	if c == nil {
		return
	}
	if ready {
		c.ready.Set(1)
		return
	}
	c.ready.Set(0)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
