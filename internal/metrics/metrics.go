// Package metrics exposes Prometheus metrics for uploads, conversions and
// HTTP requests. Metrics implements core.Observer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "csv2json"

// Metrics holds the application collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	UploadsTotal        *prometheus.CounterVec
	UploadBytes         prometheus.Histogram
	UploadRows          prometheus.Histogram
	UploadDuration      prometheus.Histogram
	ConversionsTotal    *prometheus.CounterVec
	ConversionDuration  *prometheus.HistogramVec
	ConversionOutput    prometheus.Histogram
	ActiveSessions      prometheus.Gauge
	ActiveConversions   prometheus.Gauge
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upload",
				Name:      "total",
				Help:      "Total number of uploads by outcome (ok, failed, rejected)",
			},
			[]string{"status"},
		),

		UploadBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upload",
				Name:      "bytes",
				Help:      "Size of parsed uploads in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),

		UploadRows: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upload",
				Name:      "rows",
				Help:      "Number of data rows in parsed uploads",
				Buckets:   prometheus.ExponentialBuckets(10, 10, 7),
			},
		),

		UploadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upload",
				Name:      "duration_seconds",
				Help:      "Time spent parsing uploads in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		ConversionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "conversion",
				Name:      "total",
				Help:      "Total number of conversions by orientation and outcome",
			},
			[]string{"orientation", "status"},
		),

		ConversionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "conversion",
				Name:      "duration_seconds",
				Help:      "Conversion duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"orientation"},
		),

		ConversionOutput: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "conversion",
				Name:      "output_bytes",
				Help:      "Size of generated JSON documents in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),

		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "active",
				Help:      "Number of sessions held in memory",
			},
		),

		ActiveConversions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "conversion",
				Name:      "active",
				Help:      "Number of conversions holding a slot",
			},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "code"},
		),

		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		m.UploadsTotal,
		m.UploadBytes,
		m.UploadRows,
		m.UploadDuration,
		m.ConversionsTotal,
		m.ConversionDuration,
		m.ConversionOutput,
		m.ActiveSessions,
		m.ActiveConversions,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ObserveUpload records one upload attempt. Size and row histograms only
// see successful uploads.
func (m *Metrics) ObserveUpload(status string, bytes int64, rows int, elapsed time.Duration) {
	m.UploadsTotal.WithLabelValues(status).Inc()
	if status != "ok" {
		return
	}
	m.UploadBytes.Observe(float64(bytes))
	m.UploadRows.Observe(float64(rows))
	m.UploadDuration.Observe(elapsed.Seconds())
}

// ObserveConversion records a finished conversion.
func (m *Metrics) ObserveConversion(orientation, status string, rows, outputBytes int, elapsed time.Duration) {
	m.ConversionsTotal.WithLabelValues(orientation, status).Inc()
	m.ConversionDuration.WithLabelValues(orientation).Observe(elapsed.Seconds())
	if outputBytes > 0 {
		m.ConversionOutput.Observe(float64(outputBytes))
	}
}

// SetActiveSessions sets the session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}

// SetActiveConversions sets the conversion slot gauge.
func (m *Metrics) SetActiveConversions(n int) {
	m.ActiveConversions.Set(float64(n))
}

// Middleware counts requests by chi route pattern so that IDs in the path
// do not create new series.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
