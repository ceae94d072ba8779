package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus holds the exported collectors. Each instance owns its registry so
// tests and multiple servers in one process never collide.
type Prometheus struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec
	idempotency     *prometheus.CounterVec
	scansTotal      *prometheus.CounterVec
}

// NewPrometheus creates and registers the qrcore collectors
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	p := &Prometheus{
		registry: reg,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qrcore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qrcore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		rateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qrcore_rate_limited_total",
				Help: "Total number of requests rejected by a rate limiter",
			},
			[]string{"limiter"},
		),
		idempotency: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qrcore_idempotency_total",
				Help: "Idempotency decisions by outcome",
			},
			[]string{"decision"},
		),
		scansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qrcore_scans_total",
				Help: "Recorded scans by attribution result",
			},
			[]string{"attributed"},
		),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Registry returns the underlying Prometheus registry
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// RecordHTTPRequest records metrics for an HTTP request
func (p *Prometheus) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	p.requestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	p.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordRateLimited counts a request rejected by the named limiter
func (p *Prometheus) RecordRateLimited(limiter string) {
	p.rateLimited.WithLabelValues(limiter).Inc()
}

// RecordIdempotency counts an idempotency decision
func (p *Prometheus) RecordIdempotency(decision string) {
	p.idempotency.WithLabelValues(decision).Inc()
}

// RecordScan counts a recorded scan
func (p *Prometheus) RecordScan(attributed bool) {
	p.scansTotal.WithLabelValues(strconv.FormatBool(attributed)).Inc()
}
