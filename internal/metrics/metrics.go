package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rotation outcomes.
const (
	OutcomeRotated  = "rotated"
	OutcomeNotFound = "not_found"
	OutcomeReplay   = "replay"
	OutcomeError    = "error"
)

// Metrics holds the service collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	rotationsTotal      *prometheus.CounterVec
	tokensPurgedTotal   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
		rotationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refresh_rotations_total",
				Help: "Refresh token rotations by outcome",
			},
			[]string{"outcome"},
		),
		tokensPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "refresh_tokens_purged_total",
				Help: "Expired refresh tokens deleted",
			},
		),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.rotationsTotal,
		m.tokensPurgedTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) Rotation(outcome string) {
	if m == nil {
		return
	}
	m.rotationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TokensPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokensPurgedTotal.Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
