package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the API clients. The registry
// is shared with the importer and media metrics.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics constructs and registers all client metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrator_api_requests_total",
			Help: "Total HTTP requests issued per remote and method.",
		},
		[]string{"client", "method"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "migrator_api_request_duration_seconds",
			Help:    "HTTP request latency per remote.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"client"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrator_api_retries_total",
			Help: "Total number of retry attempts per remote.",
		},
		[]string{"client"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrator_api_errors_total",
			Help: "Total number of failed attempts by remote and error type.",
		},
		[]string{"client", "error_type"},
	)

	registry.MustRegister(requests, requestDuration, retries, errorsTotal)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(client, method string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(client, method).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(client string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(client).Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries(client string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(client).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(client, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(client, errorType).Inc()
}
