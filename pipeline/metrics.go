package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the importer loop.
type Metrics struct {
	ItemsTotal   *prometheus.CounterVec
	PagesTotal   *prometheus.CounterVec
	ItemDuration *prometheus.HistogramVec
}

// NewMetrics constructs the importer metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrator_items_total",
			Help: "Items handled per entity and outcome.",
		},
		[]string{"entity", "outcome"},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrator_pages_total",
			Help: "Source pages fetched per entity.",
		},
		[]string{"entity"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "migrator_item_duration_seconds",
			Help:    "Time spent processing one item.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity"},
	)

	if reg != nil {
		reg.MustRegister(items, pages, duration)
	}

	return &Metrics{
		ItemsTotal:   items,
		PagesTotal:   pages,
		ItemDuration: duration,
	}
}

// IncItem counts one item outcome.
func (m *Metrics) IncItem(entity, outcome string) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(entity, outcome).Inc()
}

// IncPage counts one fetched page.
func (m *Metrics) IncPage(entity string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(entity).Inc()
}

// ObserveItem records the processing time of one item.
func (m *Metrics) ObserveItem(entity string, d time.Duration) {
	if m == nil {
		return
	}
	m.ItemDuration.WithLabelValues(entity).Observe(d.Seconds())
}
