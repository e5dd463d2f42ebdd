package embeddings

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds embedding gateway metrics.
type Metrics struct {
	duration  *prometheus.HistogramVec
	batchSize prometheus.Histogram
	errors    *prometheus.CounterVec
}

// NewMetrics creates embedding metrics and registers them with reg. A nil
// registerer yields unregistered (but usable) collectors, which keeps
// tests independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "islandd",
			Subsystem: "embedding",
			Name:      "request_duration_seconds",
			Help:      "Duration of embedding gateway requests by operation.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "islandd",
			Subsystem: "embedding",
			Name:      "batch_size",
			Help:      "Number of texts per embedding batch request.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "islandd",
			Subsystem: "embedding",
			Name:      "errors_total",
			Help:      "Total embedding gateway errors by operation.",
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(m.duration, m.batchSize, m.errors)
	}
	return m
}

// Record records one gateway request.
func (m *Metrics) Record(operation string, d time.Duration, batch int, err error) {
	m.duration.WithLabelValues(operation).Observe(d.Seconds())
	m.batchSize.Observe(float64(batch))
	if err != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}
