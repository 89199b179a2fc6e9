package render

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds render pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	cacheLookups   *prometheus.CounterVec
	rasterizations *prometheus.CounterVec
	duration       prometheus.Histogram
	pages          prometheus.Histogram
}

// NewMetrics registers the render collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "render_cache_lookups_total",
				Help: "Render cache lookups by result (hit, miss, stale).",
			},
			[]string{"result"},
		),
		rasterizations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "render_rasterizations_total",
				Help: "Document rasterization passes by result.",
			},
			[]string{"result"},
		),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "render_rasterization_duration_seconds",
			Help:    "Time spent converting a document into page images.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		pages: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "render_document_pages",
			Help:    "Pages produced per rasterization.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}

	for _, c := range []prometheus.Collector{m.cacheLookups, m.rasterizations, m.duration, m.pages} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) lookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) rasterized(start time.Time, pages int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.rasterizations.WithLabelValues("failure").Inc()
		return
	}
	m.rasterizations.WithLabelValues("success").Inc()
	m.duration.Observe(time.Since(start).Seconds())
	m.pages.Observe(float64(pages))
}
