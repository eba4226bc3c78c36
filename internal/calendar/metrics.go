package calendar

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the calendar collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	fetches       *prometheus.CounterVec
	lookups       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	entries       prometheus.GaugeFunc
}

// NewMetrics registers the calendar collectors on reg. entries reports the
// current number of cached windows when scraped; it may be nil.
func NewMetrics(reg prometheus.Registerer, entries func() float64) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupcal",
			Subsystem: "calendar",
			Name:      "fetch_total",
			Help:      "Upstream feed fetches by result (ok, error).",
		}, []string{"result"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupcal",
			Subsystem: "calendar",
			Name:      "cache_lookups_total",
			Help:      "Resolve calls by cache result (hit, miss, empty_window).",
		}, []string{"result"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "groupcal",
			Subsystem: "calendar",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching, parsing and expanding the feed.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
	}
	collectors := []prometheus.Collector{m.fetches, m.lookups, m.fetchDuration}
	if entries != nil {
		m.entries = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "groupcal",
			Subsystem: "calendar",
			Name:      "cache_entries",
			Help:      "Cached windows currently held in memory.",
		}, entries)
		collectors = append(collectors, m.entries)
	}
	reg.MustRegister(collectors...)
	return m
}

func (m *Metrics) fetch(result string, seconds float64) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
	m.fetchDuration.Observe(seconds)
}

func (m *Metrics) lookup(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}
