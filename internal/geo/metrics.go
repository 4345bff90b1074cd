package geo

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricGeoLookups       = "geo_lookups_total"
	MetricGeoCache         = "geo_cache_requests_total"
	MetricGeoLookupLatency = "geo_lookup_duration_seconds"
)

// Lookup result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultError   = "error"
)

// Metrics contains Prometheus metrics for geolocation lookups.
type Metrics struct {
	lookups       *prometheus.CounterVec
	cache         *prometheus.CounterVec
	lookupLatency *prometheus.HistogramVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricGeoLookups,
				Help: "Total number of geolocation provider lookups by provider and result",
			},
			[]string{"provider", "result"},
		),
		cache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricGeoCache,
				Help: "Total number of geolocation cache reads by result",
			},
			[]string{"result"},
		),
		lookupLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricGeoLookupLatency,
				Help:    "Histogram of geolocation provider latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"provider"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveLookup records a provider lookup outcome and latency.
func (m *Metrics) ObserveLookup(provider, result string, seconds float64) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(provider, result).Inc()
	m.lookupLatency.WithLabelValues(provider).Observe(seconds)
}

// IncCache records a cache read outcome.
func (m *Metrics) IncCache(result string) {
	if m == nil {
		return
	}
	m.cache.WithLabelValues(result).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.lookups,
		m.cache,
		m.lookupLatency,
	}
}
