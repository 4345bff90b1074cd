package storyview

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricSessionsBegun  = "story_view_sessions_begun_total"
	MetricCommits        = "story_view_commits_total"
	MetricConflicts      = "story_view_insert_conflicts_total"
	MetricTrackingErrors = "story_view_tracking_errors_total"
	MetricWatchTime      = "story_view_watch_time_seconds"
	MetricOpenPages      = "story_view_open_pages"
	MetricPagesSwept     = "story_view_pages_swept_total"
)

// Metrics contains Prometheus metrics for view tracking.
// All operations are thread-safe. A nil *Metrics is a no-op.
type Metrics struct {
	sessionsBegun  *prometheus.CounterVec
	commits        *prometheus.CounterVec
	conflicts      prometheus.Counter
	trackingErrors *prometheus.CounterVec
	watchTime      *prometheus.HistogramVec
	openPages      prometheus.Gauge
	pagesSwept     prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		sessionsBegun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSessionsBegun,
			Help: "Total number of view sessions begun by media type",
		}, []string{"media_type"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCommits,
			Help: "Total number of view session commits by outcome",
		}, []string{"outcome"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricConflicts,
			Help: "Total number of inserts that lost a unique-key race and were merged",
		}),
		trackingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTrackingErrors,
			Help: "Total number of skipped tracking operations by error kind",
		}, []string{"kind"}),
		watchTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricWatchTime,
			Help:    "Histogram of on-screen time per committed session in seconds",
			Buckets: []float64{0.5, 1, 1.2, 2, 3, 5, 10, 15, 30, 60},
		}, []string{"media_type"}),
		openPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricOpenPages,
			Help: "Number of playback pages currently tracked",
		}),
		pagesSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPagesSwept,
			Help: "Total number of idle pages closed by the sweeper",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncSessionsBegun increments the sessions begun counter.
func (m *Metrics) IncSessionsBegun(media MediaType) {
	if m == nil {
		return
	}
	m.sessionsBegun.WithLabelValues(string(media)).Inc()
}

// IncCommit increments the commit counter for outcome.
func (m *Metrics) IncCommit(outcome Outcome) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(string(outcome)).Inc()
}

// IncConflict increments the insert conflict counter.
func (m *Metrics) IncConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// IncTrackingError increments the tracking error counter for kind.
func (m *Metrics) IncTrackingError(kind ErrorKind) {
	if m == nil {
		return
	}
	m.trackingErrors.WithLabelValues(string(kind)).Inc()
}

// ObserveWatchTime records a session's on-screen time.
func (m *Metrics) ObserveWatchTime(media MediaType, seconds float64) {
	if m == nil {
		return
	}
	m.watchTime.WithLabelValues(string(media)).Observe(seconds)
}

// SetOpenPages sets the open pages gauge.
func (m *Metrics) SetOpenPages(n int) {
	if m == nil {
		return
	}
	m.openPages.Set(float64(n))
}

// AddPagesSwept adds n to the swept pages counter.
func (m *Metrics) AddPagesSwept(n int) {
	if m == nil {
		return
	}
	m.pagesSwept.Add(float64(n))
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.sessionsBegun,
		m.commits,
		m.conflicts,
		m.trackingErrors,
		m.watchTime,
		m.openPages,
		m.pagesSwept,
	}
}
