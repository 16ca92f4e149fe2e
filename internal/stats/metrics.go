package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricPeriodMerges       = "voicestats_period_merges_total"
	MetricRollupDuration     = "voicestats_rollup_duration_seconds"
	MetricRollupRecords      = "voicestats_rollup_records_total"
	MetricUnresolvedChannels = "voicestats_unresolved_channels_total"
	MetricQueries            = "voicestats_queries_total"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusInvalid = "invalid"
	StatusFailure = "failure"
)

// Metrics contains Prometheus metrics for the statistics engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	merges             *prometheus.CounterVec
	rollupDuration     *prometheus.HistogramVec
	rollupRecords      prometheus.Counter
	unresolvedChannels prometheus.Counter
	queries            *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		merges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPeriodMerges,
				Help: "Total number of period aggregate merges by period type and status",
			},
			[]string{"period_type", "status"},
		),
		rollupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricRollupDuration,
				Help:    "Histogram of ledger rollup duration in seconds by job",
				Buckets: []float64{0.1, 0.5, 1.0, 5.0, 15.0, 60.0, 300.0, 900.0},
			},
			[]string{"job"},
		),
		rollupRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRollupRecords,
			Help: "Total number of ledger records read by rollups",
		}),
		unresolvedChannels: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricUnresolvedChannels,
			Help: "Total number of channel name lookups that fell back to a placeholder",
		}),
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricQueries,
				Help: "Total number of dashboard queries by query and status",
			},
			[]string{"query", "status"},
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

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.merges,
		m.rollupDuration,
		m.rollupRecords,
		m.unresolvedChannels,
		m.queries,
	}
}

// IncMerge counts one aggregate merge attempt.
func (m *Metrics) IncMerge(periodType, status string) {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(periodType, status).Inc()
}

// ObserveRollup records the duration of one rollup run.
func (m *Metrics) ObserveRollup(job string, seconds float64) {
	if m == nil {
		return
	}
	m.rollupDuration.WithLabelValues(job).Observe(seconds)
}

// AddRollupRecords counts ledger records read by a rollup.
func (m *Metrics) AddRollupRecords(n int) {
	if m == nil {
		return
	}
	m.rollupRecords.Add(float64(n))
}

// IncUnresolvedChannel counts a placeholder channel name.
func (m *Metrics) IncUnresolvedChannel() {
	if m == nil {
		return
	}
	m.unresolvedChannels.Inc()
}

// IncQuery counts one dashboard query outcome.
func (m *Metrics) IncQuery(query string, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	switch {
	case err == nil:
	case IsValidationError(err):
		status = StatusInvalid
	default:
		status = StatusFailure
	}
	m.queries.WithLabelValues(query, status).Inc()
}
