package stats

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getCounterVecValue(vec *prometheus.CounterVec, labels ...string) float64 {
	metric, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return -1
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		return -1
	}
	return m.GetCounter().GetValue()
}

func getCounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return -1
	}
	return m.GetCounter().GetValue()
}

func getHistogramVecSampleCount(vec *prometheus.HistogramVec, labels ...string) uint64 {
	observer, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	metric, ok := observer.(prometheus.Metric)
	if !ok {
		return 0
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		return 0
	}
	return m.GetHistogram().GetSampleCount()
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	m.IncMerge("week", StatusSuccess)
	m.ObserveRollup(JobUserTotals, 0.2)
	m.AddRollupRecords(3)
	m.IncUnresolvedChannel()
	m.IncQuery("ranking", nil)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, family := range families {
		names[family.GetName()] = true
	}
	for _, name := range []string{
		MetricPeriodMerges,
		MetricRollupDuration,
		MetricRollupRecords,
		MetricUnresolvedChannels,
		MetricQueries,
	} {
		assert.True(t, names[name], "metric %s not gathered", name)
	}

	assert.Error(t, NewMetrics().Register(reg), "duplicate registration should fail")
}

func TestMetrics_IncQuery(t *testing.T) {
	m := NewMetrics()

	m.IncQuery("timeline", nil)
	m.IncQuery("timeline", invalid("from", "is required"))
	m.IncQuery("timeline", errors.New("db down"))
	m.IncQuery("timeline", errors.New("db down again"))

	assert.Equal(t, 1.0, getCounterVecValue(m.queries, "timeline", StatusSuccess))
	assert.Equal(t, 1.0, getCounterVecValue(m.queries, "timeline", StatusInvalid))
	assert.Equal(t, 2.0, getCounterVecValue(m.queries, "timeline", StatusFailure))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncMerge("week", StatusSuccess)
		m.ObserveRollup(JobUserTotals, 1)
		m.AddRollupRecords(1)
		m.IncUnresolvedChannel()
		m.IncQuery("ranking", nil)
	})
}
