package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicestats/internal/models"
	"voicestats/internal/period"
)

func TestAggregator_RecordClosedActivity(t *testing.T) {
	store := &fakeMergeStore{}
	now := time.Date(2025, 1, 20, 1, 0, 0, 0, time.UTC)
	agg := NewAggregator(store, period.NewCalculator(time.UTC), Options{Now: fixedNow(now)})

	// Starts on the last day of W03 and ends in W04; only the join time counts.
	err := agg.RecordClosedActivity(context.Background(), models.ClosedActivity{
		ActivityID:       "a1",
		ServerID:         "guild",
		UserID:           "u1",
		Username:         "alice",
		JoinTime:         time.Date(2025, 1, 19, 23, 0, 0, 0, time.UTC),
		LeaveTime:        time.Date(2025, 1, 20, 0, 30, 0, 0, time.UTC),
		Duration:         5400,
		IsSessionStarter: true,
	})
	require.NoError(t, err)

	merges := store.byType()
	require.Len(t, merges, 3)
	assert.Equal(t, "2025-W03", merges[models.PeriodWeek].PeriodKey)
	assert.Equal(t, "2025-01", merges[models.PeriodMonth].PeriodKey)
	assert.Equal(t, "2025", merges[models.PeriodYear].PeriodKey)

	for _, m := range merges {
		assert.Equal(t, int64(5400), m.Duration)
		assert.True(t, m.IsSessionStarter)
		assert.Equal(t, "a1", m.ActivityID)
		assert.Equal(t, now, m.UpdatedAt)
	}
}

func TestAggregator_RecordClosedActivity_Timezone(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*60*60)
	store := &fakeMergeStore{}
	agg := NewAggregator(store, period.NewCalculator(loc), Options{})

	// 2024-12-31T20:00Z is already 2025-01-01 at UTC+7.
	err := agg.RecordClosedActivity(context.Background(), models.ClosedActivity{
		ActivityID: "a1",
		ServerID:   "guild",
		UserID:     "u1",
		JoinTime:   time.Date(2024, 12, 31, 20, 0, 0, 0, time.UTC),
		Duration:   60,
	})
	require.NoError(t, err)

	merges := store.byType()
	assert.Equal(t, "2025-01", merges[models.PeriodMonth].PeriodKey)
	assert.Equal(t, "2025", merges[models.PeriodYear].PeriodKey)
	assert.Equal(t, "2025-W01", merges[models.PeriodWeek].PeriodKey)
}

func TestAggregator_RecordClosedActivity_PartialFailure(t *testing.T) {
	boom := errors.New("connection reset")
	store := &fakeMergeStore{fail: map[models.PeriodType]error{models.PeriodMonth: boom}}
	metrics := NewMetrics()
	agg := NewAggregator(store, period.NewCalculator(time.UTC), Options{Metrics: metrics})

	err := agg.RecordClosedActivity(context.Background(), models.ClosedActivity{
		ActivityID: "a1",
		ServerID:   "guild",
		UserID:     "u1",
		JoinTime:   time.Date(2025, 1, 13, 10, 0, 0, 0, time.UTC),
		Duration:   60,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	merges := store.byType()
	assert.Contains(t, merges, models.PeriodWeek)
	assert.Contains(t, merges, models.PeriodYear)
	assert.NotContains(t, merges, models.PeriodMonth)

	assert.Equal(t, 1.0, getCounterVecValue(metrics.merges, "month", StatusFailure))
	assert.Equal(t, 1.0, getCounterVecValue(metrics.merges, "week", StatusSuccess))
}

func TestAggregator_RecordClosedActivity_Validation(t *testing.T) {
	store := &fakeMergeStore{}
	agg := NewAggregator(store, period.NewCalculator(time.UTC), Options{})
	join := time.Date(2025, 1, 13, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		activity models.ClosedActivity
		field    string
	}{
		{"missing server", models.ClosedActivity{ActivityID: "a", UserID: "u", JoinTime: join}, "serverId"},
		{"missing user", models.ClosedActivity{ActivityID: "a", ServerID: "s", JoinTime: join}, "userId"},
		{"missing id", models.ClosedActivity{ServerID: "s", UserID: "u", JoinTime: join}, "activityId"},
		{"missing join", models.ClosedActivity{ActivityID: "a", ServerID: "s", UserID: "u"}, "joinTime"},
		{"negative duration", models.ClosedActivity{ActivityID: "a", ServerID: "s", UserID: "u", JoinTime: join, Duration: -1}, "duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := agg.RecordClosedActivity(context.Background(), tt.activity)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
	assert.Empty(t, store.merges)
}
