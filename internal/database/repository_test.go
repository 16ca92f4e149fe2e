package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicestats/internal/models"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every :memory: connection is a separate database, so pin the pool to one.
	conn.SetMaxOpenConns(1)

	db, err := NewFromConn(conn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewRepository(db)
}

func openTestActivity(t *testing.T, repo *Repository, id, userID, channelID string, join time.Time) models.ActivityRecord {
	t.Helper()

	record := models.ActivityRecord{
		ID:        id,
		ServerID:  "server-1",
		UserID:    userID,
		Username:  "name-" + userID,
		ChannelID: channelID,
		JoinTime:  join,
	}
	require.NoError(t, repo.OpenActivity(context.Background(), record))
	return record
}

func TestRepository_OpenAndCloseActivity(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	join := time.Date(2025, 1, 13, 10, 0, 0, 0, time.UTC)

	openTestActivity(t, repo, "a1", "u1", "c1", join)

	t.Run("duplicate_active_record_rejected", func(t *testing.T) {
		err := repo.OpenActivity(ctx, models.ActivityRecord{
			ID: "a2", ServerID: "server-1", UserID: "u1", ChannelID: "c1", JoinTime: join,
		})
		assert.ErrorIs(t, err, ErrActivityAlreadyActive)
	})

	t.Run("active_lookup", func(t *testing.T) {
		active, err := repo.ActiveActivities(ctx, "server-1", "u1")
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "a1", active[0].ID)
		assert.True(t, active[0].IsActive)
		assert.Nil(t, active[0].LeaveTime)
		assert.Nil(t, active[0].Duration)
		assert.True(t, join.Equal(active[0].JoinTime))

		count, err := repo.CountActiveInChannel(ctx, "server-1", "c1")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("close", func(t *testing.T) {
		closed, err := repo.CloseActivity(ctx, "a1", join.Add(90*time.Minute))
		require.NoError(t, err)
		assert.False(t, closed.IsActive)
		require.NotNil(t, closed.Duration)
		assert.Equal(t, int64(5400), *closed.Duration)

		stored, err := repo.GetActivity(ctx, "a1")
		require.NoError(t, err)
		assert.False(t, stored.IsActive)
		require.NotNil(t, stored.LeaveTime)
		assert.True(t, join.Add(90*time.Minute).Equal(*stored.LeaveTime))
		assert.Equal(t, int64(5400), *stored.Duration)
	})

	t.Run("close_twice_fails", func(t *testing.T) {
		_, err := repo.CloseActivity(ctx, "a1", join.Add(2*time.Hour))
		assert.ErrorIs(t, err, ErrActivityNotFound)
	})

	t.Run("reopen_after_close", func(t *testing.T) {
		openTestActivity(t, repo, "a3", "u1", "c1", join.Add(3*time.Hour))
	})
}

func TestRepository_CloseActivityClampsNegativeDuration(t *testing.T) {
	repo := newTestRepository(t)
	join := time.Date(2025, 1, 13, 10, 0, 0, 0, time.UTC)
	openTestActivity(t, repo, "a1", "u1", "c1", join)

	closed, err := repo.CloseActivity(context.Background(), "a1", join.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(0), *closed.Duration)
}

func TestRepository_VoiceSessions(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 13, 10, 0, 0, 0, time.UTC)

	created, err := repo.OpenVoiceSession(ctx, models.VoiceSession{ID: "s1", ServerID: "server-1", ChannelID: "c1", StartTime: start})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.OpenVoiceSession(ctx, models.VoiceSession{ID: "s2", ServerID: "server-1", ChannelID: "c1", StartTime: start})
	require.NoError(t, err)
	assert.False(t, created, "second open session for the same channel must be rejected")

	active, err := repo.ActiveVoiceSession(ctx, "server-1", "c1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "s1", active.ID)

	require.NoError(t, repo.CloseVoiceSession(ctx, "server-1", "c1", start.Add(time.Hour)))

	active, err = repo.ActiveVoiceSession(ctx, "server-1", "c1")
	require.NoError(t, err)
	assert.Nil(t, active)

	created, err = repo.OpenVoiceSession(ctx, models.VoiceSession{ID: "s3", ServerID: "server-1", ChannelID: "c1", StartTime: start.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestRepository_CloseVoiceSessionKeepsOccupiedChannelOpen(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 13, 10, 0, 0, 0, time.UTC)

	created, err := repo.OpenVoiceSession(ctx, models.VoiceSession{ID: "s1", ServerID: "server-1", ChannelID: "c1", StartTime: start})
	require.NoError(t, err)
	require.True(t, created)
	openTestActivity(t, repo, "a1", "u2", "c1", start.Add(time.Minute))

	require.NoError(t, repo.CloseVoiceSession(ctx, "server-1", "c1", start.Add(time.Hour)))

	active, err := repo.ActiveVoiceSession(ctx, "server-1", "c1")
	require.NoError(t, err)
	require.NotNil(t, active, "a channel with an active record keeps its session")
	assert.Equal(t, "s1", active.ID)

	_, err = repo.CloseActivity(ctx, "a1", start.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, repo.CloseVoiceSession(ctx, "server-1", "c1", start.Add(time.Hour)))

	active, err = repo.ActiveVoiceSession(ctx, "server-1", "c1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestRepository_ActivitiesInWindow(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	from := time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	// Before the window.
	openTestActivity(t, repo, "before", "u1", "c1", from.Add(-2*time.Hour))
	_, err := repo.CloseActivity(ctx, "before", from.Add(-time.Hour))
	require.NoError(t, err)

	// Inside and closed.
	openTestActivity(t, repo, "inside", "u1", "c1", from.Add(time.Hour))
	_, err = repo.CloseActivity(ctx, "inside", from.Add(2*time.Hour))
	require.NoError(t, err)

	// Closes after the window ends.
	openTestActivity(t, repo, "overrun", "u2", "c1", to.Add(-time.Hour))
	_, err = repo.CloseActivity(ctx, "overrun", to.Add(time.Hour))
	require.NoError(t, err)

	// Still open.
	openTestActivity(t, repo, "open", "u3", "c2", to.Add(-time.Hour))

	// Starts after the window.
	openTestActivity(t, repo, "after", "u4", "c2", to.Add(time.Hour))

	records, err := repo.ActivitiesInWindow(ctx, "server-1", from, to)
	require.NoError(t, err)

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"inside", "open"}, ids)
}

func TestRepository_Pages(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("a%d", i)
		user := fmt.Sprintf("u%d", i%3)
		openTestActivity(t, repo, id, user, "c1", base.Add(time.Duration(i)*time.Hour))
		_, err := repo.CloseActivity(ctx, id, base.Add(time.Duration(i)*time.Hour+30*time.Minute))
		require.NoError(t, err)
	}
	openTestActivity(t, repo, "open", "u0", "c2", base.Add(10*time.Hour))

	var all []models.ActivityRecord
	for offset := 0; ; offset += 3 {
		page, err := repo.ClosedActivitiesPage(ctx, "server-1", 3, offset)
		require.NoError(t, err)
		all = append(all, page...)
		if len(page) < 3 {
			break
		}
	}
	require.Len(t, all, 7)
	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		ordered := prev.UserID < cur.UserID || (prev.UserID == cur.UserID && !cur.JoinTime.Before(prev.JoinTime))
		assert.True(t, ordered, "page order broken at %d", i)
	}

	page, err := repo.ActivitiesPage(ctx, "server-1", base, base.Add(24*time.Hour), 100, 0)
	require.NoError(t, err)
	assert.Len(t, page, 8)
}

func TestRepository_MergePeriodActivity(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC)

	merge := models.PeriodMerge{
		ServerID: "server-1", UserID: "u1", Username: "alice",
		PeriodType: models.PeriodWeek, PeriodKey: "2025-W03",
		Duration: 600, IsSessionStarter: true, ActivityID: "a1", UpdatedAt: now,
	}
	require.NoError(t, repo.MergePeriodActivity(ctx, merge))

	agg, err := repo.GetPeriodAggregate(ctx, "server-1", "u1", models.PeriodWeek, "2025-W03")
	require.NoError(t, err)
	assert.Equal(t, int64(600), agg.TotalDuration)
	assert.Equal(t, int64(1), agg.SessionCount)
	assert.Equal(t, int64(1), agg.StartedSessionCount)
	assert.Equal(t, int64(600), agg.LongestSession)
	assert.Equal(t, int64(600), agg.AverageSession)
	assert.Equal(t, "a1", agg.LastActivityID)

	merge.Duration = 300
	merge.IsSessionStarter = false
	merge.ActivityID = "a2"
	merge.Username = "alice2"
	require.NoError(t, repo.MergePeriodActivity(ctx, merge))

	agg, err = repo.GetPeriodAggregate(ctx, "server-1", "u1", models.PeriodWeek, "2025-W03")
	require.NoError(t, err)
	assert.Equal(t, int64(900), agg.TotalDuration)
	assert.Equal(t, int64(2), agg.SessionCount)
	assert.Equal(t, int64(1), agg.StartedSessionCount)
	assert.Equal(t, int64(600), agg.LongestSession)
	assert.Equal(t, int64(450), agg.AverageSession)
	assert.Equal(t, "a2", agg.LastActivityID)
	assert.Equal(t, "alice2", agg.Username)

	merge.Duration = 1200
	require.NoError(t, repo.MergePeriodActivity(ctx, merge))
	agg, err = repo.GetPeriodAggregate(ctx, "server-1", "u1", models.PeriodWeek, "2025-W03")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), agg.LongestSession)
	assert.Equal(t, int64(700), agg.AverageSession)

	_, err = repo.GetPeriodAggregate(ctx, "server-1", "u1", models.PeriodMonth, "2025-01")
	assert.ErrorIs(t, err, ErrAggregateNotFound)
}

func TestRepository_MergePeriodActivityConcurrent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	const n = 25
	const duration = 120

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- repo.MergePeriodActivity(ctx, models.PeriodMerge{
				ServerID: "server-1", UserID: "u1", Username: "alice",
				PeriodType: models.PeriodMonth, PeriodKey: "2025-01",
				Duration: duration, ActivityID: fmt.Sprintf("a%d", i), UpdatedAt: time.Now(),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	agg, err := repo.GetPeriodAggregate(ctx, "server-1", "u1", models.PeriodMonth, "2025-01")
	require.NoError(t, err)
	assert.Equal(t, int64(n*duration), agg.TotalDuration)
	assert.Equal(t, int64(n), agg.SessionCount)
	assert.Equal(t, int64(duration), agg.AverageSession)
}

func TestRepository_RankingQueries(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now()

	rows := []models.PeriodAggregate{
		{UserID: "u1", TotalDuration: 100, SessionCount: 5, StartedSessionCount: 0},
		{UserID: "u2", TotalDuration: 300, SessionCount: 1, StartedSessionCount: 1},
		{UserID: "u3", TotalDuration: 200, SessionCount: 3, StartedSessionCount: 2},
	}
	for _, row := range rows {
		row.ServerID = "server-1"
		row.Username = "name-" + row.UserID
		row.PeriodType = models.PeriodWeek
		row.PeriodKey = "2025-W03"
		row.UpdatedAt = now
		require.NoError(t, repo.ReplacePeriodAggregate(ctx, row))
	}
	// Another period must not leak in.
	require.NoError(t, repo.ReplacePeriodAggregate(ctx, models.PeriodAggregate{
		ServerID: "server-1", UserID: "u9", PeriodType: models.PeriodWeek, PeriodKey: "2025-W02",
		TotalDuration: 9999, UpdatedAt: now,
	}))

	top, err := repo.TopAggregates(ctx, "server-1", models.PeriodWeek, "2025-W03", models.MetricDuration, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "u2", top[0].UserID)
	assert.Equal(t, "u3", top[1].UserID)

	bySessions, err := repo.PeriodAggregates(ctx, "server-1", models.PeriodWeek, "2025-W03", models.MetricSessions)
	require.NoError(t, err)
	require.Len(t, bySessions, 3)
	assert.Equal(t, []string{"u1", "u3", "u2"}, []string{bySessions[0].UserID, bySessions[1].UserID, bySessions[2].UserID})

	totals, err := repo.PeriodTotals(ctx, "server-1", models.PeriodWeek, "2025-W03")
	require.NoError(t, err)
	assert.Equal(t, int64(3), totals.TotalParticipants)
	assert.Equal(t, int64(600), totals.TotalDuration)

	empty, err := repo.PeriodTotals(ctx, "server-1", models.PeriodWeek, "2030-W01")
	require.NoError(t, err)
	assert.Equal(t, models.PeriodTotals{}, empty)

	_, err = repo.TopAggregates(ctx, "server-1", models.PeriodWeek, "2025-W03", models.Metric("bogus"), 2)
	assert.Error(t, err)
}

func TestRepository_ReplacePeriodAggregateOverwrites(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	agg := models.PeriodAggregate{
		ServerID: "server-1", UserID: "u1", PeriodType: models.PeriodYear, PeriodKey: "2025",
		TotalDuration: 500, SessionCount: 2, UpdatedAt: time.Now(),
	}
	require.NoError(t, repo.ReplacePeriodAggregate(ctx, agg))
	require.NoError(t, repo.ReplacePeriodAggregate(ctx, agg))

	stored, err := repo.GetPeriodAggregate(ctx, "server-1", "u1", models.PeriodYear, "2025")
	require.NoError(t, err)
	assert.Equal(t, int64(500), stored.TotalDuration)
	assert.Equal(t, int64(2), stored.SessionCount)
}

func TestOpen_BadDriver(t *testing.T) {
	_, err := Open("no-such-driver", "", nil)
	require.Error(t, err)
	assert.NotNil(t, errors.Unwrap(err))
}
