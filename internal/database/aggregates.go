package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"voicestats/internal/models"
)

// ErrAggregateNotFound is returned when no aggregate row exists for a key.
var ErrAggregateNotFound = errors.New("period aggregate not found")

// metricColumns whitelists the ORDER BY column per ranking metric.
var metricColumns = map[models.Metric]string{
	models.MetricDuration:        "total_duration",
	models.MetricSessions:        "session_count",
	models.MetricStartedSessions: "started_session_count",
}

func orderColumn(metric models.Metric) (string, error) {
	column, ok := metricColumns[metric]
	if !ok {
		return "", fmt.Errorf("unknown ranking metric %q", metric)
	}
	return column, nil
}

// MergePeriodActivity applies one closed activity to an aggregate row in a
// single atomic upsert. Concurrent merges on the same key never lose an increment.
func (r *Repository) MergePeriodActivity(ctx context.Context, merge models.PeriodMerge) error {
	started := 0
	if merge.IsSessionStarter {
		started = 1
	}

	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO period_aggregates (server_id, user_id, username, period_type, period_key,
			total_duration, session_count, started_session_count, longest_session,
			average_session, last_activity_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $6, $6, $8, $9)
		ON CONFLICT (server_id, user_id, period_type, period_key) DO UPDATE SET
			username = EXCLUDED.username,
			total_duration = period_aggregates.total_duration + EXCLUDED.total_duration,
			session_count = period_aggregates.session_count + 1,
			started_session_count = period_aggregates.started_session_count + EXCLUDED.started_session_count,
			longest_session = CASE
				WHEN EXCLUDED.longest_session > period_aggregates.longest_session THEN EXCLUDED.longest_session
				ELSE period_aggregates.longest_session
			END,
			average_session = (period_aggregates.total_duration + EXCLUDED.total_duration) / (period_aggregates.session_count + 1),
			last_activity_id = EXCLUDED.last_activity_id,
			updated_at = EXCLUDED.updated_at`,
		merge.ServerID, merge.UserID, merge.Username, string(merge.PeriodType), merge.PeriodKey,
		merge.Duration, started, merge.ActivityID, merge.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to merge %s aggregate %s: %w", merge.PeriodType, merge.PeriodKey, err)
	}
	return nil
}

// ReplacePeriodAggregate overwrites an aggregate row with recomputed values.
func (r *Repository) ReplacePeriodAggregate(ctx context.Context, aggregate models.PeriodAggregate) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO period_aggregates (server_id, user_id, username, period_type, period_key,
			total_duration, session_count, started_session_count, longest_session,
			average_session, last_activity_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (server_id, user_id, period_type, period_key) DO UPDATE SET
			username = EXCLUDED.username,
			total_duration = EXCLUDED.total_duration,
			session_count = EXCLUDED.session_count,
			started_session_count = EXCLUDED.started_session_count,
			longest_session = EXCLUDED.longest_session,
			average_session = EXCLUDED.average_session,
			last_activity_id = EXCLUDED.last_activity_id,
			updated_at = EXCLUDED.updated_at`,
		aggregate.ServerID, aggregate.UserID, aggregate.Username, string(aggregate.PeriodType), aggregate.PeriodKey,
		aggregate.TotalDuration, aggregate.SessionCount, aggregate.StartedSessionCount, aggregate.LongestSession,
		aggregate.AverageSession, aggregate.LastActivityID, aggregate.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to replace %s aggregate %s: %w", aggregate.PeriodType, aggregate.PeriodKey, err)
	}
	return nil
}

// GetPeriodAggregate loads one user's aggregate for a period.
func (r *Repository) GetPeriodAggregate(ctx context.Context, serverID, userID string, periodType models.PeriodType, periodKey string) (models.PeriodAggregate, error) {
	row := r.db.conn.QueryRowContext(ctx, `
		SELECT `+aggregateColumns+`
		FROM period_aggregates
		WHERE server_id = $1 AND user_id = $2 AND period_type = $3 AND period_key = $4`,
		serverID, userID, string(periodType), periodKey)
	aggregate, err := decodeAggregate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PeriodAggregate{}, ErrAggregateNotFound
	}
	return aggregate, err
}

// TopAggregates returns the first limit rows of a period ordered by metric, descending.
// Ties keep the store's natural row order.
func (r *Repository) TopAggregates(ctx context.Context, serverID string, periodType models.PeriodType, periodKey string, metric models.Metric, limit int) ([]models.PeriodAggregate, error) {
	column, err := orderColumn(metric)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT `+aggregateColumns+`
		FROM period_aggregates
		WHERE server_id = $1 AND period_type = $2 AND period_key = $3
		ORDER BY `+column+` DESC
		LIMIT $4`,
		serverID, string(periodType), periodKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top aggregates: %w", err)
	}
	return decodeAggregates(rows)
}

// PeriodAggregates returns every row of a period ordered by metric, descending.
func (r *Repository) PeriodAggregates(ctx context.Context, serverID string, periodType models.PeriodType, periodKey string, metric models.Metric) ([]models.PeriodAggregate, error) {
	column, err := orderColumn(metric)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT `+aggregateColumns+`
		FROM period_aggregates
		WHERE server_id = $1 AND period_type = $2 AND period_key = $3
		ORDER BY `+column+` DESC`,
		serverID, string(periodType), periodKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get period aggregates: %w", err)
	}
	return decodeAggregates(rows)
}

// PeriodTotals returns the distinct participant count and summed duration of a period.
func (r *Repository) PeriodTotals(ctx context.Context, serverID string, periodType models.PeriodType, periodKey string) (models.PeriodTotals, error) {
	var totals models.PeriodTotals
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT user_id), COALESCE(SUM(total_duration), 0)
		FROM period_aggregates
		WHERE server_id = $1 AND period_type = $2 AND period_key = $3`,
		serverID, string(periodType), periodKey).Scan(&totals.TotalParticipants, &totals.TotalDuration)
	if err != nil {
		return models.PeriodTotals{}, fmt.Errorf("failed to get period totals: %w", err)
	}
	return totals, nil
}
